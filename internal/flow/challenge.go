package flow

import (
	"context"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
)

// ChallengeKind identifies a family of in-page humanness checks.
type ChallengeKind string

const (
	ChallengeTurnstile ChallengeKind = "turnstile"
	ChallengeRecaptcha ChallengeKind = "recaptcha"
)

const (
	// settleWindow gives an inert widget time to self-pass before we decide
	// it needs interaction.
	settleWindow = 3 * time.Second
	// resolveWait bounds how long we wait for the response token after a click.
	resolveWait = 8 * time.Second
)

// ChallengeResolver detects and best-effort resolves humanness challenges.
// Resolution failure is never fatal; the flow continues and relies on the
// page to re-present or self-pass.
type ChallengeResolver struct {
	log *slog.Logger
	rnd *rand.Rand
}

// NewChallengeResolver constructs a resolver with its own jitter source.
func NewChallengeResolver(log *slog.Logger) *ChallengeResolver {
	if log == nil {
		log = slog.Default()
	}

	return &ChallengeResolver{
		log: log,
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

type challengeSignature struct {
	kind ChallengeKind
	// widget and response must both be present; a single marker is too
	// brittle across page revisions.
	widget   string
	response string
	// container is the element the cursor converges on.
	container string
}

var challengeSignatures = []challengeSignature{
	{
		kind:      ChallengeTurnstile,
		widget:    `iframe[src*="challenges.cloudflare.com"]`,
		response:  `input[name="cf-turnstile-response"]`,
		container: `iframe[src*="challenges.cloudflare.com"]`,
	},
	{
		kind:      ChallengeTurnstile,
		widget:    `div.cf-turnstile`,
		response:  `input[name="cf-turnstile-response"]`,
		container: `div.cf-turnstile`,
	},
	{
		kind:      ChallengeRecaptcha,
		widget:    `iframe[src*="recaptcha"]`,
		response:  `textarea[name="g-recaptcha-response"]`,
		container: `iframe[src*="recaptcha"]`,
	},
}

// Detect reports whether an active challenge requires interaction. A widget
// whose response token fills in on its own within the settle window is
// treated as inert and skipped.
func (r *ChallengeResolver) Detect(ctx context.Context, tab browser.Tab) (ChallengeKind, bool) {
	sig, ok := r.findSignature(ctx, tab)
	if !ok {
		return "", false
	}

	if r.responseFilled(ctx, tab, sig) {
		return "", false
	}

	select {
	case <-ctx.Done():
		return "", false
	case <-time.After(settleWindow):
	}

	if r.responseFilled(ctx, tab, sig) {
		r.log.Debug("challenge self-passed during settle window", "kind", sig.kind)
		return "", false
	}

	// Widget still present and unanswered after settling.
	if _, ok := r.findSignature(ctx, tab); !ok {
		return "", false
	}

	return sig.kind, true
}

// Resolve walks the cursor along a humanized trajectory into the widget and
// clicks. Returns whether the response token appeared afterwards.
func (r *ChallengeResolver) Resolve(ctx context.Context, tab browser.Tab, kind ChallengeKind) bool {
	var sig challengeSignature
	found := false
	for _, candidate := range challengeSignatures {
		if candidate.kind != kind {
			continue
		}
		if present, _ := tab.Exists(ctx, candidate.widget, 300*time.Millisecond); present {
			sig = candidate
			found = true
			break
		}
	}
	if !found {
		return false
	}

	rect, err := tab.Bounds(ctx, sig.container)
	if err != nil || rect.Width == 0 {
		return false
	}

	// The checkbox sits on the left edge of the widget, not at its center.
	targetX := rect.X + 28 + r.rnd.Float64()*6
	targetY := rect.Y + rect.Height/2 + (r.rnd.Float64()-0.5)*8

	if !r.walkCursor(ctx, tab, targetX, targetY) {
		return false
	}

	if err := tab.ClickAt(ctx, targetX, targetY); err != nil {
		r.log.Debug("challenge click failed", "kind", kind, "error", err)
		return false
	}

	deadline := time.Now().Add(resolveWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(500 * time.Millisecond):
		}

		if r.responseFilled(ctx, tab, sig) {
			return true
		}
	}

	return false
}

// walkCursor interpolates a multi-point path toward the target with jitter
// and human-paced delays.
func (r *ChallengeResolver) walkCursor(ctx context.Context, tab browser.Tab, targetX, targetY float64) bool {
	startX := targetX - 200 - r.rnd.Float64()*300
	startY := targetY - 150 - r.rnd.Float64()*200
	if startX < 0 {
		startX = r.rnd.Float64() * 50
	}
	if startY < 0 {
		startY = r.rnd.Float64() * 50
	}

	steps := 12 + r.rnd.Intn(8)
	for i := 1; i <= steps; i++ {
		progress := float64(i) / float64(steps)
		// ease-out so the pointer decelerates into the target
		eased := 1 - (1-progress)*(1-progress)

		jitter := (1 - progress) * 10
		x := startX + (targetX-startX)*eased + (r.rnd.Float64()-0.5)*jitter
		y := startY + (targetY-startY)*eased + (r.rnd.Float64()-0.5)*jitter

		if err := tab.MoveMouse(ctx, x, y); err != nil {
			return false
		}

		select {
		case <-ctx.Done():
			return false
		case <-time.After(time.Duration(15+r.rnd.Intn(40)) * time.Millisecond):
		}
	}

	return true
}

func (r *ChallengeResolver) findSignature(ctx context.Context, tab browser.Tab) (challengeSignature, bool) {
	html, err := tab.HTML(ctx)
	if err != nil || html == "" {
		return challengeSignature{}, false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return challengeSignature{}, false
	}

	for _, sig := range challengeSignatures {
		if doc.Find(sig.widget).Length() > 0 && doc.Find(sig.response).Length() > 0 {
			return sig, true
		}
	}

	return challengeSignature{}, false
}

func (r *ChallengeResolver) responseFilled(ctx context.Context, tab browser.Tab, sig challengeSignature) bool {
	html, err := tab.HTML(ctx)
	if err != nil || html == "" {
		return false
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}

	filled := false
	doc.Find(sig.response).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if value, ok := sel.Attr("value"); ok && value != "" {
			filled = true
			return false
		}
		if text := strings.TrimSpace(sel.Text()); text != "" {
			filled = true
			return false
		}
		return true
	})

	return filled
}
