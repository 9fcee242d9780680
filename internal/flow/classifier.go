package flow

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/browser"
)

// urlRule maps a URL substring to a state. URL matching is the cheap first
// tier: no DOM traversal happens when a rule fires.
type urlRule struct {
	substr string
	state  SignupState
}

// Rules are ordered most-specific-first; the first hit wins.
var urlRules = []urlRule{
	{"/sign-up/password", StateSignupPassword},
	{"/sign-up", StateSignupFirstLevel},
	{"/magic-code", StateMagicCode},
	{"/email-verification", StateMagicCode},
	{"/phone-verification", StatePhoneVerification},
	{"/password", StatePassword},
	{"/sign-in", StateLogin},
	{"/login", StateLogin},
	{"checkout.stripe.com", StateStripePayment},
	{"/trial", StateProTrial},
	{"/onboarding/usage", StateUsageSelection},
	{"/agents", StateAgents},
	{"/dashboard", StateAgents},
}

// domProbe matches a state by element presence, optionally requiring a text
// fragment somewhere in the document. Probes run only when URL matching was
// inconclusive.
type domProbe struct {
	state        SignupState
	selector     string
	textContains string
}

var domProbes = []domProbe{
	{StateStripePayment, `input[name="cardNumber"]`, ""},
	{StateStripePayment, `form[action*="stripe"]`, ""},
	{StateBankVerification, `iframe[name="challengeFrame"]`, ""},
	{StateBankVerification, `iframe[src*="3ds"]`, ""},
	{StateMagicCode, `input[name="code"]`, "code"},
	{StatePhoneVerification, `input[type="tel"]`, ""},
	{StateSignupPassword, `input[name="password"]`, "sign up"},
	{StatePassword, `input[name="password"]`, ""},
	{StateUsageSelection, `[data-testid="usage-option"]`, ""},
	{StateProTrial, `button`, "start trial"},
	{StateAgents, `[data-testid="agent-list"]`, ""},
	{StateSignupFirstLevel, `input[name="email"]`, "create"},
	{StateLogin, `input[name="email"]`, ""},
}

// Classifier maps a tab observation to a SignupState. Classification is
// idempotent and side-effect-free; it never returns an error.
type Classifier struct {
	log          *slog.Logger
	probeTimeout time.Duration
}

// NewClassifier builds a classifier with the given per-probe snapshot budget.
func NewClassifier(log *slog.Logger, probeTimeout time.Duration) *Classifier {
	if log == nil {
		log = slog.Default()
	}
	if probeTimeout <= 0 {
		probeTimeout = 200 * time.Millisecond
	}

	return &Classifier{log: log, probeTimeout: probeTimeout}
}

// Classify inspects the tab and returns the matching state, or StateUnknown
// when nothing matches. Tier 1 checks the URL only; tier 2 parses a single
// DOM snapshot and walks the ordered probe list, first match wins.
func (c *Classifier) Classify(ctx context.Context, tab browser.Tab) SignupState {
	url, err := tab.URL(ctx)
	if err == nil {
		lower := strings.ToLower(url)
		for _, rule := range urlRules {
			if strings.Contains(lower, rule.substr) {
				return rule.state
			}
		}
	}

	snapCtx, cancel := context.WithTimeout(ctx, c.probeTimeout*time.Duration(len(domProbes)))
	defer cancel()

	html, err := tab.HTML(snapCtx)
	if err != nil || html == "" {
		return StateUnknown
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return StateUnknown
	}

	pageText := strings.ToLower(doc.Text())

	for _, probe := range domProbes {
		if doc.Find(probe.selector).Length() == 0 {
			continue
		}
		if probe.textContains != "" && !strings.Contains(pageText, probe.textContains) {
			continue
		}
		return probe.state
	}

	return StateUnknown
}
