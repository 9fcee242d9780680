// Package mail retrieves signup verification codes from an inbox backend.
package mail

import (
	"context"
	"log/slog"
	"time"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/metrics"
)

// Message is one fetched inbox message.
type Message struct {
	From    string
	To      string
	Subject string
	Body    string
	Date    time.Time
}

// Backend lists candidate messages for a mailbox session. Implementations:
// POP3 protocol polling (with plus-address support) and the disposable
// mailbox web API.
type Backend interface {
	Fetch(ctx context.Context, session domain.MailboxSession) ([]Message, error)
}

// Reader polls a backend at a fixed interval until a qualifying verification
// code arrives or the retry budget is spent. It never blocks indefinitely.
type Reader struct {
	backend Backend
	cfg     config.MailConfig
	log     *slog.Logger
}

// NewReader builds a Reader over the configured backend.
func NewReader(backend Backend, cfg config.MailConfig, log *slog.Logger) *Reader {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 20
	}
	if cfg.StaleTolerance <= 0 {
		cfg.StaleTolerance = 30 * time.Second
	}

	return &Reader{backend: backend, cfg: cfg, log: log}
}

// GetCode polls for the signup code scoped to the session. Messages dated
// before the session start minus the stale tolerance are discarded so mail
// from an earlier attempt at the same address never matches. Returns
// ("", false) once the budget or timeout is exhausted.
func (r *Reader) GetCode(ctx context.Context, session domain.MailboxSession, timeout time.Duration) (string, bool) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cutoff := session.StartedAt.Add(-r.cfg.StaleTolerance)

	for attempt := 0; attempt < r.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			metrics.RecordCode("email", "cancelled")
			return "", false
		default:
		}

		messages, err := r.backend.Fetch(ctx, session)
		if err != nil {
			r.log.Debug("inbox fetch failed", "address", session.Address, "attempt", attempt, "error", err)
		}

		for _, msg := range messages {
			if !msg.Date.IsZero() && msg.Date.Before(cutoff) {
				continue
			}
			if !looksLikeVerification(msg) {
				continue
			}

			if code, ok := extractCode(msg.Body); ok {
				r.log.Info("verification code received",
					"address", session.Address,
					"attempt", attempt,
				)
				metrics.RecordCode("email", "ok")
				return code, true
			}
		}

		select {
		case <-ctx.Done():
			metrics.RecordCode("email", "cancelled")
			return "", false
		case <-time.After(r.cfg.PollInterval):
		}
	}

	r.log.Warn("verification code never arrived",
		"address", session.Address,
		"polls", r.cfg.MaxPolls,
	)
	metrics.RecordCode("email", "exhausted")
	return "", false
}
