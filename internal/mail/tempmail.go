package mail

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/jianxianglin808/MY-Cursor-sub001/internal/errors"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

// TempMailBackend reads a disposable mailbox over its web API. Disposable
// addresses are single-tenant, so no sub-address filtering is needed; the
// API already scopes messages to the mailbox.
type TempMailBackend struct {
	cfg     config.MailConfig
	client  *http.Client
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

var _ Backend = (*TempMailBackend)(nil)

// NewTempMailBackend builds a backend against the configured API base.
func NewTempMailBackend(cfg config.MailConfig, log *slog.Logger) *TempMailBackend {
	if log == nil {
		log = slog.Default()
	}

	return &TempMailBackend{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		breaker: apperrors.NewCircuitBreaker(),
		log:     log,
	}
}

type tempMailMessage struct {
	ID        string `json:"id"`
	From      string `json:"from"`
	Subject   string `json:"subject"`
	BodyText  string `json:"body_text"`
	CreatedAt int64  `json:"created_at"`
}

// Fetch lists the mailbox messages for the session address.
func (b *TempMailBackend) Fetch(ctx context.Context, session domain.MailboxSession) ([]Message, error) {
	endpoint := fmt.Sprintf(
		"%s/api/v1/mailbox/%s/messages",
		b.cfg.TempMailBase,
		url.PathEscape(session.TaggedAddress()),
	)

	var payload []tempMailMessage
	err := b.breaker.Call(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return err
		}
		if b.cfg.TempMailKey != "" {
			req.Header.Set("Authorization", "Bearer "+b.cfg.TempMailKey)
		}

		resp, err := b.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("mailbox api status %d: %s", resp.StatusCode, body)
		}

		return json.NewDecoder(resp.Body).Decode(&payload)
	})
	if err != nil {
		return nil, apperrors.NewExternalError("tempmail", err)
	}

	messages := make([]Message, 0, len(payload))
	for _, m := range payload {
		messages = append(messages, Message{
			From:    m.From,
			To:      session.TaggedAddress(),
			Subject: m.Subject,
			Body:    m.BodyText,
			Date:    time.Unix(m.CreatedAt, 0),
		})
	}

	return messages, nil
}

// NewBackend selects the configured backend implementation.
func NewBackend(cfg config.MailConfig, log *slog.Logger) (Backend, error) {
	switch cfg.Backend {
	case "pop3":
		return NewPOP3Backend(cfg, log), nil
	case "tempmail":
		return NewTempMailBackend(cfg, log), nil
	default:
		return nil, fmt.Errorf("unknown mail backend: %q", cfg.Backend)
	}
}
