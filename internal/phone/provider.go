// Package phone manages SMS verification numbers: acquisition, reuse within
// a usage cap, code polling, and one-way blacklisting.
package phone

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	apperrors "github.com/jianxianglin808/MY-Cursor-sub001/internal/errors"

	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

// Provider is the upstream SMS verification service.
type Provider interface {
	// Acquire requests a fresh number for the project.
	Acquire(ctx context.Context, projectID, country string) (number, countryCode string, err error)
	// Occupy re-claims a previously acquired number for another verification.
	Occupy(ctx context.Context, projectID, number string) error
	// Code returns the latest verification code for the number, or "" when
	// none has arrived yet.
	Code(ctx context.Context, number string) (string, error)
	// Blacklist permanently retires the number upstream.
	Blacklist(ctx context.Context, number, reason string) error
	// Release returns the number to the provider pool without retiring it.
	Release(ctx context.Context, number string) error
}

// HTTPProvider talks to the provider's JSON API.
type HTTPProvider struct {
	cfg     config.PhoneConfig
	client  *http.Client
	breaker *apperrors.CircuitBreaker
	log     *slog.Logger
}

var _ Provider = (*HTTPProvider)(nil)

// NewHTTPProvider builds a provider client from phone configuration.
func NewHTTPProvider(cfg config.PhoneConfig, log *slog.Logger) *HTTPProvider {
	if log == nil {
		log = slog.Default()
	}

	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: 15 * time.Second},
		breaker: apperrors.NewCircuitBreaker(),
		log:     log,
	}
}

type acquireResponse struct {
	Number      string `json:"number"`
	CountryCode string `json:"country_code"`
}

func (p *HTTPProvider) Acquire(ctx context.Context, projectID, country string) (string, string, error) {
	var out acquireResponse
	err := p.post(ctx, "/api/v1/numbers/acquire", map[string]string{
		"project_id": projectID,
		"country":    country,
	}, &out)
	if err != nil {
		return "", "", apperrors.NewExternalError("sms-provider acquire", err)
	}
	if out.Number == "" {
		return "", "", apperrors.NewExternalError("sms-provider acquire", fmt.Errorf("empty number in response"))
	}

	return out.Number, out.CountryCode, nil
}

func (p *HTTPProvider) Occupy(ctx context.Context, projectID, number string) error {
	path := fmt.Sprintf("/api/v1/numbers/%s/occupy", url.PathEscape(number))
	if err := p.post(ctx, path, map[string]string{"project_id": projectID}, nil); err != nil {
		return apperrors.NewExternalError("sms-provider occupy", err)
	}
	return nil
}

type codeResponse struct {
	Code string `json:"code"`
}

func (p *HTTPProvider) Code(ctx context.Context, number string) (string, error) {
	path := fmt.Sprintf("/api/v1/numbers/%s/sms", url.PathEscape(number))

	var out codeResponse
	if err := p.get(ctx, path, &out); err != nil {
		return "", apperrors.NewExternalError("sms-provider code", err)
	}

	return out.Code, nil
}

func (p *HTTPProvider) Blacklist(ctx context.Context, number, reason string) error {
	path := fmt.Sprintf("/api/v1/numbers/%s/blacklist", url.PathEscape(number))
	if err := p.post(ctx, path, map[string]string{"reason": reason}, nil); err != nil {
		return apperrors.NewExternalError("sms-provider blacklist", err)
	}
	return nil
}

func (p *HTTPProvider) Release(ctx context.Context, number string) error {
	path := fmt.Sprintf("/api/v1/numbers/%s/release", url.PathEscape(number))
	if err := p.post(ctx, path, nil, nil); err != nil {
		return apperrors.NewExternalError("sms-provider release", err)
	}
	return nil
}

func (p *HTTPProvider) post(ctx context.Context, path string, body map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.APIBase+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	return p.do(req, out)
}

func (p *HTTPProvider) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.APIBase+path, nil)
	if err != nil {
		return err
	}

	return p.do(req, out)
}

func (p *HTTPProvider) do(req *http.Request, out any) error {
	req.Header.Set("X-Api-Key", p.cfg.APIKey)

	return p.breaker.Call(func() error {
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("provider status %d: %s", resp.StatusCode, payload)
		}

		if out == nil {
			return nil
		}

		return json.NewDecoder(resp.Body).Decode(out)
	})
}
