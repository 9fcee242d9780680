package phone

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/metrics"
)

// Broker implements the number lifecycle policy over a provider and the
// persisted ledger. All ledger read-modify-write sequences run under one
// mutex: the ledger is shared across workers and needs single-writer
// discipline.
type Broker struct {
	provider Provider
	ledger   *Ledger
	cfg      config.PhoneConfig
	log      *slog.Logger

	mu sync.Mutex
}

// NewBroker builds a Broker.
func NewBroker(provider Provider, ledger *Ledger, cfg config.PhoneConfig, log *slog.Logger) *Broker {
	if log == nil {
		log = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxPolls <= 0 {
		cfg.MaxPolls = 20
	}
	if cfg.MaxUsageCount <= 0 {
		cfg.MaxUsageCount = 3
	}

	return &Broker{provider: provider, ledger: ledger, cfg: cfg, log: log}
}

// Acquire returns a verification number, preferring the cached reusable one.
// A cached number is re-occupied only when it belongs to the configured
// project, is not blacklisted, and has cap headroom; any other condition
// falls back to a fresh acquisition.
func (b *Broker) Acquire(ctx context.Context) (string, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if number, country, ok := b.tryReuse(ctx); ok {
		return number, country, nil
	}

	number, country, err := b.provider.Acquire(ctx, b.cfg.ProjectID, b.cfg.Country)
	if err != nil {
		return "", "", err
	}

	record := &Record{
		Number:        number,
		CountryCode:   country,
		MaxUsageCount: b.cfg.MaxUsageCount,
		ProjectID:     b.cfg.ProjectID,
	}
	if err := b.ledger.Save(ctx, record); err != nil {
		return "", "", err
	}
	if err := b.ledger.SetCurrent(ctx, number); err != nil {
		return "", "", err
	}

	b.log.Info("acquired fresh number", "number", number, "country", country)
	return number, country, nil
}

// tryReuse checks the cached pointer and re-occupies the number upstream.
// Callers hold b.mu.
func (b *Broker) tryReuse(ctx context.Context) (string, string, bool) {
	cached, err := b.ledger.Current(ctx)
	if err != nil || cached == "" {
		return "", "", false
	}

	record, err := b.ledger.Get(ctx, cached)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			b.log.Warn("ledger lookup failed for cached number", "number", cached, "error", err)
		}
		_ = b.ledger.ClearCurrent(ctx)
		return "", "", false
	}

	// A provider/project switch orphans the cached number: codes requested
	// through the new project would never route to it.
	if record.ProjectID != b.cfg.ProjectID {
		b.log.Info("cached number belongs to another project, discarding",
			"number", cached, "recorded_project", record.ProjectID)
		_ = b.ledger.ClearCurrent(ctx)
		return "", "", false
	}

	if !record.Reusable() {
		_ = b.ledger.ClearCurrent(ctx)
		return "", "", false
	}

	if err := b.provider.Occupy(ctx, b.cfg.ProjectID, cached); err != nil {
		b.log.Warn("re-occupy failed, falling back to fresh acquire", "number", cached, "error", err)
		_ = b.ledger.ClearCurrent(ctx)
		return "", "", false
	}

	b.log.Info("reusing cached number", "number", cached, "usage_count", record.UsageCount)
	return cached, record.CountryCode, true
}

// GetCode polls the provider for the SMS code. When the retry budget runs
// out without a code the number is blacklisted immediately, regardless of
// remaining cap headroom: a number that cannot receive SMS is burned.
func (b *Broker) GetCode(ctx context.Context, number string, timeout time.Duration) (string, bool) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	for attempt := 0; attempt < b.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			metrics.RecordCode("sms", "cancelled")
			return "", false
		default:
		}

		code, err := b.provider.Code(ctx, number)
		if err != nil {
			b.log.Debug("code poll failed", "number", number, "attempt", attempt, "error", err)
		} else if code != "" {
			metrics.RecordCode("sms", "ok")
			return code, true
		}

		select {
		case <-ctx.Done():
			metrics.RecordCode("sms", "cancelled")
			return "", false
		case <-time.After(b.cfg.PollInterval):
		}
	}

	// The loop can exhaust its budget in the same instant the batch is
	// cancelled. Only a genuinely unreachable number gets burned; a
	// cancelled poll says nothing about the number's health.
	if ctx.Err() != nil {
		metrics.RecordCode("sms", "cancelled")
		return "", false
	}

	b.log.Warn("number never received a code, blacklisting", "number", number)
	metrics.RecordCode("sms", "exhausted")

	if err := b.Blacklist(ctx, number, "no_code"); err != nil {
		b.log.Error("failed to blacklist unreachable number", "number", number, "error", err)
	}

	return "", false
}

// RecordUsage increments the usage counter after a successful verification
// and returns the new count. Hitting the cap blacklists the number upstream
// and clears the cached pointer.
func (b *Broker) RecordUsage(ctx context.Context, number string) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, err := b.ledger.Get(ctx, number)
	if err != nil {
		return 0, err
	}

	record.UsageCount++
	record.LastUsed = time.Now()

	if record.UsageCount >= record.MaxUsageCount {
		record.Blacklisted = true
	}

	if err := b.ledger.Save(ctx, record); err != nil {
		return 0, err
	}

	if record.Blacklisted {
		b.log.Info("number reached usage cap", "number", number, "usage_count", record.UsageCount)
		metrics.RecordPhoneBlacklist("usage_cap")

		if err := b.provider.Blacklist(ctx, number, "usage_cap"); err != nil {
			b.log.Error("provider blacklist failed", "number", number, "error", err)
		}
		if err := b.clearCurrentIf(ctx, number); err != nil {
			b.log.Error("failed to clear cached number", "number", number, "error", err)
		}
	}

	return record.UsageCount, nil
}

// Blacklist marks the number unusable in the ledger and upstream.
// Blacklisting is one-way; there is no unblacklist path.
func (b *Broker) Blacklist(ctx context.Context, number, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	record, err := b.ledger.Get(ctx, number)
	if err != nil {
		if !errors.Is(err, ErrRecordNotFound) {
			return err
		}
		record = &Record{
			Number:        number,
			MaxUsageCount: b.cfg.MaxUsageCount,
			ProjectID:     b.cfg.ProjectID,
		}
	}

	record.Blacklisted = true
	if err := b.ledger.Save(ctx, record); err != nil {
		return err
	}

	metrics.RecordPhoneBlacklist(reason)

	if err := b.provider.Blacklist(ctx, number, reason); err != nil {
		// Ledger already records the blacklist; the provider call is
		// best-effort and must not resurrect the number on failure.
		b.log.Error("provider blacklist failed", "number", number, "reason", reason, "error", err)
	}

	return b.clearCurrentIf(ctx, number)
}

// Release hands the number back to the provider pool without retiring it.
func (b *Broker) Release(ctx context.Context, number string) error {
	if err := b.provider.Release(ctx, number); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.clearCurrentIf(ctx, number)
}

func (b *Broker) clearCurrentIf(ctx context.Context, number string) error {
	cached, err := b.ledger.Current(ctx)
	if err != nil {
		return err
	}
	if cached != number {
		return nil
	}

	return b.ledger.ClearCurrent(ctx)
}
