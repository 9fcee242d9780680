package phone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	ledgerKeyPattern = "phone:ledger:%s"
	currentKey       = "phone:current"
)

// ErrRecordNotFound indicates the number has no ledger entry.
var ErrRecordNotFound = errors.New("phone ledger record not found")

// Record is the persisted usage state of one verification number. It
// survives restarts so a number acquired yesterday can be reused today.
type Record struct {
	Number        string    `json:"number"`
	CountryCode   string    `json:"country_code"`
	UsageCount    int       `json:"usage_count"`
	MaxUsageCount int       `json:"max_usage_count"`
	Blacklisted   bool      `json:"blacklisted"`
	ProjectID     string    `json:"project_id"`
	LastUsed      time.Time `json:"last_used"`
}

// Reusable reports whether the number may serve another verification.
func (r *Record) Reusable() bool {
	return r != nil && !r.Blacklisted && r.UsageCount < r.MaxUsageCount
}

// Ledger persists phone records in Redis, keyed by number, plus a pointer to
// the number currently held for reuse.
type Ledger struct {
	client *redis.Client
	log    *slog.Logger
}

// NewLedger initializes a Redis-backed ledger.
func NewLedger(client *redis.Client, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}

	return &Ledger{client: client, log: log}
}

// Get returns the record for a number or ErrRecordNotFound.
func (l *Ledger) Get(ctx context.Context, number string) (*Record, error) {
	data, err := l.client.Get(ctx, ledgerKey(number)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrRecordNotFound
		}

		l.log.Error("failed to get phone record", "number", number, "error", err)
		return nil, err
	}

	var record Record
	if err := json.Unmarshal([]byte(data), &record); err != nil {
		l.log.Error("failed to decode phone record", "number", number, "error", err)
		return nil, err
	}

	return &record, nil
}

// Save stores the record. Records carry no TTL: usage history must outlive
// any single run.
func (l *Ledger) Save(ctx context.Context, record *Record) error {
	data, err := json.Marshal(record)
	if err != nil {
		l.log.Error("failed to encode phone record", "number", record.Number, "error", err)
		return err
	}

	if err := l.client.Set(ctx, ledgerKey(record.Number), data, 0).Err(); err != nil {
		l.log.Error("failed to save phone record", "number", record.Number, "error", err)
		return err
	}

	return nil
}

// Current returns the number cached for reuse, or "" when none is held.
func (l *Ledger) Current(ctx context.Context) (string, error) {
	number, err := l.client.Get(ctx, currentKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", err
	}

	return number, nil
}

// SetCurrent caches the number for reuse by subsequent tasks.
func (l *Ledger) SetCurrent(ctx context.Context, number string) error {
	return l.client.Set(ctx, currentKey, number, 0).Err()
}

// ClearCurrent drops the cached reusable number.
func (l *Ledger) ClearCurrent(ctx context.Context) error {
	err := l.client.Del(ctx, currentKey).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

func ledgerKey(number string) string {
	return fmt.Sprintf(ledgerKeyPattern, number)
}
