package phone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return client
}

// fakeProvider hands out sequentially numbered phone numbers and tracks
// lifecycle calls.
type fakeProvider struct {
	mu          sync.Mutex
	acquired    int
	occupied    []string
	blacklisted map[string]string
	codes       map[string]string
	occupyErr   error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		blacklisted: make(map[string]string),
		codes:       make(map[string]string),
	}
}

func (p *fakeProvider) Acquire(_ context.Context, _, _ string) (string, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.acquired++
	return fmt.Sprintf("+1555000%04d", p.acquired), "US", nil
}

func (p *fakeProvider) Occupy(_ context.Context, _, number string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.occupyErr != nil {
		return p.occupyErr
	}
	p.occupied = append(p.occupied, number)
	return nil
}

func (p *fakeProvider) Code(_ context.Context, number string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.codes[number], nil
}

func (p *fakeProvider) Blacklist(_ context.Context, number, reason string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.blacklisted[number] = reason
	return nil
}

func (p *fakeProvider) Release(_ context.Context, _ string) error {
	return nil
}

func newTestBroker(t *testing.T, provider Provider) *Broker {
	t.Helper()

	ledger := NewLedger(setupTestRedis(t), testLogger())
	cfg := config.PhoneConfig{
		ProjectID:     "proj-a",
		Country:       "US",
		MaxUsageCount: 3,
		PollInterval:  5 * time.Millisecond,
		MaxPolls:      2,
	}

	return NewBroker(provider, ledger, cfg, testLogger())
}

func TestBroker_Acquire_ReusesCachedNumber(t *testing.T) {
	provider := newFakeProvider()
	broker := newTestBroker(t, provider)
	ctx := context.Background()

	first, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	second, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, provider.acquired)
	assert.Equal(t, []string{first}, provider.occupied)
}

func TestBroker_Acquire_FreshAfterUsageCap(t *testing.T) {
	provider := newFakeProvider()
	broker := newTestBroker(t, provider)
	ctx := context.Background()

	number, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := broker.RecordUsage(ctx, number)
		require.NoError(t, err)
	}

	next, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, number, next)
	assert.Equal(t, 2, provider.acquired)
	assert.Equal(t, "usage_cap", provider.blacklisted[number])
}

func TestBroker_RecordUsage_BlacklistsAtCap(t *testing.T) {
	provider := newFakeProvider()
	broker := newTestBroker(t, provider)
	ctx := context.Background()

	number, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	for want := 1; want <= 3; want++ {
		count, err := broker.RecordUsage(ctx, number)
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	record, err := broker.ledger.Get(ctx, number)
	require.NoError(t, err)
	assert.True(t, record.Blacklisted)
	assert.False(t, record.Reusable())
}

func TestBroker_Acquire_DiscardsOtherProjectNumber(t *testing.T) {
	provider := newFakeProvider()
	broker := newTestBroker(t, provider)
	ctx := context.Background()

	// a number cached by an earlier run under a different project
	require.NoError(t, broker.ledger.Save(ctx, &Record{
		Number:        "+15550009999",
		CountryCode:   "US",
		MaxUsageCount: 3,
		ProjectID:     "proj-old",
	}))
	require.NoError(t, broker.ledger.SetCurrent(ctx, "+15550009999"))

	number, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, "+15550009999", number)
	assert.Equal(t, 1, provider.acquired)

	cached, err := broker.ledger.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, number, cached)
}

func TestBroker_Acquire_FreshWhenOccupyFails(t *testing.T) {
	provider := newFakeProvider()
	broker := newTestBroker(t, provider)
	ctx := context.Background()

	first, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	provider.occupyErr = errors.New("number taken upstream")

	second, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, provider.acquired)
}

func TestBroker_GetCode_BlacklistsWhenNoCodeArrives(t *testing.T) {
	provider := newFakeProvider()
	broker := newTestBroker(t, provider)
	ctx := context.Background()

	number, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	_, ok := broker.GetCode(ctx, number, time.Second)
	assert.False(t, ok)

	record, err := broker.ledger.Get(ctx, number)
	require.NoError(t, err)
	assert.True(t, record.Blacklisted)
	assert.Equal(t, "no_code", provider.blacklisted[number])

	// the burned number must not be handed out again
	next, _, err := broker.Acquire(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, number, next)
}

func TestBroker_GetCode_CancelledContextDoesNotBlacklist(t *testing.T) {
	provider := newFakeProvider()
	ledger := NewLedger(setupTestRedis(t), testLogger())
	broker := NewBroker(provider, ledger, config.PhoneConfig{
		ProjectID:     "proj-a",
		Country:       "US",
		MaxUsageCount: 3,
		PollInterval:  20 * time.Millisecond,
		MaxPolls:      100,
	}, testLogger())

	number, _, err := broker.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	_, ok := broker.GetCode(ctx, number, time.Minute)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second, "cancellation must cut the poll loop short")

	// a healthy number interrupted mid-poll must stay usable
	record, err := broker.ledger.Get(context.Background(), number)
	require.NoError(t, err)
	assert.False(t, record.Blacklisted)
	assert.Empty(t, provider.blacklisted)
}

func TestBroker_GetCode_ReturnsDeliveredCode(t *testing.T) {
	provider := newFakeProvider()
	broker := newTestBroker(t, provider)
	ctx := context.Background()

	number, _, err := broker.Acquire(ctx)
	require.NoError(t, err)

	provider.mu.Lock()
	provider.codes[number] = "904417"
	provider.mu.Unlock()

	code, ok := broker.GetCode(ctx, number, time.Second)
	assert.True(t, ok)
	assert.Equal(t, "904417", code)
}

func TestBroker_Blacklist_CreatesRecordForUnknownNumber(t *testing.T) {
	provider := newFakeProvider()
	broker := newTestBroker(t, provider)
	ctx := context.Background()

	require.NoError(t, broker.Blacklist(ctx, "+15550001234", "manual"))

	record, err := broker.ledger.Get(ctx, "+15550001234")
	require.NoError(t, err)
	assert.True(t, record.Blacklisted)
	assert.Equal(t, "manual", provider.blacklisted["+15550001234"])
}
