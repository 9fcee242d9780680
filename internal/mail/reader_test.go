package mail

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jianxianglin808/MY-Cursor-sub001/internal/domain"
	"github.com/jianxianglin808/MY-Cursor-sub001/pkg/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type scriptedBackend struct {
	calls    atomic.Int32
	messages [][]Message
	err      error
}

func (b *scriptedBackend) Fetch(_ context.Context, _ domain.MailboxSession) ([]Message, error) {
	call := int(b.calls.Add(1)) - 1
	if b.err != nil {
		return nil, b.err
	}
	if call >= len(b.messages) {
		return nil, nil
	}
	return b.messages[call], nil
}

func fastMailConfig() config.MailConfig {
	return config.MailConfig{
		PollInterval:   5 * time.Millisecond,
		MaxPolls:       3,
		StaleTolerance: 30 * time.Second,
	}
}

func TestReader_GetCode_ReturnsFreshCode(t *testing.T) {
	session := domain.NewMailboxSession("user@example.com")
	backend := &scriptedBackend{
		messages: [][]Message{
			nil,
			{{
				From:    "no-reply@cursor.sh",
				Subject: "Your verification code",
				Body:    "Use code 483920 to continue",
				Date:    time.Now(),
			}},
		},
	}

	reader := NewReader(backend, fastMailConfig(), testLogger())

	code, ok := reader.GetCode(context.Background(), session, time.Second)
	assert.True(t, ok)
	assert.Equal(t, "483920", code)
}

func TestReader_GetCode_IgnoresStaleMessages(t *testing.T) {
	session := domain.NewMailboxSession("user@example.com")
	stale := Message{
		From:    "no-reply@cursor.sh",
		Subject: "Your verification code",
		Body:    "Use code 111111 to continue",
		Date:    session.StartedAt.Add(-2 * time.Minute),
	}
	backend := &scriptedBackend{messages: [][]Message{{stale}, {stale}, {stale}}}

	reader := NewReader(backend, fastMailConfig(), testLogger())

	_, ok := reader.GetCode(context.Background(), session, time.Second)
	assert.False(t, ok)
}

func TestReader_GetCode_IgnoresUnrelatedMail(t *testing.T) {
	session := domain.NewMailboxSession("user@example.com")
	newsletter := Message{
		From:    "news@example.com",
		Subject: "Weekly digest",
		Body:    "Issue 483920 of our newsletter",
		Date:    time.Now(),
	}
	backend := &scriptedBackend{messages: [][]Message{{newsletter}}}

	reader := NewReader(backend, fastMailConfig(), testLogger())

	_, ok := reader.GetCode(context.Background(), session, time.Second)
	assert.False(t, ok)
}

func TestReader_GetCode_ExhaustsBudget(t *testing.T) {
	session := domain.NewMailboxSession("user@example.com")
	backend := &scriptedBackend{err: errors.New("mailbox unavailable")}

	reader := NewReader(backend, fastMailConfig(), testLogger())

	_, ok := reader.GetCode(context.Background(), session, time.Second)
	assert.False(t, ok)
	assert.Equal(t, int32(3), backend.calls.Load())
}

func TestReader_GetCode_StopsOnCancel(t *testing.T) {
	session := domain.NewMailboxSession("user@example.com")
	backend := &scriptedBackend{}

	cfg := fastMailConfig()
	cfg.MaxPolls = 100

	reader := NewReader(backend, cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, ok := reader.GetCode(ctx, session, time.Minute)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReader_GetCode_CancelMidPollUnblocks(t *testing.T) {
	session := domain.NewMailboxSession("user@example.com")
	backend := &scriptedBackend{}

	cfg := fastMailConfig()
	cfg.PollInterval = 20 * time.Millisecond
	cfg.MaxPolls = 100

	reader := NewReader(backend, cfg, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	timer := time.AfterFunc(50*time.Millisecond, cancel)
	defer timer.Stop()

	start := time.Now()
	_, ok := reader.GetCode(ctx, session, time.Minute)
	assert.False(t, ok)
	assert.Less(t, time.Since(start), time.Second, "cancellation must cut the poll loop short, not drain the budget")
	assert.Less(t, backend.calls.Load(), int32(100))
}
