package errors

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_RetriesTransientErrors(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		if calls < 3 {
			return NewTransientError("element not yet visible")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_StopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return NewResourceExhaustedError("cards")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_GivesUpAfterBudget(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func() error {
		calls++
		return NewTransientError("still waiting")
	})

	assert.Error(t, err)
	assert.Equal(t, MaxRetries+1, calls)
}

func TestWithRetry_ObservesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WithRetry(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewTransientError("x")))
	assert.False(t, IsRetryable(NewResourceExhaustedError("x")))
	assert.False(t, IsRetryable(errors.New("plain")))
	assert.False(t, IsRetryable(nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(NewTransientError("x")))
	assert.Equal(t, KindResourceExhausted, KindOf(NewResourceExhaustedError("x")))
	assert.Equal(t, KindCancelled, KindOf(NewCancelledError("poll")))
	assert.Equal(t, KindExternal, KindOf(errors.New("plain")))
	assert.Equal(t, Kind(""), KindOf(nil))
}
