package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/apperr"
)

func fastPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
		Jitter:          0,
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "save", func(context.Context) error {
		calls++
		if calls < 3 {
			return apperr.New(apperr.KindTransient, "hiccup")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "save", func(context.Context) error {
		calls++
		return apperr.New(apperr.KindValidation, "bad input")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	err := fastPolicy().Do(context.Background(), "save", func(context.Context) error {
		calls++
		return errors.New("still broken")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoHonorsExplicitRetryableSet(t *testing.T) {
	policy := fastPolicy()
	policy.Retryable = []apperr.Kind{apperr.KindTimeout}

	calls := 0
	err := policy.Do(context.Background(), "call", func(context.Context) error {
		calls++
		return apperr.New(apperr.KindTransient, "not in the allow set")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoNonRetryableWinsOverRetryable(t *testing.T) {
	policy := fastPolicy()
	policy.Retryable = []apperr.Kind{apperr.KindTransient}
	policy.NonRetryable = []apperr.Kind{apperr.KindTransient}

	calls := 0
	_ = policy.Do(context.Background(), "call", func(context.Context) error {
		calls++
		return apperr.New(apperr.KindTransient, "contested kind")
	})
	assert.Equal(t, 1, calls)
}

func TestDoStopsWhenContextCancelled(t *testing.T) {
	policy := fastPolicy()
	policy.BaseDelay = time.Second
	policy.MaxDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := policy.Do(ctx, "call", func(context.Context) error {
		return apperr.New(apperr.KindTransient, "hiccup")
	})
	require.Error(t, err)
	assert.Equal(t, apperr.KindTimeout, apperr.KindOf(err))
}
