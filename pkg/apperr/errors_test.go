package apperr

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"direct", New(KindNotFound, "agent %s", "a-1"), KindNotFound},
		{"wrapped", fmt.Errorf("outer: %w", New(KindQuotaExceeded, "limit hit")), KindQuotaExceeded},
		{"plain error defaults to transient", errors.New("boom"), KindTransient},
		{"cause chain", Wrap(KindTimeout, errors.New("deadline"), "budget elapsed"), KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestRetryable(t *testing.T) {
	assert.True(t, IsRetryable(New(KindTransient, "llm hiccup")))
	assert.True(t, IsRetryable(New(KindTimeout, "deadline")))
	assert.False(t, IsRetryable(New(KindValidation, "bad input")))
	assert.False(t, IsRetryable(New(KindIllegalState, "respond twice")))
	assert.False(t, IsRetryable(New(KindFatal, "invariant violation")))
	assert.True(t, IsRetryable(errors.New("unclassified")))
}

func TestRetryAfterHint(t *testing.T) {
	err := New(KindQuotaExceeded, "rate limit").WithRetryAfter(30 * time.Second)
	assert.Equal(t, 30*time.Second, err.RetryAfter)

	var ae *Error
	assert.True(t, errors.As(fmt.Errorf("wrap: %w", err), &ae))
	assert.Equal(t, 30*time.Second, ae.RetryAfter)
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "not_found: blueprint support", New(KindNotFound, "blueprint support").Error())
	wrapped := Wrap(KindTransient, errors.New("conn reset"), "vector upsert")
	assert.Equal(t, "transient: vector upsert: conn reset", wrapped.Error())
	assert.NotNil(t, wrapped.Unwrap())
}
