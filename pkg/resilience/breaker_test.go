package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(t *testing.T) (*CircuitBreaker, *time.Time) {
	t.Helper()
	now := time.Now()
	cb := NewCircuitBreaker("test", BreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          10 * time.Second,
		HalfOpenMaxCalls: 2,
	})
	cb.now = func() time.Time { return now }
	return cb, &now
}

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(func() error { return errors.New("boom") })
	}
}

func TestClosedOpensAfterConsecutiveFailures(t *testing.T) {
	cb, _ := testBreaker(t)

	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	// A success resets the consecutive counter.
	require.NoError(t, cb.Execute(func() error { return nil }))
	failN(cb, 2)
	assert.Equal(t, StateClosed, cb.State())

	failN(cb, 1)
	assert.Equal(t, StateOpen, cb.State())
}

func TestOpenRejectsImmediately(t *testing.T) {
	cb, _ := testBreaker(t)
	failN(cb, 3)

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	require.Error(t, err)
	assert.False(t, called)
}

func TestOpenTransitionsToHalfOpenAfterTimeout(t *testing.T) {
	cb, now := testBreaker(t)
	failN(cb, 3)

	*now = now.Add(11 * time.Second)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestHalfOpenAdmitsLimitedCalls(t *testing.T) {
	cb, now := testBreaker(t)
	failN(cb, 3)
	*now = now.Add(11 * time.Second)

	require.NoError(t, cb.Allow())
	require.NoError(t, cb.Allow())
	assert.Error(t, cb.Allow(), "third in-flight call exceeds half_open_max_calls")
}

func TestHalfOpenClosesAfterSuccessThreshold(t *testing.T) {
	cb, now := testBreaker(t)
	failN(cb, 3)
	*now = now.Add(11 * time.Second)

	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(func() error { return nil }))
	assert.Equal(t, StateClosed, cb.State())
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb, now := testBreaker(t)
	failN(cb, 3)
	*now = now.Add(11 * time.Second)

	require.NoError(t, cb.Execute(func() error { return nil }))
	_ = cb.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, cb.State())
}

func TestResetForcesClosed(t *testing.T) {
	cb, _ := testBreaker(t)
	failN(cb, 3)
	require.Equal(t, StateOpen, cb.State())

	cb.Reset()
	assert.Equal(t, StateClosed, cb.State())
	assert.NoError(t, cb.Allow())
}

func TestRegistryCreatesOnFirstUse(t *testing.T) {
	reg := NewBreakerRegistry(map[string]BreakerConfig{
		"vector": {FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Second, HalfOpenMaxCalls: 1},
	})

	vector := reg.Get("vector")
	assert.Same(t, vector, reg.Get("vector"))

	_ = vector.Execute(func() error { return errors.New("boom") })
	assert.Equal(t, StateOpen, vector.State())

	other := reg.Get("state-store")
	assert.Equal(t, StateClosed, other.State())
	assert.Len(t, reg.All(), 2)
}
