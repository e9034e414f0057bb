// Package resilience provides the retry and circuit breaker primitives
// protecting calls to external collaborators (state store, vector
// store, notification channels).
package resilience

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/supportstack/orchestrad/pkg/apperr"
)

// RetryPolicy controls how failed calls are retried.
type RetryPolicy struct {
	MaxAttempts     int           `yaml:"max_attempts"`
	BaseDelay       time.Duration `yaml:"base_delay"`
	MaxDelay        time.Duration `yaml:"max_delay"`
	ExponentialBase float64       `yaml:"exponential_base"`
	Jitter          float64       `yaml:"jitter"` // fraction of delay, 0..1

	// Retryable restricts retries to these kinds when non-empty.
	// NonRetryable always wins over Retryable.
	Retryable    []apperr.Kind `yaml:"retryable,omitempty"`
	NonRetryable []apperr.Kind `yaml:"non_retryable,omitempty"`
}

// DefaultRetryPolicy matches the built-in persistence retry behavior.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
		Jitter:          0.2,
	}
}

// ShouldRetry reports whether err is retryable under this policy.
func (p RetryPolicy) ShouldRetry(err error) bool {
	kind := apperr.KindOf(err)
	for _, k := range p.NonRetryable {
		if k == kind {
			return false
		}
	}
	if len(p.Retryable) > 0 {
		for _, k := range p.Retryable {
			if k == kind {
				return true
			}
		}
		return false
	}
	return apperr.IsRetryable(err)
}

// newBackOff builds the delay engine for one retry sequence.
func (p RetryPolicy) newBackOff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.Multiplier = p.ExponentialBase
	bo.RandomizationFactor = p.Jitter
	bo.MaxElapsedTime = 0 // attempt count, not wall time, bounds the loop
	bo.Reset()
	return bo
}

// Do runs op, retrying retryable failures up to MaxAttempts with
// exponential backoff and jitter. The last error is returned.
func (p RetryPolicy) Do(ctx context.Context, name string, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	bo := p.newBackOff()

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = op(ctx)
		if err == nil {
			return nil
		}
		if attempt == attempts || !p.ShouldRetry(err) {
			return err
		}

		delay := bo.NextBackOff()
		if delay == backoff.Stop {
			return err
		}
		slog.Debug("Retrying after failure",
			"op", name, "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-ctx.Done():
			return apperr.Wrap(apperr.KindTimeout, ctx.Err(), "%s: retry interrupted", name)
		case <-time.After(delay):
		}
	}
	return err
}
