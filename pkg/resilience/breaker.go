package resilience

import (
	"log/slog"
	"sync"
	"time"

	"github.com/supportstack/orchestrad/pkg/apperr"
)

// BreakerState is the circuit breaker state.
type BreakerState string

// Circuit breaker states.
const (
	StateClosed   BreakerState = "closed"
	StateOpen     BreakerState = "open"
	StateHalfOpen BreakerState = "half_open"
)

// BreakerConfig controls one named circuit breaker. YAML carries the
// open timeout as integer seconds; Timeout is the resolved value.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	TimeoutSeconds   int           `yaml:"timeout_seconds"`
	Timeout          time.Duration `yaml:"-"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls"`
}

// DefaultBreakerConfig returns the built-in breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// CircuitBreaker latches around a dependency. Closed permits all calls;
// FailureThreshold consecutive failures open the circuit. Open rejects
// immediately for Timeout; the next call after that transitions to
// half-open, which admits up to HalfOpenMaxCalls in-flight calls.
// SuccessThreshold consecutive successes close; any failure re-opens.
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu                   sync.Mutex
	state                BreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	halfOpenInFlight     int
	openedAt             time.Time

	now func() time.Time // injectable clock for tests
}

// NewCircuitBreaker creates a closed breaker with the given config.
// Zero-valued config fields fall back to defaults.
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.Timeout <= 0 && cfg.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = def.HalfOpenMaxCalls
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
		now:   time.Now,
	}
}

// Name returns the breaker's name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state, applying the open→half-open
// transition if the timeout has elapsed.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked()
}

func (cb *CircuitBreaker) stateLocked() BreakerState {
	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.cfg.Timeout {
		cb.transitionLocked(StateHalfOpen)
	}
	return cb.state
}

// Allow reports whether a call may proceed. Callers that receive true
// must report the outcome via RecordSuccess or RecordFailure.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stateLocked() {
	case StateClosed:
		return nil
	case StateOpen:
		return apperr.New(apperr.KindTransient, "circuit %q open", cb.name).
			WithRetryAfter(cb.cfg.Timeout - cb.now().Sub(cb.openedAt))
	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.HalfOpenMaxCalls {
			return apperr.New(apperr.KindTransient, "circuit %q half-open at capacity", cb.name)
		}
		cb.halfOpenInFlight++
		return nil
	}
	return nil
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures = 0
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.consecutiveSuccesses++
		if cb.consecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transitionLocked(StateClosed)
		}
	}
}

// RecordFailure reports a failed call.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.consecutiveFailures++
		if cb.consecutiveFailures >= cb.cfg.FailureThreshold {
			cb.transitionLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.transitionLocked(StateOpen)
	}
}

// Execute runs op under the breaker, recording its outcome.
func (cb *CircuitBreaker) Execute(op func() error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := op()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionLocked(StateClosed)
}

func (cb *CircuitBreaker) transitionLocked(to BreakerState) {
	if cb.state == to {
		return
	}
	from := cb.state
	cb.state = to
	cb.consecutiveFailures = 0
	cb.consecutiveSuccesses = 0
	cb.halfOpenInFlight = 0
	if to == StateOpen {
		cb.openedAt = cb.now()
	}
	slog.Info("Circuit breaker state change",
		"breaker", cb.name, "from", from, "to", to)
}

// BreakerRegistry holds named breakers created on first use.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
	configs  map[string]BreakerConfig
}

// NewBreakerRegistry creates a registry with per-name config overrides.
func NewBreakerRegistry(configs map[string]BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		configs:  configs,
	}
}

// Get returns the named breaker, creating it on first use.
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cfg, ok := r.configs[name]
	if !ok {
		cfg = DefaultBreakerConfig()
	}
	cb := NewCircuitBreaker(name, cfg)
	r.breakers[name] = cb
	return cb
}

// All returns every breaker created so far.
func (r *BreakerRegistry) All() []*CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		out = append(out, cb)
	}
	return out
}
