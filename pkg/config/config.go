// Package config loads and validates the runtime configuration from a
// config directory (orchestrad.yaml plus .env).
package config

import (
	"time"

	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/resilience"
)

// Config is the umbrella configuration object returned by Initialize
// and passed through constructors (no global singletons).
type Config struct {
	configDir string

	Executor  *ExecutorConfig
	Queue     *QueueConfig
	Reviewer  *ReviewerConfig
	Feedback  *FeedbackConfig
	Tenant    *TenantConfig
	Retention *RetentionConfig
	Circuit   map[string]resilience.BreakerConfig
	Redis     *RedisConfig
	Slack     *SlackConfig

	// Escalation policies keyed by tenant id.
	EscalationPolicies map[string]*models.EscalationPolicy
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string { return c.configDir }

// ExecutorConfig controls the agent executor.
type ExecutorConfig struct {
	// MaxConcurrent is the hard cap on parallel executions per process.
	MaxConcurrent int `yaml:"max_concurrent" validate:"min=1"`

	// DefaultTimeoutSeconds applies when an Execute call passes no budget.
	DefaultTimeoutSeconds int `yaml:"default_timeout_seconds" validate:"min=1,max=3600"`

	// CancelGracePeriod is how long a step may run past the deadline
	// before the run is failed with reason timeout.
	CancelGracePeriod Duration `yaml:"cancel_grace_period"`

	// GracefulShutdownTimeout bounds the drain of in-flight runs.
	GracefulShutdownTimeout Duration `yaml:"graceful_shutdown_timeout"`
}

// QueueConfig controls the HITL queue and its background sweeps.
type QueueConfig struct {
	// SLA maps priority name → answer deadline. Unset priorities use
	// the built-in defaults (critical 5m, high 15m, medium 1h, low 4h).
	SLA map[string]Duration `yaml:"sla"`

	// SweepInterval is the base interval for expiration and SLA sweeps.
	SweepInterval Duration `yaml:"sweep_interval"`

	// SweepJitter is the random jitter added to SweepInterval.
	SweepJitter Duration `yaml:"sweep_jitter"`
}

// SLAFor returns the SLA duration for a priority.
func (q *QueueConfig) SLAFor(p models.HITLPriority) time.Duration {
	if d, ok := q.SLA[string(p)]; ok && d > 0 {
		return d.Std()
	}
	switch p {
	case models.HITLPriorityCritical:
		return 5 * time.Minute
	case models.HITLPriorityHigh:
		return 15 * time.Minute
	case models.HITLPriorityMedium:
		return time.Hour
	default:
		return 4 * time.Hour
	}
}

// ReviewerConfig controls reviewer auto-assignment.
type ReviewerConfig struct {
	// MaxWorkload is the per-reviewer concurrent request cap.
	MaxWorkload int `yaml:"max_workload" validate:"min=1"`
}

// FeedbackConfig controls golden-path retention.
type FeedbackConfig struct {
	// MinSuccessRateRetain: below this the path is removed from the
	// vector store (catalog row is kept for audit). 0 disables pruning.
	MinSuccessRateRetain float64 `yaml:"min_success_rate_retain" validate:"min=0,max=1"`

	// SearchMinSuccessRateDefault filters search results by default.
	SearchMinSuccessRateDefault float64 `yaml:"search_min_success_rate_default" validate:"min=0,max=1"`
}

// TenantConfig holds the tier limit tables and reset cadence.
type TenantConfig struct {
	Tiers map[string]models.TierLimits `yaml:"tiers"`
}

// LimitsFor returns the limit table for a tier, falling back to the
// free tier limits for unknown tiers.
func (t *TenantConfig) LimitsFor(tier models.TenantTier) models.TierLimits {
	if l, ok := t.Tiers[string(tier)]; ok {
		return l
	}
	return t.Tiers[string(models.TierFree)]
}

// RetentionConfig controls the background retention sweeps: expired
// agent state rows are deleted, old audit events are pruned, and
// per-tenant activity streams are trimmed to the configured cap.
type RetentionConfig struct {
	// SweepInterval is the pause between retention passes.
	SweepInterval Duration `yaml:"sweep_interval"`

	// AuditRetention is how long audit events stay queryable.
	AuditRetention Duration `yaml:"audit_retention"`
}

// RedisConfig locates the Redis instance backing the activity stream.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`

	// StreamMaxLen is the approximate cap applied on publish; 0 keeps
	// streams unbounded until an explicit Trim.
	StreamMaxLen int64 `yaml:"stream_max_len"`
}

// SlackConfig holds Slack notification settings.
type SlackConfig struct {
	Enabled  bool   `yaml:"enabled"`
	TokenEnv string `yaml:"token_env"` // env var holding the bot token
	Channel  string `yaml:"channel"`
}

// Stats contains statistics about loaded configuration.
type Stats struct {
	Tiers              int
	EscalationPolicies int
	CircuitBreakers    int
}

// Stats returns configuration statistics for logging.
func (c *Config) Stats() Stats {
	return Stats{
		Tiers:              len(c.Tenant.Tiers),
		EscalationPolicies: len(c.EscalationPolicies),
		CircuitBreakers:    len(c.Circuit),
	}
}
