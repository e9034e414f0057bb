package config

import (
	"time"

	"github.com/supportstack/orchestrad/pkg/models"
)

// DefaultExecutorConfig returns the built-in executor defaults.
func DefaultExecutorConfig() *ExecutorConfig {
	return &ExecutorConfig{
		MaxConcurrent:           10,
		DefaultTimeoutSeconds:   300,
		CancelGracePeriod:       Duration(2 * time.Second),
		GracefulShutdownTimeout: Duration(5 * time.Minute),
	}
}

// DefaultQueueConfig returns the built-in queue defaults.
func DefaultQueueConfig() *QueueConfig {
	return &QueueConfig{
		SLA: map[string]Duration{
			string(models.HITLPriorityCritical): Duration(5 * time.Minute),
			string(models.HITLPriorityHigh):     Duration(15 * time.Minute),
			string(models.HITLPriorityMedium):   Duration(time.Hour),
			string(models.HITLPriorityLow):      Duration(4 * time.Hour),
		},
		SweepInterval: Duration(30 * time.Second),
		SweepJitter:   Duration(5 * time.Second),
	}
}

// DefaultReviewerConfig returns the built-in reviewer defaults.
func DefaultReviewerConfig() *ReviewerConfig {
	return &ReviewerConfig{MaxWorkload: 5}
}

// DefaultFeedbackConfig returns the built-in feedback defaults.
func DefaultFeedbackConfig() *FeedbackConfig {
	return &FeedbackConfig{
		MinSuccessRateRetain:        0.3,
		SearchMinSuccessRateDefault: 0.5,
	}
}

// DefaultTenantConfig returns the built-in tier limit tables.
func DefaultTenantConfig() *TenantConfig {
	return &TenantConfig{
		Tiers: map[string]models.TierLimits{
			string(models.TierFree): {
				MaxAgents:               2,
				MaxConcurrentExecutions: 1,
				RateLimitPerMinute:      10,
				DailyTokenLimit:         50_000,
			},
			string(models.TierStarter): {
				MaxAgents:               5,
				MaxConcurrentExecutions: 3,
				RateLimitPerMinute:      30,
				DailyTokenLimit:         250_000,
			},
			string(models.TierProfessional): {
				MaxAgents:               20,
				MaxConcurrentExecutions: 10,
				RateLimitPerMinute:      100,
				DailyTokenLimit:         2_000_000,
			},
			string(models.TierEnterprise): {
				MaxAgents:               100,
				MaxConcurrentExecutions: 50,
				RateLimitPerMinute:      600,
				DailyTokenLimit:         20_000_000,
			},
		},
	}
}

// DefaultRetentionConfig returns the built-in retention defaults.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		SweepInterval:  Duration(10 * time.Minute),
		AuditRetention: Duration(90 * 24 * time.Hour),
	}
}

// DefaultRedisConfig returns the built-in Redis defaults.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:         "localhost:6379",
		StreamMaxLen: 10_000,
	}
}

// DefaultSlackConfig returns the built-in Slack defaults (disabled).
func DefaultSlackConfig() *SlackConfig {
	return &SlackConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}
}
