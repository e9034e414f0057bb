package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/resilience"
)

// yamlFile is the single configuration file read from the config dir.
const yamlFile = "orchestrad.yaml"

// rootYAML represents the complete orchestrad.yaml file structure.
type rootYAML struct {
	Executor   *ExecutorConfig                      `yaml:"executor"`
	Queue      *QueueConfig                         `yaml:"queue"`
	Reviewer   *ReviewerConfig                      `yaml:"reviewer"`
	Feedback   *FeedbackConfig                      `yaml:"feedback"`
	Tenant     *TenantConfig                        `yaml:"tenant"`
	Retention  *RetentionConfig                     `yaml:"retention"`
	Circuit    map[string]resilience.BreakerConfig  `yaml:"circuit"`
	Redis      *RedisConfig                         `yaml:"redis"`
	Slack      *SlackConfig                         `yaml:"slack"`
	Escalation map[string]*models.EscalationPolicy  `yaml:"escalation"`
}

// Initialize loads, merges, validates, and returns ready-to-use
// configuration. A missing orchestrad.yaml is not an error: the
// built-in defaults stand alone.
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"tiers", stats.Tiers,
		"escalation_policies", stats.EscalationPolicies,
		"circuit_breakers", stats.CircuitBreakers)
	return cfg, nil
}

func load(_ context.Context, configDir string) (*Config, error) {
	var root rootYAML
	if err := loadYAML(configDir, yamlFile, &root); err != nil {
		if !os.IsNotExist(err) && !isNotFound(err) {
			return nil, NewLoadError(yamlFile, err)
		}
		slog.Warn("No configuration file found, using built-in defaults",
			"path", filepath.Join(configDir, yamlFile))
	}

	executor := DefaultExecutorConfig()
	if root.Executor != nil {
		if err := mergo.Merge(executor, root.Executor, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge executor config: %w", err)
		}
	}

	queue := DefaultQueueConfig()
	if root.Queue != nil {
		if err := mergo.Merge(queue, root.Queue, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge queue config: %w", err)
		}
	}

	reviewer := DefaultReviewerConfig()
	if root.Reviewer != nil && root.Reviewer.MaxWorkload > 0 {
		reviewer.MaxWorkload = root.Reviewer.MaxWorkload
	}

	feedback := DefaultFeedbackConfig()
	if root.Feedback != nil {
		// Zero is meaningful here (disables pruning), so the merge is
		// explicit rather than mergo's nonzero-wins.
		feedback.MinSuccessRateRetain = root.Feedback.MinSuccessRateRetain
		if root.Feedback.SearchMinSuccessRateDefault > 0 {
			feedback.SearchMinSuccessRateDefault = root.Feedback.SearchMinSuccessRateDefault
		}
	}

	tenant := DefaultTenantConfig()
	if root.Tenant != nil {
		for tier, limits := range root.Tenant.Tiers {
			tenant.Tiers[tier] = limits
		}
	}

	retention := DefaultRetentionConfig()
	if root.Retention != nil {
		if err := mergo.Merge(retention, root.Retention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retention config: %w", err)
		}
	}

	redis := DefaultRedisConfig()
	if root.Redis != nil {
		if err := mergo.Merge(redis, root.Redis, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge redis config: %w", err)
		}
	}

	slack := DefaultSlackConfig()
	if root.Slack != nil {
		slack = root.Slack
		if slack.TokenEnv == "" {
			slack.TokenEnv = "SLACK_BOT_TOKEN"
		}
	}

	policies := root.Escalation
	if policies == nil {
		policies = make(map[string]*models.EscalationPolicy)
	}
	for tenantID, policy := range policies {
		if policy.TenantID == "" {
			policy.TenantID = tenantID
		}
	}

	return &Config{
		configDir:          configDir,
		Executor:           executor,
		Queue:              queue,
		Reviewer:           reviewer,
		Feedback:           feedback,
		Tenant:             tenant,
		Retention:          retention,
		Circuit:            root.Circuit,
		Redis:              redis,
		Slack:              slack,
		EscalationPolicies: policies,
	}, nil
}

func loadYAML(configDir, filename string, target any) error {
	path := filepath.Join(configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, ErrConfigNotFound)
}
