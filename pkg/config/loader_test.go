package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, yamlFile), []byte(content), 0o600))
	return dir
}

func TestInitializeWithDefaultsOnly(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Executor.MaxConcurrent)
	assert.Equal(t, 300, cfg.Executor.DefaultTimeoutSeconds)
	assert.Equal(t, 5*time.Minute, cfg.Queue.SLAFor(models.HITLPriorityCritical))
	assert.Equal(t, 4*time.Hour, cfg.Queue.SLAFor(models.HITLPriorityLow))
	assert.Equal(t, 5, cfg.Reviewer.MaxWorkload)
	assert.InDelta(t, 0.3, cfg.Feedback.MinSuccessRateRetain, 1e-9)
	assert.InDelta(t, 0.5, cfg.Feedback.SearchMinSuccessRateDefault, 1e-9)
	assert.Equal(t, 10, cfg.Tenant.LimitsFor(models.TierProfessional).MaxConcurrentExecutions)
}

func TestInitializeMergesUserOverrides(t *testing.T) {
	dir := writeConfig(t, `
executor:
  max_concurrent: 25
queue:
  sla:
    critical: 2m
reviewer:
  max_workload: 8
feedback:
  min_success_rate_retain: 0
tenant:
  tiers:
    free:
      max_agents: 1
      max_concurrent_executions: 1
      rate_limit_per_minute: 5
      daily_token_limit: 1000
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 25, cfg.Executor.MaxConcurrent)
	assert.Equal(t, 300, cfg.Executor.DefaultTimeoutSeconds, "unset fields keep defaults")
	assert.Equal(t, 2*time.Minute, cfg.Queue.SLAFor(models.HITLPriorityCritical))
	assert.Equal(t, 15*time.Minute, cfg.Queue.SLAFor(models.HITLPriorityHigh))
	assert.Equal(t, 8, cfg.Reviewer.MaxWorkload)
	assert.Zero(t, cfg.Feedback.MinSuccessRateRetain, "explicit zero disables pruning")
	assert.Equal(t, 5, cfg.Tenant.LimitsFor(models.TierFree).RateLimitPerMinute)
	assert.Equal(t, 600, cfg.Tenant.LimitsFor(models.TierEnterprise).RateLimitPerMinute)
}

func TestInitializeLoadsEscalationPolicies(t *testing.T) {
	dir := writeConfig(t, `
escalation:
  t-A:
    default_level: l1
    notification_channels: ["#support-escalations"]
    rules:
      - name: low-confidence
        trigger: confidence
        level: l2
        priority: high
        enabled: true
        conditions:
          confidence:
            max: 0.5
`)
	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	policy := cfg.EscalationPolicies["t-A"]
	require.NotNil(t, policy)
	assert.Equal(t, "t-A", policy.TenantID)
	require.Len(t, policy.Rules, 1)
	assert.Equal(t, models.LevelL2, policy.Rules[0].Level)
	require.NotNil(t, policy.Rules[0].Conditions["confidence"].Max)
	assert.InDelta(t, 0.5, *policy.Rules[0].Conditions["confidence"].Max, 1e-9)
}

func TestInitializeRejectsInvalidConfig(t *testing.T) {
	tests := []struct {
		name, yaml string
	}{
		{"unknown sla priority", "queue:\n  sla:\n    urgent: 1m\n"},
		{"negative sla", "queue:\n  sla:\n    high: -5m\n"},
		{"bad escalation level", "escalation:\n  t-A:\n    rules:\n      - name: r\n        level: l9\n        priority: high\n"},
		{"bad escalation priority", "escalation:\n  t-A:\n    rules:\n      - name: r\n        level: l1\n        priority: urgent\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := writeConfig(t, tt.yaml)
			_, err := Initialize(context.Background(), dir)
			assert.Error(t, err)
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("ORCH_TEST_CHANNEL", "#escalations")

	out := ExpandEnv([]byte("slack:\n  channel: \"{{.ORCH_TEST_CHANNEL}}\"\n"))
	assert.Contains(t, string(out), "#escalations")

	// Literal $ content passes through untouched.
	raw := []byte("pattern: \"^secret.*$\"")
	assert.Equal(t, raw, ExpandEnv(raw))
}
