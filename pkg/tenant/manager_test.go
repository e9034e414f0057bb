package tenant

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/store"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(config.DefaultTenantConfig(), store.NewMemoryStateStore(), nil)
}

func TestCreateAndLifecycle(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)

	created, err := m.Create(ctx, "t-A", "Acme", models.TierProfessional)
	require.NoError(t, err)
	assert.Equal(t, models.TenantStatusActive, created.Status)
	assert.Equal(t, 10, created.Limits.MaxConcurrentExecutions)

	_, err = m.Create(ctx, "t-A", "Acme", models.TierProfessional)
	assert.True(t, apperr.Is(err, apperr.KindIllegalState))

	require.NoError(t, m.Suspend(ctx, "t-A"))
	assert.True(t, apperr.Is(m.BeginExecution("t-A"), apperr.KindIllegalState))

	require.NoError(t, m.Resume(ctx, "t-A"))
	require.NoError(t, m.BeginExecution("t-A"))
	m.EndExecution("t-A")

	require.NoError(t, m.Delete(ctx, "t-A"))
	assert.True(t, apperr.Is(m.Resume(ctx, "t-A"), apperr.KindIllegalState), "deleted is terminal")
}

func TestConcurrentExecutionLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "t-A", "Acme", models.TierFree) // limit 1
	require.NoError(t, err)

	require.NoError(t, m.BeginExecution("t-A"))
	err = m.BeginExecution("t-A")
	require.True(t, apperr.Is(err, apperr.KindQuotaExceeded))

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Greater(t, ae.RetryAfter, time.Duration(0), "rejection carries a retry hint")

	m.EndExecution("t-A")
	assert.NoError(t, m.BeginExecution("t-A"), "slot freed after completion")
}

func TestQuotaNeverOvercommitsUnderRace(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "t-A", "Acme", models.TierStarter) // concurrency 3
	require.NoError(t, err)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if m.BeginExecution("t-A") == nil {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, admitted)
	usage, err := m.Usage("t-A")
	require.NoError(t, err)
	assert.Equal(t, 3, usage.ConcurrentExecutions)
}

func TestRateLimitResetsPerMinuteEpoch(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	now := time.Date(2026, 3, 1, 12, 0, 30, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Create(ctx, "t-A", "Acme", models.TierFree) // rate 10/min
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, m.BeginExecution("t-A"))
		m.EndExecution("t-A")
	}
	err = m.BeginExecution("t-A")
	require.True(t, apperr.Is(err, apperr.KindQuotaExceeded))

	var appErr *apperr.Error
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, 30*time.Second, appErr.RetryAfter)

	// Same epoch: a second sweep changes nothing.
	m.resetAll(now)
	usage, err := m.Usage("t-A")
	require.NoError(t, err)
	assert.Equal(t, 10, usage.RequestsThisMinute)

	// Next minute: the counter resets exactly once.
	now = now.Add(time.Minute)
	m.resetAll(now)
	m.resetAll(now)
	usage, err = m.Usage("t-A")
	require.NoError(t, err)
	assert.Zero(t, usage.RequestsThisMinute)
	assert.NoError(t, m.BeginExecution("t-A"))
}

func TestDailyTokenLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	_, err := m.Create(ctx, "t-A", "Acme", models.TierFree) // 50k tokens/day
	require.NoError(t, err)

	require.NoError(t, m.ConsumeTokens("t-A", 49_000))
	err = m.ConsumeTokens("t-A", 2_000)
	require.True(t, apperr.Is(err, apperr.KindQuotaExceeded))

	// UTC midnight rolls the day epoch.
	now = now.Add(2 * time.Hour)
	require.NoError(t, m.ConsumeTokens("t-A", 2_000))
}

func TestAgentCountLimit(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t)
	_, err := m.Create(ctx, "t-A", "Acme", models.TierFree) // 2 agents
	require.NoError(t, err)

	require.NoError(t, m.RegisterAgent("t-A"))
	require.NoError(t, m.RegisterAgent("t-A"))
	assert.True(t, apperr.Is(m.RegisterAgent("t-A"), apperr.KindQuotaExceeded))

	m.UnregisterAgent("t-A")
	assert.NoError(t, m.RegisterAgent("t-A"))
}

func TestLoadFromStoreResetsRunningCounters(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStateStore()
	require.NoError(t, st.SaveTenant(ctx, &models.Tenant{
		TenantID: "t-A",
		Tier:     models.TierStarter,
		Status:   models.TenantStatusActive,
		Usage:    models.TenantUsage{ConcurrentExecutions: 7},
	}))

	m := NewManager(config.DefaultTenantConfig(), st, nil)
	require.NoError(t, m.LoadFromStore(ctx))

	usage, err := m.Usage("t-A")
	require.NoError(t, err)
	assert.Zero(t, usage.ConcurrentExecutions, "process-scoped counters restart")

	got, err := m.Get("t-A")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Limits.MaxConcurrentExecutions, "limits rebound from tier table")
}

func TestUnknownTenant(t *testing.T) {
	m := newTestManager(t)
	assert.True(t, apperr.Is(m.BeginExecution("nope"), apperr.KindNotFound))
	_, err := m.Get("nope")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}
