// Package tenant enforces per-tenant quotas and lifecycle status.
// Checks run before resource consumption (check-then-commit); a single
// scheduler-owned task resets the periodic counters.
package tenant

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/store"
)

// resetCheckInterval bounds how stale a periodic counter can get.
const resetCheckInterval = 5 * time.Second

type entry struct {
	mu sync.Mutex
	t  models.Tenant

	// Epochs of the last applied reset, making resets idempotent when
	// a sweep runs twice within the same window.
	minuteEpoch int64
	dayEpoch    int64
}

// Manager is the process-wide tenant index and quota gate.
type Manager struct {
	cfg   *config.TenantConfig
	store store.StateStore
	bus   *events.Bus

	mu      sync.RWMutex
	tenants map[string]*entry

	now func() time.Time
}

// NewManager creates a tenant manager. The bus is optional.
func NewManager(cfg *config.TenantConfig, st store.StateStore, bus *events.Bus) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   st,
		tenants: make(map[string]*entry),
		bus:     bus,
		now:     time.Now,
	}
}

// LoadFromStore hydrates the in-memory index from persisted tenants.
// Running counters restart at zero; they are process-scoped.
func (m *Manager) LoadFromStore(ctx context.Context) error {
	persisted, err := m.store.ListTenants(ctx, "")
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to load tenants")
	}
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range persisted {
		cp := *t
		cp.Usage = models.TenantUsage{}
		cp.Limits = m.cfg.LimitsFor(cp.Tier)
		m.tenants[cp.TenantID] = &entry{
			t:           cp,
			minuteEpoch: minuteEpoch(now),
			dayEpoch:    dayEpoch(now),
		}
	}
	slog.Info("Tenants loaded", "count", len(persisted))
	return nil
}

// Create registers a new active tenant with the tier's limit table.
func (m *Manager) Create(ctx context.Context, tenantID, name string, tier models.TenantTier) (*models.Tenant, error) {
	if tenantID == "" {
		return nil, apperr.New(apperr.KindValidation, "tenant_id is required")
	}
	now := m.now()
	t := models.Tenant{
		TenantID:  tenantID,
		Name:      name,
		Tier:      tier,
		Status:    models.TenantStatusActive,
		Limits:    m.cfg.LimitsFor(tier),
		CreatedAt: now,
		UpdatedAt: now,
	}

	m.mu.Lock()
	if _, ok := m.tenants[tenantID]; ok {
		m.mu.Unlock()
		return nil, apperr.New(apperr.KindIllegalState, "tenant %s already exists", tenantID)
	}
	m.tenants[tenantID] = &entry{
		t:           t,
		minuteEpoch: minuteEpoch(now),
		dayEpoch:    dayEpoch(now),
	}
	m.mu.Unlock()

	if err := m.store.SaveTenant(ctx, &t); err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to persist tenant %s", tenantID)
	}
	m.publish(events.EventTypeTenantCreated, tenantID, map[string]any{"tier": string(tier)})
	slog.Info("Tenant created", "tenant_id", tenantID, "tier", tier)
	return &t, nil
}

// Get returns a snapshot of the tenant.
func (m *Manager) Get(tenantID string) (*models.Tenant, error) {
	e, err := m.entry(tenantID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	cp := e.t
	e.mu.Unlock()
	return &cp, nil
}

// List returns tenant snapshots, optionally filtered by status.
func (m *Manager) List(status models.TenantStatus) []*models.Tenant {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.tenants))
	for _, e := range m.tenants {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	out := make([]*models.Tenant, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		cp := e.t
		e.mu.Unlock()
		if status != "" && cp.Status != status {
			continue
		}
		out = append(out, &cp)
	}
	return out
}

// Suspend halts a tenant; running executions finish but new ones are
// rejected.
func (m *Manager) Suspend(ctx context.Context, tenantID string) error {
	return m.setStatus(ctx, tenantID, models.TenantStatusSuspended)
}

// Resume reactivates a suspended tenant.
func (m *Manager) Resume(ctx context.Context, tenantID string) error {
	return m.setStatus(ctx, tenantID, models.TenantStatusActive)
}

// Delete marks a tenant deleted. The record is retained for audit.
func (m *Manager) Delete(ctx context.Context, tenantID string) error {
	return m.setStatus(ctx, tenantID, models.TenantStatusDeleted)
}

func (m *Manager) setStatus(ctx context.Context, tenantID string, status models.TenantStatus) error {
	e, err := m.entry(tenantID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.t.Status == models.TenantStatusDeleted {
		e.mu.Unlock()
		return apperr.New(apperr.KindIllegalState, "tenant %s is deleted", tenantID)
	}
	e.t.Status = status
	e.t.UpdatedAt = m.now()
	cp := e.t
	e.mu.Unlock()

	if err := m.store.SaveTenant(ctx, &cp); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to persist tenant %s", tenantID)
	}
	m.publish(events.EventTypeTenantUpdated, tenantID, map[string]any{"status": string(status)})
	return nil
}

// BeginExecution admits one execution for the tenant. On success the
// concurrency and rate counters are committed; EndExecution must be
// called when the execution finishes.
func (m *Manager) BeginExecution(tenantID string) error {
	e, err := m.entry(tenantID)
	if err != nil {
		return err
	}
	now := m.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	m.applyResetsLocked(e, now)

	if e.t.Status != models.TenantStatusActive {
		return apperr.New(apperr.KindIllegalState, "tenant %s is %s", tenantID, e.t.Status)
	}
	if e.t.Usage.ConcurrentExecutions >= e.t.Limits.MaxConcurrentExecutions {
		// Slots free as running executions finish, so a short poll is
		// the best hint available.
		return apperr.New(apperr.KindQuotaExceeded,
			"tenant %s at concurrent execution limit %d", tenantID, e.t.Limits.MaxConcurrentExecutions).
			WithRetryAfter(time.Second)
	}
	if e.t.Usage.RequestsThisMinute >= e.t.Limits.RateLimitPerMinute {
		return apperr.New(apperr.KindQuotaExceeded,
			"tenant %s at rate limit %d/min", tenantID, e.t.Limits.RateLimitPerMinute).
			WithRetryAfter(untilNextMinute(now))
	}
	e.t.Usage.ConcurrentExecutions++
	e.t.Usage.RequestsThisMinute++
	return nil
}

// EndExecution releases one execution slot (non-negative floor).
func (m *Manager) EndExecution(tenantID string) {
	e, err := m.entry(tenantID)
	if err != nil {
		return
	}
	e.mu.Lock()
	if e.t.Usage.ConcurrentExecutions > 0 {
		e.t.Usage.ConcurrentExecutions--
	}
	e.mu.Unlock()
}

// ConsumeTokens accounts LLM token usage against the daily limit.
func (m *Manager) ConsumeTokens(tenantID string, n int64) error {
	e, err := m.entry(tenantID)
	if err != nil {
		return err
	}
	now := m.now()

	e.mu.Lock()
	defer e.mu.Unlock()
	m.applyResetsLocked(e, now)

	if e.t.Usage.LLMTokensThisDay+n > e.t.Limits.DailyTokenLimit {
		return apperr.New(apperr.KindQuotaExceeded,
			"tenant %s at daily token limit %d", tenantID, e.t.Limits.DailyTokenLimit).
			WithRetryAfter(untilNextDay(now))
	}
	e.t.Usage.LLMTokensThisDay += n
	return nil
}

// RegisterAgent accounts one agent instance against MaxAgents.
func (m *Manager) RegisterAgent(tenantID string) error {
	e, err := m.entry(tenantID)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.t.Status != models.TenantStatusActive {
		return apperr.New(apperr.KindIllegalState, "tenant %s is %s", tenantID, e.t.Status)
	}
	if e.t.Usage.AgentsCount >= e.t.Limits.MaxAgents {
		return apperr.New(apperr.KindQuotaExceeded,
			"tenant %s at agent limit %d", tenantID, e.t.Limits.MaxAgents)
	}
	e.t.Usage.AgentsCount++
	return nil
}

// UnregisterAgent releases one agent slot (non-negative floor).
func (m *Manager) UnregisterAgent(tenantID string) {
	e, err := m.entry(tenantID)
	if err != nil {
		return
	}
	e.mu.Lock()
	if e.t.Usage.AgentsCount > 0 {
		e.t.Usage.AgentsCount--
	}
	e.mu.Unlock()
}

// Usage returns a point-in-time counter snapshot.
func (m *Manager) Usage(tenantID string) (models.TenantUsage, error) {
	e, err := m.entry(tenantID)
	if err != nil {
		return models.TenantUsage{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m.applyResetsLocked(e, m.now())
	return e.t.Usage, nil
}

// Run owns the periodic counter resets until the context is cancelled.
// Exactly one Run goroutine should exist per process.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(resetCheckInterval)
	defer ticker.Stop()
	slog.Info("Tenant counter reset task started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("Tenant counter reset task stopped")
			return
		case <-ticker.C:
			m.resetAll(m.now())
		}
	}
}

func (m *Manager) resetAll(now time.Time) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.tenants))
	for _, e := range m.tenants {
		entries = append(entries, e)
	}
	m.mu.RUnlock()
	for _, e := range entries {
		e.mu.Lock()
		m.applyResetsLocked(e, now)
		e.mu.Unlock()
	}
}

// applyResetsLocked zeroes periodic counters when their epoch has
// rolled over. A missed tick is tolerated; applying twice within the
// same epoch is a no-op.
func (m *Manager) applyResetsLocked(e *entry, now time.Time) {
	if epoch := minuteEpoch(now); epoch != e.minuteEpoch {
		e.t.Usage.RequestsThisMinute = 0
		e.minuteEpoch = epoch
	}
	if epoch := dayEpoch(now); epoch != e.dayEpoch {
		e.t.Usage.LLMTokensThisDay = 0
		e.dayEpoch = epoch
	}
}

func (m *Manager) entry(tenantID string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.tenants[tenantID]
	m.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "tenant %s not found", tenantID)
	}
	return e, nil
}

func (m *Manager) publish(eventType, tenantID string, payload map[string]any) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(events.Event{
		Type:      eventType,
		TenantID:  tenantID,
		Payload:   payload,
		Timestamp: m.now(),
	})
}

func minuteEpoch(t time.Time) int64 { return t.Unix() / 60 }

func dayEpoch(t time.Time) int64 {
	return t.UTC().Unix() / (24 * 60 * 60)
}

func untilNextMinute(t time.Time) time.Duration {
	return time.Duration(60-t.Unix()%60) * time.Second
}

func untilNextDay(t time.Time) time.Duration {
	u := t.UTC()
	next := time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(u)
}
