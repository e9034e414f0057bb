package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/models"
)

// PostgresStateStore is the durable StateStore and GoldenPathStore over
// PostgreSQL. Domain records are stored as JSONB documents with the
// filterable columns lifted out for indexing.
type PostgresStateStore struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ StateStore      = (*PostgresStateStore)(nil)
	_ GoldenPathStore = (*PostgresStateStore)(nil)
)

// NewPostgresStateStore wraps a migrated connection pool.
func NewPostgresStateStore(db *sql.DB) *PostgresStateStore {
	return &PostgresStateStore{db: db, now: time.Now}
}

// SaveAgentState upserts the snapshot for (agent, execution). A
// positive ttl sets an expiry after which reads treat it as missing.
func (s *PostgresStateStore) SaveAgentState(ctx context.Context, state *models.AgentState, ttl time.Duration) error {
	if state.AgentID == "" || state.ExecutionID == "" {
		return apperr.New(apperr.KindValidation, "agent state requires agent_id and execution_id")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "agent state is not serializable")
	}
	var expires *time.Time
	if ttl > 0 {
		t := s.now().Add(ttl)
		expires = &t
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_states (agent_id, execution_id, tenant_id, blueprint, status, state, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (agent_id, execution_id) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id,
		    blueprint = EXCLUDED.blueprint,
		    status = EXCLUDED.status,
		    state = EXCLUDED.state,
		    expires_at = EXCLUDED.expires_at,
		    updated_at = EXCLUDED.updated_at`,
		state.AgentID, state.ExecutionID, state.TenantID, state.Blueprint,
		string(state.Status), raw, expires, s.now())
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to save agent state")
	}
	return nil
}

// GetAgentState returns the stored snapshot or NotFound. Expired
// snapshots read as missing.
func (s *PostgresStateStore) GetAgentState(ctx context.Context, agentID, executionID string) (*models.AgentState, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT state FROM agent_states
		WHERE agent_id = $1 AND execution_id = $2
		  AND (expires_at IS NULL OR expires_at > $3)`,
		agentID, executionID, s.now()).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "agent state %s/%s not found", agentID, executionID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to load agent state")
	}
	var state models.AgentState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, err, "corrupt agent state %s/%s", agentID, executionID)
	}
	return &state, nil
}

// DeleteAgentState removes a snapshot. Deleting a missing key is a no-op.
func (s *PostgresStateStore) DeleteAgentState(ctx context.Context, agentID, executionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_states WHERE agent_id = $1 AND execution_id = $2`,
		agentID, executionID)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to delete agent state")
	}
	return nil
}

// SaveHITLRequest stores a new request. Saving an existing id fails.
func (s *PostgresStateStore) SaveHITLRequest(ctx context.Context, req *models.HITLRequest) error {
	if req.RequestID == "" {
		return apperr.New(apperr.KindValidation, "hitl request requires request_id")
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "hitl request is not serializable")
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO hitl_requests (request_id, tenant_id, agent_id, type, priority, status, assigned_to, request, sla_deadline, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (request_id) DO NOTHING`,
		req.RequestID, req.TenantID, req.AgentID, string(req.Type), string(req.Priority),
		string(req.Status), req.AssignedTo, raw, req.SLADeadline, req.CreatedAt, s.now())
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to save hitl request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindIllegalState, "hitl request %s already exists", req.RequestID)
	}
	return nil
}

// GetHITLRequest returns a stored request or NotFound.
func (s *PostgresStateStore) GetHITLRequest(ctx context.Context, requestID string) (*models.HITLRequest, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT request FROM hitl_requests WHERE request_id = $1`, requestID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "hitl request %s not found", requestID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to load hitl request")
	}
	var req models.HITLRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, err, "corrupt hitl request %s", requestID)
	}
	return &req, nil
}

// UpdateHITLRequest replaces a stored request. Unknown ids fail.
func (s *PostgresStateStore) UpdateHITLRequest(ctx context.Context, req *models.HITLRequest) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "hitl request is not serializable")
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE hitl_requests
		SET status = $2, priority = $3, assigned_to = $4, request = $5, updated_at = $6
		WHERE request_id = $1`,
		req.RequestID, string(req.Status), string(req.Priority), req.AssignedTo, raw, s.now())
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to update hitl request")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.New(apperr.KindNotFound, "hitl request %s not found", req.RequestID)
	}
	return nil
}

// ListHITLRequests returns requests matching the filter, ordered by
// creation time ascending.
func (s *PostgresStateStore) ListHITLRequests(ctx context.Context, filter models.HITLFilter) ([]*models.HITLRequest, error) {
	where := make([]string, 0, 6)
	args := make([]any, 0, 6)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.AgentID != "" {
		add("agent_id = $%d", filter.AgentID)
	}
	if filter.AssignedTo != "" {
		add("assigned_to = $%d", filter.AssignedTo)
	}
	if filter.Type != "" {
		add("type = $%d", string(filter.Type))
	}
	if filter.Priority != "" {
		add("priority = $%d", string(filter.Priority))
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}

	query := `SELECT request FROM hitl_requests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to list hitl requests")
	}
	defer rows.Close()

	out := make([]*models.HITLRequest, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan hitl request")
		}
		var req models.HITLRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return nil, apperr.Wrap(apperr.KindFatal, err, "corrupt hitl request row")
		}
		out = append(out, &req)
	}
	return out, rows.Err()
}

// AppendAuditEvent records an event in the append-only audit log.
func (s *PostgresStateStore) AppendAuditEvent(ctx context.Context, ev *models.AuditEvent) error {
	created := ev.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "audit payload is not serializable")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, event_type, tenant_id, agent_id, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.EventID, ev.EventType, ev.TenantID, ev.AgentID, payload, created)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to append audit event")
	}
	return nil
}

// QueryAuditEvents returns matching events newest first. Start is
// inclusive, End exclusive.
func (s *PostgresStateStore) QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	where := make([]string, 0, 5)
	args := make([]any, 0, 5)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.TenantID != "" {
		add("tenant_id = $%d", filter.TenantID)
	}
	if filter.AgentID != "" {
		add("agent_id = $%d", filter.AgentID)
	}
	if filter.EventType != "" {
		add("event_type = $%d", filter.EventType)
	}
	if filter.Start != nil {
		add("created_at >= $%d", *filter.Start)
	}
	if filter.End != nil {
		add("created_at < $%d", *filter.End)
	}

	query := `SELECT event_id, event_type, tenant_id, agent_id, payload, created_at FROM audit_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to query audit events")
	}
	defer rows.Close()

	out := make([]*models.AuditEvent, 0)
	for rows.Next() {
		var (
			ev      models.AuditEvent
			payload []byte
		)
		if err := rows.Scan(&ev.EventID, &ev.EventType, &ev.TenantID, &ev.AgentID, &payload, &ev.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan audit event")
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, apperr.Wrap(apperr.KindFatal, err, "corrupt audit payload %s", ev.EventID)
			}
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// SaveTenant inserts or replaces a tenant record.
func (s *PostgresStateStore) SaveTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.TenantID == "" {
		return apperr.New(apperr.KindValidation, "tenant requires tenant_id")
	}
	limits, err := json.Marshal(tenant.Limits)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "tenant limits are not serializable")
	}
	created := tenant.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tenants (tenant_id, name, tier, status, limits, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (tenant_id) DO UPDATE
		SET name = EXCLUDED.name,
		    tier = EXCLUDED.tier,
		    status = EXCLUDED.status,
		    limits = EXCLUDED.limits,
		    updated_at = EXCLUDED.updated_at`,
		tenant.TenantID, tenant.Name, string(tenant.Tier), string(tenant.Status),
		limits, created, s.now())
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to save tenant")
	}
	return nil
}

// GetTenant returns a tenant record or NotFound.
func (s *PostgresStateStore) GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error) {
	var (
		t      models.Tenant
		tier   string
		status string
		limits []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, name, tier, status, limits, created_at, updated_at
		FROM tenants WHERE tenant_id = $1`, tenantID).
		Scan(&t.TenantID, &t.Name, &tier, &status, &limits, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.New(apperr.KindNotFound, "tenant %s not found", tenantID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to load tenant")
	}
	t.Tier = models.TenantTier(tier)
	t.Status = models.TenantStatus(status)
	if err := json.Unmarshal(limits, &t.Limits); err != nil {
		return nil, apperr.Wrap(apperr.KindFatal, err, "corrupt tenant limits %s", tenantID)
	}
	return &t, nil
}

// ListTenants returns tenants with the given status, or all tenants
// when status is empty, ordered by id.
func (s *PostgresStateStore) ListTenants(ctx context.Context, status models.TenantStatus) ([]*models.Tenant, error) {
	query := `SELECT tenant_id, name, tier, status, limits, created_at, updated_at FROM tenants`
	args := []any{}
	if status != "" {
		query += " WHERE status = $1"
		args = append(args, string(status))
	}
	query += " ORDER BY tenant_id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to list tenants")
	}
	defer rows.Close()

	out := make([]*models.Tenant, 0)
	for rows.Next() {
		var (
			t          models.Tenant
			tier, st   string
			limitsJSON []byte
		)
		if err := rows.Scan(&t.TenantID, &t.Name, &tier, &st, &limitsJSON, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan tenant")
		}
		t.Tier = models.TenantTier(tier)
		t.Status = models.TenantStatus(st)
		if err := json.Unmarshal(limitsJSON, &t.Limits); err != nil {
			return nil, apperr.Wrap(apperr.KindFatal, err, "corrupt tenant limits %s", t.TenantID)
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// SaveGoldenPath inserts or replaces a golden path by fingerprint.
func (s *PostgresStateStore) SaveGoldenPath(ctx context.Context, path *models.GoldenPath) error {
	if path.Fingerprint == "" {
		return apperr.New(apperr.KindValidation, "golden path requires a fingerprint")
	}
	raw, err := json.Marshal(path)
	if err != nil {
		return apperr.Wrap(apperr.KindValidation, err, "golden path is not serializable")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO golden_paths (fingerprint, tenant_id, blueprint, category, success_count, failure_count, path, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (fingerprint) DO UPDATE
		SET tenant_id = EXCLUDED.tenant_id,
		    blueprint = EXCLUDED.blueprint,
		    category = EXCLUDED.category,
		    success_count = EXCLUDED.success_count,
		    failure_count = EXCLUDED.failure_count,
		    path = EXCLUDED.path,
		    updated_at = EXCLUDED.updated_at`,
		path.Fingerprint, path.TenantID, path.Blueprint, path.Category,
		path.SuccessCount, path.FailureCount, raw, s.now())
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to save golden path")
	}
	return nil
}

// ListGoldenPaths returns paths for a tenant, or all when tenantID is
// empty, ordered by fingerprint.
func (s *PostgresStateStore) ListGoldenPaths(ctx context.Context, tenantID string) ([]*models.GoldenPath, error) {
	query := `SELECT path FROM golden_paths`
	args := []any{}
	if tenantID != "" {
		query += " WHERE tenant_id = $1"
		args = append(args, tenantID)
	}
	query += " ORDER BY fingerprint ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to list golden paths")
	}
	defer rows.Close()

	out := make([]*models.GoldenPath, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, apperr.Wrap(apperr.KindTransient, err, "failed to scan golden path")
		}
		var g models.GoldenPath
		if err := json.Unmarshal(raw, &g); err != nil {
			return nil, apperr.Wrap(apperr.KindFatal, err, "corrupt golden path row")
		}
		out = append(out, &g)
	}
	return out, rows.Err()
}

// DeleteGoldenPath removes a path. Missing fingerprints are tolerated.
func (s *PostgresStateStore) DeleteGoldenPath(ctx context.Context, fingerprint string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM golden_paths WHERE fingerprint = $1`, fingerprint)
	if err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to delete golden path")
	}
	return nil
}

// CleanupExpiredStates removes expired snapshots and returns how many
// rows were deleted. Intended for a periodic maintenance goroutine.
func (s *PostgresStateStore) CleanupExpiredStates(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM agent_states WHERE expires_at IS NOT NULL AND expires_at <= $1`, s.now())
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, err, "failed to clean up expired states")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// DeleteAuditEventsBefore prunes audit events created before the
// cutoff and returns how many rows were deleted.
func (s *PostgresStateStore) DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, err, "failed to prune audit events")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// HealthCheck pings the database.
func (s *PostgresStateStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "database ping failed")
	}
	return nil
}
