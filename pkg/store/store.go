// Package store defines the persistence contracts the runtime depends
// on and provides in-memory implementations for single-process use.
package store

import (
	"context"
	"time"

	"github.com/supportstack/orchestrad/pkg/models"
)

// StateStore persists agent run state, HITL requests, audit events, and
// tenants. Implementations may be in-memory or relational; audit queries
// must return events in timestamp-descending order.
type StateStore interface {
	SaveAgentState(ctx context.Context, state *models.AgentState, ttl time.Duration) error
	GetAgentState(ctx context.Context, agentID, executionID string) (*models.AgentState, error)
	DeleteAgentState(ctx context.Context, agentID, executionID string) error

	SaveHITLRequest(ctx context.Context, req *models.HITLRequest) error
	GetHITLRequest(ctx context.Context, requestID string) (*models.HITLRequest, error)
	UpdateHITLRequest(ctx context.Context, req *models.HITLRequest) error
	ListHITLRequests(ctx context.Context, filter models.HITLFilter) ([]*models.HITLRequest, error)

	AppendAuditEvent(ctx context.Context, ev *models.AuditEvent) error
	QueryAuditEvents(ctx context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error)

	SaveTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenant(ctx context.Context, tenantID string) (*models.Tenant, error)
	ListTenants(ctx context.Context, status models.TenantStatus) ([]*models.Tenant, error)

	HealthCheck(ctx context.Context) error
}

// GoldenPathStore persists the learning loop's catalog across
// restarts. Delete must tolerate missing fingerprints.
type GoldenPathStore interface {
	SaveGoldenPath(ctx context.Context, path *models.GoldenPath) error
	ListGoldenPaths(ctx context.Context, tenantID string) ([]*models.GoldenPath, error)
	DeleteGoldenPath(ctx context.Context, fingerprint string) error
}

// Document is a retrieval-store entry. Callers supply stable ids.
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SearchResult is one vector store hit.
type SearchResult struct {
	Document
	Score float64 `json:"score"`
}

// VectorStore is the retrieval backend for golden paths. Delete must
// tolerate missing ids.
type VectorStore interface {
	Search(ctx context.Context, query string, topK int, minScore float64, filter map[string]any) ([]SearchResult, error)
	Upsert(ctx context.Context, docs []Document) error
	Delete(ctx context.Context, ids []string) error
}
