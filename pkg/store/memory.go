package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/models"
)

type stateEntry struct {
	state     *models.AgentState
	expiresAt time.Time // zero means no TTL
}

// MemoryStateStore is a mutex-guarded in-process StateStore.
type MemoryStateStore struct {
	mu     sync.RWMutex
	states map[string]stateEntry // agentID "/" executionID
	hitl   map[string]*models.HITLRequest
	audit  []*models.AuditEvent
	tenant map[string]*models.Tenant
	golden map[string]*models.GoldenPath

	now func() time.Time
}

// NewMemoryStateStore creates an empty in-memory state store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		states: make(map[string]stateEntry),
		hitl:   make(map[string]*models.HITLRequest),
		tenant: make(map[string]*models.Tenant),
		golden: make(map[string]*models.GoldenPath),
		now:    time.Now,
	}
}

func stateKey(agentID, executionID string) string {
	return agentID + "/" + executionID
}

// SaveAgentState stores a snapshot of the state, replacing any previous
// snapshot for the same (agent, execution) pair.
func (s *MemoryStateStore) SaveAgentState(_ context.Context, state *models.AgentState, ttl time.Duration) error {
	if state.AgentID == "" || state.ExecutionID == "" {
		return apperr.New(apperr.KindValidation, "agent state requires agent_id and execution_id")
	}
	entry := stateEntry{state: cloneState(state)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.mu.Lock()
	s.states[stateKey(state.AgentID, state.ExecutionID)] = entry
	s.mu.Unlock()
	return nil
}

// GetAgentState returns the stored snapshot or NotFound.
func (s *MemoryStateStore) GetAgentState(_ context.Context, agentID, executionID string) (*models.AgentState, error) {
	s.mu.RLock()
	entry, ok := s.states[stateKey(agentID, executionID)]
	s.mu.RUnlock()
	if !ok || (!entry.expiresAt.IsZero() && s.now().After(entry.expiresAt)) {
		return nil, apperr.New(apperr.KindNotFound, "agent state %s/%s not found", agentID, executionID)
	}
	return cloneState(entry.state), nil
}

// DeleteAgentState removes a snapshot. Deleting a missing key is a no-op.
func (s *MemoryStateStore) DeleteAgentState(_ context.Context, agentID, executionID string) error {
	s.mu.Lock()
	delete(s.states, stateKey(agentID, executionID))
	s.mu.Unlock()
	return nil
}

// SaveHITLRequest stores a new request. Saving an existing id fails.
func (s *MemoryStateStore) SaveHITLRequest(_ context.Context, req *models.HITLRequest) error {
	if req.RequestID == "" {
		return apperr.New(apperr.KindValidation, "hitl request requires request_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hitl[req.RequestID]; ok {
		return apperr.New(apperr.KindIllegalState, "hitl request %s already exists", req.RequestID)
	}
	s.hitl[req.RequestID] = cloneRequest(req)
	return nil
}

// GetHITLRequest returns a stored request or NotFound.
func (s *MemoryStateStore) GetHITLRequest(_ context.Context, requestID string) (*models.HITLRequest, error) {
	s.mu.RLock()
	req, ok := s.hitl[requestID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "hitl request %s not found", requestID)
	}
	return cloneRequest(req), nil
}

// UpdateHITLRequest replaces a stored request. Unknown ids fail.
func (s *MemoryStateStore) UpdateHITLRequest(_ context.Context, req *models.HITLRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hitl[req.RequestID]; !ok {
		return apperr.New(apperr.KindNotFound, "hitl request %s not found", req.RequestID)
	}
	s.hitl[req.RequestID] = cloneRequest(req)
	return nil
}

// ListHITLRequests returns requests matching the filter, ordered by
// creation time ascending.
func (s *MemoryStateStore) ListHITLRequests(_ context.Context, filter models.HITLFilter) ([]*models.HITLRequest, error) {
	s.mu.RLock()
	out := make([]*models.HITLRequest, 0)
	for _, req := range s.hitl {
		if filter.Matches(req) {
			out = append(out, cloneRequest(req))
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// AppendAuditEvent records an event in the append-only audit log.
func (s *MemoryStateStore) AppendAuditEvent(_ context.Context, ev *models.AuditEvent) error {
	cp := *ev
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = s.now()
	}
	s.mu.Lock()
	s.audit = append(s.audit, &cp)
	s.mu.Unlock()
	return nil
}

// QueryAuditEvents returns matching events newest first. Start is
// inclusive, End exclusive.
func (s *MemoryStateStore) QueryAuditEvents(_ context.Context, filter models.AuditFilter) ([]*models.AuditEvent, error) {
	s.mu.RLock()
	matched := make([]*models.AuditEvent, 0)
	for _, ev := range s.audit {
		if filter.TenantID != "" && ev.TenantID != filter.TenantID {
			continue
		}
		if filter.AgentID != "" && ev.AgentID != filter.AgentID {
			continue
		}
		if filter.EventType != "" && ev.EventType != filter.EventType {
			continue
		}
		if filter.Start != nil && ev.CreatedAt.Before(*filter.Start) {
			continue
		}
		if filter.End != nil && !ev.CreatedAt.Before(*filter.End) {
			continue
		}
		cp := *ev
		matched = append(matched, &cp)
	}
	s.mu.RUnlock()

	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []*models.AuditEvent{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

// CleanupExpiredStates drops snapshots whose TTL elapsed and returns
// how many were removed.
func (s *MemoryStateStore) CleanupExpiredStates(_ context.Context) (int64, error) {
	now := s.now()
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for key, entry := range s.states {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(s.states, key)
			removed++
		}
	}
	return removed, nil
}

// DeleteAuditEventsBefore prunes audit events created before the
// cutoff and returns how many were removed.
func (s *MemoryStateStore) DeleteAuditEventsBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.audit[:0]
	var removed int64
	for _, ev := range s.audit {
		if ev.CreatedAt.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, ev)
	}
	s.audit = kept
	return removed, nil
}

// SaveTenant inserts or replaces a tenant record.
func (s *MemoryStateStore) SaveTenant(_ context.Context, tenant *models.Tenant) error {
	if tenant.TenantID == "" {
		return apperr.New(apperr.KindValidation, "tenant requires tenant_id")
	}
	cp := *tenant
	s.mu.Lock()
	s.tenant[tenant.TenantID] = &cp
	s.mu.Unlock()
	return nil
}

// GetTenant returns a tenant record or NotFound.
func (s *MemoryStateStore) GetTenant(_ context.Context, tenantID string) (*models.Tenant, error) {
	s.mu.RLock()
	t, ok := s.tenant[tenantID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "tenant %s not found", tenantID)
	}
	cp := *t
	return &cp, nil
}

// ListTenants returns tenants with the given status, or all tenants
// when status is empty, ordered by id.
func (s *MemoryStateStore) ListTenants(_ context.Context, status models.TenantStatus) ([]*models.Tenant, error) {
	s.mu.RLock()
	out := make([]*models.Tenant, 0, len(s.tenant))
	for _, t := range s.tenant {
		if status != "" && t.Status != status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TenantID < out[j].TenantID })
	return out, nil
}

// SaveGoldenPath inserts or replaces a golden path by fingerprint.
func (s *MemoryStateStore) SaveGoldenPath(_ context.Context, path *models.GoldenPath) error {
	if path.Fingerprint == "" {
		return apperr.New(apperr.KindValidation, "golden path requires a fingerprint")
	}
	cp := *path
	cp.Steps = append([]string(nil), path.Steps...)
	cp.Sources = append([]string(nil), path.Sources...)
	s.mu.Lock()
	s.golden[path.Fingerprint] = &cp
	s.mu.Unlock()
	return nil
}

// ListGoldenPaths returns paths for a tenant, or all when tenantID is
// empty, ordered by fingerprint.
func (s *MemoryStateStore) ListGoldenPaths(_ context.Context, tenantID string) ([]*models.GoldenPath, error) {
	s.mu.RLock()
	out := make([]*models.GoldenPath, 0, len(s.golden))
	for _, g := range s.golden {
		if tenantID != "" && g.TenantID != tenantID {
			continue
		}
		cp := *g
		out = append(out, &cp)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Fingerprint < out[j].Fingerprint })
	return out, nil
}

// DeleteGoldenPath removes a path. Missing fingerprints are tolerated.
func (s *MemoryStateStore) DeleteGoldenPath(_ context.Context, fingerprint string) error {
	s.mu.Lock()
	delete(s.golden, fingerprint)
	s.mu.Unlock()
	return nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStateStore) HealthCheck(context.Context) error { return nil }

func cloneState(in *models.AgentState) *models.AgentState {
	cp := *in
	cp.Input = cloneMap(in.Input)
	cp.Output = cloneMap(in.Output)
	cp.IntermediateSteps = append([]models.Step(nil), in.IntermediateSteps...)
	if in.HumanFeedbackRequest != nil {
		ref := *in.HumanFeedbackRequest
		cp.HumanFeedbackRequest = &ref
	}
	return &cp
}

func cloneRequest(in *models.HITLRequest) *models.HITLRequest {
	cp := *in
	cp.Options = append([]string(nil), in.Options...)
	cp.Context = cloneMap(in.Context)
	cp.Metadata = cloneMap(in.Metadata)
	if in.Response != nil {
		resp := *in.Response
		cp.Response = &resp
	}
	return &cp
}

func cloneMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// MemoryVectorStore is a naive in-process VectorStore scoring documents
// by token overlap with the query. It stands in for a real retrieval
// backend in tests and single-node deployments.
type MemoryVectorStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

// NewMemoryVectorStore creates an empty in-memory vector store.
func NewMemoryVectorStore() *MemoryVectorStore {
	return &MemoryVectorStore{docs: make(map[string]Document)}
}

// Upsert inserts or replaces documents by id.
func (v *MemoryVectorStore) Upsert(_ context.Context, docs []Document) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	for _, doc := range docs {
		if doc.ID == "" {
			return apperr.New(apperr.KindValidation, "document requires a stable id")
		}
		doc.Metadata = cloneMap(doc.Metadata)
		v.docs[doc.ID] = doc
	}
	return nil
}

// Delete removes documents by id, tolerating missing ids.
func (v *MemoryVectorStore) Delete(_ context.Context, ids []string) error {
	v.mu.Lock()
	for _, id := range ids {
		delete(v.docs, id)
	}
	v.mu.Unlock()
	return nil
}

// Search scores stored documents by token overlap with the query and
// returns the topK hits at or above minScore, best first. Documents
// sharing no token with the query never match.
func (v *MemoryVectorStore) Search(_ context.Context, query string, topK int, minScore float64, filter map[string]any) ([]SearchResult, error) {
	terms := tokenize(query)

	v.mu.RLock()
	results := make([]SearchResult, 0)
	for _, doc := range v.docs {
		if !metadataMatches(doc.Metadata, filter) {
			continue
		}
		score := overlapScore(terms, tokenize(doc.Content))
		if score < minScore || (score == 0 && len(terms) > 0) {
			continue
		}
		results = append(results, SearchResult{Document: doc, Score: score})
	}
	v.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len returns the number of stored documents.
func (v *MemoryVectorStore) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.docs)
}

func tokenize(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[strings.Trim(tok, ".,:;!?\"'()")] = true
	}
	delete(out, "")
	return out
}

func overlapScore(query, doc map[string]bool) float64 {
	if len(query) == 0 {
		return 0
	}
	hits := 0
	for tok := range query {
		if doc[tok] {
			hits++
		}
	}
	return float64(hits) / float64(len(query))
}

func metadataMatches(meta, filter map[string]any) bool {
	for k, want := range filter {
		if meta[k] != want {
			return false
		}
	}
	return true
}
