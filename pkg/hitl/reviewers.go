package hitl

import (
	"sort"
	"sync"

	"github.com/supportstack/orchestrad/pkg/apperr"
)

// Reviewer is a human available to answer HITL requests.
type Reviewer struct {
	ID        string          `json:"id"`
	TenantIDs map[string]bool `json:"tenant_ids,omitempty"` // nil means any tenant
	Available bool            `json:"available"`
	Workload  int             `json:"workload"`
}

func (r *Reviewer) servesTenant(tenantID string) bool {
	return r.TenantIDs == nil || r.TenantIDs[tenantID]
}

// ReviewerPool tracks reviewer availability and workload for
// auto-assignment.
type ReviewerPool struct {
	maxWorkload int

	mu        sync.Mutex
	reviewers map[string]*Reviewer
}

// NewReviewerPool creates a pool with a per-reviewer concurrent cap.
func NewReviewerPool(maxWorkload int) *ReviewerPool {
	if maxWorkload <= 0 {
		maxWorkload = 5
	}
	return &ReviewerPool{
		maxWorkload: maxWorkload,
		reviewers:   make(map[string]*Reviewer),
	}
}

// Register adds an available reviewer. tenantIDs nil means any tenant.
func (p *ReviewerPool) Register(id string, tenantIDs map[string]bool) error {
	if id == "" {
		return apperr.New(apperr.KindValidation, "reviewer id is required")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.reviewers[id]; ok {
		return apperr.New(apperr.KindIllegalState, "reviewer %s already registered", id)
	}
	p.reviewers[id] = &Reviewer{ID: id, TenantIDs: tenantIDs, Available: true}
	return nil
}

// SetAvailable flips a reviewer's availability.
func (p *ReviewerPool) SetAvailable(id string, available bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.reviewers[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, "reviewer %s not registered", id)
	}
	r.Available = available
	return nil
}

// LeastLoaded returns the available reviewer serving the tenant with
// the lowest workload below the cap, or false when none qualifies.
func (p *ReviewerPool) LeastLoaded(tenantID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	candidates := make([]*Reviewer, 0)
	for _, r := range p.reviewers {
		if r.Available && r.servesTenant(tenantID) && r.Workload < p.maxWorkload {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return "", false
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Workload != candidates[j].Workload {
			return candidates[i].Workload < candidates[j].Workload
		}
		return candidates[i].ID < candidates[j].ID
	})
	return candidates[0].ID, true
}

// IncrementWorkload adds one open assignment to a reviewer.
func (p *ReviewerPool) IncrementWorkload(id string) {
	p.mu.Lock()
	if r, ok := p.reviewers[id]; ok {
		r.Workload++
	}
	p.mu.Unlock()
}

// DecrementWorkload releases one assignment (non-negative floor).
func (p *ReviewerPool) DecrementWorkload(id string) {
	p.mu.Lock()
	if r, ok := p.reviewers[id]; ok && r.Workload > 0 {
		r.Workload--
	}
	p.mu.Unlock()
}

// Workload returns a reviewer's current open assignment count.
func (p *ReviewerPool) Workload(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if r, ok := p.reviewers[id]; ok {
		return r.Workload
	}
	return 0
}

// List returns a snapshot of all reviewers ordered by id.
func (p *ReviewerPool) List() []Reviewer {
	p.mu.Lock()
	out := make([]Reviewer, 0, len(p.reviewers))
	for _, r := range p.reviewers {
		out = append(out, *r)
	}
	p.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
