// Package hitl implements the human-in-the-loop queue, the escalation
// engine, and the resume bridge coupling requests to agent suspension.
package hitl

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/store"
)

// metaSLABreachNotified marks a request whose SLA breach event already
// fired, making CheckSLABreaches idempotent.
const metaSLABreachNotified = "sla_breach_notified"

// metaCancelReason records why a request was cancelled.
const metaCancelReason = "cancel_reason"

// metaAutoEscalated marks a request whose auto-escalation already
// fired, keeping CheckAutoEscalations idempotent.
const metaAutoEscalated = "auto_escalated"

// Queue stores pending human-review requests ordered by priority band
// then age. All mutations hold one queue-wide lock; event fan-out runs
// after lock release to avoid re-entrance.
type Queue struct {
	cfg   *config.QueueConfig
	store store.StateStore
	bus   *events.Bus

	mu       sync.Mutex
	requests map[string]*models.HITLRequest

	now func() time.Time
}

// NewQueue creates an empty queue. The bus is optional.
func NewQueue(cfg *config.QueueConfig, st store.StateStore, bus *events.Bus) *Queue {
	return &Queue{
		cfg:      cfg,
		store:    st,
		bus:      bus,
		requests: make(map[string]*models.HITLRequest),
		now:      time.Now,
	}
}

// Enqueue admits a request. The queue assigns the id, stamps the SLA
// deadline from the priority, and sets expires_at when expiresIn > 0.
func (q *Queue) Enqueue(ctx context.Context, req *models.HITLRequest, expiresIn time.Duration) (*models.HITLRequest, error) {
	if req.TenantID == "" {
		return nil, apperr.New(apperr.KindValidation, "hitl request requires tenant_id")
	}
	if req.Priority.Band() > 3 {
		return nil, apperr.New(apperr.KindValidation, "unknown priority %q", req.Priority)
	}

	now := q.now()
	req.RequestID = uuid.NewString()
	req.Status = models.HITLStatusPending
	req.CreatedAt = now
	req.SLADeadline = now.Add(q.cfg.SLAFor(req.Priority))
	if expiresIn > 0 {
		expires := now.Add(expiresIn)
		req.ExpiresAt = &expires
	}

	q.mu.Lock()
	q.requests[req.RequestID] = req
	cp := *req
	q.mu.Unlock()

	q.persist(ctx, &cp, true)
	q.publish(events.EventTypeHITLCreated, &cp, nil)
	slog.Info("HITL request enqueued",
		"request_id", cp.RequestID, "type", cp.Type, "priority", cp.Priority, "tenant_id", cp.TenantID)
	return &cp, nil
}

// Get returns a snapshot of a request.
func (q *Queue) Get(requestID string) (*models.HITLRequest, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	req, ok := q.requests[requestID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "hitl request %s not found", requestID)
	}
	cp := *req
	return &cp, nil
}

// Assign hands a pending request to a reviewer. Returns false without
// error when the request is no longer pending.
func (q *Queue) Assign(ctx context.Context, requestID, reviewerID string) (bool, error) {
	q.mu.Lock()
	req, ok := q.requests[requestID]
	if !ok {
		q.mu.Unlock()
		return false, apperr.New(apperr.KindNotFound, "hitl request %s not found", requestID)
	}
	if req.Status != models.HITLStatusPending {
		q.mu.Unlock()
		return false, nil
	}
	now := q.now()
	req.Status = models.HITLStatusAssigned
	req.AssignedTo = reviewerID
	req.AssignedAt = &now
	cp := *req
	q.mu.Unlock()

	q.persist(ctx, &cp, false)
	q.publish(events.EventTypeHITLAssigned, &cp, map[string]any{"reviewer_id": reviewerID})
	return true, nil
}

// Unassign returns an assigned request to pending.
func (q *Queue) Unassign(ctx context.Context, requestID string) error {
	q.mu.Lock()
	req, ok := q.requests[requestID]
	if !ok {
		q.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "hitl request %s not found", requestID)
	}
	if req.Status != models.HITLStatusAssigned {
		q.mu.Unlock()
		return apperr.New(apperr.KindIllegalState, "hitl request %s is %s", requestID, req.Status)
	}
	req.Status = models.HITLStatusPending
	req.AssignedTo = ""
	req.AssignedAt = nil
	cp := *req
	q.mu.Unlock()

	q.persist(ctx, &cp, false)
	return nil
}

// Respond completes a request with a reviewer's answer. Valid from
// pending or assigned; only the first response wins, later responses
// fail with IllegalState.
func (q *Queue) Respond(ctx context.Context, requestID string, response *models.HITLResponse) (*models.HITLRequest, error) {
	q.mu.Lock()
	req, ok := q.requests[requestID]
	if !ok {
		q.mu.Unlock()
		return nil, apperr.New(apperr.KindNotFound, "hitl request %s not found", requestID)
	}
	if req.Status != models.HITLStatusPending && req.Status != models.HITLStatusAssigned && req.Status != models.HITLStatusInProgress {
		q.mu.Unlock()
		return nil, apperr.New(apperr.KindIllegalState,
			"hitl request %s already %s", requestID, req.Status)
	}
	now := q.now()
	req.Status = models.HITLStatusCompleted
	req.Response = response
	req.RespondedAt = &now
	cp := *req
	q.mu.Unlock()

	q.persist(ctx, &cp, false)
	q.publish(events.EventTypeHITLResponded, &cp, map[string]any{
		"decision":    response.Decision,
		"reviewer_id": response.ReviewerID,
	})
	slog.Info("HITL request responded",
		"request_id", requestID, "decision", response.Decision, "reviewer_id", response.ReviewerID)
	return &cp, nil
}

// Cancel moves a non-terminal request to cancelled.
func (q *Queue) Cancel(ctx context.Context, requestID, reason string) error {
	q.mu.Lock()
	req, ok := q.requests[requestID]
	if !ok {
		q.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "hitl request %s not found", requestID)
	}
	if req.Status.Terminal() {
		q.mu.Unlock()
		return apperr.New(apperr.KindIllegalState, "hitl request %s already %s", requestID, req.Status)
	}
	req.Status = models.HITLStatusCancelled
	if req.Metadata == nil {
		req.Metadata = make(map[string]any)
	}
	req.Metadata[metaCancelReason] = reason
	cp := *req
	q.mu.Unlock()

	q.persist(ctx, &cp, false)
	q.publish(events.EventTypeHITLCancelled, &cp, map[string]any{"reason": reason})
	return nil
}

// GetPending returns pending requests matching the filter, ordered by
// priority band ascending then created_at ascending. A limit of 0
// returns everything.
func (q *Queue) GetPending(filter models.HITLFilter, limit int) []*models.HITLRequest {
	if filter.Status == "" {
		filter.Status = models.HITLStatusPending
	}

	q.mu.Lock()
	out := make([]*models.HITLRequest, 0)
	for _, req := range q.requests {
		if filter.Matches(req) {
			cp := *req
			out = append(out, &cp)
		}
	}
	q.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		bi, bj := out[i].Priority.Band(), out[j].Priority.Band()
		if bi != bj {
			return bi < bj
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// GetUserAssignments returns the reviewer's open assignments.
func (q *Queue) GetUserAssignments(reviewerID string) []*models.HITLRequest {
	q.mu.Lock()
	out := make([]*models.HITLRequest, 0)
	for _, req := range q.requests {
		if req.AssignedTo != reviewerID {
			continue
		}
		if req.Status == models.HITLStatusAssigned || req.Status == models.HITLStatusInProgress {
			cp := *req
			out = append(out, &cp)
		}
	}
	q.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// CheckExpirations transitions past-expiry non-terminal requests to
// expired and returns them.
func (q *Queue) CheckExpirations(ctx context.Context) []*models.HITLRequest {
	now := q.now()

	q.mu.Lock()
	expired := make([]*models.HITLRequest, 0)
	for _, req := range q.requests {
		if req.Status.Terminal() || req.ExpiresAt == nil || now.Before(*req.ExpiresAt) {
			continue
		}
		req.Status = models.HITLStatusExpired
		cp := *req
		expired = append(expired, &cp)
	}
	q.mu.Unlock()

	for _, req := range expired {
		q.persist(ctx, req, false)
		q.publish(events.EventTypeHITLExpired, req, nil)
	}
	if len(expired) > 0 {
		slog.Info("HITL requests expired", "count", len(expired))
	}
	return expired
}

// CheckSLABreaches fires an SLA breach event for every non-terminal
// request past its deadline. The breach fires at most once per request.
func (q *Queue) CheckSLABreaches(ctx context.Context) []*models.HITLRequest {
	now := q.now()

	q.mu.Lock()
	breached := make([]*models.HITLRequest, 0)
	for _, req := range q.requests {
		if req.Status.Terminal() || now.Before(req.SLADeadline) {
			continue
		}
		if req.Metadata != nil && req.Metadata[metaSLABreachNotified] == true {
			continue
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]any)
		}
		req.Metadata[metaSLABreachNotified] = true
		cp := *req
		breached = append(breached, &cp)
	}
	q.mu.Unlock()

	for _, req := range breached {
		q.persist(ctx, req, false)
		q.publish(events.EventTypeHITLSLABreach, req, map[string]any{
			"sla_deadline": req.SLADeadline,
			"overdue_by":   now.Sub(req.SLADeadline).String(),
		})
		slog.Warn("HITL SLA breached",
			"request_id", req.RequestID, "priority", req.Priority,
			"overdue_by", now.Sub(req.SLADeadline))
	}
	return breached
}

// markAutoEscalated flags a request as auto-escalated exactly once.
// Returns false when the request is gone, terminal, or already flagged.
func (q *Queue) markAutoEscalated(ctx context.Context, requestID string) bool {
	q.mu.Lock()
	req, ok := q.requests[requestID]
	if !ok || req.Status.Terminal() ||
		(req.Metadata != nil && req.Metadata[metaAutoEscalated] == true) {
		q.mu.Unlock()
		return false
	}
	if req.Metadata == nil {
		req.Metadata = make(map[string]any)
	}
	req.Metadata[metaAutoEscalated] = true
	cp := *req
	q.mu.Unlock()

	q.persist(ctx, &cp, false)
	return true
}

// persist writes the snapshot through the state store. The in-memory
// queue stays authoritative; persistence failures log and continue.
func (q *Queue) persist(ctx context.Context, req *models.HITLRequest, create bool) {
	var err error
	if create {
		err = q.store.SaveHITLRequest(ctx, req)
	} else {
		err = q.store.UpdateHITLRequest(ctx, req)
	}
	if err != nil {
		slog.Error("Failed to persist HITL request",
			"request_id", req.RequestID, "error", err)
	}
}

func (q *Queue) publish(eventType string, req *models.HITLRequest, extra map[string]any) {
	if q.bus == nil {
		return
	}
	payload := map[string]any{
		"request_id": req.RequestID,
		"type":       string(req.Type),
		"priority":   string(req.Priority),
		"status":     string(req.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	q.bus.Publish(events.Event{
		Type:      eventType,
		TenantID:  req.TenantID,
		AgentID:   req.AgentID,
		Payload:   payload,
		Timestamp: q.now(),
	})
}
