package hitl

import (
	"context"
	"log/slog"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/store"
)

// Resumer re-enters a suspended agent execution with human feedback,
// or fails it when the request it waits on goes away. Implemented by
// the executor.
type Resumer interface {
	Resume(ctx context.Context, agentID string, response *models.HITLResponse) (*models.ExecutionResult, error)
	FailSuspended(ctx context.Context, agentID, requestID, reason string) error
}

// OutcomeRecorder receives completed HITL outcomes for the learning
// loop. Implemented by the feedback collector.
type OutcomeRecorder interface {
	RecordHITLOutcome(ctx context.Context, req *models.HITLRequest) error
}

// Manager couples HITL requests to agent suspension: it creates
// requests on behalf of running agents, auto-assigns urgent ones, and
// on response resumes the originating agent and forwards the outcome
// to the learning loop.
type Manager struct {
	queue *Queue
	pool  *ReviewerPool
	store store.StateStore
	bus   *events.Bus

	resumer  Resumer
	recorder OutcomeRecorder
	engine   *Engine

	now func() time.Time
}

// NewManager creates the resume bridge. Resumer and recorder are
// attached after construction to break the startup dependency cycle.
func NewManager(queue *Queue, pool *ReviewerPool, st store.StateStore, bus *events.Bus) *Manager {
	return &Manager{
		queue: queue,
		pool:  pool,
		store: st,
		bus:   bus,
		now:   time.Now,
	}
}

// SetResumer attaches the executor.
func (m *Manager) SetResumer(r Resumer) { m.resumer = r }

// SetOutcomeRecorder attaches the feedback collector.
func (m *Manager) SetOutcomeRecorder(r OutcomeRecorder) { m.recorder = r }

// SetEngine attaches the escalation engine so the sweeper can run
// policy-driven auto-escalations.
func (m *Manager) SetEngine(e *Engine) { m.engine = e }

// Queue exposes the underlying queue for read paths.
func (m *Manager) Queue() *Queue { return m.queue }

// Pool exposes the reviewer pool.
func (m *Manager) Pool() *ReviewerPool { return m.pool }

// RequestApproval suspends the agent pending approval of an action.
// The state is marked awaiting_human and linked to the new request.
func (m *Manager) RequestApproval(ctx context.Context, state *models.AgentState, action *models.Action, priority models.HITLPriority) (*models.HITLRequest, error) {
	req := &models.HITLRequest{
		Type:        models.HITLTypeApproval,
		Priority:    priority,
		AgentID:     state.AgentID,
		TenantID:    state.TenantID,
		ExecutionID: state.ExecutionID,
		Title:       "Approval required: " + action.Name,
		Question:    "Approve action " + action.Name + "?",
		Options:     []string{models.DecisionApprove, models.DecisionReject},
		Context:     snapshot(state, map[string]any{"action": action.Name, "action_input": action.Input}),
	}
	return m.suspend(ctx, state, req)
}

// RequestFeedback suspends the agent pending free-form human input.
func (m *Manager) RequestFeedback(ctx context.Context, state *models.AgentState, question string, options []string, priority models.HITLPriority) (*models.HITLRequest, error) {
	req := &models.HITLRequest{
		Type:        models.HITLTypeFeedback,
		Priority:    priority,
		AgentID:     state.AgentID,
		TenantID:    state.TenantID,
		ExecutionID: state.ExecutionID,
		Title:       "Feedback requested",
		Question:    question,
		Options:     options,
		Context:     snapshot(state, nil),
	}
	return m.suspend(ctx, state, req)
}

// RequestReview suspends the agent pending a human review of its
// output so far.
func (m *Manager) RequestReview(ctx context.Context, state *models.AgentState, description string, priority models.HITLPriority) (*models.HITLRequest, error) {
	req := &models.HITLRequest{
		Type:        models.HITLTypeReview,
		Priority:    priority,
		AgentID:     state.AgentID,
		TenantID:    state.TenantID,
		ExecutionID: state.ExecutionID,
		Title:       "Review requested",
		Description: description,
		Context:     snapshot(state, nil),
	}
	return m.suspend(ctx, state, req)
}

func (m *Manager) suspend(ctx context.Context, state *models.AgentState, req *models.HITLRequest) (*models.HITLRequest, error) {
	req, err := m.queue.Enqueue(ctx, req, 0)
	if err != nil {
		return nil, err
	}

	state.Status = models.AgentStatusAwaitingHuman
	state.HumanFeedbackRequest = &models.FeedbackRequestRef{
		RequestID: req.RequestID,
		Type:      string(req.Type),
		Question:  req.Question,
		CreatedAt: req.CreatedAt,
	}

	m.autoAssign(ctx, req)
	return req, nil
}

// autoAssign hands critical and high requests to the least-loaded
// qualifying reviewer. Failure to assign leaves the request pending.
func (m *Manager) autoAssign(ctx context.Context, req *models.HITLRequest) {
	if req.Priority != models.HITLPriorityCritical && req.Priority != models.HITLPriorityHigh {
		return
	}
	reviewerID, ok := m.pool.LeastLoaded(req.TenantID)
	if !ok {
		slog.Info("No reviewer available for auto-assignment",
			"request_id", req.RequestID, "priority", req.Priority)
		return
	}
	assigned, err := m.queue.Assign(ctx, req.RequestID, reviewerID)
	if err != nil || !assigned {
		return
	}
	m.pool.IncrementWorkload(reviewerID)
	req.AssignedTo = reviewerID
	slog.Info("HITL request auto-assigned",
		"request_id", req.RequestID, "reviewer_id", reviewerID)
}

// Respond applies a reviewer's answer: it completes the request,
// releases the reviewer, audits the decision, feeds the learning loop,
// and resumes the originating agent if it is still suspended.
func (m *Manager) Respond(ctx context.Context, requestID string, response *models.HITLResponse) error {
	req, err := m.queue.Respond(ctx, requestID, response)
	if err != nil {
		return err
	}

	if req.AssignedTo != "" {
		m.pool.DecrementWorkload(req.AssignedTo)
	}

	m.auditDecision(ctx, req, response)

	if m.recorder != nil {
		if err := m.recorder.RecordHITLOutcome(ctx, req); err != nil {
			// Learning-loop failures never fail the response path.
			slog.Warn("Failed to record HITL outcome",
				"request_id", requestID, "error", err)
		}
	}

	if req.AgentID != "" && m.resumer != nil {
		if _, err := m.resumer.Resume(ctx, req.AgentID, response); err != nil {
			if apperr.Is(err, apperr.KindIllegalState) || apperr.Is(err, apperr.KindNotFound) {
				// The agent already finished or was cancelled.
				slog.Info("Agent not awaiting resume",
					"request_id", requestID, "agent_id", req.AgentID)
			} else {
				return apperr.Wrap(apperr.KindOf(err), err,
					"failed to resume agent %s", req.AgentID)
			}
		}
	}
	return nil
}

// CancelRequest cancels a request, releases its reviewer, and fails
// any execution left suspended on it so the per-agent slot and tenant
// quota are not leaked.
func (m *Manager) CancelRequest(ctx context.Context, requestID, reason string) error {
	req, err := m.queue.Get(requestID)
	if err != nil {
		return err
	}
	if err := m.queue.Cancel(ctx, requestID, reason); err != nil {
		return err
	}
	if req.AssignedTo != "" {
		m.pool.DecrementWorkload(req.AssignedTo)
	}
	m.releaseSuspended(ctx, req, "hitl request cancelled: "+reason)
	return nil
}

// Sweep runs one maintenance pass: expired requests release their
// reviewers and fail executions still suspended on them, SLA breaches
// fire, and stale pending requests auto-escalate per tenant policy.
func (m *Manager) Sweep(ctx context.Context) {
	for _, req := range m.queue.CheckExpirations(ctx) {
		if req.AssignedTo != "" {
			m.pool.DecrementWorkload(req.AssignedTo)
		}
		m.releaseSuspended(ctx, req, "hitl request expired")
	}
	m.queue.CheckSLABreaches(ctx)
	if m.engine != nil {
		m.engine.CheckAutoEscalations(ctx)
	}
}

// RunSweeper runs periodic sweeps with jitter until the context is
// cancelled.
func (m *Manager) RunSweeper(ctx context.Context) {
	slog.Info("HITL sweeper started", "interval", m.queue.cfg.SweepInterval.Std())
	for {
		interval := m.queue.cfg.SweepInterval.Std()
		if jitter := m.queue.cfg.SweepJitter.Std(); jitter > 0 {
			interval += time.Duration(rand.Int63n(int64(jitter)))
		}
		select {
		case <-ctx.Done():
			slog.Info("HITL sweeper stopped")
			return
		case <-time.After(interval):
			m.Sweep(ctx)
		}
	}
}

// releaseSuspended tells the executor a suspended run's request went
// away. An agent that already finished or moved on is not an error.
func (m *Manager) releaseSuspended(ctx context.Context, req *models.HITLRequest, reason string) {
	if req.AgentID == "" || m.resumer == nil {
		return
	}
	err := m.resumer.FailSuspended(ctx, req.AgentID, req.RequestID, reason)
	if err == nil || apperr.Is(err, apperr.KindNotFound) || apperr.Is(err, apperr.KindIllegalState) {
		return
	}
	slog.Warn("Failed to release suspended agent",
		"agent_id", req.AgentID, "request_id", req.RequestID, "error", err)
}

func (m *Manager) auditDecision(ctx context.Context, req *models.HITLRequest, response *models.HITLResponse) {
	var eventType string
	switch response.Decision {
	case models.DecisionApprove:
		eventType = events.EventTypeApprovalGranted
	case models.DecisionReject:
		eventType = events.EventTypeApprovalDenied
	default:
		eventType = events.EventTypeFeedbackProvided
	}

	ev := &models.AuditEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		TenantID:  req.TenantID,
		AgentID:   req.AgentID,
		Payload: map[string]any{
			"request_id":  req.RequestID,
			"decision":    response.Decision,
			"reviewer_id": response.ReviewerID,
		},
		CreatedAt: m.now(),
	}
	if err := m.store.AppendAuditEvent(ctx, ev); err != nil {
		slog.Error("Failed to append audit event", "event_type", eventType, "error", err)
	}

	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:      eventType,
			TenantID:  req.TenantID,
			AgentID:   req.AgentID,
			Payload:   ev.Payload,
			Timestamp: ev.CreatedAt,
		})
	}
}

func snapshot(state *models.AgentState, extra map[string]any) map[string]any {
	out := map[string]any{
		"execution_id": state.ExecutionID,
		"blueprint":    state.Blueprint,
		"current_step": state.CurrentStep,
		"input":        state.Input,
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
