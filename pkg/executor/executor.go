// Package executor drives agent instances through their plan/act loop
// under concurrency, timeout, and tenant-quota limits, with suspend and
// resume semantics bridging to the HITL queue.
package executor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/hitl"
	"github.com/supportstack/orchestrad/pkg/masking"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/registry"
	"github.com/supportstack/orchestrad/pkg/resilience"
	"github.com/supportstack/orchestrad/pkg/store"
	"github.com/supportstack/orchestrad/pkg/tenant"
)

// ExecOptions tunes one Execute call.
type ExecOptions struct {
	// Timeout overrides the executor default budget when positive.
	Timeout time.Duration

	// Wait blocks until the agent's previous execution finishes instead
	// of failing fast when the agent is busy.
	Wait bool
}

// run tracks one active or suspended execution. At most one run exists
// per agent id; the map entry is the per-agent mutex.
type run struct {
	state *models.AgentState
	agent *registry.Agent

	// remaining is the unconsumed time budget. The clock pauses while
	// the run is suspended awaiting a human.
	remaining time.Duration
	startedAt time.Time

	mu          sync.Mutex
	cancelled   bool
	cancelCause string

	// suspended and requestID are guarded by Executor.mu.
	suspended bool
	requestID string

	done chan struct{}
}

func (r *run) cancel(cause string) {
	r.mu.Lock()
	if !r.cancelled {
		r.cancelled = true
		r.cancelCause = cause
	}
	r.mu.Unlock()
}

func (r *run) isCancelled() (bool, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancelled, r.cancelCause
}

// Executor is the cooperative agent scheduler.
type Executor struct {
	cfg      *config.ExecutorConfig
	registry *registry.Registry
	tenants  *tenant.Manager
	hitl     *hitl.Manager
	store    store.StateStore
	bus      *events.Bus
	retry    resilience.RetryPolicy

	sem    *semaphore.Weighted
	hooks  hookSet
	masker *masking.Service

	mu   sync.Mutex
	runs map[string]*run // agent id -> active or suspended run

	wg  sync.WaitGroup
	now func() time.Time
}

// New creates an executor. The HITL manager and bus are optional; a
// nil manager disables human-in-the-loop suspension points.
func New(cfg *config.ExecutorConfig, reg *registry.Registry, tenants *tenant.Manager, hitlMgr *hitl.Manager, st store.StateStore, bus *events.Bus) *Executor {
	return &Executor{
		cfg:      cfg,
		registry: reg,
		tenants:  tenants,
		hitl:     hitlMgr,
		store:    st,
		bus:      bus,
		retry:    resilience.DefaultRetryPolicy(),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		runs:     make(map[string]*run),
		now:      time.Now,
	}
}

// RegisterHook adds a lifecycle hook. Hooks run in registration order.
func (e *Executor) RegisterHook(h Hook) { e.hooks.add(h) }

// SetMasker installs a credential masker applied to audit payloads
// before they are persisted or published.
func (e *Executor) SetMasker(m *masking.Service) { e.masker = m }

// ActiveExecutions returns the number of active or suspended runs.
func (e *Executor) ActiveExecutions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Stats is a point-in-time view of executor load.
type Stats struct {
	Active    int `json:"active"`
	Suspended int `json:"suspended"`
	Capacity  int `json:"capacity"`
}

// Stats reports current load. Active runs hold a concurrency slot;
// suspended runs have released theirs while awaiting a human. The
// suspended flag is guarded by the executor lock, not the run lock.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	st := Stats{Capacity: e.cfg.MaxConcurrent}
	for _, r := range e.runs {
		if r.suspended {
			st.Suspended++
		} else {
			st.Active++
		}
	}
	return st
}

// StateOf returns a snapshot of an agent's current run state.
func (e *Executor) StateOf(agentID string) (*models.AgentState, error) {
	e.mu.Lock()
	r, ok := e.runs[agentID]
	e.mu.Unlock()
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "agent %s has no active execution", agentID)
	}
	cp := *r.state
	return &cp, nil
}

// Execute drives the agent from idle to a terminal state or a suspension
// point. The returned result reports awaiting_human when the run
// suspended; Resume continues it.
func (e *Executor) Execute(ctx context.Context, agentID string, input map[string]any, opts ExecOptions) (*models.ExecutionResult, error) {
	agent, err := e.registry.GetAgent(agentID)
	if err != nil {
		return nil, err
	}

	budget := opts.Timeout
	if budget <= 0 {
		budget = time.Duration(agent.Config.TimeoutSeconds) * time.Second
	}
	if budget <= 0 {
		budget = time.Duration(e.cfg.DefaultTimeoutSeconds) * time.Second
	}

	r, err := e.admit(ctx, agent, input, budget, opts.Wait)
	if err != nil {
		return nil, err
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		e.release(r, true)
		return nil, apperr.Wrap(apperr.KindTimeout, err, "cancelled while waiting for a worker")
	}

	e.wg.Add(1)
	defer e.wg.Done()
	defer e.sem.Release(1)

	e.emitAudit(ctx, events.EventTypeExecutionStarted, r.state, nil)
	return e.runLoop(ctx, r)
}

// admit reserves the per-agent slot and the tenant quota.
func (e *Executor) admit(ctx context.Context, agent *registry.Agent, input map[string]any, budget time.Duration, wait bool) (*run, error) {
	agentID := agent.Config.AgentID
	for {
		e.mu.Lock()
		existing, busy := e.runs[agentID]
		if !busy {
			break
		}
		e.mu.Unlock()
		if !wait {
			return nil, apperr.New(apperr.KindTransient, "agent %s already executing", agentID)
		}
		select {
		case <-existing.done:
		case <-ctx.Done():
			return nil, apperr.Wrap(apperr.KindTimeout, ctx.Err(), "cancelled while waiting for agent %s", agentID)
		}
	}
	// e.mu is held here with no run registered for agentID.

	if err := e.tenants.BeginExecution(agent.Config.TenantID); err != nil {
		e.mu.Unlock()
		return nil, err
	}

	now := e.now()
	state := &models.AgentState{
		AgentID:     agentID,
		ExecutionID: uuid.NewString(),
		TenantID:    agent.Config.TenantID,
		Blueprint:   agent.Config.BlueprintName,
		Status:      models.AgentStatusRunning,
		Input:       input,
		StartedAt:   &now,
	}
	r := &run{
		state:     state,
		agent:     agent,
		remaining: budget,
		startedAt: now,
		done:      make(chan struct{}),
	}
	e.runs[agentID] = r
	e.mu.Unlock()
	return r, nil
}

// release drops the run registration and, when terminal, the tenant
// execution slot.
func (e *Executor) release(r *run, releaseQuota bool) {
	e.mu.Lock()
	if e.runs[r.state.AgentID] == r {
		delete(e.runs, r.state.AgentID)
	}
	e.mu.Unlock()
	if releaseQuota {
		e.tenants.EndExecution(r.state.TenantID)
	}
	close(r.done)
}

// Resume continues an execution suspended at awaiting_human. The human
// response is appended as a step and the loop re-enters at the next
// iteration with the budget that remained at suspension.
func (e *Executor) Resume(ctx context.Context, agentID string, response *models.HITLResponse) (*models.ExecutionResult, error) {
	e.mu.Lock()
	r, ok := e.runs[agentID]
	if !ok {
		e.mu.Unlock()
		return nil, apperr.New(apperr.KindNotFound, "agent %s has no suspended execution", agentID)
	}
	if r.state.Status != models.AgentStatusAwaitingHuman {
		e.mu.Unlock()
		return nil, apperr.New(apperr.KindIllegalState,
			"agent %s is %s, not awaiting human", agentID, r.state.Status)
	}
	r.suspended = false
	r.requestID = ""
	r.state.Status = models.AgentStatusRunning
	r.state.HumanFeedbackRequest = nil
	r.state.AppendStep(models.Step{
		Kind:   models.StepKindHumanFeedback,
		Output: responsePayload(response),
	})
	r.startedAt = e.now()
	e.mu.Unlock()

	e.publish(events.EventTypeExecutionResumed, r.state, map[string]any{
		"decision": response.Decision,
	})
	slog.Info("Execution resumed", "agent_id", agentID, "execution_id", r.state.ExecutionID)

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return e.finish(ctx, r, models.AgentStatusFailed, models.FailReasonCancelled), nil
	}
	e.wg.Add(1)
	defer e.wg.Done()
	defer e.sem.Release(1)

	return e.runLoop(ctx, r)
}

// Cancel cooperatively stops an agent's execution. A running loop stops
// between steps; a suspended run fails immediately and its pending HITL
// request is cancelled.
func (e *Executor) Cancel(ctx context.Context, agentID string) error {
	e.mu.Lock()
	r, ok := e.runs[agentID]
	if !ok {
		e.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "agent %s has no active execution", agentID)
	}
	suspended := r.suspended
	requestID := r.requestID
	e.mu.Unlock()

	r.cancel(models.FailReasonCancelled)

	if suspended {
		if e.hitl != nil && requestID != "" {
			if err := e.hitl.CancelRequest(ctx, requestID, "execution cancelled"); err != nil {
				slog.Warn("Failed to cancel HITL request",
					"request_id", requestID, "error", err)
			}
		}
		e.finish(ctx, r, models.AgentStatusFailed, models.FailReasonCancelled)
	}
	slog.Info("Execution cancel requested", "agent_id", agentID, "suspended", suspended)
	return nil
}

// FailSuspended fails a run parked at awaiting_human whose request was
// cancelled or expired out from under it, releasing the per-agent slot
// and the tenant quota. When requestID is non-empty the run must be
// suspended on that exact request. No-op when the executor itself
// initiated the cancellation; Cancel owns that transition.
func (e *Executor) FailSuspended(ctx context.Context, agentID, requestID, reason string) error {
	e.mu.Lock()
	r, ok := e.runs[agentID]
	if !ok {
		e.mu.Unlock()
		return apperr.New(apperr.KindNotFound, "agent %s has no active execution", agentID)
	}
	if !r.suspended {
		e.mu.Unlock()
		return apperr.New(apperr.KindIllegalState, "agent %s is not awaiting a human", agentID)
	}
	if requestID != "" && r.requestID != requestID {
		e.mu.Unlock()
		return apperr.New(apperr.KindIllegalState,
			"agent %s is suspended on a different request", agentID)
	}
	e.mu.Unlock()

	if cancelled, _ := r.isCancelled(); cancelled {
		return nil
	}
	r.cancel(reason)
	e.finish(ctx, r, models.AgentStatusFailed, reason)
	slog.Info("Suspended execution failed",
		"agent_id", agentID, "request_id", requestID, "reason", reason)
	return nil
}

// Shutdown stops accepting implicit work and drains in-flight runs,
// bounded by the configured graceful shutdown timeout.
func (e *Executor) Shutdown(ctx context.Context) error {
	deadline := e.cfg.GracefulShutdownTimeout.Std()
	if deadline <= 0 {
		deadline = 30 * time.Second
	}
	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("Executor drained")
		return nil
	case <-time.After(deadline):
		return apperr.New(apperr.KindTimeout,
			"executor drain exceeded %s with %d active runs", deadline, e.ActiveExecutions())
	case <-ctx.Done():
		return apperr.Wrap(apperr.KindTimeout, ctx.Err(), "executor drain interrupted")
	}
}

func responsePayload(response *models.HITLResponse) map[string]any {
	out := map[string]any{}
	if response.Decision != "" {
		out["decision"] = response.Decision
	}
	if response.Text != "" {
		out["text"] = response.Text
	}
	if response.ReviewerID != "" {
		out["reviewer_id"] = response.ReviewerID
	}
	for k, v := range response.Data {
		out[k] = v
	}
	return out
}
