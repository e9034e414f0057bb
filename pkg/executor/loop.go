package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/models"
)

// ErrUnknownAction is returned by blueprints when plan produced an
// action name they cannot execute. The loop records an error step and
// proceeds; two consecutive error steps with the same action abort.
var ErrUnknownAction = errors.New("unknown_action")

// runLoop drives the plan/act loop until a terminal state, a suspension
// point, or the time budget runs out.
func (e *Executor) runLoop(ctx context.Context, r *run) (*models.ExecutionResult, error) {
	state := r.state
	agent := r.agent

	deadline := r.startedAt.Add(r.remaining)
	grace := e.cfg.CancelGracePeriod.Std()

	// Steps see the deadline plus the grace period; the loop itself
	// preempts at the deadline between steps.
	stepCtx, cancelStep := context.WithDeadline(ctx, deadline.Add(grace))
	defer cancelStep()

	for {
		if cancelled, cause := r.isCancelled(); cancelled {
			return e.finish(ctx, r, models.AgentStatusFailed, cause), nil
		}
		if !e.now().Before(deadline) {
			return e.finish(ctx, r, models.AgentStatusFailed, models.FailReasonTimeout), nil
		}
		if !e.shouldContinue(r) {
			return e.finish(ctx, r, models.AgentStatusCompleted, ""), nil
		}

		action, err := agent.Blueprint.Plan(stepCtx, state)
		if err != nil {
			e.hooks.onError(state, err)
			return e.finish(ctx, r, models.AgentStatusFailed, "plan failed: "+err.Error()), nil
		}

		e.hooks.preStep(state, action)

		// The human request wins over a normal step in the same iteration.
		// A tool flagged requires_approval gates its calls even when the
		// plan does not ask for approval itself.
		requiresApproval := action.RequiresApproval
		if tool, ok := agent.Tool(action.Name); ok && tool.RequiresApproval {
			requiresApproval = true
		}
		if requiresApproval && agent.Config.RequireHumanApproval && e.hitl != nil {
			return e.suspendForApproval(ctx, r, action)
		}

		step, toolQuestion, awaiting := e.executeAction(stepCtx, r, action)
		if awaiting {
			return e.suspendForTool(ctx, r, action, toolQuestion)
		}

		state.AppendStep(*step)
		e.hooks.postStep(state, step)

		if step.Kind == models.StepKindError && e.repeatedError(state) {
			return e.finish(ctx, r, models.AgentStatusFailed,
				"repeated errors on action "+step.Action), nil
		}
	}
}

// shouldContinue applies the step budget, terminal, and completion
// checks before deferring to the blueprint.
func (e *Executor) shouldContinue(r *run) bool {
	state := r.state
	if state.Status.Terminal() {
		return false
	}
	if state.CurrentStep >= r.agent.Config.MaxIterations {
		return false
	}
	if last := state.LastStep(); last != nil && last.Complete {
		return false
	}
	return r.agent.Blueprint.ShouldContinue(state)
}

// executeAction runs the planned action through the agent's tool set or
// the blueprint. Failures become error steps rather than run failures.
func (e *Executor) executeAction(ctx context.Context, r *run, action *models.Action) (step *models.Step, toolQuestion string, awaiting bool) {
	state := r.state

	if tool, ok := r.agent.Tool(action.Name); ok && tool.Handler != nil {
		result, err := tool.Handler(ctx, models.ToolCall{
			AgentID:     state.AgentID,
			ExecutionID: state.ExecutionID,
			TenantID:    state.TenantID,
			Input:       action.Input,
		})
		if err != nil {
			e.hooks.onError(state, err)
			return errorStep(action, err), "", false
		}
		if result.AwaitingHuman {
			return nil, result.Question, true
		}
		return &models.Step{
			Kind:     models.StepKindAction,
			Action:   action.Name,
			Input:    action.Input,
			Output:   result.Output,
			Complete: action.Complete,
		}, "", false
	}

	blueprintStep, err := r.agent.Blueprint.ExecuteStep(ctx, state, action)
	if err != nil {
		e.hooks.onError(state, err)
		return errorStep(action, err), "", false
	}
	if blueprintStep == nil {
		blueprintStep = &models.Step{Action: action.Name, Complete: action.Complete}
	}
	if blueprintStep.Kind == "" {
		blueprintStep.Kind = models.StepKindAction
	}
	if blueprintStep.Action == "" {
		blueprintStep.Action = action.Name
	}
	return blueprintStep, "", false
}

func errorStep(action *models.Action, err error) *models.Step {
	msg := err.Error()
	if errors.Is(err, ErrUnknownAction) {
		msg = "unknown_action"
	}
	return &models.Step{
		Kind:   models.StepKindError,
		Action: action.Name,
		Input:  action.Input,
		Error:  msg,
	}
}

// repeatedError reports whether the last two steps are error steps for
// the same action.
func (e *Executor) repeatedError(state *models.AgentState) bool {
	n := len(state.IntermediateSteps)
	if n < 2 {
		return false
	}
	last, prev := state.IntermediateSteps[n-1], state.IntermediateSteps[n-2]
	return last.Kind == models.StepKindError && prev.Kind == models.StepKindError &&
		last.Action == prev.Action
}

func (e *Executor) suspendForApproval(ctx context.Context, r *run, action *models.Action) (*models.ExecutionResult, error) {
	req, err := e.hitl.RequestApproval(ctx, r.state, action, models.HITLPriorityMedium)
	if err != nil {
		return e.finish(ctx, r, models.AgentStatusFailed, "approval request failed: "+err.Error()), nil
	}
	return e.suspend(ctx, r, req)
}

func (e *Executor) suspendForTool(ctx context.Context, r *run, action *models.Action, question string) (*models.ExecutionResult, error) {
	if e.hitl == nil {
		return e.finish(ctx, r, models.AgentStatusFailed,
			"tool "+action.Name+" requires human input but no HITL manager is wired"), nil
	}
	req, err := e.hitl.RequestFeedback(ctx, r.state, question, nil, models.HITLPriorityMedium)
	if err != nil {
		return e.finish(ctx, r, models.AgentStatusFailed, "feedback request failed: "+err.Error()), nil
	}
	return e.suspend(ctx, r, req)
}

// suspend parks the run awaiting a human answer. The worker is released
// by returning; the per-agent slot and tenant quota stay held, and the
// time budget clock pauses.
func (e *Executor) suspend(ctx context.Context, r *run, req *models.HITLRequest) (*models.ExecutionResult, error) {
	now := e.now()

	e.mu.Lock()
	r.suspended = true
	r.requestID = req.RequestID
	elapsed := now.Sub(r.startedAt)
	if r.remaining > elapsed {
		r.remaining -= elapsed
	} else {
		r.remaining = time.Second
	}
	e.mu.Unlock()

	e.hooks.onHumanRequest(r.state, req)
	e.persistSnapshot(ctx, r.state)
	e.publish(events.EventTypeExecutionSuspended, r.state, map[string]any{
		"request_id": req.RequestID,
		"type":       string(req.Type),
	})
	slog.Info("Execution suspended awaiting human",
		"agent_id", r.state.AgentID, "execution_id", r.state.ExecutionID,
		"request_id", req.RequestID)

	return e.result(r.state, now), nil
}

// finish applies the terminal transition exactly once, persists the
// final state, audits, and releases the run's resources.
func (e *Executor) finish(ctx context.Context, r *run, status models.AgentStatus, errMsg string) *models.ExecutionResult {
	now := e.now()

	e.mu.Lock()
	if e.runs[r.state.AgentID] != r {
		// Already finished by a concurrent Cancel.
		e.mu.Unlock()
		return e.result(r.state, now)
	}
	delete(e.runs, r.state.AgentID)
	r.state.Status = status
	r.state.Error = errMsg
	r.state.CompletedAt = &now
	if status == models.AgentStatusCompleted && r.state.Output == nil {
		if last := r.state.LastStep(); last != nil {
			r.state.Output = last.Output
		}
	}
	e.mu.Unlock()

	e.tenants.EndExecution(r.state.TenantID)
	close(r.done)

	e.persistTerminal(ctx, r.state)

	eventType := events.EventTypeExecutionCompleted
	if status == models.AgentStatusFailed {
		eventType = events.EventTypeExecutionFailed
	}
	e.emitAudit(ctx, eventType, r.state, map[string]any{"error": errMsg})
	e.hooks.onComplete(r.state)

	slog.Info("Execution finished",
		"agent_id", r.state.AgentID, "execution_id", r.state.ExecutionID,
		"status", status, "steps", r.state.CurrentStep, "error", errMsg)
	return e.result(r.state, now)
}

// persistTerminal writes the final state under the retry policy. After
// exhaustion the in-memory state is preserved, a PersistenceLag event
// fires, and the run is still reported terminal.
func (e *Executor) persistTerminal(ctx context.Context, state *models.AgentState) {
	err := e.retry.Do(ctx, "persist_agent_state", func(ctx context.Context) error {
		return e.store.SaveAgentState(ctx, state, 0)
	})
	if err == nil {
		if hook := e.registry.PersistenceHook(); hook != nil {
			if hookErr := hook(ctx, state); hookErr != nil {
				slog.Warn("State persistence hook failed",
					"agent_id", state.AgentID, "error", hookErr)
			}
		}
		return
	}
	slog.Error("Failed to persist terminal state",
		"agent_id", state.AgentID, "execution_id", state.ExecutionID, "error", err)
	e.publish(events.EventTypePersistenceLag, state, map[string]any{"error": err.Error()})
}

// persistSnapshot best-effort saves a non-terminal snapshot.
func (e *Executor) persistSnapshot(ctx context.Context, state *models.AgentState) {
	if err := e.store.SaveAgentState(ctx, state, 0); err != nil {
		slog.Warn("Failed to persist state snapshot",
			"agent_id", state.AgentID, "error", err)
	}
}

func (e *Executor) result(state *models.AgentState, now time.Time) *models.ExecutionResult {
	duration := int64(0)
	if state.StartedAt != nil {
		duration = now.Sub(*state.StartedAt).Milliseconds()
	}
	return &models.ExecutionResult{
		Status:     state.Status,
		Output:     state.Output,
		Steps:      append([]models.Step(nil), state.IntermediateSteps...),
		DurationMS: duration,
		Error:      state.Error,
	}
}

func (e *Executor) emitAudit(ctx context.Context, eventType string, state *models.AgentState, payload map[string]any) {
	body := map[string]any{"execution_id": state.ExecutionID, "steps": state.CurrentStep}
	for k, v := range payload {
		if v != "" && v != nil {
			body[k] = v
		}
	}
	body = e.masker.MaskPayload(body)
	if err := e.store.AppendAuditEvent(ctx, &models.AuditEvent{
		EventID:   uuid.NewString(),
		EventType: eventType,
		TenantID:  state.TenantID,
		AgentID:   state.AgentID,
		Payload:   body,
		CreatedAt: e.now(),
	}); err != nil {
		slog.Error("Failed to append audit event", "event_type", eventType, "error", err)
	}
	e.publish(eventType, state, body)
}

func (e *Executor) publish(eventType string, state *models.AgentState, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(events.Event{
		Type:      eventType,
		TenantID:  state.TenantID,
		AgentID:   state.AgentID,
		Payload:   payload,
		Timestamp: e.now(),
	})
}
