package hitl

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/models"
)

// Notifier delivers best-effort escalation notifications. Ordering is
// not guaranteed.
type Notifier interface {
	Send(ctx context.Context, channel, message, urgency string, metadata map[string]any) error
}

// LevelHandler reacts to an escalation reaching its level. Handlers run
// in registration order; panics are logged and do not abort escalation.
type LevelHandler func(ctx context.Context, req *models.HITLRequest, rule models.EscalationRule)

// Engine evaluates runtime context against tenant escalation policies
// and creates the resulting HITL requests.
type Engine struct {
	policies map[string]*models.EscalationPolicy
	queue    *Queue
	notifier Notifier
	bus      *events.Bus

	mu       sync.RWMutex
	handlers map[models.EscalationLevel][]LevelHandler
}

// NewEngine creates an escalation engine over per-tenant policies.
// Notifier and bus are optional.
func NewEngine(policies map[string]*models.EscalationPolicy, queue *Queue, notifier Notifier, bus *events.Bus) *Engine {
	if policies == nil {
		policies = make(map[string]*models.EscalationPolicy)
	}
	return &Engine{
		policies: policies,
		queue:    queue,
		notifier: notifier,
		bus:      bus,
		handlers: make(map[models.EscalationLevel][]LevelHandler),
	}
}

// RegisterLevelHandler appends a handler for the given level.
func (e *Engine) RegisterLevelHandler(level models.EscalationLevel, h LevelHandler) {
	e.mu.Lock()
	e.handlers[level] = append(e.handlers[level], h)
	e.mu.Unlock()
}

// EvaluateAndEscalate matches the runtime context against the tenant's
// policy in rule declaration order; the first enabled match wins. A nil
// request with nil error means no rule matched.
func (e *Engine) EvaluateAndEscalate(ctx context.Context, agentID, tenantID, executionID string, ruleCtx map[string]any) (*models.HITLRequest, error) {
	policy, ok := e.policies[tenantID]
	if !ok {
		return nil, nil
	}
	for _, rule := range policy.Rules {
		if !rule.Enabled || !RuleMatches(rule, ruleCtx) {
			continue
		}
		return e.escalate(ctx, agentID, tenantID, executionID, policy, rule, ruleCtx)
	}
	return nil, nil
}

// ManualEscalate bypasses rule evaluation with a synthetic rule
// carrying the caller's reason.
func (e *Engine) ManualEscalate(ctx context.Context, agentID, tenantID, executionID, reason string, priority models.HITLPriority) (*models.HITLRequest, error) {
	policy := e.policies[tenantID]
	if policy == nil {
		policy = &models.EscalationPolicy{TenantID: tenantID, DefaultLevel: models.LevelL1}
	}
	level := policy.DefaultLevel
	if level == "" {
		level = models.LevelL1
	}
	rule := models.EscalationRule{
		Name:     "manual",
		Trigger:  "manual",
		Level:    level,
		Priority: priority,
		Enabled:  true,
	}
	return e.escalate(ctx, agentID, tenantID, executionID, policy, rule, map[string]any{"reason": reason})
}

// CheckAutoEscalations escalates pending requests that have waited past
// their tenant policy's auto_escalate_after window. Each request
// escalates at most once, one priority band above its own, and returns
// the escalation requests raised.
func (e *Engine) CheckAutoEscalations(ctx context.Context) []*models.HITLRequest {
	now := e.queue.now()
	var raised []*models.HITLRequest
	for tenantID, policy := range e.policies {
		window := policy.AutoEscalateAfter.Std()
		if window <= 0 {
			continue
		}
		for _, req := range e.queue.GetPending(models.HITLFilter{TenantID: tenantID}, 0) {
			if req.Type == models.HITLTypeEscalation || now.Sub(req.CreatedAt) < window {
				continue
			}
			if !e.queue.markAutoEscalated(ctx, req.RequestID) {
				continue
			}
			level := policy.DefaultLevel
			if level == "" {
				level = models.LevelL1
			}
			rule := models.EscalationRule{
				Name:     "auto_stale",
				Trigger:  "stale_request",
				Level:    level,
				Priority: escalatedPriority(req.Priority),
				Enabled:  true,
			}
			esc, err := e.escalate(ctx, req.AgentID, tenantID, req.ExecutionID, policy, rule, map[string]any{
				"stale_request_id": req.RequestID,
				"pending_for":      now.Sub(req.CreatedAt).String(),
			})
			if err != nil {
				slog.Warn("Auto-escalation failed",
					"request_id", req.RequestID, "error", err)
				continue
			}
			raised = append(raised, esc)
		}
	}
	return raised
}

// escalatedPriority bumps a priority one band toward critical.
func escalatedPriority(p models.HITLPriority) models.HITLPriority {
	switch p {
	case models.HITLPriorityLow:
		return models.HITLPriorityMedium
	case models.HITLPriorityMedium:
		return models.HITLPriorityHigh
	default:
		return models.HITLPriorityCritical
	}
}

func (e *Engine) escalate(ctx context.Context, agentID, tenantID, executionID string, policy *models.EscalationPolicy, rule models.EscalationRule, ruleCtx map[string]any) (*models.HITLRequest, error) {
	req := &models.HITLRequest{
		Type:        models.HITLTypeEscalation,
		Priority:    rule.Priority,
		AgentID:     agentID,
		TenantID:    tenantID,
		ExecutionID: executionID,
		Title:       fmt.Sprintf("Escalation to %s: %s", rule.Level, rule.Name),
		Description: fmt.Sprintf("Rule %q (trigger %s) matched for agent %s", rule.Name, rule.Trigger, agentID),
		Context:     ruleCtx,
		Metadata: map[string]any{
			"escalation_level": string(rule.Level),
			"escalation_rule":  rule.Name,
		},
	}
	req, err := e.queue.Enqueue(ctx, req, 0)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindOf(err), err, "failed to enqueue escalation")
	}

	e.runHandlers(ctx, rule.Level, req, rule)
	e.notify(ctx, policy, rule, req)

	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:     events.EventTypeEscalationTriggered,
			TenantID: tenantID,
			AgentID:  agentID,
			Payload: map[string]any{
				"request_id": req.RequestID,
				"rule":       rule.Name,
				"level":      string(rule.Level),
				"priority":   string(rule.Priority),
			},
			Timestamp: e.queue.now(),
		})
	}
	slog.Info("Escalation triggered",
		"tenant_id", tenantID, "agent_id", agentID, "rule", rule.Name, "level", rule.Level)
	return req, nil
}

func (e *Engine) runHandlers(ctx context.Context, level models.EscalationLevel, req *models.HITLRequest, rule models.EscalationRule) {
	e.mu.RLock()
	handlers := append([]LevelHandler(nil), e.handlers[level]...)
	e.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("Escalation handler panicked",
						"level", level, "rule", rule.Name, "panic", r)
				}
			}()
			h(ctx, req, rule)
		}()
	}
}

func (e *Engine) notify(ctx context.Context, policy *models.EscalationPolicy, rule models.EscalationRule, req *models.HITLRequest) {
	if e.notifier == nil {
		return
	}
	message := fmt.Sprintf("[%s] %s (request %s)", rule.Level, req.Title, req.RequestID)
	for _, channel := range policy.NotificationChannels {
		if err := e.notifier.Send(ctx, channel, message, string(rule.Priority), map[string]any{
			"request_id": req.RequestID,
			"tenant_id":  req.TenantID,
		}); err != nil {
			slog.Warn("Escalation notification failed", "channel", channel, "error", err)
		}
	}
}

// RuleMatches reports whether every condition in the rule holds for the
// given context.
func RuleMatches(rule models.EscalationRule, ctx map[string]any) bool {
	for key, cond := range rule.Conditions {
		val, ok := ctx[key]
		if !ok {
			return false
		}
		if !conditionHolds(cond, val) {
			return false
		}
	}
	return true
}

func conditionHolds(cond models.Condition, val any) bool {
	if cond.Equals != nil && !looseEqual(cond.Equals, val) {
		return false
	}
	if cond.Min != nil || cond.Max != nil {
		f, ok := asFloat(val)
		if !ok {
			return false
		}
		if cond.Min != nil && f < *cond.Min {
			return false
		}
		if cond.Max != nil && f > *cond.Max {
			return false
		}
	}
	if len(cond.In) > 0 && !containsLoose(cond.In, val) {
		return false
	}
	if len(cond.NotIn) > 0 && containsLoose(cond.NotIn, val) {
		return false
	}
	return true
}

func containsLoose(list []any, val any) bool {
	for _, item := range list {
		if looseEqual(item, val) {
			return true
		}
	}
	return false
}

// looseEqual compares scalars, normalizing numeric types so YAML ints
// match runtime floats.
func looseEqual(a, b any) bool {
	if fa, ok := asFloat(a); ok {
		if fb, ok := asFloat(b); ok {
			return fa == fb
		}
		return false
	}
	return a == b
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
