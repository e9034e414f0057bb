// Package events provides the in-process event bus used for component
// fan-out, plus the event type vocabulary shared across the runtime.
//
// Delivery model: Publish captures the event in a bounded ring buffer
// (short-term introspection/replay), then invokes subscribers of the
// event's type followed by wildcard subscribers, sequentially. A
// subscriber panic or error is logged and does not block siblings.
// Order within a single publisher is preserved.
package events

import "time"

// Execution lifecycle event types.
const (
	EventTypeExecutionStarted   = "execution.started"
	EventTypeExecutionCompleted = "execution.completed"
	EventTypeExecutionFailed    = "execution.failed"
	EventTypeExecutionSuspended = "execution.suspended"
	EventTypeExecutionResumed   = "execution.resumed"
)

// HITL lifecycle event types.
const (
	EventTypeHITLCreated   = "hitl.request_created"
	EventTypeHITLAssigned  = "hitl.request_assigned"
	EventTypeHITLResponded = "hitl.request_responded"
	EventTypeHITLExpired   = "hitl.request_expired"
	EventTypeHITLCancelled = "hitl.request_cancelled"
	EventTypeHITLSLABreach = "hitl.sla_breach"
)

// Human decision event types emitted by the resume bridge.
const (
	EventTypeApprovalGranted  = "human.approval_granted"
	EventTypeApprovalDenied   = "human.approval_denied"
	EventTypeFeedbackProvided = "human.feedback_provided"
)

// Escalation and feedback event types.
const (
	EventTypeEscalationTriggered = "escalation.triggered"
	EventTypeGoldenPathRecorded  = "feedback.golden_path_recorded"
	EventTypeGoldenPathPruned    = "feedback.golden_path_pruned"
)

// Infrastructure event types.
const (
	EventTypePersistenceLag = "persistence.lag"
	EventTypeTenantCreated  = "tenant.created"
	EventTypeTenantUpdated  = "tenant.updated"
)

// Wildcard subscribes to every event type.
const Wildcard = "*"

// Event is the unit published on the bus.
type Event struct {
	Type      string         `json:"type"`
	TenantID  string         `json:"tenant_id,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler consumes events. Handlers run synchronously on the
// publisher's goroutine; slow handlers delay later subscribers but
// never reorder them.
type Handler func(Event)
