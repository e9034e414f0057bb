package models

import (
	"context"
	"time"
)

// AgentStatus is the lifecycle state of an agent execution.
type AgentStatus string

// Agent execution statuses.
const (
	AgentStatusIdle          AgentStatus = "idle"
	AgentStatusRunning       AgentStatus = "running"
	AgentStatusAwaitingHuman AgentStatus = "awaiting_human"
	AgentStatusPaused        AgentStatus = "paused"
	AgentStatusCompleted     AgentStatus = "completed"
	AgentStatusFailed        AgentStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusFailed
}

// Failure reasons recorded on AgentState.Error for failed runs.
const (
	FailReasonTimeout   = "timeout"
	FailReasonCancelled = "cancelled"
)

// AgentConfig holds per-instance parameters for an agent.
type AgentConfig struct {
	AgentID              string          `json:"agent_id" yaml:"agent_id"`
	TenantID             string          `json:"tenant_id" yaml:"tenant_id"`
	BlueprintName        string          `json:"blueprint_name" yaml:"blueprint_name"`
	MaxIterations        int             `json:"max_iterations" yaml:"max_iterations" validate:"min=1,max=100"`
	TimeoutSeconds       int             `json:"timeout_seconds" yaml:"timeout_seconds" validate:"min=1,max=3600"`
	ConfidenceThreshold  float64         `json:"confidence_threshold" yaml:"confidence_threshold" validate:"min=0,max=1"`
	RequireHumanApproval bool            `json:"require_human_approval" yaml:"require_human_approval"`
	AllowedTools         map[string]bool `json:"allowed_tools,omitempty" yaml:"allowed_tools,omitempty"`
}

// ToolAllowed reports whether the named tool capability is permitted.
// An empty allow-set permits everything.
func (c *AgentConfig) ToolAllowed(name string) bool {
	if len(c.AllowedTools) == 0 {
		return true
	}
	return c.AllowedTools[name]
}

// Action is what a blueprint's plan step decided to do next.
type Action struct {
	Name             string         `json:"action"`
	Input            map[string]any `json:"action_input,omitempty"`
	RequiresApproval bool           `json:"requires_approval,omitempty"`
	Complete         bool           `json:"complete,omitempty"`
}

// Step kinds for the intermediate step log. Unknown kinds are persisted
// verbatim but never drive control flow.
const (
	StepKindAction        = "action"
	StepKindError         = "error"
	StepKindHumanFeedback = "human_feedback"
)

// Step is one entry in an execution's intermediate step log.
type Step struct {
	Kind      string         `json:"kind"`
	Action    string         `json:"action,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Output    map[string]any `json:"output,omitempty"`
	Error     string         `json:"error,omitempty"`
	Complete  bool           `json:"complete,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// FeedbackRequestRef links a suspended execution to its HITL request.
type FeedbackRequestRef struct {
	RequestID string    `json:"request_id"`
	Type      string    `json:"type"`
	Question  string    `json:"question,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// AgentState is the mutable run record for one execution, keyed by
// (AgentID, ExecutionID).
type AgentState struct {
	AgentID     string      `json:"agent_id"`
	ExecutionID string      `json:"execution_id"`
	TenantID    string      `json:"tenant_id"`
	Blueprint   string      `json:"blueprint,omitempty"`
	Status      AgentStatus `json:"status"`
	CurrentStep int         `json:"current_step"`

	Input  map[string]any `json:"input,omitempty"`
	Output map[string]any `json:"output,omitempty"`

	IntermediateSteps []Step `json:"intermediate_steps,omitempty"`

	HumanFeedbackRequest *FeedbackRequestRef `json:"human_feedback_request,omitempty"`

	Error       string     `json:"error,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// LastStep returns the most recent step, or nil for a fresh state.
func (s *AgentState) LastStep() *Step {
	if len(s.IntermediateSteps) == 0 {
		return nil
	}
	return &s.IntermediateSteps[len(s.IntermediateSteps)-1]
}

// AppendStep records a step and advances the monotonic counter.
func (s *AgentState) AppendStep(step Step) {
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	s.IntermediateSteps = append(s.IntermediateSteps, step)
	s.CurrentStep = len(s.IntermediateSteps)
}

// ExecutionResult is returned by Executor.Execute.
type ExecutionResult struct {
	Status     AgentStatus    `json:"status"`
	Output     map[string]any `json:"output,omitempty"`
	Steps      []Step         `json:"steps,omitempty"`
	DurationMS int64          `json:"duration_ms"`
	Error      string         `json:"error,omitempty"`
}

// Tool is a named capability held by an agent.
type Tool struct {
	Name             string
	Description      string
	RequiresApproval bool
	TenantAllowList  map[string]bool // nil means all tenants
	Handler          ToolHandler
}

// ToolResult is returned by a tool handler. AwaitingHuman signals the
// executor to suspend the run (suspension point 3).
type ToolResult struct {
	Output        map[string]any
	AwaitingHuman bool
	Question      string
}

// ToolHandler executes a tool capability. The context carries the
// execution deadline so blocking handlers can cancel cooperatively.
type ToolHandler func(ctx context.Context, call ToolCall) (*ToolResult, error)

// ToolCall carries execution identity and input into tool handlers.
type ToolCall struct {
	AgentID     string
	ExecutionID string
	TenantID    string
	Input       map[string]any
}
