package models

import "time"

// HITLType classifies a human-in-the-loop request.
type HITLType string

// HITL request types.
const (
	HITLTypeApproval      HITLType = "approval"
	HITLTypeReview        HITLType = "review"
	HITLTypeFeedback      HITLType = "feedback"
	HITLTypeEscalation    HITLType = "escalation"
	HITLTypeOverride      HITLType = "override"
	HITLTypeClarification HITLType = "clarification"
)

// HITLPriority orders requests for reviewers. Lower band drains first.
type HITLPriority string

// HITL priorities.
const (
	HITLPriorityCritical HITLPriority = "critical"
	HITLPriorityHigh     HITLPriority = "high"
	HITLPriorityMedium   HITLPriority = "medium"
	HITLPriorityLow      HITLPriority = "low"
)

// Band returns the numeric priority band (critical=0 .. low=3).
// Unknown priorities sort after low.
func (p HITLPriority) Band() int {
	switch p {
	case HITLPriorityCritical:
		return 0
	case HITLPriorityHigh:
		return 1
	case HITLPriorityMedium:
		return 2
	case HITLPriorityLow:
		return 3
	default:
		return 4
	}
}

// HITLStatus is the lifecycle state of a request.
type HITLStatus string

// HITL request statuses.
const (
	HITLStatusPending    HITLStatus = "pending"
	HITLStatusAssigned   HITLStatus = "assigned"
	HITLStatusInProgress HITLStatus = "in_progress"
	HITLStatusCompleted  HITLStatus = "completed"
	HITLStatusExpired    HITLStatus = "expired"
	HITLStatusCancelled  HITLStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s HITLStatus) Terminal() bool {
	return s == HITLStatusCompleted || s == HITLStatusExpired || s == HITLStatusCancelled
}

// HITL response decisions recognized by the resume bridge.
const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
)

// HITLResponse is a reviewer's answer to a request.
type HITLResponse struct {
	Decision   string         `json:"decision,omitempty"` // approve, reject, or free-form
	Text       string         `json:"text,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	ReviewerID string         `json:"reviewer_id"`
}

// HITLRequest is a pending or answered human-review request.
type HITLRequest struct {
	RequestID   string       `json:"request_id"`
	Type        HITLType     `json:"type"`
	Priority    HITLPriority `json:"priority"`
	Status      HITLStatus   `json:"status"`
	AgentID     string       `json:"agent_id,omitempty"`
	TenantID    string       `json:"tenant_id"`
	ExecutionID string       `json:"execution_id,omitempty"`

	Title       string         `json:"title"`
	Description string         `json:"description,omitempty"`
	Question    string         `json:"question,omitempty"`
	Options     []string       `json:"options,omitempty"`
	Context     map[string]any `json:"context,omitempty"` // agent snapshot

	SLADeadline time.Time  `json:"sla_deadline"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`

	AssignedTo string        `json:"assigned_to,omitempty"`
	Response   *HITLResponse `json:"response,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// HITLFilter narrows GetPending and persistence queries.
type HITLFilter struct {
	TenantID   string
	AgentID    string
	AssignedTo string
	Type       HITLType
	Priority   HITLPriority
	Status     HITLStatus
}

// Matches reports whether the request satisfies every set filter field.
func (f HITLFilter) Matches(r *HITLRequest) bool {
	if f.TenantID != "" && r.TenantID != f.TenantID {
		return false
	}
	if f.AgentID != "" && r.AgentID != f.AgentID {
		return false
	}
	if f.AssignedTo != "" && r.AssignedTo != f.AssignedTo {
		return false
	}
	if f.Type != "" && r.Type != f.Type {
		return false
	}
	if f.Priority != "" && r.Priority != f.Priority {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	return true
}
