package api

import "github.com/supportstack/orchestrad/pkg/models"

// CreateTenantRequest is the body for POST /api/v1/tenants.
type CreateTenantRequest struct {
	TenantID string `json:"tenant_id" binding:"required"`
	Name     string `json:"name"`
	Tier     string `json:"tier" binding:"required,oneof=free starter professional enterprise"`
}

// CreateAgentRequest is the body for POST /api/v1/agents.
type CreateAgentRequest struct {
	Blueprint string `json:"blueprint" binding:"required"`
	TenantID  string `json:"tenant_id" binding:"required"`
	Name      string `json:"name"`

	// Overrides replace blueprint defaults when present.
	MaxIterations        *int            `json:"max_iterations,omitempty"`
	TimeoutSeconds       *int            `json:"timeout_seconds,omitempty"`
	ConfidenceThreshold  *float64        `json:"confidence_threshold,omitempty"`
	RequireHumanApproval *bool           `json:"require_human_approval,omitempty"`
	AllowedTools         map[string]bool `json:"allowed_tools,omitempty"`
}

// ExecuteRequest is the body for POST /api/v1/agents/:id/execute.
type ExecuteRequest struct {
	Input          map[string]any `json:"input"`
	TimeoutSeconds int            `json:"timeout_seconds"`
	Wait           bool           `json:"wait"`
}

// RespondRequest answers a HITL request or resumes an agent directly.
type RespondRequest struct {
	Decision   string         `json:"decision"`
	Text       string         `json:"text"`
	Data       map[string]any `json:"data,omitempty"`
	ReviewerID string         `json:"reviewer_id"`
}

func (r *RespondRequest) toResponse() *models.HITLResponse {
	return &models.HITLResponse{
		Decision:   r.Decision,
		Text:       r.Text,
		Data:       r.Data,
		ReviewerID: r.ReviewerID,
	}
}

// AssignRequest is the body for POST /api/v1/hitl/requests/:id/assign.
type AssignRequest struct {
	ReviewerID string `json:"reviewer_id" binding:"required"`
}

// CancelRequestBody is the body for POST /api/v1/hitl/requests/:id/cancel.
type CancelRequestBody struct {
	Reason string `json:"reason"`
}

// RegisterReviewerRequest is the body for POST /api/v1/hitl/reviewers.
type RegisterReviewerRequest struct {
	ReviewerID string   `json:"reviewer_id" binding:"required"`
	TenantIDs  []string `json:"tenant_ids,omitempty"` // empty serves all tenants
}

// EscalateRequest is the body for POST /api/v1/escalations.
type EscalateRequest struct {
	TenantID    string `json:"tenant_id" binding:"required"`
	AgentID     string `json:"agent_id"`
	ExecutionID string `json:"execution_id"`
	Reason      string `json:"reason" binding:"required"`
	Priority    string `json:"priority" binding:"omitempty,oneof=critical high medium low"`
}

// SearchGoldenPathsRequest is the body for POST /api/v1/goldenpaths/search.
type SearchGoldenPathsRequest struct {
	TenantID       string  `json:"tenant_id"`
	Query          string  `json:"query" binding:"required"`
	TopK           int     `json:"top_k"`
	MinSuccessRate float64 `json:"min_success_rate"`
}

// CSATRequest is the body for POST /api/v1/feedback/csat.
type CSATRequest struct {
	TenantID string                 `json:"tenant_id" binding:"required"`
	Score    int                    `json:"score" binding:"required,min=1,max=5"`
	Trace    models.ResolutionTrace `json:"trace" binding:"required"`
}
