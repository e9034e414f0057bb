package api

import (
	"time"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/registry"
	"github.com/supportstack/orchestrad/pkg/resilience"
)

// ErrorResponse is the standard error envelope. Message is masked
// before it leaves the process; clients decide on retry from the
// retryable flag rather than parsing the text.
type ErrorResponse struct {
	Kind      apperr.Kind `json:"error_kind"`
	Message   string      `json:"message"`
	Retryable bool        `json:"retryable"`
	DocRef    string      `json:"documentation_ref,omitempty"`
}

// HealthCheck reports one component's health.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status  string                 `json:"status"`
	Version string                 `json:"version"`
	Checks  map[string]HealthCheck `json:"checks"`
}

// BlueprintResponse describes one registered blueprint.
type BlueprintResponse struct {
	Name    string   `json:"name"`
	Version string   `json:"version"`
	Tools   []string `json:"required_tools,omitempty"`
}

// AgentResponse describes one agent instance.
type AgentResponse struct {
	AgentID   string             `json:"agent_id"`
	Name      string             `json:"name,omitempty"`
	Blueprint string             `json:"blueprint"`
	TenantID  string             `json:"tenant_id"`
	Config    models.AgentConfig `json:"config"`
	CreatedAt time.Time          `json:"created_at"`

	// State is the live run snapshot, present only while the agent has
	// an active or suspended execution.
	State *models.AgentState `json:"state,omitempty"`
}

func agentResponse(a *registry.Agent, state *models.AgentState) AgentResponse {
	return AgentResponse{
		AgentID:   a.Config.AgentID,
		Name:      a.Name,
		Blueprint: a.Config.BlueprintName,
		TenantID:  a.Config.TenantID,
		Config:    a.Config,
		CreatedAt: a.CreatedAt,
		State:     state,
	}
}

// BreakerResponse describes one circuit breaker.
type BreakerResponse struct {
	Name  string                  `json:"name"`
	State resilience.BreakerState `json:"state"`
}

// ListResponse is the generic list envelope.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func listResponse[T any](items []T) ListResponse[T] {
	return ListResponse[T]{Items: items, Count: len(items)}
}
