package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/executor"
	"github.com/supportstack/orchestrad/pkg/registry"
)

// ListBlueprints handles GET /api/v1/blueprints.
func (s *Server) ListBlueprints(c *gin.Context) {
	bps := s.deps.Registry.ListBlueprints()
	out := make([]BlueprintResponse, 0, len(bps))
	for _, bp := range bps {
		out = append(out, BlueprintResponse{
			Name:    bp.Name(),
			Version: bp.Version(),
			Tools:   bp.RequiredTools(),
		})
	}
	c.JSON(http.StatusOK, listResponse(out))
}

// CreateAgent handles POST /api/v1/agents. The agent counts against the
// tenant's MaxAgents quota; registry failure rolls the slot back.
func (s *Server) CreateAgent(c *gin.Context) {
	var req CreateAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	if err := s.deps.Tenants.RegisterAgent(req.TenantID); err != nil {
		s.respondError(c, err)
		return
	}

	agent, err := s.deps.Registry.CreateAgent(req.Blueprint, req.TenantID, req.Name, &registry.ConfigOverrides{
		MaxIterations:        req.MaxIterations,
		TimeoutSeconds:       req.TimeoutSeconds,
		ConfidenceThreshold:  req.ConfidenceThreshold,
		RequireHumanApproval: req.RequireHumanApproval,
		AllowedTools:         req.AllowedTools,
	})
	if err != nil {
		s.deps.Tenants.UnregisterAgent(req.TenantID)
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, agentResponse(agent, nil))
}

// ListAgents handles GET /api/v1/agents with tenant_id and blueprint
// query filters.
func (s *Server) ListAgents(c *gin.Context) {
	agents := s.deps.Registry.ListAgents(registry.AgentFilter{
		TenantID:      c.Query("tenant_id"),
		BlueprintName: c.Query("blueprint"),
	})
	out := make([]AgentResponse, 0, len(agents))
	for _, a := range agents {
		out = append(out, agentResponse(a, nil))
	}
	c.JSON(http.StatusOK, listResponse(out))
}

// GetAgent handles GET /api/v1/agents/:id. The response includes the
// live run state while an execution is active or suspended.
func (s *Server) GetAgent(c *gin.Context) {
	agent, err := s.deps.Registry.GetAgent(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	state, _ := s.deps.Executor.StateOf(agent.Config.AgentID)
	c.JSON(http.StatusOK, agentResponse(agent, state))
}

// DeleteAgent handles DELETE /api/v1/agents/:id. Agents with an active
// execution cannot be deleted.
func (s *Server) DeleteAgent(c *gin.Context) {
	agent, err := s.deps.Registry.GetAgent(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	if _, err := s.deps.Executor.StateOf(agent.Config.AgentID); err == nil {
		s.respondError(c, apperr.New(apperr.KindIllegalState,
			"agent %s has an active execution", agent.Config.AgentID))
		return
	}
	if err := s.deps.Registry.RemoveAgent(agent.Config.AgentID); err != nil {
		s.respondError(c, err)
		return
	}
	s.deps.Tenants.UnregisterAgent(agent.Config.TenantID)
	c.Status(http.StatusNoContent)
}

// ExecuteAgent handles POST /api/v1/agents/:id/execute. The call blocks
// until the run reaches a terminal state or a suspension point; a
// suspended run reports status awaiting_human.
func (s *Server) ExecuteAgent(c *gin.Context) {
	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	result, err := s.deps.Executor.Execute(c.Request.Context(), c.Param("id"), req.Input, executor.ExecOptions{
		Timeout: time.Duration(req.TimeoutSeconds) * time.Second,
		Wait:    req.Wait,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ResumeAgent handles POST /api/v1/agents/:id/resume, re-entering a
// suspended execution directly. Answering through the HITL queue is
// the normal path; this endpoint serves operator overrides.
func (s *Server) ResumeAgent(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	result, err := s.deps.Executor.Resume(c.Request.Context(), c.Param("id"), req.toResponse())
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// CancelAgent handles POST /api/v1/agents/:id/cancel.
func (s *Server) CancelAgent(c *gin.Context) {
	if err := s.deps.Executor.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}

// GetExecution handles GET /api/v1/agents/:id/executions/:execution_id,
// reading the persisted state snapshot.
func (s *Server) GetExecution(c *gin.Context) {
	state, err := s.deps.Store.GetAgentState(c.Request.Context(), c.Param("id"), c.Param("execution_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}
