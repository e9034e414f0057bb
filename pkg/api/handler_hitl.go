package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/models"
)

// ListHITLRequests handles GET /api/v1/hitl/requests. Results come from
// the live queue ordered by priority band then age; the status filter
// defaults to pending.
func (s *Server) ListHITLRequests(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	filter := models.HITLFilter{
		TenantID:   c.Query("tenant_id"),
		AgentID:    c.Query("agent_id"),
		AssignedTo: c.Query("assigned_to"),
		Type:       models.HITLType(c.Query("type")),
		Priority:   models.HITLPriority(c.Query("priority")),
		Status:     models.HITLStatus(c.Query("status")),
	}
	c.JSON(http.StatusOK, listResponse(s.deps.HITL.Queue().GetPending(filter, limit)))
}

// GetHITLRequest handles GET /api/v1/hitl/requests/:id.
func (s *Server) GetHITLRequest(c *gin.Context) {
	req, err := s.deps.HITL.Queue().Get(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}

// AssignHITLRequest handles POST /api/v1/hitl/requests/:id/assign.
// Assigning a request that is no longer pending answers 409.
func (s *Server) AssignHITLRequest(c *gin.Context) {
	var req AssignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	assigned, err := s.deps.HITL.Queue().Assign(c.Request.Context(), c.Param("id"), req.ReviewerID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if !assigned {
		c.JSON(http.StatusConflict, ErrorResponse{Kind: apperr.KindIllegalState, Message: "request is no longer pending"})
		return
	}
	s.deps.HITL.Pool().IncrementWorkload(req.ReviewerID)
	c.Status(http.StatusNoContent)
}

// RespondHITLRequest handles POST /api/v1/hitl/requests/:id/respond.
// The response completes the request, feeds the learning loop, and
// resumes the originating agent.
func (s *Server) RespondHITLRequest(c *gin.Context) {
	var req RespondRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	if err := s.deps.HITL.Respond(c.Request.Context(), c.Param("id"), req.toResponse()); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// CancelHITLRequest handles POST /api/v1/hitl/requests/:id/cancel.
func (s *Server) CancelHITLRequest(c *gin.Context) {
	var req CancelRequestBody
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	if err := s.deps.HITL.CancelRequest(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListReviewers handles GET /api/v1/hitl/reviewers.
func (s *Server) ListReviewers(c *gin.Context) {
	c.JSON(http.StatusOK, listResponse(s.deps.HITL.Pool().List()))
}

// RegisterReviewer handles POST /api/v1/hitl/reviewers. An empty
// tenant list registers the reviewer for all tenants.
func (s *Server) RegisterReviewer(c *gin.Context) {
	var req RegisterReviewerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	var tenantIDs map[string]bool
	if len(req.TenantIDs) > 0 {
		tenantIDs = make(map[string]bool, len(req.TenantIDs))
		for _, id := range req.TenantIDs {
			tenantIDs[id] = true
		}
	}
	if err := s.deps.HITL.Pool().Register(req.ReviewerID, tenantIDs); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusCreated)
}

// GetReviewerAssignments handles GET /api/v1/hitl/reviewers/:id/assignments.
func (s *Server) GetReviewerAssignments(c *gin.Context) {
	c.JSON(http.StatusOK, listResponse(s.deps.HITL.Queue().GetUserAssignments(c.Param("id"))))
}

// Escalate handles POST /api/v1/escalations, creating a manual
// escalation request outside any policy rule.
func (s *Server) Escalate(c *gin.Context) {
	if s.deps.Escalation == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Kind: apperr.KindNotFound, Message: "escalation engine not configured"})
		return
	}
	var req EscalateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	priority := models.HITLPriority(req.Priority)
	if priority == "" {
		priority = models.HITLPriorityHigh
	}
	out, err := s.deps.Escalation.ManualEscalate(c.Request.Context(),
		req.AgentID, req.TenantID, req.ExecutionID, req.Reason, priority)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, out)
}
