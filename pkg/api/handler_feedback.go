package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/apperr"
)

// ListGoldenPaths handles GET /api/v1/goldenpaths with an optional
// tenant_id filter.
func (s *Server) ListGoldenPaths(c *gin.Context) {
	if s.deps.Collector == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Kind: apperr.KindNotFound, Message: "learning loop not configured"})
		return
	}
	c.JSON(http.StatusOK, listResponse(s.deps.Collector.List(c.Query("tenant_id"))))
}

// GetGoldenPath handles GET /api/v1/goldenpaths/:fingerprint.
func (s *Server) GetGoldenPath(c *gin.Context) {
	if s.deps.Collector == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Kind: apperr.KindNotFound, Message: "learning loop not configured"})
		return
	}
	g, err := s.deps.Collector.Get(c.Param("fingerprint"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// SearchGoldenPaths handles POST /api/v1/goldenpaths/search, the
// retrieval surface agents use for few-shot context.
func (s *Server) SearchGoldenPaths(c *gin.Context) {
	if s.deps.Collector == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Kind: apperr.KindNotFound, Message: "learning loop not configured"})
		return
	}
	var req SearchGoldenPathsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	topK := req.TopK
	if topK <= 0 {
		topK = 5
	}
	paths, err := s.deps.Collector.SearchGoldenPaths(c.Request.Context(),
		req.TenantID, req.Query, topK, req.MinSuccessRate)
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, listResponse(paths))
}

// RecordCSAT handles POST /api/v1/feedback/csat. A score of 4 or 5
// confirms the trace as a golden path; 1 or 2 counts as a failure.
func (s *Server) RecordCSAT(c *gin.Context) {
	if s.deps.Collector == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Kind: apperr.KindNotFound, Message: "learning loop not configured"})
		return
	}
	var req CSATRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	if err := s.deps.Collector.RecordCSAT(c.Request.Context(), req.TenantID, &req.Trace, req.Score); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusAccepted)
}
