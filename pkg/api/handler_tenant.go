package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/models"
)

// CreateTenant handles POST /api/v1/tenants.
func (s *Server) CreateTenant(c *gin.Context) {
	var req CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondValidationError(c, err)
		return
	}

	t, err := s.deps.Tenants.Create(c.Request.Context(), req.TenantID, req.Name, models.TenantTier(req.Tier))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// ListTenants handles GET /api/v1/tenants. The status query narrows
// the listing.
func (s *Server) ListTenants(c *gin.Context) {
	status := models.TenantStatus(c.Query("status"))
	c.JSON(http.StatusOK, listResponse(s.deps.Tenants.List(status)))
}

// GetTenant handles GET /api/v1/tenants/:id.
func (s *Server) GetTenant(c *gin.Context) {
	t, err := s.deps.Tenants.Get(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// GetTenantUsage handles GET /api/v1/tenants/:id/usage.
func (s *Server) GetTenantUsage(c *gin.Context) {
	usage, err := s.deps.Tenants.Usage(c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, usage)
}

// SuspendTenant handles POST /api/v1/tenants/:id/suspend.
func (s *Server) SuspendTenant(c *gin.Context) {
	if err := s.deps.Tenants.Suspend(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ResumeTenant handles POST /api/v1/tenants/:id/resume.
func (s *Server) ResumeTenant(c *gin.Context) {
	if err := s.deps.Tenants.Resume(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteTenant handles DELETE /api/v1/tenants/:id. The record is
// retained for audit; only the status changes.
func (s *Server) DeleteTenant(c *gin.Context) {
	if err := s.deps.Tenants.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
