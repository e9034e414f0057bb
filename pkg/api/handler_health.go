package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// Health handles GET /health. The state store failing marks the
// process unhealthy; a failing activity stream only degrades it, since
// the stream is a best-effort copy of the in-process bus.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if err := s.deps.Store.HealthCheck(ctx); err != nil {
		status = healthStatusUnhealthy
		checks["store"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
	} else {
		checks["store"] = HealthCheck{Status: healthStatusHealthy}
	}

	if s.deps.Stream != nil {
		if err := s.deps.Stream.Ping(ctx); err != nil {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			checks["activity_stream"] = HealthCheck{Status: healthStatusDegraded, Message: err.Error()}
		} else {
			checks["activity_stream"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	c.JSON(httpStatus, HealthResponse{
		Status:  status,
		Version: version.GitCommit,
		Checks:  checks,
	})
}
