// Package api exposes the administrative HTTP surface: tenant and agent
// management, execution control, the HITL queue, the golden-path
// catalog, audit queries, and the activity stream.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/supportstack/orchestrad/pkg/executor"
	"github.com/supportstack/orchestrad/pkg/feedback"
	"github.com/supportstack/orchestrad/pkg/hitl"
	"github.com/supportstack/orchestrad/pkg/masking"
	"github.com/supportstack/orchestrad/pkg/registry"
	"github.com/supportstack/orchestrad/pkg/resilience"
	"github.com/supportstack/orchestrad/pkg/store"
	"github.com/supportstack/orchestrad/pkg/stream"
	"github.com/supportstack/orchestrad/pkg/tenant"
)

// Deps carries the wired runtime components. Escalation, collector,
// stream, and breakers are optional; their endpoints answer 404 or a
// degraded health check when absent.
type Deps struct {
	Store      store.StateStore
	Registry   *registry.Registry
	Tenants    *tenant.Manager
	Executor   *executor.Executor
	HITL       *hitl.Manager
	Escalation *hitl.Engine
	Collector  *feedback.Collector
	Stream     *stream.ActivityStream
	Breakers   *resilience.BreakerRegistry
	Masker     *masking.Service
}

// Server is the admin API server.
type Server struct {
	deps   Deps
	logger *slog.Logger
}

// NewServer creates the admin API server.
func NewServer(deps Deps) *Server {
	return &Server{
		deps:   deps,
		logger: slog.Default().With("component", "api-server"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), securityHeaders())

	r.GET("/health", s.Health)

	v1 := r.Group("/api/v1")
	{
		v1.POST("/tenants", s.CreateTenant)
		v1.GET("/tenants", s.ListTenants)
		v1.GET("/tenants/:id", s.GetTenant)
		v1.GET("/tenants/:id/usage", s.GetTenantUsage)
		v1.POST("/tenants/:id/suspend", s.SuspendTenant)
		v1.POST("/tenants/:id/resume", s.ResumeTenant)
		v1.DELETE("/tenants/:id", s.DeleteTenant)

		v1.GET("/blueprints", s.ListBlueprints)

		v1.POST("/agents", s.CreateAgent)
		v1.GET("/agents", s.ListAgents)
		v1.GET("/agents/:id", s.GetAgent)
		v1.DELETE("/agents/:id", s.DeleteAgent)
		v1.POST("/agents/:id/execute", s.ExecuteAgent)
		v1.POST("/agents/:id/resume", s.ResumeAgent)
		v1.POST("/agents/:id/cancel", s.CancelAgent)
		v1.GET("/agents/:id/executions/:execution_id", s.GetExecution)

		v1.GET("/hitl/requests", s.ListHITLRequests)
		v1.GET("/hitl/requests/:id", s.GetHITLRequest)
		v1.POST("/hitl/requests/:id/assign", s.AssignHITLRequest)
		v1.POST("/hitl/requests/:id/respond", s.RespondHITLRequest)
		v1.POST("/hitl/requests/:id/cancel", s.CancelHITLRequest)
		v1.GET("/hitl/reviewers", s.ListReviewers)
		v1.POST("/hitl/reviewers", s.RegisterReviewer)
		v1.GET("/hitl/reviewers/:id/assignments", s.GetReviewerAssignments)

		v1.POST("/escalations", s.Escalate)

		v1.GET("/goldenpaths", s.ListGoldenPaths)
		v1.GET("/goldenpaths/:fingerprint", s.GetGoldenPath)
		v1.POST("/goldenpaths/search", s.SearchGoldenPaths)
		v1.POST("/feedback/csat", s.RecordCSAT)

		v1.GET("/audit/events", s.QueryAuditEvents)
		v1.GET("/activity/:tenant_id", s.ReadActivity)

		v1.GET("/system/executor", s.ExecutorStats)
		v1.GET("/system/breakers", s.ListBreakers)
		v1.POST("/system/breakers/:name/reset", s.ResetBreaker)
	}

	return r
}

// Run serves the API until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("API server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
