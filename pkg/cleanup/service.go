// Package cleanup runs the background retention sweeps: expired agent
// state snapshots, aged-out audit events, and oversized activity
// streams. All operations are idempotent and safe to run from multiple
// replicas.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/models"
)

// StateJanitor deletes expired agent state snapshots. Implemented by
// the state stores.
type StateJanitor interface {
	CleanupExpiredStates(ctx context.Context) (int64, error)
}

// AuditJanitor prunes audit events older than a cutoff. Implemented by
// the state stores.
type AuditJanitor interface {
	DeleteAuditEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// StreamTrimmer caps a tenant's activity stream length. Implemented by
// the Redis activity stream.
type StreamTrimmer interface {
	Trim(ctx context.Context, tenantID string, maxLen int64) error
}

// TenantLister enumerates tenants whose streams need trimming.
type TenantLister interface {
	List(status models.TenantStatus) []*models.Tenant
}

// Service periodically enforces retention policies. Any nil dependency
// skips the corresponding sweep.
type Service struct {
	cfg     *config.RetentionConfig
	states  StateJanitor
	audits  AuditJanitor
	tenants TenantLister
	stream  StreamTrimmer

	// streamMaxLen is the hard cap applied during trims.
	streamMaxLen int64

	cancel context.CancelFunc
	done   chan struct{}

	now func() time.Time
}

// NewService creates a retention service.
func NewService(cfg *config.RetentionConfig, states StateJanitor, audits AuditJanitor, tenants TenantLister, stream StreamTrimmer, streamMaxLen int64) *Service {
	return &Service{
		cfg:          cfg,
		states:       states,
		audits:       audits,
		tenants:      tenants,
		stream:       stream,
		streamMaxLen: streamMaxLen,
		now:          time.Now,
	}
}

// Start launches the background retention loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Retention service started",
		"sweep_interval", s.cfg.SweepInterval.Std(),
		"audit_retention", s.cfg.AuditRetention.Std())
}

// Stop signals the retention loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Retention service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.RunAll(ctx)

	ticker := time.NewTicker(s.cfg.SweepInterval.Std())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunAll(ctx)
		}
	}
}

// RunAll performs one retention pass.
func (s *Service) RunAll(ctx context.Context) {
	s.cleanupExpiredStates(ctx)
	s.pruneAuditEvents(ctx)
	s.trimStreams(ctx)
}

func (s *Service) cleanupExpiredStates(ctx context.Context) {
	if s.states == nil {
		return
	}
	count, err := s.states.CleanupExpiredStates(ctx)
	if err != nil {
		slog.Error("Retention: expired state cleanup failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed expired agent states", "count", count)
	}
}

func (s *Service) pruneAuditEvents(ctx context.Context) {
	if s.audits == nil {
		return
	}
	retention := s.cfg.AuditRetention.Std()
	if retention <= 0 {
		return
	}
	count, err := s.audits.DeleteAuditEventsBefore(ctx, s.now().Add(-retention))
	if err != nil {
		slog.Error("Retention: audit event pruning failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: pruned audit events", "count", count)
	}
}

func (s *Service) trimStreams(ctx context.Context) {
	if s.stream == nil || s.tenants == nil || s.streamMaxLen <= 0 {
		return
	}
	for _, t := range s.tenants.List("") {
		if err := s.stream.Trim(ctx, t.TenantID, s.streamMaxLen); err != nil {
			slog.Error("Retention: stream trim failed",
				"tenant_id", t.TenantID, "error", err)
		}
	}
}
