package hitl

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/store"
)

func newTestQueue(bus *events.Bus) *Queue {
	return NewQueue(config.DefaultQueueConfig(), store.NewMemoryStateStore(), bus)
}

func enqueue(t *testing.T, q *Queue, priority models.HITLPriority) *models.HITLRequest {
	t.Helper()
	req, err := q.Enqueue(context.Background(), &models.HITLRequest{
		Type:     models.HITLTypeReview,
		Priority: priority,
		TenantID: "t-A",
		Title:    "review",
	}, 0)
	require.NoError(t, err)
	return req
}

func TestEnqueueStampsSLADeadline(t *testing.T) {
	q := newTestQueue(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	req := enqueue(t, q, models.HITLPriorityCritical)
	assert.Equal(t, models.HITLStatusPending, req.Status)
	assert.Equal(t, now.Add(5*time.Minute), req.SLADeadline)
	assert.Nil(t, req.ExpiresAt)

	req, err := q.Enqueue(context.Background(), &models.HITLRequest{
		Type: models.HITLTypeApproval, Priority: models.HITLPriorityLow, TenantID: "t-A",
	}, 10*time.Minute)
	require.NoError(t, err)
	require.NotNil(t, req.ExpiresAt)
	assert.Equal(t, now.Add(10*time.Minute), *req.ExpiresAt)

	_, err = q.Enqueue(context.Background(), &models.HITLRequest{
		TenantID: "t-A", Priority: "urgent",
	}, 0)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestGetPendingPriorityOrdering(t *testing.T) {
	q := newTestQueue(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { now = now.Add(time.Second); return now }

	// Mixed enqueue order: low, critical, medium, high.
	enqueue(t, q, models.HITLPriorityLow)
	enqueue(t, q, models.HITLPriorityCritical)
	enqueue(t, q, models.HITLPriorityMedium)
	enqueue(t, q, models.HITLPriorityHigh)

	pending := q.GetPending(models.HITLFilter{}, 4)
	require.Len(t, pending, 4)
	assert.Equal(t, models.HITLPriorityCritical, pending[0].Priority)
	assert.Equal(t, models.HITLPriorityHigh, pending[1].Priority)
	assert.Equal(t, models.HITLPriorityMedium, pending[2].Priority)
	assert.Equal(t, models.HITLPriorityLow, pending[3].Priority)

	// FIFO within a band.
	first := enqueue(t, q, models.HITLPriorityCritical)
	second := enqueue(t, q, models.HITLPriorityCritical)
	pending = q.GetPending(models.HITLFilter{Priority: models.HITLPriorityCritical}, 0)
	require.Len(t, pending, 3)
	assert.True(t, pending[1].RequestID == first.RequestID && pending[2].RequestID == second.RequestID)
}

func TestAssignRespondLifecycle(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(nil)
	req := enqueue(t, q, models.HITLPriorityHigh)

	ok, err := q.Assign(ctx, req.RequestID, "rev-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// Assigned requests leave the pending view.
	assert.Empty(t, q.GetPending(models.HITLFilter{}, 0))
	assignments := q.GetUserAssignments("rev-1")
	require.Len(t, assignments, 1)
	assert.Equal(t, req.RequestID, assignments[0].RequestID)

	// Assign is only valid from pending.
	ok, err = q.Assign(ctx, req.RequestID, "rev-2")
	require.NoError(t, err)
	assert.False(t, ok)

	done, err := q.Respond(ctx, req.RequestID, &models.HITLResponse{
		Decision: models.DecisionApprove, ReviewerID: "rev-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.HITLStatusCompleted, done.Status)
	require.NotNil(t, done.RespondedAt)
	assert.Empty(t, q.GetUserAssignments("rev-1"), "completed requests leave assignments")

	// First writer wins; the second response is an error.
	_, err = q.Respond(ctx, req.RequestID, &models.HITLResponse{Decision: models.DecisionReject})
	assert.True(t, apperr.Is(err, apperr.KindIllegalState))
}

func TestConcurrentRespondFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(nil)
	req := enqueue(t, q, models.HITLPriorityMedium)

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := q.Respond(ctx, req.RequestID, &models.HITLResponse{Decision: models.DecisionApprove}); err == nil {
				mu.Lock()
				completed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, completed, "exactly one terminal transition")
}

func TestUnassignReturnsToPending(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(nil)
	req := enqueue(t, q, models.HITLPriorityMedium)

	assert.True(t, apperr.Is(q.Unassign(ctx, req.RequestID), apperr.KindIllegalState))

	_, err := q.Assign(ctx, req.RequestID, "rev-1")
	require.NoError(t, err)
	require.NoError(t, q.Unassign(ctx, req.RequestID))

	got, err := q.Get(req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.HITLStatusPending, got.Status)
	assert.Empty(t, got.AssignedTo)
}

func TestCancelFromAnyNonTerminalState(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(nil)

	req := enqueue(t, q, models.HITLPriorityLow)
	require.NoError(t, q.Cancel(ctx, req.RequestID, "superseded"))
	got, err := q.Get(req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.HITLStatusCancelled, got.Status)
	assert.Equal(t, "superseded", got.Metadata[metaCancelReason])

	assert.True(t, apperr.Is(q.Cancel(ctx, req.RequestID, "again"), apperr.KindIllegalState))
}

func TestCheckExpirations(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	_, err := q.Enqueue(ctx, &models.HITLRequest{
		Type: models.HITLTypeApproval, Priority: models.HITLPriorityLow, TenantID: "t-A",
	}, time.Minute)
	require.NoError(t, err)
	keeper := enqueue(t, q, models.HITLPriorityLow)

	assert.Empty(t, q.CheckExpirations(ctx), "nothing expired yet")

	now = now.Add(2 * time.Minute)
	expired := q.CheckExpirations(ctx)
	require.Len(t, expired, 1)
	assert.Equal(t, models.HITLStatusExpired, expired[0].Status)

	got, err := q.Get(keeper.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.HITLStatusPending, got.Status, "no expires_at means no expiry")
}

func TestSLABreachFiresOnce(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(16)
	var mu sync.Mutex
	breaches := 0
	bus.Subscribe(events.EventTypeHITLSLABreach, func(events.Event) {
		mu.Lock()
		breaches++
		mu.Unlock()
	})

	q := newTestQueue(bus)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	q.now = func() time.Time { return now }

	req := enqueue(t, q, models.HITLPriorityCritical) // SLA 5m

	now = now.Add(6 * time.Minute)
	first := q.CheckSLABreaches(ctx)
	require.Len(t, first, 1)
	assert.Equal(t, req.RequestID, first[0].RequestID)

	// The request keeps its state and a second sweep stays quiet.
	got, err := q.Get(req.RequestID)
	require.NoError(t, err)
	assert.Equal(t, models.HITLStatusPending, got.Status)

	now = now.Add(6 * time.Minute)
	assert.Empty(t, q.CheckSLABreaches(ctx))
	mu.Lock()
	assert.Equal(t, 1, breaches)
	mu.Unlock()
}

func TestQueueEmitsLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	bus := events.NewBus(16)
	var mu sync.Mutex
	var seen []string
	bus.Subscribe(events.Wildcard, func(e events.Event) {
		mu.Lock()
		seen = append(seen, e.Type)
		mu.Unlock()
	})

	q := newTestQueue(bus)
	req := enqueue(t, q, models.HITLPriorityHigh)
	_, err := q.Assign(ctx, req.RequestID, "rev-1")
	require.NoError(t, err)
	_, err = q.Respond(ctx, req.RequestID, &models.HITLResponse{Decision: models.DecisionApprove})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		events.EventTypeHITLCreated,
		events.EventTypeHITLAssigned,
		events.EventTypeHITLResponded,
	}, seen)
}
