package stream

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/masking"
	"github.com/supportstack/orchestrad/pkg/models"
)

func newTestStream(t *testing.T) *ActivityStream {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, 1000)
}

func TestPublishAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStream(t)

	id, err := s.Publish(ctx, &models.ActivityEvent{
		EventType: "execution.completed",
		TenantID:  "t-A",
		Payload:   map[string]any{"agent_id": "agent-1", "steps": float64(3)},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	got, err := s.Read(ctx, "t-A", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "execution.completed", got[0].EventType)
	assert.Equal(t, models.SourceInternal, got[0].Source, "source defaults to internal")
	assert.NotEmpty(t, got[0].EventID)
	assert.NotEmpty(t, got[0].Timestamp)
	assert.Equal(t, "agent-1", got[0].Payload["agent_id"])

	// Streams are isolated per tenant.
	other, err := s.Read(ctx, "t-B", "", 10)
	require.NoError(t, err)
	assert.Empty(t, other)
}

func TestPublishMasksCredentials(t *testing.T) {
	ctx := context.Background()
	s := newTestStream(t)
	s.SetMasker(masking.NewService([]string{"hunter2-prod-token"}))

	_, err := s.Publish(ctx, &models.ActivityEvent{
		EventType: "step.failed",
		TenantID:  "t-A",
		Payload: map[string]any{
			"error":   "connect failed for hunter2-prod-token",
			"api_key": "ak-1234567890abcdef",
		},
	})
	require.NoError(t, err)

	got, err := s.Read(ctx, "t-A", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NotContains(t, got[0].Payload["error"], "hunter2-prod-token")
	assert.Contains(t, got[0].Payload["error"], masking.MaskToken)
	assert.Equal(t, masking.MaskToken, got[0].Payload["api_key"], "credential keys are replaced wholesale")
}

func TestPublishValidation(t *testing.T) {
	s := newTestStream(t)
	_, err := s.Publish(context.Background(), &models.ActivityEvent{EventType: "x"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	_, err = s.Publish(context.Background(), &models.ActivityEvent{TenantID: "t-A"})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestReadFromIDIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := newTestStream(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := s.Publish(ctx, &models.ActivityEvent{
			EventType: "tick", TenantID: "t-A",
			Payload: map[string]any{"n": float64(i)},
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}

	got, err := s.Read(ctx, "t-A", ids[0], 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(1), got[0].Payload["n"])
	assert.Equal(t, float64(2), got[1].Payload["n"])
}

func TestReadLatestReturnsChronological(t *testing.T) {
	ctx := context.Background()
	s := newTestStream(t)

	for i := 0; i < 5; i++ {
		_, err := s.Publish(ctx, &models.ActivityEvent{
			EventType: "tick", TenantID: "t-A",
			Payload: map[string]any{"n": float64(i)},
		})
		require.NoError(t, err)
	}

	got, err := s.ReadLatest(ctx, "t-A", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, float64(3), got[0].Payload["n"])
	assert.Equal(t, float64(4), got[1].Payload["n"])
}

func TestConsumerGroupDeliverOnceAndAck(t *testing.T) {
	ctx := context.Background()
	s := newTestStream(t)

	for i := 0; i < 3; i++ {
		_, err := s.Publish(ctx, &models.ActivityEvent{EventType: "tick", TenantID: "t-A"})
		require.NoError(t, err)
	}

	batch, err := s.ReadGroup(ctx, "t-A", "dashboard", "worker-1", 10, 0)
	require.NoError(t, err)
	require.Len(t, batch, 3)

	// Already-delivered entries do not come back on the next read.
	again, err := s.ReadGroup(ctx, "t-A", "dashboard", "worker-1", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, again)

	ids := make([]string, 0, len(batch))
	for _, c := range batch {
		ids = append(ids, c.StreamID)
	}
	assert.NoError(t, s.Ack(ctx, "t-A", "dashboard", ids...))
	assert.NoError(t, s.Ack(ctx, "t-A", "dashboard"), "empty ack is a no-op")
}

func TestTrimAndLength(t *testing.T) {
	ctx := context.Background()
	s := newTestStream(t)

	for i := 0; i < 10; i++ {
		_, err := s.Publish(ctx, &models.ActivityEvent{EventType: "tick", TenantID: "t-A"})
		require.NoError(t, err)
	}
	n, err := s.StreamLength(ctx, "t-A")
	require.NoError(t, err)
	assert.Equal(t, int64(10), n)

	require.NoError(t, s.Trim(ctx, "t-A", 4))
	n, err = s.StreamLength(ctx, "t-A")
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)
}

func TestBridgeCopiesBusEvents(t *testing.T) {
	ctx := context.Background()
	s := newTestStream(t)
	bus := events.NewBus(64)

	bridge := NewBridge(ctx, s, bus, 64)

	bus.Publish(events.Event{
		Type:      events.EventTypeExecutionCompleted,
		TenantID:  "t-A",
		AgentID:   "agent-1",
		Payload:   map[string]any{"steps": float64(2)},
		Timestamp: time.Now(),
	})
	// No tenant, no stream entry.
	bus.Publish(events.Event{Type: events.EventTypePersistenceLag})

	bridge.Close()

	got, err := s.Read(ctx, "t-A", "", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, events.EventTypeExecutionCompleted, got[0].EventType)
	assert.Equal(t, "agent-1", got[0].Metadata["agent_id"])
	assert.Equal(t, float64(2), got[0].Payload["steps"])
}
