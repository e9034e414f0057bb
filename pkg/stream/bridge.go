package stream

import (
	"context"
	"log/slog"
	"time"

	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/models"
)

// Bridge copies bus events into the activity stream on a dedicated
// writer goroutine. Publishing never blocks the bus: when the writer
// falls behind, events are dropped and counted.
type Bridge struct {
	stream *ActivityStream
	ch     chan models.ActivityEvent
	unsub  func()
	quit   chan struct{}
	done   chan struct{}
}

// NewBridge subscribes to every bus event and starts the writer. Events
// without a tenant id are skipped, as streams are per tenant. Stop the
// bridge with Close.
func NewBridge(ctx context.Context, s *ActivityStream, bus *events.Bus, buffer int) *Bridge {
	if buffer <= 0 {
		buffer = 256
	}
	b := &Bridge{
		stream: s,
		ch:     make(chan models.ActivityEvent, buffer),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	b.unsub = bus.Subscribe(events.Wildcard, b.enqueue)
	go b.run(ctx)
	return b
}

func (b *Bridge) enqueue(ev events.Event) {
	if ev.TenantID == "" {
		return
	}
	activity := models.ActivityEvent{
		EventType: ev.Type,
		Source:    models.SourceInternal,
		TenantID:  ev.TenantID,
		Payload:   ev.Payload,
	}
	if ev.AgentID != "" {
		activity.Metadata = map[string]any{"agent_id": ev.AgentID}
	}
	if !ev.Timestamp.IsZero() {
		activity.Timestamp = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	select {
	case b.ch <- activity:
	default:
		slog.Warn("Activity bridge buffer full, dropping event",
			"event_type", ev.Type, "tenant_id", ev.TenantID)
	}
}

func (b *Bridge) run(ctx context.Context) {
	defer close(b.done)
	for {
		select {
		case ev := <-b.ch:
			b.write(ctx, ev)
		case <-b.quit:
			for {
				select {
				case ev := <-b.ch:
					b.write(ctx, ev)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *Bridge) write(ctx context.Context, ev models.ActivityEvent) {
	if _, err := b.stream.Publish(ctx, &ev); err != nil {
		// The stream is best-effort; the bus already delivered the
		// event in-process.
		slog.Warn("Failed to append bus event to activity stream",
			"event_type", ev.EventType, "tenant_id", ev.TenantID, "error", err)
	}
}

// Close unsubscribes from the bus, drains buffered events, and waits
// for the writer to exit.
func (b *Bridge) Close() {
	b.unsub()
	close(b.quit)
	<-b.done
}
