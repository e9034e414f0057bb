// Package stream writes the per-tenant activity log to Redis streams
// and bridges the in-process event bus into it. The stream is the
// durable fan-out surface for dashboards and external consumers; the
// bus stays in-process.
package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/masking"
	"github.com/supportstack/orchestrad/pkg/models"
)

const streamKeyPrefix = "activity:"

// Key returns the Redis stream key for a tenant.
func Key(tenantID string) string { return streamKeyPrefix + tenantID }

// ActivityStream appends and reads tenant activity events. Streams are
// capped approximately at the configured max length on every append.
type ActivityStream struct {
	client redis.Cmdable
	maxLen int64
	masker *masking.Service
	now    func() time.Time
}

// New creates an activity stream on a dedicated Redis client.
func New(cfg *config.RedisConfig) *ActivityStream {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, int64(cfg.StreamMaxLen))
}

// NewWithClient wraps an existing client, for tests and shared pools.
func NewWithClient(client redis.Cmdable, maxLen int64) *ActivityStream {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &ActivityStream{client: client, maxLen: maxLen, now: time.Now}
}

// SetMasker installs a credential masker applied to event payloads and
// metadata on publish. The stream is read by external consumers, so
// secrets are redacted before they leave the process.
func (s *ActivityStream) SetMasker(m *masking.Service) {
	s.masker = m
}

// Ping verifies connectivity.
func (s *ActivityStream) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "redis ping failed")
	}
	return nil
}

// Close releases the underlying client when it owns one.
func (s *ActivityStream) Close() error {
	if c, ok := s.client.(*redis.Client); ok {
		return c.Close()
	}
	return nil
}

// Publish appends one event to the tenant's stream and returns the
// assigned stream id. Missing event id, source, and timestamp are
// filled in.
func (s *ActivityStream) Publish(ctx context.Context, ev *models.ActivityEvent) (string, error) {
	if ev.TenantID == "" {
		return "", apperr.New(apperr.KindValidation, "activity event requires a tenant id")
	}
	if ev.EventType == "" {
		return "", apperr.New(apperr.KindValidation, "activity event requires an event type")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Source == "" {
		ev.Source = models.SourceInternal
	}
	if ev.Timestamp == "" {
		ev.Timestamp = s.now().UTC().Format(time.RFC3339Nano)
	}

	values := map[string]any{
		"event_id":   ev.EventID,
		"event_type": ev.EventType,
		"source":     string(ev.Source),
		"tenant_id":  ev.TenantID,
		"timestamp":  ev.Timestamp,
	}
	if len(ev.Payload) > 0 {
		raw, err := json.Marshal(s.masker.MaskPayload(ev.Payload))
		if err != nil {
			return "", apperr.Wrap(apperr.KindValidation, err, "activity payload is not serializable")
		}
		values["payload"] = string(raw)
	}
	if len(ev.Metadata) > 0 {
		raw, err := json.Marshal(s.masker.MaskPayload(ev.Metadata))
		if err != nil {
			return "", apperr.Wrap(apperr.KindValidation, err, "activity metadata is not serializable")
		}
		values["metadata"] = string(raw)
	}

	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: Key(ev.TenantID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", apperr.Wrap(apperr.KindTransient, err, "failed to append activity event")
	}
	return id, nil
}

// Read returns up to count events starting at fromID (exclusive when
// fromID is a previously returned id, "-" or empty for the beginning),
// oldest first.
func (s *ActivityStream) Read(ctx context.Context, tenantID, fromID string, count int64) ([]*models.ActivityEvent, error) {
	if fromID == "" {
		fromID = "-"
	} else if fromID != "-" {
		fromID = "(" + fromID
	}
	if count <= 0 {
		count = 100
	}
	msgs, err := s.client.XRangeN(ctx, Key(tenantID), fromID, "+", count).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to read activity stream")
	}
	return decodeMessages(msgs), nil
}

// ReadLatest returns the n most recent events, oldest first.
func (s *ActivityStream) ReadLatest(ctx context.Context, tenantID string, n int64) ([]*models.ActivityEvent, error) {
	if n <= 0 {
		n = 10
	}
	msgs, err := s.client.XRevRangeN(ctx, Key(tenantID), "+", "-", n).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to read activity stream")
	}
	out := decodeMessages(msgs)
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ConsumedEvent pairs an event with its stream id for acknowledgement.
type ConsumedEvent struct {
	StreamID string
	Event    *models.ActivityEvent
}

// ReadGroup delivers unseen events to a named consumer group, creating
// the group at the stream head on first use. block <= 0 means do not
// block.
func (s *ActivityStream) ReadGroup(ctx context.Context, tenantID, group, consumer string, count int64, block time.Duration) ([]ConsumedEvent, error) {
	key := Key(tenantID)
	if err := s.client.XGroupCreateMkStream(ctx, key, group, "0").Err(); err != nil &&
		!strings.Contains(err.Error(), "BUSYGROUP") {
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to create consumer group %s", group)
	}
	if count <= 0 {
		count = 100
	}
	if block <= 0 {
		block = -1
	}
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{key, ">"},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, apperr.Wrap(apperr.KindTransient, err, "failed to read consumer group %s", group)
	}

	var out []ConsumedEvent
	for _, st := range streams {
		for _, msg := range st.Messages {
			out = append(out, ConsumedEvent{StreamID: msg.ID, Event: decodeMessage(msg)})
		}
	}
	return out, nil
}

// Ack acknowledges delivered events for a consumer group.
func (s *ActivityStream) Ack(ctx context.Context, tenantID, group string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := s.client.XAck(ctx, Key(tenantID), group, ids...).Err(); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to ack activity events")
	}
	return nil
}

// Trim hard-caps the tenant's stream at maxLen entries.
func (s *ActivityStream) Trim(ctx context.Context, tenantID string, maxLen int64) error {
	if err := s.client.XTrimMaxLen(ctx, Key(tenantID), maxLen).Err(); err != nil {
		return apperr.Wrap(apperr.KindTransient, err, "failed to trim activity stream")
	}
	return nil
}

// StreamLength returns the number of entries in the tenant's stream.
func (s *ActivityStream) StreamLength(ctx context.Context, tenantID string) (int64, error) {
	n, err := s.client.XLen(ctx, Key(tenantID)).Result()
	if err != nil {
		return 0, apperr.Wrap(apperr.KindTransient, err, "failed to read activity stream length")
	}
	return n, nil
}

func decodeMessages(msgs []redis.XMessage) []*models.ActivityEvent {
	out := make([]*models.ActivityEvent, 0, len(msgs))
	for _, msg := range msgs {
		out = append(out, decodeMessage(msg))
	}
	return out
}

func decodeMessage(msg redis.XMessage) *models.ActivityEvent {
	ev := &models.ActivityEvent{
		EventID:   str(msg.Values, "event_id"),
		EventType: str(msg.Values, "event_type"),
		Source:    models.EventSource(str(msg.Values, "source")),
		TenantID:  str(msg.Values, "tenant_id"),
		Timestamp: str(msg.Values, "timestamp"),
	}
	if raw := str(msg.Values, "payload"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ev.Payload); err != nil {
			slog.Warn("Malformed activity payload", "stream_id", msg.ID, "error", err)
		}
	}
	if raw := str(msg.Values, "metadata"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &ev.Metadata); err != nil {
			slog.Warn("Malformed activity metadata", "stream_id", msg.ID, "error", err)
		}
	}
	return ev
}

func str(values map[string]any, key string) string {
	v, _ := values[key].(string)
	return v
}
