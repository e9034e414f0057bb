package models

import "time"

// EventSource identifies where an activity event originated.
type EventSource string

// Event sources.
const (
	SourceInternal EventSource = "internal"
	SourceWebhook  EventSource = "webhook"
	SourceAgent    EventSource = "agent"
	SourceSystem   EventSource = "system"
)

// ActivityEvent is the envelope written to the durable activity log.
// Events are append-only; consumers track their own offsets.
type ActivityEvent struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	Source    EventSource    `json:"source"`
	TenantID  string         `json:"tenant_id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp string         `json:"timestamp"` // ISO 8601
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// AuditEvent is a durable record of a lifecycle transition, queryable
// through the state store with timestamp-descending ordering.
type AuditEvent struct {
	EventID   string         `json:"event_id"`
	EventType string         `json:"event_type"`
	TenantID  string         `json:"tenant_id"`
	AgentID   string         `json:"agent_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditFilter narrows audit event queries.
type AuditFilter struct {
	TenantID  string
	AgentID   string
	EventType string
	Start     *time.Time // inclusive
	End       *time.Time // exclusive
	Offset    int
	Limit     int
}
