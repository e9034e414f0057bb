package models

// EscalationLevel is the target audience of an escalation.
type EscalationLevel string

// Escalation levels.
const (
	LevelL1        EscalationLevel = "l1"
	LevelL2        EscalationLevel = "l2"
	LevelL3        EscalationLevel = "l3"
	LevelManager   EscalationLevel = "manager"
	LevelExecutive EscalationLevel = "executive"
)

// Condition is a single rule predicate. A scalar Equals is checked for
// strict equality; otherwise all defined sub-clauses must hold.
type Condition struct {
	Equals any      `json:"equals,omitempty" yaml:"equals,omitempty"`
	Min    *float64 `json:"min,omitempty" yaml:"min,omitempty"`
	Max    *float64 `json:"max,omitempty" yaml:"max,omitempty"`
	In     []any    `json:"in,omitempty" yaml:"in,omitempty"`
	NotIn  []any    `json:"not_in,omitempty" yaml:"not_in,omitempty"`
}

// EscalationRule maps runtime context to an escalation target.
type EscalationRule struct {
	Name       string               `json:"name" yaml:"name"`
	Trigger    string               `json:"trigger" yaml:"trigger"`
	Level      EscalationLevel      `json:"level" yaml:"level"`
	Priority   HITLPriority         `json:"priority" yaml:"priority"`
	Conditions map[string]Condition `json:"conditions,omitempty" yaml:"conditions,omitempty"`
	Enabled    bool                 `json:"enabled" yaml:"enabled"`
}

// EscalationPolicy is a tenant's ordered rule collection.
type EscalationPolicy struct {
	TenantID             string           `json:"tenant_id" yaml:"tenant_id"`
	Rules                []EscalationRule `json:"rules" yaml:"rules"`
	DefaultLevel         EscalationLevel  `json:"default_level" yaml:"default_level"`
	AutoEscalateAfter    Duration         `json:"auto_escalate_after,omitempty" yaml:"auto_escalate_after,omitempty"`
	NotificationChannels []string         `json:"notification_channels,omitempty" yaml:"notification_channels,omitempty"`
}
