package models

import "time"

// TenantTier determines a tenant's resource limits.
type TenantTier string

// Tenant tiers.
const (
	TierFree         TenantTier = "free"
	TierStarter      TenantTier = "starter"
	TierProfessional TenantTier = "professional"
	TierEnterprise   TenantTier = "enterprise"
)

// TenantStatus is the lifecycle state of a tenant.
type TenantStatus string

// Tenant statuses.
const (
	TenantStatusPending   TenantStatus = "pending"
	TenantStatusActive    TenantStatus = "active"
	TenantStatusSuspended TenantStatus = "suspended"
	TenantStatusDeleted   TenantStatus = "deleted"
)

// TierLimits are the static limits attached to a tier.
type TierLimits struct {
	MaxAgents               int   `yaml:"max_agents" json:"max_agents"`
	MaxConcurrentExecutions int   `yaml:"max_concurrent_executions" json:"max_concurrent_executions"`
	RateLimitPerMinute      int   `yaml:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	DailyTokenLimit         int64 `yaml:"daily_token_limit" json:"daily_token_limit"`
}

// TenantUsage is a point-in-time snapshot of a tenant's running counters.
type TenantUsage struct {
	AgentsCount          int   `json:"agents_count"`
	ConcurrentExecutions int   `json:"concurrent_executions"`
	RequestsThisMinute   int   `json:"requests_this_minute"`
	LLMTokensThisDay     int64 `json:"llm_tokens_this_day"`
}

// Tenant is the quota and status holder for one customer.
type Tenant struct {
	TenantID  string       `json:"tenant_id"`
	Name      string       `json:"name"`
	Tier      TenantTier   `json:"tier"`
	Status    TenantStatus `json:"status"`
	Limits    TierLimits   `json:"limits"`
	Usage     TenantUsage  `json:"usage"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}
