// Package registry holds agent blueprints by unique name and tracks
// live agent instances per tenant.
package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/models"
)

// Agent is a runnable instance of a blueprint scoped to a tenant.
type Agent struct {
	Name      string
	Config    models.AgentConfig
	Blueprint Blueprint
	Tools     map[string]models.Tool
	CreatedAt time.Time
}

// Tool returns the named tool if the agent holds it and its config
// allow-list permits it.
func (a *Agent) Tool(name string) (models.Tool, bool) {
	tool, ok := a.Tools[name]
	if !ok || !a.Config.ToolAllowed(name) {
		return models.Tool{}, false
	}
	if tool.TenantAllowList != nil && !tool.TenantAllowList[a.Config.TenantID] {
		return models.Tool{}, false
	}
	return tool, true
}

// ConfigOverrides carries optional per-instance parameter overrides.
// Nil fields keep the blueprint defaults.
type ConfigOverrides struct {
	MaxIterations        *int
	TimeoutSeconds       *int
	ConfidenceThreshold  *float64
	RequireHumanApproval *bool
	AllowedTools         map[string]bool
}

// AgentFilter narrows ListAgents.
type AgentFilter struct {
	TenantID      string
	BlueprintName string
}

// StatePersistenceHook is invoked by the executor after each terminal
// transition to persist the final state snapshot.
type StatePersistenceHook func(ctx context.Context, state *models.AgentState) error

// Registry is the process-wide blueprint and agent instance index.
// Reads dominate; register and remove are the only writers.
type Registry struct {
	mu         sync.RWMutex
	blueprints map[string]Blueprint
	agents     map[string]*Agent
	byTenant   map[string]map[string]bool // tenant -> agent ids

	hookMu sync.RWMutex
	hook   StatePersistenceHook

	validate *validator.Validate
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		blueprints: make(map[string]Blueprint),
		agents:     make(map[string]*Agent),
		byTenant:   make(map[string]map[string]bool),
		validate:   validator.New(),
	}
}

// RegisterBlueprint adds a blueprint. Duplicate names fail.
func (r *Registry) RegisterBlueprint(bp Blueprint) error {
	if bp.Name() == "" {
		return apperr.New(apperr.KindValidation, "blueprint name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blueprints[bp.Name()]; ok {
		return apperr.New(apperr.KindIllegalState, "blueprint %q already registered", bp.Name())
	}
	r.blueprints[bp.Name()] = bp
	slog.Info("Blueprint registered", "blueprint", bp.Name(), "version", bp.Version())
	return nil
}

// GetBlueprint returns a blueprint by name.
func (r *Registry) GetBlueprint(name string) (Blueprint, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bp, ok := r.blueprints[name]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "blueprint %q not registered", name)
	}
	return bp, nil
}

// ListBlueprints returns all blueprints ordered by name.
func (r *Registry) ListBlueprints() []Blueprint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Blueprint, 0, len(r.blueprints))
	for _, bp := range r.blueprints {
		out = append(out, bp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// RemoveBlueprint unregisters a blueprint. Removal is forbidden while
// instances of it exist.
func (r *Registry) RemoveBlueprint(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.blueprints[name]; !ok {
		return apperr.New(apperr.KindNotFound, "blueprint %q not registered", name)
	}
	for _, agent := range r.agents {
		if agent.Config.BlueprintName == name {
			return apperr.New(apperr.KindIllegalState,
				"blueprint %q has live instances", name)
		}
	}
	delete(r.blueprints, name)
	return nil
}

// CreateAgent instantiates a blueprint for a tenant, applying overrides
// on top of the blueprint defaults and validating the result.
func (r *Registry) CreateAgent(blueprintName, tenantID, name string, overrides *ConfigOverrides) (*Agent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bp, ok := r.blueprints[blueprintName]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "blueprint %q not registered", blueprintName)
	}

	cfg := bp.DefaultConfig()
	cfg.AgentID = uuid.NewString()
	cfg.TenantID = tenantID
	cfg.BlueprintName = blueprintName
	applyOverrides(&cfg, overrides)

	if err := r.validate.Struct(&cfg); err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, err, "invalid agent config")
	}
	for _, required := range bp.RequiredTools() {
		if !cfg.ToolAllowed(required) {
			return nil, apperr.New(apperr.KindValidation,
				"required tool %q excluded by allow-list", required)
		}
	}

	agent := &Agent{
		Name:      name,
		Config:    cfg,
		Blueprint: bp,
		Tools:     make(map[string]models.Tool),
		CreatedAt: time.Now(),
	}
	if provider, ok := bp.(ToolProvider); ok {
		for _, tool := range provider.Tools() {
			agent.Tools[tool.Name] = tool
		}
	}

	r.agents[cfg.AgentID] = agent
	if r.byTenant[tenantID] == nil {
		r.byTenant[tenantID] = make(map[string]bool)
	}
	r.byTenant[tenantID][cfg.AgentID] = true

	slog.Info("Agent created",
		"agent_id", cfg.AgentID, "blueprint", blueprintName, "tenant_id", tenantID)
	return agent, nil
}

// RegisterTool attaches a tool handler to an existing agent.
func (r *Registry) RegisterTool(agentID string, tool models.Tool) error {
	if tool.Name == "" {
		return apperr.New(apperr.KindValidation, "tool name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "agent %s not found", agentID)
	}
	agent.Tools[tool.Name] = tool
	return nil
}

// GetAgent returns an agent by id.
func (r *Registry) GetAgent(agentID string) (*Agent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, "agent %s not found", agentID)
	}
	return agent, nil
}

// ListAgents returns agents matching the filter, ordered by creation
// time then id for a stable listing.
func (r *Registry) ListAgents(filter AgentFilter) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0)
	for id, agent := range r.agents {
		if filter.TenantID != "" && !r.byTenant[filter.TenantID][id] {
			continue
		}
		if filter.BlueprintName != "" && agent.Config.BlueprintName != filter.BlueprintName {
			continue
		}
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].Config.AgentID < out[j].Config.AgentID
	})
	return out
}

// CountAgents returns the number of live agents for a tenant.
func (r *Registry) CountAgents(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byTenant[tenantID])
}

// RemoveAgent deletes an agent instance.
func (r *Registry) RemoveAgent(agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	agent, ok := r.agents[agentID]
	if !ok {
		return apperr.New(apperr.KindNotFound, "agent %s not found", agentID)
	}
	delete(r.agents, agentID)
	delete(r.byTenant[agent.Config.TenantID], agentID)
	return nil
}

// SetPersistenceHook installs the hook invoked on terminal transitions.
func (r *Registry) SetPersistenceHook(hook StatePersistenceHook) {
	r.hookMu.Lock()
	r.hook = hook
	r.hookMu.Unlock()
}

// PersistenceHook returns the installed hook, or nil.
func (r *Registry) PersistenceHook() StatePersistenceHook {
	r.hookMu.RLock()
	defer r.hookMu.RUnlock()
	return r.hook
}

func applyOverrides(cfg *models.AgentConfig, o *ConfigOverrides) {
	if o == nil {
		return
	}
	if o.MaxIterations != nil {
		cfg.MaxIterations = *o.MaxIterations
	}
	if o.TimeoutSeconds != nil {
		cfg.TimeoutSeconds = *o.TimeoutSeconds
	}
	if o.ConfidenceThreshold != nil {
		cfg.ConfidenceThreshold = *o.ConfidenceThreshold
	}
	if o.RequireHumanApproval != nil {
		cfg.RequireHumanApproval = *o.RequireHumanApproval
	}
	if o.AllowedTools != nil {
		cfg.AllowedTools = o.AllowedTools
	}
}
