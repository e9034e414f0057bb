package registry

import (
	"context"

	"github.com/supportstack/orchestrad/pkg/models"
)

// Blueprint is an immutable agent template. It is registered once at
// startup and never mutated; removal is forbidden while instances exist.
type Blueprint interface {
	// Name is the stable unique registry key.
	Name() string

	// Version is the semantic version of the behavior.
	Version() string

	// DefaultConfig returns the per-instance defaults applied before
	// caller overrides.
	DefaultConfig() models.AgentConfig

	// RequiredTools lists tool capability names the behavior depends on.
	RequiredTools() []string

	// Plan decides the next action for the given run state.
	Plan(ctx context.Context, state *models.AgentState) (*models.Action, error)

	// ExecuteStep performs the planned action and returns the step record.
	ExecuteStep(ctx context.Context, state *models.AgentState, action *models.Action) (*models.Step, error)

	// ShouldContinue reports whether the behavior wants another
	// iteration. The executor layers its own step-budget and terminal
	// checks on top.
	ShouldContinue(state *models.AgentState) bool
}

// ToolProvider is an optional Blueprint extension supplying tool
// handlers bound to every instance at creation time.
type ToolProvider interface {
	Tools() []models.Tool
}

// FuncBlueprint adapts plain functions to the Blueprint interface.
// Nil functions fall back to inert defaults.
type FuncBlueprint struct {
	BlueprintName    string
	BlueprintVersion string
	Defaults         models.AgentConfig
	Required         []string
	ToolSet          []models.Tool

	PlanFunc     func(ctx context.Context, state *models.AgentState) (*models.Action, error)
	ExecFunc     func(ctx context.Context, state *models.AgentState, action *models.Action) (*models.Step, error)
	ContinueFunc func(state *models.AgentState) bool
}

func (b *FuncBlueprint) Name() string    { return b.BlueprintName }
func (b *FuncBlueprint) Version() string { return b.BlueprintVersion }

func (b *FuncBlueprint) DefaultConfig() models.AgentConfig {
	cfg := b.Defaults
	if cfg.MaxIterations == 0 {
		cfg.MaxIterations = 10
	}
	if cfg.TimeoutSeconds == 0 {
		cfg.TimeoutSeconds = 300
	}
	return cfg
}

func (b *FuncBlueprint) RequiredTools() []string { return b.Required }

func (b *FuncBlueprint) Tools() []models.Tool { return b.ToolSet }

func (b *FuncBlueprint) Plan(ctx context.Context, state *models.AgentState) (*models.Action, error) {
	if b.PlanFunc == nil {
		return &models.Action{Name: "noop", Complete: true}, nil
	}
	return b.PlanFunc(ctx, state)
}

func (b *FuncBlueprint) ExecuteStep(ctx context.Context, state *models.AgentState, action *models.Action) (*models.Step, error) {
	if b.ExecFunc == nil {
		return &models.Step{Kind: models.StepKindAction, Action: action.Name, Complete: action.Complete}, nil
	}
	return b.ExecFunc(ctx, state, action)
}

func (b *FuncBlueprint) ShouldContinue(state *models.AgentState) bool {
	if b.ContinueFunc == nil {
		return true
	}
	return b.ContinueFunc(state)
}
