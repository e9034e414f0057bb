package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/models"
)

func supportBlueprint() *FuncBlueprint {
	return &FuncBlueprint{
		BlueprintName:    "support",
		BlueprintVersion: "1.0.0",
		Required:         []string{"kb_search"},
		ToolSet: []models.Tool{
			{Name: "kb_search", Description: "search the knowledge base"},
		},
	}
}

func TestRegisterBlueprintDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterBlueprint(supportBlueprint()))

	err := r.RegisterBlueprint(supportBlueprint())
	assert.True(t, apperr.Is(err, apperr.KindIllegalState))

	bp, err := r.GetBlueprint("support")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", bp.Version())

	_, err = r.GetBlueprint("missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestCreateAgentAppliesOverrides(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterBlueprint(supportBlueprint()))

	five := 5
	approve := true
	agent, err := r.CreateAgent("support", "t-A", "support-bot", &ConfigOverrides{
		MaxIterations:        &five,
		RequireHumanApproval: &approve,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, agent.Config.AgentID)
	assert.Equal(t, "t-A", agent.Config.TenantID)
	assert.Equal(t, 5, agent.Config.MaxIterations)
	assert.True(t, agent.Config.RequireHumanApproval)
	assert.Equal(t, 300, agent.Config.TimeoutSeconds, "unset overrides keep defaults")

	_, ok := agent.Tool("kb_search")
	assert.True(t, ok, "blueprint tools bound at creation")
}

func TestCreateAgentValidation(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterBlueprint(supportBlueprint()))

	_, err := r.CreateAgent("missing", "t-A", "x", nil)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	over := 500
	_, err = r.CreateAgent("support", "t-A", "x", &ConfigOverrides{MaxIterations: &over})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	// Allow-list must cover required tools.
	_, err = r.CreateAgent("support", "t-A", "x", &ConfigOverrides{
		AllowedTools: map[string]bool{"other_tool": true},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestListAgentsFilters(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterBlueprint(supportBlueprint()))
	require.NoError(t, r.RegisterBlueprint(&FuncBlueprint{BlueprintName: "billing", BlueprintVersion: "0.1.0"}))

	a1, err := r.CreateAgent("support", "t-A", "a1", nil)
	require.NoError(t, err)
	_, err = r.CreateAgent("support", "t-B", "a2", nil)
	require.NoError(t, err)
	_, err = r.CreateAgent("billing", "t-A", "a3", nil)
	require.NoError(t, err)

	assert.Len(t, r.ListAgents(AgentFilter{}), 3)
	assert.Len(t, r.ListAgents(AgentFilter{TenantID: "t-A"}), 2)
	assert.Len(t, r.ListAgents(AgentFilter{BlueprintName: "support"}), 2)
	assert.Len(t, r.ListAgents(AgentFilter{TenantID: "t-A", BlueprintName: "support"}), 1)
	assert.Equal(t, 2, r.CountAgents("t-A"))

	require.NoError(t, r.RemoveAgent(a1.Config.AgentID))
	assert.Equal(t, 1, r.CountAgents("t-A"))
	assert.True(t, apperr.Is(r.RemoveAgent(a1.Config.AgentID), apperr.KindNotFound))
}

func TestRemoveBlueprintBlockedByInstances(t *testing.T) {
	r := New()
	require.NoError(t, r.RegisterBlueprint(supportBlueprint()))
	agent, err := r.CreateAgent("support", "t-A", "a1", nil)
	require.NoError(t, err)

	err = r.RemoveBlueprint("support")
	assert.True(t, apperr.Is(err, apperr.KindIllegalState))

	require.NoError(t, r.RemoveAgent(agent.Config.AgentID))
	assert.NoError(t, r.RemoveBlueprint("support"))
}

func TestToolTenantAllowList(t *testing.T) {
	r := New()
	bp := supportBlueprint()
	bp.ToolSet = append(bp.ToolSet, models.Tool{
		Name:            "refund",
		TenantAllowList: map[string]bool{"t-B": true},
	})
	require.NoError(t, r.RegisterBlueprint(bp))

	agent, err := r.CreateAgent("support", "t-A", "a1", nil)
	require.NoError(t, err)

	_, ok := agent.Tool("refund")
	assert.False(t, ok, "tenant not on tool allow-list")
	_, ok = agent.Tool("kb_search")
	assert.True(t, ok)
}
