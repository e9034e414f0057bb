package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPriorityBands(t *testing.T) {
	assert.Equal(t, 0, HITLPriorityCritical.Band())
	assert.Equal(t, 1, HITLPriorityHigh.Band())
	assert.Equal(t, 2, HITLPriorityMedium.Band())
	assert.Equal(t, 3, HITLPriorityLow.Band())
	assert.Equal(t, 4, HITLPriority("bogus").Band())
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, AgentStatusCompleted.Terminal())
	assert.True(t, AgentStatusFailed.Terminal())
	assert.False(t, AgentStatusRunning.Terminal())
	assert.False(t, AgentStatusAwaitingHuman.Terminal())

	assert.True(t, HITLStatusCompleted.Terminal())
	assert.True(t, HITLStatusExpired.Terminal())
	assert.True(t, HITLStatusCancelled.Terminal())
	assert.False(t, HITLStatusPending.Terminal())
	assert.False(t, HITLStatusAssigned.Terminal())
}

func TestAppendStepAdvancesCounter(t *testing.T) {
	state := &AgentState{AgentID: "a-1", ExecutionID: "e-1"}
	state.AppendStep(Step{Kind: StepKindAction, Action: "lookup"})
	state.AppendStep(Step{Kind: StepKindAction, Action: "reply"})

	assert.Equal(t, 2, state.CurrentStep)
	assert.Len(t, state.IntermediateSteps, state.CurrentStep)
	assert.Equal(t, "reply", state.LastStep().Action)
	assert.False(t, state.LastStep().Timestamp.IsZero())
}

func TestGoldenPathSuccessRate(t *testing.T) {
	gp := &GoldenPath{SuccessCount: 2, FailureCount: 8}
	assert.InDelta(t, 0.2, gp.SuccessRate(), 1e-9)
	assert.Zero(t, (&GoldenPath{}).SuccessRate())
}

func TestHITLFilterMatches(t *testing.T) {
	r := &HITLRequest{
		RequestID: "r-1",
		Type:      HITLTypeApproval,
		Priority:  HITLPriorityHigh,
		Status:    HITLStatusPending,
		TenantID:  "t-A",
		AgentID:   "a-1",
		CreatedAt: time.Now(),
	}
	assert.True(t, HITLFilter{}.Matches(r))
	assert.True(t, HITLFilter{TenantID: "t-A", Priority: HITLPriorityHigh}.Matches(r))
	assert.False(t, HITLFilter{TenantID: "t-B"}.Matches(r))
	assert.False(t, HITLFilter{Status: HITLStatusAssigned}.Matches(r))
}

func TestToolAllowed(t *testing.T) {
	open := &AgentConfig{}
	assert.True(t, open.ToolAllowed("anything"))

	restricted := &AgentConfig{AllowedTools: map[string]bool{"kb_search": true}}
	assert.True(t, restricted.ToolAllowed("kb_search"))
	assert.False(t, restricted.ToolAllowed("send_email"))
}
