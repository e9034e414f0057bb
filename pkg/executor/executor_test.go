package executor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/apperr"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/hitl"
	"github.com/supportstack/orchestrad/pkg/masking"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/registry"
	"github.com/supportstack/orchestrad/pkg/resilience"
	"github.com/supportstack/orchestrad/pkg/store"
	"github.com/supportstack/orchestrad/pkg/tenant"
)

type harness struct {
	exec     *Executor
	registry *registry.Registry
	tenants  *tenant.Manager
	hitl     *hitl.Manager
	store    *store.MemoryStateStore
	bus      *events.Bus
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := store.NewMemoryStateStore()
	bus := events.NewBus(64)
	reg := registry.New()
	tenants := tenant.NewManager(config.DefaultTenantConfig(), st, bus)

	queue := hitl.NewQueue(config.DefaultQueueConfig(), st, bus)
	pool := hitl.NewReviewerPool(5)
	manager := hitl.NewManager(queue, pool, st, bus)

	exec := New(config.DefaultExecutorConfig(), reg, tenants, manager, st, bus)
	manager.SetResumer(exec)

	_, err := tenants.Create(context.Background(), "t-A", "Acme", models.TierProfessional)
	require.NoError(t, err)

	return &harness{exec: exec, registry: reg, tenants: tenants, hitl: manager, store: st, bus: bus}
}

func (h *harness) createAgent(t *testing.T, bp registry.Blueprint, overrides *registry.ConfigOverrides) *registry.Agent {
	t.Helper()
	require.NoError(t, h.registry.RegisterBlueprint(bp))
	agent, err := h.registry.CreateAgent(bp.Name(), "t-A", "agent", overrides)
	require.NoError(t, err)
	return agent
}

// stepsThenComplete plans n action steps and then a completing step.
func stepsThenComplete(n int) *registry.FuncBlueprint {
	return &registry.FuncBlueprint{
		BlueprintName:    "support",
		BlueprintVersion: "1.0.0",
		PlanFunc: func(_ context.Context, state *models.AgentState) (*models.Action, error) {
			if state.CurrentStep >= n {
				return &models.Action{Name: "finish", Complete: true}, nil
			}
			return &models.Action{Name: "work", Input: map[string]any{"step": state.CurrentStep}}, nil
		},
		ExecFunc: func(_ context.Context, _ *models.AgentState, action *models.Action) (*models.Step, error) {
			return &models.Step{
				Kind:     models.StepKindAction,
				Action:   action.Name,
				Output:   map[string]any{"resolution": "password reset"},
				Complete: action.Complete,
			}, nil
		},
	}
}

func TestExecuteHappyPath(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent(t, stepsThenComplete(2), nil)

	result, err := h.exec.Execute(context.Background(), agent.Config.AgentID,
		map[string]any{"query": "reset password"}, ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusCompleted, result.Status)
	assert.GreaterOrEqual(t, len(result.Steps), 1)
	assert.Equal(t, "password reset", result.Output["resolution"])

	usage, err := h.tenants.Usage("t-A")
	require.NoError(t, err)
	assert.Zero(t, usage.ConcurrentExecutions, "slot released at terminal")

	audits, err := h.store.QueryAuditEvents(context.Background(), models.AuditFilter{
		EventType: events.EventTypeExecutionCompleted,
	})
	require.NoError(t, err)
	assert.Len(t, audits, 1)
	assert.Zero(t, h.exec.ActiveExecutions())
}

func TestExecuteUnknownAgent(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec.Execute(context.Background(), "missing", nil, ExecOptions{})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestMaxIterationsBoundsLoop(t *testing.T) {
	h := newHarness(t)
	one := 1
	agent := h.createAgent(t, &registry.FuncBlueprint{
		BlueprintName: "looper",
		PlanFunc: func(context.Context, *models.AgentState) (*models.Action, error) {
			return &models.Action{Name: "spin"}, nil
		},
	}, &registry.ConfigOverrides{MaxIterations: &one})

	result, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusCompleted, result.Status)
	assert.Len(t, result.Steps, 1, "exactly one plan/act iteration")
}

func TestStepCountMatchesIntermediateSteps(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent(t, stepsThenComplete(4), nil)

	result, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
	require.NoError(t, err)

	state, err := h.store.GetAgentState(context.Background(), agent.Config.AgentID, stateExecutionID(t, h, agent.Config.AgentID))
	require.NoError(t, err)
	assert.Equal(t, len(state.IntermediateSteps), state.CurrentStep)
	assert.LessOrEqual(t, state.CurrentStep, agent.Config.MaxIterations)
	assert.Len(t, result.Steps, state.CurrentStep)
}

// stateExecutionID digs the persisted execution id out of the audit log.
func stateExecutionID(t *testing.T, h *harness, agentID string) string {
	t.Helper()
	audits, err := h.store.QueryAuditEvents(context.Background(), models.AuditFilter{AgentID: agentID})
	require.NoError(t, err)
	require.NotEmpty(t, audits)
	id, _ := audits[0].Payload["execution_id"].(string)
	return id
}

func TestAuditPayloadsAreMasked(t *testing.T) {
	h := newHarness(t)
	h.exec.SetMasker(masking.NewService([]string{"hunter2-db-password"}))
	agent := h.createAgent(t, &registry.FuncBlueprint{
		BlueprintName: "leaky",
		PlanFunc: func(context.Context, *models.AgentState) (*models.Action, error) {
			return nil, apperr.New(apperr.KindFatal, "dial failed: password hunter2-db-password rejected")
		},
	}, nil)

	result, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
	require.NoError(t, err)
	require.Equal(t, models.AgentStatusFailed, result.Status)

	audits, err := h.store.QueryAuditEvents(context.Background(), models.AuditFilter{AgentID: agent.Config.AgentID})
	require.NoError(t, err)
	var masked bool
	for _, ev := range audits {
		if msg, ok := ev.Payload["error"].(string); ok {
			assert.NotContains(t, msg, "hunter2-db-password")
			if strings.Contains(msg, masking.MaskToken) {
				masked = true
			}
		}
	}
	assert.True(t, masked, "failure audit carries the redacted message")
}

func TestUnknownActionRecordedAndRepeatAborts(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent(t, &registry.FuncBlueprint{
		BlueprintName: "confused",
		PlanFunc: func(context.Context, *models.AgentState) (*models.Action, error) {
			return &models.Action{Name: "teleport"}, nil
		},
		ExecFunc: func(context.Context, *models.AgentState, *models.Action) (*models.Step, error) {
			return nil, ErrUnknownAction
		},
	}, nil)

	result, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusFailed, result.Status)
	require.Len(t, result.Steps, 2, "two consecutive same-action errors abort")
	assert.Equal(t, "unknown_action", result.Steps[0].Error)
	assert.Equal(t, "unknown_action", result.Steps[1].Error)
	assert.Contains(t, result.Error, "teleport")
}

func TestTimeoutFailsRun(t *testing.T) {
	h := newHarness(t)
	agent := h.createAgent(t, &registry.FuncBlueprint{
		BlueprintName: "slow",
		PlanFunc: func(ctx context.Context, _ *models.AgentState) (*models.Action, error) {
			time.Sleep(30 * time.Millisecond)
			return &models.Action{Name: "work"}, nil
		},
	}, nil)

	result, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{
		Timeout: 20 * time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, models.AgentStatusFailed, result.Status)
	assert.Equal(t, models.FailReasonTimeout, result.Error)
}

func TestBusyAgentFailsFastOrWaits(t *testing.T) {
	h := newHarness(t)
	block := make(chan struct{})
	agent := h.createAgent(t, &registry.FuncBlueprint{
		BlueprintName: "blocking",
		PlanFunc: func(ctx context.Context, state *models.AgentState) (*models.Action, error) {
			if state.CurrentStep == 0 {
				<-block
			}
			return &models.Action{Name: "finish", Complete: true}, nil
		},
	}, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
		assert.NoError(t, err)
	}()

	require.Eventually(t, func() bool { return h.exec.ActiveExecutions() == 1 },
		time.Second, 5*time.Millisecond)
	stats := h.exec.Stats()
	assert.Equal(t, 1, stats.Active)
	assert.Zero(t, stats.Suspended)

	_, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already executing")

	// Wait mode blocks until the first run finishes.
	waited := make(chan error, 1)
	go func() {
		_, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{Wait: true})
		waited <- err
	}()
	close(block)
	wg.Wait()
	select {
	case err := <-waited:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("waiting Execute never ran")
	}
}

func TestQuotaRejectionLeavesOtherRunUnaffected(t *testing.T) {
	h := newHarness(t)
	_, err := h.tenants.Create(context.Background(), "t-free", "Tiny", models.TierFree) // 1 concurrent
	require.NoError(t, err)

	block := make(chan struct{})
	bp := &registry.FuncBlueprint{
		BlueprintName: "support",
		PlanFunc: func(_ context.Context, state *models.AgentState) (*models.Action, error) {
			if state.CurrentStep == 0 {
				<-block
			}
			return &models.Action{Name: "finish", Complete: true}, nil
		},
	}
	require.NoError(t, h.registry.RegisterBlueprint(bp))
	agentA, err := h.registry.CreateAgent("support", "t-free", "a", nil)
	require.NoError(t, err)
	agentB, err := h.registry.CreateAgent("support", "t-free", "b", nil)
	require.NoError(t, err)

	resultA := make(chan *models.ExecutionResult, 1)
	go func() {
		res, err := h.exec.Execute(context.Background(), agentA.Config.AgentID, nil, ExecOptions{})
		assert.NoError(t, err)
		resultA <- res
	}()
	require.Eventually(t, func() bool { return h.exec.ActiveExecutions() == 1 },
		time.Second, 5*time.Millisecond)

	_, err = h.exec.Execute(context.Background(), agentB.Config.AgentID, nil, ExecOptions{})
	assert.True(t, apperr.Is(err, apperr.KindQuotaExceeded))

	close(block)
	res := <-resultA
	assert.Equal(t, models.AgentStatusCompleted, res.Status, "run A unaffected by B's rejection")

	// A third execute succeeds once the slot is free.
	_, err = h.exec.Execute(context.Background(), agentB.Config.AgentID, nil, ExecOptions{})
	assert.NoError(t, err)
}

func TestCancelRunningExecution(t *testing.T) {
	h := newHarness(t)
	started := make(chan struct{})
	block := make(chan struct{})
	agent := h.createAgent(t, &registry.FuncBlueprint{
		BlueprintName: "cancellable",
		PlanFunc: func(_ context.Context, state *models.AgentState) (*models.Action, error) {
			if state.CurrentStep == 0 {
				close(started)
				<-block
			}
			return &models.Action{Name: "work"}, nil
		},
	}, nil)

	result := make(chan *models.ExecutionResult, 1)
	go func() {
		res, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
		assert.NoError(t, err)
		result <- res
	}()

	<-started
	require.NoError(t, h.exec.Cancel(context.Background(), agent.Config.AgentID))
	close(block)

	res := <-result
	assert.Equal(t, models.AgentStatusFailed, res.Status)
	assert.Equal(t, models.FailReasonCancelled, res.Error)
}

func TestHookOrderAndPanicContainment(t *testing.T) {
	h := newHarness(t)
	var mu sync.Mutex
	var calls []string
	record := func(name string) func(*models.AgentState, *models.Action) {
		return func(*models.AgentState, *models.Action) {
			mu.Lock()
			calls = append(calls, name)
			mu.Unlock()
		}
	}
	h.exec.RegisterHook(Hook{Name: "panicky", PreStep: func(*models.AgentState, *models.Action) {
		mu.Lock()
		calls = append(calls, "panicky")
		mu.Unlock()
		panic("hook bug")
	}})
	h.exec.RegisterHook(Hook{Name: "second", PreStep: record("second")})

	completed := false
	h.exec.RegisterHook(Hook{Name: "done", OnComplete: func(*models.AgentState) { completed = true }})

	agent := h.createAgent(t, stepsThenComplete(1), nil)
	result, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusCompleted, result.Status)
	assert.True(t, completed)
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, "panicky", calls[0])
	assert.Equal(t, "second", calls[1], "panic in a hook does not break the chain")
}

func TestPersistenceLagEmittedAfterRetries(t *testing.T) {
	h := newHarness(t)
	h.exec.retry = resilience.RetryPolicy{MaxAttempts: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, ExponentialBase: 2}
	failing := &failingStateStore{StateStore: h.store}
	h.exec.store = failing

	var lagged bool
	h.bus.Subscribe(events.EventTypePersistenceLag, func(events.Event) { lagged = true })

	agent := h.createAgent(t, stepsThenComplete(1), nil)
	result, err := h.exec.Execute(context.Background(), agent.Config.AgentID, nil, ExecOptions{})
	require.NoError(t, err)

	assert.Equal(t, models.AgentStatusCompleted, result.Status, "run still reported terminal")
	assert.True(t, lagged)
	assert.Equal(t, 2, failing.saves, "retried up to the policy")
}

type failingStateStore struct {
	store.StateStore
	saves int
}

func (f *failingStateStore) SaveAgentState(context.Context, *models.AgentState, time.Duration) error {
	f.saves++
	return apperr.New(apperr.KindTransient, "store unavailable")
}
