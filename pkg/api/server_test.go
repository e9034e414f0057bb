package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/executor"
	"github.com/supportstack/orchestrad/pkg/feedback"
	"github.com/supportstack/orchestrad/pkg/hitl"
	"github.com/supportstack/orchestrad/pkg/models"
	"github.com/supportstack/orchestrad/pkg/registry"
	"github.com/supportstack/orchestrad/pkg/resilience"
	"github.com/supportstack/orchestrad/pkg/store"
	"github.com/supportstack/orchestrad/pkg/stream"
	"github.com/supportstack/orchestrad/pkg/tenant"
)

type apiHarness struct {
	router    *gin.Engine
	store     *store.MemoryStateStore
	registry  *registry.Registry
	tenants   *tenant.Manager
	exec      *executor.Executor
	manager   *hitl.Manager
	collector *feedback.Collector
	stream    *stream.ActivityStream
	breakers  *resilience.BreakerRegistry
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := store.NewMemoryStateStore()
	bus := events.NewBus(64)
	reg := registry.New()
	tenants := tenant.NewManager(config.DefaultTenantConfig(), st, bus)

	queue := hitl.NewQueue(config.DefaultQueueConfig(), st, bus)
	pool := hitl.NewReviewerPool(config.DefaultReviewerConfig().MaxWorkload)
	manager := hitl.NewManager(queue, pool, st, bus)

	exec := executor.New(config.DefaultExecutorConfig(), reg, tenants, manager, st, bus)
	manager.SetResumer(exec)

	collector := feedback.NewCollector(config.DefaultFeedbackConfig(), store.NewMemoryVectorStore(), bus)
	manager.SetOutcomeRecorder(collector)

	mr := miniredis.RunT(t)
	activity := stream.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 1000)

	engine := hitl.NewEngine(nil, queue, nil, bus)
	breakers := resilience.NewBreakerRegistry(nil)

	server := NewServer(Deps{
		Store:      st,
		Registry:   reg,
		Tenants:    tenants,
		Executor:   exec,
		HITL:       manager,
		Escalation: engine,
		Collector:  collector,
		Stream:     activity,
		Breakers:   breakers,
	})

	return &apiHarness{
		router:    server.Router(),
		store:     st,
		registry:  reg,
		tenants:   tenants,
		exec:      exec,
		manager:   manager,
		collector: collector,
		stream:    activity,
		breakers:  breakers,
	}
}

// do performs one request and decodes the JSON response body into out
// when out is non-nil.
func (h *apiHarness) do(t *testing.T, method, path string, body any, out any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	if out != nil && w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
	}
	return w
}

func (h *apiHarness) createTenant(t *testing.T, id string, tier models.TenantTier) {
	t.Helper()
	w := h.do(t, http.MethodPost, "/api/v1/tenants", CreateTenantRequest{
		TenantID: id, Name: id, Tier: string(tier),
	}, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

func (h *apiHarness) registerBlueprint(t *testing.T, bp registry.Blueprint) {
	t.Helper()
	require.NoError(t, h.registry.RegisterBlueprint(bp))
}

// echoBlueprint completes on the first step, copying the input to the
// output.
func echoBlueprint(name string) registry.Blueprint {
	return &registry.FuncBlueprint{
		BlueprintName:    name,
		BlueprintVersion: "1.0.0",
		PlanFunc: func(ctx context.Context, state *models.AgentState) (*models.Action, error) {
			return &models.Action{Name: "echo", Input: state.Input, Complete: true}, nil
		},
		ExecFunc: func(ctx context.Context, state *models.AgentState, action *models.Action) (*models.Step, error) {
			return &models.Step{
				Kind:     models.StepKindAction,
				Action:   action.Name,
				Output:   action.Input,
				Complete: true,
			}, nil
		},
	}
}

func (h *apiHarness) createAgent(t *testing.T, blueprint, tenantID string) string {
	t.Helper()
	var resp AgentResponse
	w := h.do(t, http.MethodPost, "/api/v1/agents", CreateAgentRequest{
		Blueprint: blueprint, TenantID: tenantID,
	}, &resp)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.NotEmpty(t, resp.AgentID)
	return resp.AgentID
}
