package executor

import (
	"log/slog"
	"sync"

	"github.com/supportstack/orchestrad/pkg/models"
)

// Hook observes execution lifecycle points. Hooks run synchronously on
// the executing worker in registration order; a panic or error in a
// hook is logged and never breaks the loop.
type Hook struct {
	Name string

	PreStep        func(state *models.AgentState, action *models.Action)
	PostStep       func(state *models.AgentState, step *models.Step)
	OnError        func(state *models.AgentState, err error)
	OnHumanRequest func(state *models.AgentState, req *models.HITLRequest)
	OnComplete     func(state *models.AgentState)
}

type hookSet struct {
	mu    sync.RWMutex
	hooks []Hook
}

func (h *hookSet) add(hook Hook) {
	h.mu.Lock()
	h.hooks = append(h.hooks, hook)
	h.mu.Unlock()
}

func (h *hookSet) snapshot() []Hook {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Hook(nil), h.hooks...)
}

func (h *hookSet) preStep(state *models.AgentState, action *models.Action) {
	for _, hook := range h.snapshot() {
		if hook.PreStep != nil {
			runHook(hook.Name, "pre_step", func() { hook.PreStep(state, action) })
		}
	}
}

func (h *hookSet) postStep(state *models.AgentState, step *models.Step) {
	for _, hook := range h.snapshot() {
		if hook.PostStep != nil {
			runHook(hook.Name, "post_step", func() { hook.PostStep(state, step) })
		}
	}
}

func (h *hookSet) onError(state *models.AgentState, err error) {
	for _, hook := range h.snapshot() {
		if hook.OnError != nil {
			runHook(hook.Name, "on_error", func() { hook.OnError(state, err) })
		}
	}
}

func (h *hookSet) onHumanRequest(state *models.AgentState, req *models.HITLRequest) {
	for _, hook := range h.snapshot() {
		if hook.OnHumanRequest != nil {
			runHook(hook.Name, "on_human_request", func() { hook.OnHumanRequest(state, req) })
		}
	}
}

func (h *hookSet) onComplete(state *models.AgentState) {
	for _, hook := range h.snapshot() {
		if hook.OnComplete != nil {
			runHook(hook.Name, "on_complete", func() { hook.OnComplete(state) })
		}
	}
}

func runHook(name, point string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Execution hook panicked", "hook", name, "point", point, "panic", r)
		}
	}()
	fn()
}
