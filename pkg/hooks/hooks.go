// Package hooks runs ordered chains of functions around service methods.
//
// Chains are registered per service path and phase, either for every method
// or for one. Application-level hooks live under the empty path and wrap the
// service-level ones: before hooks run app first, after hooks run app last.
package hooks

import (
	"context"
	"fmt"
	"sync"
)

// Phase is when a hook runs relative to the method.
type Phase string

const (
	Before Phase = "before"
	After  Phase = "after"
	Error  Phase = "error"
)

// Method is a service method name.
type Method string

const (
	Find   Method = "find"
	Get    Method = "get"
	Create Method = "create"
	Update Method = "update"
	Patch  Method = "patch"
	Remove Method = "remove"
)

// Methods lists every service method.
var Methods = []Method{Find, Get, Create, Update, Patch, Remove}

// Params are the call parameters seen by hooks.
type Params map[string]interface{}

// Context is the invocation a hook chain works on. Hooks may replace Result,
// Data or Params; the change is visible to the next hook.
type Context struct {
	Path      string
	Service   interface{}
	App       interface{}
	Method    Method
	Type      Phase
	ID        interface{}
	Data      interface{}
	Params    Params
	Arguments []interface{}
	Result    interface{}
}

// Hook is one step of a chain.
type Hook func(ctx context.Context, hc *Context) error

// Pipeline resolves the chain for a service path, phase and method.
type Pipeline interface {
	Chain(path string, phase Phase, method Method) []Hook
}

// AppPath is the registry path of application-level hooks.
const AppPath = ""

// Registry stores hooks by path, phase and method.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]map[Phase]*phaseHooks
}

type phaseHooks struct {
	all      []Hook
	byMethod map[Method][]Hook
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]map[Phase]*phaseHooks)}
}

// Register appends hooks that run for every method of path.
func (r *Registry) Register(path string, phase Phase, hooks ...Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ph := r.phase(path, phase)
	ph.all = append(ph.all, hooks...)
}

// RegisterFor appends hooks that run for one method of path.
func (r *Registry) RegisterFor(path string, phase Phase, method Method, hooks ...Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ph := r.phase(path, phase)
	ph.byMethod[method] = append(ph.byMethod[method], hooks...)
}

func (r *Registry) phase(path string, phase Phase) *phaseHooks {
	phases, ok := r.entries[path]
	if !ok {
		phases = make(map[Phase]*phaseHooks)
		r.entries[path] = phases
	}
	ph, ok := phases[phase]
	if !ok {
		ph = &phaseHooks{byMethod: make(map[Method][]Hook)}
		phases[phase] = ph
	}
	return ph
}

func (r *Registry) local(path string, phase Phase, method Method) []Hook {
	ph, ok := r.entries[path][phase]
	if !ok {
		return nil
	}
	out := make([]Hook, 0, len(ph.all)+len(ph.byMethod[method]))
	out = append(out, ph.all...)
	return append(out, ph.byMethod[method]...)
}

// Chain returns the hooks for path, phase and method in execution order.
func (r *Registry) Chain(path string, phase Phase, method Method) []Hook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	app := r.local(AppPath, phase, method)
	if path == AppPath {
		return app
	}
	svc := r.local(path, phase, method)
	if phase == Before {
		return append(app, svc...)
	}
	return append(svc, app...)
}

// Process runs chain over hc, stopping at the first error.
func Process(ctx context.Context, chain []Hook, hc *Context) (*Context, error) {
	for i, h := range chain {
		if err := ctx.Err(); err != nil {
			return hc, err
		}
		if err := h(ctx, hc); err != nil {
			return hc, fmt.Errorf("%s %s hook %d on %q: %w", hc.Type, hc.Method, i, hc.Path, err)
		}
	}
	return hc, nil
}
