// Package app is the application registry services are mounted on.
//
// It keeps services by path, the reverse lookup from a service to its path,
// application settings, the hook registry and an optional bootstrap step
// services wait for during setup.
package app

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/nimburion/docservice/pkg/hooks"
	"github.com/nimburion/docservice/pkg/observability/logger"
)

// Setupper is implemented by services that need the application once mounted.
type Setupper interface {
	Setup(ctx context.Context, a *App) error
}

// App holds the mounted services.
type App struct {
	log   logger.Logger
	hooks *hooks.Registry

	mu        sync.RWMutex
	services  map[string]interface{}
	order     []string
	settings  map[string]interface{}
	bootstrap *bootstrap
}

type bootstrap struct {
	fn   func(ctx context.Context) error
	once sync.Once
	done chan struct{}
	err  error
}

// New creates an empty application.
func New(log logger.Logger) *App {
	return &App{
		log:      log,
		hooks:    hooks.NewRegistry(),
		services: make(map[string]interface{}),
		settings: make(map[string]interface{}),
	}
}

// NormalizePath trims surrounding slashes and blanks.
func NormalizePath(path string) string {
	return strings.Trim(strings.TrimSpace(path), "/")
}

// Use mounts svc under path.
func (a *App) Use(path string, svc interface{}) error {
	path = NormalizePath(path)
	if path == "" {
		return fmt.Errorf("service path is required")
	}
	if svc == nil {
		return fmt.Errorf("service for %q is nil", path)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, exists := a.services[path]; exists {
		return fmt.Errorf("service already mounted on %q", path)
	}
	a.services[path] = svc
	a.order = append(a.order, path)
	a.log.Debug("service mounted", "path", path)
	return nil
}

// Service returns the service mounted on path.
func (a *App) Service(path string) (interface{}, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	svc, ok := a.services[NormalizePath(path)]
	return svc, ok
}

// PathOf returns the path svc is mounted on.
func (a *App) PathOf(svc interface{}) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, path := range a.order {
		if a.services[path] == svc {
			return path, true
		}
	}
	return "", false
}

// Paths returns the mounted paths in mount order.
func (a *App) Paths() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.order...)
}

// Set stores an application setting.
func (a *App) Set(key string, value interface{}) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settings[key] = value
}

// Get reads an application setting.
func (a *App) Get(key string) (interface{}, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	v, ok := a.settings[key]
	return v, ok
}

// Hooks returns the hook registry of the application.
func (a *App) Hooks() *hooks.Registry {
	return a.hooks
}

// Logger returns the application logger.
func (a *App) Logger() logger.Logger {
	return a.log
}

// OnBootstrap installs the step services wait for before going live, such as
// creating the database and table. It runs at most once.
func (a *App) OnBootstrap(fn func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bootstrap = &bootstrap{fn: fn, done: make(chan struct{})}
}

// WaitBootstrap starts the bootstrap step on first call and waits for it.
// Without a bootstrap step it returns immediately.
func (a *App) WaitBootstrap(ctx context.Context) error {
	a.mu.RLock()
	b := a.bootstrap
	a.mu.RUnlock()
	if b == nil {
		return nil
	}
	b.once.Do(func() {
		runCtx := context.WithoutCancel(ctx)
		go func() {
			defer close(b.done)
			b.err = b.fn(runCtx)
		}()
	})
	select {
	case <-b.done:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Setup calls Setup on every mounted service that implements Setupper, in
// mount order.
func (a *App) Setup(ctx context.Context) error {
	for _, path := range a.Paths() {
		svc, _ := a.Service(path)
		s, ok := svc.(Setupper)
		if !ok {
			continue
		}
		if err := s.Setup(ctx, a); err != nil {
			return fmt.Errorf("setup service %q: %w", path, err)
		}
	}
	return nil
}
