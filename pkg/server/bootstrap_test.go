package server

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nimburion/docservice/pkg/config"
	"github.com/nimburion/docservice/pkg/events"
	"github.com/nimburion/docservice/pkg/health"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/table"
)

func memoryConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Type = config.DatabaseTypeMemory
	cfg.Database.Table = "items"
	cfg.Service.Path = "/catalog/items/"
	cfg.Management.Port = 0
	cfg.Observability.TracingEnabled = false
	return cfg
}

func TestOpenDatabase(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.DatabaseConfig
		wantErr string
	}{
		{name: "memory", cfg: config.DatabaseConfig{Type: "memory", Database: "test"}},
		{name: "mongodb without url", cfg: config.DatabaseConfig{Type: "mongodb", Database: "test"}, wantErr: "URL is required"},
		{name: "unsupported", cfg: config.DatabaseConfig{Type: "couchdb"}, wantErr: "unsupported database type"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, hook, err := OpenDatabase(tt.cfg, logger.NewNop())
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if db.Name() != tt.cfg.Database {
				t.Errorf("expected database %q, got %q", tt.cfg.Database, db.Name())
			}
			if hook.Name != "database" {
				t.Errorf("unexpected hook %q", hook.Name)
			}
		})
	}
}

func TestServiceOptions(t *testing.T) {
	cfg := memoryConfig()
	opts := ServiceOptions(cfg, nil, nil)
	if opts.Whitelist != nil {
		t.Errorf("expected nil whitelist, got %v", opts.Whitelist)
	}
	if opts.Paginate != nil {
		t.Errorf("expected pagination disabled, got %+v", opts.Paginate)
	}
	if opts.DisableWatch {
		t.Error("expected watch enabled")
	}

	cfg.Adapter.Whitelist = []string{"$regex"}
	cfg.Adapter.Paginate = config.PaginateConfig{Default: 10, Max: 50}
	cfg.Adapter.Watch = false
	opts = ServiceOptions(cfg, nil, nil)
	if len(opts.Whitelist) != 1 || opts.Whitelist[0] != "$regex" {
		t.Errorf("unexpected whitelist %v", opts.Whitelist)
	}
	if opts.Paginate == nil || opts.Paginate.Default != 10 || opts.Paginate.Max != 50 {
		t.Errorf("unexpected pagination %+v", opts.Paginate)
	}
	if !opts.DisableWatch {
		t.Error("expected watch disabled")
	}
}

func TestBuild_Errors(t *testing.T) {
	if _, err := Build(nil, nil); err == nil {
		t.Fatal("expected error for nil config")
	}

	cfg := memoryConfig()
	cfg.EventBus.Type = "nats"
	if _, err := Build(cfg, nil); err == nil || !strings.Contains(err.Error(), "event bus") {
		t.Fatalf("expected event bus error, got %v", err)
	}
}

func TestRuntime_RunEmitsChangeEvents(t *testing.T) {
	cfg := memoryConfig()
	rt, err := Build(cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if rt.Forwarder != nil {
		t.Fatal("expected no forwarder without an event bus")
	}
	if got := rt.Health.List(); len(got) != 2 || got[0] != "changefeed" || got[1] != "database" {
		t.Fatalf("unexpected checks %v", got)
	}

	var mu sync.Mutex
	var received []events.Event
	sub := events.OnAll(rt.Events, func(_ context.Context, ev events.Event) {
		mu.Lock()
		defer mu.Unlock()
		received = append(received, ev)
	})
	defer sub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- rt.Run(ctx) }()

	deadline := time.Now().Add(5 * time.Second)
	for rt.Service.Cursor() == nil {
		if time.Now().After(deadline) {
			t.Fatal("change feed never started")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if result := rt.Health.Check(ctx); result.Status != health.StatusHealthy {
		t.Fatalf("expected healthy runtime, got %+v", result)
	}

	if _, err := rt.Service.Create(ctx, table.Record{"id": "a", "n": 1}, nil); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for {
		mu.Lock()
		n := len(received)
		mu.Unlock()
		if n > 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("no event received")
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	ev := received[0]
	mu.Unlock()
	if ev.Name != events.Created || ev.Path != "catalog/items" {
		t.Fatalf("unexpected event %+v", ev)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestRuntime_CloseJoinsHookErrors(t *testing.T) {
	var order []string
	rt := &Runtime{Logger: logger.NewNop()}
	rt.shutdownHooks = []LifecycleHook{
		{Name: "first", Fn: func(context.Context) error { order = append(order, "first"); return nil }},
		{Name: "noop"},
		{Name: "second", Fn: func(context.Context) error { order = append(order, "second"); return context.DeadlineExceeded }},
	}
	err := rt.Close()
	if err == nil || !strings.Contains(err.Error(), `"second"`) {
		t.Fatalf("expected joined hook error, got %v", err)
	}
	if len(order) != 2 || order[0] != "second" || order[1] != "first" {
		t.Fatalf("expected reverse order, got %v", order)
	}
	if err := rt.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestInitStorageAndCheckDependencies(t *testing.T) {
	cfg := memoryConfig()
	ctx := context.Background()
	if err := InitStorage(ctx, cfg, nil); err != nil {
		t.Fatalf("InitStorage: %v", err)
	}

	result, err := CheckDependencies(ctx, cfg, logger.NewNop())
	if err != nil {
		t.Fatalf("CheckDependencies: %v", err)
	}
	if !result.IsHealthy() || len(result.Checks) != 1 || result.Checks[0].Name != "database" {
		t.Fatalf("unexpected result %+v", result)
	}

	cfg.Database.Type = "couchdb"
	if err := InitStorage(ctx, cfg, nil); err == nil {
		t.Fatal("expected error for unsupported database")
	}
}
