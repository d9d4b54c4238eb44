package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type mockChecker struct {
	name   string
	status Status
	calls  atomic.Int32
}

func (m *mockChecker) Check(ctx context.Context) CheckResult {
	m.calls.Add(1)
	return CheckResult{Name: m.name, Status: m.status, Timestamp: time.Now()}
}

func (m *mockChecker) Name() string {
	return m.name
}

func TestRegistry_Check(t *testing.T) {
	tests := []struct {
		name     string
		statuses []Status
		want     Status
		ready    bool
	}{
		{"empty", nil, StatusHealthy, true},
		{"all healthy", []Status{StatusHealthy, StatusHealthy}, StatusHealthy, true},
		{"one degraded", []Status{StatusHealthy, StatusDegraded}, StatusDegraded, true},
		{"one unhealthy", []Status{StatusHealthy, StatusUnhealthy}, StatusUnhealthy, false},
		{"unhealthy wins over degraded", []Status{StatusDegraded, StatusUnhealthy, StatusHealthy}, StatusUnhealthy, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for i, s := range tt.statuses {
				r.Register(&mockChecker{name: string(rune('c' - i)), status: s})
			}
			result := r.Check(context.Background())
			if result.Status != tt.want {
				t.Fatalf("status = %s, want %s", result.Status, tt.want)
			}
			if result.IsHealthy() != tt.ready {
				t.Fatalf("IsHealthy = %v, want %v", result.IsHealthy(), tt.ready)
			}
			if len(result.Checks) != len(tt.statuses) {
				t.Fatalf("expected %d results, got %d", len(tt.statuses), len(result.Checks))
			}
			for i := 1; i < len(result.Checks); i++ {
				if result.Checks[i-1].Name > result.Checks[i].Name {
					t.Fatalf("results not sorted: %v", result.Checks)
				}
			}
		})
	}
}

func TestRegistry_RegisterReplacesAndUnregister(t *testing.T) {
	r := NewRegistry()
	first := &mockChecker{name: "db", status: StatusUnhealthy}
	second := &mockChecker{name: "db", status: StatusHealthy}
	r.Register(first)
	r.Register(second)
	r.RegisterFunc("ping", func(ctx context.Context) CheckResult {
		return CheckResult{Name: "ping", Status: StatusHealthy}
	})

	if names := r.List(); len(names) != 2 || names[0] != "db" || names[1] != "ping" {
		t.Fatalf("unexpected names %v", names)
	}
	if r.Check(context.Background()).Status != StatusHealthy {
		t.Fatal("replaced checker still used")
	}
	if first.calls.Load() != 0 {
		t.Fatal("replaced checker was called")
	}

	r.Unregister("db")
	if _, err := r.CheckOne(context.Background(), "db"); err == nil {
		t.Fatal("expected error for unregistered check")
	}
	res, err := r.CheckOne(context.Background(), "ping")
	if err != nil || res.Status != StatusHealthy {
		t.Fatalf("CheckOne = %+v, %v", res, err)
	}
}

type checkable struct {
	err   error
	delay time.Duration
}

func (c checkable) HealthCheck(ctx context.Context) error {
	select {
	case <-time.After(c.delay):
		return c.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestAdapterChecker(t *testing.T) {
	tests := []struct {
		name    string
		adapter checkable
		timeout time.Duration
		want    Status
	}{
		{"healthy", checkable{}, time.Second, StatusHealthy},
		{"failing", checkable{err: errors.New("connection refused")}, time.Second, StatusUnhealthy},
		{"timeout", checkable{delay: time.Second}, 20 * time.Millisecond, StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewAdapterChecker("db", tt.adapter, tt.timeout)
			res := c.Check(context.Background())
			if res.Status != tt.want {
				t.Fatalf("status = %s, want %s (%s)", res.Status, tt.want, res.Error)
			}
			if tt.want == StatusUnhealthy && res.Error == "" {
				t.Fatal("expected error message")
			}
		})
	}

	if NewDatabaseChecker(checkable{}).Name() != "database" || NewEventBusChecker(checkable{}).Name() != "eventbus" {
		t.Fatal("unexpected checker names")
	}
	if NewAdapterChecker("x", checkable{}, 0).timeout != 5*time.Second {
		t.Fatal("expected default timeout")
	}
}
