package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimburion/docservice/pkg/observability/logger"
)

type fakeService struct {
	name   string
	setups int
	err    error
}

func (f *fakeService) Setup(ctx context.Context, a *App) error {
	f.setups++
	return f.err
}

func TestUse_AndPathOf(t *testing.T) {
	a := New(logger.NewNop())
	items := &fakeService{name: "items"}
	users := &fakeService{name: "users"}

	if err := a.Use("/items/", items); err != nil {
		t.Fatalf("Use: %v", err)
	}
	if err := a.Use("users", users); err != nil {
		t.Fatalf("Use: %v", err)
	}
	if err := a.Use("items", users); err == nil {
		t.Fatal("expected duplicate path error")
	}
	if err := a.Use("", users); err == nil {
		t.Fatal("expected empty path error")
	}

	if path, ok := a.PathOf(users); !ok || path != "users" {
		t.Fatalf("PathOf(users) = %q, %v", path, ok)
	}
	if path, ok := a.PathOf(items); !ok || path != "items" {
		t.Fatalf("PathOf(items) = %q, %v", path, ok)
	}
	if _, ok := a.PathOf(&fakeService{}); ok {
		t.Fatal("unmounted service resolved to a path")
	}
	if svc, ok := a.Service("/users"); !ok || svc != users {
		t.Fatal("Service lookup failed")
	}
}

func TestSettings(t *testing.T) {
	a := New(logger.NewNop())
	if _, ok := a.Get("missing"); ok {
		t.Fatal("unexpected setting")
	}
	a.Set("paginate", 10)
	if v, ok := a.Get("paginate"); !ok || v != 10 {
		t.Fatalf("Get = %v, %v", v, ok)
	}
}

func TestSetup_RunsServicesInMountOrder(t *testing.T) {
	a := New(logger.NewNop())
	first := &fakeService{}
	broken := &fakeService{err: errors.New("boom")}
	_ = a.Use("first", first)
	_ = a.Use("plain", struct{ x int }{})
	_ = a.Use("broken", broken)

	err := a.Setup(context.Background())
	if err == nil || first.setups != 1 || broken.setups != 1 {
		t.Fatalf("Setup = %v, setups %d/%d", err, first.setups, broken.setups)
	}
}

func TestWaitBootstrap_RunsOnce(t *testing.T) {
	a := New(logger.NewNop())
	if err := a.WaitBootstrap(context.Background()); err != nil {
		t.Fatalf("no bootstrap: %v", err)
	}

	var runs atomic.Int32
	a.OnBootstrap(func(context.Context) error {
		runs.Add(1)
		return nil
	})
	for i := 0; i < 3; i++ {
		if err := a.WaitBootstrap(context.Background()); err != nil {
			t.Fatalf("WaitBootstrap: %v", err)
		}
	}
	if runs.Load() != 1 {
		t.Fatalf("bootstrap ran %d times", runs.Load())
	}
}

func TestWaitBootstrap_HonoursContext(t *testing.T) {
	a := New(logger.NewNop())
	release := make(chan struct{})
	defer close(release)
	a.OnBootstrap(func(context.Context) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := a.WaitBootstrap(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
