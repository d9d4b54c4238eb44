package eventbus

import (
	"errors"
	"testing"
	"time"
)

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	now := time.Unix(0, 0)
	b := newBreaker(3, time.Minute)
	b.now = func() time.Time { return now }
	fail := errors.New("broker down")

	for i := 0; i < 2; i++ {
		if err := b.execute(func() error { return fail }); !errors.Is(err, fail) {
			t.Fatalf("attempt %d: expected broker error, got %v", i, err)
		}
	}
	if b.State() != BreakerClosed {
		t.Fatalf("expected closed after 2 failures, got %s", b.State())
	}

	_ = b.execute(func() error { return fail })
	if b.State() != BreakerOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	called := false
	if err := b.execute(func() error { called = true; return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected ErrBreakerOpen, got %v", err)
	}
	if called {
		t.Fatal("open breaker must not call through")
	}
}

func TestBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Unix(0, 0)
	b := newBreaker(1, time.Minute)
	b.now = func() time.Time { return now }
	fail := errors.New("broker down")

	_ = b.execute(func() error { return fail })
	if b.State() != BreakerOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	now = now.Add(time.Minute)
	_ = b.execute(func() error { return fail })
	if b.State() != BreakerOpen {
		t.Fatalf("failed trial should reopen, got %s", b.State())
	}

	now = now.Add(30 * time.Second)
	if err := b.execute(func() error { return nil }); !errors.Is(err, ErrBreakerOpen) {
		t.Fatalf("expected breaker to stay open before reset, got %v", err)
	}

	now = now.Add(time.Minute)
	if err := b.execute(func() error { return nil }); err != nil {
		t.Fatalf("trial publish: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("successful trial should close, got %s", b.State())
	}
}

func TestBreakerState_String(t *testing.T) {
	tests := map[BreakerState]string{
		BreakerClosed:   "closed",
		BreakerOpen:     "open",
		BreakerHalfOpen: "half-open",
		BreakerState(9): "unknown",
	}
	for state, want := range tests {
		if got := state.String(); got != want {
			t.Errorf("%d.String() = %q, want %q", state, got, want)
		}
	}
}
