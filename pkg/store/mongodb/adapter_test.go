package mongodb

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nimburion/docservice/pkg/observability/logger"
	"go.mongodb.org/mongo-driver/mongo"
)

func TestNewAdapter_Validation(t *testing.T) {
	_, err := NewAdapter(Config{}, logger.NewNop())
	if err == nil {
		t.Fatal("expected error for empty URL and database")
	}

	_, err = NewAdapter(Config{URL: "mongodb://localhost:27017"}, logger.NewNop())
	if err == nil {
		t.Fatal("expected error for empty database")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}
	cfg.defaults()
	if cfg.ConnectTimeout != 5*time.Second || cfg.OperationTimeout != 5*time.Second {
		t.Fatalf("unexpected timeouts %+v", cfg)
	}
	if cfg.HealthPollInterval != 500*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.HealthPollInterval)
	}
}

func TestPing_WhenClosed(t *testing.T) {
	a := &Adapter{closed: true}
	if err := a.Ping(context.Background()); err == nil {
		t.Fatal("expected error when adapter is closed")
	}
}

func TestWaitForHealthy_StopsWithContext(t *testing.T) {
	a := &Adapter{closed: true, logger: logger.NewNop(), pollInterval: 10 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := a.WaitForHealthy(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestClose_IdempotentWhenAlreadyClosed(t *testing.T) {
	a := &Adapter{closed: true}
	if err := a.Close(); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestOperationContext_UsesAdapterTimeoutWhenNoDeadline(t *testing.T) {
	a := &Adapter{timeout: 2 * time.Second}

	ctx, cancel := a.OperationContext(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("expected deadline from operation timeout")
	}
	if remaining := time.Until(deadline); remaining <= 0 || remaining > 2*time.Second {
		t.Fatalf("unexpected remaining timeout: %v", remaining)
	}
}

func TestOperationContext_PreservesCallerDeadline(t *testing.T) {
	a := &Adapter{timeout: 2 * time.Second}
	parentCtx, parentCancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer parentCancel()

	ctx, cancel := a.OperationContext(parentCtx)
	defer cancel()

	parentDeadline, _ := parentCtx.Deadline()
	gotDeadline, _ := ctx.Deadline()
	if !gotDeadline.Equal(parentDeadline) {
		t.Fatalf("expected caller deadline to be preserved, got %v want %v", gotDeadline, parentDeadline)
	}
}

func TestIsNamespaceExists(t *testing.T) {
	if !isNamespaceExists(mongo.CommandError{Code: 48, Name: "NamespaceExists"}) {
		t.Fatal("expected code 48 to match")
	}
	if isNamespaceExists(mongo.CommandError{Code: 13}) {
		t.Fatal("unexpected match for code 13")
	}
	if isNamespaceExists(errors.New("boom")) {
		t.Fatal("unexpected match for plain error")
	}
}
