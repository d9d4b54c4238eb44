package server

import (
	"context"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/server/router"
	"github.com/nimburion/docservice/pkg/server/router/gorilla"
)

func waitForAddr(t *testing.T, srv *Server) string {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if addr := srv.Addr(); addr != "" {
			return addr
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("server never started listening")
	return ""
}

func TestServerStartAndShutdown(t *testing.T) {
	r := gorilla.NewRouter()
	r.GET("/ping", func(c router.Context) error {
		return c.String(http.StatusOK, "pong")
	})

	srv := NewServer(Config{
		Port:         0,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}, r, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start(ctx)
	}()

	addr := waitForAddr(t, srv)
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("invalid addr %q: %v", addr, err)
	}

	resp, err := http.Get("http://127.0.0.1:" + port + "/ping")
	if err != nil {
		t.Fatalf("failed to make request: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}

	cancel()
	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("server shutdown failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server shutdown timed out")
	}
}

func TestServerStart_PortInUse(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	srv := NewServer(Config{Port: port}, gorilla.NewRouter(), logger.NewNop())
	err = srv.Start(context.Background())
	if err == nil || !strings.Contains(err.Error(), "failed to start") {
		t.Fatalf("expected bind error, got %v", err)
	}
}

func TestServerShutdown_NotStarted(t *testing.T) {
	srv := NewServer(Config{}, gorilla.NewRouter(), nil)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
	if srv.config.ShutdownTimeout != DefaultShutdownTimeout {
		t.Fatalf("expected default shutdown timeout, got %v", srv.config.ShutdownTimeout)
	}
}
