package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/server/router"
	"github.com/nimburion/docservice/pkg/server/router/gorilla"
	"github.com/nimburion/docservice/pkg/testutil"
)

func serve(r router.Router, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequestID(t *testing.T) {
	r := gorilla.NewRouter()
	r.Use(RequestID())
	var seen string
	r.GET("/x", func(c router.Context) error {
		ctx := c.Request().Context()
		seen, _ = ctx.Value(logger.RequestIDKey).(string)
		return c.String(http.StatusOK, "ok")
	})

	w := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil))
	generated := w.Header().Get(RequestIDHeader)
	if generated == "" || generated != seen {
		t.Fatalf("expected generated id in header and context, got %q and %q", generated, seen)
	}

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "req-123")
	w = serve(r, req)
	if w.Header().Get(RequestIDHeader) != "req-123" || seen != "req-123" {
		t.Fatalf("expected incoming id preserved, got %q and %q", w.Header().Get(RequestIDHeader), seen)
	}

	other := serve(r, httptest.NewRequest(http.MethodGet, "/x", nil)).Header().Get(RequestIDHeader)
	if other == generated {
		t.Fatal("expected unique ids per request")
	}
}

func TestLogging(t *testing.T) {
	mock := testutil.NewMockLogger()
	r := gorilla.NewRouter()
	r.Use(Logging(mock, "/health"))
	r.GET("/ready", func(c router.Context) error { return c.String(http.StatusServiceUnavailable, "no") })
	r.GET("/health", func(c router.Context) error { return c.String(http.StatusOK, "ok") })
	r.GET("/boom", func(c router.Context) error { return errors.New("boom") })

	req := httptest.NewRequest(http.MethodGet, "/ready", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	serve(r, req)
	serve(r, httptest.NewRequest(http.MethodGet, "/health", nil))
	serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))

	logs := mock.Logs()
	if len(logs) != 2 {
		t.Fatalf("expected 2 entries (health excluded), got %d: %+v", len(logs), logs)
	}
	completed := logs[0]
	if completed.Msg != "request completed" || completed.Fields["status"] != http.StatusServiceUnavailable {
		t.Errorf("unexpected entry %+v", completed)
	}
	if completed.Fields["path"] != "/ready" || completed.Fields["remote_addr"] != "192.168.1.1:12345" {
		t.Errorf("unexpected fields %v", completed.Fields)
	}
	failed := logs[1]
	if failed.Msg != "request failed" || failed.Level != "error" || failed.Fields["error"] == nil {
		t.Errorf("unexpected failure entry %+v", failed)
	}
}

func TestRecovery(t *testing.T) {
	mock := testutil.NewMockLogger()
	r := gorilla.NewRouter()
	r.Use(Recovery(mock))
	r.GET("/panic", func(c router.Context) error { panic("kaboom") })
	r.GET("/late", func(c router.Context) error {
		_ = c.String(http.StatusAccepted, "partial")
		panic(errors.New("after write"))
	})
	r.GET("/ok", func(c router.Context) error { return c.String(http.StatusOK, "fine") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/panic", nil))
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", w.Code)
	}
	entry, ok := mock.Find("panic recovered")
	if !ok || entry.Fields["panic"] != "kaboom" || entry.Fields["stack"] == "" {
		t.Fatalf("expected panic log, got %+v", mock.Logs())
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/late", nil))
	if w.Code != http.StatusAccepted || w.Body.String() != "partial" {
		t.Fatalf("written response must be kept, got %d %q", w.Code, w.Body.String())
	}

	w = serve(r, httptest.NewRequest(http.MethodGet, "/ok", nil))
	if w.Code != http.StatusOK || w.Body.String() != "fine" {
		t.Fatalf("normal request disturbed: %d %q", w.Code, w.Body.String())
	}
}
