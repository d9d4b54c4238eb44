package factory

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/nimburion/docservice/pkg/server/router"
)

func TestNewRouter_ValidTypes(t *testing.T) {
	types := []string{"gin", "gorilla", "", " GORILLA "}
	for _, typ := range types {
		t.Run(typ, func(t *testing.T) {
			r, err := NewRouter(typ)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if r == nil {
				t.Fatal("expected non-nil router")
			}
		})
	}
}

func TestNewRouter_InvalidType(t *testing.T) {
	_, err := NewRouter("chi")
	if err == nil {
		t.Fatal("expected error for invalid type")
	}
	msg := err.Error()
	for _, typ := range []string{"gin", "gorilla"} {
		if !strings.Contains(msg, typ) {
			t.Fatalf("expected error to include %q, got %q", typ, msg)
		}
	}
}

// Both adapters must behave the same for the management handlers.
func TestRouters_SameBehavior(t *testing.T) {
	for _, typ := range SupportedTypes() {
		t.Run(typ, func(t *testing.T) {
			r, err := NewRouter(typ)
			if err != nil {
				t.Fatalf("NewRouter: %v", err)
			}

			r.GET("/ok", func(c router.Context) error {
				return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
			})
			r.GET("/fail", func(c router.Context) error {
				return http.ErrAbortHandler
			})
			r.GET("/guarded", func(c router.Context) error {
				return c.String(http.StatusOK, "inner")
			}, func(next router.HandlerFunc) router.HandlerFunc {
				return func(c router.Context) error {
					return c.String(http.StatusForbidden, "denied")
				}
			})
			// registered after the routes, still applies
			r.Use(func(next router.HandlerFunc) router.HandlerFunc {
				return func(c router.Context) error {
					c.Response().Header().Set("X-Test", "1")
					return next(c)
				}
			})

			tests := []struct {
				path   string
				status int
				body   string
			}{
				{"/ok", http.StatusOK, `"status":"ok"`},
				{"/fail", http.StatusInternalServerError, "internal_server_error"},
				{"/guarded", http.StatusForbidden, "denied"},
				{"/missing", http.StatusNotFound, "not_found"},
			}
			for _, tt := range tests {
				w := httptest.NewRecorder()
				r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, tt.path, nil))
				if w.Code != tt.status {
					t.Errorf("%s: status %d, want %d", tt.path, w.Code, tt.status)
				}
				if !strings.Contains(w.Body.String(), tt.body) {
					t.Errorf("%s: body %q missing %q", tt.path, w.Body.String(), tt.body)
				}
				if w.Header().Get("X-Test") != "1" {
					t.Errorf("%s: global middleware not applied", tt.path)
				}
			}
		})
	}
}
