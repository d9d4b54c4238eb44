// Package router abstracts the HTTP router behind the management endpoints,
// so the same handlers run on gorilla/mux or gin.
package router

import (
	"encoding/json"
	"net/http"
)

// Router registers read-only management routes.
type Router interface {
	GET(path string, handler HandlerFunc, middleware ...MiddlewareFunc)

	// Use applies middleware to every route, including routes registered
	// before the call.
	Use(middleware ...MiddlewareFunc)

	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

// HandlerFunc is the function signature for route handlers.
type HandlerFunc func(Context) error

// MiddlewareFunc wraps a HandlerFunc and returns a new HandlerFunc.
type MiddlewareFunc func(HandlerFunc) HandlerFunc

// Context provides access to request and response in a router-agnostic way.
type Context interface {
	Request() *http.Request
	SetRequest(r *http.Request)
	Response() ResponseWriter

	// JSON sends a JSON response with the given status code
	JSON(code int, v interface{}) error

	// String sends a plain text response with the given status code
	String(code int, s string) error
}

// ResponseWriter wraps http.ResponseWriter to track response status.
type ResponseWriter interface {
	http.ResponseWriter

	// Status returns the HTTP status code of the response
	Status() int

	// Written returns whether the response has been written
	Written() bool
}

// Chain applies middleware to h; the first middleware runs outermost.
func Chain(h HandlerFunc, middleware ...MiddlewareFunc) HandlerFunc {
	for i := len(middleware) - 1; i >= 0; i-- {
		h = middleware[i](h)
	}
	return h
}

// NewContext builds a Context over w and r. Adapters whose writer already
// tracks status pass it through; others get one wrapped.
func NewContext(w http.ResponseWriter, r *http.Request) Context {
	rw, ok := w.(ResponseWriter)
	if !ok {
		rw = &statusWriter{ResponseWriter: w, status: http.StatusOK}
	}
	return &context{w: rw, r: r}
}

type context struct {
	w ResponseWriter
	r *http.Request
}

func (c *context) Request() *http.Request     { return c.r }
func (c *context) SetRequest(r *http.Request) { c.r = r }
func (c *context) Response() ResponseWriter   { return c.w }

func (c *context) JSON(code int, v interface{}) error {
	c.w.Header().Set("Content-Type", "application/json")
	c.w.WriteHeader(code)
	return json.NewEncoder(c.w).Encode(v)
}

func (c *context) String(code int, s string) error {
	c.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	c.w.WriteHeader(code)
	_, err := c.w.Write([]byte(s))
	return err
}

type statusWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if w.written {
		return
	}
	w.status = code
	w.written = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}

func (w *statusWriter) Status() int   { return w.status }
func (w *statusWriter) Written() bool { return w.written }

// ServeError writes err as a 500 unless a response was already sent.
func ServeError(c Context, err error) {
	if err == nil || c.Response().Written() {
		return
	}
	_ = c.JSON(http.StatusInternalServerError, map[string]string{
		"error":   "internal_server_error",
		"message": err.Error(),
	})
}
