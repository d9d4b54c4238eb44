// Package gorilla implements router.Router on gorilla/mux.
package gorilla

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"github.com/nimburion/docservice/pkg/server/router"
)

// Router implements router.Router using gorilla/mux.
type Router struct {
	mux        *mux.Router
	mu         sync.RWMutex
	middleware []router.MiddlewareFunc
}

// NewRouter creates a new Router.
func NewRouter() *Router {
	r := &Router{mux: mux.NewRouter()}
	r.mux.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.serve(w, req, func(c router.Context) error {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
		}, nil)
	})
	return r
}

// GET registers handler for GET and HEAD requests on path.
func (r *Router) GET(path string, handler router.HandlerFunc, middleware ...router.MiddlewareFunc) {
	r.mux.HandleFunc(path, func(w http.ResponseWriter, req *http.Request) {
		r.serve(w, req, handler, middleware)
	}).Methods(http.MethodGet, http.MethodHead)
}

// Use applies middleware to all routes.
func (r *Router) Use(middleware ...router.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

func (r *Router) serve(w http.ResponseWriter, req *http.Request, handler router.HandlerFunc, route []router.MiddlewareFunc) {
	r.mu.RLock()
	chain := append(append([]router.MiddlewareFunc{}, r.middleware...), route...)
	r.mu.RUnlock()

	c := router.NewContext(w, req)
	router.ServeError(c, router.Chain(handler, chain...)(c))
}
