// Package gin implements router.Router on gin-gonic.
package gin

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/nimburion/docservice/pkg/server/router"
)

// Router implements router.Router using a gin engine in release mode.
type Router struct {
	engine     *gin.Engine
	mu         sync.RWMutex
	middleware []router.MiddlewareFunc
}

// NewRouter creates a new Router.
func NewRouter() *Router {
	gin.SetMode(gin.ReleaseMode)
	r := &Router{engine: gin.New()}
	r.engine.NoRoute(func(gc *gin.Context) {
		r.serve(gc, func(c router.Context) error {
			return c.JSON(http.StatusNotFound, map[string]string{"error": "not_found"})
		}, nil)
	})
	return r
}

// GET registers handler for GET and HEAD requests on path.
func (r *Router) GET(path string, handler router.HandlerFunc, middleware ...router.MiddlewareFunc) {
	h := func(gc *gin.Context) { r.serve(gc, handler, middleware) }
	r.engine.GET(path, h)
	r.engine.HEAD(path, h)
}

// Use applies middleware to all routes.
func (r *Router) Use(middleware ...router.MiddlewareFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, middleware...)
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

func (r *Router) serve(gc *gin.Context, handler router.HandlerFunc, route []router.MiddlewareFunc) {
	r.mu.RLock()
	chain := append(append([]router.MiddlewareFunc{}, r.middleware...), route...)
	r.mu.RUnlock()

	// gin.ResponseWriter already tracks status and written state.
	c := router.NewContext(gc.Writer, gc.Request)
	router.ServeError(c, router.Chain(handler, chain...)(c))
}
