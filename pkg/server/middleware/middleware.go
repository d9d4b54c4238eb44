// Package middleware holds the request middleware of the management server.
package middleware

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/server/router"
)

// RequestIDHeader is the HTTP header name for request ID.
const RequestIDHeader = "X-Request-ID"

// RequestID keeps an incoming X-Request-ID or generates one, echoes it on
// the response and stores it in the request context for logger.WithContext.
func RequestID() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			requestID := strings.TrimSpace(c.Request().Header.Get(RequestIDHeader))
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(RequestIDHeader, requestID)
			ctx := logger.ContextWithRequestID(c.Request().Context(), requestID)
			c.SetRequest(c.Request().WithContext(ctx))
			return next(c)
		}
	}
}

// Logging logs one entry per request. Paths under an excluded prefix, such
// as health checks and scrapes, are not logged.
func Logging(log logger.Logger, excludedPrefixes ...string) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			req := c.Request()
			for _, prefix := range excludedPrefixes {
				if strings.HasPrefix(req.URL.Path, prefix) {
					return next(c)
				}
			}

			start := time.Now()
			err := next(c)
			fields := []any{
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status(),
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", req.RemoteAddr,
			}
			reqLog := log.WithContext(c.Request().Context())
			if err != nil {
				reqLog.Error("request failed", append(fields, "error", err)...)
				return err
			}
			reqLog.Info("request completed", fields...)
			return nil
		}
	}
}

// Recovery turns a handler panic into a logged 500.
func Recovery(log logger.Logger) router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) (err error) {
			defer func() {
				r := recover()
				if r == nil {
					return
				}
				log.WithContext(c.Request().Context()).Error("panic recovered",
					"panic", r,
					"stack", string(debug.Stack()),
				)
				if !c.Response().Written() {
					err = c.JSON(http.StatusInternalServerError, map[string]interface{}{
						"error":   "internal_server_error",
						"message": "an unexpected error occurred",
					})
				}
			}()
			return next(c)
		}
	}
}
