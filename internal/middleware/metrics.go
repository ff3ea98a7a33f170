// Package middleware provides Gin HTTP middleware for authentication,
// authorization, rate limiting, security headers, and request telemetry.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RateLimit → Auth → Role → Handler
//
// Security headers run first so they appear on all responses including
// errors. Rate limiting runs before auth to stop brute force before any DB
// work. Auth populates the caller identity; role checks read from that
// context.
package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/audit-trail/audit-trail/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and
// http_request_duration_seconds for every request. The path label uses the
// matched route template from c.FullPath() rather than the raw URL; requests
// that match no route use "<no-route>" so unhandled paths do not inflate
// label cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "<no-route>"
		}

		telemetry.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
