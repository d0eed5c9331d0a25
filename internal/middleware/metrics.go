package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cadogy/cadogy-backend/internal/telemetry"
)

// MetricsMiddleware records http_requests_total and http_request_duration_seconds. The
// path label is the matched route template. Requests that match no route (guard redirects,
// SPA pages, unknown API paths) are labelled by their guard class, e.g. "<session_page>",
// which keeps label cardinality bounded.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "<" + Classify(c.Request.URL.Path).String() + ">"
		}
		status := strconv.Itoa(c.Writer.Status())

		telemetry.HTTPRequestsTotal.WithLabelValues(c.Request.Method, route, status).Inc()
		telemetry.HTTPRequestDuration.WithLabelValues(c.Request.Method, route).Observe(time.Since(start).Seconds())
	}
}
