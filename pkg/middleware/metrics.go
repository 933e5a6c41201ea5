package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"rebate/pkg/metrics"
)

// MetricsMiddleware records request latency keyed by route template, so ids
// in paths do not explode label cardinality.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestDuration.
			WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}
