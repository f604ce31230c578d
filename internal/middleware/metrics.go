package middleware

import (
	"strconv"
	"time"

	"github.com/GoPolymarket/venuegate/internal/pkg/metrics"
	"github.com/gin-gonic/gin"
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start).Seconds()

		// route template keeps label cardinality bounded
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.LatencyBucket.WithLabelValues(route, c.Request.Method, strconv.Itoa(c.Writer.Status())).Observe(duration)
	}
}
