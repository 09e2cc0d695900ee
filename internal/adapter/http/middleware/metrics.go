package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/farmlink/market-api/internal/observ"
)

func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := float64(time.Since(start).Milliseconds())
		// unmatched routes share one label to keep cardinality bounded
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		observ.HTTPRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		observ.HTTPDuration.WithLabelValues(c.Request.Method, path).Observe(duration)
	}
}
