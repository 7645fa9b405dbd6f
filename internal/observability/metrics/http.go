package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// ObserveHTTPRequest 记录一次 HTTP 请求的计数与耗时。
func (c *Collector) ObserveHTTPRequest(handler, method string, status int, duration time.Duration) {
	c.httpRequests.WithLabelValues(handler, method, strconv.Itoa(status)).Inc()
	if status >= 500 {
		c.httpErrors.WithLabelValues(handler, method).Inc()
	}
	c.httpLatency.WithLabelValues(handler, method).Observe(duration.Seconds())
}

// Middleware 为 gin 路由记录请求指标，未匹配的路由归入 "unmatched"。
func (c *Collector) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()
		ctx.Next()
		handler := ctx.FullPath()
		if handler == "" {
			handler = "unmatched"
		}
		c.ObserveHTTPRequest(handler, ctx.Request.Method, ctx.Writer.Status(), time.Since(start))
	}
}
