package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"chunk-rerank-proxy/pkg/metrics"
)

// ProxyPathLabel 未注册路由（转发到上游的请求）统一使用的 path 标签
const ProxyPathLabel = "proxy"

// Metrics Prometheus 指标采集中间件
// monitored 为被拦截接口的匹配函数，其请求单独打标签。
func Metrics(monitored func(path string) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = ProxyPathLabel
			if monitored != nil && monitored(c.Request.URL.Path) {
				path = "autocomplete"
			}
		}
		method := c.Request.Method

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		if size := c.Writer.Size(); size > 0 {
			metrics.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}
