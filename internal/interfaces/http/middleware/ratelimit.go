package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"chunk-rerank-proxy/pkg/errors"
	"chunk-rerank-proxy/pkg/logger"
	"chunk-rerank-proxy/pkg/metrics"
)

// RateLimitConfig 限流配置
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond int
	// KeyPrefix Redis Key 前缀
	KeyPrefix string
	// Match 只对匹配的路径限流，为 nil 时全部限流
	Match func(path string) bool
}

// RateLimiter 限流器接口
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// RateLimit 按客户端 IP 的滑动窗口限流中间件
func RateLimit(cfg RateLimitConfig, limiter RateLimiter) gin.HandlerFunc {
	if !cfg.Enabled || limiter == nil {
		return func(c *gin.Context) {
			c.Next()
		}
	}

	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 50
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rerank"
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if cfg.Match != nil && !cfg.Match(path) {
			c.Next()
			return
		}

		key := cfg.KeyPrefix + ":ratelimit:" + c.ClientIP() + ":" + path
		allowed, err := limiter.Allow(c.Request.Context(), key, cfg.RequestsPerSecond, time.Second)
		if err != nil {
			// 限流器故障时放行
			logger.Warn(c.Request.Context(), "rate limiter unavailable", "error", err.Error())
			c.Next()
			return
		}

		if !allowed {
			metrics.RateLimitedTotal.WithLabelValues(path).Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"code":     errors.CodeTooManyRequests,
				"message":  "rate limit exceeded",
				"trace_id": c.GetString("trace_id"),
			})
			return
		}

		c.Next()
	}
}
