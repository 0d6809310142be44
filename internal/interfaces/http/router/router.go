// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chunk-rerank-proxy/internal/application/intercept"
	"chunk-rerank-proxy/internal/config"
	"chunk-rerank-proxy/internal/interfaces/http/handler"
	"chunk-rerank-proxy/internal/interfaces/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	engine      *gin.Engine
	cfg         *config.Config
	interceptor *intercept.Interceptor
	limiter     middleware.RateLimiter

	health *handler.HealthHandler
	cache  *handler.CacheHandler
	proxy  *handler.ProxyHandler
}

// New 创建新的路由器
// limiter 为 nil 时不限流。
func New(
	cfg *config.Config,
	interceptor *intercept.Interceptor,
	limiter middleware.RateLimiter,
	healthHandler *handler.HealthHandler,
	cacheHandler *handler.CacheHandler,
	proxyHandler *handler.ProxyHandler,
) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{
		engine:      gin.New(),
		cfg:         cfg,
		interceptor: interceptor,
		limiter:     limiter,
		health:      healthHandler,
		cache:       cacheHandler,
		proxy:       proxyHandler,
	}

	r.setupMiddleware()
	r.setupRoutes()

	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// setupMiddleware 配置中间件
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics(r.interceptor.IsMonitored))
	}

	// 只对被拦截的自动补全接口限流
	r.engine.Use(middleware.RateLimit(middleware.RateLimitConfig{
		Enabled:           r.cfg.Security.RateLimit.Enabled,
		RequestsPerSecond: r.cfg.Security.RateLimit.RequestsPerSecond,
		KeyPrefix:         r.cfg.Cache.KeyPrefix,
		Match:             r.interceptor.IsMonitored,
	}, r.limiter))
}

// setupRoutes 配置路由
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.health.Health)
	r.engine.GET("/ready", r.health.Ready)
	r.engine.GET("/live", r.health.Live)

	if r.cfg.Observability.Metrics.Enabled {
		r.engine.GET(r.cfg.Observability.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.engine.Group("/v1")
	{
		cache := v1.Group("/cache")
		{
			cache.GET("/stats", r.cache.Stats)
			cache.DELETE("", r.cache.Purge)
		}
	}

	// 其余请求全部转发到上游，自动补全接口经过拦截器
	r.engine.NoRoute(r.proxy.Forward)
}
