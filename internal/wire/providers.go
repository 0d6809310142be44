package wire

import (
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/jonboulle/clockwork"

	"chunk-rerank-proxy/internal/application/highlight"
	"chunk-rerank-proxy/internal/application/intercept"
	"chunk-rerank-proxy/internal/application/rerank"
	"chunk-rerank-proxy/internal/config"
	"chunk-rerank-proxy/internal/infrastructure/cache"
	"chunk-rerank-proxy/internal/infrastructure/persistence/redis"
	"chunk-rerank-proxy/internal/interfaces/http/handler"
	"chunk-rerank-proxy/internal/interfaces/http/middleware"
)

// ProvideClock 提供真实时钟
func ProvideClock() clockwork.Clock {
	return clockwork.NewRealClock()
}

// ProvideRedisClient 提供 Redis 客户端，未启用 redis 后端时返回 nil
func ProvideRedisClient(cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.UsesRedis() {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		client.Close()
	}
	return client, cleanup, nil
}

// ProvideCacheStore 按配置选择缓存后端
func ProvideCacheStore(cfg *config.Config, clock clockwork.Clock, redisClient *redis.Client) (cache.Store, func(), error) {
	if cfg.UsesRedis() {
		return redis.NewStore(redisClient, cfg.Cache.KeyPrefix), func() {}, nil
	}

	store, err := cache.NewMemoryStore(clock, cfg.Cache.MaxEntries)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		store.Close()
	}
	return store, cleanup, nil
}

// ProvideResponseCache 提供响应缓存
func ProvideResponseCache(cfg *config.Config, store cache.Store, clock clockwork.Clock) *intercept.ResponseCache {
	return intercept.NewResponseCache(store, clock, intercept.CacheOptions{
		TTL:                 cfg.Intercept.CacheTTL,
		CallbackReplayDelay: cfg.Intercept.CallbackReplayDelay,
		PromiseReplayJitter: cfg.Intercept.PromiseReplayJitter,
	})
}

// ProvideMatcher 提供模糊匹配器
func ProvideMatcher(cfg *config.Config) rerank.Matcher {
	return rerank.NewBitapMatcher(cfg.Rerank.Threshold)
}

// ProvideHighlighter 提供高亮器
func ProvideHighlighter(cfg *config.Config) *highlight.Highlighter {
	return highlight.New(cfg.Intercept.HighlightWindow, cfg.Intercept.MaxHighlights)
}

// ProvideRerankEngine 提供重排引擎
func ProvideRerankEngine(cfg *config.Config, matcher rerank.Matcher, highlighter *highlight.Highlighter) *rerank.Engine {
	w := cfg.Rerank.Weights
	return rerank.NewEngine(matcher, highlighter, rerank.Options{
		Fields: []rerank.Field{
			{Name: "content", Path: rerank.ContentPath, Weight: w.Content},
			{Name: "title", Path: rerank.TitlePath, Weight: w.Title},
			{Name: "breadcrumbs", Path: rerank.BreadcrumbsPath, Weight: w.Breadcrumbs},
		},
	})
}

// ProvideInterceptor 提供拦截器
func ProvideInterceptor(cfg *config.Config, engine *rerank.Engine, responseCache *intercept.ResponseCache, clock clockwork.Clock) *intercept.Interceptor {
	return intercept.New(engine, responseCache, clock, intercept.Options{
		Endpoint: cfg.Intercept.Endpoint,
		Coalesce: cfg.Intercept.CoalesceInflight,
	})
}

// ProvideUpstreamTransport 提供访问上游的连接池
func ProvideUpstreamTransport(cfg *config.Config) http.RoundTripper {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   cfg.Upstream.MaxIdleConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: cfg.Upstream.Timeout,
		ExpectContinueTimeout: time.Second,
	}
}

// ProvideProxyHandler 提供经拦截器转发的处理器
func ProvideProxyHandler(cfg *config.Config, interceptor *intercept.Interceptor, upstream http.RoundTripper) (*handler.ProxyHandler, error) {
	target, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream.base_url: %w", err)
	}
	if target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid upstream.base_url %q: scheme and host required", cfg.Upstream.BaseURL)
	}
	return handler.NewProxyHandler(target, interceptor.RoundTripper(upstream)), nil
}

// ProvideRateLimiter 提供限流器，仅 redis 后端可用
func ProvideRateLimiter(redisClient *redis.Client, clock clockwork.Clock) middleware.RateLimiter {
	if redisClient == nil {
		return nil
	}
	return redis.NewRateLimiter(redisClient, clock)
}

// ProvideHealthHandler 提供健康检查处理器
func ProvideHealthHandler(cfg *config.Config, redisClient *redis.Client) *handler.HealthHandler {
	return handler.NewHealthHandler(redisClient, cfg.App.Version)
}
