//go:build wireinject
// +build wireinject

// Package wire 提供依赖注入配置
package wire

import (
	"context"

	"github.com/google/wire"

	"chunk-rerank-proxy/internal/application/intercept"
	"chunk-rerank-proxy/internal/config"
	"chunk-rerank-proxy/internal/interfaces/http/handler"
	"chunk-rerank-proxy/internal/interfaces/http/router"
)

// InitializeApp 初始化网关（带路由器）
func InitializeApp(ctx context.Context, cfg *config.Config) (*router.Router, func(), error) {
	wire.Build(
		StoreSet,
		InterceptSet,
		RouterSet,
	)
	return nil, nil, nil
}

// InitializeInterceptor 只初始化拦截器（用于命令行探测）
func InitializeInterceptor(ctx context.Context, cfg *config.Config) (*intercept.Interceptor, func(), error) {
	wire.Build(
		StoreSet,
		InterceptSet,
	)
	return nil, nil, nil
}

// StoreSet 缓存后端提供者集合
var StoreSet = wire.NewSet(
	ProvideClock,
	ProvideRedisClient,
	ProvideCacheStore,
)

// InterceptSet 重排与拦截提供者集合
var InterceptSet = wire.NewSet(
	ProvideMatcher,
	ProvideHighlighter,
	ProvideRerankEngine,
	ProvideResponseCache,
	ProvideInterceptor,
)

// RouterSet 路由提供者集合
var RouterSet = wire.NewSet(
	ProvideUpstreamTransport,
	ProvideProxyHandler,
	ProvideRateLimiter,
	ProvideHealthHandler,
	handler.NewCacheHandler,
	router.New,
)
