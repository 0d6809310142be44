package intercept

import (
	"context"
	"fmt"
	"strings"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	"chunk-rerank-proxy/internal/application/rerank"
	apperrors "chunk-rerank-proxy/pkg/errors"
	"chunk-rerank-proxy/pkg/logger"
	"chunk-rerank-proxy/pkg/metrics"
	"chunk-rerank-proxy/pkg/tracer"
)

// DefaultEndpoint 默认监控的接口路径
const DefaultEndpoint = "/api/chunk/autocomplete"

// ErrTransformFailed 转换过程中的意外失败
var ErrTransformFailed = apperrors.New(apperrors.CodeTransformFailed, "transform failed")

// Options 拦截器配置
type Options struct {
	// Endpoint URL 中包含该子串的请求会被拦截
	Endpoint string
	// Coalesce 合并同 key 的并发上游调用
	Coalesce bool
}

// Interceptor 拦截自动补全请求并重排结果
type Interceptor struct {
	engine   *rerank.Engine
	cache    *ResponseCache
	clock    clockwork.Clock
	endpoint string
	coalesce bool
	group    singleflight.Group
}

// New 创建拦截器
func New(engine *rerank.Engine, responseCache *ResponseCache, clock clockwork.Clock, opts Options) *Interceptor {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	endpoint := opts.Endpoint
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	return &Interceptor{
		engine:   engine,
		cache:    responseCache,
		clock:    clock,
		endpoint: endpoint,
		coalesce: opts.Coalesce,
	}
}

// Cache 拦截器持有的响应缓存
func (i *Interceptor) Cache() *ResponseCache {
	return i.cache
}

// Endpoint 监控的 URL 子串
func (i *Interceptor) Endpoint() string {
	return i.endpoint
}

// IsMonitored 判断 URL 是否为被监控的接口
func (i *Interceptor) IsMonitored(target string) bool {
	return strings.Contains(target, i.endpoint)
}

// performMonitoredCall 两种传输方式共用的缓存检查、上游调用、转换和缓存写入
// 只有上游调用本身的错误会返回给调用方，转换失败时回退为原始响应。
func (i *Interceptor) performMonitoredCall(ctx context.Context, call InterceptedCall, fetch fetchFunc) (*outcome, error) {
	ctx = logger.WithContext(ctx, logger.TransportKey, string(call.Transport))
	ctx, span := tracer.Start(ctx, "intercept.MonitoredCall")
	defer span.End()
	span.SetAttributes(
		attribute.String("intercept.transport", string(call.Transport)),
		attribute.String("intercept.method", call.Method),
		attribute.Int("intercept.query_len", len(call.Query)),
	)

	key := CacheKey(call.Method, call.TargetURL, call.RawBody)

	if payload, ok := i.cache.Lookup(ctx, key); ok {
		span.SetAttributes(attribute.String("intercept.source", string(SourceHit)))
		metrics.InterceptCallsTotal.WithLabelValues(string(call.Transport), string(SourceHit)).Inc()
		logger.Debug(ctx, "serving autocomplete from cache")
		return &outcome{Source: SourceHit, Status: 200, Header: jsonHeader(), Body: payload}, nil
	}

	var (
		out *outcome
		err error
	)
	if i.coalesce {
		var v any
		v, err, _ = i.group.Do(key, func() (any, error) {
			return i.fetchAndTransform(context.WithoutCancel(ctx), call, key, fetch)
		})
		if err == nil {
			out = v.(*outcome)
		}
	} else {
		out, err = i.fetchAndTransform(ctx, call, key, fetch)
	}

	if err != nil {
		span.RecordError(err)
		metrics.InterceptCallsTotal.WithLabelValues(string(call.Transport), "error").Inc()
		return nil, err
	}

	span.SetAttributes(attribute.String("intercept.source", string(out.Source)))
	metrics.InterceptCallsTotal.WithLabelValues(string(call.Transport), string(out.Source)).Inc()
	return out, nil
}

func (i *Interceptor) fetchAndTransform(ctx context.Context, call InterceptedCall, key string, fetch fetchFunc) (*outcome, error) {
	start := i.clock.Now()
	resp, err := fetch(ctx)
	metrics.UpstreamDuration.WithLabelValues(string(call.Transport)).Observe(i.clock.Since(start).Seconds())
	if err != nil {
		return nil, err
	}

	out := &outcome{Source: SourceFallback, Status: resp.Status, Header: resp.Header, Body: resp.Body}
	if resp.Status < 200 || resp.Status >= 300 {
		logger.Debug(ctx, "upstream returned non-success status, passing through", "status", resp.Status)
		return out, nil
	}

	transformed, err := i.transform(ctx, call.Query, resp.Body)
	if err != nil {
		code := apperrors.CodeOf(err)
		metrics.InterceptFallbackTotal.WithLabelValues(string(code)).Inc()
		logger.Warn(ctx, "autocomplete transform failed, returning upstream payload",
			"code", string(code),
			"error", err.Error(),
		)
		return out, nil
	}

	if err := i.cache.Store(ctx, key, transformed); err != nil {
		logger.Warn(logger.WithContext(ctx, logger.CacheKeyKey, key), "cache write failed",
			"code", string(apperrors.CodeCacheError),
			"error", err.Error(),
		)
	}

	out.Source = SourceFresh
	out.Body = transformed
	return out, nil
}

// transform 调用重排引擎，引擎外的意外 panic 同样回退
func (i *Interceptor) transform(ctx context.Context, query string, payload []byte) (out []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("%w: %v", ErrTransformFailed, r)
		}
	}()
	if i.engine == nil {
		return nil, rerank.ErrMatcherUnavailable
	}
	return i.engine.Transform(ctx, query, payload)
}
