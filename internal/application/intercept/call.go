// Package intercept 拦截自动补全请求，对结果重排并做短期缓存
package intercept

import (
	"context"
	"net/http"

	"chunk-rerank-proxy/internal/application/rerank"
)

// Transport 发起请求的传输方式
type Transport string

const (
	// TransportPromise 基于 http.RoundTripper 的请求
	TransportPromise Transport = "promise"
	// TransportCallback 基于回调的请求
	TransportCallback Transport = "callback"
)

// InterceptedCall 一次被拦截的调用
type InterceptedCall struct {
	Transport Transport
	Method    string
	TargetURL string
	RawBody   []byte
	Query     string
}

func newInterceptedCall(t Transport, method, target string, body []byte) InterceptedCall {
	if method == "" {
		method = http.MethodGet
	}
	return InterceptedCall{
		Transport: t,
		Method:    method,
		TargetURL: target,
		RawBody:   body,
		Query:     rerank.ExtractQuery(body),
	}
}

// Source 响应来源
type Source string

const (
	SourceHit      Source = "hit"
	SourceFresh    Source = "fresh"
	SourceFallback Source = "fallback"
)

// upstreamResponse 上游返回的完整响应
type upstreamResponse struct {
	Status int
	Header http.Header
	Body   []byte
}

// fetchFunc 执行真实的上游调用
type fetchFunc func(ctx context.Context) (*upstreamResponse, error)

// outcome 被监控调用的结果，Body 只读
type outcome struct {
	Source Source
	Status int
	Header http.Header
	Body   []byte
}
