package intercept

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"

	"chunk-rerank-proxy/pkg/metrics"
)

// CallbackTransport 回调式传输，Send 立即返回，结果通过 Exchange 的回调送达
type CallbackTransport interface {
	Send(ctx context.Context, x *Exchange)
}

// CallbackTransportFunc 函数适配器
type CallbackTransportFunc func(ctx context.Context, x *Exchange)

// Send 实现 CallbackTransport
func (f CallbackTransportFunc) Send(ctx context.Context, x *Exchange) {
	f(ctx, x)
}

// NewHTTPCallbackTransport 基于 http.RoundTripper 的回调式传输
func NewHTTPCallbackTransport(rt http.RoundTripper) CallbackTransport {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return &httpCallbackTransport{rt: rt}
}

type httpCallbackTransport struct {
	rt http.RoundTripper
}

func (t *httpCallbackTransport) Send(ctx context.Context, x *Exchange) {
	x.Advance(StateOpened)
	go t.do(ctx, x)
}

func (t *httpCallbackTransport) do(ctx context.Context, x *Exchange) {
	req, err := http.NewRequestWithContext(ctx, x.Method, x.URL, bytes.NewReader(x.Body))
	if err != nil {
		x.Fail(fmt.Errorf("build request: %w", err))
		return
	}
	for k, vs := range x.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := t.rt.RoundTrip(req)
	if err != nil {
		x.Fail(err)
		return
	}
	defer resp.Body.Close()

	x.Advance(StateHeadersReceived)
	x.Advance(StateLoading)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		x.Fail(fmt.Errorf("read response body: %w", err))
		return
	}
	x.Complete(resp.StatusCode, resp.Header, body)
}

// CallbackTransport 包装 next，被监控的请求走缓存与重排，其余请求原样转发
// next 为 nil 时使用基于 http.DefaultTransport 的回调式传输。
func (i *Interceptor) CallbackTransport(next CallbackTransport) CallbackTransport {
	if next == nil {
		next = NewHTTPCallbackTransport(nil)
	}
	return &callbackShim{interceptor: i, next: next}
}

type callbackShim struct {
	interceptor *Interceptor
	next        CallbackTransport
}

func (s *callbackShim) Send(ctx context.Context, x *Exchange) {
	if !s.interceptor.IsMonitored(x.URL) {
		metrics.InterceptCallsTotal.WithLabelValues(string(TransportCallback), "passthrough").Inc()
		s.next.Send(ctx, x)
		return
	}

	x.Advance(StateOpened)
	go s.sendMonitored(ctx, x)
}

func (s *callbackShim) sendMonitored(ctx context.Context, x *Exchange) {
	call := newInterceptedCall(TransportCallback, x.Method, x.URL, x.Body)
	out, err := s.interceptor.performMonitoredCall(ctx, call, func(ctx context.Context) (*upstreamResponse, error) {
		return s.fetch(ctx, x)
	})
	if err != nil {
		x.Fail(err)
		return
	}

	if out.Source == SourceHit {
		s.interceptor.cache.SynthesizeCallbackReplay(ctx, x, out.Body)
		return
	}

	x.Advance(StateHeadersReceived)
	x.Advance(StateLoading)
	x.Complete(out.Status, out.Header.Clone(), append([]byte(nil), out.Body...))
}

// fetch 通过内部 Exchange 调用 next 并等待结束
func (s *callbackShim) fetch(ctx context.Context, x *Exchange) (*upstreamResponse, error) {
	inner := NewExchange(x.Method, x.URL, x.Body)
	inner.Header = x.Header.Clone()
	if inner.Header == nil {
		inner.Header = make(http.Header)
	}
	inner.Header.Del("Accept-Encoding")

	s.next.Send(ctx, inner)
	if err := inner.Wait(ctx); err != nil {
		return nil, err
	}
	return &upstreamResponse{
		Status: inner.Status(),
		Header: inner.ResponseHeader(),
		Body:   inner.ResponseBody(),
	}, nil
}
