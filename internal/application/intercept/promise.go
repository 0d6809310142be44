package intercept

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"chunk-rerank-proxy/pkg/metrics"
)

// RoundTripper 包装 next，被监控的请求走缓存与重排，其余请求原样转发
func (i *Interceptor) RoundTripper(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &roundTripper{interceptor: i, next: next}
}

type roundTripper struct {
	interceptor *Interceptor
	next        http.RoundTripper
}

// RoundTrip 实现 http.RoundTripper
func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if !rt.interceptor.IsMonitored(req.URL.String()) {
		metrics.InterceptCallsTotal.WithLabelValues(string(TransportPromise), "passthrough").Inc()
		return rt.next.RoundTrip(req)
	}

	body, err := drainBody(req)
	if err != nil {
		return nil, err
	}

	call := newInterceptedCall(TransportPromise, req.Method, req.URL.String(), body)
	out, err := rt.interceptor.performMonitoredCall(req.Context(), call, func(ctx context.Context) (*upstreamResponse, error) {
		return rt.fetch(ctx, req, body)
	})
	if err != nil {
		return nil, err
	}

	if out.Source == SourceHit {
		return rt.interceptor.cache.SynthesizePromiseReplay(req.Context(), req, out.Body)
	}
	return buildResponse(req, out), nil
}

// fetch 以原请求的副本调用上游并读完响应体
func (rt *roundTripper) fetch(ctx context.Context, req *http.Request, body []byte) (*upstreamResponse, error) {
	up := req.Clone(ctx)
	up.Body = io.NopCloser(bytes.NewReader(body))
	up.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(body)), nil
	}
	up.ContentLength = int64(len(body))
	// 交给底层 Transport 处理压缩，保证拿到的是可解析的明文
	up.Header.Del("Accept-Encoding")

	resp, err := rt.next.RoundTrip(up)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read upstream body: %w", err)
	}
	return &upstreamResponse{Status: resp.StatusCode, Header: resp.Header, Body: payload}, nil
}

// drainBody 读取并关闭请求体
func drainBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func buildResponse(req *http.Request, out *outcome) *http.Response {
	header := out.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	header.Del("Content-Encoding")
	header.Set("Content-Length", strconv.Itoa(len(out.Body)))

	return &http.Response{
		Status:        fmt.Sprintf("%d %s", out.Status, http.StatusText(out.Status)),
		StatusCode:    out.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          io.NopCloser(bytes.NewReader(out.Body)),
		ContentLength: int64(len(out.Body)),
		Request:       req,
	}
}
