package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"chunk-rerank-proxy/internal/infrastructure/cache"
	"chunk-rerank-proxy/pkg/logger"
	"chunk-rerank-proxy/pkg/metrics"
)

// 默认时序
const (
	DefaultCacheTTL            = 10 * time.Second
	DefaultCallbackReplayDelay = 50 * time.Millisecond
	DefaultPromiseReplayJitter = 100 * time.Millisecond
)

// CacheOptions 缓存与回放时序
type CacheOptions struct {
	TTL                 time.Duration
	CallbackReplayDelay time.Duration
	PromiseReplayJitter time.Duration
}

// ResponseCache 已转换响应的短期缓存
type ResponseCache struct {
	store cache.Store
	clock clockwork.Clock
	opts  CacheOptions

	// jitter 返回 [0, limit) 内的随机时长，测试中可替换
	jitter func(limit time.Duration) time.Duration
}

// NewResponseCache 创建响应缓存
func NewResponseCache(store cache.Store, clock clockwork.Clock, opts CacheOptions) *ResponseCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultCacheTTL
	}
	return &ResponseCache{
		store:  store,
		clock:  clock,
		opts:   opts,
		jitter: func(limit time.Duration) time.Duration { return rand.N(limit) },
	}
}

// TTL 缓存有效期
func (c *ResponseCache) TTL() time.Duration {
	return c.opts.TTL
}

// CacheKey 由方法、URL 和规范化后的请求体组成
// 合法 UTF-8 的 JSON 请求体按键排序重新编码，数字保持原文；其余请求体整体加引号。
func CacheKey(method, target string, body []byte) string {
	if method == "" {
		method = http.MethodGet
	}
	return fmt.Sprintf("%s %q_%s", strings.ToUpper(method), target, canonicalBody(body))
}

func canonicalBody(body []byte) string {
	// 解码会把非法 UTF-8 替换为 U+FFFD，不同字节会得到相同结果
	if !utf8.Valid(body) {
		return "raw:" + strconv.Quote(string(body))
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err == nil {
		// 解码后还有剩余内容的不是单个 JSON 值
		if _, err := dec.Token(); err == io.EOF {
			if canonical, err := json.Marshal(v); err == nil {
				return "json:" + string(canonical)
			}
		}
	}
	return "raw:" + strconv.Quote(string(body))
}

// Lookup 返回未过期的缓存内容，过期条目在读取时删除
func (c *ResponseCache) Lookup(ctx context.Context, key string) ([]byte, bool) {
	entry, ok, err := c.store.Get(ctx, key)
	if err != nil {
		metrics.CacheLookupsTotal.WithLabelValues("error").Inc()
		logger.Warn(ctx, "cache lookup failed, treating as miss", "error", err.Error())
		return nil, false
	}
	if !ok {
		metrics.CacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	if c.clock.Since(entry.InsertedAt) >= c.opts.TTL {
		metrics.CacheLookupsTotal.WithLabelValues("expired").Inc()
		if err := c.store.Delete(ctx, key); err != nil {
			logger.Warn(ctx, "failed to drop expired cache entry", "error", err.Error())
		}
		return nil, false
	}

	metrics.CacheLookupsTotal.WithLabelValues("hit").Inc()
	return entry.Payload, true
}

// Store 写入或覆盖缓存，时间戳取当前时刻
func (c *ResponseCache) Store(ctx context.Context, key string, payload []byte) error {
	entry := cache.Entry{
		Payload:    append([]byte(nil), payload...),
		InsertedAt: c.clock.Now(),
	}
	return c.store.Set(ctx, key, entry, c.opts.TTL)
}

// Stats 存储统计
func (c *ResponseCache) Stats(ctx context.Context) (cache.Stats, error) {
	return c.store.Stats(ctx)
}

// Purge 清空缓存
func (c *ResponseCache) Purge(ctx context.Context) error {
	return c.store.Purge(ctx)
}

// SynthesizeCallbackReplay 固定延迟后以缓存内容完成回调式请求
// ctx 取消时请求以错误结束。
func (c *ResponseCache) SynthesizeCallbackReplay(ctx context.Context, x *Exchange, payload []byte) {
	body := append([]byte(nil), payload...)
	deliver := func() { x.Complete(http.StatusOK, jsonHeader(), body) }

	if c.opts.CallbackReplayDelay <= 0 {
		deliver()
		return
	}

	timer := c.clock.AfterFunc(c.opts.CallbackReplayDelay, deliver)
	go func() {
		select {
		case <-ctx.Done():
			if timer.Stop() {
				x.Fail(ctx.Err())
			}
		case <-x.Done():
		}
	}()
}

// SynthesizePromiseReplay 随机延迟后返回一个新的 200 响应
func (c *ResponseCache) SynthesizePromiseReplay(ctx context.Context, req *http.Request, payload []byte) (*http.Response, error) {
	if limit := c.opts.PromiseReplayJitter; limit > 0 {
		select {
		case <-c.clock.After(c.jitter(limit)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return &http.Response{
		Status:        "200 OK",
		StatusCode:    http.StatusOK,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        jsonHeader(),
		Body:          io.NopCloser(bytes.NewReader(payload)),
		ContentLength: int64(len(payload)),
		Request:       req,
	}, nil
}

func jsonHeader() http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	return h
}
