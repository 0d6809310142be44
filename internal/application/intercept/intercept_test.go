package intercept

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"chunk-rerank-proxy/internal/application/highlight"
	"chunk-rerank-proxy/internal/application/rerank"
	"chunk-rerank-proxy/internal/infrastructure/cache"
)

const autocompletePath = "/api/chunk/autocomplete"

func chunkJSON(id, content string) map[string]any {
	return map[string]any{
		"id": id,
		"metadata": []any{map[string]any{
			"chunk_html": content,
			"metadata":   map[string]any{"title": "", "breadcrumbs": []string{}},
		}},
	}
}

func searchPayload(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"total": 2,
		"score_chunks": []any{
			chunkJSON("a", "unrelated topic"),
			chunkJSON("b", "setup and install"),
		},
	})
	require.NoError(t, err)
	return raw
}

// upstream 记录请求次数的假上游
type upstream struct {
	*httptest.Server
	hits     atomic.Int32
	lastBody atomic.Value
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) *upstream {
	t.Helper()
	u := &upstream{}
	u.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		u.lastBody.Store(string(body))
		u.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(u.Close)
	return u
}

func jsonHandler(status int, body []byte) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Upstream", "search")
		w.WriteHeader(status)
		_, _ = w.Write(body)
	}
}

type fixture struct {
	clock       *clockwork.FakeClock
	cache       *ResponseCache
	interceptor *Interceptor
}

func newFixture(t *testing.T, opts Options, cacheOpts CacheOptions) *fixture {
	t.Helper()
	clock := clockwork.NewFakeClock()
	store, err := cache.NewMemoryStore(clock, 100)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	if cacheOpts.TTL == 0 {
		cacheOpts.TTL = 10 * time.Second
	}
	rc := NewResponseCache(store, clock, cacheOpts)
	engine := rerank.NewEngine(rerank.NewBitapMatcher(rerank.DefaultThreshold), highlight.New(15, 3), rerank.Options{})

	return &fixture{
		clock:       clock,
		cache:       rc,
		interceptor: New(engine, rc, clock, opts),
	}
}

func (f *fixture) client() *http.Client {
	return &http.Client{Transport: f.interceptor.RoundTripper(http.DefaultTransport)}
}

func post(t *testing.T, c *http.Client, url, body string) (*http.Response, []byte) {
	t.Helper()
	resp, err := c.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, payload
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestCacheKey(t *testing.T) {
	a := CacheKey("post", "https://x/api/chunk/autocomplete", []byte(`{"query":"x","page":1}`))
	b := CacheKey("POST", "https://x/api/chunk/autocomplete", []byte(`{ "page": 1, "query": "x" }`))
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, CacheKey("POST", "https://x/api/chunk/autocomplete", []byte(`{"query":"y","page":1}`)))
	assert.NotEqual(t, a, CacheKey("GET", "https://x/api/chunk/autocomplete", []byte(`{"query":"x","page":1}`)))
	assert.NotEqual(t, a, CacheKey("POST", "https://x/api/chunk/autocomplete", []byte(`{"query":"x","page":1.0}`)))

	// 非 JSON 与 JSON 字符串不会冲突
	assert.NotEqual(t,
		CacheKey("POST", "/u", []byte(`"abc"`)),
		CacheKey("POST", "/u", []byte(`abc`)),
	)
	assert.NotEqual(t,
		CacheKey("POST", "/u", []byte(`{"a":1} {"b":2}`)),
		CacheKey("POST", "/u", []byte(`{"a":1}`)),
	)
	assert.Equal(t, CacheKey("", "/u", nil), CacheKey("GET", "/u", []byte{}))
}

func TestCacheKeyKeepsInvalidUTF8Distinct(t *testing.T) {
	ff := []byte("{\"query\":\"\xff\"}")
	fe := []byte("{\"query\":\"\xfe\"}")
	replacement := []byte("{\"query\":\"\uFFFD\"}")

	assert.NotEqual(t, CacheKey("POST", autocompletePath, ff), CacheKey("POST", autocompletePath, fe))
	assert.NotEqual(t, CacheKey("POST", autocompletePath, ff), CacheKey("POST", autocompletePath, replacement))
	assert.Contains(t, CacheKey("POST", autocompletePath, ff), "_raw:")
	assert.Contains(t, CacheKey("POST", autocompletePath, replacement), "_json:")
}

func TestIsMonitored(t *testing.T) {
	i := New(nil, nil, nil, Options{})
	assert.True(t, i.IsMonitored("https://search.example.com/api/chunk/autocomplete?v=2"))
	assert.False(t, i.IsMonitored("https://search.example.com/api/chunk/search"))

	custom := New(nil, nil, nil, Options{Endpoint: "/suggest"})
	assert.True(t, custom.IsMonitored("/v1/suggest"))
	assert.Equal(t, "/suggest", custom.Endpoint())
}

func TestPassthroughIsUntouched(t *testing.T) {
	f := newFixture(t, Options{}, CacheOptions{})

	want := &http.Response{StatusCode: http.StatusTeapot, Body: io.NopCloser(strings.NewReader("raw"))}
	var got *http.Request
	rt := f.interceptor.RoundTripper(roundTripFunc(func(r *http.Request) (*http.Response, error) {
		got = r
		return want, nil
	}))

	req := httptest.NewRequest(http.MethodPost, "https://search.example.com/api/chunk/search", strings.NewReader(`{"query":"x"}`))
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)

	assert.Same(t, req, got)
	assert.Same(t, want, resp)
}

func TestPassthroughIsNotCached(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusOK, []byte(`{"results":[1,2]}`)))
	f := newFixture(t, Options{}, CacheOptions{})
	c := f.client()

	for n := 0; n < 2; n++ {
		resp, body := post(t, c, up.URL+"/api/chunk/search", `{"query":"x"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `{"results":[1,2]}`, string(body))
		assert.Equal(t, "search", resp.Header.Get("X-Upstream"))
	}
	assert.Equal(t, int32(2), up.hits.Load())
	assert.Equal(t, `{"query":"x"}`, up.lastBody.Load())
}

func TestMonitoredCallIsRerankedAndCached(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusOK, searchPayload(t)))
	f := newFixture(t, Options{}, CacheOptions{})
	c := f.client()

	resp, first := post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"query":"install"}`, up.lastBody.Load())

	root := gjson.ParseBytes(first)
	assert.Equal(t, int64(2), root.Get("total").Int())
	require.Len(t, root.Get("score_chunks").Array(), 1)
	assert.Equal(t, "b", root.Get("score_chunks.0.id").String())
	assert.Equal(t, "setup and <mark>install</mark>", root.Get("score_chunks.0.highlights.0").String())

	resp, second := post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
	assert.Equal(t, string(first), string(second))
	assert.Equal(t, int32(1), up.hits.Load())
}

func TestCacheExpiresAfterTTL(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusOK, searchPayload(t)))
	f := newFixture(t, Options{}, CacheOptions{TTL: 10 * time.Second})
	c := f.client()

	post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
	f.clock.Advance(9 * time.Second)
	post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
	assert.Equal(t, int32(1), up.hits.Load())

	f.clock.Advance(time.Second)
	post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
	assert.Equal(t, int32(2), up.hits.Load())

	// 重新写入后再次命中
	post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestMalformedPayloadFallsBack(t *testing.T) {
	truncated := []byte(`{"score_chunks":[{"id":"a","metadata":[`)
	up := newUpstream(t, jsonHandler(http.StatusOK, truncated))
	f := newFixture(t, Options{}, CacheOptions{})
	c := f.client()

	for n := 0; n < 2; n++ {
		resp, body := post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, string(truncated), string(body))
		assert.Equal(t, "search", resp.Header.Get("X-Upstream"))
	}
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestMatcherUnavailableFallsBack(t *testing.T) {
	payload := searchPayload(t)
	up := newUpstream(t, jsonHandler(http.StatusOK, payload))

	clock := clockwork.NewFakeClock()
	store, err := cache.NewMemoryStore(clock, 10)
	require.NoError(t, err)
	rc := NewResponseCache(store, clock, CacheOptions{TTL: time.Second})
	i := New(rerank.NewEngine(nil, nil, rerank.Options{}), rc, clock, Options{})

	_, body := post(t, &http.Client{Transport: i.RoundTripper(nil)}, up.URL+autocompletePath, `{"query":"install"}`)
	assert.JSONEq(t, string(payload), string(body))
}

func TestNonSuccessStatusPassesThrough(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusServiceUnavailable, []byte(`{"error":"busy"}`)))
	f := newFixture(t, Options{}, CacheOptions{})
	c := f.client()

	for n := 0; n < 2; n++ {
		resp, body := post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, `{"error":"busy"}`, string(body))
	}
	assert.Equal(t, int32(2), up.hits.Load())
}

func TestUpstreamErrorIsReturned(t *testing.T) {
	f := newFixture(t, Options{}, CacheOptions{})
	rt := f.interceptor.RoundTripper(roundTripFunc(func(*http.Request) (*http.Response, error) {
		return nil, io.ErrUnexpectedEOF
	}))

	req := httptest.NewRequest(http.MethodPost, "https://x"+autocompletePath, strings.NewReader(`{"query":"a"}`))
	_, err := rt.RoundTrip(req)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCallbackTransport(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusOK, searchPayload(t)))
	f := newFixture(t, Options{}, CacheOptions{})
	transport := f.interceptor.CallbackTransport(NewHTTPCallbackTransport(http.DefaultTransport))

	send := func() (*Exchange, []ReadyState, int) {
		var (
			mu     sync.Mutex
			states []ReadyState
			loads  int
		)
		x := NewExchange(http.MethodPost, up.URL+autocompletePath, []byte(`{"query":"install"}`))
		x.Header.Set("Content-Type", "application/json")
		x.OnReadyStateChange = func(x *Exchange) {
			mu.Lock()
			defer mu.Unlock()
			states = append(states, x.ReadyState())
		}
		x.OnLoad = func(*Exchange) {
			mu.Lock()
			defer mu.Unlock()
			loads++
		}

		transport.Send(context.Background(), x)
		require.NoError(t, x.Wait(context.Background()))

		mu.Lock()
		defer mu.Unlock()
		return x, append([]ReadyState(nil), states...), loads
	}

	fresh, states, loads := send()
	assert.Equal(t, http.StatusOK, fresh.Status())
	assert.Equal(t, "b", gjson.GetBytes(fresh.ResponseBody(), "score_chunks.0.id").String())
	assert.Equal(t, []ReadyState{StateOpened, StateHeadersReceived, StateLoading, StateDone}, states)
	assert.Equal(t, 1, loads)

	replayed, states, loads := send()
	assert.Equal(t, StateDone, replayed.ReadyState())
	assert.Equal(t, http.StatusOK, replayed.Status())
	assert.Equal(t, "application/json", replayed.ResponseHeader().Get("Content-Type"))
	assert.Equal(t, string(fresh.ResponseBody()), string(replayed.ResponseBody()))
	assert.Equal(t, StateDone, states[len(states)-1])
	assert.Equal(t, 1, loads)

	assert.Equal(t, int32(1), up.hits.Load())
}

func TestCallbackPassthroughDelegates(t *testing.T) {
	f := newFixture(t, Options{}, CacheOptions{})

	var got *Exchange
	next := CallbackTransportFunc(func(_ context.Context, x *Exchange) {
		got = x
		x.Complete(http.StatusOK, nil, []byte("raw"))
	})

	x := NewExchange(http.MethodGet, "https://x/other", nil)
	f.interceptor.CallbackTransport(next).Send(context.Background(), x)

	assert.Same(t, x, got)
	assert.Equal(t, "raw", string(x.ResponseBody()))
}

func TestCallbackTransportNilNextFallsBackToHTTP(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusOK, []byte(`{"results":[]}`)))
	f := newFixture(t, Options{}, CacheOptions{})

	x := NewExchange(http.MethodGet, up.URL+"/api/chunk/search", nil)
	f.interceptor.CallbackTransport(nil).Send(context.Background(), x)

	require.NoError(t, x.Wait(context.Background()))
	assert.Equal(t, http.StatusOK, x.Status())
	assert.Equal(t, `{"results":[]}`, string(x.ResponseBody()))
	assert.Equal(t, int32(1), up.hits.Load())
}

func TestCallbackUpstreamError(t *testing.T) {
	f := newFixture(t, Options{}, CacheOptions{})
	next := CallbackTransportFunc(func(_ context.Context, x *Exchange) {
		x.Fail(io.ErrUnexpectedEOF)
	})

	var onErr error
	x := NewExchange(http.MethodPost, "https://x"+autocompletePath, []byte(`{"query":"a"}`))
	x.OnError = func(_ *Exchange, err error) { onErr = err }

	f.interceptor.CallbackTransport(next).Send(context.Background(), x)
	err := x.Wait(context.Background())

	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, onErr, io.ErrUnexpectedEOF)
	assert.Zero(t, x.Status())
}

func TestCallbackReplayWaitsFixedDelay(t *testing.T) {
	clock := clockwork.NewRealClock()
	store, err := cache.NewMemoryStore(clock, 10)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	rc := NewResponseCache(store, clock, CacheOptions{TTL: time.Minute, CallbackReplayDelay: 30 * time.Millisecond})
	x := NewExchange(http.MethodPost, autocompletePath, nil)

	start := time.Now()
	rc.SynthesizeCallbackReplay(context.Background(), x, []byte(`{"score_chunks":[]}`))
	assert.NotEqual(t, StateDone, x.ReadyState())

	require.NoError(t, x.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, `{"score_chunks":[]}`, string(x.ResponseBody()))
}

func TestCallbackReplayCancelled(t *testing.T) {
	f := newFixture(t, Options{}, CacheOptions{CallbackReplayDelay: time.Second})
	ctx, cancel := context.WithCancel(context.Background())

	x := NewExchange(http.MethodPost, autocompletePath, nil)
	f.cache.SynthesizeCallbackReplay(ctx, x, []byte(`{}`))
	cancel()

	err := x.Wait(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, x.Status())
}

func TestPromiseReplayJitter(t *testing.T) {
	f := newFixture(t, Options{}, CacheOptions{PromiseReplayJitter: 100 * time.Millisecond})
	f.cache.jitter = func(limit time.Duration) time.Duration {
		assert.Equal(t, 100*time.Millisecond, limit)
		return 40 * time.Millisecond
	}

	req := httptest.NewRequest(http.MethodPost, autocompletePath, nil)
	done := make(chan *http.Response, 1)
	go func() {
		resp, err := f.cache.SynthesizePromiseReplay(context.Background(), req, []byte(`{"a":1}`))
		assert.NoError(t, err)
		done <- resp
	}()

	require.NoError(t, f.clock.BlockUntilContext(context.Background(), 1))
	f.clock.Advance(40 * time.Millisecond)

	select {
	case resp := <-done:
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
		assert.Equal(t, `{"a":1}`, string(body))
		assert.Same(t, req, resp.Request)
	case <-time.After(time.Second):
		t.Fatal("replay did not complete")
	}
}

func TestPromiseReplayCancelled(t *testing.T) {
	f := newFixture(t, Options{}, CacheOptions{PromiseReplayJitter: time.Second})
	f.cache.jitter = func(time.Duration) time.Duration { return time.Second }

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.cache.SynthesizePromiseReplay(ctx, httptest.NewRequest(http.MethodPost, autocompletePath, nil), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCoalesceInflight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 8)
	payload := searchPayload(t)
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		entered <- struct{}{}
		<-release
		jsonHandler(http.StatusOK, payload)(w, r)
	})

	f := newFixture(t, Options{Coalesce: true}, CacheOptions{})
	c := f.client()

	var wg sync.WaitGroup
	bodies := make([][]byte, 5)
	for n := range bodies {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			resp, err := c.Post(up.URL+autocompletePath, "application/json", bytes.NewReader([]byte(`{"query":"install"}`)))
			if !assert.NoError(t, err) {
				return
			}
			defer resp.Body.Close()
			bodies[n], _ = io.ReadAll(resp.Body)
		}(n)
	}

	<-entered
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), up.hits.Load())
	for _, b := range bodies {
		assert.Equal(t, "b", gjson.GetBytes(b, "score_chunks.0.id").String())
	}
}

func TestStatsAndPurge(t *testing.T) {
	up := newUpstream(t, jsonHandler(http.StatusOK, searchPayload(t)))
	f := newFixture(t, Options{}, CacheOptions{})
	c := f.client()

	post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
	post(t, c, up.URL+autocompletePath, `{"query":"setup"}`)

	stats, err := f.cache.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cache.Stats{Backend: "memory", Entries: 2}, stats)

	require.NoError(t, f.cache.Purge(context.Background()))
	post(t, c, up.URL+autocompletePath, `{"query":"install"}`)
	assert.Equal(t, int32(3), up.hits.Load())
}
