// Package main 命令行探测工具：经拦截器重复请求自动补全接口，观察重排与缓存命中
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/tidwall/gjson"

	"chunk-rerank-proxy/internal/application/intercept"
	"chunk-rerank-proxy/internal/config"
	"chunk-rerank-proxy/internal/wire"
	"chunk-rerank-proxy/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	query := flag.String("query", "", "autocomplete query")
	target := flag.String("url", "", "full autocomplete URL (default: upstream.base_url + intercept.endpoint)")
	transport := flag.String("transport", string(intercept.TransportPromise), "promise or callback")
	repeat := flag.Int("repeat", 2, "number of identical requests")
	timeout := flag.Duration("timeout", 10*time.Second, "per request timeout")
	flag.Parse()

	if *query == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger.Init(cfg.Observability.Logging.Level, cfg.Observability.Logging.Format)

	if *target == "" {
		*target = cfg.Upstream.BaseURL + cfg.Intercept.Endpoint
	}

	ctx := context.Background()
	interceptor, cleanup, err := wire.InitializeInterceptor(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to initialize interceptor: %v", err)
	}
	defer cleanup()

	body, err := json.Marshal(map[string]string{"query": *query})
	if err != nil {
		log.Fatalf("failed to encode request: %v", err)
	}

	for n := 1; n <= *repeat; n++ {
		reqCtx, cancel := context.WithTimeout(ctx, *timeout)
		start := time.Now()

		var (
			status  int
			payload []byte
		)
		switch intercept.Transport(*transport) {
		case intercept.TransportCallback:
			status, payload, err = viaCallback(reqCtx, interceptor, *target, body)
		default:
			status, payload, err = viaPromise(reqCtx, interceptor, *target, body)
		}
		cancel()
		if err != nil {
			log.Fatalf("request %d failed: %v", n, err)
		}

		fmt.Printf("#%d status=%d elapsed=%s candidates=%d\n",
			n, status, time.Since(start).Round(time.Millisecond),
			len(gjson.GetBytes(payload, "score_chunks").Array()))
		for i, c := range gjson.GetBytes(payload, "score_chunks").Array() {
			if i == 5 {
				break
			}
			fmt.Printf("   %.4f  %s\n", c.Get("score").Float(), c.Get("highlights.0").String())
		}
	}
}

func viaPromise(ctx context.Context, i *intercept.Interceptor, target string, body []byte) (int, []byte, error) {
	client := &http.Client{Transport: i.RoundTripper(http.DefaultTransport)}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	return resp.StatusCode, payload, err
}

func viaCallback(ctx context.Context, i *intercept.Interceptor, target string, body []byte) (int, []byte, error) {
	transport := i.CallbackTransport(intercept.NewHTTPCallbackTransport(http.DefaultTransport))

	x := intercept.NewExchange(http.MethodPost, target, body)
	x.Header.Set("Content-Type", "application/json")
	x.OnReadyStateChange = func(x *intercept.Exchange) {
		logger.Debug(ctx, "ready state changed", "state", x.ReadyState().String())
	}

	transport.Send(ctx, x)
	if err := x.Wait(ctx); err != nil {
		return 0, nil, err
	}
	return x.Status(), x.ResponseBody(), nil
}
