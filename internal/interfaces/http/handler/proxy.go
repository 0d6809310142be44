package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"

	"chunk-rerank-proxy/internal/interfaces/http/dto"
	apperrors "chunk-rerank-proxy/pkg/errors"
	"chunk-rerank-proxy/pkg/logger"
)

// statusClientClosedRequest 客户端在响应前断开
const statusClientClosedRequest = 499

// ProxyHandler 将请求转发到上游搜索服务
type ProxyHandler struct {
	proxy *httputil.ReverseProxy
}

// NewProxyHandler 创建转发处理器，transport 通常是拦截器包装过的 RoundTripper
func NewProxyHandler(target *url.URL, transport http.RoundTripper) *ProxyHandler {
	return &ProxyHandler{
		proxy: &httputil.ReverseProxy{
			Rewrite: func(pr *httputil.ProxyRequest) {
				pr.SetURL(target)
				pr.SetXForwarded()
			},
			Transport:    transport,
			ErrorHandler: writeProxyError,
		},
	}
}

// Forward 转发请求
func (h *ProxyHandler) Forward(c *gin.Context) {
	h.proxy.ServeHTTP(c.Writer, c.Request)
}

func writeProxyError(w http.ResponseWriter, r *http.Request, err error) {
	ctx := r.Context()
	if errors.Is(err, context.Canceled) {
		logger.Debug(ctx, "client went away before upstream responded", "path", r.URL.Path)
		w.WriteHeader(statusClientClosedRequest)
		return
	}

	logger.Error(ctx, "upstream request failed", err, "path", r.URL.Path)

	appErr := apperrors.Wrap(err, apperrors.CodeUpstreamFailed, "upstream unavailable")
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(appErr.HTTPStatus)
	_ = json.NewEncoder(w).Encode(dto.ErrorResponse{
		Code:    appErr.HTTPStatus,
		Message: appErr.Message,
		Error:   &dto.ErrorDetail{ErrorCode: string(appErr.Code), Details: err.Error()},
	})
}
