package handler

import (
	"github.com/gin-gonic/gin"

	"chunk-rerank-proxy/internal/application/intercept"
	"chunk-rerank-proxy/internal/interfaces/http/dto"
	apperrors "chunk-rerank-proxy/pkg/errors"
	"chunk-rerank-proxy/pkg/logger"
)

// CacheHandler 响应缓存管理
type CacheHandler struct {
	interceptor *intercept.Interceptor
}

// NewCacheHandler 创建缓存管理处理器
func NewCacheHandler(interceptor *intercept.Interceptor) *CacheHandler {
	return &CacheHandler{interceptor: interceptor}
}

// Stats 缓存统计
func (h *CacheHandler) Stats(c *gin.Context) {
	rc := h.interceptor.Cache()
	stats, err := rc.Stats(c.Request.Context())
	if err != nil {
		logger.Error(c.Request.Context(), "failed to read cache stats", err)
		dto.AppError(c, apperrors.Wrap(err, apperrors.CodeCacheError, "cache unavailable"))
		return
	}

	dto.Success(c, dto.CacheStatsResponse{
		Backend:    stats.Backend,
		Entries:    stats.Entries,
		TTLSeconds: int64(rc.TTL().Seconds()),
		Endpoint:   h.interceptor.Endpoint(),
	})
}

// Purge 清空缓存
func (h *CacheHandler) Purge(c *gin.Context) {
	if err := h.interceptor.Cache().Purge(c.Request.Context()); err != nil {
		logger.Error(c.Request.Context(), "failed to purge cache", err)
		dto.AppError(c, apperrors.Wrap(err, apperrors.CodeCacheError, "cache unavailable"))
		return
	}

	logger.Info(c.Request.Context(), "response cache purged")
	dto.NoContent(c)
}
