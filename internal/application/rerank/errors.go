package rerank

import (
	apperrors "chunk-rerank-proxy/pkg/errors"
)

var (
	// ErrMatcherUnavailable 表示模糊匹配器未初始化
	ErrMatcherUnavailable = apperrors.New(apperrors.CodeMatcherUnavailable, "fuzzy matcher unavailable")

	// ErrMatcherFailed 表示匹配过程中出现异常
	ErrMatcherFailed = apperrors.New(apperrors.CodeMatcherUnavailable, "fuzzy matcher failed")

	// ErrMalformedPayload 表示上游响应不是预期的 JSON 结构
	ErrMalformedPayload = apperrors.New(apperrors.CodeParseFailed, "malformed autocomplete payload")
)
