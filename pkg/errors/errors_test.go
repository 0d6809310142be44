package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWrapKeepsCause(t *testing.T) {
	cause := stderrors.New("unexpected end of JSON input")
	err := Wrap(cause, CodeParseFailed, "response body is not valid JSON")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[4001] response body is not valid JSON: unexpected end of JSON input", err.Error())
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus)
}

func TestAsAppErrorThroughFmtWrap(t *testing.T) {
	inner := New(CodeMatcherUnavailable, "fuzzy matcher unavailable")
	wrapped := fmt.Errorf("rank: %w", inner)

	assert.True(t, IsAppError(wrapped))
	assert.Equal(t, CodeMatcherUnavailable, CodeOf(wrapped))
	assert.Equal(t, CodeUnknown, CodeOf(stderrors.New("plain")))
	assert.Equal(t, CodeSuccess, CodeOf(nil))
}

func TestWithDetailDoesNotMutatePredefined(t *testing.T) {
	e := ErrInvalidParam.WithDetail("query missing")

	assert.Equal(t, "query missing", e.Detail)
	assert.Empty(t, ErrInvalidParam.Detail)
}

func TestCodeToHTTPStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadGateway, New(CodeUpstreamFailed, "x").HTTPStatus)
	assert.Equal(t, http.StatusTooManyRequests, ErrTooManyRequests.HTTPStatus)
	assert.Equal(t, http.StatusNotFound, ErrNotFound.HTTPStatus)
}
