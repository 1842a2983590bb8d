package web

import (
	"net/http"

	gmw "github.com/Laisky/gin-middlewares/v7"
	"github.com/Laisky/zap"
	"github.com/gin-gonic/gin"

	"github.com/Laisky/codepatch/internal/patch"
)

// errorBody is the JSON shape of every failed request.
type errorBody struct {
	Code      patch.ErrorCode `json:"code"`
	Error     string          `json:"error"`
	Retryable bool            `json:"retryable"`
}

// statusForCode maps pipeline error codes to HTTP status codes.
func statusForCode(code patch.ErrorCode) int {
	switch code {
	case patch.ErrCodeMissingField, patch.ErrCodeInvalidField:
		return http.StatusBadRequest
	case patch.ErrCodeParseFailed, patch.ErrCodeOutOfRange, patch.ErrCodeFileNotFound,
		patch.ErrCodeOverlappingEdits, patch.ErrCodeUnbalanced, patch.ErrCodePlaceholder:
		return http.StatusUnprocessableEntity
	case patch.ErrCodeStaleSnapshot, patch.ErrCodeResourceBusy:
		return http.StatusConflict
	case patch.ErrCodeBackupNotFound:
		return http.StatusNotFound
	case patch.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case patch.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err and logs it once. Errors without a pipeline code
// are reported as internal without leaking their text.
func respondError(ctx *gin.Context, err error) {
	code := patch.CodeOf(err)
	status := statusForCode(code)
	body := errorBody{Code: code, Error: err.Error(), Retryable: patch.IsRetryable(err)}
	if code == "" {
		body = errorBody{Code: patch.ErrCodeApplyFailed, Error: "internal error", Retryable: true}
	}

	logger := gmw.GetLogger(ctx)
	if status >= http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
	} else {
		logger.Info("request rejected", zap.String("code", string(body.Code)), zap.Error(err))
	}
	ctx.AbortWithStatusJSON(status, body)
}
