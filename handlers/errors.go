package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"polls-backend/cache"
	"polls-backend/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 错误类型，随错误信息一起返回给客户端
const (
	CodeNotFound      = "not_found"
	CodeValidation    = "validation"
	CodePollClosed    = "poll_closed"
	CodeDuplicateVote = "duplicate_vote"
	CodeInvalidOption = "invalid_option"
	CodeRateLimited   = "rate_limited"
	CodeUnavailable   = "unavailable"
	CodeInternal      = "internal"
)

// ErrorResponse 错误响应体
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func abortWithError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{Error: message, Code: code})
}

// respondError 将业务错误映射为HTTP状态码
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, service.ErrPollNotFound):
		abortWithError(c, http.StatusNotFound, CodeNotFound, err.Error())
	case errors.Is(err, service.ErrValidation):
		msg := strings.TrimPrefix(err.Error(), service.ErrValidation.Error()+": ")
		abortWithError(c, http.StatusBadRequest, CodeValidation, msg)
	case errors.Is(err, service.ErrPollClosed):
		abortWithError(c, http.StatusForbidden, CodePollClosed, err.Error())
	case errors.Is(err, service.ErrDuplicateVote):
		abortWithError(c, http.StatusConflict, CodeDuplicateVote, err.Error())
	case errors.Is(err, service.ErrInvalidOption):
		abortWithError(c, http.StatusBadRequest, CodeInvalidOption, err.Error())
	case errors.Is(err, cache.ErrLockNotAcquired), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request timed out waiting for poll", zap.String("path", c.Request.URL.Path), zap.Error(err))
		abortWithError(c, http.StatusServiceUnavailable, CodeUnavailable, "poll is busy, try again")
	default:
		logger.Error("request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
		abortWithError(c, http.StatusInternalServerError, CodeInternal, "internal server error")
	}
}
