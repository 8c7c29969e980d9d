package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

// Response is the envelope every endpoint answers with.
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Success writes a successful envelope.
func Success(c *gin.Context, status int, message string, data interface{}) {
	if status == 0 {
		status = http.StatusOK
	}
	c.JSON(status, Response{Success: true, Message: message, Data: data})
}

// Error aborts the chain and writes an error envelope.
func Error(c *gin.Context, status int, message string, err error) {
	c.Abort()
	resp := Response{Success: false, Message: message}
	if err != nil {
		resp.Error = err.Error()
	}
	c.JSON(status, resp)
}

// Fail maps err to its HTTP status and writes the envelope. Server-side failures are logged.
func Fail(c *gin.Context, message string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		logger.FromContext(c.Request.Context()).Error(message, zap.Error(err), zap.Int("status", status))
	}
	Error(c, status, message, err)
}

// StatusFor maps service errors onto HTTP statuses.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case apperrors.IsValidationError(err), apperrors.IsBadRequestError(err):
		return http.StatusBadRequest
	case apperrors.IsUnauthorizedError(err):
		return http.StatusUnauthorized
	case apperrors.IsNotFoundError(err):
		return http.StatusNotFound
	case apperrors.IsInvalidTransitionError(err), apperrors.IsConflictError(err), apperrors.IsDuplicateError(err):
		return http.StatusConflict
	case apperrors.IsTimeoutError(err), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case apperrors.IsRateLimitedError(err):
		return http.StatusTooManyRequests
	case apperrors.IsUpstreamError(err):
		return http.StatusBadGateway
	case apperrors.IsDatabaseError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
