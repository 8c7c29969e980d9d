package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"gitlab.com/timkado/api/daisi-wa-handoff/internal/apperrors"
	"gitlab.com/timkado/api/daisi-wa-handoff/internal/tenant"
	"gitlab.com/timkado/api/daisi-wa-handoff/pkg/logger"
)

const (
	headerRequestID = "X-Request-ID"
	headerCompanyID = "X-Company-ID"
)

// RequestID reuses the caller's X-Request-ID or generates one, and puts it on the request context.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(headerRequestID, id)
		c.Request = c.Request.WithContext(tenant.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// Tenant binds every request to the deployment's company. A caller naming another
// company in X-Company-ID is refused.
func Tenant(companyID string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if h := c.GetHeader(headerCompanyID); h != "" && h != companyID {
			Error(c, http.StatusUnauthorized, "company mismatch",
				fmt.Errorf("%w: company %q is not served here", apperrors.ErrUnauthorized, h))
			return
		}
		c.Request = c.Request.WithContext(tenant.WithCompanyID(c.Request.Context(), companyID))
		c.Next()
	}
}

// Logger attaches a request-scoped logger and logs one line per request.
func Logger(base *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		log := base.With(
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
		)
		c.Request = c.Request.WithContext(logger.WithLogger(c.Request.Context(), log))

		c.Next()

		fields := []zap.Field{
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}
		if id, err := tenant.FromRequestIDContext(c.Request.Context()); err == nil {
			fields = append(fields, zap.String("request_id", id))
		}
		switch status := c.Writer.Status(); {
		case status >= http.StatusInternalServerError:
			log.Error("HTTP request", fields...)
		case status >= http.StatusBadRequest:
			log.Warn("HTTP request", fields...)
		default:
			log.Info("HTTP request", fields...)
		}
	}
}

// Recovery turns a handler panic into a 500 envelope.
func Recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic recovered",
					zap.Any("error", r),
					zap.String("path", c.Request.URL.Path),
					zap.Stack("stack"),
				)
				Error(c, http.StatusInternalServerError, "internal server error", nil)
			}
		}()
		c.Next()
	}
}

// CORS allows the configured origins. "*" allows any.
func CORS(allowed []string) gin.HandlerFunc {
	allowAll := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			allowAll = true
		}
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			if _, ok := set[origin]; ok || allowAll {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID, X-Company-ID")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// Timeout bounds the request context. Handlers see ctx.Err() once d elapses.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
