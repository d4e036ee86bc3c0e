// Package middleware provides HTTP middleware for the operational API.
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/feedbridge/backend/internal/infrastructure/logger"
)

// RequestIDHeader is the header carrying the request identifier
const RequestIDHeader = "X-Request-Id"

// RequestID assigns each request an identifier, honoring one supplied by the
// caller, and propagates it through the gin context, the response header and
// the request-scoped logger.
func RequestID(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}

		c.Set("request_id", requestID)
		c.Header(RequestIDHeader, requestID)

		if log != nil {
			ctx, _ := logger.WithRequestID(c.Request.Context(), log, requestID)
			c.Request = c.Request.WithContext(ctx)
		}

		c.Next()
	}
}
