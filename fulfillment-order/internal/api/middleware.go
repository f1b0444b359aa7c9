package api

import (
	"runtime/debug"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
)

// RequestIDMiddleware keeps the caller's X-Request-ID or assigns a new one and
// echoes it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(headerRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Writer.Header().Set(headerRequestID, id)
		c.Next()
	}
}

// RecoveryMiddleware turns a panic into a 500 envelope.
func RecoveryMiddleware(log *logger.Logger) gin.HandlerFunc {
	if log == nil {
		log = logger.Nop()
	}
	return func(c *gin.Context) {
		defer func() {
			if v := recover(); v != nil {
				log.WithContext(c.Request.Context()).Errorf("panic recovered", map[string]interface{}{
					"panic":     v,
					"requestId": RequestID(c),
					"path":      c.Request.URL.Path,
					"stack":     string(debug.Stack()),
				})
				if !c.Writer.Written() {
					WriteError(c, apperrors.New(apperrors.CodeInternal, "internal server error"))
					return
				}
				c.Abort()
			}
		}()
		c.Next()
	}
}
