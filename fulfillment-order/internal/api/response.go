// Package api is the order service HTTP surface.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

const (
	headerRequestID = "X-Request-ID"
	ctxRequestID    = "requestID"
)

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Code      apperrors.Code `json:"code"`
	Message   string         `json:"message"`
	Retryable bool           `json:"retryable"`
	RequestID string         `json:"requestId,omitempty"`
}

// RequestID returns the request id assigned by RequestIDMiddleware.
func RequestID(c *gin.Context) string {
	if id := c.GetString(ctxRequestID); id != "" {
		return id
	}
	return strings.TrimSpace(c.GetHeader(headerRequestID))
}

// WriteError writes err with the status mapped from its code. Plain errors are
// reported as INTERNAL without their message.
func WriteError(c *gin.Context, err error) {
	coded, ok := apperrors.As(err)
	if !ok {
		coded = apperrors.New(apperrors.CodeInternal, "internal server error")
	}
	c.AbortWithStatusJSON(coded.HTTPStatus(), ErrorResponse{
		Code:      coded.Code,
		Message:   coded.Message,
		Retryable: coded.Retryable,
		RequestID: RequestID(c),
	})
}

// WriteStatusError writes an error with an explicit HTTP status.
func WriteStatusError(c *gin.Context, status int, code apperrors.Code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:      code,
		Message:   message,
		Retryable: status == http.StatusTooManyRequests,
		RequestID: RequestID(c),
	})
}
