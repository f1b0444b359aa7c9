// Package errors defines coded business errors shared by every saga service.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
)

// Code identifies a class of failure.
type Code string

const (
	// generic
	CodeOK           Code = "OK"
	CodeUnknown      Code = "UNKNOWN"
	CodeInvalidParam Code = "INVALID_PARAM"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeTimeout      Code = "TIMEOUT"

	// participants
	CodeDuplicateTransaction Code = "DUPLICATE_TRANSACTION"
	CodeProductsNotInformed  Code = "PRODUCTS_NOT_INFORMED"
	CodeProductNotFound      Code = "PRODUCT_NOT_FOUND"
	CodeInsufficientStock    Code = "INSUFFICIENT_STOCK"
	CodeAmountTooSmall       Code = "AMOUNT_TOO_SMALL"
	CodeRecordNotFound       Code = "RECORD_NOT_FOUND"

	// orchestration
	CodeUnknownStage Code = "UNKNOWN_STAGE"
	CodeSagaFinished Code = "SAGA_FINISHED"
	CodeInvalidEvent Code = "INVALID_EVENT"
)

// Error is a business error: an expected rule violation that a participant turns
// into a FAIL outcome instead of a transport-level failure.
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is matches on code so sentinel values work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates an error.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// HTTPStatus maps the code to an HTTP status for the order API.
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// As extracts a business error from err.
func As(err error) (*Error, bool) {
	var target *Error
	if stderrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code carried by err, CodeUnknown for plain errors.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	if e, ok := As(err); ok {
		return e.Code
	}
	return CodeUnknown
}

// IsRuleViolation reports whether code is a participant business rule that
// fails the saga step. Lookup misses such as CodeRecordNotFound are not.
func IsRuleViolation(code Code) bool {
	switch code {
	case CodeDuplicateTransaction, CodeProductsNotInformed, CodeProductNotFound,
		CodeInsufficientStock, CodeAmountTooSmall:
		return true
	default:
		return false
	}
}

func isRetryable(code Code) bool {
	switch code {
	case CodeUnavailable, CodeTimeout:
		return true
	default:
		return false
	}
}

func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam, CodeInvalidEvent, CodeProductsNotInformed:
		return http.StatusBadRequest
	case CodeNotFound, CodeRecordNotFound, CodeProductNotFound:
		return http.StatusNotFound
	case CodeDuplicateTransaction, CodeSagaFinished:
		return http.StatusConflict
	case CodeInsufficientStock, CodeAmountTooSmall, CodeUnknownStage:
		return http.StatusUnprocessableEntity
	case CodeUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

var (
	ErrInvalidParam         = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound             = New(CodeNotFound, "not found")
	ErrDuplicateTransaction = New(CodeDuplicateTransaction, "duplicate transaction")
	ErrSagaFinished         = New(CodeSagaFinished, "saga already finished")
)
