package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorFormatting(t *testing.T) {
	err := Newf(CodeAmountTooSmall, "The minimum amount available is %v", 0.1)
	if got := err.Error(); got != "[AMOUNT_TOO_SMALL] The minimum amount available is 0.1" {
		t.Fatalf("unexpected message: %q", got)
	}
}

func TestIsMatchesOnCode(t *testing.T) {
	wrapped := fmt.Errorf("validation: %w", New(CodeDuplicateTransaction, "There's another transactionId for this validation."))
	if !stderrors.Is(wrapped, ErrDuplicateTransaction) {
		t.Fatal("expected wrapped duplicate error to match sentinel")
	}
	if stderrors.Is(wrapped, ErrNotFound) {
		t.Fatal("did not expect match against a different code")
	}
}

func TestAsAndCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{name: "nil", err: nil, want: CodeOK},
		{name: "plain", err: stderrors.New("boom"), want: CodeUnknown},
		{name: "business", err: New(CodeInsufficientStock, "Product is out of stock!"), want: CodeInsufficientStock},
		{name: "wrapped", err: fmt.Errorf("inventory: %w", New(CodeProductNotFound, "missing")), want: CodeProductNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CodeOf(tt.err); got != tt.want {
				t.Fatalf("CodeOf() = %s, want %s", got, tt.want)
			}
		})
	}

	if _, ok := As(stderrors.New("boom")); ok {
		t.Fatal("plain error must not be a business error")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		code Code
		want int
	}{
		{CodeInvalidParam, http.StatusBadRequest},
		{CodeNotFound, http.StatusNotFound},
		{CodeDuplicateTransaction, http.StatusConflict},
		{CodeAmountTooSmall, http.StatusUnprocessableEntity},
		{CodeUnavailable, http.StatusServiceUnavailable},
		{CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := New(tt.code, "x").HTTPStatus(); got != tt.want {
			t.Fatalf("HTTPStatus(%s) = %d, want %d", tt.code, got, tt.want)
		}
	}
}

func TestRetryable(t *testing.T) {
	if !New(CodeUnavailable, "redis down").Retryable {
		t.Fatal("unavailable should be retryable")
	}
	if New(CodeDuplicateTransaction, "dup").Retryable {
		t.Fatal("duplicate transaction should not be retryable")
	}
}

func TestIsRuleViolation(t *testing.T) {
	for _, code := range []Code{CodeDuplicateTransaction, CodeProductsNotInformed, CodeProductNotFound, CodeInsufficientStock, CodeAmountTooSmall} {
		if !IsRuleViolation(code) {
			t.Fatalf("%s should be a rule violation", code)
		}
	}
	for _, code := range []Code{CodeRecordNotFound, CodeNotFound, CodeUnavailable, CodeSagaFinished, CodeUnknown} {
		if IsRuleViolation(code) {
			t.Fatalf("%s should not be a rule violation", code)
		}
	}
}
