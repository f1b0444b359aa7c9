package saga

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

func TestResolve(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		business bool
	}{
		{"nil", nil, false},
		{"plain fault", errors.New("connection reset"), false},
		{"rule violation", apperrors.New(apperrors.CodeInsufficientStock, "Product is out of stock!"), true},
		{"wrapped rule violation", fmt.Errorf("reserve: %w", apperrors.ErrDuplicateTransaction), true},
		{"lost row", apperrors.Newf(apperrors.CodeRecordNotFound, "payment %d not found", 7), false},
		{"wrapped lost row", fmt.Errorf("confirm payment: %w", apperrors.New(apperrors.CodeRecordNotFound, "gone")), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, ok := Resolve(tt.err)
			assert.Equal(t, tt.business, ok)
			if ok {
				assert.Equal(t, StatusFail, outcome.Status)
			}
		})
	}
}
