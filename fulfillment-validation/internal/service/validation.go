// Package service implements the product validation participant.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-validation/internal/repository"
)

const (
	Source = "PRODUCT_VALIDATION_SERVICE"

	msgValidated = "Products are validated successfully!"
	msgRollback  = "Rollback executed on product validation!"
)

var (
	errDuplicate           = apperrors.New(apperrors.CodeDuplicateTransaction, "There's another transactionId for this validation.")
	errProductsNotInformed = apperrors.New(apperrors.CodeProductsNotInformed, "Product list is empty!")
	errProductNotInformed  = apperrors.New(apperrors.CodeProductsNotInformed, "Product must be informed!")
	errProductNotFound     = apperrors.New(apperrors.CodeProductNotFound, "Product does not exist in database!")
)

// ValidationService checks that every ordered product exists in the catalog.
type ValidationService struct {
	store repository.Store
	log   *logger.Logger
	clock saga.Clock
}

var _ saga.Participant = (*ValidationService)(nil)

func NewValidationService(store repository.Store, log *logger.Logger) *ValidationService {
	if log == nil {
		log = logger.Nop()
	}
	return &ValidationService{
		store: store,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for records and history entries.
func (s *ValidationService) WithClock(clock saga.Clock) *ValidationService {
	s.clock = clock
	return s
}

func (s *ValidationService) Source() string { return Source }

// Execute validates the order. A business failure is recorded with
// success=false so a replay of the same transaction is rejected; a duplicate
// leaves the existing record untouched.
func (s *ValidationService) Execute(ctx context.Context, event saga.Event) (saga.Event, error) {
	now := s.clock()

	err := s.validate(ctx, event)
	if err == nil {
		err = s.record(ctx, event, true, now)
	}
	if err == nil {
		return event.Record(Source, saga.Succeeded(msgValidated), now), nil
	}

	outcome, business := saga.Resolve(err)
	if !business {
		return event, err
	}
	if !errors.Is(err, apperrors.ErrDuplicateTransaction) {
		if recErr := s.record(ctx, event, false, now); recErr != nil && !errors.Is(recErr, apperrors.ErrDuplicateTransaction) {
			return event, recErr
		}
	}
	s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID).
		WithField("reason", outcome.Message).Warn("product validation failed")
	return event.Record(Source, outcome, now), nil
}

func (s *ValidationService) validate(ctx context.Context, event saga.Event) error {
	exists, err := s.store.ValidationExists(ctx, event.OrderID, event.TransactionID)
	if err != nil {
		return err
	}
	if exists {
		return errDuplicate
	}

	if len(event.Payload.Products) == 0 {
		return errProductsNotInformed
	}
	for _, product := range event.Payload.Products {
		if product.ProductID == "" {
			return errProductNotInformed
		}
		found, err := s.store.ProductExists(ctx, product.ProductID)
		if err != nil {
			return err
		}
		if !found {
			return errProductNotFound
		}
	}
	return nil
}

func (s *ValidationService) record(ctx context.Context, event saga.Event, success bool, now time.Time) error {
	err := s.store.CreateValidation(ctx, &repository.Validation{
		OrderID:       event.OrderID,
		TransactionID: event.TransactionID,
		Success:       success,
		CreatedAt:     now,
		UpdatedAt:     now,
	})
	if errors.Is(err, apperrors.ErrDuplicateTransaction) {
		// lost a race with a concurrent delivery of the same transaction
		return errDuplicate
	}
	return err
}

// Compensate marks the validation as unsuccessful. A missing record means the
// forward action never committed, so there is nothing to undo.
func (s *ValidationService) Compensate(ctx context.Context, event saga.Event) (saga.Event, error) {
	now := s.clock()
	log := s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	v, err := s.store.GetValidation(ctx, event.OrderID, event.TransactionID)
	switch {
	case apperrors.CodeOf(err) == apperrors.CodeRecordNotFound:
		log.Warn("no validation to roll back")
	case err != nil:
		return event, fmt.Errorf("load validation: %w", err)
	default:
		v.Success = false
		v.UpdatedAt = now
		if err := s.store.UpdateValidation(ctx, v); err != nil {
			return event, fmt.Errorf("roll back validation: %w", err)
		}
	}
	return event.Record(Source, saga.RolledBack(msgRollback), now), nil
}
