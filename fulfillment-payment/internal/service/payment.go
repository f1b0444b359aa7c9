// Package service implements the payment participant.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fulfillment/platform/fulfillment-common/pkg/decimal"
	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-payment/internal/repository"
)

const (
	Source = "PAYMENT_SERVICE"

	msgPaid     = "Payment realized successfully!"
	msgRollback = "Rollback executed for payment!"
)

// DefaultMinAmount is the smallest order total accepted.
var DefaultMinAmount = decimal.MustNew("0.1")

var errDuplicate = apperrors.New(apperrors.CodeDuplicateTransaction, "There's another transactionId for this validation.")

// PaymentService prices the order and charges it.
type PaymentService struct {
	store     repository.Store
	minAmount decimal.Decimal
	log       *logger.Logger
	clock     saga.Clock
}

var _ saga.Participant = (*PaymentService)(nil)

func NewPaymentService(store repository.Store, minAmount decimal.Decimal, log *logger.Logger) *PaymentService {
	if log == nil {
		log = logger.Nop()
	}
	return &PaymentService{
		store:     store,
		minAmount: minAmount,
		log:       log,
		clock:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *PaymentService) WithClock(clock saga.Clock) *PaymentService {
	s.clock = clock
	return s
}

func (s *PaymentService) Source() string { return Source }

// Execute creates a PENDING payment with the order totals, copies the totals
// onto the event and moves the payment to SUCCESS when the amount is
// acceptable. A rejected amount leaves the record PENDING. A redelivery that
// finds its own PENDING record picks up from it.
func (s *PaymentService) Execute(ctx context.Context, event saga.Event) (saga.Event, error) {
	now := s.clock()

	out, err := s.pay(ctx, event, now)
	if err == nil {
		return out.Record(Source, saga.Succeeded(msgPaid), now), nil
	}
	outcome, business := saga.Resolve(err)
	if !business {
		return event, err
	}
	s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID).
		WithField("reason", outcome.Message).Warn("payment failed")
	return out.Record(Source, outcome, now), nil
}

func (s *PaymentService) pay(ctx context.Context, event saga.Event, now time.Time) (saga.Event, error) {
	amount, items := event.Payload.Totals()

	payment, err := s.store.GetPayment(ctx, event.OrderID, event.TransactionID)
	switch {
	case err == nil:
		// a PENDING record is a delivery that failed before the status change
		if payment.Status != repository.PaymentPending {
			return event, errDuplicate
		}
		s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID).
			WithField("payment_id", payment.ID).Info("resuming pending payment")
	case apperrors.CodeOf(err) == apperrors.CodeRecordNotFound:
		payment = &repository.Payment{
			OrderID:       event.OrderID,
			TransactionID: event.TransactionID,
			TotalAmount:   amount,
			TotalItems:    items,
			Status:        repository.PaymentPending,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.store.CreatePayment(ctx, payment); err != nil {
			if errors.Is(err, apperrors.ErrDuplicateTransaction) {
				return event, errDuplicate
			}
			return event, err
		}
	default:
		return event, fmt.Errorf("load payment: %w", err)
	}
	out := event.WithTotals(amount, items)

	if amount.Cmp(s.minAmount) < 0 {
		return out, apperrors.Newf(apperrors.CodeAmountTooSmall, "The minimum amount available is %s", s.minAmount)
	}
	if err := s.store.UpdateStatus(ctx, payment.ID, repository.PaymentSuccess, now); err != nil {
		return event, fmt.Errorf("confirm payment: %w", err)
	}
	return out, nil
}

// Compensate refunds the payment and re-derives the event totals from the
// stored record. A missing payment means nothing was charged.
func (s *PaymentService) Compensate(ctx context.Context, event saga.Event) (saga.Event, error) {
	now := s.clock()
	log := s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	payment, err := s.store.GetPayment(ctx, event.OrderID, event.TransactionID)
	switch {
	case apperrors.CodeOf(err) == apperrors.CodeRecordNotFound:
		log.Warn("no payment to refund")
	case err != nil:
		return event, fmt.Errorf("load payment: %w", err)
	default:
		if err := s.store.UpdateStatus(ctx, payment.ID, repository.PaymentRefund, now); err != nil {
			return event, fmt.Errorf("refund payment: %w", err)
		}
		event = event.WithTotals(payment.TotalAmount, payment.TotalItems)
	}
	return event.Record(Source, saga.RolledBack(msgRollback), now), nil
}
