// Package service implements the inventory participant.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-inventory/internal/repository"
)

const (
	Source = "INVENTORY_SERVICE"

	msgReserved = "Inventory updated successfully!"
	msgRollback = "Rollback executed for inventory!"
)

var errDuplicate = apperrors.New(apperrors.CodeDuplicateTransaction, "There's another transactionId for this validation.")

// InventoryService reserves stock for every product of an order.
type InventoryService struct {
	store repository.Store
	log   *logger.Logger
	clock saga.Clock
}

var _ saga.Participant = (*InventoryService)(nil)

func NewInventoryService(store repository.Store, log *logger.Logger) *InventoryService {
	if log == nil {
		log = logger.Nop()
	}
	return &InventoryService{
		store: store,
		log:   log,
		clock: func() time.Time { return time.Now().UTC() },
	}
}

func (s *InventoryService) WithClock(clock saga.Clock) *InventoryService {
	s.clock = clock
	return s
}

func (s *InventoryService) Source() string { return Source }

// Execute reserves every product or none.
func (s *InventoryService) Execute(ctx context.Context, event saga.Event) (saga.Event, error) {
	now := s.clock()
	log := s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	err := s.reserve(ctx, event, now)
	if err == nil {
		return event.Record(Source, saga.Succeeded(msgReserved), now), nil
	}
	outcome, business := saga.Resolve(err)
	if !business {
		return event, err
	}
	log.WithField("reason", outcome.Message).Warn("inventory reservation failed")
	return event.Record(Source, outcome, now), nil
}

func (s *InventoryService) reserve(ctx context.Context, event saga.Event, now time.Time) error {
	exists, err := s.store.ReservationExists(ctx, event.OrderID, event.TransactionID)
	if err != nil {
		return err
	}
	if exists {
		return errDuplicate
	}

	items := make([]repository.Item, 0, len(event.Payload.Products))
	for _, product := range event.Payload.Products {
		items = append(items, repository.Item{ProductCode: product.ProductID, Quantity: product.Quantity})
	}
	reservations, err := s.store.Reserve(ctx, event.OrderID, event.TransactionID, items, now)
	if errors.Is(err, apperrors.ErrDuplicateTransaction) {
		return errDuplicate
	}
	if err != nil {
		return err
	}

	log := s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)
	for _, res := range reservations {
		log.WithField("product", res.ProductCode).
			WithField("oldQuantity", res.OldQuantity).
			WithField("newQuantity", res.NewQuantity).
			Debug("stock reserved")
	}
	return nil
}

// Compensate returns reserved stock. A missing reservation means the forward
// action never committed.
func (s *InventoryService) Compensate(ctx context.Context, event saga.Event) (saga.Event, error) {
	now := s.clock()
	released, err := s.store.Release(ctx, event.OrderID, event.TransactionID, now)
	if err != nil {
		return event, fmt.Errorf("release stock: %w", err)
	}
	if released == 0 {
		s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID).Warn("no reservation to roll back")
	}
	return event.Record(Source, saga.RolledBack(msgRollback), now), nil
}
