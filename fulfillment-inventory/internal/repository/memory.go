package repository

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu           sync.Mutex
	stock        map[string]int
	reservations map[string][]Reservation
	nextID       int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(stock map[string]int) *MemoryStore {
	s := &MemoryStore{
		stock:        make(map[string]int, len(stock)),
		reservations: make(map[string][]Reservation),
	}
	for code, qty := range stock {
		s.stock[code] = qty
	}
	return s
}

func reservationKey(orderID, transactionID string) string {
	return orderID + "|" + transactionID
}

// Available returns the current stock of code.
func (s *MemoryStore) Available(_ context.Context, code string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	qty, ok := s.stock[code]
	if !ok {
		return 0, ErrInventoryMissing
	}
	return qty, nil
}

func (s *MemoryStore) ReservationExists(_ context.Context, orderID, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reservations[reservationKey(orderID, transactionID)]
	return ok, nil
}

func (s *MemoryStore) Reserve(_ context.Context, orderID, transactionID string, items []Item, now time.Time) ([]Reservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := reservationKey(orderID, transactionID)
	if _, ok := s.reservations[key]; ok {
		return nil, apperrors.ErrDuplicateTransaction
	}

	merged := Merge(items)
	for _, item := range merged {
		available, ok := s.stock[item.ProductCode]
		if !ok {
			return nil, ErrInventoryMissing
		}
		if available < item.Quantity {
			return nil, ErrOutOfStock
		}
	}

	reservations := make([]Reservation, 0, len(merged))
	for _, item := range merged {
		old := s.stock[item.ProductCode]
		s.nextID++
		res := Reservation{
			ID:            s.nextID,
			OrderID:       orderID,
			TransactionID: transactionID,
			ProductCode:   item.ProductCode,
			OrderQuantity: item.Quantity,
			OldQuantity:   old,
			NewQuantity:   old - item.Quantity,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.stock[item.ProductCode] = res.NewQuantity
		reservations = append(reservations, res)
	}
	s.reservations[key] = reservations
	return append([]Reservation(nil), reservations...), nil
}

func (s *MemoryStore) Release(_ context.Context, orderID, transactionID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reservations := s.reservations[reservationKey(orderID, transactionID)]
	released := 0
	for i := range reservations {
		res := &reservations[i]
		if res.Released {
			continue
		}
		s.stock[res.ProductCode] += res.OrderQuantity
		res.Released = true
		res.UpdatedAt = now
		released++
	}
	return released, nil
}
