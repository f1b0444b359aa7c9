package repository

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu       sync.Mutex
	payments map[string]*Payment
	byID     map[int64]string
	nextID   int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		payments: make(map[string]*Payment),
		byID:     make(map[int64]string),
	}
}

func paymentKey(orderID, transactionID string) string {
	return orderID + "|" + transactionID
}

func (s *MemoryStore) CreatePayment(_ context.Context, p *Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := paymentKey(p.OrderID, p.TransactionID)
	if _, ok := s.payments[key]; ok {
		return apperrors.ErrDuplicateTransaction
	}
	s.nextID++
	p.ID = s.nextID
	stored := *p
	s.payments[key] = &stored
	s.byID[p.ID] = key
	return nil
}

func (s *MemoryStore) GetPayment(_ context.Context, orderID, transactionID string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[paymentKey(orderID, transactionID)]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeRecordNotFound, "Payment not found by orderId %s and transactionId %s", orderID, transactionID)
	}
	out := *p
	return &out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, id int64, status PaymentStatus, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.byID[id]
	if !ok {
		return apperrors.Newf(apperrors.CodeRecordNotFound, "payment %d not found", id)
	}
	s.payments[key].Status = status
	s.payments[key].UpdatedAt = now
	return nil
}
