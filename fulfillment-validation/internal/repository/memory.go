package repository

import (
	"context"
	"sync"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu          sync.Mutex
	products    map[string]bool
	validations map[string]Validation
	nextID      int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(products ...string) *MemoryStore {
	s := &MemoryStore{
		products:    make(map[string]bool, len(products)),
		validations: make(map[string]Validation),
	}
	for _, code := range products {
		s.products[code] = true
	}
	return s
}

func validationKey(orderID, transactionID string) string {
	return orderID + "|" + transactionID
}

func (s *MemoryStore) ProductExists(_ context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[code], nil
}

func (s *MemoryStore) ValidationExists(_ context.Context, orderID, transactionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.validations[validationKey(orderID, transactionID)]
	return ok, nil
}

func (s *MemoryStore) CreateValidation(_ context.Context, v *Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := validationKey(v.OrderID, v.TransactionID)
	if _, ok := s.validations[key]; ok {
		return apperrors.ErrDuplicateTransaction
	}
	s.nextID++
	v.ID = s.nextID
	s.validations[key] = *v
	return nil
}

func (s *MemoryStore) GetValidation(_ context.Context, orderID, transactionID string) (*Validation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.validations[validationKey(orderID, transactionID)]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeRecordNotFound, "validation not found for order %s", orderID)
	}
	return &v, nil
}

func (s *MemoryStore) UpdateValidation(_ context.Context, v *Validation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := validationKey(v.OrderID, v.TransactionID)
	if _, ok := s.validations[key]; !ok {
		return apperrors.Newf(apperrors.CodeRecordNotFound, "validation %d not found", v.ID)
	}
	s.validations[key] = *v
	return nil
}

// Count returns the number of stored validations.
func (s *MemoryStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.validations)
}
