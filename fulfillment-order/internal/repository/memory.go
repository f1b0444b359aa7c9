package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

type storedEvent struct {
	event      saga.Event
	recordedAt time.Time
	seq        int
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]Order
	events []storedEvent
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]Order)}
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *Order, initial saga.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[order.ID]; ok {
		return apperrors.Newf(apperrors.CodeInvalidParam, "order %s already exists", order.ID)
	}
	for _, o := range s.orders {
		if o.TransactionID == order.TransactionID {
			return apperrors.Newf(apperrors.CodeInvalidParam, "transaction %s already exists", order.TransactionID)
		}
	}
	stored := *order
	stored.Products = append([]saga.Product(nil), order.Products...)
	s.orders[order.ID] = stored
	s.appendLocked(initial, order.CreatedAt)
	return nil
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "Order not found by ID %s", id)
	}
	return &o, nil
}

func (s *MemoryStore) SaveEvent(_ context.Context, event saga.Event, recordedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, stored := range s.events {
		if stored.event.TransactionID == event.TransactionID && stored.event.CurrentStage == event.CurrentStage {
			return false, nil
		}
	}
	s.appendLocked(event, recordedAt)
	return true, nil
}

func (s *MemoryStore) appendLocked(event saga.Event, recordedAt time.Time) {
	s.events = append(s.events, storedEvent{event: event.Clone(), recordedAt: recordedAt, seq: len(s.events)})
}

// newer reports whether a was recorded after b.
func newer(a, b storedEvent) bool {
	if !a.recordedAt.Equal(b.recordedAt) {
		return a.recordedAt.After(b.recordedAt)
	}
	return a.seq > b.seq
}

func (s *MemoryStore) LatestEvent(_ context.Context, filter EventFilter) (saga.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	match := func(e saga.Event) bool { return e.OrderID == filter.OrderID }
	switch {
	case filter.OrderID != "":
	case filter.TransactionID != "":
		match = func(e saga.Event) bool { return e.TransactionID == filter.TransactionID }
	default:
		return saga.Event{}, ErrFilterRequired
	}

	var (
		latest storedEvent
		found  bool
	)
	for _, stored := range s.events {
		if match(stored.event) && (!found || newer(stored, latest)) {
			latest, found = stored, true
		}
	}
	if !found {
		return saga.Event{}, apperrors.New(apperrors.CodeNotFound, "Event not found by orderID or transactionID")
	}
	return latest.event.Clone(), nil
}

func (s *MemoryStore) ListEvents(_ context.Context, limit int) ([]saga.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sorted := append([]storedEvent(nil), s.events...)
	sort.Slice(sorted, func(i, j int) bool { return newer(sorted[i], sorted[j]) })
	events := []saga.Event{}
	for _, stored := range sorted {
		if limit > 0 && len(events) == limit {
			break
		}
		events = append(events, stored.event.Clone())
	}
	return events, nil
}

func (s *MemoryStore) UnfinishedOrders(_ context.Context, cutoff time.Time, limit int) ([]Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	finished := make(map[string]bool)
	for _, stored := range s.events {
		if stored.event.CurrentStage == saga.StageFinishSuccess || stored.event.CurrentStage == saga.StageFinishFail {
			finished[stored.event.TransactionID] = true
		}
	}
	orders := []Order{}
	for _, o := range s.orders {
		if o.CreatedAt.Before(cutoff) && !finished[o.TransactionID] {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.Before(orders[j].CreatedAt)
		}
		return orders[i].ID < orders[j].ID
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	return orders, nil
}
