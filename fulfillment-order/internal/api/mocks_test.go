package api_test

import (
	"context"

	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-order/internal/repository"
	"github.com/fulfillment/platform/fulfillment-order/internal/service"
)

type mockOrderService struct {
	createFn func(ctx context.Context, req service.CreateOrderRequest) (*repository.Order, error)
	getFn    func(ctx context.Context, id string) (*repository.Order, error)
	findFn   func(ctx context.Context, filter repository.EventFilter) (saga.Event, error)
	listFn   func(ctx context.Context, limit int) ([]saga.Event, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, req service.CreateOrderRequest) (*repository.Order, error) {
	return m.createFn(ctx, req)
}

func (m *mockOrderService) GetOrder(ctx context.Context, id string) (*repository.Order, error) {
	return m.getFn(ctx, id)
}

func (m *mockOrderService) FindEvent(ctx context.Context, filter repository.EventFilter) (saga.Event, error) {
	return m.findFn(ctx, filter)
}

func (m *mockOrderService) ListEvents(ctx context.Context, limit int) ([]saga.Event, error) {
	return m.listFn(ctx, limit)
}
