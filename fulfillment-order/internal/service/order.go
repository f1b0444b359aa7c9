// Package service accepts orders, starts their sagas and records how they end.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-common/pkg/tracing"
	"github.com/fulfillment/platform/fulfillment-order/internal/metrics"
	"github.com/fulfillment/platform/fulfillment-order/internal/repository"
)

// CreateOrderRequest is the body of POST /api/orders.
type CreateOrderRequest struct {
	Products []saga.Product `json:"products"`
}

func (r CreateOrderRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Products, validation.Required, validation.Length(1, 100)),
	)
}

// EndingNotifier receives every newly stored terminal event.
type EndingNotifier interface {
	Notify(event saga.Event)
}

// OrderService is the saga entry point.
type OrderService struct {
	store      repository.Store
	dispatcher saga.Dispatcher
	ids        *snowflake.Node
	metrics    *metrics.Metrics
	notifier   EndingNotifier
	log        *logger.Logger
	clock      saga.Clock
	newUUID    func() string
}

func NewOrderService(store repository.Store, dispatcher saga.Dispatcher, ids *snowflake.Node, m *metrics.Metrics, log *logger.Logger) *OrderService {
	if log == nil {
		log = logger.Nop()
	}
	return &OrderService{
		store:      store,
		dispatcher: dispatcher,
		ids:        ids,
		metrics:    m,
		log:        log,
		clock:      func() time.Time { return time.Now().UTC() },
		newUUID:    uuid.NewString,
	}
}

func (s *OrderService) WithClock(clock saga.Clock) *OrderService {
	s.clock = clock
	return s
}

func (s *OrderService) WithNotifier(n EndingNotifier) *OrderService {
	s.notifier = n
	return s
}

// TransactionID builds "<unixMilli>_<uuid>".
func TransactionID(now time.Time, id string) string {
	return fmt.Sprintf("%d_%s", now.UnixMilli(), id)
}

// CreateOrder stores the order with its initial event and publishes the event
// to start-saga.
func (s *OrderService) CreateOrder(ctx context.Context, req CreateOrderRequest) (*repository.Order, error) {
	if err := req.Validate(); err != nil {
		return nil, apperrors.New(apperrors.CodeInvalidParam, err.Error())
	}

	now := s.clock()
	order := &repository.Order{
		ID:            s.ids.Generate().String(),
		TransactionID: TransactionID(now, s.newUUID()),
		Products:      append([]saga.Product(nil), req.Products...),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	event := saga.NewEvent(order.ID, order.TransactionID, order.Products, now)

	if err := s.store.CreateOrder(ctx, order, event); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}
	s.metrics.IncCreated()

	s.log.WithContext(ctx).WithSaga(order.TransactionID, order.ID).Infof("order created", map[string]interface{}{
		"products": len(order.Products),
	})
	s.dispatcher.Send(ctx, event, saga.TopicStartSaga)
	return order, nil
}

func (s *OrderService) GetOrder(ctx context.Context, id string) (*repository.Order, error) {
	return s.store.GetOrder(ctx, id)
}

// FindEvent returns the latest event of an order or transaction.
func (s *OrderService) FindEvent(ctx context.Context, filter repository.EventFilter) (saga.Event, error) {
	return s.store.LatestEvent(ctx, filter)
}

func (s *OrderService) ListEvents(ctx context.Context, limit int) ([]saga.Event, error) {
	return s.store.ListEvents(ctx, limit)
}

// SweepUnfinished reports orders older than age that never received a
// terminal event. It only observes; it does not retry or cancel sagas.
func (s *OrderService) SweepUnfinished(ctx context.Context, age time.Duration, limit int) ([]repository.Order, error) {
	stuck, err := s.store.UnfinishedOrders(ctx, s.clock().Add(-age), limit)
	if err != nil {
		return nil, fmt.Errorf("sweep unfinished: %w", err)
	}
	s.metrics.SetUnfinished(len(stuck))
	for _, o := range stuck {
		s.log.WithContext(ctx).WithSaga(o.TransactionID, o.ID).
			WithField("createdAt", o.CreatedAt).
			Warn("order has no terminal event")
	}
	return stuck, nil
}

// HandleEnding stores the terminal event of a saga. A store failure is
// returned so the message is redelivered.
func (s *OrderService) HandleEnding(ctx context.Context, event saga.Event) error {
	log := s.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	inserted, err := s.store.SaveEvent(ctx, event, s.clock())
	if err != nil {
		tracing.SetError(ctx, err)
		return fmt.Errorf("save ending event: %w", err)
	}
	if !inserted {
		log.WithField("stage", string(event.CurrentStage)).Info("duplicate ending ignored")
		return nil
	}

	s.metrics.IncFinished(event.CurrentStage)
	if s.notifier != nil {
		s.notifier.Notify(event)
	}
	log.Infof("saga ended", map[string]interface{}{
		"stage":   string(event.CurrentStage),
		"status":  string(event.Status),
		"history": len(event.History),
	})
	return nil
}

// Handler consumes notify-ending.
func (s *OrderService) Handler() redis.MessageHandler {
	return func(ctx context.Context, msg *redis.Message) error {
		event, err := saga.DecodeEvent(msg.Data)
		if err != nil {
			s.log.WithError(err).WithField("stream", msg.Stream).WithField("msgId", msg.ID).Error("dropping malformed event")
			return nil
		}

		ctx, span := tracing.StartHop(ctx, msg.Stream, event.TransactionID, event.OrderID)
		defer span.End()

		if saga.Topic(msg.Stream) != saga.TopicNotifyEnding {
			s.log.WithField("stream", msg.Stream).Warn("message on unexpected stream ignored")
			return nil
		}
		return s.HandleEnding(ctx, event)
	}
}

// Topics lists the streams consumed by Handler.
func Topics() []string {
	return []string{string(saga.TopicNotifyEnding)}
}
