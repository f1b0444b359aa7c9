// Package service routes saga events between the participants.
package service

import (
	"context"
	"errors"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-common/pkg/tracing"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/metrics"
)

// Orchestrator consumes start-saga, orchestrator and the finish topics. It owns
// no business state; the saga log it keeps is for operators only, so store
// failures are logged and never block routing.
type Orchestrator struct {
	machine    *saga.StateMachine
	dispatcher saga.Dispatcher
	store      saga.SagaStore
	metrics    *metrics.Metrics
	log        *logger.Logger
	clock      saga.Clock
}

func NewOrchestrator(machine *saga.StateMachine, dispatcher saga.Dispatcher, store saga.SagaStore, m *metrics.Metrics, log *logger.Logger) *Orchestrator {
	if store == nil {
		store = saga.NewMemorySagaStore()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Orchestrator{
		machine:    machine,
		dispatcher: dispatcher,
		store:      store,
		metrics:    m,
		log:        log,
		clock:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the clock used for saga log timestamps.
func (o *Orchestrator) WithClock(clock saga.Clock) *Orchestrator {
	o.clock = clock
	return o
}

// StartSaga places a new saga at the first stage and dispatches it.
func (o *Orchestrator) StartSaga(ctx context.Context, event saga.Event) error {
	log := o.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	if err := event.Validate(); err != nil {
		o.metrics.IncRejected()
		log.WithError(err).Warn("invalid saga start dropped")
		return nil
	}

	d := o.machine.Start(event)
	if err := o.store.Save(ctx, saga.NewSagaLog(d, o.clock())); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeDuplicateTransaction {
			o.metrics.IncRejected()
			log.Warn("saga already started; duplicate start ignored")
			return nil
		}
		log.WithError(err).Warn("saga log not saved")
	}

	o.metrics.IncStarted()
	log.Infof("saga started", map[string]interface{}{
		"stage": string(d.Event.CurrentStage),
		"topic": string(d.Topic),
	})
	o.dispatcher.Send(ctx, d.Event, d.Topic)
	return nil
}

// ContinueSaga routes an event returning from a participant.
func (o *Orchestrator) ContinueSaga(ctx context.Context, event saga.Event) error {
	log := o.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	d, err := o.machine.Next(event)
	if err != nil {
		if errors.Is(err, apperrors.ErrSagaFinished) {
			o.metrics.IncRejected()
			log.WithError(err).Warn("event for finished saga dropped")
			return nil
		}
		return err
	}

	o.metrics.ObserveDecision(d, event.Status)
	o.track(ctx, log, d)

	fields := map[string]interface{}{
		"from":   string(d.From),
		"status": string(event.Status),
		"stage":  string(d.Event.CurrentStage),
		"topic":  string(d.Topic),
	}
	if d.Anomaly {
		tracing.SetError(ctx, errors.New("unknown stage "+string(d.From)))
		log.Errorf("unknown stage; saga failed closed", fields)
	} else {
		log.Infof("saga routed", fields)
	}
	o.dispatcher.Send(ctx, d.Event, d.Topic)
	return nil
}

// FinishSaga closes a saga that reached a finish topic and notifies the order
// service on notify-ending.
func (o *Orchestrator) FinishSaga(ctx context.Context, event saga.Event) error {
	log := o.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	if !o.machine.Topology().IsTerminal(event.CurrentStage) {
		o.metrics.IncRejected()
		log.WithField("stage", string(event.CurrentStage)).Warn("non-terminal event on finish topic dropped")
		return nil
	}

	started := event.CreatedAt
	if sagaLog, err := o.store.Get(ctx, event.TransactionID); err == nil {
		started = sagaLog.CreatedAt
	}
	var elapsed time.Duration
	if !started.IsZero() {
		elapsed = o.clock().Sub(started)
	}
	o.metrics.ObserveFinished(event.CurrentStage, elapsed)

	fields := map[string]interface{}{
		"stage":   string(event.CurrentStage),
		"status":  string(event.Status),
		"history": len(event.History),
	}
	if event.CurrentStage == saga.StageFinishSuccess {
		log.Infof("saga finished successfully", fields)
	} else {
		log.Warnf("saga finished with errors", fields)
	}
	o.dispatcher.Send(ctx, event, saga.TopicNotifyEnding)
	return nil
}

func (o *Orchestrator) track(ctx context.Context, log *logger.Logger, d saga.Decision) {
	now := o.clock()
	sagaLog, err := o.store.Get(ctx, d.Event.TransactionID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			log.WithError(err).Warn("saga log not loaded")
			return
		}
		sagaLog = &saga.SagaLog{
			TransactionID: d.Event.TransactionID,
			OrderID:       d.Event.OrderID,
			CreatedAt:     now,
		}
		sagaLog.Apply(d, now)
		if err := o.store.Save(ctx, sagaLog); err != nil {
			log.WithError(err).Warn("saga log not saved")
		}
		return
	}

	sagaLog.Apply(d, now)
	if err := o.store.Update(ctx, sagaLog); err != nil {
		log.WithError(err).Warn("saga log not updated")
	}
}

// Handler adapts the orchestrator to the stream consumer.
func (o *Orchestrator) Handler() redis.MessageHandler {
	return func(ctx context.Context, msg *redis.Message) error {
		event, err := saga.DecodeEvent(msg.Data)
		if err != nil {
			o.log.WithError(err).WithField("stream", msg.Stream).WithField("msgId", msg.ID).Error("dropping malformed event")
			return nil
		}

		ctx, span := tracing.StartHop(ctx, msg.Stream, event.TransactionID, event.OrderID)
		defer span.End()

		switch saga.Topic(msg.Stream) {
		case saga.TopicStartSaga:
			return o.StartSaga(ctx, event)
		case saga.TopicOrchestrator:
			return o.ContinueSaga(ctx, event)
		case saga.TopicFinishSuccess, saga.TopicFinishFail:
			return o.FinishSaga(ctx, event)
		default:
			o.log.WithField("stream", msg.Stream).Warn("message on unexpected stream ignored")
			return nil
		}
	}
}

// Topics lists the streams the orchestrator consumes.
func Topics() []string {
	return []string{
		string(saga.TopicStartSaga),
		string(saga.TopicOrchestrator),
		string(saga.TopicFinishSuccess),
		string(saga.TopicFinishFail),
	}
}
