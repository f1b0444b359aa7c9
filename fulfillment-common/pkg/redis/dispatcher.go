package redis

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// DispatchObserver is told about every send attempt outcome.
type DispatchObserver interface {
	Dispatched(topic saga.Topic, err error)
}

type DispatcherOptions struct {
	// RetryAttempts is the total number of publish attempts; 1 keeps the
	// best-effort, at-most-once behaviour.
	RetryAttempts uint
	RetryDelay    time.Duration
	Observer      DispatchObserver
}

// StreamDispatcher publishes saga events to the stream named after the topic.
// Failures are logged here and never returned to the caller.
type StreamDispatcher struct {
	client *StreamClient
	log    *logger.Logger
	opts   DispatcherOptions
}

var _ saga.Dispatcher = (*StreamDispatcher)(nil)

func NewStreamDispatcher(client *StreamClient, log *logger.Logger, opts DispatcherOptions) *StreamDispatcher {
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 1
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 100 * time.Millisecond
	}
	if log == nil {
		log = logger.Nop()
	}
	return &StreamDispatcher{client: client, log: log, opts: opts}
}

func (d *StreamDispatcher) Send(ctx context.Context, event saga.Event, topic saga.Topic) {
	log := d.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	payload, err := saga.Encode(event)
	if err != nil {
		log.WithError(err).Error("encode event failed; event dropped")
		d.observe(topic, err)
		return
	}

	var msgID string
	err = retry.Do(
		func() error {
			id, pubErr := d.client.Publish(ctx, string(topic), event.TransactionID, payload)
			if pubErr != nil {
				return pubErr
			}
			msgID = id
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(d.opts.RetryAttempts),
		retry.Delay(d.opts.RetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
	d.observe(topic, err)
	if err != nil {
		log.WithError(err).Errorf("dispatch failed; event dropped", map[string]interface{}{
			"topic":    string(topic),
			"stage":    string(event.CurrentStage),
			"status":   string(event.Status),
			"attempts": d.opts.RetryAttempts,
		})
		return
	}

	log.Infof("event dispatched", map[string]interface{}{
		"topic":  string(topic),
		"stage":  string(event.CurrentStage),
		"status": string(event.Status),
		"msgId":  msgID,
	})
}

func (d *StreamDispatcher) observe(topic saga.Topic, err error) {
	if d.opts.Observer != nil {
		d.opts.Observer.Dispatched(topic, err)
	}
}
