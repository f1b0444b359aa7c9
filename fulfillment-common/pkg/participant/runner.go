// Package participant runs a saga participant behind the stream transport.
package participant

import (
	"context"
	"fmt"
	"time"

	"github.com/fulfillment/platform/fulfillment-common/pkg/logger"
	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-common/pkg/tracing"
)

// Runner executes or compensates one hop and replies to the orchestrator.
type Runner struct {
	participant saga.Participant
	dispatcher  saga.Dispatcher
	reply       saga.Topic
	log         *logger.Logger
	metrics     *Metrics
	clock       saga.Clock
}

type Option func(*Runner)

func WithReplyTopic(topic saga.Topic) Option {
	return func(r *Runner) { r.reply = topic }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithClock(clock saga.Clock) Option {
	return func(r *Runner) { r.clock = clock }
}

func NewRunner(p saga.Participant, dispatcher saga.Dispatcher, log *logger.Logger, opts ...Option) *Runner {
	r := &Runner{
		participant: p,
		dispatcher:  dispatcher,
		reply:       saga.TopicOrchestrator,
		log:         log,
		clock:       func() time.Time { return time.Now().UTC() },
	}
	if r.log == nil {
		r.log = logger.Nop()
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// HandleExecute runs the forward action. An unexpected fault is returned so the
// message stays pending; a business failure is already encoded on the event.
func (r *Runner) HandleExecute(ctx context.Context, event saga.Event) error {
	log := r.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	out, err := r.participant.Execute(ctx, event)
	if err != nil {
		r.metrics.fault(r.participant.Source(), "execute")
		tracing.SetError(ctx, err)
		log.WithError(err).Errorf("execute fault; leaving message for redelivery", map[string]interface{}{
			"stage": string(event.CurrentStage),
		})
		return fmt.Errorf("%s execute: %w", r.participant.Source(), err)
	}

	r.metrics.executed(r.participant.Source(), out.Status)
	r.reportHop(log, "executed", out)
	r.dispatcher.Send(ctx, out, r.reply)
	return nil
}

// HandleCompensate runs the rollback. Faults become a history entry and the
// event is forwarded anyway.
func (r *Runner) HandleCompensate(ctx context.Context, event saga.Event) error {
	log := r.log.WithContext(ctx).WithSaga(event.TransactionID, event.OrderID)

	out, err := r.participant.Compensate(ctx, event)
	if err != nil {
		r.metrics.fault(r.participant.Source(), "compensate")
		tracing.SetError(ctx, err)
		log.WithError(err).Error("compensation fault; forwarding saga")
		out = saga.CompensationFault(event, r.participant.Source(), err, r.clock())
	}

	r.metrics.compensated(r.participant.Source(), err == nil)
	r.reportHop(log, "compensated", out)
	r.dispatcher.Send(ctx, out, r.reply)
	return nil
}

func (r *Runner) reportHop(log *logger.Logger, action string, out saga.Event) {
	fields := map[string]interface{}{
		"stage":  string(out.CurrentStage),
		"status": string(out.Status),
	}
	if last, ok := out.LastHistory(); ok {
		fields["message"] = last.Message
	}
	log.Infof(r.participant.Source()+" "+action, fields)
}

// Handler routes stream messages: executeTopic to HandleExecute and
// compensateTopic to HandleCompensate.
func (r *Runner) Handler(executeTopic, compensateTopic saga.Topic) redis.MessageHandler {
	return func(ctx context.Context, msg *redis.Message) error {
		event, err := saga.DecodeEvent(msg.Data)
		if err != nil {
			// undecodable payloads can never succeed; ack and drop
			r.log.WithError(err).WithField("stream", msg.Stream).WithField("msgId", msg.ID).Error("dropping malformed event")
			return nil
		}

		ctx, span := tracing.StartHop(ctx, msg.Stream, event.TransactionID, event.OrderID)
		defer span.End()

		switch saga.Topic(msg.Stream) {
		case executeTopic:
			return r.HandleExecute(ctx, event)
		case compensateTopic:
			return r.HandleCompensate(ctx, event)
		default:
			r.log.WithField("stream", msg.Stream).Warn("message on unexpected stream ignored")
			return nil
		}
	}
}

// Topics lists the streams a runner bound by Handler consumes.
func Topics(executeTopic, compensateTopic saga.Topic) []string {
	return []string{string(executeTopic), string(compensateTopic)}
}
