package participant

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

var epoch = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeParticipant struct {
	executeErr    error
	compensateErr error
	fail          bool
}

func (f *fakeParticipant) Source() string { return "PAYMENT_SERVICE" }

func (f *fakeParticipant) Execute(_ context.Context, ev saga.Event) (saga.Event, error) {
	if f.executeErr != nil {
		return ev, f.executeErr
	}
	if f.fail {
		return ev.Record(f.Source(), saga.Failed("The minimum amount available is 0.1"), epoch), nil
	}
	return ev.Record(f.Source(), saga.Succeeded("Payment realized successfully!"), epoch), nil
}

func (f *fakeParticipant) Compensate(_ context.Context, ev saga.Event) (saga.Event, error) {
	if f.compensateErr != nil {
		return ev, f.compensateErr
	}
	return ev.Record(f.Source(), saga.RolledBack("Rollback executed for payment!"), epoch), nil
}

func newEvent(stage saga.StageName) saga.Event {
	return saga.NewEvent("order-1", "tx-1", []saga.Product{{ProductID: "BOOKS", Quantity: 1, UnitValue: 5}}, epoch).WithStage(stage)
}

func counterValue(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			if labelsMatch(metric, labels) {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	for _, pair := range metric.GetLabel() {
		if want, ok := labels[pair.GetName()]; ok && want != pair.GetValue() {
			return false
		}
	}
	return true
}

func TestHandleExecuteRepliesToOrchestrator(t *testing.T) {
	dispatcher := saga.NewMemoryDispatcher()
	metrics := NewMetrics("fulfillment-payment")
	runner := NewRunner(&fakeParticipant{}, dispatcher, nil, WithMetrics(metrics))

	require.NoError(t, runner.HandleExecute(context.Background(), newEvent(saga.StagePayment)))

	assert.Equal(t, []saga.Topic{saga.TopicOrchestrator}, dispatcher.Sent())
	out, ok := dispatcher.Last(saga.TopicOrchestrator)
	require.True(t, ok)
	assert.Equal(t, saga.StatusSuccess, out.Status)
	assert.Len(t, out.History, 1)
	assert.Equal(t, 1.0, counterValue(t, metrics, "participant_execute_total", map[string]string{"status": "SUCCESS"}))
}

func TestHandleExecuteBusinessFailureIsForwarded(t *testing.T) {
	dispatcher := saga.NewMemoryDispatcher()
	runner := NewRunner(&fakeParticipant{fail: true}, dispatcher, nil)

	require.NoError(t, runner.HandleExecute(context.Background(), newEvent(saga.StagePayment)))
	out, ok := dispatcher.Last(saga.TopicOrchestrator)
	require.True(t, ok)
	assert.Equal(t, saga.StatusFail, out.Status)
}

func TestHandleExecuteFaultIsNotForwarded(t *testing.T) {
	dispatcher := saga.NewMemoryDispatcher()
	metrics := NewMetrics("fulfillment-payment")
	runner := NewRunner(&fakeParticipant{executeErr: errors.New("db down")}, dispatcher, nil, WithMetrics(metrics))

	err := runner.HandleExecute(context.Background(), newEvent(saga.StagePayment))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
	assert.Empty(t, dispatcher.Sent())
	assert.Equal(t, 1.0, counterValue(t, metrics, "participant_faults_total", map[string]string{"action": "execute"}))
}

func TestHandleCompensateFaultStillForwards(t *testing.T) {
	dispatcher := saga.NewMemoryDispatcher()
	runner := NewRunner(&fakeParticipant{compensateErr: errors.New("db down")}, dispatcher, nil,
		WithClock(func() time.Time { return epoch }), WithReplyTopic("orchestrator-test"))

	require.NoError(t, runner.HandleCompensate(context.Background(), newEvent(saga.StagePaymentRollback)))

	out, ok := dispatcher.Last("orchestrator-test")
	require.True(t, ok)
	require.Len(t, out.History, 1)
	assert.Equal(t, "Rollback failed: db down", out.History[0].Message)
	assert.Equal(t, saga.StatusRollbackPending, out.Status)
}

func TestHandlerRoutesByStream(t *testing.T) {
	dispatcher := saga.NewMemoryDispatcher()
	runner := NewRunner(&fakeParticipant{}, dispatcher, nil)
	handler := runner.Handler(saga.TopicPaymentSuccess, saga.TopicPaymentFail)

	data, err := saga.Encode(newEvent(saga.StagePayment))
	require.NoError(t, err)

	require.NoError(t, handler(context.Background(), &redis.Message{Stream: string(saga.TopicPaymentSuccess), Data: data}))
	require.NoError(t, handler(context.Background(), &redis.Message{Stream: string(saga.TopicPaymentFail), Data: data}))
	require.NoError(t, handler(context.Background(), &redis.Message{Stream: "unrelated", Data: data}))
	require.NoError(t, handler(context.Background(), &redis.Message{Stream: string(saga.TopicPaymentSuccess), Data: []byte("{")}))

	deliveries := dispatcher.Deliveries()
	require.Len(t, deliveries, 2)
	assert.Equal(t, saga.StatusSuccess, deliveries[0].Event.Status)
	assert.Equal(t, saga.StatusRollbackPending, deliveries[1].Event.Status)

	assert.Equal(t, []string{"payment-success", "payment-fail"}, Topics(saga.TopicPaymentSuccess, saga.TopicPaymentFail))
}

func TestMetricsHooks(t *testing.T) {
	metrics := NewMetrics("fulfillment-payment")
	metrics.Processed("payment-success", errors.New("x"))
	metrics.Processed("payment-success", nil)
	metrics.DeadLettered("payment-success")
	metrics.Dispatched(saga.TopicOrchestrator, nil)

	assert.Equal(t, 1.0, counterValue(t, metrics, "redis_stream_handler_errors_total", nil))
	assert.Equal(t, 1.0, counterValue(t, metrics, "redis_stream_dlq_total", nil))
	assert.Equal(t, 1.0, counterValue(t, metrics, "saga_dispatch_total", map[string]string{"result": "ok"}))

	var nilMetrics *Metrics
	nilMetrics.Dispatched(saga.TopicOrchestrator, nil)
	nilMetrics.executed("x", saga.StatusSuccess)
}
