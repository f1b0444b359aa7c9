package participant

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

func TestServeRepliesAndStopsOnCancel(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	streams := redis.NewStreamClient(rdb, 0)
	metrics := NewMetrics("fulfillment-payment")

	data, err := saga.Encode(newEvent(saga.StagePayment))
	require.NoError(t, err)
	_, err = streams.Publish(context.Background(), string(saga.TopicPaymentSuccess), "tx-1", data)
	require.NoError(t, err)

	dispatcher := redis.NewStreamDispatcher(streams, nil, redis.DispatcherOptions{Observer: metrics})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- Serve(ctx, Deployment{
			HTTPPort:        0,
			Streams:         streams,
			Runner:          NewRunner(&fakeParticipant{}, dispatcher, nil, WithMetrics(metrics)),
			ExecuteTopic:    saga.TopicPaymentSuccess,
			CompensateTopic: saga.TopicPaymentFail,
			Consumer: redis.ConsumerOptions{
				Group:     "fulfillment-payment",
				Consumer:  "payment-1",
				BlockTime: 10 * time.Millisecond,
			},
			Metrics: metrics,
		})
	}()

	deadline := time.Now().Add(2 * time.Second)
	var replies int64
	for time.Now().Before(deadline) {
		replies, err = streams.Len(context.Background(), string(saga.TopicOrchestrator))
		if err == nil && replies > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, int64(1), replies)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
	assert.Equal(t, 1.0, counterValue(t, metrics, "saga_dispatch_total", map[string]string{"topic": "orchestrator"}))
}
