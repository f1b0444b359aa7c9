package saga

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDispatcherFansOutToSubscribers(t *testing.T) {
	d := NewMemoryDispatcher()
	var got []Event
	d.Subscribe(TopicOrchestrator, func(_ context.Context, ev Event) {
		got = append(got, ev)
	})

	ev := NewEvent("order-1", "tx-1", nil, testEpoch)
	d.Send(context.Background(), ev, TopicOrchestrator)
	d.Send(context.Background(), ev, TopicFinishSuccess)

	require.Len(t, got, 1)
	assert.Equal(t, "tx-1", got[0].TransactionID)
	assert.Equal(t, []Topic{TopicOrchestrator, TopicFinishSuccess}, d.Sent())

	last, ok := d.Last(TopicFinishSuccess)
	require.True(t, ok)
	assert.Equal(t, "order-1", last.OrderID)

	d.Reset()
	assert.Empty(t, d.Sent())
}

func TestMemoryDispatcherSubscriberMaySend(t *testing.T) {
	d := NewMemoryDispatcher()
	d.Subscribe(TopicOrchestrator, func(ctx context.Context, ev Event) {
		d.Send(ctx, ev, TopicFinishSuccess)
	})

	d.Send(context.Background(), NewEvent("order-1", "tx-1", nil, testEpoch), TopicOrchestrator)

	assert.Equal(t, []Topic{TopicOrchestrator, TopicFinishSuccess}, d.Sent())
}
