package integration

import (
	"context"
	"time"

	"github.com/alicebob/miniredis/v2"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	goredis "github.com/redis/go-redis/v9"

	"github.com/fulfillment/platform/fulfillment-common/pkg/participant"
	"github.com/fulfillment/platform/fulfillment-common/pkg/redis"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/local"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/metrics"
	"github.com/fulfillment/platform/fulfillment-orchestrator/internal/service"
)

var epoch = time.Date(2026, 6, 1, 8, 30, 0, 0, time.UTC)

func clock() time.Time { return epoch }

type binding struct {
	participant saga.Participant
	execute     saga.Topic
	compensate  saga.Topic
}

func bindings() []binding {
	return []binding{
		{local.NewValidation([]string{"COMIC_BOOKS", "BOOKS", "STICKER"}, clock), saga.TopicProductValidationSuccess, saga.TopicProductValidationFail},
		{local.NewInventory(map[string]int{"COMIC_BOOKS": 5, "BOOKS": 5, "STICKER": 5}, clock), saga.TopicInventorySuccess, saga.TopicInventoryFail},
		{local.NewPayment(local.MinAmount, clock), saga.TopicPaymentSuccess, saga.TopicPaymentFail},
	}
}

func orderA() saga.Event {
	return saga.NewEvent("order-a", "tx-a", []saga.Product{
		{ProductID: "COMIC_BOOKS", Quantity: 2, UnitValue: 10},
		{ProductID: "BOOKS", Quantity: 1, UnitValue: 5},
	}, epoch)
}

func orderB() saga.Event {
	return saga.NewEvent("order-b", "tx-b", []saga.Product{{ProductID: "STICKER", Quantity: 1, UnitValue: 0.05}}, epoch)
}

func sources(ev saga.Event) []string {
	out := make([]string, len(ev.History))
	for i, h := range ev.History {
		out[i] = h.Source + "/" + string(h.Status)
	}
	return out
}

var _ = Describe("Orchestrated fulfillment saga", func() {
	Context("over the in-memory dispatcher", func() {
		var (
			ctx        context.Context
			dispatcher *saga.MemoryDispatcher
			store      *saga.MemorySagaStore
			ended      []saga.Event
		)

		BeforeEach(func() {
			ctx = context.Background()
			dispatcher = saga.NewMemoryDispatcher()
			store = saga.NewMemorySagaStore()
			ended = nil

			machine := saga.NewStateMachine(saga.DefaultTopology(), clock)
			orch := service.NewOrchestrator(machine, dispatcher, store, metrics.New("test"), nil).WithClock(clock)

			dispatcher.Subscribe(saga.TopicStartSaga, func(ctx context.Context, ev saga.Event) { _ = orch.StartSaga(ctx, ev) })
			dispatcher.Subscribe(saga.TopicOrchestrator, func(ctx context.Context, ev saga.Event) { _ = orch.ContinueSaga(ctx, ev) })
			dispatcher.Subscribe(saga.TopicFinishSuccess, func(ctx context.Context, ev saga.Event) { _ = orch.FinishSaga(ctx, ev) })
			dispatcher.Subscribe(saga.TopicFinishFail, func(ctx context.Context, ev saga.Event) { _ = orch.FinishSaga(ctx, ev) })
			dispatcher.Subscribe(saga.TopicNotifyEnding, func(_ context.Context, ev saga.Event) { ended = append(ended, ev) })

			for _, b := range bindings() {
				runner := participant.NewRunner(b.participant, dispatcher, nil, participant.WithClock(clock))
				dispatcher.Subscribe(b.execute, func(ctx context.Context, ev saga.Event) { _ = runner.HandleExecute(ctx, ev) })
				dispatcher.Subscribe(b.compensate, func(ctx context.Context, ev saga.Event) { _ = runner.HandleCompensate(ctx, ev) })
			}
		})

		It("completes an order when every stage succeeds", func() {
			dispatcher.Send(ctx, orderA(), saga.TopicStartSaga)

			Expect(ended).To(HaveLen(1))
			final := ended[0]
			Expect(final.CurrentStage).To(Equal(saga.StageFinishSuccess))
			Expect(final.History).To(HaveLen(4))
			Expect(final.Payload.TotalAmount).To(Equal(25.0))
			Expect(final.Payload.TotalItems).To(Equal(3))

			sagaLog, err := store.Get(ctx, "tx-a")
			Expect(err).NotTo(HaveOccurred())
			Expect(sagaLog.State).To(Equal(saga.SagaCompleted))
		})

		It("compensates backward when payment rejects the amount", func() {
			dispatcher.Send(ctx, orderB(), saga.TopicStartSaga)

			Expect(ended).To(HaveLen(1))
			Expect(ended[0].CurrentStage).To(Equal(saga.StageFinishFail))
			Expect(sources(ended[0])).To(Equal([]string{
				"PRODUCT_VALIDATION_SERVICE/SUCCESS",
				"INVENTORY_SERVICE/SUCCESS",
				"PAYMENT_SERVICE/FAIL",
				"INVENTORY_SERVICE/ROLLBACK_PENDING",
				"PRODUCT_VALIDATION_SERVICE/ROLLBACK_PENDING",
				"ORCHESTRATOR/FAIL",
			}))
			Expect(dispatcher.Sent()).NotTo(ContainElement(saga.TopicPaymentFail))
		})

		It("rejects a replayed transaction at validation", func() {
			dispatcher.Send(ctx, orderA(), saga.TopicStartSaga)
			dispatcher.Send(ctx, orderA(), saga.TopicStartSaga)

			Expect(ended).To(HaveLen(2))
			replay := ended[1]
			Expect(replay.CurrentStage).To(Equal(saga.StageFinishFail))
			Expect(replay.History[0].Message).To(Equal("There's another transactionId for this validation."))
		})

		It("keeps history append-only across hops", func() {
			dispatcher.Send(ctx, orderB(), saga.TopicStartSaga)

			previous := []saga.History{}
			for _, d := range dispatcher.Deliveries() {
				if d.Event.TransactionID != "tx-b" {
					continue
				}
				Expect(len(d.Event.History)).To(BeNumerically(">=", len(previous)))
				Expect(d.Event.History[:len(previous)]).To(Equal(previous))
				previous = d.Event.History
			}
		})
	})

	Context("over Redis Streams", func() {
		var (
			ctx       context.Context
			client    *redis.StreamClient
			consumers []*redis.Consumer
		)

		options := func(group string) redis.ConsumerOptions {
			return redis.ConsumerOptions{
				Group:        group,
				Consumer:     group + "-1",
				BatchSize:    10,
				BlockTime:    -1,
				MaxRetries:   3,
				ClaimMinIdle: time.Minute,
			}
		}

		BeforeEach(func() {
			ctx = context.Background()
			mr := miniredis.RunT(GinkgoT())
			rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
			DeferCleanup(rdb.Close)
			client = redis.NewStreamClient(rdb, 0)
			dispatcher := redis.NewStreamDispatcher(client, nil, redis.DispatcherOptions{})

			machine := saga.NewStateMachine(saga.DefaultTopology(), clock)
			orch := service.NewOrchestrator(machine, dispatcher, nil, nil, nil).WithClock(clock)
			consumers = []*redis.Consumer{
				redis.NewConsumer(client, service.Topics(), orch.Handler(), options("fulfillment-orchestrator"), nil),
			}
			for i, b := range bindings() {
				runner := participant.NewRunner(b.participant, dispatcher, nil, participant.WithClock(clock))
				group := []string{"fulfillment-validation", "fulfillment-inventory", "fulfillment-payment"}[i]
				consumers = append(consumers, redis.NewConsumer(client, participant.Topics(b.execute, b.compensate),
					runner.Handler(b.execute, b.compensate), options(group), nil))
			}
			for _, c := range consumers {
				Expect(c.EnsureGroups(ctx)).To(Succeed())
			}
		})

		drain := func() {
			for round := 0; round < 50; round++ {
				handled := 0
				for _, c := range consumers {
					n, err := c.Poll(ctx)
					Expect(err).NotTo(HaveOccurred())
					handled += n
				}
				if handled == 0 {
					return
				}
			}
			Fail("saga did not settle")
		}

		ending := func() []saga.Event {
			entries, err := client.Redis().XRange(ctx, string(saga.TopicNotifyEnding), "-", "+").Result()
			Expect(err).NotTo(HaveOccurred())
			out := make([]saga.Event, 0, len(entries))
			for _, entry := range entries {
				ev, err := saga.DecodeEvent([]byte(entry.Values["data"].(string)))
				Expect(err).NotTo(HaveOccurred())
				out = append(out, ev)
			}
			return out
		}

		It("carries scenario A and B to their terminal stages", func() {
			data, err := saga.Encode(orderA())
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Publish(ctx, string(saga.TopicStartSaga), "tx-a", data)
			Expect(err).NotTo(HaveOccurred())

			data, err = saga.Encode(orderB())
			Expect(err).NotTo(HaveOccurred())
			_, err = client.Publish(ctx, string(saga.TopicStartSaga), "tx-b", data)
			Expect(err).NotTo(HaveOccurred())

			drain()

			final := map[string]saga.Event{}
			for _, ev := range ending() {
				final[ev.TransactionID] = ev
			}
			Expect(final).To(HaveLen(2))
			Expect(final["tx-a"].CurrentStage).To(Equal(saga.StageFinishSuccess))
			Expect(final["tx-a"].History).To(HaveLen(4))
			Expect(final["tx-b"].CurrentStage).To(Equal(saga.StageFinishFail))
			Expect(final["tx-b"].History).To(HaveLen(6))
		})
	})
})
