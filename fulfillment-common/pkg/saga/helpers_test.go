package saga

import (
	"context"
	"time"

	"github.com/fulfillment/platform/fulfillment-common/pkg/decimal"
)

var testEpoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// stepClock returns a clock that ticks one second per call.
func stepClock() Clock {
	now := testEpoch
	return func() time.Time {
		now = now.Add(time.Second)
		return now
	}
}

type stubParticipant struct {
	source        string
	fail          bool
	fault         error
	compensateErr error
	price         bool
	minAmount     float64
	clock         Clock

	executed    int
	compensated int
}

func newStub(source string) *stubParticipant {
	return &stubParticipant{source: source, clock: func() time.Time { return testEpoch }}
}

func (s *stubParticipant) Source() string { return s.source }

func (s *stubParticipant) Execute(_ context.Context, ev Event) (Event, error) {
	s.executed++
	if s.fault != nil {
		return ev, s.fault
	}
	if s.price {
		amount, items := ev.Payload.Totals()
		ev = ev.WithTotals(amount, items)
		if amount.Cmp(decimal.FromFloat(s.minAmount)) < 0 {
			return ev.Record(s.source, Failed("The minimum amount available is 0.1"), s.clock()), nil
		}
	}
	if s.fail {
		return ev.Record(s.source, Failed(s.source+" rejected"), s.clock()), nil
	}
	return ev.Record(s.source, Succeeded(s.source+" done"), s.clock()), nil
}

func (s *stubParticipant) Compensate(_ context.Context, ev Event) (Event, error) {
	s.compensated++
	if s.compensateErr != nil {
		return ev, s.compensateErr
	}
	return ev.Record(s.source, RolledBack(s.source+" rolled back"), s.clock()), nil
}

type fixture struct {
	validation *stubParticipant
	inventory  *stubParticipant
	payment    *stubParticipant
	dispatcher *MemoryDispatcher
	store      *MemorySagaStore
	executor   *Executor
}

func newFixture() *fixture {
	f := &fixture{
		validation: newStub("PRODUCT_VALIDATION_SERVICE"),
		inventory:  newStub("INVENTORY_SERVICE"),
		payment:    newStub("PAYMENT_SERVICE"),
		dispatcher: NewMemoryDispatcher(),
		store:      NewMemorySagaStore(),
	}
	f.payment.price = true
	f.payment.minAmount = 0.1

	machine := NewStateMachine(DefaultTopology(), stepClock())
	f.executor = NewExecutor(machine, f.dispatcher, f.store).
		Bind(StageProductValidation, StageProductValidationRollback, f.validation).
		Bind(StageInventory, StageInventoryRollback, f.inventory).
		Bind(StagePayment, StagePaymentRollback, f.payment)
	return f
}

func scenarioAEvent() Event {
	return NewEvent("order-a", "tx-a", []Product{
		{ProductID: "COMIC_BOOKS", Quantity: 2, UnitValue: 10.0},
		{ProductID: "BOOKS", Quantity: 1, UnitValue: 5.0},
	}, testEpoch)
}

func scenarioBEvent() Event {
	return NewEvent("order-b", "tx-b", []Product{
		{ProductID: "STICKER", Quantity: 1, UnitValue: 0.05},
	}, testEpoch)
}
