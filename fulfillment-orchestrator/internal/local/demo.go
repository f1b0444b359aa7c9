package local

import (
	"context"
	"time"

	"github.com/fulfillment/platform/fulfillment-common/pkg/decimal"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// MinAmount is the payment threshold used by the simulated payment participant.
var MinAmount = decimal.MustNew("0.1")

var catalog = []string{"COMIC_BOOKS", "BOOKS", "MOVIES", "MUSIC", "STICKER"}

var stock = map[string]int{
	"COMIC_BOOKS": 10,
	"BOOKS":       10,
	"MOVIES":      10,
	"MUSIC":       10,
	"STICKER":     100,
}

type Scenario struct {
	Name  string
	Event saga.Event
}

type Result struct {
	Scenario string
	Event    saga.Event
	Topics   []saga.Topic
	Err      error
}

// Demo drives sagas through an Executor bound to the simulated participants.
type Demo struct {
	Validation *Participant
	Inventory  *Participant
	Payment    *Participant

	executor   *saga.Executor
	dispatcher *saga.MemoryDispatcher
}

func NewDemo(clock saga.Clock) *Demo {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	d := &Demo{
		Validation: NewValidation(catalog, clock),
		Inventory:  NewInventory(stock, clock),
		Payment:    NewPayment(MinAmount, clock),
		dispatcher: saga.NewMemoryDispatcher(),
	}
	machine := saga.NewStateMachine(saga.DefaultTopology(), clock)
	d.executor = saga.NewExecutor(machine, d.dispatcher, nil).
		Bind(saga.StageProductValidation, saga.StageProductValidationRollback, d.Validation).
		Bind(saga.StageInventory, saga.StageInventoryRollback, d.Inventory).
		Bind(saga.StagePayment, saga.StagePaymentRollback, d.Payment)
	return d
}

// Scenarios returns the reference runs: A succeeds, B fails payment and
// compensates, C replays A's transaction and is rejected as a duplicate.
func Scenarios(now time.Time) []Scenario {
	a := saga.NewEvent("order-a", "tx-a", []saga.Product{
		{ProductID: "COMIC_BOOKS", Quantity: 2, UnitValue: 10.0},
		{ProductID: "BOOKS", Quantity: 1, UnitValue: 5.0},
	}, now)
	b := saga.NewEvent("order-b", "tx-b", []saga.Product{
		{ProductID: "STICKER", Quantity: 1, UnitValue: 0.05},
	}, now)
	return []Scenario{
		{Name: "A: all stages succeed", Event: a},
		{Name: "B: payment below minimum", Event: b},
		{Name: "C: duplicate transaction", Event: a.Clone()},
	}
}

// Run executes the scenarios in order against the same participants.
func (d *Demo) Run(ctx context.Context, scenarios []Scenario) []Result {
	results := make([]Result, 0, len(scenarios))
	for _, sc := range scenarios {
		d.dispatcher.Reset()
		out, err := d.executor.Run(ctx, sc.Event)
		results = append(results, Result{
			Scenario: sc.Name,
			Event:    out,
			Topics:   d.dispatcher.Sent(),
			Err:      err,
		})
	}
	return results
}
