package saga

import (
	"encoding/json"
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/fulfillment/platform/fulfillment-common/pkg/decimal"
)

// Status is the outcome recorded on an event by the last writer.
type Status string

const (
	StatusPending         Status = "PENDING"
	StatusSuccess         Status = "SUCCESS"
	StatusFail            Status = "FAIL"
	StatusRollbackPending Status = "ROLLBACK_PENDING"
)

type Product struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitValue float64 `json:"unitValue"`
}

func (p Product) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.ProductID, validation.Required),
		validation.Field(&p.Quantity, validation.Required, validation.Min(1)),
		validation.Field(&p.UnitValue, validation.Min(0.0)),
	)
}

// Payload is the order content. TotalAmount and TotalItems are written once by
// the pricing stage and only copied afterwards.
type Payload struct {
	Products    []Product `json:"products"`
	TotalAmount float64   `json:"totalAmount"`
	TotalItems  int       `json:"totalItems"`
}

// Totals sums quantity*unitValue and quantities with exact decimal arithmetic.
func (p Payload) Totals() (decimal.Decimal, int) {
	amount := decimal.Zero
	items := 0
	for _, product := range p.Products {
		line := decimal.FromFloat(product.UnitValue).Mul(decimal.FromInt(int64(product.Quantity)))
		amount = amount.Add(line)
		items += product.Quantity
	}
	return amount, items
}

// Priced reports whether totals have already been written.
func (p Payload) Priced() bool {
	return p.TotalItems > 0 || p.TotalAmount != 0
}

type History struct {
	Source    string    `json:"source"`
	Status    Status    `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"timestamp"`
}

// Event is one saga instance in flight. It is treated as a value: every method
// that changes it returns a new Event and leaves the receiver untouched.
type Event struct {
	ID            string    `json:"id,omitempty"`
	TransactionID string    `json:"transactionId"`
	OrderID       string    `json:"orderId"`
	Payload       Payload   `json:"payload"`
	Source        string    `json:"source"`
	Status        Status    `json:"status"`
	CurrentStage  StageName `json:"currentStage"`
	History       []History `json:"history"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewEvent starts a saga instance with empty history.
func NewEvent(orderID, transactionID string, products []Product, now time.Time) Event {
	return Event{
		ID:            transactionID,
		TransactionID: transactionID,
		OrderID:       orderID,
		Payload:       Payload{Products: append([]Product(nil), products...)},
		Status:        StatusPending,
		History:       []History{},
		CreatedAt:     now,
	}
}

// Clone returns a deep copy.
func (e Event) Clone() Event {
	out := e
	out.Payload.Products = append([]Product(nil), e.Payload.Products...)
	out.History = make([]History, len(e.History), len(e.History)+1)
	copy(out.History, e.History)
	return out
}

// Record writes the outcome of one hop: status, source and exactly one history entry.
func (e Event) Record(source string, outcome Outcome, at time.Time) Event {
	out := e.Clone()
	out.Source = source
	out.Status = outcome.Status
	out.History = append(out.History, History{
		Source:    source,
		Status:    outcome.Status,
		Message:   outcome.Message,
		CreatedAt: at,
	})
	return out
}

func (e Event) WithStage(stage StageName) Event {
	out := e.Clone()
	out.CurrentStage = stage
	return out
}

// WithTotals copies totals onto the payload.
func (e Event) WithTotals(amount decimal.Decimal, items int) Event {
	out := e.Clone()
	out.Payload.TotalAmount = amount.Float64()
	out.Payload.TotalItems = items
	return out
}

func (e Event) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.TransactionID, validation.Required),
		validation.Field(&e.OrderID, validation.Required),
		validation.Field(&e.Payload),
	)
}

func (p Payload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Products, validation.Required),
		validation.Field(&p.TotalItems, validation.Min(0)),
	)
}

// LastHistory returns the most recent history entry, if any.
func (e Event) LastHistory() (History, bool) {
	if len(e.History) == 0 {
		return History{}, false
	}
	return e.History[len(e.History)-1], true
}

func Encode(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func DecodeEvent(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("decode event: %w", err)
	}
	if e.History == nil {
		e.History = []History{}
	}
	return e, nil
}
