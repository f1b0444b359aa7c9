// Package local runs the fulfillment saga in a single process with in-memory
// participants. It backs the orchestrator's --local mode.
package local

import (
	"context"
	"sync"

	"github.com/fulfillment/platform/fulfillment-common/pkg/decimal"
	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// rule checks an event before the forward action commits; a returned business
// error becomes a FAIL outcome.
type rule func(ev saga.Event) (saga.Event, error)

// Participant keeps one completed-transaction set and applies its rule on execute.
type Participant struct {
	source   string
	success  string
	rollback string
	rule     rule
	undo     func(ev saga.Event)
	clock    saga.Clock

	mu   sync.Mutex
	done map[string]bool
}

var _ saga.Participant = (*Participant)(nil)

func newParticipant(source, success, rollback string, r rule, clock saga.Clock) *Participant {
	return &Participant{
		source:   source,
		success:  success,
		rollback: rollback,
		rule:     r,
		clock:    clock,
		done:     make(map[string]bool),
	}
}

func (p *Participant) Source() string { return p.source }

func (p *Participant) Execute(_ context.Context, ev saga.Event) (saga.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := ev.OrderID + ":" + ev.TransactionID
	if p.done[key] {
		return ev.Record(p.source, saga.Failed("There's another transactionId for this validation."), p.clock()), nil
	}
	p.done[key] = true

	out, err := p.rule(ev)
	if err != nil {
		outcome, ok := saga.Resolve(err)
		if !ok {
			return ev, err
		}
		return out.Record(p.source, outcome, p.clock()), nil
	}
	return out.Record(p.source, saga.Succeeded(p.success), p.clock()), nil
}

func (p *Participant) Compensate(_ context.Context, ev saga.Event) (saga.Event, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.undo != nil && p.done[ev.OrderID+":"+ev.TransactionID] {
		p.undo(ev)
	}
	return ev.Record(p.source, saga.RolledBack(p.rollback), p.clock()), nil
}

// NewValidation accepts orders whose products are all in catalog.
func NewValidation(catalog []string, clock saga.Clock) *Participant {
	known := make(map[string]bool, len(catalog))
	for _, code := range catalog {
		known[code] = true
	}
	return newParticipant("PRODUCT_VALIDATION_SERVICE",
		"Products are validated successfully!",
		"Rollback executed on product validation!",
		func(ev saga.Event) (saga.Event, error) {
			if len(ev.Payload.Products) == 0 {
				return ev, apperrors.New(apperrors.CodeProductsNotInformed, "Product list is empty!")
			}
			for _, product := range ev.Payload.Products {
				if !known[product.ProductID] {
					return ev, apperrors.New(apperrors.CodeProductNotFound, "Product does not exist in database!")
				}
			}
			return ev, nil
		}, clock)
}

// NewInventory reserves against a fixed stock table.
func NewInventory(stock map[string]int, clock saga.Clock) *Participant {
	available := make(map[string]int, len(stock))
	for code, qty := range stock {
		available[code] = qty
	}
	reserved := make(map[string]bool)
	p := newParticipant("INVENTORY_SERVICE",
		"Inventory updated successfully!",
		"Rollback executed for inventory!",
		func(ev saga.Event) (saga.Event, error) {
			for _, product := range ev.Payload.Products {
				if available[product.ProductID] < product.Quantity {
					return ev, apperrors.New(apperrors.CodeInsufficientStock, "Product is out of stock!")
				}
			}
			for _, product := range ev.Payload.Products {
				available[product.ProductID] -= product.Quantity
			}
			reserved[ev.TransactionID] = true
			return ev, nil
		}, clock)
	p.undo = func(ev saga.Event) {
		if !reserved[ev.TransactionID] {
			return
		}
		for _, product := range ev.Payload.Products {
			available[product.ProductID] += product.Quantity
		}
		delete(reserved, ev.TransactionID)
	}
	return p
}

// NewPayment prices the order once and rejects amounts below minAmount.
func NewPayment(minAmount decimal.Decimal, clock saga.Clock) *Participant {
	return newParticipant("PAYMENT_SERVICE",
		"Payment realized successfully!",
		"Rollback executed for payment!",
		func(ev saga.Event) (saga.Event, error) {
			amount, items := ev.Payload.Totals()
			out := ev.WithTotals(amount, items)
			if amount.Cmp(minAmount) < 0 {
				return out, apperrors.Newf(apperrors.CodeAmountTooSmall, "The minimum amount available is %s", minAmount)
			}
			return out, nil
		}, clock)
}
