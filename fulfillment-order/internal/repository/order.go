// Package repository stores orders and the saga events reported for them.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// Order is an accepted order.
type Order struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transactionId"`
	Products      []saga.Product `json:"products"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// EventFilter selects the latest event of an order or of a transaction.
// OrderID wins when both are set.
type EventFilter struct {
	OrderID       string
	TransactionID string
}

// Store is what the order service needs from persistence.
type Store interface {
	// CreateOrder stores the order and its initial event atomically.
	CreateOrder(ctx context.Context, order *Order, initial saga.Event) error
	GetOrder(ctx context.Context, id string) (*Order, error)
	// SaveEvent appends a reported event. It returns false when the same
	// transaction already reported this stage.
	SaveEvent(ctx context.Context, event saga.Event, recordedAt time.Time) (bool, error)
	LatestEvent(ctx context.Context, filter EventFilter) (saga.Event, error)
	ListEvents(ctx context.Context, limit int) ([]saga.Event, error)
	// UnfinishedOrders returns orders created before cutoff that have no
	// terminal event yet, oldest first.
	UnfinishedOrders(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}

// Schema creates the order and event tables.
const Schema = `
CREATE TABLE IF NOT EXISTS orders (
	id             VARCHAR(32) PRIMARY KEY,
	transaction_id VARCHAR(128) NOT NULL UNIQUE,
	products       JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS order_event (
	id             BIGSERIAL PRIMARY KEY,
	transaction_id VARCHAR(128) NOT NULL,
	order_id       VARCHAR(32) NOT NULL,
	source         VARCHAR(64) NOT NULL,
	status         VARCHAR(32) NOT NULL,
	current_stage  VARCHAR(64) NOT NULL,
	payload        JSONB NOT NULL,
	history        JSONB NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	recorded_at    TIMESTAMPTZ NOT NULL,
	CONSTRAINT uk_order_event UNIQUE (transaction_id, current_stage)
);
CREATE INDEX IF NOT EXISTS idx_order_event_order ON order_event (order_id, recorded_at DESC);
`

// OrderRepository is the Postgres Store.
type OrderRepository struct {
	db *sql.DB
}

var _ Store = (*OrderRepository)(nil)

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// EnsureSchema creates missing tables.
func (r *OrderRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (r *OrderRepository) CreateOrder(ctx context.Context, order *Order, initial saga.Event) error {
	products, err := json.Marshal(order.Products)
	if err != nil {
		return fmt.Errorf("encode products: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, transaction_id, products, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := tx.ExecContext(ctx, query, order.ID, order.TransactionID, products, order.CreatedAt, order.UpdatedAt); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if _, err := insertEvent(ctx, tx, initial, order.CreatedAt); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetOrder(ctx context.Context, id string) (*Order, error) {
	query := `
		SELECT id, transaction_id, products, created_at, updated_at
		FROM orders
		WHERE id = $1
	`
	var (
		o        Order
		products []byte
	)
	err := r.db.QueryRowContext(ctx, query, id).Scan(&o.ID, &o.TransactionID, &products, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "Order not found by ID %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := json.Unmarshal(products, &o.Products); err != nil {
		return nil, fmt.Errorf("decode order %s products: %w", id, err)
	}
	return &o, nil
}

func (r *OrderRepository) SaveEvent(ctx context.Context, event saga.Event, recordedAt time.Time) (bool, error) {
	return insertEvent(ctx, r.db, event, recordedAt)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func insertEvent(ctx context.Context, db execer, event saga.Event, recordedAt time.Time) (bool, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return false, fmt.Errorf("encode payload: %w", err)
	}
	history, err := json.Marshal(event.History)
	if err != nil {
		return false, fmt.Errorf("encode history: %w", err)
	}

	query := `
		INSERT INTO order_event (transaction_id, order_id, source, status, current_stage, payload, history, created_at, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (transaction_id, current_stage) DO NOTHING
	`
	result, err := db.ExecContext(ctx, query,
		event.TransactionID, event.OrderID, event.Source, string(event.Status), string(event.CurrentStage),
		payload, history, event.CreatedAt, recordedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert event rows: %w", err)
	}
	return rows > 0, nil
}

const eventColumns = `transaction_id, order_id, source, status, current_stage, payload, history, created_at`

func (r *OrderRepository) LatestEvent(ctx context.Context, filter EventFilter) (saga.Event, error) {
	var (
		query string
		arg   string
	)
	switch {
	case filter.OrderID != "":
		query = `SELECT ` + eventColumns + ` FROM order_event WHERE order_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`
		arg = filter.OrderID
	case filter.TransactionID != "":
		query = `SELECT ` + eventColumns + ` FROM order_event WHERE transaction_id = $1 ORDER BY recorded_at DESC, id DESC LIMIT 1`
		arg = filter.TransactionID
	default:
		return saga.Event{}, ErrFilterRequired
	}

	event, err := scanEvent(r.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return saga.Event{}, apperrors.New(apperrors.CodeNotFound, "Event not found by orderID or transactionID")
	}
	if err != nil {
		return saga.Event{}, fmt.Errorf("latest event: %w", err)
	}
	return event, nil
}

// ErrFilterRequired is returned for an empty EventFilter.
var ErrFilterRequired = apperrors.New(apperrors.CodeInvalidParam, "OrderID or TransactionID must be informed.")

func (r *OrderRepository) ListEvents(ctx context.Context, limit int) ([]saga.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM order_event ORDER BY recorded_at DESC, id DESC LIMIT $1`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []saga.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row scanner) (saga.Event, error) {
	var (
		e                saga.Event
		status, stage    string
		payload, history []byte
	)
	if err := row.Scan(&e.TransactionID, &e.OrderID, &e.Source, &status, &stage, &payload, &history, &e.CreatedAt); err != nil {
		return saga.Event{}, err
	}
	if err := json.Unmarshal(payload, &e.Payload); err != nil {
		return saga.Event{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := json.Unmarshal(history, &e.History); err != nil {
		return saga.Event{}, fmt.Errorf("decode history: %w", err)
	}
	if e.History == nil {
		e.History = []saga.History{}
	}
	e.ID = e.TransactionID
	e.Status = saga.Status(status)
	e.CurrentStage = saga.StageName(stage)
	return e, nil
}

func (r *OrderRepository) UnfinishedOrders(ctx context.Context, cutoff time.Time, limit int) ([]Order, error) {
	query := `
		SELECT o.id, o.transaction_id, o.products, o.created_at, o.updated_at
		FROM orders o
		WHERE o.created_at < $1
		  AND NOT EXISTS (
			SELECT 1 FROM order_event e
			WHERE e.transaction_id = o.transaction_id
			  AND e.current_stage IN ($2, $3)
		  )
		ORDER BY o.created_at
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, cutoff, string(saga.StageFinishSuccess), string(saga.StageFinishFail), limit)
	if err != nil {
		return nil, fmt.Errorf("unfinished orders: %w", err)
	}
	defer rows.Close()

	orders := []Order{}
	for rows.Next() {
		var (
			o        Order
			products []byte
		)
		if err := rows.Scan(&o.ID, &o.TransactionID, &products, &o.CreatedAt, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		if err := json.Unmarshal(products, &o.Products); err != nil {
			return nil, fmt.Errorf("decode order %s products: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate orders: %w", err)
	}
	return orders, nil
}
