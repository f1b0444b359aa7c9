// Package repository stores stock levels and per-order reservations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/postgres"
)

var (
	ErrOutOfStock       = apperrors.New(apperrors.CodeInsufficientStock, "Product is out of stock!")
	ErrInventoryMissing = apperrors.New(apperrors.CodeProductNotFound, "Inventory not found by informed product.")
)

// Item is one product line to reserve.
type Item struct {
	ProductCode string
	Quantity    int
}

// Reservation is the stock movement recorded for one product of one order.
type Reservation struct {
	ID            int64
	OrderID       string
	TransactionID string
	ProductCode   string
	OrderQuantity int
	OldQuantity   int
	NewQuantity   int
	Released      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is what the inventory participant needs from persistence.
type Store interface {
	ReservationExists(ctx context.Context, orderID, transactionID string) (bool, error)
	// Reserve takes every item or none. ErrOutOfStock and ErrInventoryMissing
	// leave stock untouched.
	Reserve(ctx context.Context, orderID, transactionID string, items []Item, now time.Time) ([]Reservation, error)
	// Release returns reserved quantities to stock and reports how many lines
	// were released. Already released lines are skipped.
	Release(ctx context.Context, orderID, transactionID string, now time.Time) (int, error)
}

// Merge sums quantities per product and orders the result by code so
// concurrent reservations lock rows in the same order.
func Merge(items []Item) []Item {
	totals := make(map[string]int, len(items))
	for _, item := range items {
		totals[item.ProductCode] += item.Quantity
	}
	merged := make([]Item, 0, len(totals))
	for code, qty := range totals {
		merged = append(merged, Item{ProductCode: code, Quantity: qty})
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].ProductCode < merged[j].ProductCode })
	return merged
}

// Schema creates the stock and reservation tables.
const Schema = `
CREATE TABLE IF NOT EXISTS inventory (
	id           BIGSERIAL PRIMARY KEY,
	product_code VARCHAR(64) NOT NULL UNIQUE,
	available    INTEGER NOT NULL CHECK (available >= 0),
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS order_inventory (
	id             BIGSERIAL PRIMARY KEY,
	order_id       VARCHAR(64) NOT NULL,
	transaction_id VARCHAR(128) NOT NULL,
	product_code   VARCHAR(64) NOT NULL,
	order_quantity INTEGER NOT NULL,
	old_quantity   INTEGER NOT NULL,
	new_quantity   INTEGER NOT NULL,
	released       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	CONSTRAINT uk_order_inventory UNIQUE (order_id, transaction_id, product_code)
);
`

// InventoryRepository is the Postgres Store.
type InventoryRepository struct {
	db *sql.DB
}

var _ Store = (*InventoryRepository)(nil)

func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// EnsureSchema creates missing tables.
func (r *InventoryRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SeedStock inserts starting stock, leaving existing rows alone.
func (r *InventoryRepository) SeedStock(ctx context.Context, stock map[string]int) error {
	query := `INSERT INTO inventory (product_code, available) VALUES ($1, $2) ON CONFLICT (product_code) DO NOTHING`
	codes := make([]string, 0, len(stock))
	for code := range stock {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if _, err := r.db.ExecContext(ctx, query, code, stock[code]); err != nil {
			return fmt.Errorf("seed stock %s: %w", code, err)
		}
	}
	return nil
}

func (r *InventoryRepository) Available(ctx context.Context, code string) (int, error) {
	query := `SELECT available FROM inventory WHERE product_code = $1`
	var available int
	err := r.db.QueryRowContext(ctx, query, code).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInventoryMissing
	}
	if err != nil {
		return 0, fmt.Errorf("get available: %w", err)
	}
	return available, nil
}

func (r *InventoryRepository) ReservationExists(ctx context.Context, orderID, transactionID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM order_inventory WHERE order_id = $1 AND transaction_id = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, orderID, transactionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("reservation exists: %w", err)
	}
	return exists, nil
}

func (r *InventoryRepository) Reserve(ctx context.Context, orderID, transactionID string, items []Item, now time.Time) ([]Reservation, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	merged := Merge(items)
	reservations := make([]Reservation, 0, len(merged))
	for _, item := range merged {
		available, err := r.lockStock(ctx, tx, item.ProductCode)
		if err != nil {
			return nil, err
		}
		if available < item.Quantity {
			return nil, ErrOutOfStock
		}

		res := Reservation{
			OrderID:       orderID,
			TransactionID: transactionID,
			ProductCode:   item.ProductCode,
			OrderQuantity: item.Quantity,
			OldQuantity:   available,
			NewQuantity:   available - item.Quantity,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := r.insertReservation(ctx, tx, &res); err != nil {
			return nil, err
		}
		if err := r.setStock(ctx, tx, item.ProductCode, res.NewQuantity, now); err != nil {
			return nil, err
		}
		reservations = append(reservations, res)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return reservations, nil
}

func (r *InventoryRepository) lockStock(ctx context.Context, tx *sql.Tx, code string) (int, error) {
	query := `
		SELECT available
		FROM inventory
		WHERE product_code = $1
		FOR UPDATE
	`
	var available int
	err := tx.QueryRowContext(ctx, query, code).Scan(&available)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrInventoryMissing
	}
	if err != nil {
		return 0, fmt.Errorf("lock stock %s: %w", code, err)
	}
	return available, nil
}

func (r *InventoryRepository) insertReservation(ctx context.Context, tx *sql.Tx, res *Reservation) error {
	query := `
		INSERT INTO order_inventory (order_id, transaction_id, product_code, order_quantity, old_quantity, new_quantity, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := tx.QueryRowContext(ctx, query,
		res.OrderID, res.TransactionID, res.ProductCode,
		res.OrderQuantity, res.OldQuantity, res.NewQuantity,
		res.CreatedAt, res.UpdatedAt,
	).Scan(&res.ID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperrors.ErrDuplicateTransaction
		}
		return fmt.Errorf("insert reservation: %w", err)
	}
	return nil
}

func (r *InventoryRepository) setStock(ctx context.Context, tx *sql.Tx, code string, available int, now time.Time) error {
	query := `UPDATE inventory SET available = $1, updated_at = $2 WHERE product_code = $3`
	if _, err := tx.ExecContext(ctx, query, available, now, code); err != nil {
		return fmt.Errorf("update stock %s: %w", code, err)
	}
	return nil
}

func (r *InventoryRepository) Release(ctx context.Context, orderID, transactionID string, now time.Time) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
		SELECT product_code, order_quantity
		FROM order_inventory
		WHERE order_id = $1 AND transaction_id = $2 AND released = FALSE
		ORDER BY product_code
		FOR UPDATE
	`
	rows, err := tx.QueryContext(ctx, query, orderID, transactionID)
	if err != nil {
		return 0, fmt.Errorf("load reservations: %w", err)
	}
	var items []Item
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ProductCode, &item.Quantity); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan reservation: %w", err)
		}
		items = append(items, item)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate reservations: %w", err)
	}
	if len(items) == 0 {
		return 0, nil
	}

	restore := `UPDATE inventory SET available = available + $1, updated_at = $2 WHERE product_code = $3`
	for _, item := range items {
		if _, err := tx.ExecContext(ctx, restore, item.Quantity, now, item.ProductCode); err != nil {
			return 0, fmt.Errorf("restore stock %s: %w", item.ProductCode, err)
		}
	}

	mark := `UPDATE order_inventory SET released = TRUE, updated_at = $1 WHERE order_id = $2 AND transaction_id = $3 AND released = FALSE`
	if _, err := tx.ExecContext(ctx, mark, now, orderID, transactionID); err != nil {
		return 0, fmt.Errorf("mark released: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return len(items), nil
}
