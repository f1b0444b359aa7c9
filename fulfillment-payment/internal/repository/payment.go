// Package repository stores payment records.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fulfillment/platform/fulfillment-common/pkg/decimal"
	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/postgres"
)

// PaymentStatus is the lifecycle of a payment record.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentRefund  PaymentStatus = "REFUND"
)

type Payment struct {
	ID            int64
	OrderID       string
	TransactionID string
	TotalAmount   decimal.Decimal
	TotalItems    int
	Status        PaymentStatus
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is what the payment participant needs from persistence.
type Store interface {
	CreatePayment(ctx context.Context, p *Payment) error
	GetPayment(ctx context.Context, orderID, transactionID string) (*Payment, error)
	UpdateStatus(ctx context.Context, id int64, status PaymentStatus, now time.Time) error
}

// Schema creates the payment table.
const Schema = `
CREATE TABLE IF NOT EXISTS payment (
	id             BIGSERIAL PRIMARY KEY,
	order_id       VARCHAR(64) NOT NULL,
	transaction_id VARCHAR(128) NOT NULL,
	total_amount   NUMERIC(19, 4) NOT NULL,
	total_items    INTEGER NOT NULL,
	status         VARCHAR(16) NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	CONSTRAINT uk_payment UNIQUE (order_id, transaction_id)
);
`

// PaymentRepository is the Postgres Store.
type PaymentRepository struct {
	db *sql.DB
}

var _ Store = (*PaymentRepository)(nil)

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// EnsureSchema creates missing tables.
func (r *PaymentRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreatePayment inserts p and sets its ID.
func (r *PaymentRepository) CreatePayment(ctx context.Context, p *Payment) error {
	query := `
		INSERT INTO payment (order_id, transaction_id, total_amount, total_items, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query,
		p.OrderID, p.TransactionID, p.TotalAmount.String(), p.TotalItems, string(p.Status), p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperrors.ErrDuplicateTransaction
		}
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *PaymentRepository) GetPayment(ctx context.Context, orderID, transactionID string) (*Payment, error) {
	query := `
		SELECT id, order_id, transaction_id, total_amount, total_items, status, created_at, updated_at
		FROM payment
		WHERE order_id = $1 AND transaction_id = $2
	`
	var (
		p      Payment
		amount string
		status string
	)
	err := r.db.QueryRowContext(ctx, query, orderID, transactionID).Scan(
		&p.ID, &p.OrderID, &p.TransactionID, &amount, &p.TotalItems, &status, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeRecordNotFound, "Payment not found by orderId %s and transactionId %s", orderID, transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment: %w", err)
	}
	if p.TotalAmount, err = decimal.New(amount); err != nil {
		return nil, fmt.Errorf("payment %d amount: %w", p.ID, err)
	}
	p.Status = PaymentStatus(status)
	return &p, nil
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id int64, status PaymentStatus, now time.Time) error {
	query := `UPDATE payment SET status = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, string(status), now, id)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update payment rows: %w", err)
	}
	if rows == 0 {
		return apperrors.Newf(apperrors.CodeRecordNotFound, "payment %d not found", id)
	}
	return nil
}
