// Package repository stores the product catalog and validation records.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/postgres"
)

// Validation is the local record of one validation attempt.
type Validation struct {
	ID            int64
	OrderID       string
	TransactionID string
	Success       bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store is what the validation participant needs from persistence.
type Store interface {
	ProductExists(ctx context.Context, code string) (bool, error)
	ValidationExists(ctx context.Context, orderID, transactionID string) (bool, error)
	CreateValidation(ctx context.Context, v *Validation) error
	GetValidation(ctx context.Context, orderID, transactionID string) (*Validation, error)
	UpdateValidation(ctx context.Context, v *Validation) error
}

// Schema creates the catalog and validation tables.
const Schema = `
CREATE TABLE IF NOT EXISTS product (
	id         BIGSERIAL PRIMARY KEY,
	code       VARCHAR(64) NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS validation (
	id             BIGSERIAL PRIMARY KEY,
	order_id       VARCHAR(64) NOT NULL,
	transaction_id VARCHAR(128) NOT NULL,
	success        BOOLEAN NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL,
	CONSTRAINT uk_validation UNIQUE (order_id, transaction_id)
);
`

// ValidationRepository is the Postgres Store.
type ValidationRepository struct {
	db *sql.DB
}

var _ Store = (*ValidationRepository)(nil)

func NewValidationRepository(db *sql.DB) *ValidationRepository {
	return &ValidationRepository{db: db}
}

// EnsureSchema creates missing tables.
func (r *ValidationRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// SeedProducts inserts catalog codes, skipping existing ones.
func (r *ValidationRepository) SeedProducts(ctx context.Context, codes []string) error {
	query := `INSERT INTO product (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`
	for _, code := range codes {
		if _, err := r.db.ExecContext(ctx, query, code); err != nil {
			return fmt.Errorf("seed product %s: %w", code, err)
		}
	}
	return nil
}

func (r *ValidationRepository) ProductExists(ctx context.Context, code string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM product WHERE code = $1)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, code).Scan(&exists); err != nil {
		return false, fmt.Errorf("product exists: %w", err)
	}
	return exists, nil
}

func (r *ValidationRepository) ValidationExists(ctx context.Context, orderID, transactionID string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM validation WHERE order_id = $1 AND transaction_id = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, orderID, transactionID).Scan(&exists); err != nil {
		return false, fmt.Errorf("validation exists: %w", err)
	}
	return exists, nil
}

// CreateValidation inserts v and sets its ID. A second record for the same
// order and transaction is ErrDuplicateTransaction.
func (r *ValidationRepository) CreateValidation(ctx context.Context, v *Validation) error {
	query := `
		INSERT INTO validation (order_id, transaction_id, success, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`
	err := r.db.QueryRowContext(ctx, query, v.OrderID, v.TransactionID, v.Success, v.CreatedAt, v.UpdatedAt).Scan(&v.ID)
	if err != nil {
		if postgres.IsUniqueViolation(err) {
			return apperrors.ErrDuplicateTransaction
		}
		return fmt.Errorf("insert validation: %w", err)
	}
	return nil
}

func (r *ValidationRepository) GetValidation(ctx context.Context, orderID, transactionID string) (*Validation, error) {
	query := `
		SELECT id, order_id, transaction_id, success, created_at, updated_at
		FROM validation
		WHERE order_id = $1 AND transaction_id = $2
	`
	var v Validation
	err := r.db.QueryRowContext(ctx, query, orderID, transactionID).Scan(
		&v.ID, &v.OrderID, &v.TransactionID, &v.Success, &v.CreatedAt, &v.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.Newf(apperrors.CodeRecordNotFound, "validation not found for order %s", orderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get validation: %w", err)
	}
	return &v, nil
}

func (r *ValidationRepository) UpdateValidation(ctx context.Context, v *Validation) error {
	query := `UPDATE validation SET success = $1, updated_at = $2 WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, v.Success, v.UpdatedAt, v.ID)
	if err != nil {
		return fmt.Errorf("update validation: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update validation rows: %w", err)
	}
	if rows == 0 {
		return apperrors.Newf(apperrors.CodeRecordNotFound, "validation %d not found", v.ID)
	}
	return nil
}
