package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

var now = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)

func newMock(t *testing.T) (*ValidationRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewValidationRepository(db), mock
}

func TestProductExists(t *testing.T) {
	repo, mock := newMock(t)
	query := regexp.QuoteMeta(`SELECT EXISTS (SELECT 1 FROM product WHERE code = $1)`)

	mock.ExpectQuery(query).WithArgs("BOOKS").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(query).WithArgs("GHOST").WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	ok, err := repo.ProductExists(context.Background(), "BOOKS")
	if err != nil || !ok {
		t.Fatalf("expected BOOKS to exist, got %v, %v", ok, err)
	}
	ok, err = repo.ProductExists(context.Background(), "GHOST")
	if err != nil || ok {
		t.Fatalf("expected GHOST to be missing, got %v, %v", ok, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestCreateValidation(t *testing.T) {
	repo, mock := newMock(t)
	query := regexp.QuoteMeta(`
		INSERT INTO validation (order_id, transaction_id, success, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`)

	mock.ExpectQuery(query).
		WithArgs("order-1", "tx-1", true, now, now).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))

	v := &Validation{OrderID: "order-1", TransactionID: "tx-1", Success: true, CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateValidation(context.Background(), v); err != nil {
		t.Fatalf("create: %v", err)
	}
	if v.ID != 42 {
		t.Fatalf("expected id 42, got %d", v.ID)
	}

	mock.ExpectQuery(query).
		WithArgs("order-1", "tx-1", false, now, now).
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})
	dup := &Validation{OrderID: "order-1", TransactionID: "tx-1", CreatedAt: now, UpdatedAt: now}
	if err := repo.CreateValidation(context.Background(), dup); !errors.Is(err, apperrors.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate transaction, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetValidation(t *testing.T) {
	repo, mock := newMock(t)
	query := regexp.QuoteMeta(`
		SELECT id, order_id, transaction_id, success, created_at, updated_at
		FROM validation
		WHERE order_id = $1 AND transaction_id = $2
	`)

	mock.ExpectQuery(query).WithArgs("order-1", "tx-1").WillReturnRows(
		sqlmock.NewRows([]string{"id", "order_id", "transaction_id", "success", "created_at", "updated_at"}).
			AddRow(int64(7), "order-1", "tx-1", true, now, now),
	)
	v, err := repo.GetValidation(context.Background(), "order-1", "tx-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if v.ID != 7 || !v.Success {
		t.Fatalf("unexpected validation %+v", v)
	}

	mock.ExpectQuery(query).WithArgs("order-2", "tx-2").WillReturnError(sql.ErrNoRows)
	_, err = repo.GetValidation(context.Background(), "order-2", "tx-2")
	if apperrors.CodeOf(err) != apperrors.CodeRecordNotFound {
		t.Fatalf("expected record not found, got %v", err)
	}
}

func TestUpdateValidation(t *testing.T) {
	repo, mock := newMock(t)
	query := regexp.QuoteMeta(`UPDATE validation SET success = $1, updated_at = $2 WHERE id = $3`)

	mock.ExpectExec(query).WithArgs(false, now, int64(7)).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := repo.UpdateValidation(context.Background(), &Validation{ID: 7, UpdatedAt: now}); err != nil {
		t.Fatalf("update: %v", err)
	}

	mock.ExpectExec(query).WithArgs(false, now, int64(8)).WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateValidation(context.Background(), &Validation{ID: 8, UpdatedAt: now})
	if apperrors.CodeOf(err) != apperrors.CodeRecordNotFound {
		t.Fatalf("expected record not found, got %v", err)
	}

	mock.ExpectExec(query).WithArgs(false, now, int64(9)).WillReturnError(errors.New("connection reset"))
	err = repo.UpdateValidation(context.Background(), &Validation{ID: 9, UpdatedAt: now})
	if err == nil || apperrors.CodeOf(err) != apperrors.CodeUnknown {
		t.Fatalf("expected wrapped driver error, got %v", err)
	}
}

func TestEnsureSchemaAndSeed(t *testing.T) {
	repo, mock := newMock(t)

	mock.ExpectExec(regexp.QuoteMeta(Schema)).WillReturnResult(sqlmock.NewResult(0, 0))
	seed := regexp.QuoteMeta(`INSERT INTO product (code) VALUES ($1) ON CONFLICT (code) DO NOTHING`)
	mock.ExpectExec(seed).WithArgs("BOOKS").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec(seed).WithArgs("MOVIES").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("schema: %v", err)
	}
	if err := repo.SeedProducts(context.Background(), []string{"BOOKS", "MOVIES"}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore("BOOKS")

	if ok, _ := store.ProductExists(ctx, "BOOKS"); !ok {
		t.Fatal("expected seeded product")
	}
	v := &Validation{OrderID: "o", TransactionID: "t", Success: true}
	if err := store.CreateValidation(ctx, v); err != nil || v.ID != 1 {
		t.Fatalf("create: %v id=%d", err, v.ID)
	}
	if err := store.CreateValidation(ctx, &Validation{OrderID: "o", TransactionID: "t"}); !errors.Is(err, apperrors.ErrDuplicateTransaction) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	if store.Count() != 1 {
		t.Fatalf("expected 1 record, got %d", store.Count())
	}
	got, err := store.GetValidation(ctx, "o", "t")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Success = false
	if err := store.UpdateValidation(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	again, _ := store.GetValidation(ctx, "o", "t")
	if again.Success {
		t.Fatal("expected success=false after update")
	}
	if _, err := store.GetValidation(ctx, "x", "y"); apperrors.CodeOf(err) != apperrors.CodeRecordNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}
