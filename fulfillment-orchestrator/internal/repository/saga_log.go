// Package repository persists orchestrator state.
package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

// SagaLogRepository stores one JSON document per transaction id.
type SagaLogRepository struct {
	rdb    redis.Cmdable
	prefix string
	ttl    time.Duration
}

var _ saga.SagaStore = (*SagaLogRepository)(nil)

// NewSagaLogRepository creates the store; ttl <= 0 keeps logs forever.
func NewSagaLogRepository(rdb redis.Cmdable, prefix string, ttl time.Duration) *SagaLogRepository {
	if prefix == "" {
		prefix = "saga:log:"
	}
	if ttl < 0 {
		ttl = 0
	}
	return &SagaLogRepository{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (r *SagaLogRepository) key(transactionID string) string {
	return r.prefix + transactionID
}

// Save creates the log; an existing log for the same transaction is a duplicate.
func (r *SagaLogRepository) Save(ctx context.Context, log *saga.SagaLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal saga log: %w", err)
	}
	ok, err := r.rdb.SetNX(ctx, r.key(log.TransactionID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("save saga log: %w", err)
	}
	if !ok {
		return apperrors.Newf(apperrors.CodeDuplicateTransaction, "saga %s already started", log.TransactionID)
	}
	return nil
}

func (r *SagaLogRepository) Get(ctx context.Context, transactionID string) (*saga.SagaLog, error) {
	data, err := r.rdb.Get(ctx, r.key(transactionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "saga log %s not found", transactionID)
	}
	if err != nil {
		return nil, fmt.Errorf("get saga log: %w", err)
	}

	var log saga.SagaLog
	if err := json.Unmarshal(data, &log); err != nil {
		return nil, fmt.Errorf("decode saga log: %w", err)
	}
	return &log, nil
}

// Update overwrites an existing log and refreshes its ttl.
func (r *SagaLogRepository) Update(ctx context.Context, log *saga.SagaLog) error {
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("marshal saga log: %w", err)
	}
	ok, err := r.rdb.SetXX(ctx, r.key(log.TransactionID), data, r.ttl).Result()
	if err != nil {
		return fmt.Errorf("update saga log: %w", err)
	}
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "saga log %s not found", log.TransactionID)
	}
	return nil
}
