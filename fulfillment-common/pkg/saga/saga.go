// Package saga holds the orchestration core: the event model, the static stage
// topology, the participant contract and the routing state machine.
package saga

import (
	"context"
	"sync"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

// SagaState is the lifecycle state tracked in the saga log.
type SagaState string

const (
	SagaRunning      SagaState = "RUNNING"
	SagaCompensating SagaState = "COMPENSATING"
	SagaCompleted    SagaState = "COMPLETED"
	SagaFailed       SagaState = "FAILED"
)

// SagaLog is the persisted progress record of one saga instance.
type SagaLog struct {
	TransactionID string    `json:"transactionId"`
	OrderID       string    `json:"orderId"`
	State         SagaState `json:"state"`
	Stage         StageName `json:"stage"`
	Hops          int       `json:"hops"`
	Error         string    `json:"error,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// NewSagaLog opens a log for a started saga.
func NewSagaLog(d Decision, at time.Time) *SagaLog {
	return &SagaLog{
		TransactionID: d.Event.TransactionID,
		OrderID:       d.Event.OrderID,
		State:         SagaRunning,
		Stage:         d.Event.CurrentStage,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

// Apply advances the log with a routing decision.
func (l *SagaLog) Apply(d Decision, at time.Time) {
	l.Stage = d.Event.CurrentStage
	l.Hops++
	l.UpdatedAt = at
	switch {
	case d.Terminal && d.Event.CurrentStage == StageFinishSuccess:
		l.State = SagaCompleted
	case d.Terminal:
		l.State = SagaFailed
	case d.Event.Status == StatusRollbackPending:
		l.State = SagaCompensating
	default:
		l.State = SagaRunning
	}
	if d.Anomaly {
		if last, ok := d.Event.LastHistory(); ok {
			l.Error = last.Message
		}
	}
}

// Finished reports whether the log reached a terminal state.
func (l *SagaLog) Finished() bool {
	return l.State == SagaCompleted || l.State == SagaFailed
}

// SagaStore persists saga logs for recovery and observability.
type SagaStore interface {
	Save(ctx context.Context, log *SagaLog) error
	Get(ctx context.Context, transactionID string) (*SagaLog, error)
	Update(ctx context.Context, log *SagaLog) error
}

// MemorySagaStore is an in-process SagaStore.
type MemorySagaStore struct {
	mu   sync.RWMutex
	logs map[string]SagaLog
}

func NewMemorySagaStore() *MemorySagaStore {
	return &MemorySagaStore{logs: make(map[string]SagaLog)}
}

func (s *MemorySagaStore) Save(_ context.Context, log *SagaLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[log.TransactionID] = *log
	return nil
}

func (s *MemorySagaStore) Get(_ context.Context, transactionID string) (*SagaLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log, ok := s.logs[transactionID]
	if !ok {
		return nil, apperrors.Newf(apperrors.CodeNotFound, "saga log %s not found", transactionID)
	}
	return &log, nil
}

func (s *MemorySagaStore) Update(ctx context.Context, log *SagaLog) error {
	s.mu.RLock()
	_, ok := s.logs[log.TransactionID]
	s.mu.RUnlock()
	if !ok {
		return apperrors.Newf(apperrors.CodeNotFound, "saga log %s not found", log.TransactionID)
	}
	return s.Save(ctx, log)
}
