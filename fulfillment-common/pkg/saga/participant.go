package saga

import (
	"context"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

// Outcome is what a participant reports for one hop.
type Outcome struct {
	Status  Status
	Message string
}

func Succeeded(msg string) Outcome  { return Outcome{Status: StatusSuccess, Message: msg} }
func Failed(msg string) Outcome     { return Outcome{Status: StatusFail, Message: msg} }
func RolledBack(msg string) Outcome { return Outcome{Status: StatusRollbackPending, Message: msg} }

// Participant is a step service. Business rule violations come back as a FAIL
// outcome recorded on the returned event; a non-nil error is reserved for
// unexpected faults such as an unreachable store.
type Participant interface {
	Source() string
	Execute(ctx context.Context, event Event) (Event, error)
	Compensate(ctx context.Context, event Event) (Event, error)
}

// Resolve turns a business rule violation into a FAIL outcome. ok is false for
// any other error, coded storage errors included, which callers must treat as
// an unexpected fault.
func Resolve(err error) (outcome Outcome, ok bool) {
	if err == nil {
		return Outcome{}, false
	}
	appErr, coded := apperrors.As(err)
	if !coded || !apperrors.IsRuleViolation(appErr.Code) {
		return Outcome{}, false
	}
	return Failed(appErr.Message), true
}

// CompensationFault records a failed rollback on the event so the saga keeps
// walking backward instead of getting stuck.
func CompensationFault(event Event, source string, err error, at time.Time) Event {
	return event.Record(source, RolledBack("Rollback failed: "+err.Error()), at)
}
