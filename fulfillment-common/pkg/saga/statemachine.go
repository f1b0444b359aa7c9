package saga

import (
	"fmt"
	"time"

	apperrors "github.com/fulfillment/platform/fulfillment-common/pkg/errors"
)

// OrchestratorSource is the history source used for entries the orchestrator writes.
const OrchestratorSource = "ORCHESTRATOR"

const (
	msgFinishedSuccess = "Saga finished successfully!"
	msgFinishedFail    = "Saga finished with errors!"
)

// Clock supplies timestamps for history entries.
type Clock func() time.Time

// Decision is the result of routing one inbound event.
type Decision struct {
	Event Event
	// From is the stage the inbound event was associated with.
	From     StageName
	Topic    Topic
	Terminal bool
	// Anomaly flags an unknown stage that was failed closed.
	Anomaly bool
}

// StateMachine routes events across the topology. It holds no per-saga state,
// so the same input always yields the same decision.
type StateMachine struct {
	topology *Topology
	clock    Clock
}

func NewStateMachine(topology *Topology, clock Clock) *StateMachine {
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &StateMachine{topology: topology, clock: clock}
}

func (m *StateMachine) Topology() *Topology {
	return m.topology
}

// Start places a new saga at the first forward stage.
func (m *StateMachine) Start(event Event) Decision {
	first := m.topology.First()
	out := event.WithStage(first.Name)
	out.Source = OrchestratorSource
	if out.Status == "" {
		out.Status = StatusPending
	}
	topic, _ := m.topology.Route(first.Name)
	return Decision{Event: out, Topic: topic}
}

// Next computes where an event returning from a participant goes.
func (m *StateMachine) Next(event Event) (Decision, error) {
	from := event.CurrentStage
	if m.topology.IsTerminal(from) {
		return Decision{}, apperrors.Newf(apperrors.CodeSagaFinished, "saga %s already reached %s", event.TransactionID, from)
	}

	stage, ok := m.topology.Stage(from)
	if !ok {
		out := event.Record(OrchestratorSource,
			Failed(fmt.Sprintf("Unknown stage %q: saga failed closed", from)), m.clock())
		d := m.finish(out, StageFinishFail)
		d.From = from
		d.Anomaly = true
		return d, nil
	}

	var dest StageName
	status := event.Status
	switch {
	case stage.Compensating:
		dest = stage.SuccessDestination
		status = StatusRollbackPending
	case event.Status == StatusSuccess:
		dest = stage.SuccessDestination
	default:
		dest = stage.FailDestination
		status = StatusRollbackPending
	}

	var d Decision
	switch dest {
	case StageFinishSuccess:
		d = m.finish(event.Record(OrchestratorSource, Succeeded(msgFinishedSuccess), m.clock()), StageFinishSuccess)
	case StageFinishFail:
		d = m.finish(event.Record(OrchestratorSource, Failed(msgFinishedFail), m.clock()), StageFinishFail)
	default:
		out := event.WithStage(dest)
		out.Status = status
		topic, _ := m.topology.Route(dest)
		d = Decision{Event: out, Topic: topic}
	}
	d.From = from
	return d, nil
}

func (m *StateMachine) finish(event Event, marker StageName) Decision {
	out := event.WithStage(marker)
	topic, _ := m.topology.Route(marker)
	return Decision{Event: out, Topic: topic, Terminal: true}
}
