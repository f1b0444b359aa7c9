package saga

import (
	"context"
	"fmt"
)

// Executor drives one saga synchronously through the state machine with
// in-process participants. It sends every hop through the dispatcher so the
// destination sequence is observable exactly as on the wire.
type Executor struct {
	machine      *StateMachine
	dispatcher   Dispatcher
	store        SagaStore
	participants map[StageName]Participant
}

func NewExecutor(machine *StateMachine, dispatcher Dispatcher, store SagaStore) *Executor {
	if store == nil {
		store = NewMemorySagaStore()
	}
	return &Executor{
		machine:      machine,
		dispatcher:   dispatcher,
		store:        store,
		participants: make(map[StageName]Participant),
	}
}

// Bind attaches p to a forward stage and its compensating stage.
func (e *Executor) Bind(forward, compensating StageName, p Participant) *Executor {
	e.participants[forward] = p
	e.participants[compensating] = p
	return e
}

func (e *Executor) Store() SagaStore {
	return e.store
}

// Run executes the saga to a terminal stage and returns the terminal event.
// An unexpected participant fault stops the run and marks the log failed.
func (e *Executor) Run(ctx context.Context, event Event) (Event, error) {
	d := e.machine.Start(event)
	log := NewSagaLog(d, e.machine.clock())
	if err := e.store.Save(ctx, log); err != nil {
		return event, fmt.Errorf("save saga log: %w", err)
	}
	e.dispatcher.Send(ctx, d.Event, d.Topic)

	maxHops := 2*len(e.machine.topology.stages) + 2
	current := d.Event
	for hop := 0; ; hop++ {
		if hop > maxHops {
			return current, fmt.Errorf("saga %s exceeded %d hops", current.TransactionID, maxHops)
		}

		result, err := e.step(ctx, current)
		if err != nil {
			log.State = SagaFailed
			log.Error = err.Error()
			log.UpdatedAt = e.machine.clock()
			_ = e.store.Update(ctx, log)
			return current, err
		}
		e.dispatcher.Send(ctx, result, TopicOrchestrator)

		d, err = e.machine.Next(result)
		if err != nil {
			return result, err
		}
		log.Apply(d, e.machine.clock())
		if err := e.store.Update(ctx, log); err != nil {
			return d.Event, fmt.Errorf("update saga log: %w", err)
		}

		e.dispatcher.Send(ctx, d.Event, d.Topic)
		if d.Terminal {
			return d.Event, nil
		}
		current = d.Event
	}
}

func (e *Executor) step(ctx context.Context, event Event) (Event, error) {
	stage, ok := e.machine.topology.Stage(event.CurrentStage)
	if !ok {
		// the state machine fails unknown stages closed
		return event, nil
	}
	p, ok := e.participants[stage.Name]
	if !ok {
		return event, fmt.Errorf("no participant bound to stage %s", stage.Name)
	}

	if !stage.Compensating {
		return p.Execute(ctx, event)
	}

	out, err := p.Compensate(ctx, event)
	if err != nil {
		return CompensationFault(event, p.Source(), err, e.machine.clock()), nil
	}
	return out, nil
}
