package saga

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-multierror"
)

// StageName identifies a stage in the topology.
type StageName string

const (
	StageProductValidation         StageName = "PRODUCT_VALIDATION"
	StageInventory                 StageName = "INVENTORY"
	StagePayment                   StageName = "PAYMENT"
	StageProductValidationRollback StageName = "PRODUCT_VALIDATION_ROLLBACK"
	StageInventoryRollback         StageName = "INVENTORY_ROLLBACK"
	StagePaymentRollback           StageName = "PAYMENT_ROLLBACK"
	StageFinishSuccess             StageName = "FINISH_SUCCESS"
	StageFinishFail                StageName = "FINISH_FAIL"
)

// Topic is a logical channel name on the transport.
type Topic string

const (
	TopicStartSaga                Topic = "start-saga"
	TopicOrchestrator             Topic = "orchestrator"
	TopicFinishSuccess            Topic = "finish-success"
	TopicFinishFail               Topic = "finish-fail"
	TopicProductValidationSuccess Topic = "product-validation-success"
	TopicProductValidationFail    Topic = "product-validation-fail"
	TopicInventorySuccess         Topic = "inventory-success"
	TopicInventoryFail            Topic = "inventory-fail"
	TopicPaymentSuccess           Topic = "payment-success"
	TopicPaymentFail              Topic = "payment-fail"
	TopicNotifyEnding             Topic = "notify-ending"
)

// Stage is one node of the static topology.
type Stage struct {
	Name               StageName
	SuccessDestination StageName
	FailDestination    StageName
	Compensating       bool
	// Order is the position in the forward pipeline; ignored for compensating stages.
	Order int
}

// Routes maps every stage and finish marker to the topic its inbound events travel on.
type Routes map[StageName]Topic

// Topology is the read-only stage registry built once at startup.
type Topology struct {
	stages  map[StageName]Stage
	forward []Stage
	routes  Routes
}

func isFinish(name StageName) bool {
	return name == StageFinishSuccess || name == StageFinishFail
}

// NewTopology validates stages and routes together and reports every problem found.
func NewTopology(stages []Stage, routes Routes) (*Topology, error) {
	var result *multierror.Error

	if len(stages) == 0 {
		return nil, fmt.Errorf("topology: no stages defined")
	}

	t := &Topology{
		stages: make(map[StageName]Stage, len(stages)),
		routes: make(Routes, len(routes)),
	}
	for name, topic := range routes {
		t.routes[name] = topic
	}

	for _, s := range stages {
		if s.Name == "" {
			result = multierror.Append(result, fmt.Errorf("stage with empty name"))
			continue
		}
		if isFinish(s.Name) {
			result = multierror.Append(result, fmt.Errorf("stage %s: finish markers cannot be declared as stages", s.Name))
			continue
		}
		if _, dup := t.stages[s.Name]; dup {
			result = multierror.Append(result, fmt.Errorf("stage %s: declared twice", s.Name))
			continue
		}
		t.stages[s.Name] = s
		if !s.Compensating {
			t.forward = append(t.forward, s)
		}
	}

	for _, finish := range []StageName{StageFinishSuccess, StageFinishFail} {
		if _, ok := t.routes[finish]; !ok {
			result = multierror.Append(result, fmt.Errorf("finish marker %s: no route", finish))
		}
	}

	for _, s := range stages {
		if _, ok := t.routes[s.Name]; !ok && !isFinish(s.Name) {
			result = multierror.Append(result, fmt.Errorf("stage %s: no route", s.Name))
		}
		for _, dest := range []StageName{s.SuccessDestination, s.FailDestination} {
			if err := t.checkDestination(s.Name, dest); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}

	sort.SliceStable(t.forward, func(i, j int) bool { return t.forward[i].Order < t.forward[j].Order })
	if len(t.forward) == 0 {
		result = multierror.Append(result, fmt.Errorf("topology: no forward stages"))
	}
	for i, s := range t.forward {
		if s.Order != i {
			result = multierror.Append(result, fmt.Errorf("stage %s: forward order %d, expected %d", s.Name, s.Order, i))
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Topology) checkDestination(from, dest StageName) error {
	if dest == "" {
		return fmt.Errorf("stage %s: empty destination", from)
	}
	if _, ok := t.stages[dest]; !ok && !isFinish(dest) {
		return fmt.Errorf("stage %s: destination %s is not a known stage", from, dest)
	}
	if _, ok := t.routes[dest]; !ok {
		return fmt.Errorf("stage %s: destination %s has no route", from, dest)
	}
	return nil
}

// DefaultRoutes is the channel layout used by the fulfillment services.
func DefaultRoutes() Routes {
	return Routes{
		StageProductValidation:         TopicProductValidationSuccess,
		StageProductValidationRollback: TopicProductValidationFail,
		StageInventory:                 TopicInventorySuccess,
		StageInventoryRollback:         TopicInventoryFail,
		StagePayment:                   TopicPaymentSuccess,
		StagePaymentRollback:           TopicPaymentFail,
		StageFinishSuccess:             TopicFinishSuccess,
		StageFinishFail:                TopicFinishFail,
	}
}

// DefaultStages returns validation -> inventory -> payment with the reverse
// compensation chain. A forward stage that fails hands over to the compensating
// stage of the previous forward stage.
func DefaultStages() []Stage {
	return []Stage{
		{Name: StageProductValidation, SuccessDestination: StageInventory, FailDestination: StageFinishFail, Order: 0},
		{Name: StageInventory, SuccessDestination: StagePayment, FailDestination: StageProductValidationRollback, Order: 1},
		{Name: StagePayment, SuccessDestination: StageFinishSuccess, FailDestination: StageInventoryRollback, Order: 2},
		{Name: StagePaymentRollback, SuccessDestination: StageInventoryRollback, FailDestination: StageInventoryRollback, Compensating: true},
		{Name: StageInventoryRollback, SuccessDestination: StageProductValidationRollback, FailDestination: StageProductValidationRollback, Compensating: true},
		{Name: StageProductValidationRollback, SuccessDestination: StageFinishFail, FailDestination: StageFinishFail, Compensating: true},
	}
}

func DefaultTopology() *Topology {
	t, err := NewTopology(DefaultStages(), DefaultRoutes())
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Topology) Stage(name StageName) (Stage, bool) {
	s, ok := t.stages[name]
	return s, ok
}

func (t *Topology) Route(name StageName) (Topic, bool) {
	topic, ok := t.routes[name]
	return topic, ok
}

// First is the entry stage of the forward pipeline.
func (t *Topology) First() Stage {
	return t.forward[0]
}

func (t *Topology) Forward() []Stage {
	return append([]Stage(nil), t.forward...)
}

func (t *Topology) IsTerminal(name StageName) bool {
	return isFinish(name)
}

// Topics lists every routed topic in a stable order.
func (t *Topology) Topics() []Topic {
	topics := make([]Topic, 0, len(t.routes))
	for _, topic := range t.routes {
		topics = append(topics, topic)
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i] < topics[j] })
	return topics
}

// StageForTopic resolves the stage whose inbound route is topic.
func (t *Topology) StageForTopic(topic Topic) (Stage, bool) {
	for name, routed := range t.routes {
		if routed == topic {
			s, ok := t.stages[name]
			return s, ok
		}
	}
	return Stage{}, false
}
