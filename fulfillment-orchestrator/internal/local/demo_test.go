package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fulfillment/platform/fulfillment-common/pkg/saga"
)

var epoch = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return epoch }

func TestScenarios(t *testing.T) {
	demo := NewDemo(fixedClock)
	results := demo.Run(context.Background(), Scenarios(epoch))
	require.Len(t, results, 3)

	a := results[0]
	require.NoError(t, a.Err)
	assert.Equal(t, saga.StageFinishSuccess, a.Event.CurrentStage)
	assert.Len(t, a.Event.History, 4)
	assert.Equal(t, 25.0, a.Event.Payload.TotalAmount)
	assert.Equal(t, 3, a.Event.Payload.TotalItems)

	b := results[1]
	require.NoError(t, b.Err)
	assert.Equal(t, saga.StageFinishFail, b.Event.CurrentStage)
	require.Len(t, b.Event.History, 6)
	assert.Equal(t, "The minimum amount available is 0.1", b.Event.History[2].Message)
	assert.Equal(t, "Rollback executed for inventory!", b.Event.History[3].Message)
	assert.Equal(t, "Rollback executed on product validation!", b.Event.History[4].Message)
	assert.Equal(t, []saga.Topic{
		saga.TopicProductValidationSuccess, saga.TopicOrchestrator,
		saga.TopicInventorySuccess, saga.TopicOrchestrator,
		saga.TopicPaymentSuccess, saga.TopicOrchestrator,
		saga.TopicInventoryFail, saga.TopicOrchestrator,
		saga.TopicProductValidationFail, saga.TopicOrchestrator,
		saga.TopicFinishFail,
	}, b.Topics)

	c := results[2]
	require.NoError(t, c.Err)
	assert.Equal(t, saga.StageFinishFail, c.Event.CurrentStage)
	require.Len(t, c.Event.History, 2)
	assert.Equal(t, "PRODUCT_VALIDATION_SERVICE", c.Event.History[0].Source)
	assert.Equal(t, saga.StatusFail, c.Event.History[0].Status)
	assert.Equal(t, "There's another transactionId for this validation.", c.Event.History[0].Message)
}

func TestUnknownProductFailsValidation(t *testing.T) {
	demo := NewDemo(fixedClock)
	ev := saga.NewEvent("order-x", "tx-x", []saga.Product{{ProductID: "GHOST", Quantity: 1, UnitValue: 3}}, epoch)

	results := demo.Run(context.Background(), []Scenario{{Name: "unknown", Event: ev}})
	require.NoError(t, results[0].Err)
	assert.Equal(t, saga.StageFinishFail, results[0].Event.CurrentStage)
	assert.Equal(t, "Product does not exist in database!", results[0].Event.History[0].Message)
}

func TestInventoryRollbackReleasesStock(t *testing.T) {
	demo := NewDemo(fixedClock)
	// ten COMIC_BOOKS at 0.001 each passes inventory and fails payment
	cheap := saga.NewEvent("order-1", "tx-1", []saga.Product{{ProductID: "COMIC_BOOKS", Quantity: 10, UnitValue: 0.001}}, epoch)
	full := saga.NewEvent("order-2", "tx-2", []saga.Product{{ProductID: "COMIC_BOOKS", Quantity: 10, UnitValue: 1}}, epoch)

	results := demo.Run(context.Background(), []Scenario{{Name: "cheap", Event: cheap}, {Name: "full", Event: full}})
	assert.Equal(t, saga.StageFinishFail, results[0].Event.CurrentStage)
	assert.Equal(t, saga.StageFinishSuccess, results[1].Event.CurrentStage, "released stock must be reservable again")
}

func TestOutOfStock(t *testing.T) {
	demo := NewDemo(fixedClock)
	ev := saga.NewEvent("order-3", "tx-3", []saga.Product{{ProductID: "MUSIC", Quantity: 11, UnitValue: 1}}, epoch)

	results := demo.Run(context.Background(), []Scenario{{Name: "oos", Event: ev}})
	assert.Equal(t, saga.StageFinishFail, results[0].Event.CurrentStage)
	require.Len(t, results[0].Event.History, 4)
	assert.Equal(t, "Product is out of stock!", results[0].Event.History[1].Message)
	assert.Equal(t, "Rollback executed on product validation!", results[0].Event.History[2].Message)
}
