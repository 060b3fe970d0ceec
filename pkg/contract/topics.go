package contract

import "github.com/ali449/saga-orchestrator/pkg/kafka"

// Kafka topics. Every message is keyed by its aggregate id.
var (
	OrderEvents        = kafka.Topic("order", "events")
	OrderCommands      = kafka.Topic("order", "commands")
	InventoryEvents    = kafka.Topic("inventory", "events")
	InventoryCommands  = kafka.Topic("inventory", "commands")
	PaymentEvents      = kafka.Topic("payment", "events")
	PaymentCommands    = kafka.Topic("payment", "commands")
	OrchestratorEvents = kafka.Topic("orchestrator", "events")
)

// Consumer groups.
const (
	OrchestratorGroup = "orchestrator-group"
	InventoryGroup    = "inventory-group"
	PaymentGroup      = "payment-group"
	OrderGroup        = "order-group"
)

// StatusChannel is the Redis pub/sub channel carrying saga status snapshots.
const StatusChannel = "saga:status"

// AggregateOrder is the aggregate type of order saga envelopes.
const AggregateOrder = "order"
