package domain

import "time"

type EventType string

const (
	EventCustomerCreated    EventType = "customerCreated"
	EventCustomerUpdated    EventType = "customerUpdated"
	EventCustomerDeleted    EventType = "customerDeleted"
	EventRepUpdated         EventType = "repUpdated"
	EventTransfersCreated   EventType = "transfersCreated"
	EventTransferUpdated    EventType = "transferUpdated"
	EventInventoryUpdated   EventType = "inventoryUpdated"
	EventInventoryCreated   EventType = "inventoryCreated"
	EventSupplyOrderCreated EventType = "supplyOrderCreated"
	EventSupplyOrderUpdated EventType = "supplyOrderUpdated"
)

// Event describes committed state. It is built only after the owning
// transaction has committed.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

type CustomerDeleted struct {
	ID int64 `json:"id"`
}
