package domain

import "time"

type TransferStatus string

const (
	TransferInTransit TransferStatus = "in_transit"
	TransferDelivered TransferStatus = "Delivered"
)

type Transfer struct {
	ID              int64          `json:"id"`
	InventoryItemID int64          `json:"inventory_item_id"`
	TransferFrom    string         `json:"transfer_from"`
	TransferTo      string         `json:"transfer_to"`
	Status          TransferStatus `json:"status"`
	TransferDate    time.Time      `json:"transfer_date"`
}

// TransferRequest asks for a batch of items to move to one destination.
// FromLocations, when set, is the caller's view of each item's origin keyed by
// item id; a mismatch with the stored location means the caller is stale.
type TransferRequest struct {
	ItemIDs       []int64
	FromLocations map[int64]string
	ToLocation    string
}
