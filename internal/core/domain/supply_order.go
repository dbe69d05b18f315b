package domain

import "time"

type SupplyOrderStatus string

const (
	SupplyOrderPending   SupplyOrderStatus = "pending"
	SupplyOrderDelivered SupplyOrderStatus = "delivered"
)

type SupplyOrder struct {
	ID            int64             `json:"id"`
	ProductTypeID int64             `json:"product_type_id"`
	Quantity      int               `json:"quantity"`
	Color         string            `json:"color,omitempty"`
	Size          string            `json:"size,omitempty"`
	Status        SupplyOrderStatus `json:"status"`
	OrderedAt     time.Time         `json:"ordered_at"`
	ExpectedAt    time.Time         `json:"expected_at"`
}

// Upper bounds on a single supply order. Completing an order materializes
// every unit in one transaction.
const (
	MaxSupplyQuantity = 10000
	MaxLeadTimeDays   = 3650
)

// ExpectedArrival is the order time shifted by whole lead-time days.
func ExpectedArrival(orderedAt time.Time, leadTimeDays int) time.Time {
	return orderedAt.AddDate(0, 0, leadTimeDays)
}

type ProductType struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
