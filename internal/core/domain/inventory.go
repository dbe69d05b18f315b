package domain

import "strings"

type InventoryStatus string

const (
	InventoryAvailable InventoryStatus = "Available"
	InventoryInTransit InventoryStatus = "InTransit"
	InventorySold      InventoryStatus = "Sold"

	// InventoryTransferred is a legacy display value; it is stored as Available.
	InventoryTransferred InventoryStatus = "Transferred"
)

type InventoryItem struct {
	ID               int64           `json:"id"`
	ProductTypeID    int64           `json:"product_type_id"`
	UniqueIdentifier string          `json:"unique_identifier"`
	Status           InventoryStatus `json:"status"`
	Location         string          `json:"location"`
	Color            string          `json:"color,omitempty"`
	Size             string          `json:"size,omitempty"`
}

// ParseInventoryStatus accepts the stored spellings plus the legacy aliases
// the front end has used ("in_transit", "Transferred").
func ParseInventoryStatus(s string) (InventoryStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "available", "transferred":
		return InventoryAvailable, true
	case "intransit", "in_transit":
		return InventoryInTransit, true
	case "sold":
		return InventorySold, true
	}
	return "", false
}

var inventoryTransitions = map[InventoryStatus][]InventoryStatus{
	InventoryAvailable: {InventoryInTransit, InventorySold, InventoryAvailable},
	InventoryInTransit: {InventoryAvailable},
	InventorySold:      {InventoryAvailable},
}

// CanTransition reports whether an item may move from one stored status to another.
// Sold -> Available covers returns processed by an administrator.
func (s InventoryStatus) CanTransition(to InventoryStatus) bool {
	for _, next := range inventoryTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// InventoryPatch is the allow-listed set of administratively mutable fields.
type InventoryPatch struct {
	Status   *InventoryStatus
	Location *string
}

var patchableInventoryFields = map[string]bool{
	"status":   true,
	"location": true,
}

// IsPatchableInventoryField reports whether key may appear in an inventory patch.
func IsPatchableInventoryField(key string) bool {
	return patchableInventoryFields[key]
}
