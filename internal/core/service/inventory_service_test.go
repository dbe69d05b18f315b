package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/retail-floor/internal/core/domain"
)

func seedItem(f *fixture, location string, status domain.InventoryStatus) domain.InventoryItem {
	pt := f.mem.AddProductType("Shirt")
	return f.mem.AddInventoryItem(domain.InventoryItem{
		ProductTypeID:    pt.ID,
		UniqueIdentifier: fmt.Sprintf("seed-%d", pt.ID),
		Status:           status,
		Location:         location,
	})
}

func itemByID(t *testing.T, f *fixture, id int64) domain.InventoryItem {
	t.Helper()
	items, err := f.inventory.ListInventory(context.Background())
	require.NoError(t, err)
	for _, item := range items {
		if item.ID == id {
			return item
		}
	}
	t.Fatalf("inventory item %d not found", id)
	return domain.InventoryItem{}
}

func transferByID(t *testing.T, f *fixture, id int64) domain.Transfer {
	t.Helper()
	transfers, err := f.inventory.ListTransfers(context.Background())
	require.NoError(t, err)
	for _, tr := range transfers {
		if tr.ID == id {
			return tr
		}
	}
	t.Fatalf("transfer %d not found", id)
	return domain.Transfer{}
}

// assertTransitInvariant checks that an item is InTransit exactly when one
// in_transit transfer references it.
func assertTransitInvariant(t *testing.T, f *fixture) {
	t.Helper()
	ctx := context.Background()
	items, err := f.inventory.ListInventory(ctx)
	require.NoError(t, err)
	transfers, err := f.inventory.ListTransfers(ctx)
	require.NoError(t, err)

	open := make(map[int64]int)
	for _, tr := range transfers {
		if tr.Status == domain.TransferInTransit {
			open[tr.InventoryItemID]++
		}
	}
	for _, item := range items {
		if item.Status == domain.InventoryInTransit {
			assert.Equal(t, 1, open[item.ID], "item %d", item.ID)
		} else {
			assert.Zero(t, open[item.ID], "item %d", item.ID)
		}
	}
}

func TestCreateTransfer(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := seedItem(f, "Store B", domain.InventoryAvailable)
	b := seedItem(f, "Store C", domain.InventoryAvailable)

	transfers, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{
		ItemIDs:       []int64{b.ID, a.ID},
		FromLocations: map[int64]string{a.ID: "Store B"},
		ToLocation:    " Store A ",
	})
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	for _, tr := range transfers {
		assert.Equal(t, domain.TransferInTransit, tr.Status)
		assert.Equal(t, "Store A", tr.TransferTo)
	}
	assert.Equal(t, "Store B", transfers[0].TransferFrom)
	assert.Equal(t, "Store C", transfers[1].TransferFrom)
	assert.Equal(t, domain.InventoryInTransit, itemByID(t, f, a.ID).Status)
	assert.Equal(t, "Store B", itemByID(t, f, a.ID).Location, "location changes only on receipt")
	assert.Equal(t, []domain.EventType{domain.EventTransfersCreated, domain.EventInventoryUpdated}, f.sink.types())
	assertTransitInvariant(t, f)
}

func TestCreateTransfer_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := seedItem(f, "Store B", domain.InventoryAvailable)
	sold := seedItem(f, "Store B", domain.InventorySold)

	cases := []struct {
		name string
		req  domain.TransferRequest
		want error
	}{
		{"empty", domain.TransferRequest{ToLocation: "Store A"}, domain.ErrInvalidInput},
		{"no destination", domain.TransferRequest{ItemIDs: []int64{item.ID}}, domain.ErrInvalidInput},
		{"bad id", domain.TransferRequest{ItemIDs: []int64{-4}, ToLocation: "Store A"}, domain.ErrInvalidInput},
		{"duplicate id", domain.TransferRequest{ItemIDs: []int64{item.ID, item.ID}, ToLocation: "Store A"}, domain.ErrInvalidInput},
		{"missing item", domain.TransferRequest{ItemIDs: []int64{item.ID, 999}, ToLocation: "Store A"}, domain.ErrNotFound},
		{"sold item", domain.TransferRequest{ItemIDs: []int64{item.ID, sold.ID}, ToLocation: "Store A"}, domain.ErrConflict},
		{"stale origin", domain.TransferRequest{
			ItemIDs:       []int64{item.ID},
			FromLocations: map[int64]string{item.ID: "Store Z"},
			ToLocation:    "Store A",
		}, domain.ErrConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.inventory.CreateTransfer(ctx, tc.req)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.Equal(t, domain.InventoryAvailable, itemByID(t, f, item.ID).Status, "a rejected batch leaves every item untouched")
	assert.Empty(t, f.sink.types())

	_, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: "Store A"})
	require.NoError(t, err)
	_, err = f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: "Store D"})
	assert.ErrorIs(t, err, domain.ErrConflict, "an item has at most one open transfer")
	assertTransitInvariant(t, f)
}

func TestCompleteTransfer_AtHub(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := seedItem(f, "Store B", domain.InventoryAvailable)

	transfers, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: DefaultHubLocation})
	require.NoError(t, err)

	f.sink.reset()
	done, err := f.inventory.CompleteTransfer(ctx, transfers[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.TransferDelivered, done.Transfer.Status)
	assert.Equal(t, domain.InventoryAvailable, done.Item.Status)
	assert.Equal(t, DefaultHubLocation, done.Item.Location)
	assert.Equal(t, []domain.EventType{domain.EventInventoryUpdated, domain.EventTransferUpdated}, f.sink.types())
	assertTransitInvariant(t, f)

	_, err = f.inventory.CompleteTransfer(ctx, transfers[0].ID, DefaultHubLocation)
	assert.ErrorIs(t, err, domain.ErrConflict, "a delivered transfer cannot be completed again")

	_, err = f.inventory.CompleteTransfer(ctx, 404, "")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCompleteTransfer_ReceivingAwayFromHub(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := seedItem(f, "Store B", domain.InventoryAvailable)

	transfers, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: DefaultHubLocation})
	require.NoError(t, err)

	f.sink.reset()
	_, err = f.inventory.CompleteTransfer(ctx, transfers[0].ID, "Store B")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.InventoryInTransit, itemByID(t, f, item.ID).Status)
	assert.Equal(t, domain.TransferInTransit, transferByID(t, f, transfers[0].ID).Status)
	assert.Empty(t, f.sink.types())
}

func TestCompleteTransfer_LookupErrorsComeFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := seedItem(f, "Store B", domain.InventoryAvailable)

	_, err := f.inventory.CompleteTransfer(ctx, 404, "Store B")
	assert.ErrorIs(t, err, domain.ErrNotFound, "an unknown transfer is reported before the receiving location")

	transfers, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: DefaultHubLocation})
	require.NoError(t, err)
	_, err = f.inventory.CompleteTransfer(ctx, transfers[0].ID, "")
	require.NoError(t, err)

	_, err = f.inventory.CompleteTransfer(ctx, transfers[0].ID, "Store B")
	assert.ErrorIs(t, err, domain.ErrConflict, "a delivered transfer is reported before the receiving location")
}

func TestCompleteTransfer_DestinationNotHub(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := seedItem(f, DefaultHubLocation, domain.InventoryAvailable)

	transfers, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: "Store B"})
	require.NoError(t, err)

	_, err = f.inventory.CompleteTransfer(ctx, transfers[0].ID, "")
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	assert.Equal(t, domain.TransferInTransit, transferByID(t, f, transfers[0].ID).Status)
	assertTransitInvariant(t, f)
}

func TestCompleteTransfer_CustomHub(t *testing.T) {
	f := newFixture(WithHubLocation("Warehouse"))
	ctx := context.Background()
	item := seedItem(f, "Store B", domain.InventoryAvailable)

	transfers, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: "Warehouse"})
	require.NoError(t, err)

	done, err := f.inventory.CompleteTransfer(ctx, transfers[0].ID, "Warehouse")
	require.NoError(t, err)
	assert.Equal(t, "Warehouse", done.Item.Location)
}

func TestCompleteTransfer_PartialFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := seedItem(f, "Store B", domain.InventoryAvailable)

	transfers, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: DefaultHubLocation})
	require.NoError(t, err)

	f.sink.reset()
	f.store.failItemUpdates.Store(true)
	_, err = f.inventory.CompleteTransfer(ctx, transfers[0].ID, "")
	f.store.failItemUpdates.Store(false)

	require.ErrorIs(t, err, domain.ErrTransferPartiallyApplied)
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Equal(t, domain.TransferDelivered, transferByID(t, f, transfers[0].ID).Status)
	assert.Equal(t, domain.InventoryInTransit, itemByID(t, f, item.ID).Status)
	assert.Equal(t, []domain.EventType{domain.EventTransferUpdated}, f.sink.types(), "only the committed half is announced")
}

func TestCompleteTransfer_AtomicRollsBack(t *testing.T) {
	f := newFixture(WithAtomicTransferCompletion(true))
	ctx := context.Background()
	item := seedItem(f, "Store B", domain.InventoryAvailable)

	transfers, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{item.ID}, ToLocation: DefaultHubLocation})
	require.NoError(t, err)

	f.sink.reset()
	f.store.failItemUpdates.Store(true)
	_, err = f.inventory.CompleteTransfer(ctx, transfers[0].ID, "")
	f.store.failItemUpdates.Store(false)

	require.ErrorIs(t, err, domain.ErrInternal)
	assert.NotErrorIs(t, err, domain.ErrTransferPartiallyApplied)
	assert.Equal(t, domain.TransferInTransit, transferByID(t, f, transfers[0].ID).Status)
	assert.Empty(t, f.sink.types())
	assertTransitInvariant(t, f)

	done, err := f.inventory.CompleteTransfer(ctx, transfers[0].ID, "")
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryAvailable, done.Item.Status)
	assertTransitInvariant(t, f)
}

func TestPatchInventoryFields(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := seedItem(f, "Store B", domain.InventoryAvailable)
	b := seedItem(f, "Store B", domain.InventoryAvailable)

	updated, err := f.inventory.PatchInventoryFields(ctx, []int64{a.ID, b.ID}, map[string]any{"status": "Sold", "location": "Store C"})
	require.NoError(t, err)
	require.Len(t, updated, 2)
	for _, item := range updated {
		assert.Equal(t, domain.InventorySold, item.Status)
		assert.Equal(t, "Store C", item.Location)
	}
	assert.Equal(t, []domain.EventType{domain.EventInventoryUpdated}, f.sink.types())

	updated, err = f.inventory.PatchInventoryFields(ctx, []int64{a.ID}, map[string]any{"status": "Transferred"})
	require.NoError(t, err)
	assert.Equal(t, domain.InventoryAvailable, updated[0].Status, "legacy alias is stored as Available")
}

func TestPatchInventoryFields_Rejections(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	item := seedItem(f, "Store B", domain.InventoryAvailable)
	moving := seedItem(f, "Store C", domain.InventoryAvailable)
	_, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{moving.ID}, ToLocation: DefaultHubLocation})
	require.NoError(t, err)
	f.sink.reset()

	cases := []struct {
		name   string
		ids    []int64
		fields map[string]any
		want   error
	}{
		{"no ids", nil, map[string]any{"status": "Sold"}, domain.ErrInvalidInput},
		{"no fields", []int64{item.ID}, map[string]any{}, domain.ErrInvalidInput},
		{"disallowed field", []int64{item.ID}, map[string]any{"unique_identifier": "x"}, domain.ErrInvalidInput},
		{"non-string", []int64{item.ID}, map[string]any{"location": 7}, domain.ErrInvalidInput},
		{"unknown status", []int64{item.ID}, map[string]any{"status": "Lost"}, domain.ErrInvalidInput},
		{"enter transit", []int64{item.ID}, map[string]any{"status": "InTransit"}, domain.ErrConflict},
		{"item in transit", []int64{moving.ID}, map[string]any{"status": "Sold"}, domain.ErrConflict},
		{"missing item", []int64{item.ID, 999}, map[string]any{"status": "Sold"}, domain.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.inventory.PatchInventoryFields(ctx, tc.ids, tc.fields)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	assert.Equal(t, domain.InventoryAvailable, itemByID(t, f, item.ID).Status)
	assert.Empty(t, f.sink.types())
	assertTransitInvariant(t, f)
}

func TestListTransfers_NewestFirst(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	a := seedItem(f, "Store B", domain.InventoryAvailable)
	b := seedItem(f, "Store C", domain.InventoryAvailable)

	first, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{a.ID}, ToLocation: DefaultHubLocation})
	require.NoError(t, err)
	second, err := f.inventory.CreateTransfer(ctx, domain.TransferRequest{ItemIDs: []int64{b.ID}, ToLocation: DefaultHubLocation})
	require.NoError(t, err)

	transfers, err := f.inventory.ListTransfers(ctx)
	require.NoError(t, err)
	require.Len(t, transfers, 2)
	assert.Equal(t, second[0].ID, transfers[0].ID)
	assert.Equal(t, first[0].ID, transfers[1].ID)
}
