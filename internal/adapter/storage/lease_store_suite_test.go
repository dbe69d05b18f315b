package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

// storeHarness adapts one backend to the shared lease store suite.
type storeHarness struct {
	store          port.LeaseStore
	addProductType func(t *testing.T, name string) int64
	rowLocks       bool
	uniqueSuffix   string
}

func runLeaseStoreSuite(t *testing.T, h storeHarness) {
	t.Run("RepLifecycle", func(t *testing.T) { testRepLifecycle(t, h) })
	t.Run("ClaimOrder", func(t *testing.T) { testClaimOrder(t, h) })
	t.Run("RollbackDiscardsWrites", func(t *testing.T) { testRollback(t, h) })
	t.Run("InventoryAndTransfers", func(t *testing.T) { testInventoryAndTransfers(t, h) })
	t.Run("SupplyOrderConditionalUpdate", func(t *testing.T) { testSupplyOrder(t, h) })
	if h.rowLocks {
		t.Run("ClaimSkipsLockedCustomer", func(t *testing.T) { testClaimSkipsLocked(t, h) })
	}
}

func testRepLifecycle(t *testing.T, h storeHarness) {
	ctx := context.Background()
	identity := "rep-lifecycle-" + h.uniqueSuffix

	var repID int64
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		rep, err := tx.InsertRep(ctx, domain.SalesRep{IdentityRef: identity, Name: "Ada", Status: domain.RepAvailable})
		if err != nil {
			return err
		}
		repID = rep.ID
		return nil
	})
	require.NoError(t, err)
	require.NotZero(t, repID)

	finishedAt := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		rep, err := tx.LockRepByIdentity(ctx, identity)
		require.NoError(t, err)
		require.NotNil(t, rep)
		assert.Equal(t, repID, rep.ID)
		assert.Nil(t, rep.FinishedAt)

		rep.Status = domain.RepBusy
		rep.AvatarURL = "https://example.test/ada.png"
		require.NoError(t, tx.UpdateRep(ctx, *rep))

		updated, err := tx.RecordRepFinished(ctx, repID, finishedAt)
		require.NoError(t, err)
		require.NotNil(t, updated)
		assert.Equal(t, 1, updated.TotalCustomers)
		assert.Equal(t, domain.RepAvailable, updated.Status)
		require.NotNil(t, updated.FinishedAt)
		assert.True(t, finishedAt.Equal(*updated.FinishedAt))
		return nil
	})
	require.NoError(t, err)

	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		missing, err := tx.LockRepByIdentity(ctx, "nobody-"+h.uniqueSuffix)
		require.NoError(t, err)
		assert.Nil(t, missing)
		return nil
	})
	require.NoError(t, err)
}

func testClaimOrder(t *testing.T, h storeHarness) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

	var ids []int64
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		// Inserted out of arrival order.
		for _, offset := range []int{2, 0, 1} {
			c, err := tx.InsertCustomer(ctx, domain.Customer{
				Name:      fmt.Sprintf("claim-%d", offset),
				Status:    domain.CustomerWaiting,
				CreatedAt: base.Add(time.Duration(offset) * time.Minute),
			})
			if err != nil {
				return err
			}
			ids = append(ids, c.ID)
		}
		return nil
	})
	require.NoError(t, err)

	var claimed *domain.Customer
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		var err error
		claimed, err = tx.ClaimNextWaitingCustomer(ctx)
		return err
	})
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, ids[1], claimed.ID, "oldest waiting customer is claimed first")

	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		for _, id := range ids {
			require.NoError(t, tx.DeleteCustomer(ctx, id))
		}
		return nil
	})
	require.NoError(t, err)
}

func testRollback(t *testing.T, h storeHarness) {
	ctx := context.Background()
	boom := errors.New("boom")

	var id int64
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		c, err := tx.InsertCustomer(ctx, domain.Customer{Name: "ghost", Status: domain.CustomerWaiting, CreatedAt: time.Now()})
		require.NoError(t, err)
		id = c.ID
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		c, err := tx.GetCustomer(ctx, id)
		require.NoError(t, err)
		assert.Nil(t, c)
		return nil
	})
	require.NoError(t, err)
}

func testInventoryAndTransfers(t *testing.T, h storeHarness) {
	ctx := context.Background()
	productType := h.addProductType(t, "Jacket")

	var items []domain.InventoryItem
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		var err error
		items, err = tx.InsertInventoryItems(ctx, []domain.InventoryItem{
			{ProductTypeID: productType, UniqueIdentifier: "uid-a-" + h.uniqueSuffix, Status: domain.InventoryAvailable, Location: "Store A", Color: "red"},
			{ProductTypeID: productType, UniqueIdentifier: "uid-b-" + h.uniqueSuffix, Status: domain.InventoryAvailable, Location: "Store A", Size: "M"},
		})
		return err
	})
	require.NoError(t, err)
	require.Len(t, items, 2)

	var transferID int64
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		locked, err := tx.LockInventoryItems(ctx, []int64{items[1].ID, -1, items[0].ID})
		require.NoError(t, err)
		require.Len(t, locked, 2, "missing ids are absent")
		assert.Less(t, locked[0].ID, locked[1].ID)

		item := locked[0]
		item.Status = domain.InventoryInTransit
		require.NoError(t, tx.UpdateInventoryItem(ctx, item))

		transfers, err := tx.InsertTransfers(ctx, []domain.Transfer{{
			InventoryItemID: item.ID,
			TransferFrom:    "Store A",
			TransferTo:      "Store B",
			Status:          domain.TransferInTransit,
			TransferDate:    time.Now().UTC(),
		}})
		require.NoError(t, err)
		transferID = transfers[0].ID
		return nil
	})
	require.NoError(t, err)

	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		tr, err := tx.LockTransfer(ctx, transferID)
		require.NoError(t, err)
		require.NotNil(t, tr)
		assert.Equal(t, domain.TransferInTransit, tr.Status)
		assert.Equal(t, "Store B", tr.TransferTo)
		return tx.UpdateTransferStatus(ctx, transferID, domain.TransferDelivered)
	})
	require.NoError(t, err)

	transfers, err := h.store.ListTransfers(ctx)
	require.NoError(t, err)
	var found bool
	for _, tr := range transfers {
		if tr.ID == transferID {
			found = true
			assert.Equal(t, domain.TransferDelivered, tr.Status)
		}
	}
	assert.True(t, found)

	inventory, err := h.store.ListInventory(ctx)
	require.NoError(t, err)
	for _, item := range inventory {
		if item.ID == items[0].ID {
			assert.Equal(t, domain.InventoryInTransit, item.Status)
			assert.Equal(t, "red", item.Color)
		}
	}
}

func testSupplyOrder(t *testing.T, h storeHarness) {
	ctx := context.Background()
	productType := h.addProductType(t, "Scarf")
	now := time.Now().UTC().Truncate(time.Second)

	var orderID int64
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		ok, err := tx.ProductTypeExists(ctx, productType)
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = tx.ProductTypeExists(ctx, productType+1000)
		require.NoError(t, err)
		assert.False(t, ok)

		order, err := tx.InsertSupplyOrder(ctx, domain.SupplyOrder{
			ProductTypeID: productType,
			Quantity:      2,
			Status:        domain.SupplyOrderPending,
			OrderedAt:     now,
			ExpectedAt:    domain.ExpectedArrival(now, 3),
		})
		if err != nil {
			return err
		}
		orderID = order.ID
		return nil
	})
	require.NoError(t, err)

	for i, want := range []bool{true, false} {
		err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			updated, err := tx.MarkSupplyOrderDelivered(ctx, orderID)
			require.NoError(t, err)
			assert.Equal(t, want, updated, "attempt %d", i+1)
			return nil
		})
		require.NoError(t, err)
	}

	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		order, err := tx.GetSupplyOrder(ctx, orderID)
		require.NoError(t, err)
		require.NotNil(t, order)
		assert.Equal(t, domain.SupplyOrderDelivered, order.Status)
		assert.True(t, order.ExpectedAt.Equal(now.Add(72*time.Hour)))
		return nil
	})
	require.NoError(t, err)
}

func testClaimSkipsLocked(t *testing.T, h storeHarness) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	var first, second int64
	err := h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		a, err := tx.InsertCustomer(ctx, domain.Customer{Name: "first", Status: domain.CustomerWaiting, CreatedAt: base})
		if err != nil {
			return err
		}
		b, err := tx.InsertCustomer(ctx, domain.Customer{Name: "second", Status: domain.CustomerWaiting, CreatedAt: base.Add(time.Second)})
		if err != nil {
			return err
		}
		first, second = a.ID, b.ID
		return nil
	})
	require.NoError(t, err)

	claimed := make(chan int64, 1)
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			c, err := tx.ClaimNextWaitingCustomer(ctx)
			if err != nil {
				return err
			}
			claimed <- c.ID
			<-release
			return nil
		})
	}()

	require.Equal(t, first, <-claimed)

	var other *domain.Customer
	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		var err error
		other, err = tx.ClaimNextWaitingCustomer(ctx)
		return err
	})
	close(release)
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.NotNil(t, other)
	assert.Equal(t, second, other.ID, "a row claimed elsewhere is skipped, not waited on")

	err = h.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		require.NoError(t, tx.DeleteCustomer(ctx, first))
		return tx.DeleteCustomer(ctx, second)
	})
	require.NoError(t, err)
}
