package port

import (
	"context"
	"time"

	"github.com/rl1809/retail-floor/internal/core/domain"
)

// LeaseStore is the transactional row store the engine runs against.
// Every mutating operation executes inside exactly one WithinTx call; row
// locks taken through LeaseTx are held until the transaction ends.
type LeaseStore interface {
	// WithinTx runs fn in a transaction, committing when fn returns nil and
	// rolling back otherwise. The store bounds the transaction with its own
	// timeout and reports expiry as domain.ErrTxTimeout.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx LeaseTx) error) error

	ListReps(ctx context.Context) ([]domain.SalesRep, error)
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	ListInventory(ctx context.Context) ([]domain.InventoryItem, error)
	ListProductTypes(ctx context.Context) ([]domain.ProductType, error)
	ListTransfers(ctx context.Context) ([]domain.Transfer, error)
	ListSupplyOrders(ctx context.Context) ([]domain.SupplyOrder, error)

	Close() error
}

// LeaseTx is the set of row operations available inside a transaction.
// Lookups return (nil, nil) when the row does not exist.
type LeaseTx interface {
	// LockRepByIdentity locks the rep row owned by a caller identity.
	LockRepByIdentity(ctx context.Context, identity string) (*domain.SalesRep, error)
	LockRep(ctx context.Context, id int64) (*domain.SalesRep, error)
	InsertRep(ctx context.Context, rep domain.SalesRep) (*domain.SalesRep, error)
	// UpdateRep writes name, avatar, status, total_customers and finished_at.
	UpdateRep(ctx context.Context, rep domain.SalesRep) error
	// RecordRepFinished atomically increments total_customers and marks the
	// rep available with the given finished_at.
	RecordRepFinished(ctx context.Context, repID int64, finishedAt time.Time) (*domain.SalesRep, error)

	// ClaimNextWaitingCustomer locks the oldest waiting, unassigned customer
	// that is not locked by another transaction. It never waits on a row
	// claimed elsewhere; it returns nil when no unclaimed candidate remains.
	ClaimNextWaitingCustomer(ctx context.Context) (*domain.Customer, error)
	GetCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	LockCustomer(ctx context.Context, id int64) (*domain.Customer, error)
	// LockCustomerInProgress locks the customer being helped by repID.
	LockCustomerInProgress(ctx context.Context, repID int64) (*domain.Customer, error)
	InsertCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	UpdateCustomer(ctx context.Context, c domain.Customer) error
	DeleteCustomer(ctx context.Context, id int64) error

	// LockInventoryItems locks the given items in ascending id order. Missing
	// ids are absent from the result.
	LockInventoryItems(ctx context.Context, ids []int64) ([]domain.InventoryItem, error)
	UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) error
	InsertInventoryItems(ctx context.Context, items []domain.InventoryItem) ([]domain.InventoryItem, error)

	InsertTransfers(ctx context.Context, transfers []domain.Transfer) ([]domain.Transfer, error)
	LockTransfer(ctx context.Context, id int64) (*domain.Transfer, error)
	UpdateTransferStatus(ctx context.Context, id int64, status domain.TransferStatus) error

	ProductTypeExists(ctx context.Context, id int64) (bool, error)
	InsertSupplyOrder(ctx context.Context, order domain.SupplyOrder) (*domain.SupplyOrder, error)
	GetSupplyOrder(ctx context.Context, id int64) (*domain.SupplyOrder, error)
	// MarkSupplyOrderDelivered is a conditional update: it flips the order to
	// delivered only if it is not delivered yet and reports whether it did.
	MarkSupplyOrderDelivered(ctx context.Context, id int64) (bool, error)
}
