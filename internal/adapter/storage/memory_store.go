package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

var _ port.LeaseStore = (*MemoryStore)(nil)

const defaultTxTimeout = 5 * time.Second

type rowKey struct {
	table string
	id    int64
}

type memTable[T any] struct {
	name string
	rows map[int64]T
	seq  int64
}

func newMemTable[T any](name string) *memTable[T] {
	return &memTable[T]{name: name, rows: make(map[int64]T)}
}

// MemoryStore is an in-process lease store with row-level locks. Writes are
// staged per transaction and become visible to others only on commit; a row
// written or locked by one transaction cannot be locked by another until the
// first ends. It backs local development and tests.
type MemoryStore struct {
	mu        sync.Mutex
	locks     map[rowKey]uint64
	released  chan struct{}
	txSeq     uint64
	txTimeout time.Duration

	reps         *memTable[domain.SalesRep]
	customers    *memTable[domain.Customer]
	items        *memTable[domain.InventoryItem]
	transfers    *memTable[domain.Transfer]
	orders       *memTable[domain.SupplyOrder]
	productTypes *memTable[domain.ProductType]
}

func NewMemoryStore(txTimeout time.Duration) *MemoryStore {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &MemoryStore{
		locks:        make(map[rowKey]uint64),
		released:     make(chan struct{}),
		txTimeout:    txTimeout,
		reps:         newMemTable[domain.SalesRep]("salesreps"),
		customers:    newMemTable[domain.Customer]("customers"),
		items:        newMemTable[domain.InventoryItem]("inventory_items"),
		transfers:    newMemTable[domain.Transfer]("transfers"),
		orders:       newMemTable[domain.SupplyOrder]("supply_orders"),
		productTypes: newMemTable[domain.ProductType]("product_types"),
	}
}

func (s *MemoryStore) Close() error { return nil }

// AddProductType seeds a product type outside of any transaction.
func (s *MemoryStore) AddProductType(name string) domain.ProductType {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.productTypes.seq++
	pt := domain.ProductType{ID: s.productTypes.seq, Name: name}
	s.productTypes.rows[pt.ID] = pt
	return pt
}

// AddInventoryItem seeds an inventory item outside of any transaction.
func (s *MemoryStore) AddInventoryItem(item domain.InventoryItem) domain.InventoryItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items.seq++
	item.ID = s.items.seq
	s.items.rows[item.ID] = item
	return item
}

func (s *MemoryStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.LeaseTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	s.mu.Lock()
	s.txSeq++
	tx := &memTx{
		store:     s,
		id:        s.txSeq,
		reps:      make(map[int64]*domain.SalesRep),
		customers: make(map[int64]*domain.Customer),
		items:     make(map[int64]*domain.InventoryItem),
		transfers: make(map[int64]*domain.Transfer),
		orders:    make(map[int64]*domain.SupplyOrder),
	}
	s.mu.Unlock()

	committed := false
	defer func() {
		// Also runs while a panic unwinds, so row locks never leak.
		if !committed {
			tx.rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", domain.ErrTxTimeout, err)
		}
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.ErrTxTimeout
	}
	tx.commit()
	committed = true
	return nil
}

func (s *MemoryStore) ListReps(ctx context.Context) ([]domain.SalesRep, error) {
	return listRows(s, s.reps), nil
}

func (s *MemoryStore) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	return listRows(s, s.customers), nil
}

func (s *MemoryStore) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	return listRows(s, s.items), nil
}

func (s *MemoryStore) ListProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	return listRows(s, s.productTypes), nil
}

func (s *MemoryStore) ListTransfers(ctx context.Context) ([]domain.Transfer, error) {
	return listRows(s, s.transfers), nil
}

func (s *MemoryStore) ListSupplyOrders(ctx context.Context) ([]domain.SupplyOrder, error) {
	return listRows(s, s.orders), nil
}

func listRows[T any](s *MemoryStore, t *memTable[T]) []T {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(t.rows))
	for id := range t.rows {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]T, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.rows[id])
	}
	return out
}

// memTx stages writes in per-table overlays. A nil overlay entry marks a
// deleted row.
type memTx struct {
	store *MemoryStore
	id    uint64
	held  []rowKey

	reps      map[int64]*domain.SalesRep
	customers map[int64]*domain.Customer
	items     map[int64]*domain.InventoryItem
	transfers map[int64]*domain.Transfer
	orders    map[int64]*domain.SupplyOrder
}

// lock blocks until the row is free or owned by tx.
func (tx *memTx) lock(ctx context.Context, key rowKey) error {
	s := tx.store
	for {
		s.mu.Lock()
		if tx.tryLockLocked(key) {
			s.mu.Unlock()
			return nil
		}
		wait := s.released
		s.mu.Unlock()

		select {
		case <-wait:
		case <-ctx.Done():
			return fmt.Errorf("lock %s %d: %w", key.table, key.id, ctx.Err())
		}
	}
}

// tryLockLocked must be called with store.mu held.
func (tx *memTx) tryLockLocked(key rowKey) bool {
	owner, ok := tx.store.locks[key]
	if ok && owner != tx.id {
		return false
	}
	if !ok {
		tx.store.locks[key] = tx.id
		tx.held = append(tx.held, key)
	}
	return true
}

func (tx *memTx) release() {
	s := tx.store
	for _, key := range tx.held {
		if s.locks[key] == tx.id {
			delete(s.locks, key)
		}
	}
	tx.held = nil
	close(s.released)
	s.released = make(chan struct{})
}

func (tx *memTx) rollback() {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	tx.release()
}

func (tx *memTx) commit() {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	applyOverlay(s.reps, tx.reps)
	applyOverlay(s.customers, tx.customers)
	applyOverlay(s.items, tx.items)
	applyOverlay(s.transfers, tx.transfers)
	applyOverlay(s.orders, tx.orders)
	tx.release()
}

func applyOverlay[T any](t *memTable[T], overlay map[int64]*T) {
	for id, row := range overlay {
		if row == nil {
			delete(t.rows, id)
			continue
		}
		t.rows[id] = *row
	}
}

// view returns the row as tx sees it. Must be called with store.mu held.
func view[T any](t *memTable[T], overlay map[int64]*T, id int64) (T, bool) {
	if row, ok := overlay[id]; ok {
		if row == nil {
			var zero T
			return zero, false
		}
		return *row, true
	}
	row, ok := t.rows[id]
	return row, ok
}

// visibleIDs lists every row id tx can see. Must be called with store.mu held.
func visibleIDs[T any](t *memTable[T], overlay map[int64]*T) []int64 {
	ids := make([]int64, 0, len(t.rows)+len(overlay))
	for id := range t.rows {
		if row, ok := overlay[id]; ok && row == nil {
			continue
		}
		ids = append(ids, id)
	}
	for id, row := range overlay {
		if _, committed := t.rows[id]; !committed && row != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func lockRow[T any](ctx context.Context, tx *memTx, t *memTable[T], overlay map[int64]*T, id int64) (*T, error) {
	if err := tx.lock(ctx, rowKey{table: t.name, id: id}); err != nil {
		return nil, err
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	row, ok := view(t, overlay, id)
	if !ok {
		return nil, nil
	}
	return &row, nil
}

func readRow[T any](tx *memTx, t *memTable[T], overlay map[int64]*T, id int64) *T {
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	row, ok := view(t, overlay, id)
	if !ok {
		return nil
	}
	return &row
}

func writeRow[T any](ctx context.Context, tx *memTx, t *memTable[T], overlay map[int64]*T, id int64, row *T) error {
	if err := tx.lock(ctx, rowKey{table: t.name, id: id}); err != nil {
		return err
	}
	if row != nil {
		if readRow(tx, t, overlay, id) == nil {
			return fmt.Errorf("%s %d does not exist", t.name, id)
		}
		cp := *row
		overlay[id] = &cp
		return nil
	}
	overlay[id] = nil
	return nil
}

func insertRow[T any](tx *memTx, t *memTable[T], overlay map[int64]*T, row T, setID func(*T, int64)) T {
	s := tx.store
	s.mu.Lock()
	t.seq++
	id := t.seq
	tx.tryLockLocked(rowKey{table: t.name, id: id})
	s.mu.Unlock()

	setID(&row, id)
	cp := row
	overlay[id] = &cp
	return row
}

func (tx *memTx) LockRepByIdentity(ctx context.Context, identity string) (*domain.SalesRep, error) {
	s := tx.store
	s.mu.Lock()
	var id int64
	for _, candidate := range visibleIDs(s.reps, tx.reps) {
		rep, _ := view(s.reps, tx.reps, candidate)
		if rep.IdentityRef == identity {
			id = candidate
			break
		}
	}
	s.mu.Unlock()
	if id == 0 {
		return nil, nil
	}
	return lockRow(ctx, tx, s.reps, tx.reps, id)
}

func (tx *memTx) LockRep(ctx context.Context, id int64) (*domain.SalesRep, error) {
	return lockRow(ctx, tx, tx.store.reps, tx.reps, id)
}

func (tx *memTx) InsertRep(ctx context.Context, rep domain.SalesRep) (*domain.SalesRep, error) {
	s := tx.store
	s.mu.Lock()
	for _, id := range visibleIDs(s.reps, tx.reps) {
		existing, _ := view(s.reps, tx.reps, id)
		if existing.IdentityRef == rep.IdentityRef {
			s.mu.Unlock()
			return nil, fmt.Errorf("rep with identity %q already exists", rep.IdentityRef)
		}
	}
	s.mu.Unlock()
	inserted := insertRow(tx, s.reps, tx.reps, rep, func(r *domain.SalesRep, id int64) { r.ID = id })
	return &inserted, nil
}

func (tx *memTx) UpdateRep(ctx context.Context, rep domain.SalesRep) error {
	return writeRow(ctx, tx, tx.store.reps, tx.reps, rep.ID, &rep)
}

func (tx *memTx) RecordRepFinished(ctx context.Context, repID int64, finishedAt time.Time) (*domain.SalesRep, error) {
	rep, err := lockRow(ctx, tx, tx.store.reps, tx.reps, repID)
	if err != nil || rep == nil {
		return nil, err
	}
	rep.TotalCustomers++
	rep.Status = domain.RepAvailable
	at := finishedAt
	rep.FinishedAt = &at
	if err := writeRow(ctx, tx, tx.store.reps, tx.reps, repID, rep); err != nil {
		return nil, err
	}
	return rep, nil
}

func (tx *memTx) ClaimNextWaitingCustomer(ctx context.Context) (*domain.Customer, error) {
	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []domain.Customer
	for _, id := range visibleIDs(s.customers, tx.customers) {
		c, _ := view(s.customers, tx.customers, id)
		if c.Status == domain.CustomerWaiting && c.RepID == nil {
			candidates = append(candidates, c)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if !candidates[i].CreatedAt.Equal(candidates[j].CreatedAt) {
			return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
		}
		return candidates[i].ID < candidates[j].ID
	})
	for _, c := range candidates {
		if tx.tryLockLocked(rowKey{table: s.customers.name, id: c.ID}) {
			claimed := c
			return &claimed, nil
		}
	}
	return nil, nil
}

func (tx *memTx) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	return readRow(tx, tx.store.customers, tx.customers, id), nil
}

func (tx *memTx) LockCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	return lockRow(ctx, tx, tx.store.customers, tx.customers, id)
}

func (tx *memTx) LockCustomerInProgress(ctx context.Context, repID int64) (*domain.Customer, error) {
	s := tx.store
	for {
		s.mu.Lock()
		var found int64
		for _, id := range visibleIDs(s.customers, tx.customers) {
			c, _ := view(s.customers, tx.customers, id)
			if c.Status == domain.CustomerBeingHelped && c.RepID != nil && *c.RepID == repID {
				found = id
				break
			}
		}
		s.mu.Unlock()
		if found == 0 {
			return nil, nil
		}

		c, err := lockRow(ctx, tx, s.customers, tx.customers, found)
		if err != nil {
			return nil, err
		}
		if c != nil && c.Status == domain.CustomerBeingHelped && c.RepID != nil && *c.RepID == repID {
			return c, nil
		}
		// Changed while we waited for the lock; look again.
	}
}

func (tx *memTx) InsertCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	inserted := insertRow(tx, tx.store.customers, tx.customers, c, func(c *domain.Customer, id int64) { c.ID = id })
	return &inserted, nil
}

func (tx *memTx) UpdateCustomer(ctx context.Context, c domain.Customer) error {
	return writeRow(ctx, tx, tx.store.customers, tx.customers, c.ID, &c)
}

func (tx *memTx) DeleteCustomer(ctx context.Context, id int64) error {
	return writeRow[domain.Customer](ctx, tx, tx.store.customers, tx.customers, id, nil)
}

func (tx *memTx) LockInventoryItems(ctx context.Context, ids []int64) ([]domain.InventoryItem, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var items []domain.InventoryItem
	var last int64
	for i, id := range sorted {
		if i > 0 && id == last {
			continue
		}
		last = id
		item, err := lockRow(ctx, tx, tx.store.items, tx.items, id)
		if err != nil {
			return nil, err
		}
		if item != nil {
			items = append(items, *item)
		}
	}
	return items, nil
}

func (tx *memTx) UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	return writeRow(ctx, tx, tx.store.items, tx.items, item.ID, &item)
}

func (tx *memTx) InsertInventoryItems(ctx context.Context, items []domain.InventoryItem) ([]domain.InventoryItem, error) {
	s := tx.store
	s.mu.Lock()
	taken := make(map[string]bool)
	for _, id := range visibleIDs(s.items, tx.items) {
		item, _ := view(s.items, tx.items, id)
		taken[item.UniqueIdentifier] = true
	}
	s.mu.Unlock()

	out := make([]domain.InventoryItem, 0, len(items))
	for _, item := range items {
		if taken[item.UniqueIdentifier] {
			return nil, fmt.Errorf("duplicate unique_identifier %q", item.UniqueIdentifier)
		}
		taken[item.UniqueIdentifier] = true
		out = append(out, insertRow(tx, s.items, tx.items, item, func(i *domain.InventoryItem, id int64) { i.ID = id }))
	}
	return out, nil
}

func (tx *memTx) InsertTransfers(ctx context.Context, transfers []domain.Transfer) ([]domain.Transfer, error) {
	out := make([]domain.Transfer, 0, len(transfers))
	for _, t := range transfers {
		out = append(out, insertRow(tx, tx.store.transfers, tx.transfers, t, func(t *domain.Transfer, id int64) { t.ID = id }))
	}
	return out, nil
}

func (tx *memTx) LockTransfer(ctx context.Context, id int64) (*domain.Transfer, error) {
	return lockRow(ctx, tx, tx.store.transfers, tx.transfers, id)
}

func (tx *memTx) UpdateTransferStatus(ctx context.Context, id int64, status domain.TransferStatus) error {
	t, err := lockRow(ctx, tx, tx.store.transfers, tx.transfers, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("transfer %d does not exist", id)
	}
	t.Status = status
	return writeRow(ctx, tx, tx.store.transfers, tx.transfers, id, t)
}

func (tx *memTx) ProductTypeExists(ctx context.Context, id int64) (bool, error) {
	return readRow[domain.ProductType](tx, tx.store.productTypes, nil, id) != nil, nil
}

func (tx *memTx) InsertSupplyOrder(ctx context.Context, order domain.SupplyOrder) (*domain.SupplyOrder, error) {
	inserted := insertRow(tx, tx.store.orders, tx.orders, order, func(o *domain.SupplyOrder, id int64) { o.ID = id })
	return &inserted, nil
}

func (tx *memTx) GetSupplyOrder(ctx context.Context, id int64) (*domain.SupplyOrder, error) {
	return readRow(tx, tx.store.orders, tx.orders, id), nil
}

func (tx *memTx) MarkSupplyOrderDelivered(ctx context.Context, id int64) (bool, error) {
	order, err := lockRow(ctx, tx, tx.store.orders, tx.orders, id)
	if err != nil {
		return false, err
	}
	if order == nil || order.Status == domain.SupplyOrderDelivered {
		return false, nil
	}
	order.Status = domain.SupplyOrderDelivered
	if err := writeRow(ctx, tx, tx.store.orders, tx.orders, id, order); err != nil {
		return false, err
	}
	return true, nil
}
