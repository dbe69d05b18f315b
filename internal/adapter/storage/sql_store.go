package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

var _ port.LeaseStore = (*SQLStore)(nil)

const (
	repColumns      = "id, identity_ref, name, avatar_url, status, total_customers, finished_at"
	customerColumns = "id, customer_name, status, rep_id, created_at"
	itemColumns     = "id, product_type_id, unique_identifier, status, location, color, size"
	transferColumns = "id, inventory_item_id, transfer_from, transfer_to, status, transfer_date"
	orderColumns    = "id, product_type_id, quantity, color, size, status, ordered_at, expected_at"
)

// SQLStore is the lease store over database/sql. Row locks are SELECT ... FOR
// UPDATE and the queue claim uses SKIP LOCKED where the dialect has it.
type SQLStore struct {
	db        *sql.DB
	d         dialect
	txTimeout time.Duration
}

func newSQLStore(db *sql.DB, d dialect, txTimeout time.Duration) *SQLStore {
	if txTimeout <= 0 {
		txTimeout = defaultTxTimeout
	}
	return &SQLStore{db: db, d: d, txTimeout: txTimeout}
}

func (s *SQLStore) DB() *sql.DB { return s.db }

func (s *SQLStore) Close() error { return s.db.Close() }

// Migrate applies the embedded schema for the store's dialect. Statements are
// idempotent.
func (s *SQLStore) Migrate(ctx context.Context) error {
	stmts, err := s.d.schema()
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate %s: %w", s.d.name, err)
		}
	}
	return nil
}

func (s *SQLStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.LeaseTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.txErr(ctx, fmt.Errorf("begin tx: %w", err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &sqlTx{tx: tx, d: s.d}); err != nil {
		return s.txErr(ctx, err)
	}
	if err := tx.Commit(); err != nil {
		return s.txErr(ctx, domain.Internal("commit", err))
	}
	return nil
}

func (s *SQLStore) txErr(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTxTimeout, err)
	}
	return err
}

func (s *SQLStore) ListReps(ctx context.Context) ([]domain.SalesRep, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+repColumns+" FROM salesreps ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query reps: %w", err)
	}
	return collect(rows, scanRep)
}

func (s *SQLStore) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+customerColumns+" FROM customers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query customers: %w", err)
	}
	return collect(rows, scanCustomer)
}

func (s *SQLStore) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+itemColumns+" FROM inventory_items ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query inventory: %w", err)
	}
	return collect(rows, scanItem)
}

func (s *SQLStore) ListProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, name FROM product_types ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query product types: %w", err)
	}
	return collect(rows, func(r scanner) (domain.ProductType, error) {
		var pt domain.ProductType
		err := r.Scan(&pt.ID, &pt.Name)
		return pt, err
	})
}

func (s *SQLStore) ListTransfers(ctx context.Context) ([]domain.Transfer, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+transferColumns+" FROM transfers ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query transfers: %w", err)
	}
	return collect(rows, scanTransfer)
}

func (s *SQLStore) ListSupplyOrders(ctx context.Context) ([]domain.SupplyOrder, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+orderColumns+" FROM supply_orders ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("query supply orders: %w", err)
	}
	return collect(rows, scanOrder)
}

// AddProductType inserts a catalog entry. Product types have no API of their
// own; this backs seeding and tests.
func (s *SQLStore) AddProductType(ctx context.Context, name string) (domain.ProductType, error) {
	var pt domain.ProductType
	err := s.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		id, err := tx.(*sqlTx).insert(ctx, "INSERT INTO product_types (name) VALUES (?)", name)
		if err != nil {
			return fmt.Errorf("insert product type: %w", err)
		}
		pt = domain.ProductType{ID: id, Name: name}
		return nil
	})
	return pt, err
}

type scanner interface {
	Scan(dest ...any) error
}

func collect[T any](rows *sql.Rows, scan func(scanner) (T, error)) ([]T, error) {
	defer rows.Close()
	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanRep(r scanner) (domain.SalesRep, error) {
	var (
		rep      domain.SalesRep
		finished dbTime
	)
	if err := r.Scan(&rep.ID, &rep.IdentityRef, &rep.Name, &rep.AvatarURL, &rep.Status, &rep.TotalCustomers, &finished); err != nil {
		return rep, err
	}
	rep.FinishedAt = finished.ptr()
	return rep, nil
}

func scanCustomer(r scanner) (domain.Customer, error) {
	var (
		c       domain.Customer
		repID   sql.NullInt64
		created dbTime
	)
	if err := r.Scan(&c.ID, &c.Name, &c.Status, &repID, &created); err != nil {
		return c, err
	}
	if repID.Valid {
		id := repID.Int64
		c.RepID = &id
	}
	c.CreatedAt = created.Time
	return c, nil
}

func scanItem(r scanner) (domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := r.Scan(&item.ID, &item.ProductTypeID, &item.UniqueIdentifier, &item.Status, &item.Location, &item.Color, &item.Size)
	return item, err
}

func scanTransfer(r scanner) (domain.Transfer, error) {
	var (
		t    domain.Transfer
		date dbTime
	)
	if err := r.Scan(&t.ID, &t.InventoryItemID, &t.TransferFrom, &t.TransferTo, &t.Status, &date); err != nil {
		return t, err
	}
	t.TransferDate = date.Time
	return t, nil
}

func scanOrder(r scanner) (domain.SupplyOrder, error) {
	var (
		o                 domain.SupplyOrder
		ordered, expected dbTime
	)
	if err := r.Scan(&o.ID, &o.ProductTypeID, &o.Quantity, &o.Color, &o.Size, &o.Status, &ordered, &expected); err != nil {
		return o, err
	}
	o.OrderedAt = ordered.Time
	o.ExpectedAt = expected.Time
	return o, nil
}

type sqlTx struct {
	tx *sql.Tx
	d  dialect
}

func (t *sqlTx) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.d.rebind(query), args...)
}

func (t *sqlTx) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.d.rebind(query), args...)
}

// insert runs an INSERT and returns the generated id.
func (t *sqlTx) insert(ctx context.Context, query string, args ...any) (int64, error) {
	if t.d.returning {
		var id int64
		if err := t.queryRow(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, err
		}
		return id, nil
	}
	res, err := t.exec(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func one[T any](row *sql.Row, scan func(scanner) (T, error)) (*T, error) {
	v, err := scan(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (t *sqlTx) LockRepByIdentity(ctx context.Context, identity string) (*domain.SalesRep, error) {
	rep, err := one(t.queryRow(ctx, "SELECT "+repColumns+" FROM salesreps WHERE identity_ref = ?"+t.d.forUpdate, identity), scanRep)
	if err != nil {
		return nil, fmt.Errorf("lock rep by identity: %w", err)
	}
	return rep, nil
}

func (t *sqlTx) LockRep(ctx context.Context, id int64) (*domain.SalesRep, error) {
	rep, err := one(t.queryRow(ctx, "SELECT "+repColumns+" FROM salesreps WHERE id = ?"+t.d.forUpdate, id), scanRep)
	if err != nil {
		return nil, fmt.Errorf("lock rep: %w", err)
	}
	return rep, nil
}

func (t *sqlTx) InsertRep(ctx context.Context, rep domain.SalesRep) (*domain.SalesRep, error) {
	id, err := t.insert(ctx, `
		INSERT INTO salesreps (identity_ref, name, avatar_url, status, total_customers, finished_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rep.IdentityRef, rep.Name, rep.AvatarURL, rep.Status, rep.TotalCustomers, nullableTime(rep.FinishedAt),
	)
	if err != nil {
		return nil, fmt.Errorf("insert rep: %w", err)
	}
	rep.ID = id
	return &rep, nil
}

func (t *sqlTx) UpdateRep(ctx context.Context, rep domain.SalesRep) error {
	_, err := t.exec(ctx, `
		UPDATE salesreps
		SET name = ?, avatar_url = ?, status = ?, total_customers = ?, finished_at = ?
		WHERE id = ?`,
		rep.Name, rep.AvatarURL, rep.Status, rep.TotalCustomers, nullableTime(rep.FinishedAt), rep.ID,
	)
	if err != nil {
		return fmt.Errorf("update rep: %w", err)
	}
	return nil
}

func (t *sqlTx) RecordRepFinished(ctx context.Context, repID int64, finishedAt time.Time) (*domain.SalesRep, error) {
	result, err := t.exec(ctx, `
		UPDATE salesreps
		SET total_customers = total_customers + 1, status = ?, finished_at = ?
		WHERE id = ?`,
		domain.RepAvailable, finishedAt.UTC(), repID,
	)
	if err != nil {
		return nil, fmt.Errorf("record rep finished: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return nil, nil
	}
	return t.LockRep(ctx, repID)
}

func (t *sqlTx) ClaimNextWaitingCustomer(ctx context.Context) (*domain.Customer, error) {
	c, err := one(t.queryRow(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE status = ? AND rep_id IS NULL
		ORDER BY created_at, id
		LIMIT 1`+t.d.skipLocked,
		domain.CustomerWaiting,
	), scanCustomer)
	if err != nil {
		return nil, fmt.Errorf("claim customer: %w", err)
	}
	return c, nil
}

func (t *sqlTx) GetCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	c, err := one(t.queryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = ?", id), scanCustomer)
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	return c, nil
}

func (t *sqlTx) LockCustomer(ctx context.Context, id int64) (*domain.Customer, error) {
	c, err := one(t.queryRow(ctx, "SELECT "+customerColumns+" FROM customers WHERE id = ?"+t.d.forUpdate, id), scanCustomer)
	if err != nil {
		return nil, fmt.Errorf("lock customer: %w", err)
	}
	return c, nil
}

func (t *sqlTx) LockCustomerInProgress(ctx context.Context, repID int64) (*domain.Customer, error) {
	c, err := one(t.queryRow(ctx, `
		SELECT `+customerColumns+` FROM customers
		WHERE rep_id = ? AND status = ?
		ORDER BY id
		LIMIT 1`+t.d.forUpdate,
		repID, domain.CustomerBeingHelped,
	), scanCustomer)
	if err != nil {
		return nil, fmt.Errorf("lock customer in progress: %w", err)
	}
	return c, nil
}

func (t *sqlTx) InsertCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	id, err := t.insert(ctx, `
		INSERT INTO customers (customer_name, status, rep_id, created_at)
		VALUES (?, ?, ?, ?)`,
		c.Name, c.Status, nullableID(c.RepID), c.CreatedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert customer: %w", err)
	}
	c.ID = id
	return &c, nil
}

func (t *sqlTx) UpdateCustomer(ctx context.Context, c domain.Customer) error {
	_, err := t.exec(ctx, `
		UPDATE customers SET customer_name = ?, status = ?, rep_id = ? WHERE id = ?`,
		c.Name, c.Status, nullableID(c.RepID), c.ID,
	)
	if err != nil {
		return fmt.Errorf("update customer: %w", err)
	}
	return nil
}

func (t *sqlTx) DeleteCustomer(ctx context.Context, id int64) error {
	if _, err := t.exec(ctx, "DELETE FROM customers WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	return nil
}

func (t *sqlTx) LockInventoryItems(ctx context.Context, ids []int64) ([]domain.InventoryItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	args := make([]any, len(sorted))
	for i, id := range sorted {
		args[i] = id
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(sorted)), ", ")
	rows, err := t.tx.QueryContext(ctx, t.d.rebind(
		"SELECT "+itemColumns+" FROM inventory_items WHERE id IN ("+placeholders+") ORDER BY id"+t.d.forUpdate,
	), args...)
	if err != nil {
		return nil, fmt.Errorf("lock inventory items: %w", err)
	}
	return collect(rows, scanItem)
}

func (t *sqlTx) UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	_, err := t.exec(ctx, `
		UPDATE inventory_items SET status = ?, location = ?, color = ?, size = ? WHERE id = ?`,
		item.Status, item.Location, item.Color, item.Size, item.ID,
	)
	if err != nil {
		return fmt.Errorf("update inventory item: %w", err)
	}
	return nil
}

func (t *sqlTx) InsertInventoryItems(ctx context.Context, items []domain.InventoryItem) ([]domain.InventoryItem, error) {
	out := make([]domain.InventoryItem, 0, len(items))
	for _, item := range items {
		id, err := t.insert(ctx, `
			INSERT INTO inventory_items (product_type_id, unique_identifier, status, location, color, size)
			VALUES (?, ?, ?, ?, ?, ?)`,
			item.ProductTypeID, item.UniqueIdentifier, item.Status, item.Location, item.Color, item.Size,
		)
		if err != nil {
			return nil, fmt.Errorf("insert inventory item: %w", err)
		}
		item.ID = id
		out = append(out, item)
	}
	return out, nil
}

func (t *sqlTx) InsertTransfers(ctx context.Context, transfers []domain.Transfer) ([]domain.Transfer, error) {
	out := make([]domain.Transfer, 0, len(transfers))
	for _, tr := range transfers {
		id, err := t.insert(ctx, `
			INSERT INTO transfers (inventory_item_id, transfer_from, transfer_to, status, transfer_date)
			VALUES (?, ?, ?, ?, ?)`,
			tr.InventoryItemID, tr.TransferFrom, tr.TransferTo, tr.Status, tr.TransferDate.UTC(),
		)
		if err != nil {
			return nil, fmt.Errorf("insert transfer: %w", err)
		}
		tr.ID = id
		out = append(out, tr)
	}
	return out, nil
}

func (t *sqlTx) LockTransfer(ctx context.Context, id int64) (*domain.Transfer, error) {
	tr, err := one(t.queryRow(ctx, "SELECT "+transferColumns+" FROM transfers WHERE id = ?"+t.d.forUpdate, id), scanTransfer)
	if err != nil {
		return nil, fmt.Errorf("lock transfer: %w", err)
	}
	return tr, nil
}

func (t *sqlTx) UpdateTransferStatus(ctx context.Context, id int64, status domain.TransferStatus) error {
	if _, err := t.exec(ctx, "UPDATE transfers SET status = ? WHERE id = ?", status, id); err != nil {
		return fmt.Errorf("update transfer: %w", err)
	}
	return nil
}

func (t *sqlTx) ProductTypeExists(ctx context.Context, id int64) (bool, error) {
	var found int64
	err := t.queryRow(ctx, "SELECT id FROM product_types WHERE id = ?", id).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query product type: %w", err)
	}
	return true, nil
}

func (t *sqlTx) InsertSupplyOrder(ctx context.Context, order domain.SupplyOrder) (*domain.SupplyOrder, error) {
	id, err := t.insert(ctx, `
		INSERT INTO supply_orders (product_type_id, quantity, color, size, status, ordered_at, expected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		order.ProductTypeID, order.Quantity, order.Color, order.Size, order.Status,
		order.OrderedAt.UTC(), order.ExpectedAt.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("insert supply order: %w", err)
	}
	order.ID = id
	return &order, nil
}

func (t *sqlTx) GetSupplyOrder(ctx context.Context, id int64) (*domain.SupplyOrder, error) {
	o, err := one(t.queryRow(ctx, "SELECT "+orderColumns+" FROM supply_orders WHERE id = ?", id), scanOrder)
	if err != nil {
		return nil, fmt.Errorf("get supply order: %w", err)
	}
	return o, nil
}

func (t *sqlTx) MarkSupplyOrderDelivered(ctx context.Context, id int64) (bool, error) {
	result, err := t.exec(ctx, `
		UPDATE supply_orders SET status = ? WHERE id = ? AND status <> ?`,
		domain.SupplyOrderDelivered, id, domain.SupplyOrderDelivered,
	)
	if err != nil {
		return false, fmt.Errorf("update supply order: %w", err)
	}
	rows, _ := result.RowsAffected()
	return rows == 1, nil
}
