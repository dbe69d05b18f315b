package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/retail-floor/internal/adapter/storage"
	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

// recordingSink captures events handed over after commit.
type recordingSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (r *recordingSink) Enqueue(ctx context.Context, events ...domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingSink) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func (r *recordingSink) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// tickingClock advances one second per reading so arrival order is strict.
type tickingClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickingClock() *tickingClock {
	return &tickingClock{now: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *tickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

var errDiskFull = errors.New("disk full")

// faultyStore injects write failures into an otherwise working store.
type faultyStore struct {
	port.LeaseStore
	failItemUpdates atomic.Bool
	failItemInserts atomic.Bool
}

func (f *faultyStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx port.LeaseTx) error) error {
	return f.LeaseStore.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
		return fn(ctx, faultyTx{LeaseTx: tx, store: f})
	})
}

type faultyTx struct {
	port.LeaseTx
	store *faultyStore
}

func (t faultyTx) UpdateInventoryItem(ctx context.Context, item domain.InventoryItem) error {
	if t.store.failItemUpdates.Load() {
		return errDiskFull
	}
	return t.LeaseTx.UpdateInventoryItem(ctx, item)
}

func (t faultyTx) InsertInventoryItems(ctx context.Context, items []domain.InventoryItem) ([]domain.InventoryItem, error) {
	if t.store.failItemInserts.Load() {
		return nil, errDiskFull
	}
	return t.LeaseTx.InsertInventoryItems(ctx, items)
}

type fixture struct {
	mem       *storage.MemoryStore
	store     *faultyStore
	sink      *recordingSink
	queue     *QueueService
	inventory *InventoryService
	supply    *SupplyService
}

func newFixture(opts ...Option) *fixture {
	mem := storage.NewMemoryStore(2 * time.Second)
	store := &faultyStore{LeaseStore: mem}
	sink := &recordingSink{}
	opts = append([]Option{WithClock(newTickingClock())}, opts...)
	return &fixture{
		mem:       mem,
		store:     store,
		sink:      sink,
		queue:     NewQueueService(store, sink, opts...),
		inventory: NewInventoryService(store, sink, opts...),
		supply:    NewSupplyService(store, sink, opts...),
	}
}
