package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rl1809/retail-floor/internal/adapter/storage"
	"github.com/rl1809/retail-floor/internal/config"
	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/core/service"
)

const (
	repCount      = 20
	customerCount = 200
)

type discardSink struct{}

func (discardSink) Enqueue(context.Context, ...domain.Event) {}

// Every rep drains the queue concurrently. Each customer must be served by
// exactly one rep, and the reps' totals must add up to the queue length.
// The store comes from RETAIL_STORE_DRIVER / RETAIL_STORE_DSN (memory by
// default).
func main() {
	ctx := context.Background()

	cfg, err := config.Load("")
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	store, err := storage.Open(ctx, cfg.Store.Driver, cfg.Store.DSN, storage.PoolConfig{
		MaxOpenConns: cfg.Store.MaxOpenConns,
		MaxIdleConns: cfg.Store.MaxIdleConns,
	}, cfg.Store.TxTimeout)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store.Driver, err)
	}
	defer store.Close()
	if sqlStore, ok := store.(*storage.SQLStore); ok {
		if err := sqlStore.Migrate(ctx); err != nil {
			log.Fatalf("failed to migrate: %v", err)
		}
	}

	queue := service.NewQueueService(store, discardSink{})

	runID := time.Now().UnixNano()
	identities := make([]string, repCount)
	for i := range identities {
		identities[i] = fmt.Sprintf("stress-%d-rep-%d", runID, i)
		if _, err := queue.RegisterRep(ctx, identities[i], fmt.Sprintf("Rep %d", i)); err != nil {
			log.Fatalf("failed to register rep: %v", err)
		}
	}
	created := make(map[int64]bool, customerCount)
	for i := 0; i < customerCount; i++ {
		c, err := queue.CreateCustomer(ctx, fmt.Sprintf("stress-%d-customer-%d", runID, i))
		if err != nil {
			log.Fatalf("failed to create customer: %v", err)
		}
		created[c.ID] = true
	}

	var mu sync.Mutex
	servedBy := make(map[int64][]string)
	var assigned, conflicts, failures atomic.Int32

	var wg sync.WaitGroup
	start := time.Now()
	for _, identity := range identities {
		wg.Add(1)
		go func(identity string) {
			defer wg.Done()
			for {
				a, err := queue.AssignNextCustomer(ctx, identity)
				switch {
				case errors.Is(err, domain.ErrNotFound):
					return
				case errors.Is(err, domain.ErrConflict):
					conflicts.Add(1)
					return
				case err != nil:
					failures.Add(1)
					log.Printf("%s: assign failed: %v", identity, err)
					return
				}
				assigned.Add(1)
				mu.Lock()
				servedBy[a.Customer.ID] = append(servedBy[a.Customer.ID], identity)
				mu.Unlock()

				if _, err := queue.FinishCurrentCustomer(ctx, identity); err != nil {
					failures.Add(1)
					log.Printf("%s: finish failed: %v", identity, err)
					return
				}
			}
		}(identity)
	}
	wg.Wait()
	elapsed := time.Since(start)

	var duplicates, foreign int
	for id, reps := range servedBy {
		if len(reps) > 1 {
			duplicates++
		}
		if !created[id] {
			foreign++
		}
	}

	fmt.Println("========== STRESS TEST RESULTS ==========")
	fmt.Printf("Store:            %s\n", cfg.Store.Driver)
	fmt.Printf("Reps:             %d\n", repCount)
	fmt.Printf("Customers:        %d\n", customerCount)
	fmt.Printf("Assigned:         %d\n", assigned.Load())
	fmt.Printf("Conflicts:        %d\n", conflicts.Load())
	fmt.Printf("Failures:         %d\n", failures.Load())
	fmt.Printf("Duration:         %v\n", elapsed)
	fmt.Println("==========================================")

	if duplicates == 0 {
		fmt.Println("PASS: no customer was assigned twice")
	} else {
		fmt.Printf("FAIL: %d customers were assigned to more than one rep\n", duplicates)
	}

	// A shared database may hold customers from earlier runs.
	servedOurs := len(servedBy) - foreign
	if servedOurs == customerCount && failures.Load() == 0 {
		fmt.Printf("PASS: all %d customers were served\n", customerCount)
	} else {
		fmt.Printf("FAIL: expected %d customers served, got %d\n", customerCount, servedOurs)
	}

	reps, err := queue.ListReps(ctx)
	if err != nil {
		log.Fatalf("failed to list reps: %v", err)
	}
	mine := make(map[string]bool, len(identities))
	for _, id := range identities {
		mine[id] = true
	}
	total := 0
	for _, r := range reps {
		if mine[r.IdentityRef] {
			total += r.TotalCustomers
		}
	}
	if total == int(assigned.Load()) {
		fmt.Printf("PASS: rep totals add up to %d\n", total)
	} else {
		fmt.Printf("FAIL: rep totals add up to %d, expected %d\n", total, assigned.Load())
	}
}
