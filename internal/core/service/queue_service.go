package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

// QueueService owns the customer queue and rep availability: matching a rep
// with the next waiting customer and every transition of either side.
type QueueService struct {
	base
}

func NewQueueService(store port.LeaseStore, events EventSink, opts ...Option) *QueueService {
	return &QueueService{base: newBase(store, events, opts)}
}

// Assignment is the result of pairing a rep with a customer.
type Assignment struct {
	Customer domain.Customer `json:"customer"`
	Rep      domain.SalesRep `json:"rep"`
}

// AssignNextCustomer pairs the calling rep with the longest waiting customer
// that no concurrent assignment has claimed.
func (s *QueueService) AssignNextCustomer(ctx context.Context, identity string) (*Assignment, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: caller identity is required", domain.ErrInvalidInput)
	}

	var result Assignment
	err := s.run(ctx, "AssignNextCustomer", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			rep, err := tx.LockRepByIdentity(ctx, identity)
			if err != nil {
				return domain.Internal("lock rep", err)
			}
			if rep == nil {
				return fmt.Errorf("%w: rep not found", domain.ErrNotFound)
			}
			if rep.Status != domain.RepAvailable {
				return fmt.Errorf("%w: rep not available", domain.ErrConflict)
			}

			customer, err := tx.ClaimNextWaitingCustomer(ctx)
			if err != nil {
				return domain.Internal("claim customer", err)
			}
			if customer == nil {
				return fmt.Errorf("%w: no waiting customer found", domain.ErrNotFound)
			}

			repID := rep.ID
			customer.Status = domain.CustomerBeingHelped
			customer.RepID = &repID
			if err := tx.UpdateCustomer(ctx, *customer); err != nil {
				return domain.Internal("update customer", err)
			}

			rep.Status = domain.RepBusy
			if err := tx.UpdateRep(ctx, *rep); err != nil {
				return domain.Internal("update rep", err)
			}

			result = Assignment{Customer: *customer, Rep: *rep}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []domain.Event{
			s.event(domain.EventCustomerUpdated, result.Customer),
			s.event(domain.EventRepUpdated, result.Rep),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// Completion is the result of a rep finishing with a customer.
type Completion struct {
	Rep              domain.SalesRep `json:"rep"`
	FinishedCustomer domain.Customer `json:"finishedCustomer"`
}

// FinishCurrentCustomer closes the rep's in-progress customer and returns the
// rep to the rotation.
func (s *QueueService) FinishCurrentCustomer(ctx context.Context, identity string) (*Completion, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: caller identity is required", domain.ErrInvalidInput)
	}

	var result Completion
	err := s.run(ctx, "FinishCurrentCustomer", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			rep, err := tx.LockRepByIdentity(ctx, identity)
			if err != nil {
				return domain.Internal("lock rep", err)
			}
			if rep == nil {
				return fmt.Errorf("%w: rep not found", domain.ErrNotFound)
			}

			customer, err := tx.LockCustomerInProgress(ctx, rep.ID)
			if err != nil {
				return domain.Internal("lock customer", err)
			}
			if customer == nil {
				return fmt.Errorf("%w: no customer being helped by this rep", domain.ErrNotFound)
			}

			customer.Status = domain.CustomerHelped
			if err := tx.UpdateCustomer(ctx, *customer); err != nil {
				return domain.Internal("update customer", err)
			}

			updated, err := tx.RecordRepFinished(ctx, rep.ID, s.now())
			if err != nil {
				return domain.Internal("record rep finished", err)
			}
			if updated == nil {
				return domain.Internal("record rep finished", fmt.Errorf("rep %d vanished mid-transaction", rep.ID))
			}

			result = Completion{Rep: *updated, FinishedCustomer: *customer}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []domain.Event{
			s.event(domain.EventRepUpdated, result.Rep),
			s.event(domain.EventCustomerUpdated, result.FinishedCustomer),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// ResetRep clears the rep's counters and makes them available. A customer
// still in progress with the rep is closed as helped so that a reset rep is
// never left owning an open customer.
func (s *QueueService) ResetRep(ctx context.Context, identity string) (*domain.SalesRep, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, fmt.Errorf("%w: caller identity is required", domain.ErrInvalidInput)
	}

	var (
		rep    domain.SalesRep
		closed *domain.Customer
	)
	err := s.run(ctx, "ResetRep", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			locked, err := tx.LockRepByIdentity(ctx, identity)
			if err != nil {
				return domain.Internal("lock rep", err)
			}
			if locked == nil {
				return fmt.Errorf("%w: rep not found", domain.ErrNotFound)
			}

			customer, err := tx.LockCustomerInProgress(ctx, locked.ID)
			if err != nil {
				return domain.Internal("lock customer", err)
			}
			if customer != nil {
				customer.Status = domain.CustomerHelped
				if err := tx.UpdateCustomer(ctx, *customer); err != nil {
					return domain.Internal("update customer", err)
				}
				closed = customer
			}

			locked.TotalCustomers = 0
			locked.FinishedAt = nil
			locked.Status = domain.RepAvailable
			if err := tx.UpdateRep(ctx, *locked); err != nil {
				return domain.Internal("update rep", err)
			}
			rep = *locked
			return nil
		})
		if err != nil {
			return nil, err
		}
		events := []domain.Event{s.event(domain.EventRepUpdated, rep)}
		if closed != nil {
			events = append(events, s.event(domain.EventCustomerUpdated, *closed))
		}
		return events, nil
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// CreateCustomer adds a customer to the back of the waiting queue.
func (s *QueueService) CreateCustomer(ctx context.Context, name string) (*domain.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: customer name is required", domain.ErrInvalidInput)
	}

	var created domain.Customer
	err := s.run(ctx, "CreateCustomer", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			c, err := tx.InsertCustomer(ctx, domain.Customer{
				Name:      name,
				Status:    domain.CustomerWaiting,
				CreatedAt: s.now(),
			})
			if err != nil {
				return domain.Internal("insert customer", err)
			}
			created = *c
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []domain.Event{s.event(domain.EventCustomerCreated, created)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// DeleteCustomer removes a customer. Deleting a customer that is being
// helped releases the rep in the same transaction.
func (s *QueueService) DeleteCustomer(ctx context.Context, id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: invalid customer id", domain.ErrInvalidInput)
	}

	var released *domain.SalesRep
	return s.run(ctx, "DeleteCustomer", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			// Locks are taken rep first, then customer, matching the order
			// used by assignment and finishing.
			snapshot, err := tx.GetCustomer(ctx, id)
			if err != nil {
				return domain.Internal("read customer", err)
			}
			if snapshot == nil {
				return fmt.Errorf("%w: customer not found", domain.ErrNotFound)
			}

			var rep *domain.SalesRep
			if snapshot.RepID != nil {
				rep, err = tx.LockRep(ctx, *snapshot.RepID)
				if err != nil {
					return domain.Internal("lock rep", err)
				}
			}

			customer, err := tx.LockCustomer(ctx, id)
			if err != nil {
				return domain.Internal("lock customer", err)
			}
			if customer == nil {
				return fmt.Errorf("%w: customer not found", domain.ErrNotFound)
			}
			if !sameRep(customer.RepID, snapshot.RepID) {
				return fmt.Errorf("%w: customer was assigned concurrently; retry", domain.ErrConflict)
			}

			if err := tx.DeleteCustomer(ctx, id); err != nil {
				return domain.Internal("delete customer", err)
			}

			if customer.Status == domain.CustomerBeingHelped && rep != nil {
				rep.Status = domain.RepAvailable
				if err := tx.UpdateRep(ctx, *rep); err != nil {
					return domain.Internal("release rep", err)
				}
				released = rep
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		events := []domain.Event{s.event(domain.EventCustomerDeleted, domain.CustomerDeleted{ID: id})}
		if released != nil {
			events = append(events, s.event(domain.EventRepUpdated, *released))
		}
		return events, nil
	})
}

func sameRep(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// ListReps returns reps in rotation order.
func (s *QueueService) ListReps(ctx context.Context) ([]domain.SalesRep, error) {
	reps, err := s.store.ListReps(ctx)
	if err != nil {
		return nil, domain.Internal("list reps", err)
	}
	domain.SortForRotation(reps)
	return reps, nil
}

// ListCustomers returns customers in queue display order.
func (s *QueueService) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	customers, err := s.store.ListCustomers(ctx)
	if err != nil {
		return nil, domain.Internal("list customers", err)
	}
	domain.SortForQueue(customers)
	return customers, nil
}
