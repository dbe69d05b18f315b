package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

// SupplyService turns replenishment orders into inventory.
type SupplyService struct {
	base
}

func NewSupplyService(store port.LeaseStore, events EventSink, opts ...Option) *SupplyService {
	return &SupplyService{base: newBase(store, events, opts)}
}

type SupplyOrderRequest struct {
	ProductTypeID int64
	Quantity      int
	LeadTimeDays  int
	Color         string
	Size          string
}

func (s *SupplyService) CreateSupplyOrder(ctx context.Context, req SupplyOrderRequest) (*domain.SupplyOrder, error) {
	if req.ProductTypeID <= 0 || req.Quantity < 1 || req.LeadTimeDays < 0 {
		return nil, fmt.Errorf("%w: product_type_id, positive quantity, and non-negative lead_time_days required", domain.ErrInvalidInput)
	}
	if req.Quantity > domain.MaxSupplyQuantity {
		return nil, fmt.Errorf("%w: quantity must not exceed %d", domain.ErrInvalidInput, domain.MaxSupplyQuantity)
	}
	if req.LeadTimeDays > domain.MaxLeadTimeDays {
		return nil, fmt.Errorf("%w: lead_time_days must not exceed %d", domain.ErrInvalidInput, domain.MaxLeadTimeDays)
	}

	var created domain.SupplyOrder
	err := s.run(ctx, "CreateSupplyOrder", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			ok, err := tx.ProductTypeExists(ctx, req.ProductTypeID)
			if err != nil {
				return domain.Internal("check product type", err)
			}
			if !ok {
				return fmt.Errorf("%w: invalid product_type_id: %d", domain.ErrInvalidInput, req.ProductTypeID)
			}

			now := s.now()
			order, err := tx.InsertSupplyOrder(ctx, domain.SupplyOrder{
				ProductTypeID: req.ProductTypeID,
				Quantity:      req.Quantity,
				Color:         strings.TrimSpace(req.Color),
				Size:          strings.TrimSpace(req.Size),
				Status:        domain.SupplyOrderPending,
				OrderedAt:     now,
				ExpectedAt:    domain.ExpectedArrival(now, req.LeadTimeDays),
			})
			if err != nil {
				return domain.Internal("insert supply order", err)
			}
			created = *order
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []domain.Event{s.event(domain.EventSupplyOrderCreated, created)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &created, nil
}

// SupplyDelivery is the result of completing a supply order.
type SupplyDelivery struct {
	Order      domain.SupplyOrder     `json:"order"`
	AddedItems []domain.InventoryItem `json:"addedItems"`
}

// CompleteSupplyOrder marks a pending order delivered and mints exactly
// quantity new items at the hub, in one transaction. Completing an order
// twice fails with domain.ErrConflict.
func (s *SupplyService) CompleteSupplyOrder(ctx context.Context, id int64) (*SupplyDelivery, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: invalid order ID", domain.ErrInvalidInput)
	}

	var result SupplyDelivery
	err := s.run(ctx, "CompleteSupplyOrder", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			updated, err := tx.MarkSupplyOrderDelivered(ctx, id)
			if err != nil {
				return domain.Internal("update supply order", err)
			}
			order, err := tx.GetSupplyOrder(ctx, id)
			if err != nil {
				return domain.Internal("read supply order", err)
			}
			if !updated {
				if order == nil {
					return fmt.Errorf("%w: supply order not found", domain.ErrNotFound)
				}
				if order.Status == domain.SupplyOrderDelivered {
					return fmt.Errorf("%w: supply order already delivered", domain.ErrConflict)
				}
				return domain.Internal("update supply order", fmt.Errorf("order %d in unexpected status %s", id, order.Status))
			}
			if order == nil {
				return domain.Internal("read supply order", fmt.Errorf("order %d vanished after update", id))
			}
			// Rows written before the quantity cap existed stay pending.
			if order.Quantity < 1 || order.Quantity > domain.MaxSupplyQuantity {
				return fmt.Errorf("%w: supply order %d has quantity %d outside 1..%d", domain.ErrInvalidInput, id, order.Quantity, domain.MaxSupplyQuantity)
			}

			items, err := s.mint(*order)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrSupplyMintFailed, err)
			}
			inserted, err := tx.InsertInventoryItems(ctx, items)
			if err != nil {
				return fmt.Errorf("%w: %v", domain.ErrSupplyMintFailed, err)
			}
			result = SupplyDelivery{Order: *order, AddedItems: inserted}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []domain.Event{
			s.event(domain.EventSupplyOrderUpdated, result.Order),
			s.event(domain.EventInventoryCreated, result.AddedItems),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

func (s *SupplyService) mint(order domain.SupplyOrder) ([]domain.InventoryItem, error) {
	items := make([]domain.InventoryItem, 0, order.Quantity)
	seen := make(map[string]bool, order.Quantity)
	for len(items) < order.Quantity {
		uid, err := s.opts.newIdentifier()
		if err != nil {
			return nil, err
		}
		if seen[uid] {
			continue
		}
		seen[uid] = true
		items = append(items, domain.InventoryItem{
			ProductTypeID:    order.ProductTypeID,
			UniqueIdentifier: uid,
			Status:           domain.InventoryAvailable,
			Location:         s.opts.hubLocation,
			Color:            order.Color,
			Size:             order.Size,
		})
	}
	return items, nil
}

// ListSupplyOrders returns orders newest first.
func (s *SupplyService) ListSupplyOrders(ctx context.Context) ([]domain.SupplyOrder, error) {
	orders, err := s.store.ListSupplyOrders(ctx)
	if err != nil {
		return nil, domain.Internal("list supply orders", err)
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].OrderedAt.Equal(orders[j].OrderedAt) {
			return orders[i].OrderedAt.After(orders[j].OrderedAt)
		}
		return orders[i].ID > orders[j].ID
	})
	return orders, nil
}
