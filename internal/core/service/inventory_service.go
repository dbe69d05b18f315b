package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

// InventoryService drives inventory items through their states: transfers
// between stores and the allow-listed administrative patches.
type InventoryService struct {
	base
}

func NewInventoryService(store port.LeaseStore, events EventSink, opts ...Option) *InventoryService {
	return &InventoryService{base: newBase(store, events, opts)}
}

// PatchInventoryFields applies an administrative patch to a set of items.
// Only status and location may be patched; the InTransit state belongs to the
// transfer workflow and can be neither entered nor left through a patch.
func (s *InventoryService) PatchInventoryFields(ctx context.Context, ids []int64, fields map[string]any) ([]domain.InventoryItem, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: invalid or empty item IDs array provided", domain.ErrInvalidInput)
	}
	patch, err := parseInventoryPatch(fields)
	if err != nil {
		return nil, err
	}

	var updated []domain.InventoryItem
	err = s.run(ctx, "PatchInventoryFields", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			items, err := tx.LockInventoryItems(ctx, ids)
			if err != nil {
				return domain.Internal("lock inventory items", err)
			}
			if missing := missingIDs(ids, items); len(missing) > 0 {
				return fmt.Errorf("%w: inventory items %v not found", domain.ErrNotFound, missing)
			}

			updated = updated[:0]
			for _, item := range items {
				if item.Status == domain.InventoryInTransit {
					return fmt.Errorf("%w: item %d is in transit; complete its transfer instead", domain.ErrConflict, item.ID)
				}
				if patch.Status != nil {
					if !item.Status.CanTransition(*patch.Status) {
						return fmt.Errorf("%w: item %d cannot move from %s to %s", domain.ErrConflict, item.ID, item.Status, *patch.Status)
					}
					item.Status = *patch.Status
				}
				if patch.Location != nil {
					item.Location = *patch.Location
				}
				if err := tx.UpdateInventoryItem(ctx, item); err != nil {
					return domain.Internal("update inventory item", err)
				}
				updated = append(updated, item)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []domain.Event{s.event(domain.EventInventoryUpdated, updated)}, nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func parseInventoryPatch(fields map[string]any) (domain.InventoryPatch, error) {
	var patch domain.InventoryPatch
	if len(fields) == 0 {
		return patch, fmt.Errorf("%w: invalid or empty update data provided", domain.ErrInvalidInput)
	}
	for key, raw := range fields {
		if !domain.IsPatchableInventoryField(key) {
			return patch, fmt.Errorf("%w: updating field '%s' is not allowed", domain.ErrInvalidInput, key)
		}
		value, ok := raw.(string)
		if !ok || strings.TrimSpace(value) == "" {
			return patch, fmt.Errorf("%w: field '%s' must be a non-empty string", domain.ErrInvalidInput, key)
		}
		switch key {
		case "status":
			status, ok := domain.ParseInventoryStatus(value)
			if !ok {
				return patch, fmt.Errorf("%w: unknown inventory status %q", domain.ErrInvalidInput, value)
			}
			if status == domain.InventoryInTransit {
				return patch, fmt.Errorf("%w: items enter InTransit only through a transfer", domain.ErrConflict)
			}
			patch.Status = &status
		case "location":
			location := strings.TrimSpace(value)
			patch.Location = &location
		}
	}
	return patch, nil
}

func missingIDs(want []int64, got []domain.InventoryItem) []int64 {
	found := make(map[int64]bool, len(got))
	for _, item := range got {
		found[item.ID] = true
	}
	var missing []int64
	seen := make(map[int64]bool, len(want))
	for _, id := range want {
		if !found[id] && !seen[id] {
			missing = append(missing, id)
		}
		seen[id] = true
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return missing
}

// CreateTransfer opens one transfer per item towards req.ToLocation and marks
// each item InTransit at its origin. Items already at the destination are
// expected to have been filtered out by the caller.
func (s *InventoryService) CreateTransfer(ctx context.Context, req domain.TransferRequest) ([]domain.Transfer, error) {
	to := strings.TrimSpace(req.ToLocation)
	if len(req.ItemIDs) == 0 {
		return nil, fmt.Errorf("%w: invalid or empty transfers array provided", domain.ErrInvalidInput)
	}
	if to == "" {
		return nil, fmt.Errorf("%w: transfer destination is required", domain.ErrInvalidInput)
	}
	seen := make(map[int64]bool, len(req.ItemIDs))
	for _, id := range req.ItemIDs {
		if id <= 0 {
			return nil, fmt.Errorf("%w: invalid inventory item id %d", domain.ErrInvalidInput, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: inventory item %d listed twice", domain.ErrInvalidInput, id)
		}
		seen[id] = true
	}

	var (
		created []domain.Transfer
		moved   []domain.InventoryItem
	)
	err := s.run(ctx, "CreateTransfer", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			items, err := tx.LockInventoryItems(ctx, req.ItemIDs)
			if err != nil {
				return domain.Internal("lock inventory items", err)
			}
			if missing := missingIDs(req.ItemIDs, items); len(missing) > 0 {
				return fmt.Errorf("%w: inventory items %v not found", domain.ErrNotFound, missing)
			}

			now := s.now()
			transfers := make([]domain.Transfer, 0, len(items))
			moved = moved[:0]
			for _, item := range items {
				if item.Status != domain.InventoryAvailable {
					return fmt.Errorf("%w: item %d is %s and cannot be transferred", domain.ErrConflict, item.ID, item.Status)
				}
				if from, ok := req.FromLocations[item.ID]; ok && strings.TrimSpace(from) != item.Location {
					return fmt.Errorf("%w: item %d is at %s, not %s", domain.ErrConflict, item.ID, item.Location, from)
				}
				transfers = append(transfers, domain.Transfer{
					InventoryItemID: item.ID,
					TransferFrom:    item.Location,
					TransferTo:      to,
					Status:          domain.TransferInTransit,
					TransferDate:    now,
				})

				item.Status = domain.InventoryInTransit
				if err := tx.UpdateInventoryItem(ctx, item); err != nil {
					return domain.Internal("mark item in transit", err)
				}
				moved = append(moved, item)
			}

			created, err = tx.InsertTransfers(ctx, transfers)
			if err != nil {
				return domain.Internal("insert transfers", err)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []domain.Event{
			s.event(domain.EventTransfersCreated, created),
			s.event(domain.EventInventoryUpdated, moved),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// TransferCompletion is the result of receiving a transfer at the hub.
type TransferCompletion struct {
	Transfer domain.Transfer      `json:"updatedTransfer"`
	Item     domain.InventoryItem `json:"updatedInventoryItem"`
}

// CompleteTransfer receives a transfer at the hub. receivingLocation is where
// the caller is receiving; empty means the hub.
//
// By default the transfer and its item are updated by two dependent
// transactions. If the second fails after the first committed, the error is
// domain.ErrTransferPartiallyApplied and the transfer stays Delivered.
func (s *InventoryService) CompleteTransfer(ctx context.Context, transferID int64, receivingLocation string) (*TransferCompletion, error) {
	if transferID <= 0 {
		return nil, fmt.Errorf("%w: transferId is required", domain.ErrInvalidInput)
	}
	receivingLocation = strings.TrimSpace(receivingLocation)

	var result TransferCompletion
	err := s.run(ctx, "CompleteTransfer", func(ctx context.Context) ([]domain.Event, error) {
		if s.opts.atomicTransferCompletion {
			err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
				transfer, err := s.deliverTransfer(ctx, tx, transferID, receivingLocation)
				if err != nil {
					return err
				}
				item, err := s.receiveItem(ctx, tx, transfer.InventoryItemID)
				if err != nil {
					return err
				}
				result = TransferCompletion{Transfer: *transfer, Item: *item}
				return nil
			})
			if err != nil {
				return nil, err
			}
			return s.completionEvents(result), nil
		}

		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			transfer, err := s.deliverTransfer(ctx, tx, transferID, receivingLocation)
			if err != nil {
				return err
			}
			result.Transfer = *transfer
			return nil
		})
		if err != nil {
			return nil, err
		}

		err = s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			item, err := s.receiveItem(ctx, tx, result.Transfer.InventoryItemID)
			if err != nil {
				return err
			}
			result.Item = *item
			return nil
		})
		if err != nil {
			s.opts.logger.Sugar().Errorw("transfer delivered but inventory item not updated",
				"transfer_id", transferID,
				"inventory_item_id", result.Transfer.InventoryItemID,
				"error", err,
			)
			return []domain.Event{s.event(domain.EventTransferUpdated, result.Transfer)},
				fmt.Errorf("%w (transfer %d, item %d): %v", domain.ErrTransferPartiallyApplied, transferID, result.Transfer.InventoryItemID, err)
		}
		return s.completionEvents(result), nil
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// deliverTransfer checks, in order, that the transfer exists, is still in
// transit, is bound for the hub and is being received there.
func (s *InventoryService) deliverTransfer(ctx context.Context, tx port.LeaseTx, id int64, receivingLocation string) (*domain.Transfer, error) {
	transfer, err := tx.LockTransfer(ctx, id)
	if err != nil {
		return nil, domain.Internal("fetch transfer", err)
	}
	if transfer == nil {
		return nil, fmt.Errorf("%w: transfer not found", domain.ErrNotFound)
	}
	if transfer.Status != domain.TransferInTransit {
		return nil, fmt.Errorf("%w: transfer status is not '%s' (currently: %s)", domain.ErrConflict, domain.TransferInTransit, transfer.Status)
	}
	if transfer.TransferTo != s.opts.hubLocation {
		return nil, fmt.Errorf("%w: transfer destination must be '%s' to receive here", domain.ErrInvalidInput, s.opts.hubLocation)
	}
	if receivingLocation != "" && receivingLocation != s.opts.hubLocation {
		return nil, fmt.Errorf("%w: transfers can only be received at %s", domain.ErrInvalidInput, s.opts.hubLocation)
	}
	if err := tx.UpdateTransferStatus(ctx, id, domain.TransferDelivered); err != nil {
		return nil, domain.Internal("update transfer status", err)
	}
	transfer.Status = domain.TransferDelivered
	return transfer, nil
}

func (s *InventoryService) receiveItem(ctx context.Context, tx port.LeaseTx, itemID int64) (*domain.InventoryItem, error) {
	items, err := tx.LockInventoryItems(ctx, []int64{itemID})
	if err != nil {
		return nil, domain.Internal("lock inventory item", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: inventory item %d not found", domain.ErrNotFound, itemID)
	}
	item := items[0]
	item.Status = domain.InventoryAvailable
	item.Location = s.opts.hubLocation
	if err := tx.UpdateInventoryItem(ctx, item); err != nil {
		return nil, domain.Internal("update inventory item", err)
	}
	return &item, nil
}

func (s *InventoryService) completionEvents(c TransferCompletion) []domain.Event {
	return []domain.Event{
		s.event(domain.EventInventoryUpdated, []domain.InventoryItem{c.Item}),
		s.event(domain.EventTransferUpdated, c.Transfer),
	}
}

func (s *InventoryService) ListInventory(ctx context.Context) ([]domain.InventoryItem, error) {
	items, err := s.store.ListInventory(ctx)
	if err != nil {
		return nil, domain.Internal("list inventory", err)
	}
	return items, nil
}

func (s *InventoryService) ListProductTypes(ctx context.Context) ([]domain.ProductType, error) {
	types, err := s.store.ListProductTypes(ctx)
	if err != nil {
		return nil, domain.Internal("list product types", err)
	}
	return types, nil
}

// ListTransfers returns transfers newest first.
func (s *InventoryService) ListTransfers(ctx context.Context) ([]domain.Transfer, error) {
	transfers, err := s.store.ListTransfers(ctx)
	if err != nil {
		return nil, domain.Internal("list transfers", err)
	}
	sort.SliceStable(transfers, func(i, j int) bool {
		if !transfers[i].TransferDate.Equal(transfers[j].TransferDate) {
			return transfers[i].TransferDate.After(transfers[j].TransferDate)
		}
		return transfers[i].ID > transfers[j].ID
	})
	return transfers, nil
}
