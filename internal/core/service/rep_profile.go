package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rl1809/retail-floor/internal/core/domain"
	"github.com/rl1809/retail-floor/internal/port"
)

// ProfileUpdate carries the rep fields a rep may edit about themselves.
// Availability is not editable here; it only changes through assignment,
// finishing, reset or customer deletion.
type ProfileUpdate struct {
	Name      *string `json:"name"`
	AvatarURL *string `json:"avatar_url"`
}

// RegisterRep provisions the rep row for a caller identity. Registering an
// identity that already has a rep returns the existing row unchanged.
func (s *QueueService) RegisterRep(ctx context.Context, identity, name string) (*domain.SalesRep, error) {
	identity = strings.TrimSpace(identity)
	name = strings.TrimSpace(name)
	if identity == "" {
		return nil, fmt.Errorf("%w: caller identity is required", domain.ErrInvalidInput)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: rep name is required", domain.ErrInvalidInput)
	}

	var (
		rep     domain.SalesRep
		created bool
	)
	err := s.run(ctx, "RegisterRep", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			existing, err := tx.LockRepByIdentity(ctx, identity)
			if err != nil {
				return domain.Internal("lock rep", err)
			}
			if existing != nil {
				rep = *existing
				return nil
			}
			inserted, err := tx.InsertRep(ctx, domain.SalesRep{
				IdentityRef: identity,
				Name:        name,
				Status:      domain.RepAvailable,
			})
			if err != nil {
				return domain.Internal("insert rep", err)
			}
			rep = *inserted
			created = true
			return nil
		})
		if err != nil || !created {
			return nil, err
		}
		return []domain.Event{s.event(domain.EventRepUpdated, rep)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (s *QueueService) GetMyProfile(ctx context.Context, identity string) (*domain.SalesRep, error) {
	var rep domain.SalesRep
	err := s.run(ctx, "GetMyProfile", func(ctx context.Context) ([]domain.Event, error) {
		return nil, s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			found, err := tx.LockRepByIdentity(ctx, identity)
			if err != nil {
				return domain.Internal("read rep", err)
			}
			if found == nil {
				return fmt.Errorf("%w: sales rep profile not found for this user", domain.ErrNotFound)
			}
			rep = *found
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

func (s *QueueService) UpdateMyProfile(ctx context.Context, identity string, update ProfileUpdate) (*domain.SalesRep, error) {
	if update.Name == nil && update.AvatarURL == nil {
		return nil, fmt.Errorf("%w: no update data provided (name or avatar_url required)", domain.ErrInvalidInput)
	}
	if update.Name != nil && strings.TrimSpace(*update.Name) == "" {
		return nil, fmt.Errorf("%w: rep name cannot be blank", domain.ErrInvalidInput)
	}

	var rep domain.SalesRep
	err := s.run(ctx, "UpdateMyProfile", func(ctx context.Context) ([]domain.Event, error) {
		err := s.store.WithinTx(ctx, func(ctx context.Context, tx port.LeaseTx) error {
			found, err := tx.LockRepByIdentity(ctx, identity)
			if err != nil {
				return domain.Internal("lock rep", err)
			}
			if found == nil {
				return fmt.Errorf("%w: sales rep not found to update", domain.ErrNotFound)
			}
			if update.Name != nil {
				found.Name = strings.TrimSpace(*update.Name)
			}
			if update.AvatarURL != nil {
				found.AvatarURL = strings.TrimSpace(*update.AvatarURL)
			}
			if err := tx.UpdateRep(ctx, *found); err != nil {
				return domain.Internal("update rep", err)
			}
			rep = *found
			return nil
		})
		if err != nil {
			return nil, err
		}
		return []domain.Event{s.event(domain.EventRepUpdated, rep)}, nil
	})
	if err != nil {
		return nil, err
	}
	return &rep, nil
}
