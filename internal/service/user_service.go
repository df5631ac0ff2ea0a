// Package service holds the pipeline's business logic: identity resolution,
// auction reads and lifecycle, bid intake, settlement, and the feedback
// bridge between the broker and the fan-out relay.
package service

import (
	"context"
	"fmt"

	"github.com/evetabi/liveauction/internal/cache"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
)

// UserStore is the minimal storage interface UserService needs.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// UserService resolves an opaque, already-verified user id to a user record.
// Records are read-mostly and cached with a bounded TTL.
type UserService struct {
	store UserStore
	cache *cache.Cache
}

// NewUserService creates a UserService.
func NewUserService(store UserStore, c *cache.Cache) *UserService {
	return &UserService{store: store, cache: c}
}

// Resolve returns the user record for id, reading through the cache.
// Returns domain.ErrUserNotFound when the id resolves to nothing.
func (s *UserService) Resolve(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	if u, err := s.cache.GetUser(ctx, id); err == nil && u != nil {
		return u, nil
	}

	u, err := s.store.GetByID(ctx, id)
	if err != nil {
		if domain.IsNotFound(err) {
			return nil, err
		}
		return nil, fmt.Errorf("user_service.Resolve: %w", err)
	}

	// Best-effort populate; a failed cache write only costs the next lookup.
	_ = s.cache.SetUser(ctx, u)
	return u, nil
}
