package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/liveauction/internal/cache"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/evetabi/liveauction/internal/relay"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionStore is the storage surface AuctionService depends on.
type AuctionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	ListBids(ctx context.Context, auctionID uuid.UUID, limit, offset int) ([]*domain.Bid, error)
	ListDueForStart(ctx context.Context, now time.Time) ([]*domain.Auction, error)
	ListDueForEnd(ctx context.Context, now time.Time) ([]*domain.Auction, error)
	MarkOngoing(ctx context.Context, id uuid.UUID) error
	MarkEnded(ctx context.Context, id uuid.UUID) error
}

// AuctionService serves cached auction reads and drives the PENDING →
// ONGOING → ENDED lifecycle.
type AuctionService struct {
	store  AuctionStore
	cache  *cache.Cache
	relay  *relay.Publisher
	logger *slog.Logger
}

// NewAuctionService creates an AuctionService.
func NewAuctionService(store AuctionStore, c *cache.Cache, pub *relay.Publisher, logger *slog.Logger) *AuctionService {
	return &AuctionService{store: store, cache: c, relay: pub, logger: logger}
}

// GetAuction returns the auction, reading through the cache. Cached entries
// may be stale within their TTL; anything that needs the authoritative row
// goes through the settlement transaction instead.
func (s *AuctionService) GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	if a, err := s.cache.GetAuction(ctx, id); err == nil && a != nil {
		return a, nil
	} else if err != nil {
		s.logger.Warn("auction cache read failed", "auction_id", id, "error", err)
	}

	a, err := s.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.cache.SetAuction(ctx, a); err != nil {
		s.logger.Warn("auction cache write failed", "auction_id", id, "error", err)
	}
	return a, nil
}

// CurrentFloor returns the amount a new bid must strictly exceed: the cached
// highest bid when one is present, the auction's own floor otherwise. Purely
// advisory; settlement re-derives the floor under the row lock.
func (s *AuctionService) CurrentFloor(ctx context.Context, a *domain.Auction) decimal.Decimal {
	if cached, err := s.cache.GetHighestBid(ctx, a.ID); err == nil && cached != nil {
		return *cached
	} else if err != nil {
		s.logger.Warn("highest bid cache read failed", "auction_id", a.ID, "error", err)
	}
	return a.FloorPrice()
}

// ListBids returns a page of the auction's bid history, newest first.
func (s *AuctionService) ListBids(ctx context.Context, auctionID uuid.UUID, limit, offset int) ([]*domain.Bid, error) {
	if _, err := s.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}
	return s.store.ListBids(ctx, auctionID, limit, offset)
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle
// ──────────────────────────────────────────────────────────────────────────────

// StartDue transitions every PENDING auction whose start time has passed to
// ONGOING. Status-guarded updates make the sweep safe to run on every replica.
func (s *AuctionService) StartDue(ctx context.Context, now time.Time) error {
	due, err := s.store.ListDueForStart(ctx, now)
	if err != nil {
		return fmt.Errorf("auction_service.StartDue: %w", err)
	}
	for _, a := range due {
		if err := s.store.MarkOngoing(ctx, a.ID); err != nil {
			if domain.IsConflict(err) {
				continue // another replica won the transition
			}
			return fmt.Errorf("auction_service.StartDue: %w", err)
		}
		if err := s.cache.InvalidateAuction(ctx, a.ID); err != nil {
			s.logger.Warn("cache invalidation failed after start", "auction_id", a.ID, "error", err)
		}
		s.logger.Info("auction started", "auction_id", a.ID, "item_id", a.ItemID)
	}
	return nil
}

// EndDue transitions every ONGOING auction whose end time has passed to
// ENDED, invalidates its cache entries, and announces the closure on the
// relay. Exactly one replica wins each transition, so the announcement is
// published once per auction.
func (s *AuctionService) EndDue(ctx context.Context, now time.Time) error {
	due, err := s.store.ListDueForEnd(ctx, now)
	if err != nil {
		return fmt.Errorf("auction_service.EndDue: %w", err)
	}
	for _, a := range due {
		if err := s.store.MarkEnded(ctx, a.ID); err != nil {
			if domain.IsConflict(err) {
				continue
			}
			return fmt.Errorf("auction_service.EndDue: %w", err)
		}
		if err := s.cache.InvalidateAuction(ctx, a.ID); err != nil {
			s.logger.Warn("cache invalidation failed after end", "auction_id", a.ID, "error", err)
		}
		if err := s.relay.PublishAuctionEnded(ctx, relay.AuctionEnded{
			AuctionID:      a.ID,
			FinalBidAmount: a.CurrentHighestBid,
			WinnerID:       a.WinnerID,
		}); err != nil {
			s.logger.Error("auction ended announcement failed", "auction_id", a.ID, "error", err)
		}
		s.logger.Info("auction ended",
			"auction_id", a.ID,
			"item_id", a.ItemID,
			"had_bids", a.HasBids(),
		)
	}
	return nil
}
