package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AuctionSource is the cached read surface intake validates against.
// *AuctionService implements it.
type AuctionSource interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
	CurrentFloor(ctx context.Context, a *domain.Auction) decimal.Decimal
}

// BidEventPublisher hands an encoded bid event to the broker.
// *broker.Publisher implements it.
type BidEventPublisher interface {
	PublishBidEvent(ctx context.Context, auctionID uuid.UUID, body []byte) error
}

// IntakeService is the fast path between a gateway connection and the
// broker. It pre-validates bids against cached state and enqueues the
// survivors; it never writes durable state. The pre-checks only shed
// obviously invalid load — acceptance here is provisional, and settlement
// re-validates everything against the locked auction row.
type IntakeService struct {
	auctions AuctionSource
	pub      BidEventPublisher
	logger   *slog.Logger
	now      func() time.Time
}

// NewIntakeService creates an IntakeService.
func NewIntakeService(auctions AuctionSource, pub BidEventPublisher, logger *slog.Logger) *IntakeService {
	return &IntakeService{
		auctions: auctions,
		pub:      pub,
		logger:   logger,
		now:      time.Now,
	}
}

// SubmitBid validates a bid against cached state and publishes it for
// settlement. A nil return means accepted-for-processing, not committed.
//
// Rejections: domain.ErrAuctionNotFound, domain.ErrAuctionNotActive, and
// domain.ErrBidTooLow against the cached floor. Infrastructure failures come
// back wrapped retryable so the gateway reports a transient error.
func (s *IntakeService) SubmitBid(ctx context.Context, auctionID, userID uuid.UUID, amount decimal.Decimal) error {
	a, err := s.auctions.GetAuction(ctx, auctionID)
	if err != nil {
		if domain.IsNotFound(err) {
			return err
		}
		return domain.Retryable(fmt.Errorf("intake.SubmitBid: %w", err))
	}

	if !a.ActiveAt(s.now()) {
		return domain.ErrAuctionNotActive
	}

	if floor := s.auctions.CurrentFloor(ctx, a); !amount.GreaterThan(floor) {
		return domain.ErrBidTooLow
	}

	body, err := domain.EncodeBidEvent(domain.BidPayload{
		AuctionID: auctionID,
		UserID:    userID,
		BidAmount: amount,
	})
	if err != nil {
		return fmt.Errorf("intake.SubmitBid: %w", err)
	}

	if err := s.pub.PublishBidEvent(ctx, auctionID, body); err != nil {
		return domain.Retryable(fmt.Errorf("intake.SubmitBid: %w", err))
	}

	s.logger.Debug("bid enqueued",
		"auction_id", auctionID,
		"user_id", userID,
		"amount", amount,
	)
	return nil
}
