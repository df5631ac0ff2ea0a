package service

import (
	"context"
	"log/slog"

	"github.com/evetabi/liveauction/internal/broker"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/evetabi/liveauction/internal/relay"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
)

// BidCommitter runs the settlement transaction. *repository.AuctionRepository
// implements it.
type BidCommitter interface {
	CommitBid(ctx context.Context, auctionID, userID uuid.UUID, amount decimal.Decimal) (*domain.Bid, error)
}

// HighestBidCache records a committed bid for the intake pre-check.
// *cache.Cache implements it.
type HighestBidCache interface {
	SetHighestBid(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, bidderID uuid.UUID) error
}

// OutcomeRelay fans a committed bid out to gateway replicas.
// *relay.Publisher implements it.
type OutcomeRelay interface {
	PublishBidUpdate(ctx context.Context, msg relay.BidUpdate) error
}

// RejectionPublisher routes settlement rejections and poison messages.
// *broker.Publisher implements it.
type RejectionPublisher interface {
	PublishBidError(ctx context.Context, body []byte) error
	PublishToDeadLetter(ctx context.Context, partition int, body []byte) error
}

// SettlementService consumes one partition's bid-processing queue and drives
// each delivery through commit, rejection, or retry.
//
// Outcome per delivery:
//
//	committed        → cache + relay fan-out, Ack
//	domain rejection → error notification to the bidder, Ack (terminal)
//	malformed        → straight to the partition DLQ, Ack (poison)
//	infrastructure   → Nack into the retry cycle; DLQ once retries are spent
type SettlementService struct {
	partition  int
	maxRetries int
	committer  BidCommitter
	cache      HighestBidCache
	relay      OutcomeRelay
	pub        RejectionPublisher
	logger     *slog.Logger
}

// NewSettlementService creates the settlement handler for one partition.
func NewSettlementService(
	partition, maxRetries int,
	committer BidCommitter,
	c HighestBidCache,
	r OutcomeRelay,
	pub RejectionPublisher,
	logger *slog.Logger,
) *SettlementService {
	return &SettlementService{
		partition:  partition,
		maxRetries: maxRetries,
		committer:  committer,
		cache:      c,
		relay:      r,
		pub:        pub,
		logger:     logger,
	}
}

// HandleDelivery processes one bid event. It owns the acknowledgement.
func (s *SettlementService) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	env, err := domain.DecodeEnvelope(d.Body)
	if err != nil {
		s.park(ctx, d, "undecodable envelope", err)
		return
	}
	payload, err := env.DecodeBidPayload()
	if err != nil {
		s.park(ctx, d, "undecodable bid payload", err)
		return
	}

	bid, err := s.committer.CommitBid(ctx, payload.AuctionID, payload.UserID, payload.BidAmount)
	switch {
	case err == nil:
		s.settleSuccess(ctx, d, bid)
	case domain.IsConflict(err) || domain.IsNotFound(err):
		s.settleRejection(ctx, d, payload, err)
	default:
		s.retryOrPark(ctx, d, payload, err)
	}
}

func (s *SettlementService) settleSuccess(ctx context.Context, d amqp.Delivery, bid *domain.Bid) {
	// Cache and relay are best-effort: the row already committed, and a
	// missed update only costs a storage read or one stale broadcast.
	if err := s.cache.SetHighestBid(ctx, bid.AuctionID, bid.Amount, bid.UserID); err != nil {
		s.logger.Warn("highest bid cache update failed", "auction_id", bid.AuctionID, "error", err)
	}
	if err := s.relay.PublishBidUpdate(ctx, relay.BidUpdate{
		AuctionID: bid.AuctionID,
		BidAmount: bid.Amount,
		UserID:    bid.UserID,
	}); err != nil {
		s.logger.Error("bid update fan-out failed", "auction_id", bid.AuctionID, "error", err)
	}

	s.logger.Info("bid committed",
		"auction_id", bid.AuctionID,
		"user_id", bid.UserID,
		"amount", bid.Amount,
	)
	s.ack(d)
}

// settleRejection notifies the bidder and acknowledges: a domain rejection is
// terminal, so redelivering the event could never change the outcome.
func (s *SettlementService) settleRejection(ctx context.Context, d amqp.Delivery, p domain.BidPayload, cause error) {
	body, err := domain.EncodeBidErrorEvent(domain.BidErrorPayload{
		AuctionID: p.AuctionID,
		UserID:    p.UserID,
		Amount:    p.BidAmount,
		Reason:    cause.Error(),
		Kind:      domain.KindForError(cause),
	})
	if err != nil {
		s.logger.Error("bid error encode failed", "auction_id", p.AuctionID, "error", err)
		s.ack(d)
		return
	}
	if err := s.pub.PublishBidError(ctx, body); err != nil {
		s.logger.Error("bid error publish failed", "auction_id", p.AuctionID, "error", err)
	}

	s.logger.Info("bid rejected",
		"auction_id", p.AuctionID,
		"user_id", p.UserID,
		"amount", p.BidAmount,
		"reason", cause.Error(),
	)
	s.ack(d)
}

// retryOrPark handles infrastructure failures. The first MaxRetries failures
// cycle through the delayed retry queue; after that the event is parked in
// the partition DLQ for operator replay.
func (s *SettlementService) retryOrPark(ctx context.Context, d amqp.Delivery, p domain.BidPayload, cause error) {
	cycles := broker.RetryCycles(d)
	if cycles < int64(s.maxRetries) {
		s.logger.Warn("bid settlement failed, retrying",
			"auction_id", p.AuctionID,
			"user_id", p.UserID,
			"attempt", cycles+1,
			"error", cause,
		)
		if err := d.Nack(false, false); err != nil {
			s.logger.Error("nack failed", "error", err)
		}
		return
	}
	s.park(ctx, d, "retries exhausted", cause)
}

// park publishes the raw event to the partition DLQ and acknowledges it off
// the main queue. If even the DLQ publish fails, the delivery is nacked so
// the broker keeps it in the retry cycle rather than losing it.
func (s *SettlementService) park(ctx context.Context, d amqp.Delivery, reason string, cause error) {
	if err := s.pub.PublishToDeadLetter(ctx, s.partition, d.Body); err != nil {
		s.logger.Error("dead-letter publish failed", "partition", s.partition, "error", err)
		if err := d.Nack(false, false); err != nil {
			s.logger.Error("nack failed", "error", err)
		}
		return
	}
	s.logger.Warn("bid event parked in dead-letter queue",
		"partition", s.partition,
		"reason", reason,
		"error", cause,
	)
	s.ack(d)
}

func (s *SettlementService) ack(d amqp.Delivery) {
	if err := d.Ack(false); err != nil {
		s.logger.Error("ack failed", "delivery_tag", d.DeliveryTag, "error", err)
	}
}
