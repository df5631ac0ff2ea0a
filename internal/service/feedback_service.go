package service

import (
	"context"
	"log/slog"

	"github.com/evetabi/liveauction/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrorRelay fans a settlement rejection out to gateway replicas for
// connection-scoped delivery. *relay.Publisher implements it.
type ErrorRelay interface {
	PublishBidError(ctx context.Context, msg domain.BidErrorPayload) error
}

// FeedbackService bridges the notifications queue onto the relay: settlement
// workers publish rejections to the broker, and this consumer turns them
// into bid-error relay messages that only the offending bidder's gateway
// delivers.
type FeedbackService struct {
	relay  ErrorRelay
	logger *slog.Logger
}

// NewFeedbackService creates a FeedbackService.
func NewFeedbackService(r ErrorRelay, logger *slog.Logger) *FeedbackService {
	return &FeedbackService{relay: r, logger: logger}
}

// HandleDelivery forwards one rejection notification. The notifications
// queue has no dead-letter wiring, so failures drop the message after a log
// line rather than cycling it.
func (s *FeedbackService) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	env, err := domain.DecodeEnvelope(d.Body)
	if err != nil {
		s.drop(d, "undecodable envelope", err)
		return
	}
	payload, err := env.DecodeBidErrorPayload()
	if err != nil {
		s.drop(d, "undecodable error payload", err)
		return
	}

	if err := s.relay.PublishBidError(ctx, payload); err != nil {
		s.drop(d, "relay publish failed", err)
		return
	}

	s.logger.Debug("bid rejection relayed",
		"auction_id", payload.AuctionID,
		"user_id", payload.UserID,
		"kind", payload.Kind,
	)
	if err := d.Ack(false); err != nil {
		s.logger.Error("ack failed", "delivery_tag", d.DeliveryTag, "error", err)
	}
}

func (s *FeedbackService) drop(d amqp.Delivery, reason string, cause error) {
	s.logger.Error("rejection notification dropped", "reason", reason, "error", cause)
	if err := d.Nack(false, false); err != nil {
		s.logger.Error("nack failed", "delivery_tag", d.DeliveryTag, "error", err)
	}
}
