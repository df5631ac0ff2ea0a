// Package relay is the cross-replica fan-out layer. Settlement workers and
// gateways publish settlement outcomes and presence transitions to a fixed
// set of logical Redis pub/sub channels; every gateway replica subscribes to
// all of them and rebroadcasts matching messages to its locally-connected
// clients only. Replicas share logical auction/user addressing, never
// physical connection objects.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Logical channels. Every gateway replica subscribes to all of them at startup.
const (
	ChannelBidUpdates     = "bid-updates"
	ChannelUserJoins      = "user-joins"
	ChannelUserLeaves     = "user-leaves"
	ChannelAuctionUpdates = "auction-updates"
	ChannelBidError       = "bid-error"
)

// Channels lists every logical channel, in subscription order.
func Channels() []string {
	return []string{
		ChannelBidUpdates,
		ChannelUserJoins,
		ChannelUserLeaves,
		ChannelAuctionUpdates,
		ChannelBidError,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Message shapes
// ──────────────────────────────────────────────────────────────────────────────

// BidUpdate announces a newly committed highest bid to an auction room.
type BidUpdate struct {
	AuctionID uuid.UUID       `json:"auctionId"`
	BidAmount decimal.Decimal `json:"bidAmount"`
	UserID    uuid.UUID       `json:"userId"`
}

// PresenceChange announces a user joining or leaving an auction room.
type PresenceChange struct {
	AuctionID uuid.UUID `json:"auctionId"`
	UserID    uuid.UUID `json:"userId"`
}

// AuctionEnded announces the final state of a closed auction.
type AuctionEnded struct {
	AuctionID      uuid.UUID        `json:"auctionId"`
	FinalBidAmount *decimal.Decimal `json:"finalBidAmount"`
	WinnerID       *uuid.UUID       `json:"winnerId"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Publisher
// ──────────────────────────────────────────────────────────────────────────────

// Publisher sends messages into the fan-out channels.
type Publisher struct {
	rdb *redis.Client
}

// NewPublisher creates a Publisher on an existing Redis client.
func NewPublisher(rdb *redis.Client) *Publisher {
	return &Publisher{rdb: rdb}
}

// PublishBidUpdate announces a committed bid on bid-updates.
func (p *Publisher) PublishBidUpdate(ctx context.Context, msg BidUpdate) error {
	return p.publish(ctx, ChannelBidUpdates, msg)
}

// PublishUserJoined announces a user's first connection entering a room.
func (p *Publisher) PublishUserJoined(ctx context.Context, msg PresenceChange) error {
	return p.publish(ctx, ChannelUserJoins, msg)
}

// PublishUserLeft announces a user's last connection leaving a room.
func (p *Publisher) PublishUserLeft(ctx context.Context, msg PresenceChange) error {
	return p.publish(ctx, ChannelUserLeaves, msg)
}

// PublishAuctionEnded announces auction closure on auction-updates.
func (p *Publisher) PublishAuctionEnded(ctx context.Context, msg AuctionEnded) error {
	return p.publish(ctx, ChannelAuctionUpdates, msg)
}

// PublishBidError forwards a settlement rejection for connection-scoped delivery.
func (p *Publisher) PublishBidError(ctx context.Context, msg domain.BidErrorPayload) error {
	return p.publish(ctx, ChannelBidError, msg)
}

func (p *Publisher) publish(ctx context.Context, channel string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("relay: marshal %s message: %w", channel, err)
	}
	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("relay: publish %s: %w", channel, err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Subscriber
// ──────────────────────────────────────────────────────────────────────────────

// Handler processes one raw message from a logical channel.
type Handler func(payload []byte)

// Subscriber holds one Redis pub/sub subscription across all logical
// channels and dispatches messages to per-channel handlers.
type Subscriber struct {
	rdb      *redis.Client
	logger   *slog.Logger
	handlers map[string]Handler
}

// NewSubscriber creates a Subscriber. Register handlers with On before Run.
func NewSubscriber(rdb *redis.Client, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		rdb:      rdb,
		logger:   logger,
		handlers: make(map[string]Handler),
	}
}

// On registers the handler for one logical channel. Not safe to call after Run.
func (s *Subscriber) On(channel string, h Handler) {
	s.handlers[channel] = h
}

// Run subscribes to every logical channel and dispatches messages until ctx
// is cancelled. Call it once as a goroutine from main().
func (s *Subscriber) Run(ctx context.Context) error {
	sub := s.rdb.Subscribe(ctx, Channels()...)
	defer sub.Close()

	// Block until the subscription is confirmed so callers can rely on the
	// replica receiving every message published after startup.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay.Subscriber: subscribe: %w", err)
	}
	s.logger.Info("relay subscriber started", "channels", Channels())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			h, known := s.handlers[msg.Channel]
			if !known {
				s.logger.Warn("relay message on unhandled channel", "channel", msg.Channel)
				continue
			}
			h([]byte(msg.Payload))
		}
	}
}
