package broker

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Publisher serialises publishes onto one channel. Safe for concurrent use.
type Publisher struct {
	mu sync.Mutex
	ch *amqp.Channel
}

// NewPublisher opens a dedicated channel for publishing.
func NewPublisher(c *Client) (*Publisher, error) {
	ch, err := c.Channel()
	if err != nil {
		return nil, err
	}
	return &Publisher{ch: ch}, nil
}

// PublishBidEvent publishes a bid event to the entry exchange, keyed by the
// auction id so the hash exchange routes all of one auction's events to the
// same partition. Marked persistent to survive broker restarts.
func (p *Publisher) PublishBidEvent(ctx context.Context, auctionID uuid.UUID, body []byte) error {
	return p.publish(ctx, ExchangeBid, auctionID.String(), body)
}

// PublishBidError publishes a settlement rejection to the notification
// exchange. The topology duplicates it into the audit fanout.
func (p *Publisher) PublishBidError(ctx context.Context, body []byte) error {
	return p.publish(ctx, ExchangeNotification, RoutingKeyNotification, body)
}

// PublishToDeadLetter parks a message in the partition DLQ after its retry
// cycles are exhausted.
func (p *Publisher) PublishToDeadLetter(ctx context.Context, partition int, body []byte) error {
	return p.publish(ctx, ExchangeBidDLX, DeadLetterQueue(partition), body)
}

func (p *Publisher) publish(ctx context.Context, exchange, key string, body []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	err := p.ch.PublishWithContext(ctx, exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("broker.Publisher: publish to %s/%s: %w", exchange, key, err)
	}
	return nil
}

// Close releases the publisher's channel.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.Close()
}
