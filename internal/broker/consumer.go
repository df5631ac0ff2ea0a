package broker

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeliveryHandler processes one delivery. The handler owns acknowledgement:
// it must Ack or Nack the delivery itself, so each consumer can implement
// its own retry semantics (settlement classifies errors, the audit sink acks
// immediately after buffering).
type DeliveryHandler func(ctx context.Context, d amqp.Delivery)

// ConsumeLoop opens a dedicated channel on the connection, applies the
// prefetch, and feeds deliveries from queue to h until ctx is cancelled.
// It blocks; run it in its own goroutine. The channel is closed on return,
// which requeues any unacknowledged deliveries.
func (c *Client) ConsumeLoop(ctx context.Context, queue, tag string, prefetch int, h DeliveryHandler) error {
	ch, err := c.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if prefetch > 0 {
		if err := ch.Qos(prefetch, 0, false); err != nil {
			return fmt.Errorf("broker.ConsumeLoop: qos %s: %w", queue, err)
		}
	}

	deliveries, err := ch.Consume(queue, tag, false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("broker.ConsumeLoop: consume %s: %w", queue, err)
	}
	c.logger.Info("consumer started", "queue", queue, "tag", tag, "prefetch", prefetch)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("consumer stopping", "queue", queue, "tag", tag)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("broker.ConsumeLoop: delivery channel for %s closed", queue)
			}
			h(ctx, d)
		}
	}
}
