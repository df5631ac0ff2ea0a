// Package broker wraps the RabbitMQ connection and declares the partitioned
// bid-processing topology: a topic entry exchange, a consistent-hash
// partition exchange, a fanout audit duplication path, a direct notification
// exchange, and per-partition retry/dead-letter queues.
package broker

import (
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Client owns the broker connection. AMQP channels are not safe for
// concurrent use, so each publisher and consumer opens its own channel via
// Channel().
type Client struct {
	conn   *amqp.Connection
	logger *slog.Logger
}

// Dial connects to the broker.
func Dial(url string, logger *slog.Logger) (*Client, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("broker.Dial: %w", err)
	}
	return &Client{conn: conn, logger: logger}, nil
}

// Channel opens a fresh channel on the shared connection.
func (c *Client) Channel() (*amqp.Channel, error) {
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("broker.Channel: %w", err)
	}
	return ch, nil
}

// Close tears down the connection and every channel on it.
func (c *Client) Close() error {
	if err := c.conn.Close(); err != nil {
		return fmt.Errorf("broker.Close: %w", err)
	}
	return nil
}

// RetryCycles returns how many retry cycles the delivery has completed, read
// from the x-death header the broker maintains. Each completed cycle leaves
// two entries behind, the rejection off the processing queue and the TTL
// expiry off the retry queue, so only rejection entries count. Zero for first
// deliveries. Used to bound the retry cycle before a message is parked in the
// partition DLQ.
func RetryCycles(d amqp.Delivery) int64 {
	deaths, ok := d.Headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	var cycles int64
	for _, entry := range deaths {
		t, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if reason, _ := t["reason"].(string); reason != "rejected" {
			continue
		}
		if n, ok := t["count"].(int64); ok {
			cycles += n
		}
	}
	return cycles
}
