package broker

import (
	"fmt"
	"strconv"

	"github.com/evetabi/liveauction/internal/config"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange and queue names. Producers publish bid events to ExchangeBid
// keyed by auction id; everything downstream is wired by DeclareTopology.
const (
	ExchangeBid          = "bid.x"          // topic: entry point for all bid events
	ExchangeBidHash      = "bid.hash.x"     // x-consistent-hash: partitions by routing key
	ExchangeAuditFanout  = "audit.fanout.x" // fanout: duplicates every event for auditing
	ExchangeNotification = "notification.x" // direct: settlement outcomes
	ExchangeBidDLX       = "bid.dlx"        // direct: dead-letter routing for retries/DLQs

	QueueAuditLog      = "audit-log"
	QueueNotifications = "notifications"

	// RoutingKeyNotification is the binding key on the notifications queue.
	RoutingKeyNotification = "notification"

	bidQueuePrefix = "bid-processing-"
)

// PartitionQueue returns the name of processing queue i (1-based).
func PartitionQueue(i int) string { return bidQueuePrefix + strconv.Itoa(i) }

// RetryQueue returns the TTL-bound holding queue for partition i.
func RetryQueue(i int) string { return PartitionQueue(i) + ".retry" }

// DeadLetterQueue returns the final parking queue for partition i.
func DeadLetterQueue(i int) string { return PartitionQueue(i) + ".dlq" }

// DeclareTopology declares every exchange, queue, and binding. Idempotent;
// each process calls it at startup so any replica can boot first.
//
// Retry path per partition: the processing queue dead-letters rejected
// messages to the retry queue, which holds them for cfg.RetryDelay with no
// consumer and then dead-letters them back to the processing queue through
// the default exchange. Messages that exhaust their retry cycles are
// published to the partition DLQ for manual inspection; nothing auto-requeues
// from there.
func DeclareTopology(ch *amqp.Channel, cfg config.BrokerConfig) error {
	// ── 1. Exchanges ──────────────────────────────────────────────────────────
	exchanges := []struct {
		name string
		kind string
	}{
		{ExchangeBid, "topic"},
		{ExchangeBidHash, "x-consistent-hash"},
		{ExchangeAuditFanout, "fanout"},
		{ExchangeNotification, "direct"},
		{ExchangeBidDLX, "direct"},
	}
	for _, ex := range exchanges {
		if err := ch.ExchangeDeclare(ex.name, ex.kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker.DeclareTopology: exchange %s: %w", ex.name, err)
		}
	}

	// ── 2. Partitioned processing queues with retry + DLQ ─────────────────────
	for i := 1; i <= cfg.Partitions; i++ {
		mainQ := PartitionQueue(i)
		retryQ := RetryQueue(i)
		dlq := DeadLetterQueue(i)

		// 2.1 Final parking queue.
		if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
			return fmt.Errorf("broker.DeclareTopology: queue %s: %w", dlq, err)
		}
		if err := ch.QueueBind(dlq, dlq, ExchangeBidDLX, false, nil); err != nil {
			return fmt.Errorf("broker.DeclareTopology: bind %s: %w", dlq, err)
		}

		// 2.2 Retry queue: holds messages for RetryDelay, then routes them
		// back to the processing queue via the default exchange.
		if _, err := ch.QueueDeclare(retryQ, true, false, false, false, amqp.Table{
			"x-message-ttl":             cfg.RetryDelay.Milliseconds(),
			"x-dead-letter-exchange":    "",
			"x-dead-letter-routing-key": mainQ,
		}); err != nil {
			return fmt.Errorf("broker.DeclareTopology: queue %s: %w", retryQ, err)
		}
		if err := ch.QueueBind(retryQ, retryQ, ExchangeBidDLX, false, nil); err != nil {
			return fmt.Errorf("broker.DeclareTopology: bind %s: %w", retryQ, err)
		}

		// 2.3 Processing queue: rejected messages dead-letter to the retry
		// queue for one delayed redelivery cycle.
		if _, err := ch.QueueDeclare(mainQ, true, false, false, false, amqp.Table{
			"x-dead-letter-exchange":    ExchangeBidDLX,
			"x-dead-letter-routing-key": retryQ,
		}); err != nil {
			return fmt.Errorf("broker.DeclareTopology: queue %s: %w", mainQ, err)
		}

		// 2.4 Bind to the consistent-hash exchange with weight 1 so each
		// routing key (auction id) maps to exactly one partition.
		if err := ch.QueueBind(mainQ, "1", ExchangeBidHash, false, nil); err != nil {
			return fmt.Errorf("broker.DeclareTopology: bind %s: %w", mainQ, err)
		}
	}

	// ── 3. Audit queue on the fanout ──────────────────────────────────────────
	if _, err := ch.QueueDeclare(QueueAuditLog, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker.DeclareTopology: queue %s: %w", QueueAuditLog, err)
	}
	if err := ch.QueueBind(QueueAuditLog, "", ExchangeAuditFanout, false, nil); err != nil {
		return fmt.Errorf("broker.DeclareTopology: bind %s: %w", QueueAuditLog, err)
	}

	// ── 4. Exchange-to-exchange wiring ────────────────────────────────────────
	// Every bid event is duplicated into the audit fanout and routed into the
	// hash exchange for partitioning.
	if err := ch.ExchangeBind(ExchangeAuditFanout, "#", ExchangeBid, false, nil); err != nil {
		return fmt.Errorf("broker.DeclareTopology: bind audit<-bid: %w", err)
	}
	if err := ch.ExchangeBind(ExchangeBidHash, "#", ExchangeBid, false, nil); err != nil {
		return fmt.Errorf("broker.DeclareTopology: bind hash<-bid: %w", err)
	}
	// Notification outcomes are audited too, independent of processing.
	if err := ch.ExchangeBind(ExchangeAuditFanout, RoutingKeyNotification, ExchangeNotification, false, nil); err != nil {
		return fmt.Errorf("broker.DeclareTopology: bind audit<-notification: %w", err)
	}

	// ── 5. Notifications queue ────────────────────────────────────────────────
	if _, err := ch.QueueDeclare(QueueNotifications, true, false, false, false, nil); err != nil {
		return fmt.Errorf("broker.DeclareTopology: queue %s: %w", QueueNotifications, err)
	}
	if err := ch.QueueBind(QueueNotifications, RoutingKeyNotification, ExchangeNotification, false, nil); err != nil {
		return fmt.Errorf("broker.DeclareTopology: bind %s: %w", QueueNotifications, err)
	}

	return nil
}
