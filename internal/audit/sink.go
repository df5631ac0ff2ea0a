// Package audit consumes the fanout copy of every bid event and batches it
// into append-only storage. The sink trades durability for write throughput:
// deliveries are acknowledged as soon as they are buffered in memory, so a
// crash can lose up to one batch of audit rows without ever touching the
// settlement path.
package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Inserter persists one batch of audit records all-or-nothing.
// *repository.AuditRepository implements it.
type Inserter interface {
	BatchInsert(ctx context.Context, records []domain.AuditRecord) error
}

// Sink buffers audit records and flushes them when the buffer reaches the
// batch size or the flush interval elapses, whichever comes first.
type Sink struct {
	inserter Inserter
	cfg      config.AuditConfig
	logger   *slog.Logger

	mu     sync.Mutex
	buf    []domain.AuditRecord
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewSink creates a Sink and starts its flush ticker.
func NewSink(inserter Inserter, cfg config.AuditConfig, logger *slog.Logger) *Sink {
	s := &Sink{
		inserter: inserter,
		cfg:      cfg,
		logger:   logger,
		buf:      make([]domain.AuditRecord, 0, cfg.BatchSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.flushLoop()
	return s
}

// HandleDelivery buffers one event and acknowledges it immediately.
// Events that don't parse as an envelope are dropped; the audit stream
// mirrors the bid stream, so an undecodable body here is already being
// handled as poison by the settlement consumer.
func (s *Sink) HandleDelivery(ctx context.Context, d amqp.Delivery) {
	env, err := domain.DecodeEnvelope(d.Body)
	if err != nil {
		s.logger.Warn("audit event dropped", "error", err)
		if err := d.Nack(false, false); err != nil {
			s.logger.Error("nack failed", "delivery_tag", d.DeliveryTag, "error", err)
		}
		return
	}

	s.mu.Lock()
	if s.closed {
		// The final drain already ran; acking now would lose the record.
		// Redeliver so the next worker picks it up.
		s.mu.Unlock()
		if err := d.Nack(false, true); err != nil {
			s.logger.Error("nack failed", "delivery_tag", d.DeliveryTag, "error", err)
		}
		return
	}
	s.buf = append(s.buf, domain.AuditRecordFrom(env, time.Now()))
	full := len(s.buf) >= s.cfg.BatchSize
	s.mu.Unlock()

	if err := d.Ack(false); err != nil {
		s.logger.Error("ack failed", "delivery_tag", d.DeliveryTag, "error", err)
	}

	if full {
		s.flush(ctx)
	}
}

// Close stops the ticker and synchronously drains the buffer. Call during
// shutdown after the consumer loop has stopped feeding HandleDelivery; a
// delivery that races past that anyway is redelivered, never buffered past
// the final drain.
func (s *Sink) Close(ctx context.Context) {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	// Marking closed and the final drain's buffer swap serialise on the same
	// lock as HandleDelivery's buffering, so no record can slip in between.
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.flush(ctx)
}

func (s *Sink) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.flush(context.Background())
		}
	}
}

// flush swaps the buffer out under the lock and inserts it outside the lock,
// so deliveries keep buffering during the storage round trip. A failed
// insert re-buffers the batch at the front to preserve arrival order.
func (s *Sink) flush(ctx context.Context) {
	s.mu.Lock()
	if len(s.buf) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.buf
	s.buf = make([]domain.AuditRecord, 0, s.cfg.BatchSize)
	s.mu.Unlock()

	if err := s.inserter.BatchInsert(ctx, batch); err != nil {
		s.logger.Error("audit flush failed, re-buffering", "records", len(batch), "error", err)
		s.mu.Lock()
		s.buf = append(batch, s.buf...)
		s.mu.Unlock()
		return
	}
	s.logger.Debug("audit batch flushed", "records", len(batch))
}
