package audit

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// ──────────────────────────────────────────────────────────────────────────────
// Fakes
// ──────────────────────────────────────────────────────────────────────────────

type fakeInserter struct {
	mu      sync.Mutex
	batches [][]domain.AuditRecord
	failN   int // fail the first N calls
}

func (f *fakeInserter) BatchInsert(ctx context.Context, records []domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failN > 0 {
		f.failN--
		return errors.New("storage unavailable")
	}
	cp := make([]domain.AuditRecord, len(records))
	copy(cp, records)
	f.batches = append(f.batches, cp)
	return nil
}

func (f *fakeInserter) totalRecords() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

type fakeAcker struct {
	mu    sync.Mutex
	acks  int
	nacks int
}

func (f *fakeAcker) Ack(tag uint64, multiple bool) error {
	f.mu.Lock()
	f.acks++
	f.mu.Unlock()
	return nil
}

func (f *fakeAcker) Nack(tag uint64, multiple, requeue bool) error {
	f.mu.Lock()
	f.nacks++
	f.mu.Unlock()
	return nil
}

func (f *fakeAcker) Reject(tag uint64, requeue bool) error { return f.Nack(tag, false, requeue) }

func auditDelivery(t *testing.T, acker *fakeAcker) amqp.Delivery {
	t.Helper()
	body, err := domain.EncodeBidEvent(domain.BidPayload{
		AuctionID: uuid.New(),
		UserID:    uuid.New(),
		BidAmount: decimal.RequireFromString("99"),
	})
	require.NoError(t, err)
	return amqp.Delivery{Acknowledger: acker, Body: body, DeliveryTag: 1}
}

func newTestSink(t *testing.T, inserter Inserter, batchSize int) *Sink {
	t.Helper()
	s := NewSink(inserter, config.AuditConfig{
		BatchSize:     batchSize,
		FlushInterval: time.Hour, // keep the ticker out of the way
	}, slog.New(slog.DiscardHandler))
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

// ──────────────────────────────────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────────────────────────────────

func TestSink_AcksBeforeFlush(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(t, ins, 100)
	acker := &fakeAcker{}

	s.HandleDelivery(context.Background(), auditDelivery(t, acker))

	require.Equal(t, 1, acker.acks, "delivery must ack on buffering, not on flush")
	require.Equal(t, 0, ins.totalRecords(), "below batch size, nothing flushed yet")
}

func TestSink_FlushesAtBatchSize(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(t, ins, 3)
	acker := &fakeAcker{}

	for i := 0; i < 3; i++ {
		s.HandleDelivery(context.Background(), auditDelivery(t, acker))
	}

	require.Equal(t, 3, acker.acks)
	require.Equal(t, 3, ins.totalRecords(), "hitting the batch size must trigger a flush")
}

func TestSink_CloseDrainsBuffer(t *testing.T) {
	ins := &fakeInserter{}
	s := NewSink(ins, config.AuditConfig{BatchSize: 100, FlushInterval: time.Hour}, slog.New(slog.DiscardHandler))
	acker := &fakeAcker{}

	s.HandleDelivery(context.Background(), auditDelivery(t, acker))
	s.HandleDelivery(context.Background(), auditDelivery(t, acker))

	s.Close(context.Background())
	require.Equal(t, 2, ins.totalRecords(), "Close must flush the remaining buffer")
}

func TestSink_FailedFlushRebuffers(t *testing.T) {
	ins := &fakeInserter{failN: 1}
	s := newTestSink(t, ins, 2)
	acker := &fakeAcker{}

	// First flush attempt fails; records must survive for the next flush.
	s.HandleDelivery(context.Background(), auditDelivery(t, acker))
	s.HandleDelivery(context.Background(), auditDelivery(t, acker))
	require.Equal(t, 0, ins.totalRecords())

	// Next delivery refills past the threshold and retries the whole set.
	s.HandleDelivery(context.Background(), auditDelivery(t, acker))
	require.Equal(t, 3, ins.totalRecords(), "re-buffered records must flush with the next batch")
}

func TestSink_DeliveryAfterCloseIsRedelivered(t *testing.T) {
	ins := &fakeInserter{}
	s := NewSink(ins, config.AuditConfig{BatchSize: 100, FlushInterval: time.Hour}, slog.New(slog.DiscardHandler))
	acker := &fakeAcker{}

	s.HandleDelivery(context.Background(), auditDelivery(t, acker))
	s.Close(context.Background())
	require.Equal(t, 1, ins.totalRecords())

	// A straggler racing shutdown must not be acked into a drained buffer.
	s.HandleDelivery(context.Background(), auditDelivery(t, acker))

	require.Equal(t, 1, acker.acks, "no ack after the final drain")
	require.Equal(t, 1, acker.nacks, "the straggler must go back to the broker")
	require.Equal(t, 1, ins.totalRecords())
}

func TestSink_UndecodableEventIsNacked(t *testing.T) {
	ins := &fakeInserter{}
	s := newTestSink(t, ins, 10)
	acker := &fakeAcker{}

	d := amqp.Delivery{Acknowledger: acker, Body: []byte("junk"), DeliveryTag: 1}
	s.HandleDelivery(context.Background(), d)

	require.Equal(t, 0, acker.acks)
	require.Equal(t, 1, acker.nacks)
	require.Equal(t, 0, ins.totalRecords())
}
