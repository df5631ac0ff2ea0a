package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Event envelope
// ──────────────────────────────────────────────────────────────────────────────

// EventType tags the payload carried by an Envelope.
type EventType string

const (
	EventPlaceBid      EventType = "PLACE_BID"
	EventPlaceBidError EventType = "PLACE_BID_ERROR"
)

// Envelope is the wire format for every broker message: bid events published
// by intake and error notifications published by settlement. Payload stays
// raw so the audit sink can store any event type without knowing its shape.
type Envelope struct {
	EventType EventType       `json:"eventType"`
	Timestamp int64           `json:"timestamp"` // unix milliseconds
	Payload   json.RawMessage `json:"payload"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Payloads
// ──────────────────────────────────────────────────────────────────────────────

// BidPayload is the payload of a PLACE_BID event.
type BidPayload struct {
	AuctionID uuid.UUID       `json:"auctionId"`
	UserID    uuid.UUID       `json:"userId"`
	BidAmount decimal.Decimal `json:"bidAmount"`
}

// ErrorKind classifies a settlement rejection for the client.
type ErrorKind string

const (
	KindBidConflict ErrorKind = "BID_CONFLICT" // domain rejection (floor, not active)
	KindBidError    ErrorKind = "BID_ERROR"    // anything else (not found, malformed)
)

// KindForError maps a settlement rejection to its client-facing kind.
func KindForError(err error) ErrorKind {
	if IsConflict(err) {
		return KindBidConflict
	}
	return KindBidError
}

// BidErrorPayload is the payload of a PLACE_BID_ERROR event.
type BidErrorPayload struct {
	AuctionID uuid.UUID       `json:"auctionId"`
	UserID    uuid.UUID       `json:"userId"`
	Amount    decimal.Decimal `json:"amount"`
	Reason    string          `json:"reason"`
	Kind      ErrorKind       `json:"type"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Encoding helpers
// ──────────────────────────────────────────────────────────────────────────────

// EncodeBidEvent wraps p in a PLACE_BID envelope stamped with the current time.
func EncodeBidEvent(p BidPayload) ([]byte, error) {
	return encodeEnvelope(EventPlaceBid, p)
}

// EncodeBidErrorEvent wraps p in a PLACE_BID_ERROR envelope.
func EncodeBidErrorEvent(p BidErrorPayload) ([]byte, error) {
	return encodeEnvelope(EventPlaceBidError, p)
}

func encodeEnvelope(et EventType, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("domain.encodeEnvelope: marshal payload: %w", err)
	}
	env := Envelope{
		EventType: et,
		Timestamp: time.Now().UnixMilli(),
		Payload:   raw,
	}
	return json.Marshal(env)
}

// DecodeEnvelope parses a broker message body.
func DecodeEnvelope(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("domain.DecodeEnvelope: %w", err)
	}
	return env, nil
}

// DecodeBidPayload extracts the bid payload from a PLACE_BID envelope.
func (e Envelope) DecodeBidPayload() (BidPayload, error) {
	if e.EventType != EventPlaceBid {
		return BidPayload{}, fmt.Errorf("domain: expected %s envelope, got %s", EventPlaceBid, e.EventType)
	}
	var p BidPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return BidPayload{}, fmt.Errorf("domain: decode bid payload: %w", err)
	}
	return p, nil
}

// DecodeBidErrorPayload extracts the error payload from a PLACE_BID_ERROR envelope.
func (e Envelope) DecodeBidErrorPayload() (BidErrorPayload, error) {
	if e.EventType != EventPlaceBidError {
		return BidErrorPayload{}, fmt.Errorf("domain: expected %s envelope, got %s", EventPlaceBidError, e.EventType)
	}
	var p BidErrorPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return BidErrorPayload{}, fmt.Errorf("domain: decode bid error payload: %w", err)
	}
	return p, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// AuditRecord
// ──────────────────────────────────────────────────────────────────────────────

// AuditRecord is the normalized projection of one broker event, write-only
// and batch-inserted by the audit sink. Never updated.
type AuditRecord struct {
	EventType      string    `db:"event_type"`
	Payload        []byte    `db:"payload"` // raw event payload JSON
	EventTimestamp time.Time `db:"event_timestamp"`
	ReceivedAt     time.Time `db:"received_at"`
}

// AuditRecordFrom projects an envelope into its audit form.
func AuditRecordFrom(env Envelope, receivedAt time.Time) AuditRecord {
	return AuditRecord{
		EventType:      string(env.EventType),
		Payload:        []byte(env.Payload),
		EventTimestamp: time.UnixMilli(env.Timestamp).UTC(),
		ReceivedAt:     receivedAt.UTC(),
	}
}
