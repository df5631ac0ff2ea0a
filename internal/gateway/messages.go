// Package gateway holds the WebSocket edge: the upgrade path, per-connection
// pumps, room membership, and the bridge between relay fan-out messages and
// locally connected clients. messages.go defines the wire frames.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Event names every frame carries. Inbound: joinAuction, placeBid.
// Everything else is server-push.
const (
	EventJoinAuction   = "joinAuction"
	EventJoinedAuction = "joinedAuction"
	EventPlaceBid      = "placeBid"
	EventBidPlaced     = "bidPlaced"
	EventBidUpdate     = "bidUpdate"
	EventUserJoined    = "userJoined"
	EventUserLeft      = "userLeft"
	EventAuctionEnded  = "auctionEnded"
	EventBidError      = "bidError"
	EventError         = "error"
)

// Frame is the envelope for every message in either direction.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Inbound payloads
// ──────────────────────────────────────────────────────────────────────────────

// JoinAuctionRequest asks to enter an auction room.
type JoinAuctionRequest struct {
	AuctionID uuid.UUID `json:"auctionId"`
}

// PlaceBidRequest submits a bid into the pipeline.
type PlaceBidRequest struct {
	AuctionID uuid.UUID       `json:"auctionId"`
	BidAmount decimal.Decimal `json:"bidAmount"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Outbound payloads
// ──────────────────────────────────────────────────────────────────────────────

// JoinedAuctionData acknowledges a join with a snapshot of the room.
type JoinedAuctionData struct {
	AuctionID         uuid.UUID        `json:"auctionId"`
	Status            string           `json:"status"`
	CurrentHighestBid *decimal.Decimal `json:"currentHighestBid"`
}

// BidPlacedData acknowledges that a bid entered the pipeline. The bid is not
// committed yet; the authoritative outcome arrives later as a bidUpdate or
// bidError.
type BidPlacedData struct {
	AuctionID uuid.UUID       `json:"auctionId"`
	BidAmount decimal.Decimal `json:"bidAmount"`
	Status    string          `json:"status"` // always "pending"
}

// ErrorData is a request-scoped failure sent to one client.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes carried by ErrorData.
const (
	CodeAuctionNotFound  = "AUCTION_NOT_FOUND"
	CodeAuctionNotActive = "AUCTION_NOT_ACTIVE"
	CodeBidTooLow        = "BID_TOO_LOW"
	CodeAlreadyInRoom    = "ALREADY_IN_ROOM"
	CodeNotInRoom        = "NOT_IN_ROOM"
	CodeRateLimited      = "RATE_LIMITED"
	CodeThrottleLimited  = "THROTTLE_LIMITED"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
	CodeInternal         = "INTERNAL"
)

// codeForError maps a pipeline error to its client-facing code.
func codeForError(err error) string {
	switch {
	case errors.Is(err, domain.ErrAuctionNotFound):
		return CodeAuctionNotFound
	case errors.Is(err, domain.ErrAuctionNotActive):
		return CodeAuctionNotActive
	case errors.Is(err, domain.ErrBidTooLow):
		return CodeBidTooLow
	case errors.Is(err, domain.ErrAlreadyInRoom):
		return CodeAlreadyInRoom
	case errors.Is(err, domain.ErrNotInRoom):
		return CodeNotInRoom
	case errors.Is(err, domain.ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, domain.ErrThrottleLimited):
		return CodeThrottleLimited
	case errors.Is(err, domain.ErrInvalidPayload):
		return CodeInvalidPayload
	default:
		return CodeInternal
	}
}

// encodeFrame marshals data into a Frame body.
func encodeFrame(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("gateway: marshal %s data: %w", event, err)
	}
	return json.Marshal(Frame{Event: event, Data: raw})
}
