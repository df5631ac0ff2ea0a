// Package domain defines the core business entities for the live auction
// system: auctions, bids, users, and the event envelopes that travel through
// the broker and the fan-out relay.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// AuctionStatus represents the lifecycle state of an auction.
type AuctionStatus string

const (
	StatusPending AuctionStatus = "PENDING" // created, bidding not yet open
	StatusOngoing AuctionStatus = "ONGOING" // live, accepting bids
	StatusEnded   AuctionStatus = "ENDED"   // closed, winner final
)

// ──────────────────────────────────────────────────────────────────────────────
// Auction
// ──────────────────────────────────────────────────────────────────────────────

// Auction represents a single live auction for one item.
//
// CurrentHighestBid is nil until the first bid is committed; from then on it
// is non-decreasing for the auction's lifetime. WinnerID is only non-nil
// after at least one accepted bid.
type Auction struct {
	ID                uuid.UUID        `json:"id"                  db:"id"`
	ItemID            string           `json:"item_id"             db:"item_id"`
	StartTime         time.Time        `json:"start_time"          db:"start_time"`
	EndTime           time.Time        `json:"end_time"            db:"end_time"`
	StartingBid       decimal.Decimal  `json:"starting_bid"        db:"starting_bid"`
	CurrentHighestBid *decimal.Decimal `json:"current_highest_bid" db:"current_highest_bid"`
	WinnerID          *uuid.UUID       `json:"winner_id"           db:"winner_id"`
	Status            AuctionStatus    `json:"status"              db:"status"`
	CreatedAt         time.Time        `json:"created_at"          db:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"          db:"updated_at"`
}

// IsOngoing returns true while the auction row says bidding is open.
func (a *Auction) IsOngoing() bool {
	return a.Status == StatusOngoing
}

// ActiveAt returns true when the auction is ONGOING and t falls inside the
// half-open bidding window [StartTime, EndTime).
func (a *Auction) ActiveAt(t time.Time) bool {
	return a.IsOngoing() && !t.Before(a.StartTime) && t.Before(a.EndTime)
}

// HasBids returns true once at least one bid has been committed.
func (a *Auction) HasBids() bool {
	return a.CurrentHighestBid != nil
}

// FloorPrice returns the amount a new bid must strictly exceed: the current
// highest bid, or the starting bid when no bid has been committed yet.
func (a *Auction) FloorPrice() decimal.Decimal {
	if a.CurrentHighestBid != nil {
		return *a.CurrentHighestBid
	}
	return a.StartingBid
}

// Beats returns true when amount strictly exceeds the current floor.
func (a *Auction) Beats(amount decimal.Decimal) bool {
	return amount.GreaterThan(a.FloorPrice())
}

// ValidateBid is the settlement decision: run against the locked row state,
// it decides whether a bid commits. The auction must be ONGOING and the
// amount must beat the current floor. Returns ErrAuctionNotActive or
// ErrBidConflict on rejection, nil when the bid wins the floor.
func (a *Auction) ValidateBid(amount decimal.Decimal) error {
	if !a.IsOngoing() {
		return ErrAuctionNotActive
	}
	if !a.Beats(amount) {
		return ErrBidConflict
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// User
// ──────────────────────────────────────────────────────────────────────────────

// User is the read-mostly account entity. Credential verification happens
// outside this core; by the time a gateway operation runs, the connection
// carries a verified user id that resolves to one of these.
type User struct {
	ID        uuid.UUID `json:"id"         db:"id"`
	Username  string    `json:"username"   db:"username"`
	Email     string    `json:"email"      db:"email"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
