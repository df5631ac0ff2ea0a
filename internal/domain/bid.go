package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Bid is one committed bid. Immutable once written: bids form an append-only
// history per auction, created exclusively by the settlement worker after a
// successful conditional commit.
type Bid struct {
	ID        uuid.UUID       `json:"id"         db:"id"`
	AuctionID uuid.UUID       `json:"auction_id" db:"auction_id"`
	UserID    uuid.UUID       `json:"user_id"    db:"user_id"`
	Amount    decimal.Decimal `json:"amount"     db:"amount"`
	PlacedAt  time.Time       `json:"placed_at"  db:"placed_at"`
}
