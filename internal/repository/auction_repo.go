// Package repository holds all PostgreSQL access for auctions, users, bids,
// and audit records.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// AuctionRepository handles all database operations for Auctions and Bids.
type AuctionRepository struct {
	db *sqlx.DB
}

// NewAuctionRepository creates a new AuctionRepository.
func NewAuctionRepository(db *sqlx.DB) *AuctionRepository {
	return &AuctionRepository{db: db}
}

// GetByID fetches an auction by its primary key.
func (r *AuctionRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	var a domain.Auction
	err := r.db.GetContext(ctx, &a, `SELECT * FROM auctions WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("auction_repo.GetByID: %w", err)
	}
	return &a, nil
}

// Create inserts a new auction row. Used by the admin/seed flow, which lives
// outside the bid pipeline.
func (r *AuctionRepository) Create(ctx context.Context, a *domain.Auction) error {
	query := `
		INSERT INTO auctions
			(id, item_id, start_time, end_time, starting_bid, current_highest_bid,
			 winner_id, status, created_at, updated_at)
		VALUES
			(:id, :item_id, :start_time, :end_time, :starting_bid, :current_highest_bid,
			 :winner_id, :status, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, a); err != nil {
		return fmt.Errorf("auction_repo.Create: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// CommitBid — the settlement transaction
// ──────────────────────────────────────────────────────────────────────────────

// CommitBid atomically re-validates and commits one bid.
//
// The auction row is read fresh with FOR UPDATE, bypassing the cache: the
// intake pre-check may have passed on stale data, and this re-check against
// the locked row is the sole source of truth for the monotonic highest-bid
// invariant. Two settlement workers racing on the same auction serialise
// here regardless of which partition delivered their events.
//
// Returns domain.ErrAuctionNotFound, domain.ErrAuctionNotActive, or
// domain.ErrBidConflict for terminal rejections; any other error is an
// infrastructure failure the caller should retry via broker redelivery.
func (r *AuctionRepository) CommitBid(ctx context.Context, auctionID, userID uuid.UUID, amount decimal.Decimal) (bid *domain.Bid, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.CommitBid: begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var a domain.Auction
	err = tx.GetContext(ctx, &a, `
		SELECT * FROM auctions
		WHERE id = $1
		FOR UPDATE`, auctionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAuctionNotFound
		}
		return nil, fmt.Errorf("auction_repo.CommitBid: select for update: %w", err)
	}

	if err = a.ValidateBid(amount); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx, `
		UPDATE auctions
		SET current_highest_bid = $1,
		    winner_id           = $2,
		    updated_at          = $3
		WHERE id = $4`,
		amount, userID, now, auctionID); err != nil {
		return nil, fmt.Errorf("auction_repo.CommitBid: update auction: %w", err)
	}

	b := &domain.Bid{
		ID:        uuid.New(),
		AuctionID: auctionID,
		UserID:    userID,
		Amount:    amount,
		PlacedAt:  now,
	}
	if _, err = tx.NamedExecContext(ctx, `
		INSERT INTO bids (id, auction_id, user_id, amount, placed_at)
		VALUES (:id, :auction_id, :user_id, :amount, :placed_at)`, b); err != nil {
		return nil, fmt.Errorf("auction_repo.CommitBid: insert bid: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("auction_repo.CommitBid: commit: %w", err)
	}
	return b, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Lifecycle queries
// ──────────────────────────────────────────────────────────────────────────────

// ListDueForStart returns PENDING auctions whose start time has passed.
func (r *AuctionRepository) ListDueForStart(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	err := r.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions
		WHERE status = $1 AND start_time <= $2
		ORDER BY start_time ASC`,
		domain.StatusPending, now)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.ListDueForStart: %w", err)
	}
	return auctions, nil
}

// ListDueForEnd returns ONGOING auctions whose end time has passed.
func (r *AuctionRepository) ListDueForEnd(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	var auctions []*domain.Auction
	err := r.db.SelectContext(ctx, &auctions, `
		SELECT * FROM auctions
		WHERE status = $1 AND end_time <= $2
		ORDER BY end_time ASC`,
		domain.StatusOngoing, now)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.ListDueForEnd: %w", err)
	}
	return auctions, nil
}

// MarkOngoing flips a PENDING auction to ONGOING. Returns
// domain.ErrAuctionNotActive when the row was not in PENDING (already
// transitioned by another replica).
func (r *AuctionRepository) MarkOngoing(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE auctions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		domain.StatusOngoing, id, domain.StatusPending)
	if err != nil {
		return fmt.Errorf("auction_repo.MarkOngoing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAuctionNotActive
	}
	return nil
}

// MarkEnded flips an ONGOING auction to ENDED. Guarded on the current status
// so two replicas racing the close emit a single transition.
func (r *AuctionRepository) MarkEnded(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE auctions SET status = $1, updated_at = now()
		WHERE id = $2 AND status = $3`,
		domain.StatusEnded, id, domain.StatusOngoing)
	if err != nil {
		return fmt.Errorf("auction_repo.MarkEnded: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrAuctionNotActive
	}
	return nil
}

// ListBids returns an auction's append-only bid history, newest first.
func (r *AuctionRepository) ListBids(ctx context.Context, auctionID uuid.UUID, limit, offset int) ([]*domain.Bid, error) {
	var bids []*domain.Bid
	err := r.db.SelectContext(ctx, &bids, `
		SELECT * FROM bids
		WHERE auction_id = $1
		ORDER BY placed_at DESC
		LIMIT $2 OFFSET $3`,
		auctionID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("auction_repo.ListBids: %w", err)
	}
	return bids, nil
}
