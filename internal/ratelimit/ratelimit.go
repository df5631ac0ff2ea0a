// Package ratelimit implements fixed-window counters in Redis, shared across
// gateway replicas. Two independent scopes guard the pipeline: a general
// per-user action window and a tighter per-user-per-auction bid window.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Limiter enforces the two fixed-window scopes.
type Limiter struct {
	rdb *redis.Client
	cfg config.RateLimitConfig
}

// NewLimiter creates a Limiter on an existing Redis client.
func NewLimiter(rdb *redis.Client, cfg config.RateLimitConfig) *Limiter {
	return &Limiter{rdb: rdb, cfg: cfg}
}

// AllowAction checks the connection-level action window (joins and other
// generic requests). Returns domain.ErrRateLimited when the window is
// exhausted; the excess request is rejected but the connection stays open.
func (l *Limiter) AllowAction(ctx context.Context, userID uuid.UUID) error {
	key := fmt.Sprintf("rate-limit:%s", userID)
	return l.allow(ctx, key, l.cfg.ActionLimit, l.cfg.ActionWindow, domain.ErrRateLimited)
}

// AllowBid checks the bid-submission window for one user in one auction.
// Returns domain.ErrThrottleLimited on rejection.
func (l *Limiter) AllowBid(ctx context.Context, auctionID, userID uuid.UUID) error {
	key := fmt.Sprintf("throttle:%s:%s", auctionID, userID)
	return l.allow(ctx, key, l.cfg.BidLimit, l.cfg.BidWindow, domain.ErrThrottleLimited)
}

// allow increments the window counter and arms its expiry, the classic
// fixed-window pattern: the counter key disappears when the window elapses,
// resetting the count. INCR and EXPIRE NX ride one MULTI/EXEC so a counter
// can never be created without an expiry, and a counter that somehow lost
// its TTL gets re-armed on the next hit instead of limiting forever.
func (l *Limiter) allow(ctx context.Context, key string, limit int, window time.Duration, rejection error) error {
	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Retryable(fmt.Errorf("ratelimit: incr %s: %w", key, err))
	}
	if incr.Val() > int64(limit) {
		return rejection
	}
	return nil
}
