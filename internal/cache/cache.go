// Package cache is the Redis read-through layer in front of durable storage.
// Entries are best-effort: settlement always re-reads the auction row inside
// a transaction, so a stale or missing cache entry costs a storage round
// trip, never correctness.
//
// Key layout:
//
//	auction:{id}                 auction row JSON, TTL ≈300s
//	auction:{id}:highestBid      current highest bid as a decimal string, TTL ≈60s
//	auction:{id}:highestBidder   user id of the highest bidder
//	user:{id}                    user row JSON, TTL ≈300s
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// Cache wraps the shared Redis client with typed get/set helpers.
type Cache struct {
	rdb *redis.Client
	cfg config.CacheConfig
}

// New creates a Cache on an existing Redis client.
func New(rdb *redis.Client, cfg config.CacheConfig) *Cache {
	return &Cache{rdb: rdb, cfg: cfg}
}

func auctionKey(id uuid.UUID) string       { return fmt.Sprintf("auction:%s", id) }
func highestBidKey(id uuid.UUID) string    { return fmt.Sprintf("auction:%s:highestBid", id) }
func highestBidderKey(id uuid.UUID) string { return fmt.Sprintf("auction:%s:highestBidder", id) }
func userKey(id uuid.UUID) string          { return fmt.Sprintf("user:%s", id) }

// ──────────────────────────────────────────────────────────────────────────────
// Auction rows
// ──────────────────────────────────────────────────────────────────────────────

// GetAuction returns the cached auction row, or (nil, nil) on a cache miss.
func (c *Cache) GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	data, err := c.rdb.Get(ctx, auctionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache.GetAuction: %w", err)
	}
	var a domain.Auction
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("cache.GetAuction: unmarshal: %w", err)
	}
	return &a, nil
}

// SetAuction stores an auction row with the configured TTL.
func (c *Cache) SetAuction(ctx context.Context, a *domain.Auction) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("cache.SetAuction: marshal: %w", err)
	}
	if err := c.rdb.Set(ctx, auctionKey(a.ID), data, c.cfg.AuctionTTL).Err(); err != nil {
		return fmt.Errorf("cache.SetAuction: %w", err)
	}
	return nil
}

// InvalidateAuction drops every cache entry for an auction. Called on
// lifecycle transitions and after settlement so the next read goes through
// to storage.
func (c *Cache) InvalidateAuction(ctx context.Context, id uuid.UUID) error {
	if err := c.rdb.Del(ctx, auctionKey(id), highestBidKey(id), highestBidderKey(id)).Err(); err != nil {
		return fmt.Errorf("cache.InvalidateAuction: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Highest bid
// ──────────────────────────────────────────────────────────────────────────────

// GetHighestBid returns the cached highest bid, or (nil, nil) on a miss.
func (c *Cache) GetHighestBid(ctx context.Context, auctionID uuid.UUID) (*decimal.Decimal, error) {
	raw, err := c.rdb.Get(ctx, highestBidKey(auctionID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache.GetHighestBid: %w", err)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, fmt.Errorf("cache.GetHighestBid: parse %q: %w", raw, err)
	}
	return &d, nil
}

// SetHighestBid records a freshly committed highest bid and its bidder.
// Called by the settlement worker after the storage transaction commits.
func (c *Cache) SetHighestBid(ctx context.Context, auctionID uuid.UUID, amount decimal.Decimal, bidderID uuid.UUID) error {
	pipe := c.rdb.Pipeline()
	pipe.Set(ctx, highestBidKey(auctionID), amount.String(), c.cfg.HighestBidTTL)
	pipe.Set(ctx, highestBidderKey(auctionID), bidderID.String(), c.cfg.HighestBidTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache.SetHighestBid: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Users
// ──────────────────────────────────────────────────────────────────────────────

// GetUser returns the cached user row, or (nil, nil) on a miss.
func (c *Cache) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	data, err := c.rdb.Get(ctx, userKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache.GetUser: %w", err)
	}
	var u domain.User
	if err := json.Unmarshal(data, &u); err != nil {
		return nil, fmt.Errorf("cache.GetUser: unmarshal: %w", err)
	}
	return &u, nil
}

// SetUser stores a user row with the configured TTL.
func (c *Cache) SetUser(ctx context.Context, u *domain.User) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("cache.SetUser: marshal: %w", err)
	}
	if err := c.rdb.Set(ctx, userKey(u.ID), data, c.cfg.UserTTL).Err(); err != nil {
		return fmt.Errorf("cache.SetUser: %w", err)
	}
	return nil
}
