package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	c := New(rdb, config.CacheConfig{
		AuctionTTL:    300 * time.Second,
		UserTTL:       300 * time.Second,
		HighestBidTTL: 60 * time.Second,
	})
	return c, mr
}

func testAuction() *domain.Auction {
	return &domain.Auction{
		ID:          uuid.New(),
		ItemID:      "item-42",
		StartTime:   time.Now().Add(-time.Hour).UTC().Truncate(time.Second),
		EndTime:     time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		StartingBid: decimal.RequireFromString("100"),
		Status:      domain.StatusOngoing,
	}
}

func TestAuctionRoundTripAndMiss(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	miss, err := c.GetAuction(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, miss, "cache miss must be (nil, nil)")

	a := testAuction()
	require.NoError(t, c.SetAuction(ctx, a))

	got, err := c.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, a.ID, got.ID)
	require.Equal(t, a.ItemID, got.ItemID)
	require.True(t, got.StartingBid.Equal(a.StartingBid))
}

func TestAuctionTTLExpiry(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	a := testAuction()
	require.NoError(t, c.SetAuction(ctx, a))

	mr.FastForward(301 * time.Second)

	got, err := c.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, got, "entry should expire with the TTL")
}

func TestHighestBidRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()
	auctionID, bidderID := uuid.New(), uuid.New()

	miss, err := c.GetHighestBid(ctx, auctionID)
	require.NoError(t, err)
	require.Nil(t, miss)

	amount := decimal.RequireFromString("150.25")
	require.NoError(t, c.SetHighestBid(ctx, auctionID, amount, bidderID))

	got, err := c.GetHighestBid(ctx, auctionID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.True(t, got.Equal(amount), "got %s want %s", got, amount)
}

func TestInvalidateAuction_DropsAllKeys(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	a := testAuction()
	require.NoError(t, c.SetAuction(ctx, a))
	require.NoError(t, c.SetHighestBid(ctx, a.ID, decimal.RequireFromString("200"), uuid.New()))

	require.NoError(t, c.InvalidateAuction(ctx, a.ID))

	gotA, err := c.GetAuction(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, gotA)
	gotB, err := c.GetHighestBid(ctx, a.ID)
	require.NoError(t, err)
	require.Nil(t, gotB)
}

func TestUserRoundTrip(t *testing.T) {
	c, _ := newTestCache(t)
	ctx := context.Background()

	u := &domain.User{
		ID:        uuid.New(),
		Username:  "bidder-7",
		Email:     "bidder7@example.com",
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	require.NoError(t, c.SetUser(ctx, u))

	got, err := c.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, u.Username, got.Username)
	require.Equal(t, u.Email, got.Email)
}
