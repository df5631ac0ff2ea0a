package presence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewStore(rdb)
}

func TestAddConnection_FirstJoinTransition(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	auctionID, userID := uuid.New(), uuid.New()

	first, err := s.AddConnection(ctx, auctionID, "conn-1", userID)
	require.NoError(t, err)
	require.True(t, first, "first connection should report firstJoin")

	// Second tab, same user, same auction: present but not a first join.
	second, err := s.AddConnection(ctx, auctionID, "conn-2", userID)
	require.NoError(t, err)
	require.False(t, second, "second connection should not report firstJoin")

	in, err := s.IsUserInAuction(ctx, auctionID, userID)
	require.NoError(t, err)
	require.True(t, in)
}

func TestRemoveConnection_LastLeaveOnlyWhenSetEmpties(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	auctionID, userID := uuid.New(), uuid.New()

	_, err := s.AddConnection(ctx, auctionID, "conn-1", userID)
	require.NoError(t, err)
	_, err = s.AddConnection(ctx, auctionID, "conn-2", userID)
	require.NoError(t, err)

	rm, err := s.RemoveConnection(ctx, "conn-1")
	require.NoError(t, err)
	require.True(t, rm.Found)
	require.False(t, rm.LastLeave, "user still has conn-2 open")

	in, err := s.IsUserInAuction(ctx, auctionID, userID)
	require.NoError(t, err)
	require.True(t, in, "user should remain in room until last connection drops")

	rm, err = s.RemoveConnection(ctx, "conn-2")
	require.NoError(t, err)
	require.True(t, rm.LastLeave)
	require.Equal(t, auctionID, rm.AuctionID)
	require.Equal(t, userID, rm.UserID)

	in, err = s.IsUserInAuction(ctx, auctionID, userID)
	require.NoError(t, err)
	require.False(t, in)
}

func TestRemoveConnection_UnknownConnIsNoop(t *testing.T) {
	s := newTestStore(t)

	rm, err := s.RemoveConnection(context.Background(), "never-registered")
	require.NoError(t, err)
	require.False(t, rm.Found)

	// Removing twice must also be safe.
	auctionID, userID := uuid.New(), uuid.New()
	_, err = s.AddConnection(context.Background(), auctionID, "conn-1", userID)
	require.NoError(t, err)
	_, err = s.RemoveConnection(context.Background(), "conn-1")
	require.NoError(t, err)
	rm, err = s.RemoveConnection(context.Background(), "conn-1")
	require.NoError(t, err)
	require.False(t, rm.Found)
}

func TestResolveConnections(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	auctionID, userID, other := uuid.New(), uuid.New(), uuid.New()

	_, err := s.AddConnection(ctx, auctionID, "conn-a", userID)
	require.NoError(t, err)
	_, err = s.AddConnection(ctx, auctionID, "conn-b", userID)
	require.NoError(t, err)
	_, err = s.AddConnection(ctx, auctionID, "conn-c", other)
	require.NoError(t, err)

	conns, err := s.ResolveConnections(ctx, userID, auctionID)
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"conn-a", "conn-b"}, conns)
}
