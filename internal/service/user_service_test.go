package service

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/evetabi/liveauction/internal/cache"
	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type fakeUserStore struct {
	users map[uuid.UUID]*domain.User
	calls int
}

func (f *fakeUserStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	f.calls++
	if u, ok := f.users[id]; ok {
		return u, nil
	}
	return nil, domain.ErrUserNotFound
}

func newUserFixture(t *testing.T, users ...*domain.User) (*UserService, *fakeUserStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := &fakeUserStore{users: make(map[uuid.UUID]*domain.User)}
	for _, u := range users {
		store.users[u.ID] = u
	}
	c := cache.New(rdb, config.CacheConfig{
		AuctionTTL: 300 * time.Second, UserTTL: 300 * time.Second, HighestBidTTL: 60 * time.Second,
	})
	return NewUserService(store, c), store
}

func TestResolve_ReadThrough(t *testing.T) {
	u := &domain.User{ID: uuid.New(), Username: "bidder-3", Email: "b3@example.com"}
	svc, store := newUserFixture(t, u)
	ctx := context.Background()

	got, err := svc.Resolve(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Username, got.Username)
	require.Equal(t, 1, store.calls)

	got, err = svc.Resolve(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Username, got.Username)
	require.Equal(t, 1, store.calls, "second resolve must hit the cache")
}

func TestResolve_UnknownUser(t *testing.T) {
	svc, _ := newUserFixture(t)
	_, err := svc.Resolve(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrUserNotFound)
}
