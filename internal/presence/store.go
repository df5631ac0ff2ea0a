// Package presence tracks which users and connections are members of which
// auction rooms. The data lives in Redis so every gateway replica sees the
// same membership regardless of which replica holds the physical connection.
//
// Key layout:
//
//	auction:{auctionID}:users                   SET of user ids in the room
//	auction:{auctionID}:user:{userID}:conns     SET of that user's connection ids
//	conn:{connID}:auction                       owning auction id
//	conn:{connID}:user                          owning user id
//
// Individual operations are atomic per key but not transactional across
// keys; the join flow's check-then-act race is tolerated (documented
// at-least-once duplicate-join behavior).
package presence

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Store is the shared presence map.
type Store struct {
	rdb *redis.Client
}

// NewStore creates a Store on an existing Redis client.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func usersKey(auctionID uuid.UUID) string {
	return fmt.Sprintf("auction:%s:users", auctionID)
}

func connsKey(auctionID, userID uuid.UUID) string {
	return fmt.Sprintf("auction:%s:user:%s:conns", auctionID, userID)
}

func connAuctionKey(connID string) string { return fmt.Sprintf("conn:%s:auction", connID) }
func connUserKey(connID string) string    { return fmt.Sprintf("conn:%s:user", connID) }

// ──────────────────────────────────────────────────────────────────────────────
// Operations
// ──────────────────────────────────────────────────────────────────────────────

// AddConnection records a connection under the user's connection set for the
// auction and maps the connection back to its auction and user.
//
// The returned firstJoin is true when the user had zero connections in this
// auction before this call. Callers emit the "user joined" notification only
// on that transition, so a second tab joining the same auction does not
// re-announce the user.
func (s *Store) AddConnection(ctx context.Context, auctionID uuid.UUID, connID string, userID uuid.UUID) (firstJoin bool, err error) {
	before, err := s.rdb.SCard(ctx, connsKey(auctionID, userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence.AddConnection: scard: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.SAdd(ctx, connsKey(auctionID, userID), connID)
	pipe.SAdd(ctx, usersKey(auctionID), userID.String())
	pipe.Set(ctx, connAuctionKey(connID), auctionID.String(), 0)
	pipe.Set(ctx, connUserKey(connID), userID.String(), 0)
	if _, err = pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("presence.AddConnection: %w", err)
	}

	return before == 0, nil
}

// IsUserInAuction reports whether the user has at least one live connection
// in the auction's room.
func (s *Store) IsUserInAuction(ctx context.Context, auctionID, userID uuid.UUID) (bool, error) {
	ok, err := s.rdb.SIsMember(ctx, usersKey(auctionID), userID.String()).Result()
	if err != nil {
		return false, fmt.Errorf("presence.IsUserInAuction: %w", err)
	}
	return ok, nil
}

// Removal describes the outcome of RemoveConnection.
type Removal struct {
	Found     bool      // false when the connection id was unknown
	AuctionID uuid.UUID // owning auction, valid when Found
	UserID    uuid.UUID // owning user, valid when Found
	LastLeave bool      // true when this was the user's last connection in the auction
}

// RemoveConnection drops a connection from the presence map. Safe to call on
// an unknown or already-removed connection id: that is a no-op, not an error.
// When the user's connection set becomes empty the user is removed from the
// auction's user set and LastLeave is reported so the caller can emit the
// single "user left" notification.
func (s *Store) RemoveConnection(ctx context.Context, connID string) (Removal, error) {
	auctionStr, err := s.rdb.Get(ctx, connAuctionKey(connID)).Result()
	if err == redis.Nil {
		return Removal{}, nil
	}
	if err != nil {
		return Removal{}, fmt.Errorf("presence.RemoveConnection: get auction: %w", err)
	}
	userStr, err := s.rdb.Get(ctx, connUserKey(connID)).Result()
	if err == redis.Nil {
		return Removal{}, nil
	}
	if err != nil {
		return Removal{}, fmt.Errorf("presence.RemoveConnection: get user: %w", err)
	}

	auctionID, err := uuid.Parse(auctionStr)
	if err != nil {
		return Removal{}, fmt.Errorf("presence.RemoveConnection: bad auction id %q: %w", auctionStr, err)
	}
	userID, err := uuid.Parse(userStr)
	if err != nil {
		return Removal{}, fmt.Errorf("presence.RemoveConnection: bad user id %q: %w", userStr, err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.SRem(ctx, connsKey(auctionID, userID), connID)
	pipe.Del(ctx, connAuctionKey(connID), connUserKey(connID))
	remaining := pipe.SCard(ctx, connsKey(auctionID, userID))
	if _, err = pipe.Exec(ctx); err != nil {
		return Removal{}, fmt.Errorf("presence.RemoveConnection: %w", err)
	}

	rm := Removal{Found: true, AuctionID: auctionID, UserID: userID}
	if remaining.Val() == 0 {
		if err = s.rdb.SRem(ctx, usersKey(auctionID), userID.String()).Err(); err != nil {
			return rm, fmt.Errorf("presence.RemoveConnection: srem user: %w", err)
		}
		rm.LastLeave = true
	}
	return rm, nil
}

// ResolveConnections returns the connection ids a user currently holds in an
// auction. Used to target connection-scoped notifications (bid errors) at
// exactly the right sockets.
func (s *Store) ResolveConnections(ctx context.Context, userID, auctionID uuid.UUID) ([]string, error) {
	conns, err := s.rdb.SMembers(ctx, connsKey(auctionID, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("presence.ResolveConnections: %w", err)
	}
	return conns, nil
}
