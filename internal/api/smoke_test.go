// Package api_test runs HTTP-level smoke tests using net/http/httptest.
// These tests do NOT require PostgreSQL or RabbitMQ — storage is faked and
// Redis is an in-process miniredis. They verify:
//   - Gin router routing and middleware wiring
//   - Parameter validation (400 on bad ids)
//   - Not-found mapping (404)
//   - CORS behaviour in dev mode
package api_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/evetabi/liveauction/internal/api"
	"github.com/evetabi/liveauction/internal/cache"
	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/evetabi/liveauction/internal/gateway"
	"github.com/evetabi/liveauction/internal/presence"
	"github.com/evetabi/liveauction/internal/ratelimit"
	"github.com/evetabi/liveauction/internal/relay"
	"github.com/evetabi/liveauction/internal/service"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// ── Test doubles ──────────────────────────────────────────────────────────────

// stubStore serves a single fixed auction and no bids.
type stubStore struct {
	auction *domain.Auction
}

func (s *stubStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.Auction, error) {
	if s.auction != nil && s.auction.ID == id {
		return s.auction, nil
	}
	return nil, domain.ErrAuctionNotFound
}

func (s *stubStore) ListBids(ctx context.Context, auctionID uuid.UUID, limit, offset int) ([]*domain.Bid, error) {
	return []*domain.Bid{}, nil
}

func (s *stubStore) ListDueForStart(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return nil, nil
}

func (s *stubStore) ListDueForEnd(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	return nil, nil
}

func (s *stubStore) MarkOngoing(ctx context.Context, id uuid.UUID) error { return nil }
func (s *stubStore) MarkEnded(ctx context.Context, id uuid.UUID) error   { return nil }

type stubUsers struct{}

func (s *stubUsers) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return nil, domain.ErrUserNotFound
}

type stubBidPublisher struct{}

func (s *stubBidPublisher) PublishBidEvent(ctx context.Context, auctionID uuid.UUID, body []byte) error {
	return nil
}

// ── Test helpers ──────────────────────────────────────────────────────────────

func testCfg() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Env: "development", Port: "8080"},
		RateLimit: config.RateLimitConfig{
			ActionLimit: 10, ActionWindow: time.Minute,
			BidLimit: 5, BidWindow: 10 * time.Second,
		},
		Cache: config.CacheConfig{
			AuctionTTL: 300 * time.Second, UserTTL: 300 * time.Second, HighestBidTTL: 60 * time.Second,
		},
	}
}

// buildTestRouter wires the full gateway stack on miniredis and stubbed
// storage. Returns the handler and the one auction it knows about.
func buildTestRouter(t *testing.T) (http.Handler, *domain.Auction) {
	t.Helper()
	cfg := testCfg()
	logger := slog.New(slog.DiscardHandler)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	a := &domain.Auction{
		ID:          uuid.New(),
		ItemID:      "painting-17",
		StartTime:   time.Now().Add(-time.Hour),
		EndTime:     time.Now().Add(time.Hour),
		StartingBid: decimal.RequireFromString("100"),
		Status:      domain.StatusOngoing,
	}

	store := cache.New(rdb, cfg.Cache)
	relayPub := relay.NewPublisher(rdb)
	auctionSvc := service.NewAuctionService(&stubStore{auction: a}, store, relayPub, logger)
	userSvc := service.NewUserService(&stubUsers{}, store)
	intakeSvc := service.NewIntakeService(auctionSvc, &stubBidPublisher{}, logger)

	hub := gateway.NewHub(
		presence.NewStore(rdb),
		ratelimit.NewLimiter(rdb, cfg.RateLimit),
		userSvc, auctionSvc, intakeSvc, relayPub,
		nil, logger,
	)

	r := api.SetupRouter(api.RouterDeps{AuctionSvc: auctionSvc, Hub: hub, Cfg: cfg})
	return r, a
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

// ── /health ───────────────────────────────────────────────────────────────────

func TestHealthEndpoint(t *testing.T) {
	h, _ := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/health")
	if rr.Code != http.StatusOK {
		t.Errorf("GET /health = %d, want 200", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("health body not JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("health status = %v, want ok", body["status"])
	}
}

// ── Auction views ─────────────────────────────────────────────────────────────

func TestGetAuction_Found(t *testing.T) {
	h, a := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/auctions/"+a.ID.String())
	if rr.Code != http.StatusOK {
		t.Fatalf("GET auction = %d, want 200 — body: %s", rr.Code, rr.Body.String())
	}
	var got domain.Auction
	if err := json.NewDecoder(rr.Body).Decode(&got); err != nil {
		t.Fatalf("auction body not JSON: %v", err)
	}
	if got.ID != a.ID || got.ItemID != a.ItemID {
		t.Errorf("auction = %+v, want id %s item %s", got, a.ID, a.ItemID)
	}
}

func TestGetAuction_InvalidID(t *testing.T) {
	h, _ := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/auctions/not-a-uuid")
	if rr.Code != http.StatusBadRequest {
		t.Errorf("GET auction with bad id = %d, want 400", rr.Code)
	}
}

func TestGetAuction_Unknown(t *testing.T) {
	h, _ := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/api/auctions/"+uuid.NewString())
	if rr.Code != http.StatusNotFound {
		t.Errorf("GET unknown auction = %d, want 404", rr.Code)
	}
}

func TestListBids_DefaultsAndClamping(t *testing.T) {
	h, a := buildTestRouter(t)

	rr := do(t, h, http.MethodGet, "/api/auctions/"+a.ID.String()+"/bids")
	if rr.Code != http.StatusOK {
		t.Fatalf("GET bids = %d, want 200", rr.Code)
	}
	var body map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("bids body not JSON: %v", err)
	}
	if body["limit"] != float64(50) {
		t.Errorf("default limit = %v, want 50", body["limit"])
	}

	// Out-of-range limit falls back to the default.
	rr = do(t, h, http.MethodGet, "/api/auctions/"+a.ID.String()+"/bids?limit=9999")
	body = map[string]interface{}{}
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("bids body not JSON: %v", err)
	}
	if body["limit"] != float64(50) {
		t.Errorf("clamped limit = %v, want 50", body["limit"])
	}
}

// ── WebSocket endpoint auth ───────────────────────────────────────────────────

func TestWs_MissingUserIDRejected(t *testing.T) {
	h, _ := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/ws")
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /ws without userId = %d, want 401", rr.Code)
	}
}

func TestWs_UnknownUserRejected(t *testing.T) {
	h, _ := buildTestRouter(t)
	rr := do(t, h, http.MethodGet, "/ws?userId="+uuid.NewString())
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("GET /ws with unknown user = %d, want 401", rr.Code)
	}
}

// ── CORS headers ──────────────────────────────────────────────────────────────

func TestCORSOptionsRequest(t *testing.T) {
	h, _ := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodOptions, "/api/auctions/"+uuid.NewString(), nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent && rr.Code != http.StatusOK {
		t.Errorf("OPTIONS preflight = %d, want 204 or 200", rr.Code)
	}
	allow := rr.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allow, "GET") {
		t.Errorf("Access-Control-Allow-Methods missing GET, got %q", allow)
	}
}

func TestCORSAllowOrigin_Dev(t *testing.T) {
	h, _ := buildTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if origin := rr.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Errorf("Dev CORS origin = %q, want *", origin)
	}
}
