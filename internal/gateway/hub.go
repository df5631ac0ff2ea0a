package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/evetabi/liveauction/internal/domain"
	"github.com/evetabi/liveauction/internal/presence"
	"github.com/evetabi/liveauction/internal/relay"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies
// ──────────────────────────────────────────────────────────────────────────────

// UserResolver maps a verified user id to a user record.
type UserResolver interface {
	Resolve(ctx context.Context, id uuid.UUID) (*domain.User, error)
}

// AuctionGetter serves cached auction reads for the join guard.
type AuctionGetter interface {
	GetAuction(ctx context.Context, id uuid.UUID) (*domain.Auction, error)
}

// BidSubmitter validates and enqueues a bid.
type BidSubmitter interface {
	SubmitBid(ctx context.Context, auctionID, userID uuid.UUID, amount decimal.Decimal) error
}

// PresenceTracker is the shared room membership store.
type PresenceTracker interface {
	AddConnection(ctx context.Context, auctionID uuid.UUID, connID string, userID uuid.UUID) (bool, error)
	IsUserInAuction(ctx context.Context, auctionID, userID uuid.UUID) (bool, error)
	RemoveConnection(ctx context.Context, connID string) (presence.Removal, error)
	ResolveConnections(ctx context.Context, userID, auctionID uuid.UUID) ([]string, error)
}

// RequestLimiter enforces the two fixed-window scopes.
type RequestLimiter interface {
	AllowAction(ctx context.Context, userID uuid.UUID) error
	AllowBid(ctx context.Context, auctionID, userID uuid.UUID) error
}

// PresencePublisher announces membership transitions to every replica.
type PresencePublisher interface {
	PublishUserJoined(ctx context.Context, msg relay.PresenceChange) error
	PublishUserLeft(ctx context.Context, msg relay.PresenceChange) error
}

// ──────────────────────────────────────────────────────────────────────────────
// Hub
// ──────────────────────────────────────────────────────────────────────────────

// Hub tracks this replica's connections and auction rooms, and routes both
// inbound client frames and relay fan-out messages. Room membership is kept
// twice on purpose: locally for broadcast targeting, and in the shared
// presence store for cross-replica addressing.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client            // by connection id
	rooms   map[uuid.UUID]map[string]*Client

	presence PresenceTracker
	limiter  RequestLimiter
	users    UserResolver
	auctions AuctionGetter
	intake   BidSubmitter
	relay    PresencePublisher

	jwtSecret []byte
	logger    *slog.Logger
	upgrader  websocket.Upgrader
}

// NewHub wires a Hub. jwtSecret may be nil; connections then authenticate
// with a plain userId query parameter (development mode).
func NewHub(
	p PresenceTracker,
	l RequestLimiter,
	users UserResolver,
	auctions AuctionGetter,
	intake BidSubmitter,
	r PresencePublisher,
	jwtSecret []byte,
	logger *slog.Logger,
) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[uuid.UUID]map[string]*Client),
		presence:  p,
		limiter:   l,
		users:     users,
		auctions:  auctions,
		intake:    intake,
		relay:     r,
		jwtSecret: jwtSecret,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ConnectedCount returns the number of connections on this replica.
func (h *Hub) ConnectedCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ──────────────────────────────────────────────────────────────────────────────
// ServeWs — HTTP → WebSocket upgrade
// ──────────────────────────────────────────────────────────────────────────────

// ServeWs upgrades the request, authenticates the caller, and starts the
// read/write pumps. Authentication is a JWT in ?token= when a secret is
// configured, otherwise a plain ?userId=. Unknown users are rejected before
// the connection is registered.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	userID, err := h.authenticate(r)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if _, err := h.users.Resolve(r.Context(), userID); err != nil {
		if domain.IsNotFound(err) {
			http.Error(w, "unknown user", http.StatusUnauthorized)
			return
		}
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		connID: uuid.NewString(),
		userID: userID,
	}

	h.mu.Lock()
	h.clients[client.connID] = client
	h.mu.Unlock()

	h.logger.Info("client connected", "conn_id", client.connID, "user_id", userID)
	go client.writePump()
	go client.readPump()
}

func (h *Hub) authenticate(r *http.Request) (uuid.UUID, error) {
	if len(h.jwtSecret) > 0 {
		return h.parseJWT(r.URL.Query().Get("token"))
	}
	id, err := uuid.Parse(r.URL.Query().Get("userId"))
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return id, nil
}

// parseJWT extracts the user id from the token's subject claim.
func (h *Hub) parseJWT(tokenString string) (uuid.UUID, error) {
	tok, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return h.jwtSecret, nil
	})
	if err != nil || !tok.Valid {
		return uuid.Nil, domain.ErrUnauthorized
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return uuid.Nil, domain.ErrUnauthorized
	}
	sub, _ := claims.GetSubject()
	id, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, domain.ErrUnauthorized
	}
	return id, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Inbound frames
// ──────────────────────────────────────────────────────────────────────────────

// handleFrame dispatches one inbound frame from a client's read pump.
func (h *Hub) handleFrame(ctx context.Context, c *Client, frame Frame) {
	switch frame.Event {
	case EventJoinAuction:
		var req JoinAuctionRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.AuctionID == uuid.Nil {
			c.sendError(CodeInvalidPayload, "malformed joinAuction payload")
			return
		}
		h.handleJoin(ctx, c, req)

	case EventPlaceBid:
		var req PlaceBidRequest
		if err := json.Unmarshal(frame.Data, &req); err != nil || req.AuctionID == uuid.Nil || req.BidAmount.IsZero() {
			c.sendError(CodeInvalidPayload, "malformed placeBid payload")
			return
		}
		h.handlePlaceBid(ctx, c, req)

	default:
		c.sendError(CodeInvalidPayload, "unknown event "+frame.Event)
	}
}

// handleJoin runs the join guard pipeline: rate limit, auction existence and
// activity, duplicate-join rejection, then shared and local registration.
// The userJoined announcement is emitted only on the user's first connection
// into the room, so a second tab joins silently.
func (h *Hub) handleJoin(ctx context.Context, c *Client, req JoinAuctionRequest) {
	if err := h.limiter.AllowAction(ctx, c.userID); err != nil {
		h.rejectRequest(c, err)
		return
	}

	if c.auctionID != uuid.Nil {
		c.sendError(CodeAlreadyInRoom, "connection already joined an auction")
		return
	}

	a, err := h.auctions.GetAuction(ctx, req.AuctionID)
	if err != nil {
		h.rejectRequest(c, err)
		return
	}
	if !a.ActiveAt(time.Now()) {
		c.sendError(CodeAuctionNotActive, "auction is not accepting participants")
		return
	}

	firstJoin, err := h.presence.AddConnection(ctx, req.AuctionID, c.connID, c.userID)
	if err != nil {
		h.rejectRequest(c, err)
		return
	}

	c.auctionID = req.AuctionID
	h.mu.Lock()
	room, ok := h.rooms[req.AuctionID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[req.AuctionID] = room
	}
	room[c.connID] = c
	h.mu.Unlock()

	if firstJoin {
		if err := h.relay.PublishUserJoined(ctx, relay.PresenceChange{
			AuctionID: req.AuctionID,
			UserID:    c.userID,
		}); err != nil {
			h.logger.Error("user joined announcement failed", "auction_id", req.AuctionID, "error", err)
		}
	}

	c.sendEvent(EventJoinedAuction, JoinedAuctionData{
		AuctionID:         a.ID,
		Status:            string(a.Status),
		CurrentHighestBid: a.CurrentHighestBid,
	})
	h.logger.Info("client joined auction",
		"conn_id", c.connID,
		"user_id", c.userID,
		"auction_id", req.AuctionID,
		"first_join", firstJoin,
	)
}

// handlePlaceBid runs both limiter scopes and the room membership check, then
// hands the bid to intake. A bidPlaced reply means enqueued, not committed.
func (h *Hub) handlePlaceBid(ctx context.Context, c *Client, req PlaceBidRequest) {
	if err := h.limiter.AllowAction(ctx, c.userID); err != nil {
		h.rejectRequest(c, err)
		return
	}
	if err := h.limiter.AllowBid(ctx, req.AuctionID, c.userID); err != nil {
		h.rejectRequest(c, err)
		return
	}

	in, err := h.presence.IsUserInAuction(ctx, req.AuctionID, c.userID)
	if err != nil {
		h.rejectRequest(c, err)
		return
	}
	if !in {
		c.sendError(CodeNotInRoom, "join the auction before bidding")
		return
	}

	if err := h.intake.SubmitBid(ctx, req.AuctionID, c.userID, req.BidAmount); err != nil {
		h.rejectRequest(c, err)
		return
	}

	c.sendEvent(EventBidPlaced, BidPlacedData{
		AuctionID: req.AuctionID,
		BidAmount: req.BidAmount,
		Status:    "pending",
	})
}

// rejectRequest translates a pipeline error into a client error frame.
func (h *Hub) rejectRequest(c *Client, err error) {
	code := codeForError(err)
	if code == CodeInternal {
		h.logger.Error("request failed", "conn_id", c.connID, "user_id", c.userID, "error", err)
		c.sendError(CodeInternal, "temporary failure, try again")
		return
	}
	c.sendError(code, err.Error())
}

// ──────────────────────────────────────────────────────────────────────────────
// Disconnect
// ──────────────────────────────────────────────────────────────────────────────

// disconnect tears down a client: local maps first, then the shared presence
// store. The userLeft announcement fires only when this was the user's last
// connection in the room.
func (h *Hub) disconnect(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.connID]; ok {
		delete(h.clients, c.connID)
		close(c.send)
	}
	if c.auctionID != uuid.Nil {
		if room, ok := h.rooms[c.auctionID]; ok {
			delete(room, c.connID)
			if len(room) == 0 {
				delete(h.rooms, c.auctionID)
			}
		}
	}
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	rm, err := h.presence.RemoveConnection(ctx, c.connID)
	if err != nil {
		h.logger.Error("presence cleanup failed", "conn_id", c.connID, "error", err)
		return
	}
	if rm.Found && rm.LastLeave {
		if err := h.relay.PublishUserLeft(ctx, relay.PresenceChange{
			AuctionID: rm.AuctionID,
			UserID:    rm.UserID,
		}); err != nil {
			h.logger.Error("user left announcement failed", "auction_id", rm.AuctionID, "error", err)
		}
	}
	h.logger.Info("client disconnected", "conn_id", c.connID, "user_id", c.userID)
}

// ──────────────────────────────────────────────────────────────────────────────
// Relay fan-in
// ──────────────────────────────────────────────────────────────────────────────

// BindSubscriber registers this replica's handlers for every relay channel.
// Room-scoped messages broadcast to the local room; bid errors resolve the
// offending user's connection ids and deliver only to sockets this replica
// actually holds.
func (h *Hub) BindSubscriber(sub *relay.Subscriber) {
	sub.On(relay.ChannelBidUpdates, func(payload []byte) {
		var msg relay.BidUpdate
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Warn("bad bid-updates message", "error", err)
			return
		}
		h.broadcastToRoom(msg.AuctionID, EventBidUpdate, msg)
	})

	sub.On(relay.ChannelUserJoins, func(payload []byte) {
		var msg relay.PresenceChange
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Warn("bad user-joins message", "error", err)
			return
		}
		h.broadcastToRoom(msg.AuctionID, EventUserJoined, msg)
	})

	sub.On(relay.ChannelUserLeaves, func(payload []byte) {
		var msg relay.PresenceChange
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Warn("bad user-leaves message", "error", err)
			return
		}
		h.broadcastToRoom(msg.AuctionID, EventUserLeft, msg)
	})

	sub.On(relay.ChannelAuctionUpdates, func(payload []byte) {
		var msg relay.AuctionEnded
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Warn("bad auction-updates message", "error", err)
			return
		}
		h.broadcastToRoom(msg.AuctionID, EventAuctionEnded, msg)
	})

	sub.On(relay.ChannelBidError, func(payload []byte) {
		var msg domain.BidErrorPayload
		if err := json.Unmarshal(payload, &msg); err != nil {
			h.logger.Warn("bad bid-error message", "error", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		connIDs, err := h.presence.ResolveConnections(ctx, msg.UserID, msg.AuctionID)
		if err != nil {
			h.logger.Error("bid error connection lookup failed", "user_id", msg.UserID, "error", err)
			return
		}
		h.sendToConnections(connIDs, EventBidError, msg)
	})
}

// broadcastToRoom delivers one event to every connection in the local room.
func (h *Hub) broadcastToRoom(auctionID uuid.UUID, event string, data any) {
	body, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("frame encode failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.rooms[auctionID] {
		c.enqueue(body)
	}
}

// sendToConnections delivers one event to the listed connection ids, skipping
// ids held by other replicas.
func (h *Hub) sendToConnections(connIDs []string, event string, data any) {
	body, err := encodeFrame(event, data)
	if err != nil {
		h.logger.Error("frame encode failed", "event", event, "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, id := range connIDs {
		if c, ok := h.clients[id]; ok {
			c.enqueue(body)
		}
	}
}
