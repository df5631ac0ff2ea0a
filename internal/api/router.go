// Package api builds the gateway's HTTP surface: health, the WebSocket
// upgrade endpoint, and a small read-only REST view over auctions.
package api

import (
	"net/http"
	"strconv"

	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/domain"
	"github.com/evetabi/liveauction/internal/gateway"
	"github.com/evetabi/liveauction/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	AuctionSvc *service.AuctionService
	Hub        *gateway.Hub
	Cfg        *config.Config
}

// SetupRouter creates and configures the Gin engine.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "ok",
			"connections": deps.Hub.ConnectedCount(),
		})
	})

	// ── Read-only auction views ──────────────────────────────────────────────
	api := r.Group("/api")
	{
		auctions := api.Group("/auctions")
		{
			auctions.GET("/:id", getAuction(deps.AuctionSvc))
			auctions.GET("/:id/bids", listBids(deps.AuctionSvc))
		}
	}

	// ── WebSocket ────────────────────────────────────────────────────────────
	r.GET("/ws", func(c *gin.Context) {
		deps.Hub.ServeWs(c.Writer, c.Request)
	})

	return r
}

func getAuction(svc *service.AuctionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid auction id"})
			return
		}
		a, err := svc.GetAuction(c.Request.Context(), id)
		if err != nil {
			if domain.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, a)
	}
}

func listBids(svc *service.AuctionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid auction id"})
			return
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if limit <= 0 || limit > 200 {
			limit = 50
		}
		if offset < 0 {
			offset = 0
		}

		bids, err := svc.ListBids(c.Request.Context(), id, limit, offset)
		if err != nil {
			if domain.IsNotFound(err) {
				c.JSON(http.StatusNotFound, gin.H{"error": "auction not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"bids": bids, "limit": limit, "offset": offset})
	}
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware sets CORS headers. Development allows any origin.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.IsProd() {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin := c.Request.Header.Get("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
