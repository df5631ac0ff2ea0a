// Package main is the entry point for a live-auction gateway replica. It
// serves the WebSocket edge and the read-only REST views, publishes bids to
// the broker, and subscribes to the relay so outcomes reach locally-held
// connections regardless of which worker settled them.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/evetabi/liveauction/internal/api"
	"github.com/evetabi/liveauction/internal/broker"
	"github.com/evetabi/liveauction/internal/cache"
	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/gateway"
	"github.com/evetabi/liveauction/internal/presence"
	"github.com/evetabi/liveauction/internal/ratelimit"
	"github.com/evetabi/liveauction/internal/relay"
	"github.com/evetabi/liveauction/internal/repository"
	"github.com/evetabi/liveauction/internal/scheduler"
	"github.com/evetabi/liveauction/internal/service"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting liveauction gateway", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Database ───────────────────────────────────────────────────────────
	db, err := sqlx.Connect("postgres", cfg.DB.DSN)
	if err != nil {
		logger.Error("database connection failed", "err", err)
		os.Exit(1)
	}
	db.SetMaxOpenConns(cfg.DB.MaxOpenConns)
	db.SetMaxIdleConns(cfg.DB.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.DB.ConnMaxLifetime)

	if err = db.Ping(); err != nil {
		logger.Error("database ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("database connected")

	// ── 3. Migrations ─────────────────────────────────────────────────────────
	if err = runMigrations(db, "migrations"); err != nil {
		logger.Error("migrations failed", "err", err)
		os.Exit(1)
	}
	logger.Info("migrations applied")

	// ── 4. Redis ──────────────────────────────────────────────────────────────
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		logger.Error("invalid redis url", "err", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(redisOpts)
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		logger.Error("redis ping failed", "err", err)
		os.Exit(1)
	}
	logger.Info("redis connected")

	// ── 5. Broker + topology ──────────────────────────────────────────────────
	brokerClient, err := broker.Dial(cfg.Broker.URL, logger)
	if err != nil {
		logger.Error("broker connection failed", "err", err)
		os.Exit(1)
	}
	topoCh, err := brokerClient.Channel()
	if err != nil {
		logger.Error("broker channel failed", "err", err)
		os.Exit(1)
	}
	if err = broker.DeclareTopology(topoCh, cfg.Broker); err != nil {
		logger.Error("topology declaration failed", "err", err)
		os.Exit(1)
	}
	topoCh.Close()
	logger.Info("broker topology declared", "partitions", cfg.Broker.Partitions)

	bidPublisher, err := broker.NewPublisher(brokerClient)
	if err != nil {
		logger.Error("broker publisher failed", "err", err)
		os.Exit(1)
	}

	// ── 6. Repositories + shared stores ───────────────────────────────────────
	auctionRepo := repository.NewAuctionRepository(db)
	userRepo := repository.NewUserRepository(db)

	store := cache.New(rdb, cfg.Cache)
	rooms := presence.NewStore(rdb)
	limiter := ratelimit.NewLimiter(rdb, cfg.RateLimit)
	relayPub := relay.NewPublisher(rdb)

	// ── 7. Services ───────────────────────────────────────────────────────────
	userSvc := service.NewUserService(userRepo, store)
	auctionSvc := service.NewAuctionService(auctionRepo, store, relayPub, logger)
	intakeSvc := service.NewIntakeService(auctionSvc, bidPublisher, logger)

	// ── 8. Gateway hub + relay subscriber ─────────────────────────────────────
	hub := gateway.NewHub(
		rooms, limiter, userSvc, auctionSvc, intakeSvc, relayPub,
		[]byte(cfg.JWT.Secret), logger,
	)

	relaySub := relay.NewSubscriber(rdb, logger)
	hub.BindSubscriber(relaySub)

	// ── 9. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := relaySub.Run(ctx); err != nil {
			logger.Error("relay subscriber failed", "err", err)
			stop()
		}
	}()

	// ── 10. Lifecycle scheduler ───────────────────────────────────────────────
	sched := scheduler.New(auctionSvc, 5*time.Second, logger)
	sched.Start(ctx)

	// ── 11. HTTP server ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		AuctionSvc: auctionSvc,
		Hub:        hub,
		Cfg:        cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
			stop()
		}
	}()

	// ── 12. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}

	bidPublisher.Close()
	brokerClient.Close()
	rdb.Close()
	db.Close()
	logger.Info("gateway stopped cleanly")
}

// runMigrations reads all *.sql files from dir, sorted by name, and executes
// them sequentially. Idempotent: SQL files use IF NOT EXISTS / ON CONFLICT.
func runMigrations(db *sqlx.DB, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("runMigrations: read dir %q: %w", dir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return fmt.Errorf("runMigrations: read %q: %w", f, err)
		}
		if _, err = db.Exec(string(data)); err != nil {
			return fmt.Errorf("runMigrations: exec %q: %w", f, err)
		}
		slog.Info("migration applied", "file", filepath.Base(f))
	}
	return nil
}
