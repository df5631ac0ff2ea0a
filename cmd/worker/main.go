// Package main is the entry point for a settlement worker. Each worker
// consumes exactly one bid-processing partition (PARTITION_INDEX, 1-based)
// plus the shared notifications and audit queues, commits bids against
// storage, and fans outcomes out through the relay.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/evetabi/liveauction/internal/audit"
	"github.com/evetabi/liveauction/internal/broker"
	"github.com/evetabi/liveauction/internal/cache"
	"github.com/evetabi/liveauction/internal/config"
	"github.com/evetabi/liveauction/internal/relay"
	"github.com/evetabi/liveauction/internal/repository"
	"github.com/evetabi/liveauction/internal/service"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/redis/go-redis/v9"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()
	if cfg.Broker.PartitionIndex < 1 {
		slog.Error("PARTITION_INDEX must be set to a partition in [1, BROKER_PARTITIONS] for workers")
		os.Exit(1)
	}

	var logHandler slog.Handler
	if cfg.IsProd() {
		logHandler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		logHandler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	logger := slog.New(logHandler)
	slog.SetDefault(logger)

	logger.Info("starting liveauction worker",
		"env", cfg.Server.Env,
		"partition", cfg.Broker.PartitionIndex,
	)

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

	// ── 3. Redis ──────────────────────────────────────────────────────────────
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

	// ── 4. Broker + topology ──────────────────────────────────────────────────
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

	rejectPublisher, err := broker.NewPublisher(brokerClient)
	if err != nil {
		logger.Error("broker publisher failed", "err", err)
		os.Exit(1)
	}

	// ── 5. Services ───────────────────────────────────────────────────────────
	auctionRepo := repository.NewAuctionRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	store := cache.New(rdb, cfg.Cache)
	relayPub := relay.NewPublisher(rdb)

	settlementSvc := service.NewSettlementService(
		cfg.Broker.PartitionIndex,
		cfg.Broker.MaxRetries,
		auctionRepo,
		store,
		relayPub,
		rejectPublisher,
		logger,
	)
	feedbackSvc := service.NewFeedbackService(relayPub, logger)
	auditSink := audit.NewSink(auditRepo, cfg.Audit, logger)

	// ── 6. Consumers ──────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var consumers sync.WaitGroup
	partitionQueue := broker.PartitionQueue(cfg.Broker.PartitionIndex)
	consumers.Add(3)
	go func() {
		defer consumers.Done()
		if err := brokerClient.ConsumeLoop(ctx, partitionQueue, "settlement", 1, settlementSvc.HandleDelivery); err != nil {
			logger.Error("settlement consumer failed", "err", err)
			stop()
		}
	}()
	go func() {
		defer consumers.Done()
		if err := brokerClient.ConsumeLoop(ctx, broker.QueueNotifications, "feedback", 50, feedbackSvc.HandleDelivery); err != nil {
			logger.Error("feedback consumer failed", "err", err)
			stop()
		}
	}()
	go func() {
		defer consumers.Done()
		if err := brokerClient.ConsumeLoop(ctx, broker.QueueAuditLog, "audit", cfg.Broker.AuditPrefetch, auditSink.HandleDelivery); err != nil {
			logger.Error("audit consumer failed", "err", err)
			stop()
		}
	}()

	// ── 7. Graceful shutdown ──────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining…")

	// Wait until the consumer loops have stopped feeding handlers, then give
	// the audit sink a bounded window to flush what it already acknowledged.
	consumers.Wait()
	drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	auditSink.Close(drainCtx)

	rejectPublisher.Close()
	brokerClient.Close()
	rdb.Close()
	db.Close()
	logger.Info("worker stopped cleanly")
}
