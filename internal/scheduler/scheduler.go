// Package scheduler runs the background sweep that drives the auction
// lifecycle: PENDING auctions whose start time has passed become ONGOING,
// and ONGOING auctions whose end time has passed become ENDED. Status-guarded
// updates in storage make the sweep safe to run on every replica at once.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Lifecycle is the slice of AuctionService the scheduler drives.
type Lifecycle interface {
	StartDue(ctx context.Context, now time.Time) error
	EndDue(ctx context.Context, now time.Time) error
}

// Scheduler ticks the lifecycle sweep at a fixed interval.
type Scheduler struct {
	lifecycle Lifecycle
	interval  time.Duration
	logger    *slog.Logger
}

// New creates a Scheduler. interval <= 0 falls back to 5s.
func New(lifecycle Lifecycle, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Scheduler{lifecycle: lifecycle, interval: interval, logger: logger}
}

// Start launches the sweep goroutine. It returns immediately; the loop runs
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	go s.loop(ctx)
	s.logger.Info("lifecycle scheduler started", "interval", s.interval)
}

func (s *Scheduler) loop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("lifecycle scheduler stopped")
			return
		case now := <-ticker.C:
			if err := s.lifecycle.StartDue(ctx, now); err != nil {
				s.logger.Error("start sweep failed", "error", err)
			}
			if err := s.lifecycle.EndDue(ctx, now); err != nil {
				s.logger.Error("end sweep failed", "error", err)
			}
		}
	}
}
