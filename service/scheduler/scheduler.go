// ABOUTME: Recurring refresh scheduler
// ABOUTME: Periodically asks the coordinator to refresh when the token is due

package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// RefreshRunner is the coordinator surface the scheduler drives.
type RefreshRunner interface {
	RefreshIfDue(ctx context.Context) error
}

// Scheduler fires a due-check at a fixed cadence. The coordinator decides
// whether each tick becomes a vendor call, so failed or missed ticks carry
// no state - the next tick re-evaluates from persisted expiry.
type Scheduler struct {
	runner      RefreshRunner
	logger      *slog.Logger
	tickTimeout time.Duration
	ticker      *time.Ticker
	stopChan    chan struct{}
	isRunning   bool
}

// Config holds scheduler configuration.
type Config struct {
	RefreshInterval time.Duration
}

// DefaultConfig returns the default cadence: with a 24h look-ahead window
// and 2h ticks, a refresh can never be missed by a single failed tick.
func DefaultConfig() Config {
	return Config{
		RefreshInterval: 2 * time.Hour,
	}
}

// NewScheduler creates a refresh scheduler.
func NewScheduler(runner RefreshRunner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		runner:      runner,
		logger:      logger,
		tickTimeout: 2 * time.Minute,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the tick loop. The first due-check happens one interval
// after start; startup refreshes are the coordinator's callers' concern.
func (s *Scheduler) Start(cfg Config) {
	if s.isRunning {
		s.logger.Warn("Scheduler is already running")
		return
	}

	interval := cfg.RefreshInterval
	if interval <= 0 {
		interval = DefaultConfig().RefreshInterval
	}

	s.logger.Info("Starting token refresh scheduler", "refresh_interval", interval)

	s.ticker = time.NewTicker(interval)
	s.isRunning = true

	go s.runLoop()
}

// Stop stops the scheduler. A tick already in flight finishes on its own
// timeout.
func (s *Scheduler) Stop() {
	if !s.isRunning {
		return
	}

	s.logger.Info("Stopping token refresh scheduler")
	close(s.stopChan)
	if s.ticker != nil {
		s.ticker.Stop()
	}
	s.isRunning = false
}

func (s *Scheduler) runLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		case <-s.ticker.C:
			s.tick()
		}
	}
}

// tick runs one due-check. Errors are logged and dropped: a transient
// vendor failure here is retried naturally on the next tick.
func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled refresh panicked", "panic", r)
		}
	}()

	if err := s.runner.RefreshIfDue(ctx); err != nil {
		s.logger.Error("Scheduled refresh failed", "error", err)
		return
	}
}
