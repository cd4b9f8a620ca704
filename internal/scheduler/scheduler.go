// Package scheduler wires up the cron job that periodically prunes the
// search cache: stale searches are deleted and old listings are flagged
// expired.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"jobmate/search-service/internal/config"
	"jobmate/search-service/internal/model"
)

// Pruner is the store operation the maintenance job runs.
type Pruner interface {
	Prune(ctx context.Context, searchesBefore, listingsBefore time.Time) (model.PruneStats, error)
}

// Scheduler wraps robfig/cron and manages the prune loop.
type Scheduler struct {
	cron   *cron.Cron
	store  Pruner
	spec   string
	cfg    config.MaintenanceConfig
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Scheduler firing on cfg.Schedule.
func New(store Pruner, cfg config.MaintenanceConfig, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "scheduler")
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cronLogger{logger})),
		store:  store,
		spec:   cfg.Schedule,
		cfg:    cfg,
		now:    time.Now,
		logger: logger,
	}
}

// Start registers the job and starts the scheduler. One prune also runs
// immediately so a long-stopped instance catches up without waiting for the
// first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.runPrune(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	s.logger.Info("cron started", "spec", s.spec)

	go s.runPrune(ctx)

	return nil
}

// Stop shuts down the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.logger.Info("cron stopped")
}

// RunOnce prunes with cutoffs relative to the current time.
func (s *Scheduler) RunOnce(ctx context.Context) (model.PruneStats, error) {
	now := s.now()
	searchesBefore := now.Add(-s.cfg.SearchRetention)
	listingsBefore := now.Add(-s.cfg.ListingMaxAge)
	return s.store.Prune(ctx, searchesBefore, listingsBefore)
}

func (s *Scheduler) runPrune(ctx context.Context) {
	start := time.Now()
	stats, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("prune failed", "err", err)
		return
	}
	s.logger.Info("prune complete",
		"searches_deleted", stats.SearchesDeleted,
		"listings_expired", stats.ListingsExpired,
		"duration", time.Since(start),
	)
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "err", err)...)
}
