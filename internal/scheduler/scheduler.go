// Package scheduler periodically re-ingests registries that have gone stale.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/capability-registry/internal/logging"
	"github.com/JakeFAU/capability-registry/internal/metrics"
	"github.com/JakeFAU/capability-registry/internal/registry"
)

// Defaults applied to zero Config fields.
const (
	DefaultRefreshInterval = 7 * 24 * time.Hour
	DefaultSweepInterval   = 6 * time.Hour
	DefaultInitialDelay    = 2 * time.Minute
)

// ErrRunning is returned by Start when the scheduler is already running.
var ErrRunning = errors.New("scheduler already running")

// Submitter queues a refresh job for a domain.
type Submitter interface {
	SubmitRefresh(ctx context.Context, domain, seedURL string) (registry.IngestJob, error)
}

// Config controls sweep cadence and the staleness threshold.
type Config struct {
	RefreshInterval time.Duration
	SweepInterval   time.Duration
	InitialDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.InitialDelay < 0 {
		c.InitialDelay = 0
	}
	return c
}

// Scheduler resubmits stale registries on a fixed cadence.
type Scheduler struct {
	store     registry.RegistryStore
	submitter Submitter
	clock     registry.Clock
	cfg       Config
	logger    *zap.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Scheduler.
func New(store registry.RegistryStore, submitter Submitter, clock registry.Clock, cfg Config, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		store:     store,
		submitter: submitter,
		clock:     clock,
		cfg:       cfg.withDefaults(),
		logger:    logging.OrNop(logger),
	}
}

// Start launches the sweep loop. The first sweep runs after InitialDelay.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
	s.logger.Info("refresh scheduler started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Duration("refresh_interval", s.cfg.RefreshInterval),
		zap.Duration("initial_delay", s.cfg.InitialDelay))
	return nil
}

// Stop cancels the loop and waits for an in-progress sweep to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.logger.Info("refresh scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	timer := time.NewTimer(s.cfg.InitialDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("refresh sweep failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep resubmits every stale registry and returns how many were queued.
// A failure on one domain is logged and the sweep moves on.
func (s *Scheduler) Sweep(ctx context.Context) (int, error) {
	summaries, err := s.store.ListRegistries(ctx)
	if err != nil {
		return 0, fmt.Errorf("list registries: %w", err)
	}
	stale := SelectStale(summaries, s.clock.Now(), s.cfg.RefreshInterval)
	if len(stale) == 0 {
		s.logger.Debug("no stale registries")
		return 0, nil
	}
	s.logger.Info("refreshing stale registries", zap.Int("count", len(stale)))

	queued := 0
	for _, summary := range stale {
		if ctx.Err() != nil {
			return queued, ctx.Err()
		}
		if err := s.refresh(ctx, summary.Domain); err != nil {
			metrics.ObserveResubmission("failed")
			s.logger.Error("refresh failed", zap.String("domain", summary.Domain), zap.Error(err))
			continue
		}
		metrics.ObserveResubmission("queued")
		queued++
	}
	return queued, nil
}

func (s *Scheduler) refresh(ctx context.Context, domain string) error {
	existing, err := s.store.GetRegistry(ctx, domain)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}
	seedURL := existing.Metadata.WebsiteURL
	if seedURL == "" {
		seedURL = "https://" + domain
	}
	job, err := s.submitter.SubmitRefresh(ctx, domain, seedURL)
	if err != nil {
		return fmt.Errorf("submit refresh: %w", err)
	}
	s.logger.Info("refresh queued", zap.String("domain", domain), zap.String("job_id", job.ID), zap.String("url", seedURL))
	return nil
}

// SelectStale returns the summaries last updated before now minus interval,
// preserving input order.
func SelectStale(summaries []registry.RegistrySummary, now time.Time, interval time.Duration) []registry.RegistrySummary {
	threshold := now.Add(-interval)
	var stale []registry.RegistrySummary
	for _, s := range summaries {
		if s.UpdatedAt.Before(threshold) {
			stale = append(stale, s)
		}
	}
	return stale
}
