// Winnerd - Photo Competition Winner Selection Service
// Copyright 2026 Photoarena
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/photoarena/winnerd

// Package scheduler runs the reconciliation sweep: the safety net that
// resolves competitions whose end passed without a triggering event,
// because the service was down, an event was lost, or results arrived
// before the competition ended.
package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/go-co-op/gocron/v2"

	"github.com/photoarena/winnerd/internal/logging"
	"github.com/photoarena/winnerd/internal/metrics"
	"github.com/photoarena/winnerd/internal/store"
)

// WinnerSelector triggers winner selection for one competition.
type WinnerSelector interface {
	SelectWinner(ctx context.Context, competitionID string) error
}

// Config controls the sweep cadence.
type Config struct {
	// Interval between sweep ticks.
	Interval time.Duration

	// SweepTimeout bounds one full sweep.
	SweepTimeout time.Duration
}

// DefaultConfig returns the sweep defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     time.Minute,
		SweepTimeout: 5 * time.Minute,
	}
}

// Scheduler owns the periodic sweep. A single-flight guard skips ticks
// that fire while the previous sweep is still running, so a slow store
// never stacks sweeps.
type Scheduler struct {
	config   Config
	store    store.Store
	selector WinnerSelector
	running  atomic.Bool
}

// New creates a scheduler.
func New(cfg Config, st store.Store, sel WinnerSelector) (*Scheduler, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("sweep interval must be positive, got %s", cfg.Interval)
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultConfig().SweepTimeout
	}
	return &Scheduler{config: cfg, store: st, selector: sel}, nil
}

// Serve runs the sweep on the configured interval until the context is
// canceled. It implements suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	cron, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create scheduler: %w", err)
	}

	_, err = cron.NewJob(
		gocron.DurationJob(s.config.Interval),
		gocron.NewTask(func() {
			sweepCtx, cancel := context.WithTimeout(ctx, s.config.SweepTimeout)
			defer cancel()
			s.Sweep(sweepCtx)
		}),
	)
	if err != nil {
		return fmt.Errorf("schedule sweep job: %w", err)
	}

	cron.Start()
	logging.Info().
		Dur("interval", s.config.Interval).
		Msg("Reconciliation scheduler started")

	<-ctx.Done()
	if err := cron.Shutdown(); err != nil {
		logging.Error().Err(err).Msg("Scheduler shutdown failed")
	}
	return ctx.Err()
}

// Sweep resolves every eligible competition without a winner. Failures
// on individual competitions are logged and do not stop the sweep; the
// next tick retries them. Returns the number of candidates examined.
func (s *Scheduler) Sweep(ctx context.Context) int {
	if !s.running.CompareAndSwap(false, true) {
		metrics.RecordSweepSkipped()
		logging.Debug().Msg("Sweep already in progress, tick skipped")
		return 0
	}
	defer s.running.Store(false)

	start := time.Now()
	now := start.UTC()

	candidates, err := s.store.ListUnresolvedEnded(ctx, now)
	if err != nil {
		logging.Error().Err(err).Msg("Sweep failed to list unresolved competitions")
		return 0
	}

	for _, c := range candidates {
		if ctx.Err() != nil {
			logging.Warn().
				Int("remaining", len(candidates)).
				Msg("Sweep aborted by context")
			break
		}
		if err := s.selector.SelectWinner(ctx, c.ID); err != nil {
			logging.Error().
				Err(err).
				Str("competition_id", c.ID).
				Msg("Sweep selection failed, will retry next tick")
		}
	}

	metrics.RecordSweep(len(candidates), time.Since(start))
	if len(candidates) > 0 {
		logging.Info().
			Int("candidates", len(candidates)).
			Dur("elapsed", time.Since(start)).
			Msg("Reconciliation sweep completed")
	}
	return len(candidates)
}

// String identifies the scheduler in supervisor logs.
func (s *Scheduler) String() string {
	return "scheduler.Scheduler"
}
