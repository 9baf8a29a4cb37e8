package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ScopeLister supplies the scopes a scheduled run should cover. The
// catalog grows scopes as signals arrive, so the set is re-read each
// tick.
type ScopeLister func(ctx context.Context) ([]string, error)

// Scheduler triggers discovery runs at a fixed interval. A failure in
// one scope never aborts the remaining scopes of the same tick.
type Scheduler struct {
	engine   *Engine
	scopes   ScopeLister
	interval time.Duration
	logger   *zap.Logger
}

// NewScheduler creates a discovery scheduler.
func NewScheduler(engine *Engine, scopes ScopeLister, interval time.Duration, logger *zap.Logger) (*Scheduler, error) {
	if engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	if scopes == nil {
		return nil, fmt.Errorf("scope lister cannot be nil")
	}
	if interval <= 0 {
		return nil, fmt.Errorf("interval must be positive, got %s", interval)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		engine:   engine,
		scopes:   scopes,
		interval: interval,
		logger:   logger,
	}, nil
}

// Run blocks, triggering a discovery pass every interval until the
// context is canceled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("discovery scheduler started", zap.Duration("interval", s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("discovery scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce triggers discovery for every scope, isolating failures per
// scope. Scopes with a run already in progress are skipped.
func (s *Scheduler) RunOnce(ctx context.Context) {
	scopes, err := s.scopes(ctx)
	if err != nil {
		s.logger.Error("listing scopes for discovery", zap.Error(err))
		return
	}

	for _, scope := range scopes {
		if ctx.Err() != nil {
			return
		}

		patterns, err := s.engine.Discover(ctx, scope)
		switch {
		case errors.Is(err, ErrScopeBusy):
			s.logger.Debug("skipping scope with discovery in progress",
				zap.String("scope", scope))
		case err != nil:
			s.logger.Error("discovery run failed",
				zap.String("scope", scope),
				zap.Error(err))
		default:
			s.logger.Debug("scheduled discovery run complete",
				zap.String("scope", scope),
				zap.Int("patterns", len(patterns)))
		}
	}
}
