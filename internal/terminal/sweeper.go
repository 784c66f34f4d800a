package terminal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/codeexec/public-terminals/internal/infrastructure/config"
	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
	"github.com/codeexec/public-terminals/internal/infrastructure/monitoring"
	"github.com/codeexec/public-terminals/internal/platform"
)

// Sweeper is the periodic reclamation loop. Each cycle it expires records
// past their TTL, fails startups that never reported, detects units the
// runtime lost without a callback, and retries terminations that failed
// earlier. A failure on one record never stops the rest of the cycle.
type Sweeper struct {
	manager *Manager
	adapter platform.Adapter
	cfg     config.SweepConfig
	startup time.Duration
	log     *logging.Logger
	metrics *monitoring.Metrics

	now func() time.Time
}

// NewSweeper wires a sweeper over the manager's store and adapter.
func NewSweeper(manager *Manager, adapter platform.Adapter, cfg *config.Config, log *logging.Logger, metrics *monitoring.Metrics) *Sweeper {
	return &Sweeper{
		manager: manager,
		adapter: adapter,
		cfg:     cfg.Sweep,
		startup: cfg.Terminal.StartupBudget,
		log:     log.Named("sweeper"),
		metrics: metrics,
		now:     time.Now,
	}
}

// Run sweeps immediately, then on every tick until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	s.log.Info("sweeper started", zap.Duration("interval", s.cfg.Interval))

	s.Sweep(ctx)
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one reclamation cycle.
func (s *Sweeper) Sweep(ctx context.Context) {
	start := s.now()

	active, err := s.manager.List(ctx, Filter{})
	if err != nil {
		s.log.Error("sweep aborted, cannot list records", zap.Error(err))
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
		return
	}

	for _, t := range active {
		if ctx.Err() != nil {
			return
		}
		s.sweepRecord(ctx, t)
	}

	s.retryTerminations(ctx)

	s.metrics.ObserveSweep(s.now().Sub(start))
	s.log.Debug("sweep cycle complete",
		zap.Int("records", len(active)),
		zap.Duration("elapsed", s.now().Sub(start)))
}

func (s *Sweeper) sweepRecord(ctx context.Context, t *Terminal) {
	now := s.now().UTC()

	switch {
	case t.Expired(now):
		s.reclaim(ctx, t.ID, StatusExpired, "", "expired")

	case (t.Status == StatusPending || t.Status == StatusStarting) && now.Sub(t.CreatedAt) > s.startup:
		reason := fmt.Sprintf("startup did not complete within %s", s.startup)
		s.reclaim(ctx, t.ID, StatusFailed, reason, "stuck_startup")

	case s.cfg.OrphanDetection && t.Status == StatusStarted && t.Handle != nil:
		status, err := s.adapter.Describe(ctx, *t.Handle)
		if err != nil {
			s.log.Warn("describe failed, skipping orphan check",
				zap.String("terminal_id", t.ID),
				zap.Error(err))
			if s.metrics != nil {
				s.metrics.SweepErrors.Inc()
			}
			return
		}
		if status == platform.StatusExited || status == platform.StatusGone {
			reason := fmt.Sprintf("unit %s is %s", t.Handle.Name, status)
			s.reclaim(ctx, t.ID, StatusFailed, reason, "orphaned")
		}
	}
}

// reclaim applies an absorbing transition and tears the unit down. An
// ErrConflict means another actor got there first; that is success from the
// sweeper's point of view.
func (s *Sweeper) reclaim(ctx context.Context, terminalID string, to Status, errorMessage, reason string) {
	_, err := s.manager.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		if t.Status.Absorbing() {
			return ErrConflict
		}
		if errorMessage != "" {
			t.ErrorMessage = errorMessage
		}
		s.manager.transition(t, to)
		return nil
	})
	if errors.Is(err, ErrConflict) {
		return
	}
	if err != nil {
		s.log.Error("reclaim transition failed",
			zap.String("terminal_id", terminalID),
			zap.Error(err))
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
		return
	}

	s.log.Info("terminal reclaimed",
		zap.String("terminal_id", terminalID),
		zap.String("status", string(to)),
		zap.String("reason", reason))
	if s.metrics != nil {
		s.metrics.SweepReclaims.WithLabelValues(reason).Inc()
	}

	if terr := s.manager.TerminateUnit(ctx, terminalID); terr != nil && !errors.Is(terr, ErrConflict) {
		s.log.Warn("unit termination will retry next cycle",
			zap.String("terminal_id", terminalID),
			zap.Error(terr))
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
	}
}

// retryTerminations re-drives Terminate for absorbing records whose unit
// still exists because an earlier attempt failed.
func (s *Sweeper) retryTerminations(ctx context.Context) {
	pending, err := s.manager.List(ctx, Filter{PendingTermination: true})
	if err != nil {
		s.log.Error("cannot list pending terminations", zap.Error(err))
		if s.metrics != nil {
			s.metrics.SweepErrors.Inc()
		}
		return
	}

	for _, t := range pending {
		if ctx.Err() != nil {
			return
		}
		err := s.manager.TerminateUnit(ctx, t.ID)
		switch {
		case errors.Is(err, ErrConflict):
			// Claimed by a concurrent actor since the listing.
		case err != nil:
			s.log.Warn("termination retry failed",
				zap.String("terminal_id", t.ID),
				zap.Error(err))
			if s.metrics != nil {
				s.metrics.SweepErrors.Inc()
			}
		default:
			if s.metrics != nil {
				s.metrics.SweepReclaims.WithLabelValues("terminated").Inc()
			}
		}
	}
}
