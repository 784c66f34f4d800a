package terminal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codeexec/public-terminals/internal/auth"
	"github.com/codeexec/public-terminals/internal/infrastructure/config"
	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
	"github.com/codeexec/public-terminals/internal/infrastructure/monitoring"
	"github.com/codeexec/public-terminals/internal/infrastructure/resilience"
	"github.com/codeexec/public-terminals/internal/platform"
	"github.com/codeexec/public-terminals/internal/shared/id"
)

// Manager orchestrates the terminal lifecycle: it creates records, drives
// asynchronous provisioning against the platform adapter, applies deletion
// intent, and owns the at-most-once termination protocol.
type Manager struct {
	store   Store
	adapter platform.Adapter
	cfg     *config.Config
	log     *logging.Logger
	metrics *monitoring.Metrics

	now func() time.Time

	// baseCtx outlives individual HTTP requests so provisioning started by
	// a request survives the request's cancellation.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewManager wires a manager. Close must be called to drain in-flight
// provisioning work.
func NewManager(store Store, adapter platform.Adapter, cfg *config.Config, log *logging.Logger, metrics *monitoring.Metrics) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		store:   store,
		adapter: adapter,
		cfg:     cfg,
		log:     log.Named("manager"),
		metrics: metrics,
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
	}
}

// Create registers a new terminal in pending state and starts provisioning
// in the background. The caller gets the record immediately; readiness
// arrives later through the supervisor callbacks.
func (m *Manager) Create(ctx context.Context, owner string) (*Terminal, error) {
	now := m.now().UTC()
	t := &Terminal{
		ID:        id.NewTerminalID().String(),
		Owner:     owner,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(m.cfg.Terminal.TTL),
	}

	if err := m.store.Create(ctx, t); err != nil {
		return nil, err
	}

	if m.metrics != nil {
		m.metrics.TerminalsCreated.Inc()
		m.metrics.TerminalsActive.Inc()
	}
	m.log.Info("terminal created",
		zap.String("terminal_id", t.ID),
		zap.String("owner", owner),
		zap.Time("expires_at", t.ExpiresAt))

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.provision(m.baseCtx, t.ID)
	}()

	return t, nil
}

// Get returns the record, absorbing states included.
func (m *Manager) Get(ctx context.Context, terminalID string) (*Terminal, error) {
	return m.store.Get(ctx, terminalID)
}

// List returns records matching the filter.
func (m *Manager) List(ctx context.Context, f Filter) ([]*Terminal, error) {
	return m.store.List(ctx, f)
}

// Delete applies deletion intent. Deleting an absorbing record is an
// accepted no-op. A record with a live unit gets its unit terminated; one
// still provisioning is marked so the provisioning path cleans up after
// itself once the handle exists.
func (m *Manager) Delete(ctx context.Context, terminalID string) error {
	prev := StatusPending
	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		prev = t.Status
		if t.Status.Absorbing() {
			return ErrConflict
		}
		t.DeleteRequested = true
		m.transition(t, StatusStopped)
		return nil
	})
	if errors.Is(err, ErrConflict) {
		// Already stopped, expired, or failed. Idempotent.
		return nil
	}
	if err != nil {
		return err
	}

	m.log.Info("terminal deleted",
		zap.String("terminal_id", terminalID),
		zap.String("previous_status", string(prev)))

	// If the unit exists, tear it down now. If provisioning has not yet
	// recorded a handle, the provisioning goroutine sees DeleteRequested
	// and terminates the unit itself; the sweeper is the final backstop.
	if err := m.TerminateUnit(ctx, terminalID); err != nil && !errors.Is(err, ErrConflict) {
		m.log.Warn("unit termination deferred to sweeper",
			zap.String("terminal_id", terminalID),
			zap.Error(err))
	}
	return nil
}

// provision drives one record from pending to the point where the in-unit
// supervisor takes over. Runs on the manager's background context.
func (m *Manager) provision(ctx context.Context, terminalID string) {
	log := m.log.With(zap.String("terminal_id", terminalID))

	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		if t.Status != StatusPending {
			return ErrConflict
		}
		m.transition(t, StatusStarting)
		return nil
	})
	if errors.Is(err, ErrConflict) {
		log.Info("provisioning abandoned, record no longer pending")
		return
	}
	if err != nil {
		log.Error("failed to mark record starting", zap.Error(err))
		return
	}

	spec := platform.Spec{
		TerminalID:    terminalID,
		CallbackURL:   m.callbackURL(),
		CallbackToken: auth.Token(m.cfg.Server.CallbackSecret, terminalID),
		TunnelHost:    m.cfg.Terminal.TunnelHost,
		TTL:           m.cfg.Terminal.TTL,
		IdleTimeout:   m.cfg.Terminal.IdleTimeout,
	}

	var handle platform.Handle
	err = resilience.Retry(ctx, resilience.Settings{
		Attempts:  m.cfg.Platform.ProvisionAttempts,
		Backoff:   m.cfg.Platform.ProvisionBackoff,
		Retryable: platform.IsTransient,
		OnRetry: func(attempt int, err error) {
			if m.metrics != nil {
				m.metrics.ProvisionRetries.Inc()
			}
			log.Warn("retrying provisioning",
				zap.Int("attempt", attempt),
				zap.Error(err))
		},
	}, func(ctx context.Context) error {
		var perr error
		handle, perr = m.adapter.Provision(ctx, spec)
		return perr
	})
	if err != nil {
		if m.metrics != nil {
			m.metrics.ProvisionTotal.WithLabelValues(m.adapter.Backend(), "failure").Inc()
		}
		log.Error("provisioning failed", zap.Error(err))
		m.fail(ctx, terminalID, fmt.Sprintf("provisioning failed: %v", err))
		return
	}
	if m.metrics != nil {
		m.metrics.ProvisionTotal.WithLabelValues(m.adapter.Backend(), "success").Inc()
	}
	log.Info("unit provisioned",
		zap.String("unit_id", handle.ID),
		zap.String("unit_name", handle.Name))

	// Record the handle regardless of any state the record reached in the
	// meantime: a handle the store never saw is a unit nothing can reclaim.
	deleteRequested := false
	_, err = m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		t.Handle = &handle
		deleteRequested = t.DeleteRequested || t.Status.Absorbing()
		return nil
	})
	if err != nil {
		// Record vanished from under us; the unit is orphaned until the
		// sweeper's next describe pass. Terminate directly as a best effort.
		log.Error("failed to record unit handle, terminating unit", zap.Error(err))
		if terr := m.adapter.Terminate(ctx, handle); terr != nil {
			log.Error("orphaned unit termination failed", zap.Error(terr))
		}
		return
	}

	if deleteRequested {
		log.Info("deletion requested during provisioning, terminating unit")
		if terr := m.TerminateUnit(ctx, terminalID); terr != nil && !errors.Is(terr, ErrConflict) {
			log.Warn("unit termination deferred to sweeper", zap.Error(terr))
		}
	}
}

// fail moves a record into the failed absorbing state. Losing the race to an
// earlier absorbing transition is a no-op.
func (m *Manager) fail(ctx context.Context, terminalID, reason string) {
	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		if t.Status.Absorbing() {
			return ErrConflict
		}
		t.ErrorMessage = reason
		m.transition(t, StatusFailed)
		return nil
	})
	if err != nil && !errors.Is(err, ErrConflict) {
		m.log.Error("failed to mark terminal failed",
			zap.String("terminal_id", terminalID),
			zap.Error(err))
	}
}

// TerminateUnit calls the platform Terminate for the record's unit at most
// once. The terminated flag is claimed inside the mutation before the call
// and released if the call fails, so the next sweep cycle retries. Returns
// ErrConflict when there is nothing to do (no handle, or already claimed).
func (m *Manager) TerminateUnit(ctx context.Context, terminalID string) error {
	var handle platform.Handle
	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		if t.Handle == nil || t.terminated {
			return ErrConflict
		}
		t.terminated = true
		handle = *t.Handle
		return nil
	})
	if err != nil {
		return err
	}

	if err := m.adapter.Terminate(ctx, handle); err != nil {
		if m.metrics != nil {
			m.metrics.TerminateTotal.WithLabelValues(m.adapter.Backend(), "failure").Inc()
		}
		// Release the claim so the sweeper retries.
		if _, rerr := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
			t.terminated = false
			return nil
		}); rerr != nil {
			m.log.Error("failed to release termination claim",
				zap.String("terminal_id", terminalID),
				zap.Error(rerr))
		}
		return fmt.Errorf("terminate unit %s: %w", handle.Name, err)
	}

	if m.metrics != nil {
		m.metrics.TerminateTotal.WithLabelValues(m.adapter.Backend(), "success").Inc()
	}
	m.log.Info("unit terminated",
		zap.String("terminal_id", terminalID),
		zap.String("unit_name", handle.Name))
	return nil
}

// transition applies a status change on a record already held inside a
// Mutate callback, maintaining the absorbing-state bookkeeping.
func (m *Manager) transition(t *Terminal, to Status) {
	from := t.Status
	t.Status = to
	if to.Absorbing() {
		if t.DeletedAt == nil {
			ts := m.now().UTC()
			t.DeletedAt = &ts
		}
		if !from.Absorbing() && m.metrics != nil {
			m.metrics.TerminalsActive.Dec()
		}
		m.metrics.ClearUnitStats(t.ID)
	}
	if m.metrics != nil {
		m.metrics.RecordTransition(string(from), string(to))
	}
}

func (m *Manager) callbackURL() string {
	base := strings.TrimSuffix(m.cfg.Server.BaseURL, "/")
	return base + "/api/v1/callbacks"
}

// Close stops background work and waits for in-flight provisioning.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}
