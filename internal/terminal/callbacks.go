package terminal

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Callback ingestion. The in-unit supervisor is the only writer on these
// paths; every report races against deletion and reclamation, so each one is
// phrased as a conditional mutation and a lost race degrades to a no-op.

// ReportTunnel records the public tunnel URL for a terminal. The first
// report moves starting to started; a replay with the same URL is a no-op;
// a different URL on a started record replaces it (the supervisor relaunched
// a dead tunnel). Reports against absorbing records are accepted and
// discarded.
func (m *Manager) ReportTunnel(ctx context.Context, terminalID, url string) error {
	became := false
	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		switch {
		case t.Status == StatusStarting:
			t.TunnelURL = url
			m.touch(t)
			m.transition(t, StatusStarted)
			became = true
			return nil
		case t.Status == StatusStarted:
			if t.TunnelURL == url {
				return ErrConflict
			}
			t.TunnelURL = url
			m.touch(t)
			return nil
		default:
			return ErrConflict
		}
	})
	if errors.Is(err, ErrConflict) {
		m.metrics.RecordCallback("tunnel", "stale")
		return nil
	}
	if err != nil {
		m.metrics.RecordCallback("tunnel", "error")
		return err
	}

	m.metrics.RecordCallback("tunnel", "ok")
	if became {
		m.log.Info("terminal started",
			zap.String("terminal_id", terminalID),
			zap.String("tunnel_url", url))
	} else {
		m.log.Info("tunnel url replaced",
			zap.String("terminal_id", terminalID),
			zap.String("tunnel_url", url))
	}
	return nil
}

// ReportFailure marks the terminal failed on the supervisor's word. The
// unit itself is reclaimed through the termination protocol; an absorbing
// record swallows the report.
func (m *Manager) ReportFailure(ctx context.Context, terminalID, reason string) error {
	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		if t.Status.Absorbing() {
			return ErrConflict
		}
		t.ErrorMessage = reason
		m.transition(t, StatusFailed)
		return nil
	})
	if errors.Is(err, ErrConflict) {
		m.metrics.RecordCallback("failure", "stale")
		return nil
	}
	if err != nil {
		m.metrics.RecordCallback("failure", "error")
		return err
	}

	m.metrics.RecordCallback("failure", "ok")
	m.log.Warn("terminal reported failure",
		zap.String("terminal_id", terminalID),
		zap.String("reason", reason))

	if terr := m.TerminateUnit(ctx, terminalID); terr != nil && !errors.Is(terr, ErrConflict) {
		m.log.Warn("unit termination deferred to sweeper",
			zap.String("terminal_id", terminalID),
			zap.Error(terr))
	}
	return nil
}

// HealthPing refreshes the record's liveness timestamp. The returned active
// flag tells the supervisor whether its terminal still exists; a false value
// is its cue to shut the unit down.
func (m *Manager) HealthPing(ctx context.Context, terminalID string) (bool, error) {
	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		if t.Status.Absorbing() {
			return ErrConflict
		}
		m.touch(t)
		return nil
	})
	if errors.Is(err, ErrConflict) {
		m.metrics.RecordCallback("health", "stale")
		return false, nil
	}
	if err != nil {
		m.metrics.RecordCallback("health", "error")
		return false, err
	}
	m.metrics.RecordCallback("health", "ok")
	return true, nil
}

// ReportStats ingests the supervisor's resource usage sample. The numbers
// land in the usage gauges, not on the record; the report still refreshes
// liveness the way a health ping does. Reports against absorbing records are
// accepted and discarded.
func (m *Manager) ReportStats(ctx context.Context, terminalID string, cpuPercent, memoryBytes float64) error {
	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		if t.Status.Absorbing() {
			return ErrConflict
		}
		m.touch(t)
		return nil
	})
	if errors.Is(err, ErrConflict) {
		m.metrics.RecordCallback("stats", "stale")
		return nil
	}
	if err != nil {
		m.metrics.RecordCallback("stats", "error")
		return err
	}

	m.metrics.RecordCallback("stats", "ok")
	m.metrics.RecordUnitStats(terminalID, cpuPercent, memoryBytes)
	return nil
}

// ReportIdle retires a terminal whose unit saw no activity past the idle
// budget. Idle shutdown lands on stopped, the same state as an explicit
// delete.
func (m *Manager) ReportIdle(ctx context.Context, terminalID string) error {
	_, err := m.store.Mutate(ctx, terminalID, func(t *Terminal) error {
		if t.Status.Absorbing() {
			return ErrConflict
		}
		m.transition(t, StatusStopped)
		return nil
	})
	if errors.Is(err, ErrConflict) {
		m.metrics.RecordCallback("idle", "stale")
		return nil
	}
	if err != nil {
		m.metrics.RecordCallback("idle", "error")
		return err
	}

	m.metrics.RecordCallback("idle", "ok")
	m.log.Info("terminal stopped for inactivity", zap.String("terminal_id", terminalID))

	if terr := m.TerminateUnit(ctx, terminalID); terr != nil && !errors.Is(terr, ErrConflict) {
		m.log.Warn("unit termination deferred to sweeper",
			zap.String("terminal_id", terminalID),
			zap.Error(terr))
	}
	return nil
}

func (m *Manager) touch(t *Terminal) {
	ts := m.now().UTC()
	t.LastSeenAt = &ts
}
