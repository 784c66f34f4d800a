package platform

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeexec/public-terminals/internal/infrastructure/config"
	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
)

// Spec describes the unit to provision. Everything the supervisor inside the
// unit needs arrives through its environment.
type Spec struct {
	TerminalID    string
	CallbackURL   string
	CallbackToken string
	TunnelHost    string
	TTL           time.Duration
	IdleTimeout   time.Duration
}

// Handle is an opaque reference to a provisioned unit, carrying everything
// needed to address and later terminate it.
type Handle struct {
	// ID is the runtime-specific identifier: container ID for Docker,
	// pod name for Kubernetes.
	ID string `json:"id"`
	// Name is the human-readable unit name (terminal-<id>).
	Name string `json:"name"`
	// HostPort is the published host port for Docker units; empty on
	// Kubernetes where the service is addressed in-cluster.
	HostPort string `json:"host_port,omitempty"`
	// Backend records which adapter produced the handle.
	Backend string `json:"backend"`
}

// RuntimeStatus is a best-effort liveness classification of a unit.
type RuntimeStatus string

const (
	StatusRunning RuntimeStatus = "running"
	StatusExited  RuntimeStatus = "exited"
	// StatusGone means the runtime has no record of the unit at all.
	StatusGone    RuntimeStatus = "gone"
	StatusUnknown RuntimeStatus = "unknown"
)

// Adapter provisions and terminates terminal units on a backing runtime.
type Adapter interface {
	// Provision schedules a unit and returns its handle. It does not wait
	// for the unit to become ready.
	Provision(ctx context.Context, spec Spec) (Handle, error)
	// Terminate removes a unit. Terminating an already-removed handle is
	// not an error.
	Terminate(ctx context.Context, handle Handle) error
	// Describe probes the unit's liveness. Best effort: used by the
	// reclamation sweeper for orphan detection.
	Describe(ctx context.Context, handle Handle) (RuntimeStatus, error)
	// Backend names the runtime this adapter drives.
	Backend() string
}

// ProvisioningError is a permanent provisioning failure: the unit cannot be
// created (quota exhausted, image missing, invalid resources). It is not
// retried; the terminal is marked failed.
type ProvisioningError struct {
	Reason string
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("provisioning failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("provisioning failed: %s", e.Reason)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Error is a transient runtime-API fault. Callers retry these with bounded
// backoff before surfacing a terminal failure.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("platform %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var pe *Error
	return errors.As(err, &pe)
}

// New selects an adapter for the configured backend.
func New(cfg config.PlatformConfig, logger *logging.Logger) (Adapter, error) {
	switch cfg.Backend {
	case "docker":
		return NewDockerAdapter(cfg, logger), nil
	case "kubernetes":
		return NewKubeAdapter(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown platform backend %q", cfg.Backend)
	}
}
