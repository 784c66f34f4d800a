package supervisor

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/codeexec/public-terminals/internal/infrastructure/config"
	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
)

// State is the supervisor's lifecycle phase.
type State string

const (
	StateLaunching          State = "launching"
	StateWaitingReady       State = "waiting-ready"
	StateEstablishingTunnel State = "establishing-tunnel"
	StateReady              State = "ready"
	StateDegraded           State = "degraded"
	StateFailed             State = "failed"
)

var (
	// ErrReadinessTimeout means the service never answered its readiness
	// endpoint within the attempt budget.
	ErrReadinessTimeout = errors.New("service readiness timeout")
	// ErrTunnelTimeout means no public URL appeared in the tunnel client
	// output within the attempt budget.
	ErrTunnelTimeout = errors.New("tunnel establishment timeout")
	// ErrNoServiceCommand means Options arrived without a service command,
	// typically an empty -service flag.
	ErrNoServiceCommand = errors.New("no service command configured")
)

// reporter is the orchestrator-facing callback surface.
type reporter interface {
	ReportTunnel(ctx context.Context, tunnelURL string) error
	ReportFailure(ctx context.Context, message string) error
	HealthPing(ctx context.Context) (bool, error)
	ReportStats(ctx context.Context, cpuPercent, memoryBytes float64) error
	ReportIdle(ctx context.Context) error
}

// child is a supervised process.
type child interface {
	alive() bool
	output() <-chan string
	stop()
	exitErr() error
}

type startFunc func(ctx context.Context, name string, args ...string) (child, error)

// Options parameterizes one supervisor run. Everything here arrives through
// the unit's environment.
type Options struct {
	TerminalID  string
	TunnelHost  string
	IdleTimeout time.Duration

	// ServiceCommand launches the interactive terminal service; it must
	// serve the readiness endpoint on the service port.
	ServiceCommand []string
	// TunnelCommand launches the tunnel client; empty selects the
	// localtunnel client against TunnelHost.
	TunnelCommand []string
}

// Supervisor drives the in-unit lifecycle.
type Supervisor struct {
	opts   Options
	cfg    config.SupervisorConfig
	client reporter
	log    *logging.Logger
	idle   *IdleMonitor
	usage  UsageProbe

	start startFunc
	ready func(ctx context.Context) error

	state State
}

// New wires a supervisor with the default process launcher, readiness probe,
// and idle monitor.
func New(opts Options, cfg config.SupervisorConfig, client reporter, log *logging.Logger) *Supervisor {
	s := &Supervisor{
		opts:   opts,
		cfg:    cfg,
		client: client,
		log:    log.Named("supervisor").With(zap.String("terminal_id", opts.TerminalID)),
		idle:   NewIdleMonitor(nil, cfg.ServicePort, opts.IdleTimeout),
		usage:  ProcUsageProbe(),
		state:  StateLaunching,
	}
	s.start = func(ctx context.Context, name string, args ...string) (child, error) {
		return startProcess(ctx, name, args...)
	}
	s.ready = s.probeReadiness
	return s
}

// Run drives the unit from launch to retirement. It returns nil on clean
// shutdown (idle, deletion observed via health ping, or context cancel) and
// an error on fatal conditions, after reporting them to the orchestrator.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.opts.ServiceCommand) == 0 {
		s.reportFailure(ctx, ErrNoServiceCommand.Error())
		return ErrNoServiceCommand
	}

	s.setState(StateLaunching)
	service, err := s.start(ctx, s.opts.ServiceCommand[0], s.opts.ServiceCommand[1:]...)
	if err != nil {
		msg := fmt.Sprintf("failed to launch terminal service: %v", err)
		s.reportFailure(ctx, msg)
		return fmt.Errorf("launch service: %w", err)
	}
	defer service.stop()

	s.setState(StateWaitingReady)
	if err := s.awaitReadiness(ctx); err != nil {
		s.reportFailure(ctx, fmt.Sprintf("terminal service not ready after %d attempts", s.cfg.ReadinessAttempts))
		return err
	}

	s.setState(StateEstablishingTunnel)
	tunnel, tunnelURL, err := s.establishTunnel(ctx)
	if err != nil {
		s.reportFailure(ctx, fmt.Sprintf("tunnel not established after %d attempts", s.cfg.TunnelAttempts))
		return err
	}
	defer func() { tunnel.stop() }()

	if err := s.client.ReportTunnel(ctx, tunnelURL); err != nil {
		// With retries exhausted the orchestrator never learns the URL;
		// running on silently would leave an unreachable ghost unit.
		return fmt.Errorf("report tunnel: %w", err)
	}
	s.setState(StateReady)
	s.log.Info("terminal ready", zap.String("tunnel_url", tunnelURL))

	supervise := time.NewTicker(s.cfg.TickInterval)
	defer supervise.Stop()
	health := time.NewTicker(s.cfg.HealthInterval)
	defer health.Stop()
	idle := time.NewTicker(s.cfg.IdleCheckInterval)
	defer idle.Stop()
	stats := time.NewTicker(s.cfg.StatsInterval)
	defer stats.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case <-supervise.C:
			if !service.alive() {
				msg := fmt.Sprintf("terminal service exited: %v", service.exitErr())
				s.reportFailure(ctx, msg)
				return errors.New(msg)
			}
			if !tunnel.alive() {
				s.setState(StateDegraded)
				s.log.Warn("tunnel process died, relaunching")
				tunnel.stop()
				var relaunchErr error
				tunnel, tunnelURL, relaunchErr = s.establishTunnel(ctx)
				if relaunchErr != nil {
					s.reportFailure(ctx, "tunnel could not be re-established")
					return relaunchErr
				}
				if err := s.client.ReportTunnel(ctx, tunnelURL); err != nil {
					return fmt.Errorf("re-report tunnel: %w", err)
				}
				s.setState(StateReady)
				s.log.Info("tunnel re-established", zap.String("tunnel_url", tunnelURL))
			}

		case <-health.C:
			active, err := s.client.HealthPing(ctx)
			if err != nil {
				s.log.Warn("health ping failed", zap.Error(err))
				continue
			}
			if !active {
				s.log.Info("terminal no longer active, shutting down")
				return nil
			}

		case <-stats.C:
			sample, err := s.usage()
			if err != nil {
				s.log.Warn("usage sample failed", zap.Error(err))
				continue
			}
			if err := s.client.ReportStats(ctx, sample.CPUPercent, sample.MemoryBytes); err != nil {
				s.log.Warn("stats report not delivered", zap.Error(err))
			}

		case <-idle.C:
			if s.idle.Check() {
				s.log.Info("idle budget spent, retiring terminal")
				if err := s.client.ReportIdle(ctx); err != nil {
					s.log.Warn("idle report failed", zap.Error(err))
				}
				return nil
			}
		}
	}
}

// State returns the current phase.
func (s *Supervisor) State() State {
	return s.state
}

func (s *Supervisor) setState(st State) {
	s.state = st
	s.log.Debug("state change", zap.String("state", string(st)))
}

func (s *Supervisor) reportFailure(ctx context.Context, msg string) {
	s.setState(StateFailed)
	if err := s.client.ReportFailure(ctx, msg); err != nil {
		s.log.Error("failure report not delivered", zap.Error(err))
	}
}

// awaitReadiness polls the service's local readiness endpoint within the
// attempt budget.
func (s *Supervisor) awaitReadiness(ctx context.Context) error {
	for attempt := 1; attempt <= s.cfg.ReadinessAttempts; attempt++ {
		if err := s.ready(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.PollInterval):
		}
	}
	return ErrReadinessTimeout
}

func (s *Supervisor) probeReadiness(ctx context.Context) error {
	client := resty.New().SetTimeout(2 * time.Second)
	resp, err := client.R().SetContext(ctx).
		Get(fmt.Sprintf("http://127.0.0.1:%d/ready", s.cfg.ServicePort))
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("readiness endpoint returned %d", resp.StatusCode())
	}
	return nil
}

// establishTunnel launches the tunnel client and scans its output for the
// public URL within the attempt budget.
func (s *Supervisor) establishTunnel(ctx context.Context) (child, string, error) {
	cmd := s.opts.TunnelCommand
	if len(cmd) == 0 {
		cmd = []string{"lt", "--port", strconv.Itoa(s.cfg.ServicePort), "--host", s.opts.TunnelHost}
	}

	tunnel, err := s.start(ctx, cmd[0], cmd[1:]...)
	if err != nil {
		return nil, "", fmt.Errorf("launch tunnel client: %w", err)
	}

	deadline := time.After(time.Duration(s.cfg.TunnelAttempts) * s.cfg.PollInterval)
	for {
		select {
		case <-ctx.Done():
			tunnel.stop()
			return nil, "", ctx.Err()
		case <-deadline:
			tunnel.stop()
			return nil, "", ErrTunnelTimeout
		case line, ok := <-tunnel.output():
			if !ok {
				tunnel.stop()
				return nil, "", ErrTunnelTimeout
			}
			if url, found := ExtractTunnelURL(line, s.opts.TunnelHost); found {
				return tunnel, url, nil
			}
		}
	}
}
