package platform

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/codeexec/public-terminals/internal/infrastructure/config"
	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
	"go.uber.org/zap"
)

const (
	// unitLabel marks containers managed by this orchestrator so the quota
	// check and manual cleanup can find them.
	unitLabel = "app=public-terminals"
	// servicePort is the in-unit port the terminal service listens on.
	servicePort = 8888
)

// DockerAdapter provisions units as containers via the docker CLI.
type DockerAdapter struct {
	cfg  config.PlatformConfig
	log  *logging.Logger
	exec runner
}

// NewDockerAdapter creates a Docker-backed adapter.
func NewDockerAdapter(cfg config.PlatformConfig, logger *logging.Logger) *DockerAdapter {
	return &DockerAdapter{cfg: cfg, log: logger.Named("docker"), exec: cliRunner{}}
}

func (a *DockerAdapter) Backend() string { return "docker" }

// Provision runs a detached container for the terminal and reads back the
// randomly assigned host port. The container is scheduled, not awaited.
func (a *DockerAdapter) Provision(ctx context.Context, spec Spec) (Handle, error) {
	if a.cfg.MaxUnits > 0 {
		count, err := a.countRunning(ctx)
		if err != nil {
			return Handle{}, &Error{Op: "count units", Err: err}
		}
		if count >= a.cfg.MaxUnits {
			return Handle{}, &ProvisioningError{
				Reason: fmt.Sprintf("unit quota reached (%d/%d)", count, a.cfg.MaxUnits),
			}
		}
	}

	name := "terminal-" + spec.TerminalID
	args := []string{
		"run", "-d",
		"--name", name,
		"--network", a.cfg.DockerNetwork,
		"--memory", a.cfg.MemoryLimit,
		"--cpus", strconv.FormatFloat(a.cfg.CPULimit, 'f', -1, 64),
		"-p", fmt.Sprintf("0:%d", servicePort),
		"--label", unitLabel,
		"--label", "terminal_id=" + spec.TerminalID,
		"-e", "TERMINAL_ID=" + spec.TerminalID,
		"-e", "CALLBACK_URL=" + spec.CallbackURL,
		"-e", "CALLBACK_TOKEN=" + spec.CallbackToken,
		"-e", "TUNNEL_HOST=" + spec.TunnelHost,
		"-e", fmt.Sprintf("TERMINAL_TTL=%s", spec.TTL),
		"-e", fmt.Sprintf("TERMINAL_IDLE_TIMEOUT=%s", spec.IdleTimeout),
		a.cfg.Image,
	}

	out, err := a.exec.run(ctx, "", "docker", args...)
	if err != nil {
		return Handle{}, classifyDockerError("run", err)
	}
	containerID := lastLine(out)

	handle := Handle{ID: containerID, Name: name, Backend: "docker"}
	handle.HostPort = a.hostPort(ctx, containerID)

	a.log.Info("provisioned container",
		zap.String("terminal_id", spec.TerminalID),
		zap.String("container_id", containerID),
		zap.String("host_port", handle.HostPort))
	return handle, nil
}

// Terminate stops and removes the container. A container the runtime no
// longer knows about counts as already terminated.
func (a *DockerAdapter) Terminate(ctx context.Context, handle Handle) error {
	if _, err := a.exec.run(ctx, "", "docker", "stop", "--time=10", handle.ID); err != nil && !isNoSuchContainer(err) {
		// Stop failures are tolerated; rm is what actually reclaims.
		a.log.Warn("container stop failed", zap.String("container_id", handle.ID), zap.Error(err))
	}

	if _, err := a.exec.run(ctx, "", "docker", "rm", "-f", handle.ID); err != nil {
		if isNoSuchContainer(err) {
			return nil
		}
		return &Error{Op: "terminate", Err: err}
	}

	a.log.Info("terminated container", zap.String("container_id", handle.ID))
	return nil
}

// Describe maps the container state to a RuntimeStatus.
func (a *DockerAdapter) Describe(ctx context.Context, handle Handle) (RuntimeStatus, error) {
	out, err := a.exec.run(ctx, "", "docker", "inspect", "--format", "{{.State.Status}}", handle.ID)
	if err != nil {
		if isNoSuchContainer(err) {
			return StatusGone, nil
		}
		return StatusUnknown, &Error{Op: "describe", Err: err}
	}

	switch strings.TrimSpace(out) {
	case "running", "restarting", "created", "paused":
		return StatusRunning, nil
	case "exited", "dead", "removing":
		return StatusExited, nil
	default:
		return StatusUnknown, nil
	}
}

func (a *DockerAdapter) countRunning(ctx context.Context) (int, error) {
	out, err := a.exec.run(ctx, "", "docker", "ps",
		"--filter", "label="+unitLabel,
		"--filter", "status=running",
		"--format", "{{.ID}}")
	if err != nil {
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	return len(strings.Split(out, "\n")), nil
}

// hostPort reads back the host port mapped to the service port. Best effort:
// an empty port only disables direct host addressing, not the tunnel.
func (a *DockerAdapter) hostPort(ctx context.Context, containerID string) string {
	out, err := a.exec.run(ctx, "", "docker", "port", containerID, strconv.Itoa(servicePort))
	if err != nil {
		a.log.Warn("failed to read mapped host port", zap.String("container_id", containerID), zap.Error(err))
		return ""
	}
	// Output is "0.0.0.0:PORT" (possibly one line per address family).
	line := lastLine(out)
	if idx := strings.LastIndex(line, ":"); idx >= 0 {
		return line[idx+1:]
	}
	return ""
}

// classifyDockerError separates permanent provisioning failures from
// transient daemon faults.
func classifyDockerError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{
		"no such image",
		"pull access denied",
		"not found: manifest unknown",
		"invalid memory",
		"invalid cpus",
		"conflict. the container name",
	} {
		if strings.Contains(msg, permanent) {
			return &ProvisioningError{Reason: op, Err: err}
		}
	}
	return &Error{Op: op, Err: err}
}

func isNoSuchContainer(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such container") || strings.Contains(msg, "is not running")
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
