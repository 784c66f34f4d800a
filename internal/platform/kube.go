package platform

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeexec/public-terminals/internal/infrastructure/config"
	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
	"go.uber.org/zap"
)

// KubeAdapter provisions units as pods via kubectl. One pod per terminal,
// never restarted: a dead pod is reclaimed by the sweeper, not revived.
type KubeAdapter struct {
	cfg  config.PlatformConfig
	log  *logging.Logger
	exec runner
}

// NewKubeAdapter creates a Kubernetes-backed adapter.
func NewKubeAdapter(cfg config.PlatformConfig, logger *logging.Logger) *KubeAdapter {
	return &KubeAdapter{cfg: cfg, log: logger.Named("kube"), exec: cliRunner{}}
}

func (a *KubeAdapter) Backend() string { return "kubernetes" }

// Provision applies a pod manifest. Scheduling is asynchronous; the pod
// reports readiness through the callback protocol like any other unit.
func (a *KubeAdapter) Provision(ctx context.Context, spec Spec) (Handle, error) {
	name := podName(spec.TerminalID)
	manifest := a.podManifest(name, spec)

	out, err := a.exec.run(ctx, manifest, "kubectl", "apply",
		"--namespace", a.cfg.K8sNamespace, "-f", "-")
	if err != nil {
		return Handle{}, classifyKubeError("apply", err)
	}

	a.log.Info("provisioned pod",
		zap.String("terminal_id", spec.TerminalID),
		zap.String("pod", name),
		zap.String("kubectl", out))
	return Handle{ID: name, Name: name, Backend: "kubernetes"}, nil
}

// Terminate deletes the pod. --ignore-not-found makes removal idempotent.
func (a *KubeAdapter) Terminate(ctx context.Context, handle Handle) error {
	_, err := a.exec.run(ctx, "", "kubectl", "delete", "pod", handle.ID,
		"--namespace", a.cfg.K8sNamespace,
		"--ignore-not-found=true",
		"--grace-period=10")
	if err != nil {
		return &Error{Op: "terminate", Err: err}
	}
	a.log.Info("terminated pod", zap.String("pod", handle.ID))
	return nil
}

// Describe maps the pod phase to a RuntimeStatus.
func (a *KubeAdapter) Describe(ctx context.Context, handle Handle) (RuntimeStatus, error) {
	out, err := a.exec.run(ctx, "", "kubectl", "get", "pod", handle.ID,
		"--namespace", a.cfg.K8sNamespace,
		"-o", "jsonpath={.status.phase}")
	if err != nil {
		if isNotFoundPod(err) {
			return StatusGone, nil
		}
		return StatusUnknown, &Error{Op: "describe", Err: err}
	}

	switch strings.TrimSpace(out) {
	case "Pending", "Running":
		return StatusRunning, nil
	case "Succeeded", "Failed":
		return StatusExited, nil
	default:
		return StatusUnknown, nil
	}
}

// podName derives an RFC 1123 pod name from the terminal id. IDs are
// uppercase ULIDs with a `term_` prefix, neither of which is legal in a DNS
// label, so the name is lowercased and non-alphanumerics collapse to
// hyphens. The real id travels in the terminal-id label and env untouched.
func podName(terminalID string) string {
	var b strings.Builder
	b.WriteString("terminal-")
	for _, r := range strings.ToLower(terminalID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

func (a *KubeAdapter) podManifest(name string, spec Spec) string {
	var b strings.Builder
	fmt.Fprintf(&b, `apiVersion: v1
kind: Pod
metadata:
  name: %s
  labels:
    app: public-terminals
    terminal-id: %q
spec:
  restartPolicy: Never
  containers:
  - name: terminal
    image: %s
    ports:
    - containerPort: %d
    resources:
      requests:
        cpu: %q
        memory: %q
      limits:
        cpu: %q
        memory: %q
    env:
    - name: TERMINAL_ID
      value: %q
    - name: CALLBACK_URL
      value: %q
    - name: CALLBACK_TOKEN
      value: %q
    - name: TUNNEL_HOST
      value: %q
    - name: TERMINAL_TTL
      value: %q
    - name: TERMINAL_IDLE_TIMEOUT
      value: %q
`,
		name, spec.TerminalID,
		a.cfg.Image, servicePort,
		cpuQuantity(a.cfg.CPULimit), memoryQuantity(a.cfg.MemoryLimit),
		cpuQuantity(a.cfg.CPULimit), memoryQuantity(a.cfg.MemoryLimit),
		spec.TerminalID, spec.CallbackURL, spec.CallbackToken,
		spec.TunnelHost, spec.TTL.String(), spec.IdleTimeout.String())
	return b.String()
}

func classifyKubeError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, permanent := range []string{
		"exceeded quota",
		"forbidden",
		"invalid",
		"alreadyexists",
	} {
		if strings.Contains(msg, permanent) {
			return &ProvisioningError{Reason: op, Err: err}
		}
	}
	return &Error{Op: op, Err: err}
}

func isNotFoundPod(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}

// cpuQuantity renders the CPU limit as a Kubernetes quantity.
func cpuQuantity(cpus float64) string {
	millis := int(cpus * 1000)
	return fmt.Sprintf("%dm", millis)
}

// memoryQuantity converts Docker-style sizes ("1g", "512m") to Kubernetes
// quantities ("1Gi", "512Mi"); values already in quantity form pass through.
func memoryQuantity(limit string) string {
	lower := strings.ToLower(limit)
	switch {
	case strings.HasSuffix(lower, "g"):
		return strings.TrimSuffix(limit, lower[len(lower)-1:]) + "Gi"
	case strings.HasSuffix(lower, "m"):
		return strings.TrimSuffix(limit, lower[len(lower)-1:]) + "Mi"
	default:
		return limit
	}
}
