package supervisor

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

var termSignal = syscall.SIGTERM

// process wraps a supervised child process. Its stdout and stderr are merged
// into a line channel so callers can scan output without blocking the child.
type process struct {
	cmd   *exec.Cmd
	lines chan string
	done  chan struct{}

	exited atomic.Bool
	errMu  sync.Mutex
	err    error
}

func startProcess(ctx context.Context, name string, args ...string) (*process, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &process{
		cmd:   cmd,
		lines: make(chan string, 64),
		done:  make(chan struct{}),
	}

	var readers sync.WaitGroup
	for _, pipe := range []io.Reader{stdout, stderr} {
		readers.Add(1)
		go func(r io.Reader) {
			defer readers.Done()
			scanner := bufio.NewScanner(r)
			for scanner.Scan() {
				select {
				case p.lines <- scanner.Text():
				default:
					// Nobody is consuming; drop rather than stall the child.
				}
			}
		}(pipe)
	}

	go func() {
		readers.Wait()
		err := cmd.Wait()
		p.errMu.Lock()
		p.err = err
		p.errMu.Unlock()
		p.exited.Store(true)
		close(p.done)
	}()

	return p, nil
}

// alive reports whether the process is still running.
func (p *process) alive() bool {
	return !p.exited.Load()
}

// output is the merged stdout/stderr line stream.
func (p *process) output() <-chan string {
	return p.lines
}

// stop terminates the process, escalating from SIGTERM to SIGKILL.
func (p *process) stop() {
	if !p.alive() {
		return
	}
	_ = p.cmd.Process.Signal(termSignal)
	select {
	case <-p.done:
	case <-time.After(5 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

// exitErr returns the process exit error after it has terminated.
func (p *process) exitErr() error {
	p.errMu.Lock()
	defer p.errMu.Unlock()
	return p.err
}
