package supervisor

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ActivityProbe reports whether the terminal is in use right now.
type ActivityProbe func() (bool, error)

// IdleMonitor tracks the last observed activity and decides when the idle
// budget is spent. A zero timeout disables idle shutdown.
type IdleMonitor struct {
	probe      ActivityProbe
	timeout    time.Duration
	lastActive time.Time
	now        func() time.Time
}

// NewIdleMonitor creates a monitor; a nil probe defaults to counting
// established connections on the service port.
func NewIdleMonitor(probe ActivityProbe, servicePort int, timeout time.Duration) *IdleMonitor {
	if probe == nil {
		probe = TCPActivityProbe(servicePort)
	}
	m := &IdleMonitor{
		probe:   probe,
		timeout: timeout,
		now:     time.Now,
	}
	m.lastActive = m.now()
	return m
}

// Check probes for activity and reports whether the idle budget is exceeded.
// Probe errors count as activity: never retire a unit on a broken probe.
func (m *IdleMonitor) Check() bool {
	if m.timeout <= 0 {
		return false
	}
	active, err := m.probe()
	if err != nil || active {
		m.lastActive = m.now()
		return false
	}
	return m.now().Sub(m.lastActive) > m.timeout
}

// TCPActivityProbe detects established non-loopback connections on the given
// local port by reading the kernel's TCP tables.
func TCPActivityProbe(port int) ActivityProbe {
	return func() (bool, error) {
		for _, table := range []string{"/proc/net/tcp", "/proc/net/tcp6"} {
			active, err := scanTCPTable(table, port)
			if err != nil {
				continue
			}
			if active {
				return true, nil
			}
		}
		return false, nil
	}
}

const tcpEstablished = "01"

func scanTCPTable(path string, port int) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	wantPort := fmt.Sprintf("%04X", port)
	scanner := bufio.NewScanner(f)
	scanner.Scan() // header

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 {
			continue
		}
		local, remote, state := fields[1], fields[2], fields[3]
		if state != tcpEstablished {
			continue
		}
		if !strings.HasSuffix(local, ":"+wantPort) {
			continue
		}
		if isLoopback(remote) {
			continue
		}
		return true, nil
	}
	return false, scanner.Err()
}

// isLoopback matches the hex-encoded remote address against 127.0.0.0/8 and
// ::1 as they appear in the proc tables.
func isLoopback(hexAddr string) bool {
	addr, _, found := strings.Cut(hexAddr, ":")
	if !found {
		return false
	}
	switch len(addr) {
	case 8: // IPv4, little-endian per byte group
		b, err := strconv.ParseUint(addr[6:8], 16, 8)
		if err != nil {
			return false
		}
		return b == 127
	case 32: // IPv6
		return strings.EqualFold(addr, "00000000000000000000000001000000") ||
			strings.EqualFold(addr, "0000000000000000FFFF00000100007F")
	}
	return false
}
