package supervisor

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIdleMonitorStaysActiveWhileProbed(t *testing.T) {
	m := NewIdleMonitor(func() (bool, error) { return true, nil }, 8888, time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }

	assert.False(t, m.Check())
	now = now.Add(time.Hour)
	// Activity right now resets the budget regardless of elapsed time.
	assert.False(t, m.Check())
}

func TestIdleMonitorExpiresAfterBudget(t *testing.T) {
	m := NewIdleMonitor(func() (bool, error) { return false, nil }, 8888, time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }
	m.lastActive = now

	assert.False(t, m.Check())
	now = now.Add(2 * time.Minute)
	assert.True(t, m.Check())
}

func TestIdleMonitorZeroTimeoutDisables(t *testing.T) {
	m := NewIdleMonitor(func() (bool, error) { return false, nil }, 8888, 0)
	m.lastActive = time.Now().Add(-24 * time.Hour)
	assert.False(t, m.Check())
}

func TestIdleMonitorProbeErrorCountsAsActivity(t *testing.T) {
	m := NewIdleMonitor(func() (bool, error) { return false, errors.New("probe broken") }, 8888, time.Minute)
	now := time.Now()
	m.now = func() time.Time { return now }
	m.lastActive = now.Add(-2 * time.Minute)

	assert.False(t, m.Check())
}

func TestIsLoopback(t *testing.T) {
	// 0100007F is 127.0.0.1 in proc table byte order.
	assert.True(t, isLoopback("0100007F:1F90"))
	// 0101A8C0 is 192.168.1.1.
	assert.False(t, isLoopback("0101A8C0:1F90"))
	assert.True(t, isLoopback("00000000000000000000000001000000:1F90"))
	assert.False(t, isLoopback("garbage"))
}
