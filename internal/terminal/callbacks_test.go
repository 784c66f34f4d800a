package terminal

import (
	"context"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/codeexec/public-terminals/internal/platform"
)

func seedStarting(t *testing.T, m *Manager, terminalID string) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, m.store.Create(context.Background(), &Terminal{
		ID:        terminalID,
		Status:    StatusStarting,
		Handle:    &platform.Handle{ID: "c1", Name: "terminal-" + terminalID, Backend: "docker"},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(24 * time.Hour),
	}))
}

func TestReportTunnelStartsTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	seedStarting(t, m, "term_A")

	require.NoError(t, m.ReportTunnel(context.Background(), "term_A", "https://abc.localtunnel.me"))

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
	assert.Equal(t, "https://abc.localtunnel.me", got.TunnelURL)
	assert.NotNil(t, got.LastSeenAt)
	assert.Nil(t, got.DeletedAt)
}

func TestReportTunnelReplayIsNoOp(t *testing.T) {
	m, _ := newTestManager(t)
	seedStarting(t, m, "term_A")

	require.NoError(t, m.ReportTunnel(context.Background(), "term_A", "https://abc.localtunnel.me"))
	first, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)

	require.NoError(t, m.ReportTunnel(context.Background(), "term_A", "https://abc.localtunnel.me"))
	second, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)

	assert.Equal(t, StatusStarted, second.Status)
	assert.True(t, second.UpdatedAt.Equal(first.UpdatedAt))
}

func TestReportTunnelReplacesURLAfterRelaunch(t *testing.T) {
	m, _ := newTestManager(t)
	seedStarting(t, m, "term_A")

	require.NoError(t, m.ReportTunnel(context.Background(), "term_A", "https://abc.localtunnel.me"))
	require.NoError(t, m.ReportTunnel(context.Background(), "term_A", "https://new.localtunnel.me"))

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
	assert.Equal(t, "https://new.localtunnel.me", got.TunnelURL)
}

func TestReportTunnelNeverResurrects(t *testing.T) {
	m, adapter := newTestManager(t)
	seedStarted(t, m, "term_A")
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, m.Delete(context.Background(), "term_A"))

	// A late tunnel report against the deleted record is accepted and
	// discarded.
	require.NoError(t, m.ReportTunnel(context.Background(), "term_A", "https://late.localtunnel.me"))

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Equal(t, "https://abc.localtunnel.me", got.TunnelURL)
}

func TestReportTunnelUnknownTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	assert.ErrorIs(t, m.ReportTunnel(context.Background(), "term_missing", "https://x.localtunnel.me"), ErrNotFound)
}

func TestReportFailureMarksFailedAndReclaimsUnit(t *testing.T) {
	m, adapter := newTestManager(t)
	seedStarted(t, m, "term_A")
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, m.ReportFailure(context.Background(), "term_A", "tunnel process kept dying"))

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "tunnel process kept dying", got.ErrorMessage)
	assert.NotNil(t, got.DeletedAt)
	adapter.AssertExpectations(t)
}

func TestReportFailureAfterDeleteIsNoOp(t *testing.T) {
	m, adapter := newTestManager(t)
	seedStarted(t, m, "term_A")
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, m.Delete(context.Background(), "term_A"))

	require.NoError(t, m.ReportFailure(context.Background(), "term_A", "late report"))

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.Empty(t, got.ErrorMessage)
	adapter.AssertNumberOfCalls(t, "Terminate", 1)
}

func TestHealthPing(t *testing.T) {
	m, _ := newTestManager(t)
	seedStarted(t, m, "term_A")

	active, err := m.HealthPing(context.Background(), "term_A")
	require.NoError(t, err)
	assert.True(t, active)

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.NotNil(t, got.LastSeenAt)
}

func TestHealthPingAgainstDeletedTerminal(t *testing.T) {
	m, adapter := newTestManager(t)
	seedStarted(t, m, "term_A")
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, m.Delete(context.Background(), "term_A"))

	// The supervisor learns its terminal is gone and shuts itself down.
	active, err := m.HealthPing(context.Background(), "term_A")
	require.NoError(t, err)
	assert.False(t, active)
}

func TestReportStatsPublishesUsage(t *testing.T) {
	m, _ := newTestManager(t)
	seedStarted(t, m, "term_A")

	require.NoError(t, m.ReportStats(context.Background(), "term_A", 42.5, 1<<30))

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.NotNil(t, got.LastSeenAt)

	assert.Equal(t, 42.5, promtest.ToFloat64(m.metrics.UnitCPUPercent.WithLabelValues("term_A")))
	assert.Equal(t, float64(1<<30), promtest.ToFloat64(m.metrics.UnitMemoryBytes.WithLabelValues("term_A")))
}

func TestReportStatsClearedOnRetirement(t *testing.T) {
	m, adapter := newTestManager(t)
	seedStarted(t, m, "term_A")
	require.NoError(t, m.ReportStats(context.Background(), "term_A", 42.5, 1<<30))

	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()
	require.NoError(t, m.Delete(context.Background(), "term_A"))

	assert.Zero(t, promtest.CollectAndCount(m.metrics.UnitCPUPercent))
	assert.Zero(t, promtest.CollectAndCount(m.metrics.UnitMemoryBytes))

	// A late sample against the retired record is discarded, not republished.
	require.NoError(t, m.ReportStats(context.Background(), "term_A", 10, 10))
	assert.Zero(t, promtest.CollectAndCount(m.metrics.UnitCPUPercent))
}

func TestReportStatsUnknownTerminal(t *testing.T) {
	m, _ := newTestManager(t)
	assert.ErrorIs(t, m.ReportStats(context.Background(), "term_missing", 1, 1), ErrNotFound)
}

func TestReportIdleStopsTerminal(t *testing.T) {
	m, adapter := newTestManager(t)
	seedStarted(t, m, "term_A")
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, m.ReportIdle(context.Background(), "term_A"))

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusStopped, got.Status)
	assert.NotNil(t, got.DeletedAt)
	adapter.AssertExpectations(t)
}

func TestReportIdleIsIdempotent(t *testing.T) {
	m, adapter := newTestManager(t)
	seedStarted(t, m, "term_A")
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()

	require.NoError(t, m.ReportIdle(context.Background(), "term_A"))
	require.NoError(t, m.ReportIdle(context.Background(), "term_A"))

	adapter.AssertNumberOfCalls(t, "Terminate", 1)
}
