package terminal

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
	"github.com/codeexec/public-terminals/internal/infrastructure/monitoring"
	"github.com/codeexec/public-terminals/internal/platform"
	"github.com/codeexec/public-terminals/tests/helpers/testutil"
)

func newTestSweeper(t *testing.T) (*Sweeper, *Manager, *testutil.MockAdapter) {
	t.Helper()
	adapter := &testutil.MockAdapter{}
	adapter.On("Backend").Return("docker").Maybe()
	cfg := testConfig()
	m := NewManager(NewMemoryStore(), adapter, cfg, logging.NewNop(), monitoring.New())
	t.Cleanup(m.Close)
	s := NewSweeper(m, adapter, cfg, logging.NewNop(), m.metrics)
	return s, m, adapter
}

func seed(t *testing.T, m *Manager, rec *Terminal) {
	t.Helper()
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = rec.CreatedAt
	}
	require.NoError(t, m.store.Create(context.Background(), rec))
}

func TestSweepExpiresPastTTL(t *testing.T) {
	s, m, adapter := newTestSweeper(t)
	now := time.Now().UTC()
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStarted,
		Handle:    &platform.Handle{ID: "c1", Name: "terminal-term_A", Backend: "docker"},
		CreatedAt: now.Add(-25 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	})
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()

	s.Sweep(context.Background())

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
	assert.NotNil(t, got.DeletedAt)
	adapter.AssertExpectations(t)
}

func TestSweepExpiresZeroTTLImmediately(t *testing.T) {
	s, m, adapter := newTestSweeper(t)
	adapter.On("Provision", mock.Anything, mock.Anything).
		Return(platform.Handle{ID: "c1", Backend: "docker"}, nil).Maybe()
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Maybe()
	m.cfg.Terminal.TTL = 0
	now := time.Now().UTC()
	m.now = func() time.Time { return now.Add(-time.Second) }

	rec, err := m.Create(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, rec.ExpiresAt.Equal(rec.CreatedAt))

	s.Sweep(context.Background())

	got, err := m.Get(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, got.Status)
}

func TestSweepFailsStuckStartup(t *testing.T) {
	s, m, _ := newTestSweeper(t)
	now := time.Now().UTC()
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStarting,
		CreatedAt: now.Add(-10 * time.Minute),
		ExpiresAt: now.Add(23 * time.Hour),
	})

	s.Sweep(context.Background())

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "startup did not complete")
}

func TestSweepLeavesHealthyStartupAlone(t *testing.T) {
	s, m, _ := newTestSweeper(t)
	now := time.Now().UTC()
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStarting,
		CreatedAt: now.Add(-time.Minute),
		ExpiresAt: now.Add(23 * time.Hour),
	})

	s.Sweep(context.Background())

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusStarting, got.Status)
}

func TestSweepDetectsOrphanedUnit(t *testing.T) {
	s, m, adapter := newTestSweeper(t)
	now := time.Now().UTC()
	handle := platform.Handle{ID: "c1", Name: "terminal-term_A", Backend: "docker"}
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStarted, Handle: &handle,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(23 * time.Hour),
	})
	adapter.On("Describe", mock.Anything, handle).Return(platform.StatusGone, nil).Once()
	adapter.On("Terminate", mock.Anything, handle).Return(nil).Once()

	s.Sweep(context.Background())

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "gone")
	adapter.AssertExpectations(t)
}

func TestSweepLeavesRunningUnitAlone(t *testing.T) {
	s, m, adapter := newTestSweeper(t)
	now := time.Now().UTC()
	handle := platform.Handle{ID: "c1", Name: "terminal-term_A", Backend: "docker"}
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStarted, Handle: &handle,
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(23 * time.Hour),
	})
	adapter.On("Describe", mock.Anything, handle).Return(platform.StatusRunning, nil).Once()

	s.Sweep(context.Background())

	got, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, got.Status)
}

func TestSweepSkipsOrphanCheckWhenDisabled(t *testing.T) {
	s, m, adapter := newTestSweeper(t)
	s.cfg.OrphanDetection = false
	now := time.Now().UTC()
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStarted,
		Handle:    &platform.Handle{ID: "c1", Backend: "docker"},
		CreatedAt: now.Add(-time.Hour),
		ExpiresAt: now.Add(23 * time.Hour),
	})

	s.Sweep(context.Background())
	adapter.AssertNotCalled(t, "Describe")
}

func TestSweepDescribeErrorDoesNotAbortCycle(t *testing.T) {
	s, m, adapter := newTestSweeper(t)
	now := time.Now().UTC()
	broken := platform.Handle{ID: "c1", Name: "terminal-term_A", Backend: "docker"}
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStarted, Handle: &broken,
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(23 * time.Hour),
	})
	seed(t, m, &Terminal{
		ID: "term_B", Status: StatusStarted,
		Handle:    &platform.Handle{ID: "c2", Name: "terminal-term_B", Backend: "docker"},
		CreatedAt: now.Add(-25 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	})
	adapter.On("Describe", mock.Anything, broken).Return(platform.StatusUnknown, errors.New("daemon timeout")).Once()
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()

	s.Sweep(context.Background())

	// term_A untouched despite the describe error; term_B still expired.
	a, err := m.Get(context.Background(), "term_A")
	require.NoError(t, err)
	assert.Equal(t, StatusStarted, a.Status)
	b, err := m.Get(context.Background(), "term_B")
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, b.Status)
}

func TestSweepRetriesPendingTerminations(t *testing.T) {
	s, m, adapter := newTestSweeper(t)
	now := time.Now().UTC()
	deleted := now.Add(-time.Minute)
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStopped,
		Handle:    &platform.Handle{ID: "c1", Name: "terminal-term_A", Backend: "docker"},
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(23 * time.Hour),
		DeletedAt: &deleted,
	})
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()

	s.Sweep(context.Background())

	pending, err := m.List(context.Background(), Filter{PendingTermination: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
	adapter.AssertExpectations(t)
}

func TestSweepTerminationFailureRetriesNextCycle(t *testing.T) {
	s, m, adapter := newTestSweeper(t)
	now := time.Now().UTC()
	deleted := now.Add(-time.Minute)
	seed(t, m, &Terminal{
		ID: "term_A", Status: StatusStopped,
		Handle:    &platform.Handle{ID: "c1", Name: "terminal-term_A", Backend: "docker"},
		CreatedAt: now.Add(-time.Hour), ExpiresAt: now.Add(23 * time.Hour),
		DeletedAt: &deleted,
	})
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(errors.New("daemon unreachable")).Once()
	adapter.On("Terminate", mock.Anything, mock.Anything).Return(nil).Once()

	s.Sweep(context.Background())
	pending, err := m.List(context.Background(), Filter{PendingTermination: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)

	s.Sweep(context.Background())
	pending, err = m.List(context.Background(), Filter{PendingTermination: true})
	require.NoError(t, err)
	assert.Empty(t, pending)
	adapter.AssertNumberOfCalls(t, "Terminate", 2)
}
