package supervisor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
)

func TestClientReportTunnel(t *testing.T) {
	var got tunnelReport
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/callbacks/tunnel", r.URL.Path)
		auth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/v1/callbacks", "term_A", "tok123", logging.NewNop())
	require.NoError(t, c.ReportTunnel(context.Background(), "https://abc.loca.lt"))

	assert.Equal(t, "term_A", got.TerminalID)
	assert.Equal(t, "https://abc.loca.lt", got.TunnelURL)
	assert.Equal(t, "Bearer tok123", auth)
}

func TestClientReportStats(t *testing.T) {
	var got statsReport
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/callbacks/stats", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/api/v1/callbacks", "term_A", "", logging.NewNop())
	require.NoError(t, c.ReportStats(context.Background(), 42.5, 1<<30))

	assert.Equal(t, "term_A", got.TerminalID)
	assert.Equal(t, 42.5, got.CPUPercent)
	assert.Equal(t, float64(1<<30), got.MemoryBytes)
}

func TestClientHealthPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/callbacks/health", r.URL.Path)
		_ = json.NewEncoder(w).Encode(healthResponse{Active: false})
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/callbacks/", "term_A", "", logging.NewNop())
	active, err := c.HealthPing(context.Background())
	require.NoError(t, err)
	assert.False(t, active)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "term_A", "", logging.NewNop())
	require.NoError(t, c.ReportFailure(context.Background(), "tunnel died"))
	assert.Equal(t, int32(3), calls.Load())
}

func TestClientSurfacesRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"unknown terminal"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "term_missing", "", logging.NewNop())
	err := c.ReportIdle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
