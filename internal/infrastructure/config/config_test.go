package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "8000", cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "http://localhost:8000", cfg.Server.BaseURL)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowOrigins)

	assert.Equal(t, "docker", cfg.Platform.Backend)
	assert.Equal(t, 3, cfg.Platform.ProvisionAttempts)
	assert.Equal(t, 240, cfg.Platform.MaxUnits)

	assert.Equal(t, 24*time.Hour, cfg.Terminal.TTL)
	assert.Equal(t, 3*time.Minute, cfg.Terminal.StartupBudget)

	assert.Equal(t, 5*time.Minute, cfg.Sweep.Interval)
	assert.True(t, cfg.Sweep.OrphanDetection)

	assert.Equal(t, 30, cfg.Supervisor.ReadinessAttempts)
	assert.Equal(t, 60, cfg.Supervisor.TunnelAttempts)

	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.Development)

	require.NoError(t, cfg.Validate())
}

func TestLoadWithEnvironmentVariables(t *testing.T) {
	envVars := map[string]string{
		"PORT":             "9000",
		"API_BASE_URL":     "http://orchestrator:9000",
		"PLATFORM_BACKEND": "kubernetes",
		"K8S_NAMESPACE":    "terminals",
		"TERMINAL_TTL":     "1h",
		"SWEEP_INTERVAL":   "30s",
		"STORE_DRIVER":     "memory",
		"LOG_LEVEL":        "debug",
	}
	for key, value := range envVars {
		t.Setenv(key, value)
	}

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Server.Port)
	assert.Equal(t, "http://orchestrator:9000", cfg.Server.BaseURL)
	assert.Equal(t, "kubernetes", cfg.Platform.Backend)
	assert.Equal(t, "terminals", cfg.Platform.K8sNamespace)
	assert.Equal(t, time.Hour, cfg.Terminal.TTL)
	assert.Equal(t, 30*time.Second, cfg.Sweep.Interval)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidateRejectsUnknownBackend(t *testing.T) {
	cfg := Default()
	cfg.Platform.Backend = "podman"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownStoreDriver(t *testing.T) {
	cfg := Default()
	cfg.Store.Driver = "postgres"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsZeroProvisionAttempts(t *testing.T) {
	cfg := Default()
	cfg.Platform.ProvisionAttempts = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadRejectsInvalidEnvironment(t *testing.T) {
	t.Setenv("PLATFORM_BACKEND", "vmware")
	_, err := Load()
	assert.Error(t, err)
}
