// Package config loads application configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all orchestrator configuration.
type Config struct {
	Server     ServerConfig
	Platform   PlatformConfig
	Terminal   TerminalConfig
	Sweep      SweepConfig
	Supervisor SupervisorConfig
	Store      StoreConfig
	Logging    LogConfig
	RateLimit  RateLimitConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
	// BaseURL is the address units use to reach the callback endpoints.
	BaseURL string `envconfig:"API_BASE_URL" default:"http://localhost:8000"`
	// CallbackSecret signs per-terminal callback tokens. Empty disables
	// callback authentication (local development only).
	CallbackSecret string `envconfig:"CALLBACK_SECRET" default:""`
	// AllowOrigins lists browser origins allowed to call the API.
	AllowOrigins []string `envconfig:"CORS_ALLOW_ORIGINS" default:"*"`
}

// PlatformConfig selects and parameterizes the backing runtime.
type PlatformConfig struct {
	// Backend is "docker" or "kubernetes".
	Backend       string  `envconfig:"PLATFORM_BACKEND" default:"docker"`
	Image         string  `envconfig:"TERMINAL_IMAGE" default:"terminal-unit:latest"`
	DockerNetwork string  `envconfig:"DOCKER_NETWORK" default:"public-terminals_default"`
	K8sNamespace  string  `envconfig:"K8S_NAMESPACE" default:"default"`
	MemoryLimit   string  `envconfig:"UNIT_MEMORY_LIMIT" default:"1g"`
	CPULimit      float64 `envconfig:"UNIT_CPU_LIMIT" default:"1.0"`
	// MaxUnits caps concurrently provisioned units per host. Zero disables
	// the quota check.
	MaxUnits int `envconfig:"MAX_UNITS_PER_HOST" default:"240"`
	// ProvisionAttempts bounds retries of transient runtime-API failures.
	ProvisionAttempts int           `envconfig:"PROVISION_ATTEMPTS" default:"3"`
	ProvisionBackoff  time.Duration `envconfig:"PROVISION_BACKOFF" default:"500ms"`
}

// TerminalConfig holds lifecycle parameters.
type TerminalConfig struct {
	TTL time.Duration `envconfig:"TERMINAL_TTL" default:"24h"`
	// StartupBudget bounds how long a record may sit in pending/starting
	// before the sweeper fails it (readiness + tunnel budgets combined).
	StartupBudget time.Duration `envconfig:"TERMINAL_STARTUP_BUDGET" default:"3m"`
	IdleTimeout   time.Duration `envconfig:"TERMINAL_IDLE_TIMEOUT" default:"1h"`
	TunnelHost    string        `envconfig:"TUNNEL_HOST" default:"https://localtunnel.me"`
}

// SweepConfig holds reclamation scheduler configuration.
type SweepConfig struct {
	Interval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`
	// OrphanDetection enables describe-based detection of units that died
	// without reporting.
	OrphanDetection bool `envconfig:"SWEEP_ORPHAN_DETECTION" default:"true"`
}

// SupervisorConfig holds in-unit supervisor configuration. These values are
// read inside the unit, not by the orchestrator.
type SupervisorConfig struct {
	ServicePort       int           `envconfig:"SERVICE_PORT" default:"8888"`
	ReadinessAttempts int           `envconfig:"READINESS_ATTEMPTS" default:"30"`
	TunnelAttempts    int           `envconfig:"TUNNEL_ATTEMPTS" default:"60"`
	PollInterval      time.Duration `envconfig:"POLL_INTERVAL" default:"1s"`
	TickInterval      time.Duration `envconfig:"TICK_INTERVAL" default:"60s"`
	HealthInterval    time.Duration `envconfig:"HEALTH_INTERVAL" default:"60s"`
	IdleCheckInterval time.Duration `envconfig:"IDLE_CHECK_INTERVAL" default:"60s"`
	StatsInterval     time.Duration `envconfig:"STATS_INTERVAL" default:"60s"`
}

// StoreConfig holds persistence configuration.
type StoreConfig struct {
	// Driver is "sqlite" or "memory".
	Driver string `envconfig:"STORE_DRIVER" default:"sqlite"`
	Path   string `envconfig:"STORE_PATH" default:"/var/lib/public-terminals/terminals.db"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns defaults.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8000",
			Host:         "0.0.0.0",
			BaseURL:      "http://localhost:8000",
			AllowOrigins: []string{"*"},
		},
		Platform: PlatformConfig{
			Backend:           "docker",
			Image:             "terminal-unit:latest",
			DockerNetwork:     "public-terminals_default",
			K8sNamespace:      "default",
			MemoryLimit:       "1g",
			CPULimit:          1.0,
			MaxUnits:          240,
			ProvisionAttempts: 3,
			ProvisionBackoff:  500 * time.Millisecond,
		},
		Terminal: TerminalConfig{
			TTL:           24 * time.Hour,
			StartupBudget: 3 * time.Minute,
			IdleTimeout:   time.Hour,
			TunnelHost:    "https://localtunnel.me",
		},
		Sweep: SweepConfig{
			Interval:        5 * time.Minute,
			OrphanDetection: true,
		},
		Supervisor: SupervisorConfig{
			ServicePort:       8888,
			ReadinessAttempts: 30,
			TunnelAttempts:    60,
			PollInterval:      time.Second,
			TickInterval:      60 * time.Second,
			HealthInterval:    60 * time.Second,
			IdleCheckInterval: 60 * time.Second,
			StatsInterval:     60 * time.Second,
		},
		Store: StoreConfig{
			Driver: "sqlite",
			Path:   "/var/lib/public-terminals/terminals.db",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// Validate rejects configurations the orchestrator cannot run with.
func (c *Config) Validate() error {
	switch c.Platform.Backend {
	case "docker", "kubernetes":
	default:
		return fmt.Errorf("invalid PLATFORM_BACKEND %q: must be docker or kubernetes", c.Platform.Backend)
	}
	switch c.Store.Driver {
	case "sqlite", "memory":
	default:
		return fmt.Errorf("invalid STORE_DRIVER %q: must be sqlite or memory", c.Store.Driver)
	}
	if c.Platform.ProvisionAttempts < 1 {
		return fmt.Errorf("PROVISION_ATTEMPTS must be at least 1")
	}
	if c.Terminal.TTL < 0 {
		return fmt.Errorf("TERMINAL_TTL must not be negative")
	}
	return nil
}
