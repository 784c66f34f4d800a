package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/codeexec/public-terminals/internal/infrastructure/config"
	"github.com/codeexec/public-terminals/internal/infrastructure/logging"
	"github.com/codeexec/public-terminals/internal/supervisor"
)

// The supervisor is the unit's pid-1 equivalent: it reads its identity and
// callback target from the environment the platform adapter injected.
func main() {
	serviceCmd := flag.String("service", "terminal-service", "terminal service command line")
	tunnelCmd := flag.String("tunnel", "", "tunnel client command line (default: localtunnel)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	terminalID := os.Getenv("TERMINAL_ID")
	callbackURL := os.Getenv("CALLBACK_URL")
	if terminalID == "" || callbackURL == "" {
		log.Fatal("TERMINAL_ID and CALLBACK_URL must be set")
	}

	idleTimeout := cfg.Terminal.IdleTimeout
	if raw := os.Getenv("TERMINAL_IDLE_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			idleTimeout = d
		}
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	client := supervisor.NewClient(callbackURL, terminalID, os.Getenv("CALLBACK_TOKEN"), logger)
	sup := supervisor.New(supervisor.Options{
		TerminalID:     terminalID,
		TunnelHost:     os.Getenv("TUNNEL_HOST"),
		IdleTimeout:    idleTimeout,
		ServiceCommand: strings.Fields(*serviceCmd),
		TunnelCommand:  strings.Fields(*tunnelCmd),
	}, cfg.Supervisor, client, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		logger.Error("supervisor exited", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("supervisor exited cleanly")
}
