// Sentinel Triage - fraud triage pipeline orchestrator
package main

import (
	"context"
	"os"

	"github.com/sentinelpay/triage/internal/config"
	"github.com/sentinelpay/triage/internal/logging"
	"github.com/sentinelpay/triage/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting sentinel-triage",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"max_concurrent_sessions", cfg.MaxConcurrentSessions,
		"flow_timeout", cfg.FlowTimeout,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
