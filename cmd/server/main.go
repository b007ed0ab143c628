// FINSHIELD - behavioral biometric fraud scoring for card-not-present payments
package main

import (
	"context"
	"os"

	"github.com/rohann-max/FINSHIELD/internal/config"
	"github.com/rohann-max/FINSHIELD/internal/logging"
	"github.com/rohann-max/FINSHIELD/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Configuration decides the final level and format; start with env hints
	logger := logging.New(envOr("LOG_LEVEL", "info"), envOr("LOG_FORMAT", "json"))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger = logging.New(cfg.LogLevel, cfg.LogFormat)

	logger.Info("starting finshield",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)
	logger.Info("configuration loaded",
		"env", cfg.Env,
		"store", cfg.StoreBackend,
		"narration_timeout", cfg.NarrationTimeout,
	)

	if Version != "dev" {
		server.Version = Version
	}

	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	if err := srv.Run(context.Background()); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
