// Package main is the entry point for the relaygate server.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaygate/config"
	"relaygate/internal/app"
	"relaygate/internal/logging"
	"relaygate/internal/version"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", envOr("RELAYGATE_CONFIG", "config.yaml"), "Path to the YAML config file")
	watch := flag.Bool("watch", true, "Reload the model and provider tables when the config file changes")
	versionFlag := flag.Bool("version", false, "Print version information")
	flag.Parse()

	if *versionFlag {
		fmt.Println(version.Info())
		os.Exit(0)
	}

	path := *configPath
	if _, err := os.Stat(path); err != nil {
		// Run from env and defaults alone when the file is absent.
		path = ""
	}

	cfg, err := config.Load(path)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg.Logging.Format, cfg.Logging.Level)
	if err != nil {
		slog.Error("failed to set up logging", "error", err)
		os.Exit(1)
	}

	logger.Info("starting relaygate",
		"version", version.Version,
		"commit", version.Commit,
		"build_date", version.Date,
		"config", path,
	)

	appCfg := app.Config{AppConfig: cfg, Logger: logger}
	if *watch && path != "" {
		appCfg.ConfigPath = path
	}

	a, err := app.New(context.Background(), appCfg)
	if err != nil {
		logger.Error("failed to initialize application", "error", err)
		os.Exit(1)
	}

	// Handle graceful shutdown
	drained := make(chan struct{})
	go func() {
		defer close(drained)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := a.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	}()

	if err := a.Start(":" + cfg.Server.Port); err != nil {
		logger.Error("server failed", "error", err)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		_ = a.Shutdown(shutdownCtx)
		cancel()
		os.Exit(1)
	}

	// Start returns as soon as the listener closes; wait for in-flight
	// requests to drain.
	<-drained
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
