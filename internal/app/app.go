// Package app provides the main application struct for centralized dependency management
// and lifecycle control of the relaygate server.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"relaygate/config"
	"relaygate/internal/core"
	"relaygate/internal/failover"
	"relaygate/internal/gateway"
	"relaygate/internal/httpclient"
	"relaygate/internal/llmclient"
	"relaygate/internal/metrics"
	"relaygate/internal/policy"
	"relaygate/internal/providers"
	"relaygate/internal/server"
	"relaygate/internal/telemetry"
)

// App represents the main application with all its dependencies.
// It provides centralized lifecycle management for all components.
type App struct {
	config    *config.Config
	logger    *slog.Logger
	providers *providers.InitResult
	metrics   *metrics.Metrics
	server    *server.Server

	stopTracing func(context.Context) error
	stopWatch   context.CancelFunc
	watchDone   chan struct{}

	shutdownMu sync.Mutex
	shutdown   bool
}

// Config holds the configuration options for creating an App.
type Config struct {
	// AppConfig is the loaded configuration produced by config.Load.
	AppConfig *config.Config

	// ConfigPath is watched for changes when non-empty; every successful
	// reload swaps in a new catalog.
	ConfigPath string

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// TraceOutput receives exported spans when tracing is enabled (default: stdout).
	TraceOutput io.Writer
}

// New creates a new App with all dependencies initialized.
// The caller must call Shutdown to release resources.
func New(ctx context.Context, cfg Config) (*App, error) {
	if cfg.AppConfig == nil {
		return nil, fmt.Errorf("app config is required")
	}
	appCfg := cfg.AppConfig

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{
		config: appCfg,
		logger: logger,
	}

	if appCfg.Tracing.Enabled {
		stop, err := telemetry.InitTracer(appCfg.Tracing.ServiceName, cfg.TraceOutput, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize tracing: %w", err)
		}
		app.stopTracing = stop
	}

	providerResult, err := providers.Init(ctx, appCfg)
	if err != nil {
		closeErr := app.closeTracing(ctx)
		if closeErr != nil {
			return nil, fmt.Errorf("failed to initialize providers: %w (also: tracing close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize providers: %w", err)
	}
	app.providers = providerResult
	registry := providerResult.Registry

	// Each App owns its registry; several may run in one process.
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.metrics = metrics.NewMetrics(promRegistry)
	registry.OnSwap(func(*providers.Catalog) { app.metrics.RecordCatalogSwap() })

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Traced = appCfg.Tracing.Enabled
	client := llmclient.New(httpclient.New(&httpCfg), llmclient.DefaultConfig())

	executor := failover.NewExecutor(client, appCfg.Failover.AttemptTimeout,
		failover.WithMetrics(app.metrics),
		failover.WithLogger(logger),
	)

	catalog := func() core.Catalog { return registry.Current() }
	gw := gateway.New(gateway.Config{
		Catalog:  catalog,
		Images:   policy.NewImagePolicy(appCfg.Images),
		Executor: executor,
		Metrics:  app.metrics,
		Logger:   logger,
	})

	app.server = server.New(gw, catalog, &server.Config{
		APIKeys:         appCfg.Server.APIKeys,
		MetricsEnabled:  appCfg.Metrics.Enabled,
		MetricsEndpoint: appCfg.Metrics.Endpoint,
		Gatherer:        promRegistry,
		BodyLimit:       appCfg.Server.BodyLimit,
		TracingEnabled:  appCfg.Tracing.Enabled,
		Logger:          logger,
	})

	if cfg.ConfigPath != "" {
		app.watch(cfg.ConfigPath, registry)
	}

	app.logStartupInfo()
	return app, nil
}

// watch reloads the catalog whenever the config file changes.
func (a *App) watch(path string, registry *providers.Registry) {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopWatch = cancel
	a.watchDone = make(chan struct{})

	go func() {
		defer close(a.watchDone)
		err := config.Watch(ctx, path, config.DefaultDebounce, func(cfg *config.Config) {
			registry.Reload(ctx, cfg)
		})
		if err != nil {
			a.logger.Warn("config watcher stopped; hot reload disabled", "error", err)
		}
	}()
}

// Handler returns the HTTP handler serving the gateway's routes.
func (a *App) Handler() http.Handler {
	return a.server
}

// Start starts the HTTP server on the given address.
// This is a blocking call that returns when the server stops.
func (a *App) Start(addr string) error {
	if a.server == nil {
		return fmt.Errorf("server is not initialized")
	}
	a.logger.Info("starting server", "address", addr)
	if err := a.server.Start(addr); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			a.logger.Info("server stopped gracefully")
			return nil
		}
		return fmt.Errorf("server failed to start: %w", err)
	}
	return nil
}

// Shutdown gracefully tears down app components in dependency order.
// Order:
// 1. HTTP server shutdown, draining in-flight requests until ctx is done.
// 2. Config watcher stop.
// 3. Provider subsystem close (stops catalog refresh and releases the cache).
// 4. Tracer flush.
//
// Shutdown is idempotent; after the first call, subsequent calls are no-ops.
// It attempts every step and returns a joined error if any step fails.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownMu.Lock()
	if a.shutdown {
		a.shutdownMu.Unlock()
		return nil
	}
	a.shutdown = true
	a.shutdownMu.Unlock()

	a.logger.Info("shutting down application...")

	var errs []error

	// 1. Shutdown HTTP server first (stop accepting new requests)
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			a.logger.Error("server shutdown error", "error", err)
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}

	// 2. Stop reacting to config changes
	if a.stopWatch != nil {
		a.stopWatch()
		<-a.watchDone
	}

	// 3. Close providers (stops background refresh and cache)
	if a.providers != nil {
		if err := a.providers.Close(); err != nil {
			a.logger.Error("providers close error", "error", err)
			errs = append(errs, fmt.Errorf("providers close: %w", err))
		}
	}

	// 4. Flush pending spans
	if err := a.closeTracing(ctx); err != nil {
		a.logger.Error("tracer shutdown error", "error", err)
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}

	a.logger.Info("application shutdown complete")
	return nil
}

func (a *App) closeTracing(ctx context.Context) error {
	if a.stopTracing == nil {
		return nil
	}
	stop := a.stopTracing
	a.stopTracing = nil
	return stop(ctx)
}

// logStartupInfo logs the application configuration on startup.
func (a *App) logStartupInfo() {
	cfg := a.config

	// Security warnings
	if len(cfg.Server.APIKeys) == 0 {
		a.logger.Warn("SECURITY WARNING: no server.api_keys configured - server running unauthenticated",
			"security_risk", "unauthenticated access allowed",
			"effect", "premium models are denied to every caller")
	} else {
		a.logger.Info("authentication enabled", "keys", len(cfg.Server.APIKeys))
	}

	if cfg.Metrics.Enabled {
		a.logger.Info("prometheus metrics enabled", "endpoint", cfg.Metrics.Endpoint)
	} else {
		a.logger.Info("prometheus metrics disabled")
	}

	if cfg.Tracing.Enabled {
		a.logger.Info("tracing enabled", "service", cfg.Tracing.ServiceName)
	}

	a.logger.Info("failover configured", "attempt_timeout", cfg.Failover.AttemptTimeout)
	if cfg.Images.AssumeAllSupported {
		a.logger.Info("image policy disabled: every model accepts image content")
	}
}
