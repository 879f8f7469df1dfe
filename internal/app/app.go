// Package app wires the daemon together: configuration, logging, the
// plugin store, the host services, the plugin system and metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/dshills/lumen/internal/config"
	"github.com/dshills/lumen/internal/config/loader"
	"github.com/dshills/lumen/internal/host"
	"github.com/dshills/lumen/internal/logging"
	"github.com/dshills/lumen/internal/metrics"
	"github.com/dshills/lumen/internal/plugin"
	"github.com/dshills/lumen/internal/store"
)

// Application errors.
var (
	// ErrAlreadyRunning indicates the application is already running.
	ErrAlreadyRunning = errors.New("application already running")
)

// Options are the command line overrides of the configuration.
type Options struct {
	// ConfigPath is the path to the configuration file.
	ConfigPath string

	// PluginsDir overrides the plugins directory.
	PluginsDir string

	// Database overrides the database path.
	Database string

	// LogLevel overrides the logging level.
	LogLevel string

	// EnvPrefix selects the environment overrides. Defaults to LUMEN_.
	EnvPrefix string
}

// Application is the central coordinator for all daemon components.
type Application struct {
	config     *config.Config
	logger     *logging.Logger
	store      *store.Store
	components *host.Registry
	muxer      *host.Muxer
	plugins    *plugin.System
	registry   *prometheus.Registry

	running      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error

	opts Options
}

// New creates a new Application with the given options.
func New(opts Options) (*Application, error) {
	app := &Application{opts: opts}
	if err := app.bootstrap(); err != nil {
		app.close()
		return nil, err
	}
	return app, nil
}

// bootstrap initializes all components in dependency order.
func (app *Application) bootstrap() error {
	// 1. Config
	cfg, err := config.Load(app.opts.ConfigPath)
	if err != nil {
		return &InitError{Component: "config", Err: err}
	}
	prefix := app.opts.EnvPrefix
	if prefix == "" {
		prefix = loader.DefaultEnvPrefix
	}
	if err := cfg.ApplyEnv(prefix); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	if app.opts.PluginsDir != "" {
		cfg.PluginsDir = app.opts.PluginsDir
	}
	if app.opts.Database != "" {
		cfg.Database = app.opts.Database
	}
	if app.opts.LogLevel != "" {
		cfg.Logging.Level = app.opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return &InitError{Component: "config", Err: err}
	}
	app.config = cfg

	// 2. Logging
	app.logger, err = logging.New(cfg.Logging)
	if err != nil {
		return &InitError{Component: "logging", Err: err}
	}

	// 3. Store
	app.store, err = store.Open(cfg.DatabasePath(), cfg.Instance, store.WithLogger(app.logger))
	if err != nil {
		return &InitError{Component: "store", Err: err}
	}

	// 4. Host services
	hostLog := app.logger.Named("host")
	app.components = host.NewRegistry()
	app.components.SetLogger(hostLog)
	app.muxer = host.NewMuxer(host.WithLogger(hostLog))

	// 5. Plugin system
	pluginsDir := cfg.PluginsPath()
	if err := os.MkdirAll(pluginsDir, 0o755); err != nil {
		return &InitError{Component: "plugins", Err: err}
	}

	sys := plugin.DefaultSystemConfig()
	sys.PluginsDir = pluginsDir
	sys.Store = app.store
	sys.Components = app.components
	sys.Colors = app.muxer
	sys.Priorities = app.muxer
	sys.DefaultPriority = cfg.Plugins.DefaultPriority
	sys.Logger = app.logger
	sys.WatchScripts = cfg.Plugins.WatchScripts
	sys.WatchDelay = cfg.Plugins.WatchDelay.Std()
	sys.Manager.Autostart = cfg.Plugins.Autostart
	sys.Manager.AutostartDelay = cfg.Plugins.AutostartDelay.Std()
	sys.Manager.ShutdownGrace = cfg.Plugins.ShutdownGrace.Std()
	sys.Manager.KillWait = cfg.Plugins.KillWait.Std()
	sys.Manager.HostPaths = cfg.Plugins.SearchPaths

	app.plugins = plugin.NewSystem(sys)
	if err := app.plugins.Initialize(); err != nil {
		return &InitError{Component: "plugins", Err: err}
	}

	// 6. Metrics
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	app.plugins.Manager().Subscribe(metrics.New(app.registry).Observe)

	app.logger.Info("lumen initialized",
		"instance", cfg.Instance, "plugins", pluginsDir, "database", cfg.DatabasePath())
	return nil
}

// Run runs the plugin system until ctx is cancelled and every plugin has
// stopped.
func (app *Application) Run(ctx context.Context) error {
	if !app.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer app.running.Store(false)

	if listen := app.config.Metrics.Listen; listen != "" {
		stop, err := app.serveMetrics(listen)
		if err != nil {
			return err
		}
		defer stop()
	}

	return app.plugins.Run(ctx)
}

// serveMetrics serves /metrics on listen until stop is called.
func (app *Application) serveMetrics(listen string) (stop func(), err error) {
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, fmt.Errorf("metrics listener: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(app.registry))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	log := app.logger.Named("metrics")
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", "error", err)
		}
	}()
	log.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

// Shutdown stops the plugins and releases the store and the log file.
// It is safe to call more than once.
func (app *Application) Shutdown(ctx context.Context) error {
	app.shutdownOnce.Do(func() {
		if app.plugins != nil {
			if err := app.plugins.Shutdown(ctx); err != nil {
				app.logger.Error("plugin shutdown incomplete", "error", err)
				app.shutdownErr = err
			}
		}
		app.close()
	})
	return app.shutdownErr
}

// close releases the store and the log file in reverse order.
func (app *Application) close() {
	if app.store != nil {
		if err := app.store.Close(); err != nil && app.logger != nil {
			app.logger.Warn("failed to close store", "error", err)
		}
	}
	if app.logger != nil {
		_ = app.logger.Close()
	}
}

// IsRunning returns true if the application is running.
func (app *Application) IsRunning() bool {
	return app.running.Load()
}

// Config returns the resolved configuration.
func (app *Application) Config() *config.Config {
	return app.config
}

// Logger returns the root logger.
func (app *Application) Logger() hclog.Logger {
	return app.logger
}

// Plugins returns the plugin system.
func (app *Application) Plugins() *plugin.System {
	return app.plugins
}

// Components returns the component registry.
func (app *Application) Components() *host.Registry {
	return app.components
}

// Registry returns the Prometheus registry.
func (app *Application) Registry() *prometheus.Registry {
	return app.registry
}

// Muxer returns the priority muxer.
func (app *Application) Muxer() *host.Muxer {
	return app.muxer
}

// InitError reports the component that failed to initialize.
type InitError struct {
	Component string
	Err       error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init %s: %v", e.Component, e.Err)
}

func (e *InitError) Unwrap() error {
	return e.Err
}
