package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/lumen/internal/host"
	"github.com/dshills/lumen/internal/plugin/api"
	plua "github.com/dshills/lumen/internal/plugin/lua"
)

// Errors for system lifecycle.
var (
	ErrAlreadyInitialized = errors.New("plugin system already initialized")
	ErrNotInitialized     = errors.New("plugin system not initialized")
)

// System wires the plugin host together: the Lua engine, the host API
// modules, the plugin catalog, the manager and the script watcher.
type System struct {
	mu sync.RWMutex

	engine   *plua.Engine
	registry *api.Registry
	apiCtx   *api.Context
	loader   *Loader
	manager  *Manager
	watcher  *ScriptWatcher

	config SystemConfig
	logger hclog.Logger

	initialized bool
}

// SystemConfig configures the plugin system.
type SystemConfig struct {
	// PluginsDir holds one directory per installed plugin.
	PluginsDir string

	// Store persists flags and settings. Optional.
	Store Store

	// Host collaborators exposed to scripts.
	Components host.ComponentRegister
	Colors     host.ColorEngine
	Priorities host.PriorityMuxer

	// DefaultPriority applies to script inputs given without a priority.
	DefaultPriority int

	Logger hclog.Logger

	// Manager carries the manager timings, autostart and host paths. Its
	// Engine, Modules, Catalog, Store, collaborators and Logger are filled
	// in by Initialize.
	Manager ManagerConfig

	// WatchScripts restarts running plugins when their scripts change.
	WatchScripts bool
	WatchDelay   time.Duration

	// ContextOptions apply to every Lua context.
	ContextOptions []plua.ContextOption
}

// DefaultSystemConfig returns sensible default system configuration.
func DefaultSystemConfig() SystemConfig {
	return SystemConfig{
		Manager:    DefaultManagerConfig(),
		WatchDelay: DefaultWatchDelay,
	}
}

// NewSystem creates a plugin system.
func NewSystem(config SystemConfig) *System {
	logger := config.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &System{
		config: config,
		logger: logger,
	}
}

// Initialize discovers installed plugins and builds the manager.
// This must be called before any other operations.
func (s *System) Initialize() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		return ErrAlreadyInitialized
	}

	s.engine = plua.NewEngine(s.config.ContextOptions...)

	s.apiCtx = &api.Context{
		Components:      s.config.Components,
		Colors:          s.config.Colors,
		Priorities:      s.config.Priorities,
		DefaultPriority: s.config.DefaultPriority,
	}
	registry, err := api.DefaultRegistry(s.apiCtx, s.engine)
	if err != nil {
		return fmt.Errorf("failed to create API registry: %w", err)
	}
	s.registry = registry

	s.loader = NewLoader(s.config.PluginsDir)
	ids, err := s.loader.Discover()
	if err != nil {
		return err
	}
	for id, lerr := range s.loader.Errors() {
		s.logger.Warn("invalid plugin", "id", id, "error", lerr)
	}
	s.logger.Info("plugins discovered", "dir", s.config.PluginsDir, "count", len(ids))

	mcfg := s.config.Manager
	mcfg.Engine = s.engine
	mcfg.Modules = s.registry
	mcfg.Catalog = s.loader
	mcfg.Store = s.config.Store
	mcfg.Components = s.config.Components
	mcfg.Priorities = s.config.Priorities
	mcfg.Logger = s.logger
	manager, err := NewManager(mcfg)
	if err != nil {
		return err
	}
	s.manager = manager

	s.initialized = true
	return nil
}

// Run runs the manager until ctx is cancelled and shutdown completes.
func (s *System) Run(ctx context.Context) error {
	s.mu.Lock()
	if !s.initialized {
		s.mu.Unlock()
		return ErrNotInitialized
	}
	if s.config.WatchScripts {
		w, err := NewScriptWatcher(s.config.PluginsDir, s.manager,
			WithWatchDelay(s.config.WatchDelay), WithWatchLogger(s.logger))
		if err != nil {
			s.logger.Warn("script watcher disabled", "error", err)
		} else {
			s.watcher = w
		}
	}
	manager := s.manager
	s.mu.Unlock()

	defer s.closeWatcher()
	return manager.Run(ctx)
}

// Shutdown stops every plugin, forcing the ones that do not cooperate.
func (s *System) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	initialized := s.initialized
	manager := s.manager
	s.mu.RUnlock()

	if !initialized {
		return nil // Nothing to shut down
	}
	s.closeWatcher()
	return manager.Shutdown(ctx)
}

func (s *System) closeWatcher() {
	s.mu.Lock()
	w := s.watcher
	s.watcher = nil
	s.mu.Unlock()
	if w != nil {
		_ = w.Close()
	}
}

// Manager returns the plugin manager.
func (s *System) Manager() *Manager {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.manager
}

// Loader returns the plugin catalog.
func (s *System) Loader() *Loader {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loader
}

// Engine returns the Lua engine.
func (s *System) Engine() *plua.Engine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// Registry returns the API registry.
func (s *System) Registry() *api.Registry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registry
}
