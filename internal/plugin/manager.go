package plugin

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/lumen/internal/host"
	"github.com/dshills/lumen/internal/plugin/api"
	plua "github.com/dshills/lumen/internal/plugin/lua"
)

// Store persists per-plugin flags and settings.
// *store.Store implements Store.
type Store interface {
	IsEnabled(id string) (bool, error)
	SetEnabled(id string, enabled bool) error
	SetAutoUpdate(id string, enabled bool) error
	Settings(id string) (map[string]any, bool, error)
	SaveSettings(id string, doc map[string]any) error
	DeletePlugin(id string) error
}

// ErrShutdownIncomplete is returned by Shutdown when a plugin survived
// forced termination.
var ErrShutdownIncomplete = errors.New("plugin shutdown incomplete")

// EventHandler receives lifecycle events emitted by the Manager.
// Handlers run on the manager goroutine. They must not block and must not
// call back into the Manager synchronously. Panics in handlers are
// recovered.
type EventHandler func(event ActionEvent)

// ManagerConfig configures the plugin manager.
type ManagerConfig struct {
	// Engine creates plugin contexts. Required.
	Engine *plua.Engine

	// Modules are injected into every plugin context.
	Modules *api.Registry

	// Catalog lists installed plugins. Required.
	Catalog Catalog

	// Store persists enabled flags and settings. Optional.
	Store Store

	// Components and Priorities feed host events to running plugins.
	// Both are optional.
	Components host.ComponentRegister
	Priorities host.PriorityMuxer

	Logger hclog.Logger

	// HostPaths are host Lua module directories.
	HostPaths []string

	// Autostart starts every enabled service plugin AutostartDelay after
	// Run begins.
	Autostart      bool
	AutostartDelay time.Duration

	// ShutdownGrace bounds the wait for cooperative exit at shutdown;
	// KillWait bounds the wait after forced termination.
	ShutdownGrace time.Duration
	KillWait      time.Duration

	// QueueSize and FinishPoll are passed to each Runtime.
	QueueSize  int
	FinishPoll time.Duration
}

// DefaultManagerConfig returns sensible default configuration.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Autostart:      true,
		AutostartDelay: 4 * time.Second,
		ShutdownGrace:  3 * time.Second,
		KillWait:       time.Second,
	}
}

// instance is a running plugin with its delivery goroutine.
type instance struct {
	rt *Runtime
	d  *Deliverer
}

// Manager owns the running plugins.
//
// The running table, the restart queue and the lifecycle bookkeeping live
// on the goroutine executing Run; public methods marshal onto it and block
// until it has handled them. Run must be active for them to return.
type Manager struct {
	cfg    ManagerConfig
	logger hclog.Logger

	ops     chan func()
	stop    chan struct{}
	stopped chan struct{}

	stopOnce sync.Once
	runOnce  sync.Once
	started  atomic.Bool

	// Owned by the Run goroutine.
	running      map[string]*instance
	restartQueue []string
	shutting     bool

	subMu   sync.RWMutex
	subs    map[int]EventHandler
	subIDs  []int
	nextSub int
}

// NewManager creates a plugin manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, errors.New("plugin manager: engine is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("plugin manager: catalog is required")
	}
	defaults := DefaultManagerConfig()
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = defaults.ShutdownGrace
	}
	if cfg.KillWait <= 0 {
		cfg.KillWait = defaults.KillWait
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}

	return &Manager{
		cfg:     cfg,
		logger:  cfg.Logger.Named("manager"),
		ops:     make(chan func(), 64),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
		running: make(map[string]*instance),
		subs:    make(map[int]EventHandler),
	}, nil
}

// Run processes manager operations until Shutdown completes. Cancelling
// ctx starts a shutdown.
func (m *Manager) Run(ctx context.Context) error {
	started := false
	m.runOnce.Do(func() { started = true })
	if !started {
		return errors.New("plugin manager: Run called twice")
	}
	m.started.Store(true)
	defer close(m.stopped)

	unsubscribe := m.subscribeHost()
	defer unsubscribe()

	var autostart <-chan time.Time
	if m.cfg.Autostart {
		timer := time.NewTimer(m.cfg.AutostartDelay)
		defer timer.Stop()
		autostart = timer.C
	}

	cancelled := ctx.Done()
	for {
		select {
		case op := <-m.ops:
			op()
		case <-autostart:
			autostart = nil
			m.autostart()
		case <-cancelled:
			cancelled = nil
			go func() {
				if err := m.Shutdown(context.Background()); err != nil {
					m.logger.Error("shutdown failed", "error", err)
				}
			}()
		case <-m.stop:
			return nil
		}
	}
}

// do runs fn on the manager goroutine and waits for it.
func (m *Manager) do(fn func()) error {
	done := make(chan struct{})
	op := func() {
		defer close(done)
		fn()
	}
	select {
	case m.ops <- op:
	case <-m.stopped:
		return ErrManagerClosed
	}
	select {
	case <-done:
		return nil
	case <-m.stopped:
		return ErrManagerClosed
	}
}

// post queues fn on the manager goroutine without waiting for it.
func (m *Manager) post(fn func()) {
	select {
	case m.ops <- fn:
	case <-m.stopped:
	}
}

// subscribeHost wires the host event streams to the running plugins.
func (m *Manager) subscribeHost() (unsubscribe func()) {
	var unsubs []func()
	if m.cfg.Components != nil {
		unsubs = append(unsubs, m.cfg.Components.SubscribeComponentState(func(c host.Component, enabled bool) {
			m.post(func() {
				for _, inst := range m.running {
					inst.d.ComponentStateChanged(c, enabled)
				}
			})
		}))
	}
	if m.cfg.Priorities != nil {
		unsubs = append(unsubs, m.cfg.Priorities.SubscribeVisiblePriority(func(priority int) {
			m.post(func() {
				for _, inst := range m.running {
					inst.d.VisiblePriorityChanged(priority)
				}
			})
		}))
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// Start starts a service plugin, or restarts it if it is running.
// Failures are also reported as a Started event with Success false.
func (m *Manager) Start(id string) error {
	var err error
	if derr := m.do(func() { err = m.start(id) }); derr != nil {
		return derr
	}
	return err
}

// Stop requests a running plugin to stop and persists it as disabled. With
// remove set, the plugin files are deleted once it has exited. Stop
// returns false if the plugin was not running.
func (m *Manager) Stop(id string, remove bool) bool {
	found := false
	_ = m.do(func() { found = m.stopPlugin(id, remove) })
	return found
}

// DoPluginAction handles a lifecycle request.
func (m *Manager) DoPluginAction(ev ActionEvent) error {
	var err error
	if derr := m.do(func() { err = m.handle(ev) }); derr != nil {
		return derr
	}
	return err
}

// IsRunning reports whether a plugin is running.
func (m *Manager) IsRunning(id string) bool {
	running := false
	_ = m.do(func() { _, running = m.running[id] })
	return running
}

// Running returns the ids of the running plugins, sorted.
func (m *Manager) Running() []string {
	var ids []string
	_ = m.do(func() {
		for id := range m.running {
			ids = append(ids, id)
		}
	})
	slices.Sort(ids)
	return ids
}

// Runtime returns the runtime of a running plugin.
func (m *Manager) Runtime(id string) (*Runtime, bool) {
	var rt *Runtime
	_ = m.do(func() {
		if inst, ok := m.running[id]; ok {
			rt = inst.rt
		}
	})
	return rt, rt != nil
}

// RestartQueue returns the ids waiting for a restart, in order.
func (m *Manager) RestartQueue() []string {
	var q []string
	_ = m.do(func() { q = slices.Clone(m.restartQueue) })
	return q
}

// Subscribe registers a lifecycle event handler.
// Returns an unsubscribe function.
func (m *Manager) Subscribe(handler EventHandler) func() {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	m.subs[id] = handler
	m.subIDs = append(m.subIDs, id)

	return func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		delete(m.subs, id)
		if i := slices.Index(m.subIDs, id); i >= 0 {
			m.subIDs = slices.Delete(m.subIDs, i, i+1)
		}
	}
}

// emit sends an event to every subscriber and every running plugin.
// Subscribers are called outside the subscriber lock; panics are recovered.
func (m *Manager) emit(ev ActionEvent) {
	m.logger.Debug("plugin action", "action", ev.Action.String(), "id", ev.ID, "success", ev.Success)

	m.subMu.RLock()
	handlers := make([]EventHandler, 0, len(m.subIDs))
	for _, id := range m.subIDs {
		handlers = append(handlers, m.subs[id])
	}
	m.subMu.RUnlock()

	for _, handler := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("event handler panicked", "panic", r)
				}
			}()
			handler(ev)
		}()
	}

	for _, inst := range m.running {
		inst.d.PluginAction(ev)
	}
}

// handle dispatches a lifecycle request.
func (m *Manager) handle(ev ActionEvent) error {
	switch ev.Action {
	case ActionStart:
		return m.start(ev.ID)
	case ActionStop:
		m.stopPlugin(ev.ID, false)
	case ActionRemove:
		return m.remove(ev.ID)
	case ActionSave:
		return m.save(ev)
	case ActionAutoUpdate:
		return m.autoUpdate(ev)
	case ActionInstalled:
		m.installed(ev)
	default:
		m.emit(ev)
	}
	return nil
}

// start is the loop side of Start.
func (m *Manager) start(id string) error {
	if m.shutting {
		m.emit(ActionEvent{Action: ActionStarted, ID: id})
		return ErrManagerClosed
	}
	if !IsService(id) {
		m.logger.Error("can't start plugin, it's not meant to be started", "id", id)
		m.emit(ActionEvent{Action: ActionStarted, ID: id})
		return fmt.Errorf("%w: %s", ErrNotService, id)
	}
	def, ok := m.cfg.Catalog.Definition(id)
	if !ok {
		m.logger.Error("can't start plugin, it's not installed", "id", id)
		m.emit(ActionEvent{Action: ActionStarted, ID: id})
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}

	if inst, ok := m.running[id]; ok {
		if inst.rt.InterruptionRequested() {
			return nil
		}
		m.restartQueue = append(m.restartQueue, id)
		inst.rt.RequestInterruption()
		m.logger.Debug("restart queued", "id", id)
		return nil
	}

	var depPaths []string
	for _, dep := range def.PluginDependencies() {
		ddef, ok := m.cfg.Catalog.Definition(dep)
		if !ok {
			m.logger.Warn("dependency not resolved", "error", &DependencyWarning{Plugin: id, Dependency: dep})
			continue
		}
		depPaths = append(depPaths, ddef.Dir())
	}

	if s := m.cfg.Store; s != nil {
		if enabled, err := s.IsEnabled(id); err != nil {
			m.logger.Warn("failed to read enabled flag", "id", id, "error", err)
		} else if !enabled {
			if err := s.SetEnabled(id, true); err != nil {
				m.logger.Warn("failed to persist enabled flag", "id", id, "error", err)
			}
		}
		if doc, ok, err := s.Settings(id); err != nil {
			m.logger.Warn("failed to read settings", "id", id, "error", err)
		} else if ok {
			def.Settings = doc
		}
	}

	rt := NewRuntime(id, def, RuntimeConfig{
		Engine:          m.cfg.Engine,
		Modules:         m.cfg.Modules,
		Logger:          m.cfg.Logger,
		HostPaths:       m.cfg.HostPaths,
		DependencyPaths: depPaths,
		QueueSize:       m.cfg.QueueSize,
		FinishPoll:      m.cfg.FinishPoll,
	})
	if err := rt.Start(); err != nil {
		m.logger.Error("failed to start plugin", "id", id, "error", err)
		m.emit(ActionEvent{Action: ActionStarted, ID: id})
		return err
	}
	d := NewDeliverer(rt)
	d.Start()

	m.running[id] = &instance{rt: rt, d: d}
	go func() {
		<-rt.Done()
		<-d.Done()
		m.post(func() { m.finished(id, rt) })
	}()

	m.logger.Info("plugin started", "id", id, "identity", rt.Identity())
	m.emit(ActionEvent{Action: ActionStarted, ID: id, Success: true, Identity: rt.Identity()})
	return nil
}

// stopPlugin is the loop side of Stop.
func (m *Manager) stopPlugin(id string, remove bool) bool {
	inst, ok := m.running[id]
	if !ok {
		return false
	}
	if s := m.cfg.Store; s != nil {
		if err := s.SetEnabled(id, false); err != nil {
			m.logger.Warn("failed to persist enabled flag", "id", id, "error", err)
		}
	}
	if remove {
		inst.rt.MarkForRemoval()
	}
	m.restartQueue = slices.DeleteFunc(m.restartQueue, func(q string) bool { return q == id })
	inst.rt.RequestInterruption()
	return true
}

// finished runs when a runtime and its deliverer have exited.
func (m *Manager) finished(id string, rt *Runtime) {
	inst, ok := m.running[id]
	if !ok || inst.rt != rt {
		return
	}
	delete(m.running, id)

	if rt.HasError() {
		m.emit(ActionEvent{Action: ActionError, ID: id, Identity: rt.Identity()})
	} else {
		m.emit(ActionEvent{Action: ActionStopped, ID: id, Success: true, Identity: rt.Identity()})
	}

	queued := slices.Contains(m.restartQueue, id)
	m.restartQueue = slices.DeleteFunc(m.restartQueue, func(q string) bool { return q == id })

	if rt.RemovalRequested() {
		if queued {
			m.logger.Debug("restart skipped, plugin is being removed", "id", id)
		}
		m.removeFiles(id)
		return
	}
	if queued && !m.shutting {
		_ = m.start(id)
	}
}

// remove stops a running plugin for removal, or removes it right away.
func (m *Manager) remove(id string) error {
	if m.stopPlugin(id, true) {
		return nil
	}
	if _, ok := m.cfg.Catalog.Definition(id); !ok {
		m.emit(ActionEvent{Action: ActionRemoved, ID: id})
		return fmt.Errorf("%w: %s", ErrPluginNotFound, id)
	}
	m.removeFiles(id)
	return nil
}

func (m *Manager) removeFiles(id string) {
	err := m.cfg.Catalog.Remove(id)
	if err != nil {
		m.logger.Error("failed to remove plugin", "id", id, "error", err)
	}
	if s := m.cfg.Store; s != nil {
		if serr := s.DeletePlugin(id); serr != nil {
			m.logger.Warn("failed to delete plugin data", "id", id, "error", serr)
		}
	}
	m.emit(ActionEvent{Action: ActionRemoved, ID: id, Success: err == nil})
}

// save validates and persists a settings document carried by ev.
func (m *Manager) save(ev ActionEvent) error {
	def, ok := m.cfg.Catalog.Definition(ev.ID)
	if !ok {
		m.emit(ActionEvent{Action: ActionSaved, ID: ev.ID})
		return fmt.Errorf("%w: %s", ErrPluginNotFound, ev.ID)
	}
	var doc map[string]any
	if ev.Definition != nil {
		doc = ev.Definition.Settings
	}
	if doc == nil {
		doc = map[string]any{}
	}

	if err := def.ValidateSettings(doc); err != nil {
		m.logger.Warn("settings rejected", "id", ev.ID, "error", err)
		m.emit(ActionEvent{Action: ActionSaved, ID: ev.ID})
		return err
	}

	if s := m.cfg.Store; s != nil {
		if err := s.SaveSettings(ev.ID, doc); err != nil {
			m.logger.Error("failed to save settings", "id", ev.ID, "error", err)
			m.emit(ActionEvent{Action: ActionSaved, ID: ev.ID})
			return err
		}
	}
	if err := m.cfg.Catalog.SetSettings(ev.ID, doc); err != nil {
		m.logger.Warn("failed to update catalog settings", "id", ev.ID, "error", err)
	}

	def.Settings = deepCopyMap(doc)
	m.emit(ActionEvent{Action: ActionSaved, ID: ev.ID, Success: true, Definition: def})
	return nil
}

// autoUpdate persists the auto-update flag carried in ev.Success.
func (m *Manager) autoUpdate(ev ActionEvent) error {
	if s := m.cfg.Store; s != nil {
		if err := s.SetAutoUpdate(ev.ID, ev.Success); err != nil {
			m.logger.Error("failed to save auto-update flag", "id", ev.ID, "error", err)
			m.emit(ActionEvent{Action: ActionAutoUpdated, ID: ev.ID})
			return err
		}
	}
	m.emit(ActionEvent{Action: ActionAutoUpdated, ID: ev.ID, Success: true})
	return nil
}

// installed starts a freshly installed service plugin that is enabled.
func (m *Manager) installed(ev ActionEvent) {
	m.emit(ev)
	if !ev.Success || !IsService(ev.ID) || !m.enabled(ev.ID) {
		return
	}
	_ = m.start(ev.ID)
}

// autostart starts every installed service plugin that is enabled.
func (m *Manager) autostart() {
	for _, id := range m.cfg.Catalog.Installed() {
		if IsService(id) && m.enabled(id) {
			if _, running := m.running[id]; !running {
				_ = m.start(id)
			}
		}
	}
}

func (m *Manager) enabled(id string) bool {
	if m.cfg.Store == nil {
		return false
	}
	enabled, err := m.cfg.Store.IsEnabled(id)
	if err != nil {
		m.logger.Warn("failed to read enabled flag", "id", id, "error", err)
		return false
	}
	return enabled
}

// Shutdown asks every running plugin to stop and waits up to
// ShutdownGrace. Plugins still running are force-terminated and given
// KillWait to exit; a plugin stuck in a native call is then abandoned and
// ErrShutdownIncomplete returned. The manager loop exits afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.started.Load() {
		m.stopOnce.Do(func() { close(m.stop) })
		return nil
	}

	var rts []*Runtime
	if err := m.do(func() {
		m.shutting = true
		m.restartQueue = nil
		for _, inst := range m.running {
			inst.rt.RequestInterruption()
			rts = append(rts, inst.rt)
		}
	}); err != nil {
		return nil
	}

	var result error
	if pending := waitRuntimes(ctx, rts, m.cfg.ShutdownGrace); len(pending) > 0 {
		for _, rt := range pending {
			m.logger.Warn("plugin ignored interruption, forcing termination",
				"event", "ForcedTermination", "id", rt.ID(), "grace", m.cfg.ShutdownGrace)
			rt.Kill()
		}
		if stuck := waitRuntimes(ctx, pending, m.cfg.KillWait); len(stuck) > 0 {
			for _, rt := range stuck {
				m.logger.Error("plugin did not terminate, abandoning it",
					"event", "ForcedTermination", "id", rt.ID())
			}
			result = fmt.Errorf("%w: %d plugin(s) still running", ErrShutdownIncomplete, len(stuck))
		}
	}

	m.stopOnce.Do(func() { close(m.stop) })
	return result
}

// waitRuntimes waits until every runtime is done or the timeout expires,
// and returns the runtimes still running.
func waitRuntimes(ctx context.Context, rts []*Runtime, timeout time.Duration) []*Runtime {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for i, rt := range rts {
		select {
		case <-rt.Done():
		case <-timer.C:
			return pendingRuntimes(rts[i:])
		case <-ctx.Done():
			return pendingRuntimes(rts[i:])
		}
	}
	return nil
}

func pendingRuntimes(rts []*Runtime) []*Runtime {
	var out []*Runtime
	for _, rt := range rts {
		select {
		case <-rt.Done():
		default:
			out = append(out, rt)
		}
	}
	return out
}
