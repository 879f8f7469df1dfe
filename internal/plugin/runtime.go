package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/host"
	"github.com/dshills/lumen/internal/plugin/api"
	"github.com/dshills/lumen/internal/plugin/hook"
	plua "github.com/dshills/lumen/internal/plugin/lua"
)

// DefaultFinishPoll is the interval at which a finishing runtime checks for
// callback hand-offs that are still in flight.
const DefaultFinishPoll = 100 * time.Millisecond

// RuntimeConfig configures a Runtime.
type RuntimeConfig struct {
	// Engine creates the isolated Lua context. Required.
	Engine *plua.Engine

	// Modules are injected into the context before the entry script runs.
	Modules *api.Registry

	// Logger is the parent logger; the runtime logs as plugin.<id>.
	Logger hclog.Logger

	// HostPaths are host module directories searched after the interpreter
	// defaults.
	HostPaths []string

	// DependencyPaths are the directories of the plugins this plugin
	// depends on, searched after HostPaths.
	DependencyPaths []string

	// QueueSize bounds pending callback hand-offs.
	QueueSize int

	// FinishPoll overrides DefaultFinishPoll.
	FinishPoll time.Duration
}

// Runtime runs one instance of a plugin's entry script on its own worker
// goroutine, inside its own Lua context.
//
// Interruption is cooperative: RequestInterruption only changes what the
// script sees from plugin.abort() and makes most host calls return nil.
// Kill is the forced fallback.
type Runtime struct {
	id       string
	identity string
	def      *Definition
	logger   hclog.Logger
	cfg      RuntimeConfig

	state    atomic.Int32
	started  atomic.Bool
	failed   atomic.Bool
	removal  atomic.Bool
	killFlag atomic.Bool

	interrupt     chan struct{}
	interruptOnce sync.Once

	// ready is closed once the context and executor exist, or the worker
	// gave up before creating them.
	ready chan struct{}
	done  chan struct{}

	mu       sync.Mutex
	lctx     *plua.Context
	exec     *plua.Executor
	settings map[string]any
	err      error

	// callbacks is owned by the worker goroutine.
	callbacks *hook.Table
}

// NewRuntime creates a runtime for def. The definition is copied.
func NewRuntime(id string, def *Definition, cfg RuntimeConfig) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	if cfg.FinishPoll <= 0 {
		cfg.FinishPoll = DefaultFinishPoll
	}
	def = def.Clone()
	if def == nil {
		def = &Definition{Name: id}
	}

	r := &Runtime{
		id:        id,
		identity:  uuid.NewString(),
		def:       def,
		logger:    cfg.Logger.Named("plugin." + id),
		cfg:       cfg,
		interrupt: make(chan struct{}),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
		settings:  deepCopyMap(def.Settings),
		callbacks: hook.NewTable(),
	}
	if r.settings == nil {
		r.settings = map[string]any{}
	}
	return r
}

// ID returns the plugin identifier.
func (r *Runtime) ID() string { return r.id }

// Identity returns the unique identity of this runtime instance.
func (r *Runtime) Identity() string { return r.identity }

// Definition returns the definition the runtime was started with.
func (r *Runtime) Definition() *Definition { return r.def.Clone() }

// DisplayName returns the plugin name, used as origin for host inputs.
func (r *Runtime) DisplayName() string {
	if r.def.Name != "" {
		return r.def.Name
	}
	return r.id
}

// Logger returns the plugin-scoped logger.
func (r *Runtime) Logger() hclog.Logger { return r.logger }

// State returns the lifecycle state.
func (r *Runtime) State() State { return State(r.state.Load()) }

func (r *Runtime) setState(s State) {
	r.state.Store(int32(s))
	r.logger.Trace("state changed", "state", s.String())
}

// Start launches the worker goroutine.
func (r *Runtime) Start() error {
	if r.cfg.Engine == nil {
		return errors.New("plugin runtime: engine is required")
	}
	if !r.started.CompareAndSwap(false, true) {
		return ErrRuntimeStarted
	}
	go r.run()
	return nil
}

// Done is closed when the worker has fully exited.
func (r *Runtime) Done() <-chan struct{} { return r.done }

// Err returns the unhandled script error, if any. Valid after Done.
func (r *Runtime) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// HasError reports whether the script ended with an unhandled error.
func (r *Runtime) HasError() bool { return r.failed.Load() }

// MarkForRemoval flags the plugin files for deletion once the worker exits.
func (r *Runtime) MarkForRemoval() { r.removal.Store(true) }

// RemovalRequested reports whether MarkForRemoval was called.
func (r *Runtime) RemovalRequested() bool { return r.removal.Load() }

// RequestInterruption asks the script to stop. It returns false if
// interruption was already requested. The request cannot be withdrawn.
func (r *Runtime) RequestInterruption() bool {
	first := false
	r.interruptOnce.Do(func() {
		first = true
		close(r.interrupt)
		r.logger.Debug("interruption requested")
	})
	return first
}

// InterruptionRequested reports whether the script was asked to stop.
func (r *Runtime) InterruptionRequested() bool {
	select {
	case <-r.interrupt:
		return true
	default:
		return false
	}
}

// Kill force-terminates the script. Execution stops at the next VM
// instruction or inside plugin.sleep. A script blocked in a native call
// that does not observe termination stays blocked.
func (r *Runtime) Kill() {
	r.RequestInterruption()
	r.killFlag.Store(true)
	r.mu.Lock()
	lctx := r.lctx
	r.mu.Unlock()
	if lctx != nil {
		lctx.Kill()
	}
}

// Settings returns the current settings document.
func (r *Runtime) Settings() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.settings
}

// Callbacks returns the callback table. Worker goroutine only.
func (r *Runtime) Callbacks() *hook.Table { return r.callbacks }

// Checkpoint runs queued callback hand-offs. Worker goroutine only.
func (r *Runtime) Checkpoint() {
	if r.exec != nil {
		r.exec.Drain()
	}
}

// Sleep blocks the worker for d while running callback hand-offs. It
// returns true early when interruption is requested or the runtime is
// killed. Inside a callback handler it only waits.
func (r *Runtime) Sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var next <-chan *plua.LuaCall
	var terminating <-chan struct{}
	if r.exec != nil && !r.exec.Busy() {
		next = r.exec.Next()
	}
	if r.lctx != nil {
		terminating = r.lctx.Terminating()
	}

	for {
		select {
		case <-timer.C:
			return r.InterruptionRequested()
		case <-r.interrupt:
			return true
		case <-terminating:
			return true
		case call := <-next:
			r.exec.Process(call)
		}
	}
}

// run is the worker goroutine body.
func (r *Runtime) run() {
	defer close(r.done)

	r.setState(StateRunning)
	r.logger.Debug("starting", "identity", r.identity, "entry", r.def.EntryPath())

	lctx, err := r.cfg.Engine.NewContext(r,
		plua.WithHostPaths(r.cfg.HostPaths...),
		plua.WithDependencyPaths(r.cfg.DependencyPaths...),
	)
	if err != nil {
		close(r.ready)
		r.fail(fmt.Errorf("create context: %w", err))
		r.setState(StateStopped)
		return
	}

	release := lctx.Enter()
	defer release()

	exec := plua.NewExecutor(lctx.L, r.cfg.QueueSize)
	r.mu.Lock()
	r.lctx = lctx
	r.exec = exec
	r.mu.Unlock()
	if r.killFlag.Load() {
		lctx.Kill()
	}
	close(r.ready)

	if r.cfg.Modules != nil {
		err = r.cfg.Modules.InjectAll(lctx.L)
	}
	if err == nil {
		err = lctx.DoFile(r.def.EntryPath())
	}
	if err != nil {
		r.fail(err)
	}

	r.finish(lctx, exec)
}

// finish tears the context down once no hand-off is in flight.
func (r *Runtime) finish(lctx *plua.Context, exec *plua.Executor) {
	r.setState(StateFinishing)

	exec.Close()
	if exec.InFlight() > 0 {
		ticker := time.NewTicker(r.cfg.FinishPoll)
		for exec.InFlight() > 0 {
			r.logger.Debug("waiting for callback deliveries to finish", "in_flight", exec.InFlight())
			<-ticker.C
		}
		ticker.Stop()
	}

	r.callbacks.Clear()
	if err := lctx.Close(); err != nil {
		r.logger.Warn("failed to close context", "error", err)
	}
	r.setState(StateStopped)
	r.logger.Debug("stopped", "identity", r.identity, "error", r.failed.Load())
}

// fail records an unhandled error and logs it.
func (r *Runtime) fail(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()

	if errors.Is(err, plua.ErrTerminated) {
		r.logger.Warn("script terminated", "event", "ForcedTermination")
		return
	}

	r.failed.Store(true)
	var serr *plua.ScriptError
	if errors.As(err, &serr) {
		for _, line := range serr.Lines(fmt.Sprintf("%s (%s)", r.DisplayName(), r.id)) {
			r.logger.Error(line)
		}
		return
	}
	r.logger.Error("plugin failed", "error", err)
}

// handoff runs fn on the worker goroutine at its next checkpoint and waits
// for it to return.
func (r *Runtime) handoff(ctx context.Context, fn func(L *lua.LState) error) error {
	select {
	case <-r.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	r.mu.Lock()
	exec := r.exec
	r.mu.Unlock()
	if exec == nil {
		return ErrNotRunning
	}
	return exec.Execute(ctx, fn)
}

// invoke calls every handler in order. A failing handler is logged and
// does not stop the others.
func (r *Runtime) invoke(kind hook.Kind, handlers []*lua.LFunction, args ...lua.LValue) {
	for _, fn := range handlers {
		if _, err := r.lctx.Call(fn, args...); err != nil {
			var serr *plua.ScriptError
			if errors.As(err, &serr) && !errors.Is(err, plua.ErrTerminated) {
				for _, line := range serr.Lines(fmt.Sprintf("%s (%s) %s", r.DisplayName(), r.id, kind)) {
					r.logger.Error(line)
				}
				continue
			}
			r.logger.Debug("callback failed", "kind", kind.String(), "error", err)
		}
	}
}

// DeliverComponentState runs the component state handlers that accept c.
func (r *Runtime) DeliverComponentState(ctx context.Context, c host.Component, enabled bool) error {
	return r.handoff(ctx, func(L *lua.LState) error {
		r.invoke(hook.OnComponentStateChanged, r.callbacks.ComponentHandlers(c),
			lua.LNumber(c), lua.LBool(enabled))
		return nil
	})
}

// DeliverVisiblePriority runs the visible priority handlers.
func (r *Runtime) DeliverVisiblePriority(ctx context.Context, priority int) error {
	return r.handoff(ctx, func(L *lua.LState) error {
		r.invoke(hook.OnVisiblePriorityChanged, r.callbacks.Handlers(hook.OnVisiblePriorityChanged),
			lua.LNumber(priority))
		return nil
	})
}

// DeliverSettings replaces the settings document and runs the settings
// handlers with it.
func (r *Runtime) DeliverSettings(ctx context.Context, doc map[string]any) error {
	doc = deepCopyMap(doc)
	if doc == nil {
		doc = map[string]any{}
	}
	return r.handoff(ctx, func(L *lua.LState) error {
		r.mu.Lock()
		r.settings = doc
		r.mu.Unlock()
		r.invoke(hook.OnSettingsChanged, r.callbacks.Handlers(hook.OnSettingsChanged),
			plua.NewBridge(L).ToLuaValue(doc))
		return nil
	})
}

var _ api.Plugin = (*Runtime)(nil)
