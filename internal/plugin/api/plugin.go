package api

import (
	"time"

	"github.com/hashicorp/go-hclog"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/host"
	"github.com/dshills/lumen/internal/plugin/hook"
	plua "github.com/dshills/lumen/internal/plugin/lua"
)

// Plugin is the running plugin a host call is made on behalf of.
type Plugin interface {
	// ID returns the plugin identifier.
	ID() string

	// DisplayName returns the name used as origin for inputs.
	DisplayName() string

	// Logger returns the plugin-scoped log sink.
	Logger() hclog.Logger

	// InterruptionRequested reports whether the plugin was asked to stop.
	InterruptionRequested() bool

	// Settings returns the current settings document.
	Settings() map[string]any

	// Callbacks returns the plugin's callback registrations.
	Callbacks() *hook.Table

	// Checkpoint delivers queued host events to the script.
	Checkpoint()

	// Sleep blocks for d while delivering host events. It returns early,
	// with true, when the plugin is asked to stop.
	Sleep(d time.Duration) bool
}

// Resolver maps a Lua state to the owner of the context it executes in.
// *lua.Engine implements Resolver.
type Resolver interface {
	Owner(L *lua.LState) (any, bool)
}

// Context provides API modules with access to host services.
type Context struct {
	// Components switches host components.
	Components host.ComponentRegister

	// Colors accepts color and effect inputs.
	Colors host.ColorEngine

	// Priorities answers priority queries.
	Priorities host.PriorityMuxer

	// DefaultPriority applies to color and effect inputs given without a
	// priority. Zero selects host.DefaultPriority.
	DefaultPriority int

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

func (c *Context) defaultPriority() int {
	if c.DefaultPriority > 0 {
		return c.DefaultPriority
	}
	return host.DefaultPriority
}

func (c *Context) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Log levels. The values are the constants scripts see.
const (
	LevelDebug = iota
	LevelInfo
	LevelWarning
	LevelError
)

var levelNames = map[string]int{
	"DEBUG":   LevelDebug,
	"INFO":    LevelInfo,
	"WARNING": LevelWarning,
	"ERROR":   LevelError,
}

// PluginModule implements the plugin API module.
type PluginModule struct {
	ctx      *Context
	resolver Resolver
}

// NewPluginModule creates the plugin module.
func NewPluginModule(ctx *Context, resolver Resolver) *PluginModule {
	if ctx == nil {
		ctx = &Context{}
	}
	return &PluginModule{ctx: ctx, resolver: resolver}
}

// Name returns the module name.
func (m *PluginModule) Name() string {
	return "plugin"
}

// Register registers the module into the Lua state.
func (m *PluginModule) Register(L *lua.LState) error {
	mod := L.NewTable()

	funcs := map[string]lua.LGFunction{
		"log":                m.log,
		"abort":              m.abort,
		"sleep":              m.sleep,
		"getSettings":        m.getSettings,
		"getComponentState":  m.getComponentState,
		"setComponentState":  m.setComponentState,
		"setColor":           m.setColor,
		"setEffect":          m.setEffect,
		"getPriorityInfo":    m.getPriorityInfo,
		"getAllPriorities":   m.getAllPriorities,
		"getVisiblePriority": m.getVisiblePriority,
		"setVisiblePriority": m.setVisiblePriority,
		"registerCallback":   m.registerCallback,
		"unregisterCallback": m.unregisterCallback,
	}
	for name, fn := range funcs {
		L.SetField(mod, name, L.NewFunction(fn))
	}

	callbacks := L.NewTable()
	for _, k := range hook.Kinds() {
		L.SetField(callbacks, k.ScriptName(), lua.LNumber(k))
	}
	L.SetField(mod, "callbacks", callbacks)

	levels := L.NewTable()
	for name, v := range levelNames {
		L.SetField(levels, name, lua.LNumber(v))
	}
	L.SetField(mod, "levels", levels)

	components := L.NewTable()
	for _, c := range host.Components() {
		L.SetField(components, c.String(), lua.LNumber(c))
	}
	L.SetField(mod, "components", components)

	L.SetField(mod, "DEFAULT_PRIORITY", lua.LNumber(m.ctx.defaultPriority()))
	L.SetField(mod, "INDEFINITE", lua.LNumber(host.Indefinite))

	plua.NewBridge(L).InstallSentinels()
	L.SetGlobal("plugin", mod)
	return nil
}

// maxArgs is the largest number of arguments each plugin function accepts.
var maxArgs = map[string]int{
	"log":                2,
	"abort":              0,
	"sleep":              1,
	"getSettings":        0,
	"getComponentState":  1,
	"setComponentState":  2,
	"setColor":           5,
	"setEffect":          3,
	"getPriorityInfo":    1,
	"getAllPriorities":   0,
	"getVisiblePriority": 0,
	"setVisiblePriority": 1,
	"registerCallback":   3,
	"unregisterCallback": 1,
}

// resolve checks the argument count and returns the calling plugin, raising
// a ContextResolutionError into the script if there is none.
func (m *PluginModule) resolve(L *lua.LState, fn string) Plugin {
	if limit, ok := maxArgs[fn]; ok {
		checkArgs(L, fn, limit)
	}
	if m.resolver != nil {
		if owner, ok := m.resolver.Owner(L); ok {
			if p, ok := owner.(Plugin); ok {
				return p
			}
		}
	}
	raise(L, &ContextResolutionError{Func: fn})
	return nil
}

// active resolves the calling plugin and reports whether the call should go
// ahead. A plugin asked to stop gets nil pushed and false returned.
func (m *PluginModule) active(L *lua.LState, fn string) (Plugin, bool) {
	p := m.resolve(L, fn)
	if p.InterruptionRequested() {
		L.Push(lua.LNil)
		return p, false
	}
	return p, true
}
