package api

import (
	"fmt"
	"math"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/host"
	"github.com/dshills/lumen/internal/plugin/hook"
	plua "github.com/dshills/lumen/internal/plugin/lua"
)

// log(message[, level])
// Writes message to the plugin log. Level defaults to plugin.levels.DEBUG.
func (m *PluginModule) log(L *lua.LState) int {
	p := m.resolve(L, "log")
	msg := argString(L, "log", 1)
	level := optInt(L, "log", 2, LevelDebug)

	logger := p.Logger()
	switch level {
	case LevelDebug:
		logger.Debug(msg)
	case LevelInfo:
		logger.Info(msg)
	case LevelWarning:
		logger.Warn(msg)
	case LevelError:
		logger.Error(msg)
	default:
		raise(L, &ArgumentError{Func: "log", Arg: 2, Msg: fmt.Sprintf("unknown log level %d", level)})
	}
	return 0
}

// abort() -> bool
// Reports whether the plugin was asked to stop. Queued events are delivered
// before it returns.
func (m *PluginModule) abort(L *lua.LState) int {
	p := m.resolve(L, "abort")
	p.Checkpoint()
	L.Push(lua.LBool(p.InterruptionRequested()))
	return 1
}

// maxSleepMs is the longest sleep that fits a time.Duration.
const maxSleepMs = math.MaxInt64 / int64(time.Millisecond)

// sleep(ms) -> interrupted
// Blocks while delivering queued events. Returns true early when the plugin
// is asked to stop.
func (m *PluginModule) sleep(L *lua.LState) int {
	p := m.resolve(L, "sleep")
	ms := argInt(L, "sleep", 1)
	if ms < 0 {
		raise(L, &ArgumentError{Func: "sleep", Arg: 1, Msg: "duration must not be negative"})
	}
	if int64(ms) > maxSleepMs {
		raise(L, &ArgumentError{Func: "sleep", Arg: 1, Msg: fmt.Sprintf("duration must not exceed %d ms", maxSleepMs)})
	}
	if p.InterruptionRequested() {
		L.Push(lua.LTrue)
		return 1
	}
	L.Push(lua.LBool(p.Sleep(time.Duration(ms) * time.Millisecond)))
	return 1
}

// getSettings() -> table
func (m *PluginModule) getSettings(L *lua.LState) int {
	p, ok := m.active(L, "getSettings")
	if !ok {
		return 1
	}
	L.Push(plua.NewBridge(L).ToLuaValue(p.Settings()))
	return 1
}

// registerCallback(kind, fn[, components])
// Subscribes fn to a callback kind. For component state callbacks, an
// optional list of components restricts which events fn receives; an empty
// list receives none. Other kinds take no list.
func (m *PluginModule) registerCallback(L *lua.LState) int {
	p, ok := m.active(L, "registerCallback")
	if !ok {
		return 1
	}

	kind := hook.Kind(argInt(L, "registerCallback", 1))
	if !kind.Valid() {
		raise(L, &ArgumentError{Func: "registerCallback", Arg: 1, Msg: fmt.Sprintf("unknown callback kind %d", int(kind))})
	}
	fn := argFunction(L, "registerCallback", 2)

	ids := optIntList(L, "registerCallback", 3)
	reg := hook.Unfiltered(fn)
	if ids != nil {
		if kind != hook.OnComponentStateChanged {
			raise(L, &ArgumentError{Func: "registerCallback", Arg: 3, Msg: fmt.Sprintf("%s takes no component filter", kind.ScriptName())})
		}
		components := make([]host.Component, 0, len(ids))
		for _, id := range ids {
			c := host.Component(id)
			if !c.Valid() {
				raise(L, &ArgumentError{Func: "registerCallback", Arg: 3, Msg: fmt.Sprintf("unknown component %d", id)})
			}
			components = append(components, c)
		}
		reg = hook.Filtered(fn, components...)
	}

	if err := p.Callbacks().Register(kind, reg); err != nil {
		raise(L, &ArgumentError{Func: "registerCallback", Msg: err.Error()})
	}
	return 0
}

// unregisterCallback(fn) -> count
// Removes fn from every callback kind.
func (m *PluginModule) unregisterCallback(L *lua.LState) int {
	p := m.resolve(L, "unregisterCallback")
	fn := argFunction(L, "unregisterCallback", 1)
	L.Push(lua.LNumber(p.Callbacks().Unregister(fn)))
	return 1
}
