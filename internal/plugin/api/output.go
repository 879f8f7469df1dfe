package api

import (
	"fmt"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/host"
	plua "github.com/dshills/lumen/internal/plugin/lua"
)

// getComponentState(component) -> bool
func (m *PluginModule) getComponentState(L *lua.LState) int {
	_, ok := m.active(L, "getComponentState")
	if !ok {
		return 1
	}
	c := host.Component(argInt(L, "getComponentState", 1))
	if m.ctx.Components == nil || !c.Valid() {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(m.ctx.Components.ComponentState(c)))
	return 1
}

// setComponentState(component, enable) -> 1 | 0
func (m *PluginModule) setComponentState(L *lua.LState) int {
	p, ok := m.active(L, "setComponentState")
	if !ok {
		return 1
	}
	c := host.Component(argInt(L, "setComponentState", 1))
	enable := argBool(L, "setComponentState", 2)

	if m.ctx.Components == nil || !c.Valid() || !m.ctx.Components.SetComponentState(c, enable) {
		p.Logger().Warn("setComponentState: unknown component", "component", int(c))
		L.Push(lua.LNumber(0))
		return 1
	}
	L.Push(lua.LNumber(1))
	return 1
}

// setColor(r, g, b[, durationMs[, priority]])
func (m *PluginModule) setColor(L *lua.LState) int {
	p, ok := m.active(L, "setColor")
	if !ok {
		return 1
	}
	var rgb [3]uint8
	for i := range rgb {
		v := argInt(L, "setColor", i+1)
		if v < 0 || v > 255 {
			raise(L, &ArgumentError{Func: "setColor", Arg: i + 1, Msg: fmt.Sprintf("color component %d out of range 0-255", v)})
		}
		rgb[i] = uint8(v)
	}
	duration := optInt(L, "setColor", 4, host.Indefinite)
	priority := optInt(L, "setColor", 5, m.ctx.defaultPriority())

	if m.ctx.Colors == nil {
		raise(L, fmt.Errorf("setColor: %w", ErrNoProvider))
	}
	m.ctx.Colors.SetColor(priority, host.ColorRGB{R: rgb[0], G: rgb[1], B: rgb[2]}, duration, p.DisplayName())
	return 0
}

// setEffect(name[, durationMs[, priority]]) -> status
func (m *PluginModule) setEffect(L *lua.LState) int {
	p, ok := m.active(L, "setEffect")
	if !ok {
		return 1
	}
	name := argString(L, "setEffect", 1)
	duration := optInt(L, "setEffect", 2, host.Indefinite)
	priority := optInt(L, "setEffect", 3, m.ctx.defaultPriority())

	if m.ctx.Colors == nil {
		raise(L, fmt.Errorf("setEffect: %w", ErrNoProvider))
	}
	L.Push(lua.LNumber(m.ctx.Colors.SetEffect(name, priority, duration, p.DisplayName())))
	return 1
}

// getPriorityInfo(priority) -> {priority, timeout, componentId, origin, owner}
// timeout is the remaining time in milliseconds, or the indefinite marker.
func (m *PluginModule) getPriorityInfo(L *lua.LState) int {
	_, ok := m.active(L, "getPriorityInfo")
	if !ok {
		return 1
	}
	priority := argInt(L, "getPriorityInfo", 1)
	if m.ctx.Priorities == nil {
		L.Push(lua.LNil)
		return 1
	}
	info, found := m.ctx.Priorities.PriorityInfo(priority)
	if !found {
		L.Push(lua.LNil)
		return 1
	}
	info.TimeoutMs = RemainingTimeout(info.TimeoutMs, m.ctx.now().UnixMilli())
	L.Push(plua.NewBridge(L).ToLuaValue(info))
	return 1
}

// RemainingTimeout converts an absolute deadline to the time left until it.
// Values <= 0 mark inputs without a deadline and are passed through.
func RemainingTimeout(deadlineMs, nowMs int64) int64 {
	if deadlineMs <= 0 {
		return deadlineMs
	}
	return deadlineMs - nowMs
}

// getAllPriorities() -> {priority...}
func (m *PluginModule) getAllPriorities(L *lua.LState) int {
	_, ok := m.active(L, "getAllPriorities")
	if !ok {
		return 1
	}
	var list []int
	if m.ctx.Priorities != nil {
		list = m.ctx.Priorities.ActivePriorities()
	}
	L.Push(plua.NewBridge(L).ToLuaValue(list))
	return 1
}

// getVisiblePriority() -> priority
func (m *PluginModule) getVisiblePriority(L *lua.LState) int {
	_, ok := m.active(L, "getVisiblePriority")
	if !ok {
		return 1
	}
	if m.ctx.Priorities == nil {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LNumber(m.ctx.Priorities.CurrentPriority()))
	return 1
}

// setVisiblePriority(priority) -> bool
func (m *PluginModule) setVisiblePriority(L *lua.LState) int {
	_, ok := m.active(L, "setVisiblePriority")
	if !ok {
		return 1
	}
	priority := argInt(L, "setVisiblePriority", 1)
	if m.ctx.Priorities == nil {
		L.Push(lua.LFalse)
		return 1
	}
	L.Push(lua.LBool(m.ctx.Priorities.SetCurrentSourcePriority(priority)))
	return 1
}
