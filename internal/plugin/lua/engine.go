package lua

import (
	"context"
	"fmt"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Engine creates the isolated Lua contexts of a process and maps each
// context back to the owner it was created for.
//
// gopher-lua states share no global interpreter state, so the engine lock
// only serializes context creation and teardown and guards the owner table.
// Execution inside one context is guarded by that context's Enter lock.
type Engine struct {
	mu       sync.Mutex
	owners   map[*lua.Global]any
	defaults []ContextOption
	created  uint64
}

// NewEngine creates an engine. The options are applied to every context it
// creates, before per-context options.
func NewEngine(defaults ...ContextOption) *Engine {
	return &Engine{
		owners:   make(map[*lua.Global]any),
		defaults: defaults,
	}
}

// NewContext creates an isolated context bound to owner.
// The owner is what Owner returns for any call executing inside the context,
// including calls made from coroutines the script creates.
func (e *Engine) NewContext(owner any, opts ...ContextOption) (*Context, error) {
	if owner == nil {
		return nil, fmt.Errorf("lua: context owner is nil")
	}

	c := &Context{
		callStackSize: DefaultCallStackSize,
		registrySize:  DefaultRegistrySize,
		engine:        e,
		owner:         owner,
	}
	for _, opt := range e.defaults {
		opt(c)
	}
	for _, opt := range opts {
		opt(c)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	c.L = lua.NewState(lua.Options{
		CallStackSize:       c.callStackSize,
		RegistrySize:        c.registrySize,
		IncludeGoStackTrace: c.goStackTrace,
	})
	c.killCtx, c.kill = context.WithCancel(context.Background())
	c.L.SetContext(c.killCtx)

	base := lua.LuaPathDefault
	if pkg, ok := c.L.GetGlobal("package").(*lua.LTable); ok {
		if p, ok := pkg.RawGetString("path").(lua.LString); ok {
			base = string(p)
		}
		c.searchPath = SearchPath(base, c.hostPaths, c.dependencyPaths)
		pkg.RawSetString("path", lua.LString(c.searchPath))
	}

	e.owners[c.L.G] = owner
	e.created++
	return c, nil
}

// Owner resolves the owner of the context L executes in.
func (e *Engine) Owner(L *lua.LState) (any, bool) {
	if L == nil {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	owner, ok := e.owners[L.G]
	return owner, ok
}

// Len returns the number of live contexts.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.owners)
}

// Created returns the number of contexts created over the engine's lifetime.
func (e *Engine) Created() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.created
}

// release unbinds and closes a context.
func (e *Engine) release(c *Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.owners, c.L.G)
	c.kill()
	c.L.Close()
}
