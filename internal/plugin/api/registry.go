package api

import (
	"fmt"
	"slices"
	"sync"

	lua "github.com/yuin/gopher-lua"
)

// Module represents a Lua API module that can be registered with the plugin system.
type Module interface {
	// Name returns the module name (e.g., "plugin", "json").
	Name() string

	// Register registers the module into the Lua state.
	// The module should set itself as the global of the same name.
	Register(L *lua.LState) error
}

// Registry manages API modules and their registration.
type Registry struct {
	mu      sync.RWMutex
	modules map[string]Module
}

// NewRegistry creates a new API registry.
func NewRegistry() *Registry {
	return &Registry{
		modules: make(map[string]Module),
	}
}

// Register adds a module to the registry.
func (r *Registry) Register(mod Module) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.modules[mod.Name()]; exists {
		return fmt.Errorf("module %q already registered", mod.Name())
	}

	r.modules[mod.Name()] = mod
	return nil
}

// Get returns a module by name.
func (r *Registry) Get(name string) (Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	mod, ok := r.modules[name]
	return mod, ok
}

// List returns all registered module names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// InjectAll registers every module into the Lua state and makes each one
// loadable with require.
func (r *Registry) InjectAll(L *lua.LState) error {
	for _, name := range r.List() {
		mod, _ := r.Get(name)
		if err := mod.Register(L); err != nil {
			return fmt.Errorf("failed to register module %q: %w", name, err)
		}
		preload(L, name)
	}
	return nil
}

// preload makes require(name) return the module global.
func preload(L *lua.LState, name string) {
	L.PreloadModule(name, func(L *lua.LState) int {
		L.Push(L.GetGlobal(name))
		return 1
	})
}

// DefaultRegistry creates a registry with the plugin and json modules.
func DefaultRegistry(ctx *Context, resolver Resolver) (*Registry, error) {
	r := NewRegistry()

	modules := []Module{
		NewPluginModule(ctx, resolver),
		NewJSONModule(),
	}

	for _, mod := range modules {
		if err := r.Register(mod); err != nil {
			return nil, fmt.Errorf("failed to register module %q: %w", mod.Name(), err)
		}
	}

	return r, nil
}
