package hook

import (
	"fmt"
	"slices"

	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/host"
)

// Registration is one subscription: a script function, optionally
// restricted to a set of components.
type Registration struct {
	Fn *lua.LFunction

	// filter is nil for unfiltered registrations.
	filter map[host.Component]struct{}
}

// Unfiltered creates a registration that receives every event.
func Unfiltered(fn *lua.LFunction) Registration {
	return Registration{Fn: fn}
}

// Filtered creates a registration restricted to the given components.
// With no components it receives no component events.
func Filtered(fn *lua.LFunction, components ...host.Component) Registration {
	set := make(map[host.Component]struct{}, len(components))
	for _, c := range components {
		set[c] = struct{}{}
	}
	return Registration{Fn: fn, filter: set}
}

// IsFiltered reports whether the registration carries a component filter.
func (r Registration) IsFiltered() bool {
	return r.filter != nil
}

// Components returns the filter set in ascending order, or nil if unfiltered.
func (r Registration) Components() []host.Component {
	if r.filter == nil {
		return nil
	}
	out := make([]host.Component, 0, len(r.filter))
	for c := range r.filter {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// Accepts reports whether an event for component c is delivered to r.
func (r Registration) Accepts(c host.Component) bool {
	if r.filter == nil {
		return true
	}
	_, ok := r.filter[c]
	return ok
}

// Table holds a plugin's registrations, in registration order per kind.
//
// A Table is not safe for concurrent use. It belongs to the goroutine that
// runs the plugin's script; events are dispatched on that goroutine too.
type Table struct {
	entries [kindCount][]Registration
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{}
}

// Register adds reg under kind. A registration of the same function already
// present under kind is removed first.
func (t *Table) Register(kind Kind, reg Registration) error {
	if !kind.Valid() {
		return fmt.Errorf("invalid callback kind %d", int(kind))
	}
	if reg.Fn == nil {
		return fmt.Errorf("callback for %s is not a function", kind)
	}
	t.entries[kind] = slices.DeleteFunc(t.entries[kind], func(r Registration) bool {
		return r.Fn == reg.Fn
	})
	t.entries[kind] = append(t.entries[kind], reg)
	return nil
}

// Unregister removes every registration of fn across all kinds and returns
// how many were removed.
func (t *Table) Unregister(fn *lua.LFunction) int {
	removed := 0
	for k := range t.entries {
		before := len(t.entries[k])
		t.entries[k] = slices.DeleteFunc(t.entries[k], func(r Registration) bool {
			return r.Fn == fn
		})
		removed += before - len(t.entries[k])
	}
	return removed
}

// Handlers returns the functions registered under kind, ignoring filters.
// The returned slice is a copy.
func (t *Table) Handlers(kind Kind) []*lua.LFunction {
	if !kind.Valid() {
		return nil
	}
	out := make([]*lua.LFunction, 0, len(t.entries[kind]))
	for _, r := range t.entries[kind] {
		out = append(out, r.Fn)
	}
	return out
}

// ComponentHandlers returns the component-state functions whose filter
// accepts c.
func (t *Table) ComponentHandlers(c host.Component) []*lua.LFunction {
	var out []*lua.LFunction
	for _, r := range t.entries[OnComponentStateChanged] {
		if r.Accepts(c) {
			out = append(out, r.Fn)
		}
	}
	return out
}

// Registrations returns a copy of the registrations under kind.
func (t *Table) Registrations(kind Kind) []Registration {
	if !kind.Valid() {
		return nil
	}
	return slices.Clone(t.entries[kind])
}

// Len returns the number of registrations under kind.
func (t *Table) Len(kind Kind) int {
	if !kind.Valid() {
		return 0
	}
	return len(t.entries[kind])
}

// Clear removes every registration.
func (t *Table) Clear() {
	for k := range t.entries {
		t.entries[k] = nil
	}
}
