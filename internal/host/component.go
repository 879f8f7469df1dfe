package host

import (
	"fmt"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
)

// Component identifies a switchable part of the host.
type Component int

// Known components. The values are the constants scripts see.
const (
	ComponentAll Component = iota
	ComponentSmoothing
	ComponentBlackBorder
	ComponentForwarder
	ComponentBoblightServer
	ComponentGrabber
	ComponentV4L
	ComponentColor
	ComponentEffect
	ComponentImage
	ComponentLEDDevice
	ComponentFlatbufServer
	ComponentProtoServer

	componentCount
)

var componentNames = [componentCount]string{
	"ALL",
	"SMOOTHING",
	"BLACKBORDER",
	"FORWARDER",
	"BOBLIGHTSERVER",
	"GRABBER",
	"V4L",
	"COLOR",
	"EFFECT",
	"IMAGE",
	"LEDDEVICE",
	"FLATBUFSERVER",
	"PROTOSERVER",
}

// Components returns every known component in declaration order.
func Components() []Component {
	out := make([]Component, 0, componentCount)
	for c := Component(0); c < componentCount; c++ {
		out = append(out, c)
	}
	return out
}

// Valid reports whether c is a known component.
func (c Component) Valid() bool {
	return c >= 0 && c < componentCount
}

// String returns the constant name of the component.
func (c Component) String() string {
	if !c.Valid() {
		return fmt.Sprintf("COMPONENT(%d)", int(c))
	}
	return componentNames[c]
}

// ParseComponent resolves a component from its name, ignoring case.
func ParseComponent(name string) (Component, bool) {
	for i, n := range componentNames {
		if strings.EqualFold(n, name) {
			return Component(i), true
		}
	}
	return 0, false
}

// ComponentRegister reports and switches component state.
type ComponentRegister interface {
	// ComponentState reports whether c is enabled.
	ComponentState(c Component) bool

	// SetComponentState switches c. Returns false if c is not recognised.
	SetComponentState(c Component, enable bool) bool

	// SubscribeComponentState registers fn for state changes.
	// The returned function removes the subscription.
	SubscribeComponentState(fn func(c Component, enabled bool)) (unsubscribe func())
}

// Registry is an in-memory ComponentRegister.
// Every component starts enabled.
type Registry struct {
	mu     sync.RWMutex
	states map[Component]bool
	subs   subscribers[ComponentEvent]
}

// ComponentEvent is a component state change.
type ComponentEvent struct {
	Component Component
	Enabled   bool
}

// NewRegistry creates a registry with every component enabled except the
// listed ones.
func NewRegistry(disabled ...Component) *Registry {
	r := &Registry{states: make(map[Component]bool, componentCount)}
	for _, c := range Components() {
		r.states[c] = true
	}
	for _, c := range disabled {
		if c.Valid() {
			r.states[c] = false
		}
	}
	return r
}

// SetLogger sets the logger that reports panicking subscribers.
func (r *Registry) SetLogger(l hclog.Logger) {
	r.subs.setLogger(l)
}

// ComponentState implements ComponentRegister.
func (r *Registry) ComponentState(c Component) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.states[c]
}

// SetComponentState implements ComponentRegister.
// Subscribers are only notified when the state actually changes.
func (r *Registry) SetComponentState(c Component, enable bool) bool {
	if !c.Valid() {
		return false
	}

	r.mu.Lock()
	changed := r.states[c] != enable
	r.states[c] = enable
	r.mu.Unlock()

	if changed {
		r.subs.publish(ComponentEvent{Component: c, Enabled: enable})
	}
	return true
}

// SubscribeComponentState implements ComponentRegister.
func (r *Registry) SubscribeComponentState(fn func(c Component, enabled bool)) func() {
	return r.subs.subscribe(func(ev ComponentEvent) {
		fn(ev.Component, ev.Enabled)
	})
}
