package host

import (
	"slices"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Muxer is an in-memory PriorityMuxer and ColorEngine.
//
// The lowest registered priority number is visible unless a source was
// selected with SetCurrentSourcePriority. Timed inputs expire lazily on the
// next access after their deadline.
type Muxer struct {
	mu       sync.Mutex
	now      func() time.Time
	inputs   map[int]input
	selected int
	visible  int
	effects  map[string]struct{}
	subs     subscribers[int]
}

type input struct {
	info  InputInfo
	color ColorRGB
}

// MuxerOption configures a Muxer.
type MuxerOption func(*Muxer)

// WithClock sets the time source.
func WithClock(now func() time.Time) MuxerOption {
	return func(m *Muxer) {
		m.now = now
	}
}

// WithLogger sets the logger that reports panicking subscribers.
func WithLogger(l hclog.Logger) MuxerOption {
	return func(m *Muxer) {
		m.subs.setLogger(l)
	}
}

// WithEffects restricts SetEffect to the named effects.
func WithEffects(names ...string) MuxerOption {
	return func(m *Muxer) {
		m.effects = make(map[string]struct{}, len(names))
		for _, n := range names {
			m.effects[n] = struct{}{}
		}
	}
}

// NewMuxer creates a muxer holding only the background input.
func NewMuxer(opts ...MuxerOption) *Muxer {
	m := &Muxer{
		now:      time.Now,
		inputs:   make(map[int]input),
		selected: -1,
		visible:  LowestPriority,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.inputs[LowestPriority] = input{info: InputInfo{
		Priority:  LowestPriority,
		TimeoutMs: Indefinite,
		Component: ComponentColor,
		Origin:    "System",
		Owner:     "Background",
	}}
	return m
}

// SetColor implements ColorEngine.
func (m *Muxer) SetColor(priority int, color ColorRGB, durationMs int, origin string) {
	m.register(priority, input{
		info: InputInfo{
			Priority:  priority,
			TimeoutMs: m.deadline(durationMs),
			Component: ComponentColor,
			Origin:    origin,
			Owner:     color.Hex(),
		},
		color: color,
	})
}

// SetEffect implements ColorEngine.
func (m *Muxer) SetEffect(name string, priority, durationMs int, origin string) int {
	if name == "" {
		return -1
	}
	if m.effects != nil {
		if _, ok := m.effects[name]; !ok {
			return -1
		}
	}
	m.register(priority, input{info: InputInfo{
		Priority:  priority,
		TimeoutMs: m.deadline(durationMs),
		Component: ComponentEffect,
		Origin:    origin,
		Owner:     name,
	}})
	return 0
}

// Clear removes the input at priority. The background input stays.
func (m *Muxer) Clear(priority int) bool {
	if priority == LowestPriority {
		return false
	}
	m.mu.Lock()
	_, ok := m.inputs[priority]
	delete(m.inputs, priority)
	if m.selected == priority {
		m.selected = -1
	}
	changed := m.updateVisibleLocked()
	visible := m.visible
	m.mu.Unlock()

	if changed {
		m.subs.publish(visible)
	}
	return ok
}

// Color returns the color registered at priority, if it is a color input.
func (m *Muxer) Color(priority int) (ColorRGB, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.inputs[priority]
	if !ok || in.info.Component != ComponentColor || priority == LowestPriority {
		return ColorRGB{}, false
	}
	return in.color, true
}

// PriorityInfo implements PriorityMuxer.
func (m *Muxer) PriorityInfo(priority int) (InputInfo, bool) {
	m.expire()
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.inputs[priority]
	return in.info, ok
}

// ActivePriorities implements PriorityMuxer.
func (m *Muxer) ActivePriorities() []int {
	m.expire()
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int, 0, len(m.inputs))
	for p := range m.inputs {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// CurrentPriority implements PriorityMuxer.
func (m *Muxer) CurrentPriority() int {
	m.expire()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.visible
}

// SetCurrentSourcePriority implements PriorityMuxer.
func (m *Muxer) SetCurrentSourcePriority(priority int) bool {
	m.expire()
	m.mu.Lock()
	if _, ok := m.inputs[priority]; !ok {
		m.mu.Unlock()
		return false
	}
	m.selected = priority
	changed := m.updateVisibleLocked()
	m.mu.Unlock()

	if changed {
		m.subs.publish(priority)
	}
	return true
}

// SubscribeVisiblePriority implements PriorityMuxer.
func (m *Muxer) SubscribeVisiblePriority(fn func(priority int)) func() {
	return m.subs.subscribe(fn)
}

func (m *Muxer) deadline(durationMs int) int64 {
	if durationMs <= 0 {
		return Indefinite
	}
	return m.now().Add(time.Duration(durationMs) * time.Millisecond).UnixMilli()
}

func (m *Muxer) register(priority int, in input) {
	m.mu.Lock()
	m.inputs[priority] = in
	changed := m.updateVisibleLocked()
	visible := m.visible
	m.mu.Unlock()

	if changed {
		m.subs.publish(visible)
	}
}

// expire drops inputs whose deadline has passed.
func (m *Muxer) expire() {
	now := m.now().UnixMilli()

	m.mu.Lock()
	for p, in := range m.inputs {
		if in.info.TimeoutMs > 0 && in.info.TimeoutMs <= now {
			delete(m.inputs, p)
			if m.selected == p {
				m.selected = -1
			}
		}
	}
	changed := m.updateVisibleLocked()
	visible := m.visible
	m.mu.Unlock()

	if changed {
		m.subs.publish(visible)
	}
}

// updateVisibleLocked recomputes the visible priority and reports whether it
// changed. Caller must hold m.mu.
func (m *Muxer) updateVisibleLocked() bool {
	next := LowestPriority
	if _, ok := m.inputs[m.selected]; ok && m.selected >= 0 {
		next = m.selected
	} else {
		for p := range m.inputs {
			if p < next {
				next = p
			}
		}
	}
	if next == m.visible {
		return false
	}
	m.visible = next
	return true
}
