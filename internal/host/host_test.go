package host

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentNames(t *testing.T) {
	assert.Len(t, Components(), 13)
	assert.Equal(t, "SMOOTHING", ComponentSmoothing.String())
	assert.Equal(t, "COMPONENT(99)", Component(99).String())

	c, ok := ParseComponent("ledDevice")
	require.True(t, ok)
	assert.Equal(t, ComponentLEDDevice, c)
	_, ok = ParseComponent("nope")
	assert.False(t, ok)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry(ComponentV4L)
	assert.True(t, reg.ComponentState(ComponentSmoothing))
	assert.False(t, reg.ComponentState(ComponentV4L))

	var mu sync.Mutex
	var events []ComponentEvent
	unsubscribe := reg.SubscribeComponentState(func(c Component, enabled bool) {
		mu.Lock()
		events = append(events, ComponentEvent{c, enabled})
		mu.Unlock()
	})

	assert.True(t, reg.SetComponentState(ComponentSmoothing, false))
	assert.True(t, reg.SetComponentState(ComponentSmoothing, false))
	assert.False(t, reg.SetComponentState(Component(42), true))
	assert.False(t, reg.ComponentState(ComponentSmoothing))

	unsubscribe()
	unsubscribe()
	reg.SetComponentState(ComponentSmoothing, true)

	assert.Equal(t, []ComponentEvent{{ComponentSmoothing, false}}, events)
}

func TestSubscriberPanicIsolated(t *testing.T) {
	reg := NewRegistry()
	called := false
	reg.SubscribeComponentState(func(Component, bool) { panic("bad subscriber") })
	reg.SubscribeComponentState(func(Component, bool) { called = true })

	reg.SetComponentState(ComponentGrabber, false)
	assert.True(t, called)
}

func TestSubscriberPanicLogged(t *testing.T) {
	var buf bytes.Buffer
	logger := hclog.New(&hclog.LoggerOptions{Output: &buf, Level: hclog.Trace})

	reg := NewRegistry()
	reg.SetLogger(logger)
	reg.SubscribeComponentState(func(Component, bool) { panic("bad subscriber") })
	reg.SetComponentState(ComponentGrabber, false)
	assert.Contains(t, buf.String(), "event handler panicked")
	assert.Contains(t, buf.String(), "bad subscriber")

	buf.Reset()
	m := NewMuxer(WithLogger(logger))
	m.SubscribeVisiblePriority(func(int) { panic("bad priority subscriber") })
	m.SetColor(10, ColorRGB{R: 1}, Indefinite, "alpha")
	assert.Contains(t, buf.String(), "bad priority subscriber")
}

func TestColorHex(t *testing.T) {
	c := ColorRGB{R: 255, G: 128, B: 0}
	assert.Equal(t, "#ff8000", c.Hex())

	back, err := ParseColor("#ff8000")
	require.NoError(t, err)
	assert.Equal(t, c, back)

	_, err = ParseColor("orange")
	assert.Error(t, err)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestMuxerPriorities(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewMuxer(WithClock(clock.Now))

	var visible []int
	m.SubscribeVisiblePriority(func(p int) { visible = append(visible, p) })

	assert.Equal(t, []int{LowestPriority}, m.ActivePriorities())
	assert.Equal(t, LowestPriority, m.CurrentPriority())

	m.SetColor(50, ColorRGB{R: 1}, Indefinite, "alpha")
	m.SetColor(20, ColorRGB{G: 2}, 1000, "beta")
	assert.Equal(t, []int{20, 50, LowestPriority}, m.ActivePriorities())
	assert.Equal(t, 20, m.CurrentPriority())

	info, ok := m.PriorityInfo(20)
	require.True(t, ok)
	assert.Equal(t, clock.now.UnixMilli()+1000, info.TimeoutMs)
	assert.Equal(t, ComponentColor, info.Component)
	assert.Equal(t, "beta", info.Origin)
	assert.Equal(t, "#000200", info.Owner)

	info, ok = m.PriorityInfo(50)
	require.True(t, ok)
	assert.Equal(t, int64(Indefinite), info.TimeoutMs)

	assert.True(t, m.SetCurrentSourcePriority(50))
	assert.Equal(t, 50, m.CurrentPriority())
	assert.False(t, m.SetCurrentSourcePriority(7))

	clock.Advance(2 * time.Second)
	_, ok = m.PriorityInfo(20)
	assert.False(t, ok)

	assert.True(t, m.Clear(50))
	assert.False(t, m.Clear(LowestPriority))
	assert.Equal(t, LowestPriority, m.CurrentPriority())

	assert.Equal(t, []int{50, 20, 50, LowestPriority}, visible)
}

func TestMuxerEffects(t *testing.T) {
	m := NewMuxer(WithEffects("Rainbow swirl"))
	assert.Equal(t, 0, m.SetEffect("Rainbow swirl", 40, Indefinite, "alpha"))
	assert.Equal(t, -1, m.SetEffect("Unknown", 40, Indefinite, "alpha"))
	assert.Equal(t, -1, m.SetEffect("", 40, Indefinite, "alpha"))

	info, ok := m.PriorityInfo(40)
	require.True(t, ok)
	assert.Equal(t, ComponentEffect, info.Component)
	assert.Equal(t, "Rainbow swirl", info.Owner)

	_, ok = m.Color(40)
	assert.False(t, ok)
	m.SetColor(41, ColorRGB{B: 9}, Indefinite, "alpha")
	c, ok := m.Color(41)
	require.True(t, ok)
	assert.Equal(t, ColorRGB{B: 9}, c)
}
