package hook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	lua "github.com/yuin/gopher-lua"

	"github.com/dshills/lumen/internal/host"
)

func newFn(L *lua.LState) *lua.LFunction {
	return L.NewFunction(func(*lua.LState) int { return 0 })
}

func TestKind(t *testing.T) {
	assert.Equal(t, []Kind{OnComponentStateChanged, OnSettingsChanged, OnVisiblePriorityChanged}, Kinds())
	for i, k := range Kinds() {
		assert.Equal(t, i, int(k))
		assert.True(t, k.Valid())
		assert.NotEmpty(t, k.ScriptName())
	}
	assert.False(t, Kind(-1).Valid())
	assert.False(t, Kind(3).Valid())
	assert.Equal(t, "Kind(7)", Kind(7).String())
	assert.Equal(t, "OnSettingsChanged", OnSettingsChanged.String())
}

func TestRegisterIdempotent(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	f := newFn(L)
	table := NewTable()

	require.NoError(t, table.Register(OnSettingsChanged, Unfiltered(f)))
	require.NoError(t, table.Register(OnSettingsChanged, Unfiltered(f)))
	assert.Equal(t, 1, table.Len(OnSettingsChanged))
	assert.Equal(t, []*lua.LFunction{f}, table.Handlers(OnSettingsChanged))

	// re-registering replaces the filter
	require.NoError(t, table.Register(OnComponentStateChanged, Filtered(f, host.ComponentSmoothing)))
	require.NoError(t, table.Register(OnComponentStateChanged, Unfiltered(f)))
	regs := table.Registrations(OnComponentStateChanged)
	require.Len(t, regs, 1)
	assert.False(t, regs[0].IsFiltered())

	// the same function may be registered under different kinds
	assert.Equal(t, 1, table.Len(OnSettingsChanged))
}

func TestRegisterPreservesOrder(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	a, b, c := newFn(L), newFn(L), newFn(L)
	table := NewTable()

	for _, fn := range []*lua.LFunction{a, b, c} {
		require.NoError(t, table.Register(OnVisiblePriorityChanged, Unfiltered(fn)))
	}
	require.NoError(t, table.Register(OnVisiblePriorityChanged, Unfiltered(a)))
	assert.Equal(t, []*lua.LFunction{b, c, a}, table.Handlers(OnVisiblePriorityChanged))
}

func TestRegisterRejectsInvalid(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	table := NewTable()

	assert.Error(t, table.Register(Kind(9), Unfiltered(newFn(L))))
	assert.Error(t, table.Register(OnSettingsChanged, Unfiltered(nil)))
	assert.Nil(t, table.Handlers(Kind(9)))
	assert.Equal(t, 0, table.Len(Kind(9)))
}

func TestUnregisterAllKinds(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	f, g := newFn(L), newFn(L)
	table := NewTable()

	require.NoError(t, table.Register(OnComponentStateChanged, Filtered(f, host.ComponentLEDDevice)))
	require.NoError(t, table.Register(OnSettingsChanged, Unfiltered(f)))
	require.NoError(t, table.Register(OnSettingsChanged, Unfiltered(g)))

	assert.Equal(t, 2, table.Unregister(f))
	assert.Empty(t, table.ComponentHandlers(host.ComponentLEDDevice))
	assert.Equal(t, []*lua.LFunction{g}, table.Handlers(OnSettingsChanged))
	assert.Equal(t, 0, table.Unregister(f))

	table.Clear()
	assert.Equal(t, 0, table.Len(OnSettingsChanged))
}

func TestComponentFilter(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	cd, e, any := newFn(L), newFn(L), newFn(L)
	table := NewTable()

	require.NoError(t, table.Register(OnComponentStateChanged, Filtered(cd, host.ComponentSmoothing, host.ComponentBlackBorder)))
	require.NoError(t, table.Register(OnComponentStateChanged, Filtered(e, host.ComponentGrabber)))
	require.NoError(t, table.Register(OnComponentStateChanged, Unfiltered(any)))

	assert.Equal(t, []*lua.LFunction{cd, any}, table.ComponentHandlers(host.ComponentSmoothing))
	assert.Equal(t, []*lua.LFunction{e, any}, table.ComponentHandlers(host.ComponentGrabber))
	assert.Equal(t, []*lua.LFunction{any}, table.ComponentHandlers(host.ComponentV4L))

	regs := table.Registrations(OnComponentStateChanged)
	assert.Equal(t, []host.Component{host.ComponentSmoothing, host.ComponentBlackBorder}, regs[0].Components())
	assert.Nil(t, regs[2].Components())
}

func TestFilteredEmptyReceivesNothing(t *testing.T) {
	L := lua.NewState()
	defer L.Close()
	fn := newFn(L)

	reg := Filtered(fn, []host.Component{}...)
	assert.True(t, reg.IsFiltered())
	assert.Empty(t, reg.Components())
	for _, c := range host.Components() {
		assert.False(t, reg.Accepts(c), c.String())
	}

	table := NewTable()
	require.NoError(t, table.Register(OnComponentStateChanged, reg))
	assert.Equal(t, 1, table.Len(OnComponentStateChanged))
	assert.Empty(t, table.ComponentHandlers(host.ComponentLEDDevice))
}
