package lua

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	glua "github.com/yuin/gopher-lua"
)

func TestNumberNormalization(t *testing.T) {
	tests := []struct {
		name  string
		input float64
		want  glua.LNumber
	}{
		{"integral", 2.0, 2},
		{"fraction", 2.5, 2.5},
		{"negative integral", -7.0, -7},
		{"within epsilon", 2.0000000000000004, 2},
		{"below within epsilon", 1.9999999999999998, 2},
		{"small fraction", 0.1, 0.1},
		{"zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Number(tt.input))
		})
	}
}

func TestBridgeRoundTripNumbers(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	assert.Equal(t, int64(2), bridge.ToGoValue(bridge.ToLuaValue(2.0)))
	assert.Equal(t, 2.5, bridge.ToGoValue(bridge.ToLuaValue(2.5)))
	assert.Equal(t, int64(42), bridge.ToGoValue(bridge.ToLuaValue(42)))

	// integers are visible as integers from script code
	L.SetGlobal("v", bridge.ToLuaValue(2.0))
	require.NoError(t, L.DoString(`isint = math.floor(v) == v`))
	assert.Equal(t, glua.LTrue, L.GetGlobal("isint"))
}

func TestBridgeSentinels(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)
	bridge.InstallSentinels()

	none := bridge.ToLuaValue(nil)
	missing := bridge.ToLuaValue(Undefined)

	assert.Equal(t, glua.LNil, none)
	assert.NotEqual(t, none, missing)
	assert.Same(t, bridge.NotImplemented(), missing)
	assert.Equal(t, Undefined, bridge.ToGoValue(missing))
	assert.Nil(t, bridge.ToGoValue(none))

	L.SetGlobal("v", missing)
	require.NoError(t, L.DoString(`same = (v == NotImplemented); str = tostring(v)`))
	assert.Equal(t, glua.LTrue, L.GetGlobal("same"))
	assert.Equal(t, glua.LString("NotImplemented"), L.GetGlobal("str"))
}

func TestBridgeNested(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	doc := map[string]any{
		"name":    "alpha",
		"enabled": true,
		"speed":   1.0,
		"ratio":   0.75,
		"list":    []any{1.0, "two", map[string]any{"deep": nil}},
		"tags":    []string{"a", "b"},
	}

	lv := bridge.ToLuaValue(doc)
	tbl, ok := lv.(*glua.LTable)
	require.True(t, ok)
	assert.Equal(t, glua.LString("alpha"), tbl.RawGetString("name"))
	assert.Equal(t, glua.LTrue, tbl.RawGetString("enabled"))
	assert.Equal(t, glua.LNumber(1), tbl.RawGetString("speed"))

	back := bridge.ToGoValue(lv).(map[string]any)
	assert.Equal(t, int64(1), back["speed"])
	assert.Equal(t, 0.75, back["ratio"])
	assert.Equal(t, []any{"a", "b"}, back["tags"])
	list := back["list"].([]any)
	require.Len(t, list, 3)
	assert.Equal(t, int64(1), list[0])
	assert.Equal(t, "two", list[1])
}

type rgb struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

type level int

func TestBridgeReflection(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	tbl, ok := bridge.ToLuaValue(rgb{R: 255, G: 128, B: 0}).(*glua.LTable)
	require.True(t, ok)
	assert.Equal(t, glua.LNumber(255), tbl.RawGetString("r"))
	assert.Equal(t, glua.LNumber(128), tbl.RawGetString("g"))
	assert.Equal(t, glua.LNumber(0), tbl.RawGetString("b"))

	assert.Equal(t, glua.LNumber(3), bridge.ToLuaValue(level(3)))
	assert.Equal(t, glua.LNil, bridge.ToLuaValue((*rgb)(nil)))
}

func TestBridgeCircularTable(t *testing.T) {
	L := glua.NewState()
	defer L.Close()
	bridge := NewBridge(L)

	require.NoError(t, L.DoString(`t = {name = "x"}; t.self = t`))
	m, ok := bridge.ToGoValue(L.GetGlobal("t")).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "x", m["name"])
	assert.Nil(t, m["self"])
}
