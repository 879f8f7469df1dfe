package api

import (
	"encoding/json"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
	lua "github.com/yuin/gopher-lua"

	plua "github.com/dshills/lumen/internal/plugin/lua"
)

// JSONModule implements the json API module.
type JSONModule struct{}

// NewJSONModule creates the json module.
func NewJSONModule() *JSONModule {
	return &JSONModule{}
}

// Name returns the module name.
func (m *JSONModule) Name() string {
	return "json"
}

// Register registers the module into the Lua state.
func (m *JSONModule) Register(L *lua.LState) error {
	mod := L.NewTable()
	L.SetField(mod, "encode", L.NewFunction(m.encode))
	L.SetField(mod, "decode", L.NewFunction(m.decode))
	L.SetField(mod, "get", L.NewFunction(m.get))
	L.SetField(mod, "set", L.NewFunction(m.set))
	L.SetGlobal("json", mod)
	return nil
}

// encode(value) -> string
func (m *JSONModule) encode(L *lua.LState) int {
	checkArgs(L, "encode", 1)
	v := plua.NewBridge(L).ToGoValue(L.Get(1))
	if v == plua.Undefined {
		v = nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		raise(L, &ArgumentError{Func: "encode", Arg: 1, Msg: err.Error()})
	}
	L.Push(lua.LString(data))
	return 1
}

// decode(string) -> value
func (m *JSONModule) decode(L *lua.LState) int {
	checkArgs(L, "decode", 1)
	s := argString(L, "decode", 1)
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		raise(L, &ArgumentError{Func: "decode", Arg: 1, Msg: err.Error()})
	}
	L.Push(plua.NewBridge(L).ToLuaValue(v))
	return 1
}

// get(json, path) -> value | nil
// Path uses gjson syntax, e.g. "leds.0.color".
func (m *JSONModule) get(L *lua.LState) int {
	checkArgs(L, "get", 2)
	doc := argString(L, "get", 1)
	path := argString(L, "get", 2)
	if !gjson.Valid(doc) {
		raise(L, &ArgumentError{Func: "get", Arg: 1, Msg: "invalid json"})
	}
	res := gjson.Get(doc, path)
	if !res.Exists() {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(plua.NewBridge(L).ToLuaValue(res.Value()))
	return 1
}

// set(json, path, value) -> json
// Path uses sjson syntax; a nil value deletes the path.
func (m *JSONModule) set(L *lua.LState) int {
	checkArgs(L, "set", 3)
	doc := argString(L, "set", 1)
	path := argString(L, "set", 2)

	var (
		out string
		err error
	)
	if L.Get(3) == lua.LNil {
		out, err = sjson.Delete(doc, path)
	} else {
		out, err = sjson.Set(doc, path, plua.NewBridge(L).ToGoValue(L.Get(3)))
	}
	if err != nil {
		raise(L, &ArgumentError{Func: "set", Msg: err.Error()})
	}
	L.Push(lua.LString(out))
	return 1
}
