package lua

import (
	"fmt"
	"math"
	"reflect"

	lua "github.com/yuin/gopher-lua"
)

// Undefined is the Go value for "missing" as opposed to nil ("none").
// ToLuaValue maps it to the NotImplemented sentinel and ToGoValue maps the
// sentinel back to Undefined.
var Undefined = undefined{}

type undefined struct{}

func (undefined) String() string { return "NotImplemented" }

// NotImplementedName is the global name scripts see the sentinel under.
const NotImplementedName = "NotImplemented"

const notImplementedKey = "lumen.NotImplemented"

// epsilon is the difference between 1.0 and the next representable float64.
const epsilon = 2.220446049250313e-16

// Bridge provides utilities for Go-Lua interoperability.
//
// Conversions are pure: values are copied, nothing is cached between calls,
// and intermediate tables are ordinary garbage-collected Lua values.
type Bridge struct {
	L *lua.LState
}

// NewBridge creates a new Bridge for the given Lua state.
func NewBridge(L *lua.LState) *Bridge {
	return &Bridge{L: L}
}

// ToGoValue converts a Lua value to a Go value.
func (b *Bridge) ToGoValue(lv lua.LValue) any {
	return b.toGoValueWithVisited(lv, make(map[*lua.LTable]bool))
}

// toGoValueWithVisited converts a Lua value to a Go value, tracking visited tables.
func (b *Bridge) toGoValueWithVisited(lv lua.LValue, visited map[*lua.LTable]bool) any {
	if lv == nil {
		return nil
	}

	switch v := lv.(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		f := float64(v)
		if isIntegral(f) {
			return int64(f)
		}
		return f
	case lua.LString:
		return string(v)
	case *lua.LTable:
		// Check for circular reference
		if visited[v] {
			return nil // Break circular reference
		}
		visited[v] = true
		return b.tableToGoWithVisited(v, visited)
	case *lua.LNilType:
		return nil
	case *lua.LFunction:
		// Functions can't be directly converted
		return nil
	case *lua.LUserData:
		if v == b.NotImplemented() {
			return Undefined
		}
		return v.Value
	default:
		return nil
	}
}

// NotImplemented returns the state's "not implemented" sentinel, creating it
// on first use. It is a unique userdata, distinct from nil.
func (b *Bridge) NotImplemented() *lua.LUserData {
	reg := b.L.G.Registry
	if ud, ok := reg.RawGetString(notImplementedKey).(*lua.LUserData); ok {
		return ud
	}
	ud := b.L.NewUserData()
	ud.Value = Undefined
	mt := b.L.NewTable()
	mt.RawSetString("__tostring", b.L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString(NotImplementedName))
		return 1
	}))
	ud.Metatable = mt
	reg.RawSetString(notImplementedKey, ud)
	return ud
}

// InstallSentinels exposes the NotImplemented sentinel as a global.
func (b *Bridge) InstallSentinels() {
	b.L.SetGlobal(NotImplementedName, b.NotImplemented())
}

// Number converts a float to a Lua number. A value that is integral within
// machine epsilon becomes that exact integer; any other value is unchanged.
func Number(f float64) lua.LNumber {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return lua.LNumber(f)
	}
	r := math.Round(f)
	if math.Abs(f-r) <= epsilon*math.Max(1, math.Abs(f)) {
		return lua.LNumber(r)
	}
	return lua.LNumber(f)
}

func isIntegral(f float64) bool {
	return !math.IsInf(f, 0) && f == math.Trunc(f) && math.Abs(f) < 1<<63
}

// tableToGoWithVisited converts a Lua table with circular reference tracking.
func (b *Bridge) tableToGoWithVisited(t *lua.LTable, visited map[*lua.LTable]bool) any {
	// Check if it's an array (sequential integer keys starting at 1)
	isArray := true
	maxN := 0
	t.ForEach(func(k, _ lua.LValue) {
		if kn, ok := k.(lua.LNumber); ok {
			n := int(kn)
			if float64(n) == float64(kn) && n > 0 {
				if n > maxN {
					maxN = n
				}
				return
			}
		}
		isArray = false
	})

	// Verify it's a contiguous array
	if isArray && maxN > 0 {
		count := 0
		t.ForEach(func(_, _ lua.LValue) {
			count++
		})
		if count != maxN {
			isArray = false
		}
	}

	if isArray && maxN > 0 {
		// Convert to slice
		arr := make([]any, maxN)
		for i := 1; i <= maxN; i++ {
			arr[i-1] = b.toGoValueWithVisited(t.RawGetInt(i), visited)
		}
		return arr
	}

	// Convert to map
	m := make(map[string]any)
	t.ForEach(func(k, v lua.LValue) {
		var key string
		switch kv := k.(type) {
		case lua.LString:
			key = string(kv)
		case lua.LNumber:
			key = fmt.Sprintf("%v", float64(kv))
		default:
			key = k.String()
		}
		m[key] = b.toGoValueWithVisited(v, visited)
	})
	return m
}

// ToLuaValue converts a Go value to a Lua value.
func (b *Bridge) ToLuaValue(v any) lua.LValue {
	if v == nil {
		return lua.LNil
	}

	switch val := v.(type) {
	case bool:
		return lua.LBool(val)
	case int:
		return lua.LNumber(val)
	case int8:
		return lua.LNumber(val)
	case int16:
		return lua.LNumber(val)
	case int32:
		return lua.LNumber(val)
	case int64:
		return lua.LNumber(val)
	case uint:
		return lua.LNumber(val)
	case uint8:
		return lua.LNumber(val)
	case uint16:
		return lua.LNumber(val)
	case uint32:
		return lua.LNumber(val)
	case uint64:
		return lua.LNumber(val)
	case float32:
		return Number(float64(val))
	case float64:
		return Number(val)
	case string:
		return lua.LString(val)
	case []byte:
		return lua.LString(val)
	case []any:
		return b.sliceToTable(val)
	case []string:
		return b.stringSliceToTable(val)
	case []int:
		return b.intSliceToTable(val)
	case map[string]any:
		return b.mapToTable(val)
	case map[string]string:
		return b.stringMapToTable(val)
	case undefined:
		return b.NotImplemented()
	case lua.LValue:
		return val
	default:
		// Try reflection for other types
		return b.reflectToLua(v)
	}
}

// sliceToTable converts a Go slice to a Lua table (array).
func (b *Bridge) sliceToTable(s []any) *lua.LTable {
	t := b.L.NewTable()
	for i, v := range s {
		t.RawSetInt(i+1, b.ToLuaValue(v))
	}
	return t
}

// stringSliceToTable converts a string slice to a Lua table.
func (b *Bridge) stringSliceToTable(s []string) *lua.LTable {
	t := b.L.NewTable()
	for i, v := range s {
		t.RawSetInt(i+1, lua.LString(v))
	}
	return t
}

// intSliceToTable converts an int slice to a Lua table.
func (b *Bridge) intSliceToTable(s []int) *lua.LTable {
	t := b.L.NewTable()
	for i, v := range s {
		t.RawSetInt(i+1, lua.LNumber(v))
	}
	return t
}

// mapToTable converts a Go map to a Lua table.
func (b *Bridge) mapToTable(m map[string]any) *lua.LTable {
	t := b.L.NewTable()
	for k, v := range m {
		t.RawSetString(k, b.ToLuaValue(v))
	}
	return t
}

// stringMapToTable converts a string map to a Lua table.
func (b *Bridge) stringMapToTable(m map[string]string) *lua.LTable {
	t := b.L.NewTable()
	for k, v := range m {
		t.RawSetString(k, lua.LString(v))
	}
	return t
}

// reflectToLua uses reflection to convert arbitrary Go values.
func (b *Bridge) reflectToLua(v any) lua.LValue {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return lua.LNil
	}

	switch rv.Kind() {
	case reflect.Ptr:
		if rv.IsNil() {
			return lua.LNil
		}
		return b.reflectToLua(rv.Elem().Interface())

	case reflect.Slice, reflect.Array:
		t := b.L.NewTable()
		for i := 0; i < rv.Len(); i++ {
			t.RawSetInt(i+1, b.ToLuaValue(rv.Index(i).Interface()))
		}
		return t

	case reflect.Map:
		t := b.L.NewTable()
		for _, key := range rv.MapKeys() {
			k := b.ToLuaValue(key.Interface())
			v := b.ToLuaValue(rv.MapIndex(key).Interface())
			t.RawSet(k, v)
		}
		return t

	case reflect.Struct:
		return b.structToTable(rv)

	case reflect.Bool:
		return lua.LBool(rv.Bool())

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return lua.LNumber(rv.Int())

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return lua.LNumber(rv.Uint())

	case reflect.Float32, reflect.Float64:
		return Number(rv.Float())

	case reflect.String:
		return lua.LString(rv.String())

	default:
		// For unsupported types, return as userdata
		ud := b.L.NewUserData()
		ud.Value = v
		return ud
	}
}

// structToTable converts a Go struct to a Lua table.
func (b *Bridge) structToTable(rv reflect.Value) *lua.LTable {
	t := b.L.NewTable()
	rt := rv.Type()

	for i := 0; i < rv.NumField(); i++ {
		field := rt.Field(i)
		if field.PkgPath != "" {
			continue // Skip unexported fields
		}

		// Use json tag if available, otherwise field name
		name := field.Name
		if tag := field.Tag.Get("json"); tag != "" && tag != "-" {
			// Parse json tag (handle ",omitempty" etc.)
			for j := 0; j < len(tag); j++ {
				if tag[j] == ',' {
					tag = tag[:j]
					break
				}
			}
			if tag != "" {
				name = tag
			}
		}

		t.RawSetString(name, b.ToLuaValue(rv.Field(i).Interface()))
	}

	return t
}
