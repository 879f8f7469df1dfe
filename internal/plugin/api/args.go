package api

import (
	"fmt"
	"math"

	lua "github.com/yuin/gopher-lua"
)

// argInt returns argument n as an integer, raising an ArgumentError if it is
// missing or not an integral number.
func argInt(L *lua.LState, fn string, n int) int {
	v, ok := L.Get(n).(lua.LNumber)
	if !ok {
		raise(L, &ArgumentError{Func: fn, Arg: n, Msg: "number expected, got " + L.Get(n).Type().String()})
		return 0
	}
	f := float64(v)
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		raise(L, &ArgumentError{Func: fn, Arg: n, Msg: fmt.Sprintf("integer expected, got %v", f)})
		return 0
	}
	if f < float64(math.MinInt) || f >= float64(math.MaxInt) {
		raise(L, &ArgumentError{Func: fn, Arg: n, Msg: fmt.Sprintf("integer out of range, got %v", f)})
		return 0
	}
	return int(f)
}

// checkArgs raises an ArgumentError when more than limit arguments were passed.
func checkArgs(L *lua.LState, fn string, limit int) {
	if n := L.GetTop(); n > limit {
		raise(L, &ArgumentError{Func: fn, Msg: fmt.Sprintf("too many arguments, expected at most %d, got %d", limit, n)})
	}
}

// optInt returns argument n as an integer, or def if it is absent or nil.
func optInt(L *lua.LState, fn string, n int, def int) int {
	if L.Get(n) == lua.LNil {
		return def
	}
	return argInt(L, fn, n)
}

// argString returns argument n as a string. Numbers are accepted.
func argString(L *lua.LState, fn string, n int) string {
	switch v := L.Get(n).(type) {
	case lua.LString:
		return string(v)
	case lua.LNumber:
		return v.String()
	default:
		raise(L, &ArgumentError{Func: fn, Arg: n, Msg: "string expected, got " + L.Get(n).Type().String()})
		return ""
	}
}

// argBool returns argument n as a boolean. Numbers are accepted, zero being
// false.
func argBool(L *lua.LState, fn string, n int) bool {
	switch v := L.Get(n).(type) {
	case lua.LBool:
		return bool(v)
	case lua.LNumber:
		return v != 0
	default:
		raise(L, &ArgumentError{Func: fn, Arg: n, Msg: "boolean expected, got " + L.Get(n).Type().String()})
		return false
	}
}

// argFunction returns argument n as a function.
func argFunction(L *lua.LState, fn string, n int) *lua.LFunction {
	f, ok := L.Get(n).(*lua.LFunction)
	if !ok {
		raise(L, &ArgumentError{Func: fn, Arg: n, Msg: "function expected, got " + L.Get(n).Type().String()})
		return nil
	}
	return f
}

// optIntList returns argument n as a list of integers, or nil if absent.
// An empty table yields an empty, non-nil list.
func optIntList(L *lua.LState, fn string, n int) []int {
	switch v := L.Get(n).(type) {
	case *lua.LNilType:
		return nil
	case *lua.LTable:
		out := make([]int, 0, v.Len())
		for i := 1; i <= v.Len(); i++ {
			num, ok := v.RawGetInt(i).(lua.LNumber)
			f := float64(num)
			if !ok || f != math.Trunc(f) || f < float64(math.MinInt) || f >= float64(math.MaxInt) {
				raise(L, &ArgumentError{Func: fn, Arg: n, Msg: fmt.Sprintf("integer expected at index %d", i)})
				return nil
			}
			out = append(out, int(num))
		}
		return out
	default:
		raise(L, &ArgumentError{Func: fn, Arg: n, Msg: "table expected, got " + L.Get(n).Type().String()})
		return nil
	}
}
