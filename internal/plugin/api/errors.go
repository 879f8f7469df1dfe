package api

import (
	"errors"
	"fmt"

	lua "github.com/yuin/gopher-lua"
)

// ErrNoProvider is returned when a host service is not configured.
var ErrNoProvider = errors.New("host service not available")

// ArgumentError reports a malformed call from script code.
// It is raised into the script, which can catch it with pcall.
type ArgumentError struct {
	Func string
	Arg  int
	Msg  string
}

// Error implements error.
func (e *ArgumentError) Error() string {
	if e.Arg > 0 {
		return fmt.Sprintf("bad argument #%d to '%s' (%s)", e.Arg, e.Func, e.Msg)
	}
	return fmt.Sprintf("bad call to '%s' (%s)", e.Func, e.Msg)
}

// ContextResolutionError reports a host call whose calling plugin cannot be
// determined. It fails only that call.
type ContextResolutionError struct {
	Func string
}

// Error implements error.
func (e *ContextResolutionError) Error() string {
	return fmt.Sprintf("%s: no plugin runtime is bound to the calling Lua state", e.Func)
}

// raise raises err into the running script.
func raise(L *lua.LState, err error) {
	L.RaiseError("%s", err.Error())
}
