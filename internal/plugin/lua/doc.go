// Package lua provides the Lua runtime integration for the plugin host.
//
// This package wraps the gopher-lua library to provide:
//   - Isolated per-plugin interpreter contexts (Context)
//   - An engine that creates contexts and resolves the owner of a running call
//   - A hand-off executor so other goroutines can run code on the owner's goroutine
//   - Go-Lua value conversion (Bridge)
//
// # Contexts
//
// Every plugin runs in its own Context with its own globals, module table and
// package.path. A context is used by one goroutine at a time:
//
//	engine := lua.NewEngine()
//	ctx, err := engine.NewContext(owner, lua.WithDependencyPaths(dirs...))
//	if err != nil {
//	    return err
//	}
//	defer ctx.Close()
//
//	release := ctx.Enter()
//	defer release()
//	err = ctx.DoFile("main.lua")
//
// # Termination
//
// Scripts are expected to stop on their own when asked. Kill is the last
// resort: it cancels the interpreter's context so the VM raises an error at the
// next instruction.
//
// # Values
//
// The Bridge converts between Go and Lua values. Floats that are integral
// within machine epsilon become exact integers, nil becomes Lua nil, and
// Undefined becomes the NotImplemented sentinel.
package lua
