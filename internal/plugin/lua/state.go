package lua

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Default sizes for Lua contexts.
const (
	DefaultCallStackSize = 256
	DefaultRegistrySize  = 1024 * 20
)

// Context is an isolated Lua interpreter owned by one plugin.
//
// IMPORTANT: gopher-lua's LState is not goroutine-safe. All script execution
// happens between Enter and the matching release, on the goroutine that
// called Enter. Other goroutines hand work to that goroutine through an
// Executor instead of touching L.
//
// Scripts run with the full standard library; there is no sandbox.
type Context struct {
	L *lua.LState

	engine *Engine
	owner  any

	enter  sync.Mutex
	closed atomic.Bool

	killCtx context.Context
	kill    context.CancelFunc

	// Configuration
	callStackSize   int
	registrySize    int
	goStackTrace    bool
	hostPaths       []string
	dependencyPaths []string
	searchPath      string
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithCallStackSize sets the Lua call stack size.
func WithCallStackSize(n int) ContextOption {
	return func(c *Context) {
		if n > 0 {
			c.callStackSize = n
		}
	}
}

// WithRegistrySize sets the Lua data stack size.
func WithRegistrySize(n int) ContextOption {
	return func(c *Context) {
		if n > 0 {
			c.registrySize = n
		}
	}
}

// WithGoStackTrace includes Go stack traces in errors raised by Go panics.
func WithGoStackTrace(enabled bool) ContextOption {
	return func(c *Context) {
		c.goStackTrace = enabled
	}
}

// WithHostPaths adds host module directories. They are searched right after
// the interpreter's default package.path.
func WithHostPaths(dirs ...string) ContextOption {
	return func(c *Context) {
		c.hostPaths = append(c.hostPaths, dirs...)
	}
}

// WithDependencyPaths adds plugin dependency directories. They are searched
// after every host path.
func WithDependencyPaths(dirs ...string) ContextOption {
	return func(c *Context) {
		c.dependencyPaths = append(c.dependencyPaths, dirs...)
	}
}

// Enter acquires exclusive use of the context. The returned release function
// is safe to call more than once; only the first call unlocks.
func (c *Context) Enter() (release func()) {
	c.enter.Lock()
	return sync.OnceFunc(c.enter.Unlock)
}

// Owner returns the owner the context was created for.
func (c *Context) Owner() any {
	return c.owner
}

// SearchPath returns the package.path installed at creation.
func (c *Context) SearchPath() string {
	return c.searchPath
}

// DoFile executes a Lua file as the main chunk.
// Execution is synchronous: the call blocks until completion, error or Kill.
func (c *Context) DoFile(path string) error {
	if c.closed.Load() {
		return ErrContextClosed
	}
	return c.doWithRecovery(func() error {
		return c.L.DoFile(path)
	})
}

// DoString executes a Lua chunk.
func (c *Context) DoString(code string) error {
	if c.closed.Load() {
		return ErrContextClosed
	}
	return c.doWithRecovery(func() error {
		return c.L.DoString(code)
	})
}

// doWithRecovery executes fn with panic recovery and converts VM errors.
func (c *Context) doWithRecovery(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("lua panic: %v", r)
		}
		err = newScriptError(err, c.Terminated())
	}()
	return fn()
}

// Call calls fn in protected mode with the given arguments.
// Returns an empty slice (not nil) if the function returns no values.
func (c *Context) Call(fn *lua.LFunction, args ...lua.LValue) ([]lua.LValue, error) {
	if c.closed.Load() {
		return nil, ErrContextClosed
	}
	if fn == nil {
		return nil, ErrNotFunction
	}

	// Record stack top before pushing anything
	stackTop := c.L.GetTop()

	c.L.Push(fn)
	for _, arg := range args {
		c.L.Push(arg)
	}

	if err := c.doWithRecovery(func() error {
		return c.L.PCall(len(args), lua.MultRet, nil)
	}); err != nil {
		c.L.SetTop(stackTop)
		return nil, err
	}

	// Collect return values (only the new values added after the call)
	nRet := c.L.GetTop() - stackTop
	if nRet <= 0 {
		return []lua.LValue{}, nil
	}
	results := make([]lua.LValue, nRet)
	for i := 0; i < nRet; i++ {
		results[i] = c.L.Get(stackTop + i + 1)
	}
	c.L.Pop(nRet)

	return results, nil
}

// Kill force-terminates script execution. Every VM instruction executed after
// Kill raises a "context canceled" error, and host calls watching Terminating
// return early. Termination is best-effort: a script blocked inside a native
// call that ignores Terminating (os.execute, io.read) stays blocked.
func (c *Context) Kill() {
	c.kill()
}

// Terminating is closed once Kill has been called.
func (c *Context) Terminating() <-chan struct{} {
	return c.killCtx.Done()
}

// Terminated reports whether Kill has been called.
func (c *Context) Terminated() bool {
	return c.killCtx.Err() != nil
}

// IsClosed returns true if the context has been closed.
func (c *Context) IsClosed() bool {
	return c.closed.Load()
}

// Close unbinds the context from its engine and releases the interpreter.
// After Close is called, all other methods will return ErrContextClosed.
func (c *Context) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.engine.release(c)
	return nil
}
