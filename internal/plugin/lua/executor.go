package lua

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// ErrExecutorClosed is returned when attempting to use a closed executor.
var ErrExecutorClosed = errors.New("lua executor is closed")

// LuaCall represents a Lua operation to be executed.
type LuaCall struct {
	// Fn is the function to execute on the Lua state.
	// It receives the LState and should perform all Lua operations.
	Fn func(L *lua.LState) error

	// Result channel receives the result of the operation.
	// The channel is closed after the result is sent.
	Result chan error
}

// Executor hands Lua operations from other goroutines to the goroutine that
// owns a Lua state.
//
// The owner does not run a dedicated loop. It drains queued operations at
// checkpoints it chooses (Drain), or blocks on Next while it has nothing else
// to do. Callers of Execute block until their operation has run, so a slow
// operation delays only the callers of this executor.
//
// Usage:
//
//	exec := NewExecutor(L, 0)
//	defer exec.Close()
//
//	// From any goroutine:
//	err := exec.Execute(ctx, func(L *lua.LState) error {
//	    L.Push(handler)
//	    return L.PCall(0, 0, nil)
//	})
//
//	// On the owning goroutine, at a checkpoint:
//	exec.Drain()
type Executor struct {
	L      *lua.LState
	queue  chan *LuaCall
	closed atomic.Bool
	done   chan struct{}

	// inFlight counts Execute calls that have not returned yet.
	inFlight atomic.Int64

	// draining guards against re-entrant Drain from inside an operation.
	draining bool

	// closeOnce ensures Close is only called once
	closeOnce sync.Once
}

// NewExecutor creates a new Executor for the given Lua state.
// The queue size determines how many operations can be buffered.
func NewExecutor(L *lua.LState, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Executor{
		L:     L,
		queue: make(chan *LuaCall, queueSize),
		done:  make(chan struct{}),
	}
}

// Next returns the channel queued operations arrive on. It lets the owner
// wait for work alongside other events; each received call must be passed to
// Process.
// MUST only be used from the goroutine that owns the Lua state.
func (e *Executor) Next() <-chan *LuaCall {
	return e.queue
}

// Process runs a call received from Next and delivers its result.
// MUST be called from the goroutine that owns the Lua state.
func (e *Executor) Process(call *LuaCall) {
	wasDraining := e.draining
	e.draining = true
	err := e.executeCall(call)
	e.draining = wasDraining

	// Send result (non-blocking since buffer is 1)
	select {
	case call.Result <- err:
	default:
	}
	close(call.Result)
}

// Drain runs every queued operation without blocking and returns how many
// ran. Nested calls made from inside a running operation return 0.
// MUST be called from the goroutine that owns the Lua state.
func (e *Executor) Drain() int {
	if e.draining {
		return 0
	}
	n := 0
	for {
		select {
		case call := <-e.queue:
			e.Process(call)
			n++
		default:
			return n
		}
	}
}

// executeCall runs a single Lua operation with panic recovery.
func (e *Executor) executeCall(call *LuaCall) (err error) {
	defer func() {
		if r := recover(); r != nil {
			switch v := r.(type) {
			case error:
				err = v
			case string:
				err = errors.New(v)
			default:
				err = fmt.Errorf("lua panic: %v", v)
			}
		}
	}()
	return call.Fn(e.L)
}

// drainQueue drains remaining calls from the queue with the given error.
func (e *Executor) drainQueue(err error) {
	for {
		select {
		case call := <-e.queue:
			select {
			case call.Result <- err:
			default:
			}
			close(call.Result)
		default:
			return
		}
	}
}

// Execute runs a Lua operation synchronously on the owning goroutine.
// This method blocks until the operation completes, the executor is closed,
// or the context is cancelled.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	call := &LuaCall{
		Fn:     fn,
		Result: make(chan error, 1),
	}

	// Try to enqueue the call
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- call:
		// Call enqueued, wait for result
	}

	select {
	case <-ctx.Done():
		// The call stays queued and may still run, but we don't wait
		return ctx.Err()
	case <-e.done:
		// Close may race a call that is already running; prefer its result.
		select {
		case err, ok := <-call.Result:
			if ok {
				return err
			}
		default:
		}
		return ErrExecutorClosed
	case err, ok := <-call.Result:
		if !ok {
			return ErrExecutorClosed
		}
		return err
	}
}

// Busy reports whether an operation is running right now.
// MUST be called from the goroutine that owns the Lua state.
func (e *Executor) Busy() bool {
	return e.draining
}

// InFlight returns the number of Execute calls that have not returned.
func (e *Executor) InFlight() int {
	return int(e.inFlight.Load())
}

// Close stops the executor and prevents new operations.
// Queued operations complete with ErrExecutorClosed.
// MUST be called from the goroutine that owns the Lua state, after the last
// Drain or Process.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
		e.drainQueue(ErrExecutorClosed)
	})
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
