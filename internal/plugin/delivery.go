package plugin

import (
	"context"
	"errors"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/dshills/lumen/internal/host"
	plua "github.com/dshills/lumen/internal/plugin/lua"
)

type eventKind int

const (
	eventComponentState eventKind = iota
	eventVisiblePriority
	eventAction
)

// hostEvent is a queued event waiting for delivery.
type hostEvent struct {
	kind      eventKind
	component host.Component
	enabled   bool
	priority  int
	action    ActionEvent
}

// Deliverer relays host events into one Runtime.
//
// Producers on any goroutine enqueue without blocking. The delivery
// goroutine hands each event, in order, to the runtime's worker and waits
// until the script handlers have returned, so a slow handler only delays
// this plugin. The deliverer exits when the runtime is done.
type Deliverer struct {
	rt     *Runtime
	logger hclog.Logger

	mu     sync.Mutex
	queue  []hostEvent
	notify chan struct{}

	done chan struct{}
}

// NewDeliverer creates a deliverer for rt. Call Start to launch it.
func NewDeliverer(rt *Runtime) *Deliverer {
	return &Deliverer{
		rt:     rt,
		logger: rt.Logger().Named("delivery"),
		notify: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery goroutine.
func (d *Deliverer) Start() {
	go d.run()
}

// Done is closed when the delivery goroutine has exited.
func (d *Deliverer) Done() <-chan struct{} {
	return d.done
}

// Pending returns the number of queued events.
func (d *Deliverer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// ComponentStateChanged queues a component state change.
func (d *Deliverer) ComponentStateChanged(c host.Component, enabled bool) {
	d.push(hostEvent{kind: eventComponentState, component: c, enabled: enabled})
}

// VisiblePriorityChanged queues a visible priority change.
func (d *Deliverer) VisiblePriorityChanged(priority int) {
	d.push(hostEvent{kind: eventVisiblePriority, priority: priority})
}

// PluginAction queues a lifecycle event.
func (d *Deliverer) PluginAction(ev ActionEvent) {
	d.push(hostEvent{kind: eventAction, action: ev})
}

func (d *Deliverer) push(ev hostEvent) {
	select {
	case <-d.done:
		return
	default:
	}

	d.mu.Lock()
	d.queue = append(d.queue, ev)
	d.mu.Unlock()

	select {
	case d.notify <- struct{}{}:
	default:
	}
}

func (d *Deliverer) pop() (hostEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.queue) == 0 {
		return hostEvent{}, false
	}
	ev := d.queue[0]
	d.queue[0] = hostEvent{}
	d.queue = d.queue[1:]
	return ev, true
}

func (d *Deliverer) run() {
	defer close(d.done)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-d.rt.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		if ctx.Err() != nil {
			return
		}
		ev, ok := d.pop()
		if !ok {
			select {
			case <-d.notify:
				continue
			case <-ctx.Done():
				return
			}
		}

		if err := d.deliver(ctx, ev); err != nil && !isShutdownErr(err) {
			d.logger.Warn("event delivery failed", "error", err)
		}
	}
}

func (d *Deliverer) deliver(ctx context.Context, ev hostEvent) error {
	switch ev.kind {
	case eventComponentState:
		return d.rt.DeliverComponentState(ctx, ev.component, ev.enabled)
	case eventVisiblePriority:
		return d.rt.DeliverVisiblePriority(ctx, ev.priority)
	case eventAction:
		a := ev.action
		if a.Action == ActionSaved && a.Success && a.ID == d.rt.ID() && a.Definition != nil {
			return d.rt.DeliverSettings(ctx, a.Definition.Settings)
		}
	}
	return nil
}

func isShutdownErr(err error) bool {
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, plua.ErrExecutorClosed) ||
		errors.Is(err, ErrNotRunning)
}
