package host

import (
	"sync"

	"github.com/hashicorp/go-hclog"
)

// subscribers is a list of change handlers.
// Handlers run synchronously on the publishing goroutine, outside any lock
// held by the publisher. A panicking handler is logged and does not affect
// the others.
type subscribers[T any] struct {
	mu       sync.RWMutex
	logger   hclog.Logger
	nextID   int
	handlers map[int]func(T)
	order    []int
}

func (s *subscribers[T]) subscribe(fn func(T)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handlers == nil {
		s.handlers = make(map[int]func(T))
	}
	id := s.nextID
	s.nextID++
	s.handlers[id] = fn
	s.order = append(s.order, id)

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.handlers[id]; !ok {
			return
		}
		delete(s.handlers, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
}

func (s *subscribers[T]) setLogger(l hclog.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = l
}

func (s *subscribers[T]) publish(v T) {
	s.mu.RLock()
	logger := s.logger
	handlers := make([]func(T), 0, len(s.order))
	for _, id := range s.order {
		handlers = append(handlers, s.handlers[id])
	}
	s.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil && logger != nil {
					logger.Error("event handler panicked", "panic", r)
				}
			}()
			h(v)
		}()
	}
}
