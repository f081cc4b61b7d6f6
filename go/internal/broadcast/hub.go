// Package broadcast fans a component's state changes out to listeners.
package broadcast

import "sync"

// Hub delivers values to subscribers in publish order. Publish calls are
// serialized, so one listener never sees two values out of order.
type Hub[T any] struct {
	mu        sync.Mutex
	listeners map[uint64]func(T)
	order     []uint64
	nextID    uint64

	publishMu sync.Mutex
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{listeners: make(map[uint64]func(T))}
}

// Subscribe registers fn and returns a function that removes it. The
// returned function is safe to call more than once.
func (h *Hub[T]) Subscribe(fn func(T)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { h.remove(id) })
	}
}

func (h *Hub[T]) remove(id uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.listeners, id)
	for i, v := range h.order {
		if v == id {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
}

// Publish calls every listener with v, in subscription order. Listeners run
// on the publishing goroutine and must not call Publish themselves.
func (h *Hub[T]) Publish(v T) {
	h.publishMu.Lock()
	defer h.publishMu.Unlock()

	h.mu.Lock()
	targets := make([]func(T), 0, len(h.order))
	for _, id := range h.order {
		targets = append(targets, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range targets {
		fn(v)
	}
}

// Len returns the number of subscribers.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.order)
}

// Clear drops every subscriber.
func (h *Hub[T]) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = make(map[uint64]func(T))
	h.order = nil
}
