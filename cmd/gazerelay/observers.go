package main

import "sync"

// Observer receives the coordinates of every accepted sample.
// It runs on the poll worker goroutine, between samples, so it must not block
// for long: every later sample waits for it.
type Observer func(x, y float64)

// ObserverRegistry is an ordered list of observers.
//
// Add, Clear and InvokeAll share one mutex, so a Clear never lands in the
// middle of a fan-out pass and a pass never skips or repeats an observer.
type ObserverRegistry struct {
	mu        sync.Mutex
	observers []Observer
}

// Add appends fn. The same function may be added more than once; nil is ignored.
func (r *ObserverRegistry) Add(fn Observer) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	r.mu.Unlock()
}

// Clear removes every observer.
func (r *ObserverRegistry) Clear() {
	r.mu.Lock()
	r.observers = nil
	r.mu.Unlock()
}

// Len returns the number of registered observers.
func (r *ObserverRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.observers)
}

// InvokeAll calls every observer in insertion order while holding the lock.
// Observers must not call Add or Clear on the same registry.
// A panicking observer is not recovered here.
func (r *ObserverRegistry) InvokeAll(x, y float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, fn := range r.observers {
		fn(x, y)
	}
}
