// Package emitter provides a small synchronous event emitter with
// disposable subscriptions.
package emitter

import (
	"sync"

	"github.com/google/uuid"
)

// Subscription represents a registered listener. Dispose removes the
// listener from its emitter; calling it more than once is harmless.
type Subscription struct {
	once    sync.Once
	dispose func()
}

// Dispose unregisters the listener.
func (s *Subscription) Dispose() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.dispose != nil {
			s.dispose()
		}
	})
}

// SubscriptionSet owns a group of subscriptions that are disposed together.
type SubscriptionSet struct {
	mu   sync.Mutex
	subs []*Subscription
}

// Add registers a subscription with the set.
func (s *SubscriptionSet) Add(sub *Subscription) {
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()
}

// Dispose disposes every subscription in the set and empties it.
func (s *SubscriptionSet) Dispose() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, sub := range subs {
		sub.Dispose()
	}
}

type listener[T any] struct {
	id string
	fn func(T)
}

// Emitter delivers values of type T to subscribed listeners. Delivery is
// synchronous: Emit calls every listener in subscription order before
// returning. Listeners registered during an Emit do not receive that
// emission.
type Emitter[T any] struct {
	mu        sync.Mutex
	listeners []listener[T]
}

// Subscribe registers fn and returns a Subscription that removes it.
func (e *Emitter[T]) Subscribe(fn func(T)) *Subscription {
	id := uuid.NewString()

	e.mu.Lock()
	e.listeners = append(e.listeners, listener[T]{id: id, fn: fn})
	e.mu.Unlock()

	return &Subscription{dispose: func() { e.remove(id) }}
}

// Once registers fn for a single delivery.
func (e *Emitter[T]) Once(fn func(T)) *Subscription {
	var sub *Subscription
	var once sync.Once
	sub = e.Subscribe(func(v T) {
		once.Do(func() {
			sub.Dispose()
			fn(v)
		})
	})
	return sub
}

// Emit delivers v to all current listeners in subscription order.
func (e *Emitter[T]) Emit(v T) {
	e.mu.Lock()
	listeners := make([]listener[T], len(e.listeners))
	copy(listeners, e.listeners)
	e.mu.Unlock()

	for _, l := range listeners {
		l.fn(v)
	}
}

// Len reports the number of registered listeners.
func (e *Emitter[T]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.listeners)
}

// Clear removes all listeners.
func (e *Emitter[T]) Clear() {
	e.mu.Lock()
	e.listeners = nil
	e.mu.Unlock()
}

func (e *Emitter[T]) remove(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, l := range e.listeners {
		if l.id == id {
			e.listeners = append(e.listeners[:i], e.listeners[i+1:]...)
			return
		}
	}
}
