package chat

import "sync"

// Bus fans conversation events out to subscribers. Dispatch is
// synchronous and in subscription order; subscribers that need to do
// real work hand it off themselves.
type Bus struct {
	mu   sync.RWMutex
	subs []func(Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler for all events.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	b.subs = append(b.subs, fn)
	b.mu.Unlock()
}

// Publish delivers an event to every subscriber.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := append([]func(Event){}, b.subs...)
	b.mu.RUnlock()

	for _, fn := range subs {
		fn(e)
	}
}
