// Package events dispatches lifecycle events for entries loaded from upstream.
package events

import (
	"context"
	"sync"

	"github.com/Sternrassler/contentful-cache/pkg/delivery"
)

// Event names.
const (
	// EntriesLoaded fires once per batch of entries fetched upstream.
	EntriesLoaded = "contentful.load.entries"

	// EntryLoaded fires for every entry fetched upstream.
	EntryLoaded = "contentful.load.entry"
)

// Event carries either a batch (Entries) or a single entry (Entry).
type Event struct {
	Name    string
	Entries []*delivery.Entry
	Entry   *delivery.Entry
}

// Listener handles an event. Listeners run synchronously on the
// dispatching goroutine.
type Listener func(ctx context.Context, ev Event)

// Dispatcher delivers events to the listeners subscribed to their name.
// The zero value is ready to use.
type Dispatcher struct {
	mu        sync.RWMutex
	listeners map[string][]Listener
}

// NewDispatcher creates a dispatcher without listeners.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{}
}

// Subscribe registers a listener for an event name.
func (d *Dispatcher) Subscribe(name string, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listeners == nil {
		d.listeners = make(map[string][]Listener)
	}
	d.listeners[name] = append(d.listeners[name], l)
}

// Dispatch calls every listener of ev.Name in subscription order. A nil
// dispatcher drops the event.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) {
	if d == nil {
		return
	}
	d.mu.RLock()
	listeners := d.listeners[ev.Name]
	d.mu.RUnlock()

	for _, l := range listeners {
		l(ctx, ev)
	}
}
