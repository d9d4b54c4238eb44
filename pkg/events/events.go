// Package events is the service-level event emitter.
//
// Services emit "created", "updated", "patched" and "removed" with the
// affected record as payload. Listeners run synchronously on the emitting
// goroutine, so a listener sees events in emission order.
package events

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Event names emitted by services.
const (
	Created = "created"
	Updated = "updated"
	Patched = "patched"
	Removed = "removed"
)

// Names lists every service event.
var Names = []string{Created, Updated, Patched, Removed}

// Event is one emitted service event.
type Event struct {
	Name       string      `json:"event"`
	Path       string      `json:"path,omitempty"`
	Payload    interface{} `json:"payload"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// Emitter delivers events to listeners.
type Emitter interface {
	Emit(ctx context.Context, event Event)
	On(name string, listener Listener) Subscription
}

// Listener handles one event.
type Listener func(ctx context.Context, event Event)

// Subscription detaches a listener.
type Subscription interface {
	Close() error
}

// Bus is an in-process Emitter.
type Bus struct {
	mu        sync.RWMutex
	listeners map[string]map[uint64]Listener
	nextID    uint64
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{listeners: make(map[string]map[uint64]Listener)}
}

// Emit calls every listener registered for event.Name, in registration order.
func (b *Bus) Emit(ctx context.Context, event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	b.mu.RLock()
	registered := b.listeners[event.Name]
	ids := make([]uint64, 0, len(registered))
	for id := range registered {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	copied := make([]Listener, 0, len(ids))
	for _, id := range ids {
		copied = append(copied, registered[id])
	}
	b.mu.RUnlock()

	for _, l := range copied {
		l(ctx, event)
	}
}

// On registers listener for the named event.
func (b *Bus) On(name string, listener Listener) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	if b.listeners[name] == nil {
		b.listeners[name] = make(map[uint64]Listener)
	}
	id := b.nextID
	b.listeners[name][id] = listener
	return &subscription{
		closeFn: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.listeners[name], id)
			if len(b.listeners[name]) == 0 {
				delete(b.listeners, name)
			}
		},
	}
}

// OnAll registers listener for every service event and returns one
// subscription covering all of them.
func OnAll(e Emitter, listener Listener) Subscription {
	subs := make(multi, 0, len(Names))
	for _, name := range Names {
		subs = append(subs, e.On(name, listener))
	}
	return subs
}

type subscription struct {
	once    sync.Once
	closeFn func()
}

func (s *subscription) Close() error {
	s.once.Do(s.closeFn)
	return nil
}

type multi []Subscription

func (m multi) Close() error {
	for _, s := range m {
		_ = s.Close()
	}
	return nil
}
