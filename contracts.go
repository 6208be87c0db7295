package tcache

import (
	"context"

	"github.com/krisalay/tcache/internal/listener"
)

// Loader performs a read-through load when Get misses. It is the cache's
// only collaborator on the read path, kept separate from Writer because
// the two fail independently and are surfaced through distinct error
// types (LoaderError vs WriterError).
type Loader interface {
	Load(ctx context.Context, key string) (any, error)
}

// LoaderFunc adapts a plain function to a Loader.
type LoaderFunc func(ctx context.Context, key string) (any, error)

func (f LoaderFunc) Load(ctx context.Context, key string) (any, error) { return f(ctx, key) }

// Writer performs synchronous write-through persistence. Write is called
// for CREATED and CHANGED classifications, Delete for REMOVED (including
// capacity-driven eviction, but never for lazily or proactively expired
// entries — see the evictor's Callbacks split).
type Writer interface {
	Write(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// EventType identifies the kind of transition an EntryListener is told
// about.
type EventType int

const (
	EventCreated EventType = iota
	EventUpdated
	EventRemoved
	EventExpired
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "CREATED"
	case EventUpdated:
		return "UPDATED"
	case EventRemoved:
		return "REMOVED"
	case EventExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Event is delivered to an EntryListener.
type Event struct {
	Type       EventType
	Key        string
	OldValue   any // only populated when OldValueRequired was set at registration
	OldExisted bool
	NewValue   any
	NewExists  bool
}

// EntryListener receives Events for the EventTypes it registered for.
type EntryListener interface {
	OnEvent(Event)
}

// EntryListenerFunc adapts a plain function to an EntryListener.
type EntryListenerFunc func(Event)

func (f EntryListenerFunc) OnEvent(e Event) { f(e) }

// EventFilter optionally suppresses an Event before it reaches a Listener.
type EventFilter func(Event) bool

// ListenerConfig describes how to register an EntryListener.
type ListenerConfig struct {
	Listener EntryListener
	Types    []EventType

	// Synchronous selects SYNC delivery (inline on the goroutine that
	// caused the event) instead of the default ASYNC_TIMED delivery
	// (queued to a bounded per-listener worker).
	Synchronous bool

	// OldValueRequired keeps Event.OldValue populated; when false it is
	// always nil, avoiding retaining superseded values needlessly.
	OldValueRequired bool

	Filter EventFilter

	// QueueSize and EnqueueTimeout tune this listener's ASYNC_TIMED
	// queue; zero selects the dispatcher defaults.
	QueueSize      int
	EnqueueTimeout int64 // nanoseconds
}

// Registration identifies a registered listener for later deregistration.
type Registration struct {
	inner listener.Registration
	valid bool
}
