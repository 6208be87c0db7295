/*
Package listener implements registration and dispatch for cache entry
listeners: external callbacks notified of CREATED/UPDATED/REMOVED/EXPIRED
transitions.

The registry's fast-path existence check is ported directly from
trivago/triava's ListenerCollection: rather than walking the registered
listener set on every single store mutation just to learn "does anyone
care about this event type", a single word is kept as a bitmask of event
types that have at least one listener, rebuilt under a lock whenever the
listener set changes and read the rest of the time with a plain atomic
load. That keeps the by-far-more-frequent "nobody is listening" case down
to one atomic load and a bit test.
*/
package listener

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// EventType identifies the kind of cache mutation a listener can subscribe
// to. Values double as bit positions in the presence mask, so they must
// stay small and contiguous.
type EventType int

const (
	Created EventType = iota
	Updated
	Removed
	Expired
	numEventTypes
)

func (t EventType) bit() uint32 { return 1 << uint(t) }

// Event is the payload handed to a Listener.
type Event struct {
	Type       EventType
	Key        string
	OldValue   any
	OldExisted bool
	NewValue   any
	NewExists  bool
}

// Listener receives dispatched Events. Implementations must not block
// indefinitely: SYNC listeners run inline on the calling goroutine, and a
// slow ASYNC_TIMED listener only risks its own queued events being dropped,
// never other listeners' delivery.
type Listener interface {
	OnEvent(Event)
}

// Filter optionally suppresses an event before it reaches a Listener.
// A nil Filter admits everything.
type Filter func(Event) bool

// Config describes how one listener was registered.
type Config struct {
	Listener         Listener
	Types            []EventType
	Synchronous      bool // false selects ASYNC_TIMED delivery
	OldValueRequired bool
	Filter           Filter

	// QueueSize and EnqueueTimeout override the dispatcher defaults for
	// this listener's ASYNC_TIMED queue; zero values mean "use default".
	QueueSize      int
	EnqueueTimeout int64 // nanoseconds; kept as int64 to avoid importing time here
}

func (c Config) listensFor(t EventType) bool {
	for _, want := range c.Types {
		if want == t {
			return true
		}
	}
	return false
}

// equalityKey is compared with reflect.DeepEqual by Registry.Register to
// detect an attempt to register the identical configuration twice, which
// JSR107 forbids. The Filter closure and per-listener queue overrides are
// deliberately excluded: two configurations that differ only in a filter
// function (which is never comparable in Go) or a queue-tuning knob are
// still "the same listener" for duplicate-detection purposes.
type equalityKey struct {
	Listener         Listener
	Types            [numEventTypes]bool
	Synchronous      bool
	OldValueRequired bool
}

func keyOf(c Config) equalityKey {
	var k equalityKey
	k.Listener = c.Listener
	k.Synchronous = c.Synchronous
	k.OldValueRequired = c.OldValueRequired
	for _, t := range c.Types {
		if t >= 0 && t < numEventTypes {
			k.Types[t] = true
		}
	}
	return k
}

// Registration identifies one registered listener so callers can later
// deregister it.
type Registration struct {
	id uuid.UUID
}

type registeredEntry struct {
	id     uuid.UUID
	config Config
	key    equalityKey
}

// Registry holds the set of currently registered listeners and the derived
// presence mask.
type Registry struct {
	mu      sync.Mutex
	entries []*registeredEntry
	mask    atomic.Uint32
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds cfg to the registry. It returns an ArgumentError-flavored
// bool (ok=false) if an identical configuration is already registered,
// mirroring the JSR107 rule that a listener must not be added twice.
func (r *Registry) Register(cfg Config) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(cfg)
	for _, e := range r.entries {
		if e.key == k {
			return Registration{}, false
		}
	}

	id := uuid.New()
	r.entries = append(r.entries, &registeredEntry{id: id, config: cfg, key: k})
	r.rebuildMaskLocked()
	return Registration{id: id}, true
}

// Deregister removes a previously registered listener. It reports whether
// anything was removed.
func (r *Registry) Deregister(reg Registration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, e := range r.entries {
		if e.id == reg.id {
			r.entries = append(r.entries[:i], r.entries[i+1:]...)
			r.rebuildMaskLocked()
			return true
		}
	}
	return false
}

// rebuildMaskLocked recomputes the presence bitmask; callers must hold mu.
func (r *Registry) rebuildMaskLocked() {
	var mask uint32
	for _, e := range r.entries {
		for _, t := range e.config.Types {
			mask |= t.bit()
		}
	}
	r.mask.Store(mask)
}

// HasListenerFor is the hot-path check: a single atomic load plus a bit
// test, safe to call on every store mutation without contending any lock.
func (r *Registry) HasListenerFor(t EventType) bool {
	return r.mask.Load()&t.bit() != 0
}

// Snapshot returns the currently registered configurations that listen for
// t, for the dispatcher to fan an event out to. The returned slice is a
// copy; mutating it does not affect the registry.
func (r *Registry) Snapshot(t EventType) []Config {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Config, 0, len(r.entries))
	for _, e := range r.entries {
		if e.config.listensFor(t) {
			out = append(out, e.config)
		}
	}
	return out
}

// entryView is a snapshot of one registered listener including its
// identity, used by the dispatcher to address the right async worker.
type entryView struct {
	id     uuid.UUID
	config Config
}

// snapshotWithID is like Snapshot but also returns each entry's
// Registration id, which Snapshot itself omits to keep Registry's public
// surface free of dispatch concerns.
func (r *Registry) snapshotWithID(t EventType) []entryView {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]entryView, 0, len(r.entries))
	for _, e := range r.entries {
		if e.config.listensFor(t) {
			out = append(out, entryView{id: e.id, config: e.config})
		}
	}
	return out
}

// Close deregisters every listener. Called once during cache shutdown.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.mask.Store(0)
}
