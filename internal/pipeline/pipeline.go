/*
Package pipeline is the "brain" of the cache system. It is responsible for
the behavior around a store mutation, not the mutation itself: given an
operation (put, putIfAbsent, replace, remove, ...) it drives the store's
compose-and-classify primitive, then reacts to the resulting classification
by invoking a write-through writer, dispatching listener events, and
recording statistics — in that order, matching the stage ordering — and
finally, when an entry was created, signalling the evictor to enforce
capacity on its own worker.

It does NOT:
  - store data (internal/store does)
  - decide what to evict (internal/evictor does)
  - fan events out to registered listeners (internal/listener does)

Each operation (put, putIfAbsent, replace, remove, ...) is expressed as a
data-driven case rather than a handful of near-duplicate linear read/write
methods, because the range of outcomes (CREATED, CHANGED, UNCHANGED,
CAS_FAILED_EQUALS, REMOVED, EXPIRED) and which of them trigger a writer
call, a listener event, or a statistics increment differs per operation
kind in ways that duplicated methods can't express cleanly.
*/
package pipeline

import (
	"context"
	"time"

	"github.com/krisalay/tcache/internal/entry"
	"github.com/krisalay/tcache/internal/evictor"
	"github.com/krisalay/tcache/internal/expiry"
	"github.com/krisalay/tcache/internal/store"
)

// EventType mirrors the cache-level event taxonomy without importing the
// root package (which imports pipeline), keeping the dependency graph
// acyclic. The root package's own EventType constants must stay in sync.
type EventType int

const (
	EventCreated EventType = iota
	EventUpdated
	EventRemoved
	EventExpired
)

// StatsSink receives the statistics side effects of a completed operation.
type StatsSink interface {
	Hit()
	Miss()
	Put()
	Removal()
	Expire()
}

// EventSink receives listener notifications. oldExisted/newExists let the
// sink build an OldValueRequired-aware payload without pipeline needing to
// know anything about listener configuration.
type EventSink interface {
	Dispatch(evt EventType, key string, oldValue any, oldExisted bool, newValue any, newExists bool)

	// DispatchBatch delivers one event type across many keys as a single
	// call, used by PutAll/RemoveAll so a bulk operation fans out through
	// the dispatcher once per event type instead of once per key.
	DispatchBatch(evt EventType, records []EventRecord)
}

// EventRecord is one key's before/after state within a DispatchBatch call.
type EventRecord struct {
	Key        string
	OldValue   any
	OldExisted bool
	NewValue   any
	NewExists  bool
}

// Loader performs read-through loads on a cache miss.
type Loader interface {
	Load(ctx context.Context, key string) (any, error)
}

// Writer performs synchronous write-through persistence.
// Errors are wrapped by the caller into the cache's WriterError type.
type Writer interface {
	Write(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, key string) error
}

// Pipeline wires a Store to the policies and collaborators that react to
// its state transitions.
type Pipeline struct {
	Store   *store.Store
	Expiry  expiry.Policy
	Evictor *evictor.Evictor
	Writer  Writer // may be nil: no write-through configured
	Events  EventSink
	Stats   StatsSink
}

// Outcome is returned by every pipeline operation so callers (the root
// Cache type) can translate it into the right public return values and
// error types without re-deriving state from the raw store.Result.
type Outcome struct {
	Status     store.ChangeStatus
	OldValue   any
	OldExisted bool
	NewValue   any
	NewExists  bool
	WriteErr   error // non-nil if a configured Writer failed on this op
}

func (p *Pipeline) now() time.Time { return time.Now() }

// emitExpiredIfAny fires the EXPIRED event and statistic for an entry the
// store found already past its deadline while composing, independent of
// whatever the main operation's own outcome was. See the EXPIRED+CREATED
// resolution recorded in the design ledger: an overwrite that lands on an
// expired key reports both EXPIRED (for the old value) and CREATED (for the
// new one), never UPDATED.
func (p *Pipeline) emitExpiredIfAny(key string, r store.Result) {
	if !r.ExpiredOccurred {
		return
	}
	if p.Stats != nil {
		p.Stats.Expire()
	}
	if p.Events != nil {
		p.Events.Dispatch(EventExpired, key, r.ExpiredValue, true, nil, false)
	}
}

// writeThrough applies the general write-through eligibility rule: the
// writer is invoked for any operation whose classification is CREATED,
// CHANGED, or REMOVED, regardless of which operation produced it. This is
// deliberately broader than the original ReplaceAction.writeThroughImpl,
// which only wrote through on CHANGED — the general rule wins uniformly
// here, and the narrower replace-only behavior is confined to statistics
// (see recordCoreStats).
func (p *Pipeline) writeThrough(ctx context.Context, key string, r store.Result) error {
	if p.Writer == nil {
		return nil
	}
	switch r.Status {
	case store.Created, store.Changed:
		return p.Writer.Write(ctx, key, r.NewValue)
	case store.Removed:
		return p.Writer.Delete(ctx, key)
	default:
		return nil
	}
}

func (p *Pipeline) dispatchForStatus(key string, r store.Result) {
	if p.Events == nil {
		return
	}
	switch r.Status {
	case store.Created:
		p.Events.Dispatch(EventCreated, key, nil, false, r.NewValue, true)
	case store.Changed:
		p.Events.Dispatch(EventUpdated, key, r.OldValue, r.OldExisted, r.NewValue, true)
	case store.Removed:
		p.Events.Dispatch(EventRemoved, key, r.OldValue, true, nil, false)
	}
}

// action identifies which statistics row of the action/outcome table
// applies: the put/putIfAbsent/replace/remove families each count hits and
// misses differently for the same UNCHANGED/CAS_FAILED_EQUALS outcomes, so
// a single status-only switch can't express all four rows.
type action int

const (
	actionPut action = iota
	actionPutIfAbsent
	actionReplace
	actionRemove
)

// recordCoreStats increments the hit/miss/put/removal counters per the
// action/outcome table. CHANGED always counts as a hit and a put; CREATED
// counts as a put for put/putIfAbsent but only a miss for replace, which
// never actually reaches CREATED in practice since its own mutator keeps
// rather than inserts on an absent key. UNCHANGED and CAS_FAILED_EQUALS are
// hits or misses depending on whether the key was actually found
// (store.Result.OldExisted), which means different things per action:
// putIfAbsent's UNCHANGED is a hit (key present), replace's and remove's
// UNCHANGED is a miss (key absent).
func (p *Pipeline) recordCoreStats(a action, r store.Result) {
	if p.Stats == nil {
		return
	}
	switch a {
	case actionPut:
		switch r.Status {
		case store.Created:
			p.Stats.Put()
		case store.Changed:
			p.Stats.Hit()
			p.Stats.Put()
		}
	case actionPutIfAbsent:
		switch r.Status {
		case store.Created:
			p.Stats.Miss()
			p.Stats.Put()
		case store.Unchanged:
			p.Stats.Hit()
		}
	case actionReplace:
		switch r.Status {
		case store.Created:
			p.Stats.Miss()
		case store.Changed:
			p.Stats.Hit()
			p.Stats.Put()
		case store.Unchanged:
			p.Stats.Miss()
		case store.CASFailed:
			p.Stats.Hit()
		}
	case actionRemove:
		switch r.Status {
		case store.Removed:
			p.Stats.Removal()
		case store.Unchanged:
			p.Stats.Miss()
		case store.CASFailed:
			p.Stats.Hit()
		}
	}
}

func (p *Pipeline) finish(ctx context.Context, key string, r store.Result, a action) Outcome {
	p.emitExpiredIfAny(key, r)

	werr := p.writeThrough(ctx, key, r)
	p.dispatchForStatus(key, r)
	p.recordCoreStats(a, r)

	if r.Status == store.Created && p.Evictor != nil {
		// Asks the evictor's own background worker to enforce capacity
		// instead of doing it inline here: capacity-driven eviction can
		// invoke a writer and dispatch listener events, and the caller of
		// Put/PutIfAbsent/... must not be blocked on either.
		p.Evictor.RequestEnforceCapacity()
	}

	return Outcome{
		Status:     r.Status,
		OldValue:   r.OldValue,
		OldExisted: r.OldExisted,
		NewValue:   r.NewValue,
		NewExists:  r.NewExists,
		WriteErr:   werr,
	}
}

func (p *Pipeline) expiryFor(current *entry.Entry, now time.Time, isUpdate bool) time.Time {
	if p.Expiry == nil {
		return time.Time{}
	}
	if isUpdate {
		return p.Expiry.OnUpdate(now, current.ExpiresAt)
	}
	return p.Expiry.OnCreate(now)
}

// Put performs an unconditional upsert (JSR107 put / Ehcache put).
func (p *Pipeline) Put(ctx context.Context, key string, value any) Outcome {
	now := p.now()
	r := p.Store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
		if exists {
			return store.Mutation{Kind: store.Replace, Value: value, ExpiresAt: p.expiryFor(current, now, true)}
		}
		return store.Mutation{Kind: store.Insert, Value: value, ExpiresAt: p.expiryFor(current, now, false)}
	})
	return p.finish(ctx, key, r, actionPut)
}

// PutIfAbsent inserts only if the key is currently absent (or expired).
func (p *Pipeline) PutIfAbsent(ctx context.Context, key string, value any) Outcome {
	now := p.now()
	r := p.Store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
		if exists {
			return store.Mutation{Kind: store.Keep}
		}
		return store.Mutation{Kind: store.Insert, Value: value, ExpiresAt: p.expiryFor(current, now, false)}
	})
	return p.finish(ctx, key, r, actionPutIfAbsent)
}

// GetAndPut is an unconditional swap that also returns the previous value:
// it may CREATE (key was absent) or CHANGE, exactly like plain Put, so it
// shares Put's statistics row rather than the conditional replace family's.
func (p *Pipeline) GetAndPut(ctx context.Context, key string, value any) Outcome {
	now := p.now()
	r := p.Store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
		if exists {
			return store.Mutation{Kind: store.Replace, Value: value, ExpiresAt: p.expiryFor(current, now, true)}
		}
		return store.Mutation{Kind: store.Insert, Value: value, ExpiresAt: p.expiryFor(current, now, false)}
	})
	return p.finish(ctx, key, r, actionPut)
}

// Replace implements the 2-arg replace(key, newValue): a no-op unless the
// key is already present, so it can never CREATE.
func (p *Pipeline) Replace(ctx context.Context, key string, value any) Outcome {
	now := p.now()
	r := p.Store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
		if !exists {
			return store.Mutation{Kind: store.Keep}
		}
		return store.Mutation{Kind: store.Replace, Value: value, ExpiresAt: p.expiryFor(current, now, true)}
	})
	return p.finish(ctx, key, r, actionReplace)
}

// ReplaceIfEquals implements the 3-arg CAS replace(key, expected, new).
// equal is the caller's equality function over stored values (usually
// reflect.DeepEqual or ==, decided at the root package).
func (p *Pipeline) ReplaceIfEquals(ctx context.Context, key string, expected, value any, equal func(a, b any) bool) Outcome {
	now := p.now()
	r := p.Store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
		if !exists || !equal(current.Value, expected) {
			return store.Mutation{Kind: store.Keep, CASFailed: exists}
		}
		return store.Mutation{Kind: store.Replace, Value: value, ExpiresAt: p.expiryFor(current, now, true)}
	})
	return p.finish(ctx, key, r, actionReplace)
}

// GetAndReplace is the replace-family variant of the 2-arg replace that
// also returns the previous value.
func (p *Pipeline) GetAndReplace(ctx context.Context, key string, value any) Outcome {
	return p.Replace(ctx, key, value)
}

// Remove implements unconditional removal.
func (p *Pipeline) Remove(ctx context.Context, key string) Outcome {
	now := p.now()
	r := p.Store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
		if !exists {
			return store.Mutation{Kind: store.Keep}
		}
		return store.Mutation{Kind: store.Remove}
	})
	return p.finish(ctx, key, r, actionRemove)
}

// RemoveIfEquals implements the CAS remove(key, expected).
func (p *Pipeline) RemoveIfEquals(ctx context.Context, key string, expected any, equal func(a, b any) bool) Outcome {
	now := p.now()
	r := p.Store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
		if !exists || !equal(current.Value, expected) {
			return store.Mutation{Kind: store.Keep, CASFailed: exists}
		}
		return store.Mutation{Kind: store.Remove}
	})
	return p.finish(ctx, key, r, actionRemove)
}

// GetAndRemove removes unconditionally and returns the previous value.
func (p *Pipeline) GetAndRemove(ctx context.Context, key string) Outcome {
	return p.Remove(ctx, key)
}

// Get performs a read: lazily folds away an expired entry (emitting
// EXPIRED), touches the expiry policy's OnAccess hook, records Hit/Miss,
// and updates the entry's recency/frequency metadata so a sampled eviction
// policy sees it.
func (p *Pipeline) Get(ctx context.Context, key string) Outcome {
	now := p.now()
	var currentExpiry time.Time
	r := p.Store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
		if exists {
			currentExpiry = current.ExpiresAt
		}
		return store.Mutation{Kind: store.Keep}
	})
	p.emitExpiredIfAny(key, r)

	if r.NewExists {
		if p.Stats != nil {
			p.Stats.Hit()
		}
		var newExpiry *time.Time
		if p.Expiry != nil {
			next := p.Expiry.OnAccess(now, currentExpiry)
			if !next.IsZero() && !next.Equal(currentExpiry) {
				newExpiry = &next
			}
		}
		// Touch runs on every hit, not just when an expiry policy moves the
		// deadline, so LastAccessedAt/AccessCount stay fresh for sampled
		// eviction even on a cache with no expiry policy configured.
		p.Store.Touch(key, now, newExpiry)
	} else if p.Stats != nil {
		p.Stats.Miss()
	}

	return Outcome{Status: r.Status, NewValue: r.NewValue, NewExists: r.NewExists}
}

// PutAll stores every entry in values, in unspecified order. Unlike a loop
// of Put, every key's mutation is applied first and CREATED/UPDATED events
// are each dispatched as one DispatchBatch call afterward, and the Evictor
// is signaled once at the end rather than once per key.
func (p *Pipeline) PutAll(ctx context.Context, values map[string]any) map[string]Outcome {
	out := make(map[string]Outcome, len(values))
	var created, updated []EventRecord
	now := p.now()

	for k, v := range values {
		value := v
		r := p.Store.ComposeAndClassify(k, now, func(current *entry.Entry, exists bool) store.Mutation {
			if exists {
				return store.Mutation{Kind: store.Replace, Value: value, ExpiresAt: p.expiryFor(current, now, true)}
			}
			return store.Mutation{Kind: store.Insert, Value: value, ExpiresAt: p.expiryFor(current, now, false)}
		})
		p.emitExpiredIfAny(k, r)
		werr := p.writeThrough(ctx, k, r)
		p.recordCoreStats(actionPut, r)

		switch r.Status {
		case store.Created:
			created = append(created, EventRecord{Key: k, NewValue: r.NewValue, NewExists: true})
		case store.Changed:
			updated = append(updated, EventRecord{Key: k, OldValue: r.OldValue, OldExisted: r.OldExisted, NewValue: r.NewValue, NewExists: true})
		}

		out[k] = Outcome{Status: r.Status, OldValue: r.OldValue, OldExisted: r.OldExisted, NewValue: r.NewValue, NewExists: r.NewExists, WriteErr: werr}
	}

	if p.Events != nil {
		if len(created) > 0 {
			p.Events.DispatchBatch(EventCreated, created)
		}
		if len(updated) > 0 {
			p.Events.DispatchBatch(EventUpdated, updated)
		}
	}
	if len(created) > 0 && p.Evictor != nil {
		p.Evictor.RequestEnforceCapacity()
	}
	return out
}

// RemoveAll deletes every key in keys, ignoring keys that are already
// absent. REMOVED events are dispatched as one DispatchBatch call instead
// of once per key.
func (p *Pipeline) RemoveAll(ctx context.Context, keys []string) map[string]Outcome {
	out := make(map[string]Outcome, len(keys))
	var removed []EventRecord
	now := p.now()

	for _, k := range keys {
		r := p.Store.ComposeAndClassify(k, now, func(current *entry.Entry, exists bool) store.Mutation {
			if !exists {
				return store.Mutation{Kind: store.Keep}
			}
			return store.Mutation{Kind: store.Remove}
		})
		p.emitExpiredIfAny(k, r)
		werr := p.writeThrough(ctx, k, r)
		p.recordCoreStats(actionRemove, r)

		if r.Status == store.Removed {
			removed = append(removed, EventRecord{Key: k, OldValue: r.OldValue, OldExisted: true})
		}

		out[k] = Outcome{Status: r.Status, OldValue: r.OldValue, OldExisted: r.OldExisted, NewValue: r.NewValue, NewExists: r.NewExists, WriteErr: werr}
	}

	if p.Events != nil && len(removed) > 0 {
		p.Events.DispatchBatch(EventRemoved, removed)
	}
	return out
}
