/*
Package tcache implements a concurrent, in-process key-value cache with
JSR107-flavored semantics: atomic compose-and-classify mutations (so a
putIfAbsent or a CAS replace/remove is decided and applied in one step,
never as a racy read-then-write), pluggable expiration and eviction
policies, synchronous write-through, and a listener/dispatcher subsystem
for observing CREATED/UPDATED/REMOVED/EXPIRED transitions.

Cache is the orchestrator: it owns the Store, wires an ActionPipeline to
the configured ExpirationPolicy/Evictor/Writer/listeners/statistics, and
exposes the public operations, one struct wiring independently-testable
collaborators behind a small public surface.
*/
package tcache

import (
	"context"
	"reflect"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/krisalay/tcache/internal/entry"
	"github.com/krisalay/tcache/internal/evictor"
	"github.com/krisalay/tcache/internal/listener"
	"github.com/krisalay/tcache/internal/logging"
	"github.com/krisalay/tcache/internal/pipeline"
	"github.com/krisalay/tcache/internal/stats"
	"github.com/krisalay/tcache/internal/store"
)

// keepMutator is a store.Mutator that never changes anything, used by
// read-only paths (ContainsKey, GetAll) that still need lazy-expiry
// folding but must not affect statistics or eviction bookkeeping the way
// Get does.
func keepMutator(_ *entry.Entry, _ bool) store.Mutation {
	return store.Mutation{Kind: store.Keep}
}

type lifecycleState int32

const (
	stateOpen lifecycleState = iota
	stateClosing
	stateClosed
)

// Cache is the concurrent, in-process key-value cache. The zero value is
// not usable; construct one with New.
type Cache struct {
	state atomic.Int32

	store     *store.Store
	pipeline  *pipeline.Pipeline
	evict     *evictor.Evictor
	registry  *listener.Registry
	dispatch  *listener.Dispatcher
	statsCalc *stats.Calculator
	log       logging.Logger

	loader Loader
	sf     singleflight.Group
}

// New constructs a Cache with the given options applied over sane
// defaults: no capacity bound, no expiry, no listeners, no read-through
// loader, no write-through writer, and a discarding logger.
func New(opts ...Option) *Cache {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	st := store.New(cfg.stripes)
	registry := listener.NewRegistry()
	dispatch := listener.NewDispatcher(registry, cfg.logger)
	statsCalc := &stats.Calculator{}

	c := &Cache{
		store:     st,
		registry:  registry,
		dispatch:  dispatch,
		statsCalc: statsCalc,
		log:       cfg.logger,
		loader:    cfg.loader,
	}

	ev := evictor.New(st, evictor.NewPolicy(cfg.evictionKind), evictor.Config{
		Capacity:      cfg.capacity,
		SweepInterval: cfg.sweepInterval,
		SampleSize:    cfg.sampleSize,
	}, evictor.Callbacks{
		OnExpired: c.onExpiredByEvictor,
		OnEvicted: c.onEvictedByEvictor,
	})
	c.evict = ev

	c.pipeline = &pipeline.Pipeline{
		Store:   st,
		Expiry:  cfg.expiryPolicy,
		Evictor: ev,
		Writer:  wrapWriter(cfg.writer, c.log),
		Events:  (*eventSinkAdapter)(c),
		Stats:   statsCalc,
	}

	ev.Start()
	return c
}

// eventSinkAdapter lets *Cache satisfy pipeline.EventSink without exposing
// Dispatch as part of Cache's own public method set.
type eventSinkAdapter Cache

func (a *eventSinkAdapter) Dispatch(evt pipeline.EventType, key string, oldValue any, oldExisted bool, newValue any, newExists bool) {
	c := (*Cache)(a)
	// User-initiated: runs on the caller's own goroutine, so a Synchronous
	// listener blocking it is the requested behavior, not a violation.
	c.dispatch.Dispatch(listener.Event{
		Type:       listener.EventType(evt),
		Key:        key,
		OldValue:   oldValue,
		OldExisted: oldExisted,
		NewValue:   newValue,
		NewExists:  newExists,
	}, false)
}

func (a *eventSinkAdapter) DispatchBatch(evt pipeline.EventType, records []pipeline.EventRecord) {
	c := (*Cache)(a)
	events := make([]listener.Event, len(records))
	for i, rec := range records {
		events[i] = listener.Event{
			Type:       listener.EventType(evt),
			Key:        rec.Key,
			OldValue:   rec.OldValue,
			OldExisted: rec.OldExisted,
			NewValue:   rec.NewValue,
			NewExists:  rec.NewExists,
		}
	}
	c.dispatch.DispatchAll(events, false)
}

func (c *Cache) onExpiredByEvictor(key string, value any) {
	c.statsCalc.Expire()
	// Runs on the evictor's background worker: force Synchronous listeners
	// onto the dispatcher's async path so a slow listener never stalls
	// sweeping.
	c.dispatch.Dispatch(listener.Event{Type: listener.Expired, Key: key, OldValue: value, OldExisted: true}, true)
}

func (c *Cache) onEvictedByEvictor(key string, value any) {
	c.statsCalc.Eviction()
	if c.pipeline.Writer != nil {
		if err := c.pipeline.Writer.Delete(context.Background(), key); err != nil {
			c.log.Error("writer delete failed for evicted key", "key", key, "err", err)
		}
	}
	c.dispatch.Dispatch(listener.Event{Type: listener.Removed, Key: key, OldValue: value, OldExisted: true}, true)
}

func (c *Cache) checkOpen(op string) error {
	if lifecycleState(c.state.Load()) != stateOpen {
		return &StateError{Op: op}
	}
	return nil
}

// IsClosed reports whether the cache is no longer OPEN. It is the one
// public operation that never fails with a StateError, since callers need
// a way to ask the question without one.
func (c *Cache) IsClosed() bool {
	return lifecycleState(c.state.Load()) != stateOpen
}

func (c *Cache) argErr(op, key, msg string) error {
	if key != "" {
		msg = "key " + key + ": " + msg
	}
	return &ArgumentError{Op: op, Msg: msg}
}

func toWriteErr(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &WriterError{Key: key, Op: op, Err: err}
}

// Get returns the value stored under key. On a miss, if a Loader is
// configured it performs a read-through load, coalescing concurrent loads
// of the same key via singleflight so a thundering herd of misses results
// in exactly one call to the loader.
func (c *Cache) Get(ctx context.Context, key string) (any, bool, error) {
	if err := c.checkOpen("Get"); err != nil {
		return nil, false, err
	}
	if key == "" {
		return nil, false, c.argErr("Get", key, "key must not be empty")
	}

	out := c.pipeline.Get(ctx, key)
	if out.NewExists {
		return out.NewValue, true, nil
	}
	if c.loader == nil {
		return nil, false, nil
	}

	val, err, _ := c.sf.Do(key, func() (any, error) {
		return c.loader.Load(ctx, key)
	})
	if err != nil {
		return nil, false, &LoaderError{Key: key, Err: err}
	}
	if val == nil {
		return nil, false, nil
	}
	c.pipeline.Put(ctx, key, val)
	return val, true, nil
}

// ContainsKey reports whether key is present and not expired, without
// affecting statistics or recency bookkeeping the way Get does.
func (c *Cache) ContainsKey(key string) bool {
	if c.checkOpen("ContainsKey") != nil || key == "" {
		return false
	}
	res := c.store.ComposeAndClassify(key, time.Now(), keepMutator)
	return res.NewExists
}

// Put unconditionally stores value under key.
func (c *Cache) Put(ctx context.Context, key string, value any) error {
	if err := c.checkOpen("Put"); err != nil {
		return err
	}
	if key == "" {
		return c.argErr("Put", key, "key must not be empty")
	}
	out := c.pipeline.Put(ctx, key, value)
	return toWriteErr("write", key, out.WriteErr)
}

// PutIfAbsent stores value under key only if key is currently absent (or
// expired). It reports whether the insert happened.
func (c *Cache) PutIfAbsent(ctx context.Context, key string, value any) (bool, error) {
	if err := c.checkOpen("PutIfAbsent"); err != nil {
		return false, err
	}
	if key == "" {
		return false, c.argErr("PutIfAbsent", key, "key must not be empty")
	}
	out := c.pipeline.PutIfAbsent(ctx, key, value)
	return out.Status == store.Created, toWriteErr("write", key, out.WriteErr)
}

// GetAndPut stores value under key and returns the value it replaced, if
// any.
func (c *Cache) GetAndPut(ctx context.Context, key string, value any) (any, bool, error) {
	if err := c.checkOpen("GetAndPut"); err != nil {
		return nil, false, err
	}
	if key == "" {
		return nil, false, c.argErr("GetAndPut", key, "key must not be empty")
	}
	out := c.pipeline.GetAndPut(ctx, key, value)
	return out.OldValue, out.OldExisted, toWriteErr("write", key, out.WriteErr)
}

// Replace stores value under key only if key is already present, and
// reports whether the replace happened. It never creates a new entry.
func (c *Cache) Replace(ctx context.Context, key string, value any) (bool, error) {
	if err := c.checkOpen("Replace"); err != nil {
		return false, err
	}
	if key == "" {
		return false, c.argErr("Replace", key, "key must not be empty")
	}
	out := c.pipeline.Replace(ctx, key, value)
	return out.Status == store.Changed, toWriteErr("write", key, out.WriteErr)
}

// ReplaceIfEquals is the CAS form of Replace: it swaps in newValue only if
// the currently stored value equals expected (via reflect.DeepEqual).
func (c *Cache) ReplaceIfEquals(ctx context.Context, key string, expected, newValue any) (bool, error) {
	if err := c.checkOpen("ReplaceIfEquals"); err != nil {
		return false, err
	}
	if key == "" {
		return false, c.argErr("ReplaceIfEquals", key, "key must not be empty")
	}
	out := c.pipeline.ReplaceIfEquals(ctx, key, expected, newValue, reflect.DeepEqual)
	return out.Status == store.Changed, toWriteErr("write", key, out.WriteErr)
}

// GetAndReplace stores value under key only if present, returning the
// previous value and whether a replace happened.
func (c *Cache) GetAndReplace(ctx context.Context, key string, value any) (any, bool, error) {
	if err := c.checkOpen("GetAndReplace"); err != nil {
		return nil, false, err
	}
	if key == "" {
		return nil, false, c.argErr("GetAndReplace", key, "key must not be empty")
	}
	out := c.pipeline.GetAndReplace(ctx, key, value)
	return out.OldValue, out.Status == store.Changed, toWriteErr("write", key, out.WriteErr)
}

// Remove deletes key unconditionally. It is idempotent: removing an
// absent key is not an error and reports false.
func (c *Cache) Remove(ctx context.Context, key string) (bool, error) {
	if err := c.checkOpen("Remove"); err != nil {
		return false, err
	}
	if key == "" {
		return false, c.argErr("Remove", key, "key must not be empty")
	}
	out := c.pipeline.Remove(ctx, key)
	return out.Status == store.Removed, toWriteErr("delete", key, out.WriteErr)
}

// RemoveIfEquals is the CAS form of Remove: it deletes key only if its
// current value equals expected.
func (c *Cache) RemoveIfEquals(ctx context.Context, key string, expected any) (bool, error) {
	if err := c.checkOpen("RemoveIfEquals"); err != nil {
		return false, err
	}
	if key == "" {
		return false, c.argErr("RemoveIfEquals", key, "key must not be empty")
	}
	out := c.pipeline.RemoveIfEquals(ctx, key, expected, reflect.DeepEqual)
	return out.Status == store.Removed, toWriteErr("delete", key, out.WriteErr)
}

// GetAndRemove deletes key unconditionally and returns the value it held.
func (c *Cache) GetAndRemove(ctx context.Context, key string) (any, bool, error) {
	if err := c.checkOpen("GetAndRemove"); err != nil {
		return nil, false, err
	}
	if key == "" {
		return nil, false, c.argErr("GetAndRemove", key, "key must not be empty")
	}
	out := c.pipeline.GetAndRemove(ctx, key)
	return out.OldValue, out.Status == store.Removed, toWriteErr("delete", key, out.WriteErr)
}

// PutAll stores every entry in values, in unspecified order: every
// mutation is applied first, then CREATED and UPDATED events are each
// dispatched as one batch instead of one call per key. It reports the
// first Writer failure encountered (order unspecified), leaving
// already-applied mutations in place — they are not rolled back.
func (c *Cache) PutAll(ctx context.Context, values map[string]any) error {
	if err := c.checkOpen("PutAll"); err != nil {
		return err
	}
	for k := range values {
		if k == "" {
			return c.argErr("PutAll", k, "key must not be empty")
		}
	}
	outcomes := c.pipeline.PutAll(ctx, values)
	for k, out := range outcomes {
		if out.WriteErr != nil {
			return toWriteErr("write", k, out.WriteErr)
		}
	}
	return nil
}

// GetAll returns every currently present, non-expired value among keys.
// Missing or expired keys are simply absent from the result; GetAll never
// performs read-through loading.
func (c *Cache) GetAll(keys []string) map[string]any {
	out := make(map[string]any, len(keys))
	if c.checkOpen("GetAll") != nil {
		return out
	}
	now := time.Now()
	for _, k := range keys {
		res := c.store.ComposeAndClassify(k, now, keepMutator)
		if res.NewExists {
			out[k] = res.NewValue
		}
	}
	return out
}

// RemoveAll deletes every key in keys, ignoring keys that are already
// absent. REMOVED events are dispatched as one batch instead of one call
// per key.
func (c *Cache) RemoveAll(ctx context.Context, keys []string) error {
	if err := c.checkOpen("RemoveAll"); err != nil {
		return err
	}
	for _, k := range keys {
		if k == "" {
			return c.argErr("RemoveAll", k, "key must not be empty")
		}
	}
	outcomes := c.pipeline.RemoveAll(ctx, keys)
	for _, k := range keys {
		if out := outcomes[k]; out.WriteErr != nil {
			return toWriteErr("delete", k, out.WriteErr)
		}
	}
	return nil
}

// Clear removes every entry without invoking the configured Writer or
// notifying any listener: JSR107's clear(), distinct from RemoveAll, which
// does both per key. Use RemoveAll when write-through and notification are
// wanted; use Clear for a bulk reset of the cache's own state only.
func (c *Cache) Clear() error {
	if err := c.checkOpen("Clear"); err != nil {
		return err
	}
	c.store.Clear()
	return nil
}

// Size returns the approximate number of live entries.
func (c *Cache) Size() int64 {
	if c.checkOpen("Size") != nil {
		return 0
	}
	return c.store.Size()
}

// Statistics returns a snapshot of the cache's hit/miss/put/removal/
// eviction/expire counters.
func (c *Cache) Statistics() stats.Snapshot {
	if c.checkOpen("Statistics") != nil {
		return stats.Snapshot{}
	}
	return c.statsCalc.Snapshot()
}

// Iterator returns a weakly-consistent point-in-time snapshot of the
// cache's contents: a key present when the cache is later mutated may or
// may not be reflected, and the snapshot itself never blocks concurrent
// mutations.
func (c *Cache) Iterator() *Iterator {
	if c.checkOpen("Iterator") != nil {
		return newIterator(nil)
	}
	return newIterator(c.store.Snapshot())
}

// AddListener registers cfg's listener for the event types it names. It
// reports an ArgumentError if an identical configuration (same listener,
// event set, synchronicity, and OldValueRequired) is already registered.
func (c *Cache) AddListener(cfg ListenerConfig) (Registration, error) {
	if err := c.checkOpen("AddListener"); err != nil {
		return Registration{}, err
	}
	if cfg.Listener == nil {
		return Registration{}, c.argErr("AddListener", "", "listener must not be nil")
	}
	internalCfg := listener.Config{
		Listener:         listenerAdapter{cfg.Listener},
		Synchronous:      cfg.Synchronous,
		OldValueRequired: cfg.OldValueRequired,
		QueueSize:        cfg.QueueSize,
		EnqueueTimeout:   cfg.EnqueueTimeout,
	}
	if cfg.Filter != nil {
		internalCfg.Filter = func(e listener.Event) bool { return cfg.Filter(fromInternalEvent(e)) }
	}
	for _, t := range cfg.Types {
		internalCfg.Types = append(internalCfg.Types, listener.EventType(t))
	}

	reg, ok := c.registry.Register(internalCfg)
	if !ok {
		return Registration{}, c.argErr("AddListener", "", "listener already registered with this configuration")
	}
	c.dispatch.EnsureWorker(reg, internalCfg)
	return Registration{inner: reg, valid: true}, nil
}

// RemoveListener deregisters a listener previously returned by
// AddListener. It reports whether anything was removed.
func (c *Cache) RemoveListener(reg Registration) bool {
	if c.checkOpen("RemoveListener") != nil || !reg.valid {
		return false
	}
	c.dispatch.RemoveWorker(reg.inner)
	return c.registry.Deregister(reg.inner)
}

// Close transitions the cache to CLOSED: it stops the background evictor,
// tears down listener dispatch workers (draining anything already
// queued), and deregisters every listener. Close is idempotent.
func (c *Cache) Close() {
	if !c.state.CompareAndSwap(int32(stateOpen), int32(stateClosing)) {
		return
	}
	c.evict.Stop()
	c.dispatch.Close()
	c.registry.Close()
	c.state.Store(int32(stateClosed))
}

type listenerAdapter struct{ inner EntryListener }

func (a listenerAdapter) OnEvent(e listener.Event) { a.inner.OnEvent(fromInternalEvent(e)) }

func fromInternalEvent(e listener.Event) Event {
	return Event{
		Type:       EventType(e.Type),
		Key:        e.Key,
		OldValue:   e.OldValue,
		OldExisted: e.OldExisted,
		NewValue:   e.NewValue,
		NewExists:  e.NewExists,
	}
}

func wrapWriter(w Writer, log logging.Logger) pipeline.Writer {
	if w == nil {
		return nil
	}
	return writerAdapter{w}
}

type writerAdapter struct{ inner Writer }

func (a writerAdapter) Write(ctx context.Context, key string, value any) error {
	return a.inner.Write(ctx, key, value)
}
func (a writerAdapter) Delete(ctx context.Context, key string) error {
	return a.inner.Delete(ctx, key)
}
