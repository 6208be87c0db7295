package listener

import (
	"sync"
	"time"

	"github.com/krisalay/tcache/internal/logging"
)

const (
	defaultQueueSize      = 256
	defaultEnqueueTimeout = 50 * time.Millisecond
)

// asyncReq is one queued event for an ASYNC_TIMED listener's worker.
type asyncReq struct {
	cfg Config
	evt Event
}

// worker services one ASYNC_TIMED listener's private queue. Each listener
// gets its own goroutine and buffered channel so one slow listener's
// backlog never delays delivery to any other listener.
type worker struct {
	ch chan asyncReq
	wg sync.WaitGroup
}

// Dispatcher fans store-classified events out to registered listeners:
// SYNC listeners run inline on the calling goroutine (with panics recovered
// and logged, since a misbehaving listener must never take the cache
// down), and ASYNC_TIMED listeners are queued to a bounded per-listener
// channel with a drop-and-count policy under sustained pressure: don't
// block the hot path, eventual delivery only.
//
// A caller can additionally force a SYNC listener's delivery onto a
// background worker by passing forceAsync to Dispatch/DispatchAll. This is
// for events originating on a goroutine that must never block on user
// code — the evictor's background worker — rather than the ordinary
// foreground path, where a SYNC listener running inline on the caller's
// own goroutine is the whole point of registering it that way.
type Dispatcher struct {
	registry *Registry
	log      logging.Logger

	mu      sync.Mutex
	workers map[uuid16]*worker

	forceCh chan forceReq
	forceWG sync.WaitGroup

	dropped counterMap
	closed  bool
}

// forceReq is one queued delivery for the shared forced-async worker that
// services SYNC listeners on evictor-triggered events.
type forceReq struct {
	cfg Config
	evt Event
}

// uuid16 avoids importing google/uuid into this file just for a map key
// type; Registration already carries the identity we need.
type uuid16 = Registration

type counterMap struct {
	mu sync.Mutex
	m  map[Registration]uint64
}

func (c *counterMap) inc(r Registration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.m == nil {
		c.m = make(map[Registration]uint64)
	}
	c.m[r]++
}

// DroppedFor reports how many events have been dropped for a listener
// because its ASYNC_TIMED queue was full past the enqueue timeout.
func (c *counterMap) DroppedFor(r Registration) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[r]
}

// NewDispatcher wires a Dispatcher to registry. log may be nil, in which
// case a discarding logger is used.
func NewDispatcher(registry *Registry, log logging.Logger) *Dispatcher {
	if log == nil {
		log = logging.NewNoop()
	}
	d := &Dispatcher{
		registry: registry,
		log:      log,
		workers:  make(map[uuid16]*worker),
		forceCh:  make(chan forceReq, defaultQueueSize),
	}
	d.forceWG.Add(1)
	go d.runForceWorker()
	return d
}

func (d *Dispatcher) runForceWorker() {
	defer d.forceWG.Done()
	for req := range d.forceCh {
		d.deliver(req.cfg, req.evt)
	}
}

// EnsureWorker must be called after a successful Registry.Register so the
// dispatcher can spin up a worker for a new ASYNC_TIMED listener. Kept as
// a Dispatcher method (not Registry's job) so Registry stays free of any
// notion of goroutines or channels.
func (d *Dispatcher) EnsureWorker(reg Registration, cfg Config) {
	if cfg.Synchronous {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[reg]; ok {
		return
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	w := &worker{ch: make(chan asyncReq, size)}
	w.wg.Add(1)
	go d.runWorker(w)
	d.workers[reg] = w
}

// RemoveWorker tears down a listener's async worker on deregistration.
func (d *Dispatcher) RemoveWorker(reg Registration) {
	d.mu.Lock()
	w, ok := d.workers[reg]
	if ok {
		delete(d.workers, reg)
	}
	d.mu.Unlock()
	if ok {
		close(w.ch)
		w.wg.Wait()
	}
}

func (d *Dispatcher) runWorker(w *worker) {
	defer w.wg.Done()
	for req := range w.ch {
		d.deliver(req.cfg, req.evt)
	}
}

func (d *Dispatcher) deliver(cfg Config, evt Event) {
	defer func() {
		if rec := recover(); rec != nil {
			d.log.Error("listener panicked", "event", evt.Type, "key", evt.Key, "recover", rec)
		}
	}()
	if cfg.Filter != nil && !cfg.Filter(evt) {
		return
	}
	if !cfg.OldValueRequired {
		evt.OldValue = nil
	}
	cfg.Listener.OnEvent(evt)
}

// Dispatch delivers evt to every listener registered for evt.Type. SYNC
// listeners normally run inline; ASYNC_TIMED listeners are always enqueued
// with a bounded wait, and dropped (with a counted, logged occurrence) if
// their queue stays full past the enqueue timeout. When forceAsync is true,
// SYNC listeners are routed to the shared forced-async worker instead of
// running inline, so the calling goroutine never blocks on user code; a
// full forced-async queue drops the event the same way an ASYNC_TIMED
// queue does.
func (d *Dispatcher) Dispatch(evt Event, forceAsync bool) {
	if !d.registry.HasListenerFor(evt.Type) {
		return
	}
	for _, entry := range d.registry.snapshotWithID(evt.Type) {
		cfg := entry.config
		reg := Registration{id: entry.id}
		if cfg.Synchronous {
			if forceAsync {
				select {
				case d.forceCh <- forceReq{cfg: cfg, evt: evt}:
				default:
					d.dropped.inc(reg)
					d.log.Warn("dropping forced-async listener event: queue full", "event", evt.Type, "key", evt.Key)
				}
				continue
			}
			d.deliver(cfg, evt)
			continue
		}
		d.mu.Lock()
		w, ok := d.workers[reg]
		d.mu.Unlock()
		if !ok {
			continue
		}
		timeout := defaultEnqueueTimeout
		if cfg.EnqueueTimeout > 0 {
			timeout = time.Duration(cfg.EnqueueTimeout)
		}
		select {
		case w.ch <- asyncReq{cfg: cfg, evt: evt}:
		case <-time.After(timeout):
			d.dropped.inc(reg)
			d.log.Warn("dropping listener event: queue full", "event", evt.Type, "key", evt.Key)
		}
	}
}

// DispatchAll delivers every event in evts, in order, by calling Dispatch
// for each one, so HasListenerFor and the listener snapshot are checked
// once per event. Used by the cache's PutAll/RemoveAll batch dispatch.
func (d *Dispatcher) DispatchAll(evts []Event, forceAsync bool) {
	for _, evt := range evts {
		d.Dispatch(evt, forceAsync)
	}
}

// Close tears down every ASYNC_TIMED worker and the shared forced-async
// worker, draining anything already queued before returning.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	d.closed = true
	workers := d.workers
	d.workers = make(map[uuid16]*worker)
	d.mu.Unlock()

	for _, w := range workers {
		close(w.ch)
		w.wg.Wait()
	}

	close(d.forceCh)
	d.forceWG.Wait()
}
