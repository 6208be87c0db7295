package evictor

import (
	"sync"
	"time"

	"github.com/krisalay/tcache/internal/entry"
	"github.com/krisalay/tcache/internal/store"
)

// Callbacks lets the owning cache observe evictor-driven removals without
// the evictor importing the pipeline/listener/stats packages directly.
// EXPIRED and REMOVED are kept as separate hooks because they are distinct
// event types with different write-through rules: a writer is invoked for
// capacity-driven REMOVED but never for EXPIRED sweep removals.
type Callbacks struct {
	OnExpired func(key string, value any)
	OnEvicted func(key string, value any)
}

// Config controls sweep cadence and capacity enforcement.
type Config struct {
	Capacity      int64         // 0 disables capacity-based eviction
	SweepInterval time.Duration // 0 disables the periodic sweep; the worker still runs
	SampleSize    int           // keys sampled per sweep tick, default 20
}

// Evictor removes entries from one Store either because it is over
// capacity (via Policy.SelectVictim over a fresh sample) or because a
// sampled sweep found an already-expired entry (lazy expiry still applies
// on the read path independently; this is the proactive half, grounded on
// Krishna8167-tempuscache's ticker-driven janitor).
//
// A single dedicated worker goroutine (launched by Start) owns both jobs:
// it sweeps on cfg.SweepInterval's ticker and enforces capacity whenever
// RequestEnforceCapacity signals it, so neither job ever runs on a caller's
// own goroutine.
type Evictor struct {
	store  *store.Store
	policy Policy
	cfg    Config
	cb     Callbacks

	enforceCh chan struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New wires an Evictor to store using policy for victim selection. Call
// Start to launch the dedicated background worker.
func New(st *store.Store, policy Policy, cfg Config, cb Callbacks) *Evictor {
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 20
	}
	return &Evictor{
		store:     st,
		policy:    policy,
		cfg:       cfg,
		cb:        cb,
		enforceCh: make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// RequestEnforceCapacity asks the background worker to enforce capacity
// without blocking the caller: it is a non-blocking signal, coalesced if
// one is already pending. Called by the pipeline after a CREATED
// classification instead of calling EnforceCapacity directly, so a put that
// pushes the store over capacity never waits on eviction (and whatever
// writer/listener work eviction triggers) itself.
func (e *Evictor) RequestEnforceCapacity() {
	select {
	case e.enforceCh <- struct{}{}:
	default:
	}
}

// EnforceCapacity evicts victims one at a time until the store's size is at
// or under the configured capacity, or a fresh sample yields no candidate.
// Runs on the background worker; exported so tests can drive it directly
// without going through the async signal.
func (e *Evictor) EnforceCapacity() {
	if e.cfg.Capacity <= 0 {
		return
	}
	for e.store.Size() > e.cfg.Capacity {
		candidates := e.store.SampleCandidates(e.cfg.SampleSize)
		if len(candidates) == 0 {
			return
		}
		victim := e.policy.SelectVictim(candidates)
		if victim == "" {
			return
		}
		e.evictOne(victim)
	}
}

func (e *Evictor) evictOne(key string) {
	result := e.store.ComposeAndClassify(key, time.Now(), func(current *entry.Entry, exists bool) store.Mutation {
		if !exists {
			return store.Mutation{Kind: store.Keep}
		}
		return store.Mutation{Kind: store.Remove}
	})
	if result.Status == store.Removed && e.cb.OnEvicted != nil {
		e.cb.OnEvicted(key, result.OldValue)
	}
}

// Start launches the dedicated background worker. Safe to call once. A
// zero SweepInterval disables the ticker-driven sweep (matching the
// janitor's interval<=0 "active cleanup disabled" convention), but the
// worker still runs so it can service RequestEnforceCapacity.
func (e *Evictor) Start() {
	go e.run()
}

func (e *Evictor) run() {
	defer close(e.doneCh)

	var tick <-chan time.Time
	if e.cfg.SweepInterval > 0 {
		ticker := time.NewTicker(e.cfg.SweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-tick:
			e.sweep()
		case <-e.enforceCh:
			e.EnforceCapacity()
		case <-e.stopCh:
			return
		}
	}
}

// Stop signals the background worker to exit and waits for it to finish.
// Safe to call more than once. Must not be called unless Start was already
// called, or it blocks forever waiting on a worker that was never launched.
func (e *Evictor) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	<-e.doneCh
}

func (e *Evictor) sweep() {
	now := time.Now()
	for _, key := range e.store.SampleKeys(e.cfg.SampleSize) {
		result := e.store.ComposeAndClassify(key, now, func(current *entry.Entry, exists bool) store.Mutation {
			return store.Mutation{Kind: store.Keep}
		})
		if result.ExpiredOccurred {
			if e.cb.OnExpired != nil {
				e.cb.OnExpired(key, result.ExpiredValue)
			}
		}
	}
}
