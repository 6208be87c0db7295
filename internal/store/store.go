/*
Package store implements the concurrent key→Entry mapping at the heart of
the cache.

A whole-map copy-on-write swap cannot give this guarantee without
serializing every write behind one lock, which defeats sharding entirely:
what's needed instead is an atomic "compose and classify" primitive per
key, under which a caller-supplied pure function decides the new state and
the classification of the outcome (CREATED / CHANGED / UNCHANGED /
CAS_FAILED_EQUALS / REMOVED) is computed while still holding that key's
exclusive section, so nothing else can observe an intermediate state.

Instead each key hashes to one of a fixed number of stripes, each guarded
by its own mutex: many small locks beat one big lock, with each stripe
running compose-and-classify instead of just Put/Delete.
*/
package store

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/krisalay/tcache/internal/entry"
)

// ChangeStatus is the outcome tag of a compose-and-classify step.
type ChangeStatus int

const (
	Unchanged ChangeStatus = iota
	Created
	Changed
	CASFailed
	Removed
)

func (s ChangeStatus) String() string {
	switch s {
	case Unchanged:
		return "UNCHANGED"
	case Created:
		return "CREATED"
	case Changed:
		return "CHANGED"
	case CASFailed:
		return "CAS_FAILED_EQUALS"
	case Removed:
		return "REMOVED"
	default:
		return "UNKNOWN"
	}
}

// Kind is the decision a Mutator makes about the entry it was handed.
type Kind int

const (
	// Keep leaves the entry (or absence) untouched. If CASFailed is set on
	// the returned Mutation, the classifier reports CAS_FAILED_EQUALS
	// instead of UNCHANGED.
	Keep Kind = iota
	Insert
	Replace
	Remove
)

// Mutation is what a Mutator decides to do with the key it was handed.
type Mutation struct {
	Kind      Kind
	Value     any
	ExpiresAt time.Time // meaningful for Insert/Replace only
	CASFailed bool       // meaningful for Keep only
}

// Mutator is a pure function receiving the current entry (nil if absent, as
// observed after any lazy-expiry check already folded it away) and
// returning the decided Mutation. It must not block or retain the Entry
// pointer beyond the call.
type Mutator func(current *entry.Entry, exists bool) Mutation

// Result is what composeAndClassify hands back to its caller.
type Result struct {
	Status ChangeStatus

	OldValue   any
	OldExisted bool

	NewValue   any
	NewExists  bool
	NewVersion uint64

	// ExpiredValue/ExpiredOccurred describe an entry that was found to be
	// past its expiry at observation time and was folded away as absent
	// before the Mutator ran. The pipeline uses this to additionally emit
	// an EXPIRED event distinct from whatever Status resulted from the
	// Mutator's own decision (see the EXPIRED+CREATED open-question
	// resolution in DESIGN.md).
	ExpiredValue    any
	ExpiredOccurred bool
}

const defaultStripes = 64

// Store is the concurrent map. Zero value is not usable; use New.
type Store struct {
	stripes []*stripe
	mask    uint64
	size    atomic.Int64
}

type stripe struct {
	mu sync.Mutex
	m  map[string]*entry.Entry
}

// New creates a Store with the given stripe count, rounded up to the next
// power of two (0 or negative selects a sane default).
func New(stripes int) *Store {
	if stripes <= 0 {
		stripes = defaultStripes
	}
	n := 1
	for n < stripes {
		n <<= 1
	}
	s := &Store{
		stripes: make([]*stripe, n),
		mask:    uint64(n - 1),
	}
	for i := range s.stripes {
		s.stripes[i] = &stripe{m: make(map[string]*entry.Entry)}
	}
	return s
}

func fnvHash(key string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return h.Sum64()
}

func (s *Store) stripeFor(key string) *stripe {
	return s.stripes[fnvHash(key)&s.mask]
}

// Size returns the approximate number of live entries. It does not account
// for entries that are logically expired but not yet swept or observed.
func (s *Store) Size() int64 {
	return s.size.Load()
}

// ComposeAndClassify is the store's single primitive: it executes mutator
// under key's exclusive section, folding away an already-expired entry as
// absent first, and returns the classified outcome.
func (s *Store) ComposeAndClassify(key string, now time.Time, mutator Mutator) Result {
	st := s.stripeFor(key)

	st.mu.Lock()
	defer st.mu.Unlock()

	current, exists := st.m[key]
	var result Result

	if exists && current.Expired(now) {
		result.ExpiredValue = current.Value
		result.ExpiredOccurred = true
		delete(st.m, key)
		s.size.Add(-1)
		current, exists = nil, false
	}

	if exists {
		result.OldValue = current.Value
		result.OldExisted = true
	}

	mutation := mutator(current, exists)

	switch mutation.Kind {
	case Keep:
		if mutation.CASFailed {
			result.Status = CASFailed
		} else {
			result.Status = Unchanged
		}
		if exists {
			result.NewValue = current.Value
			result.NewExists = true
			result.NewVersion = current.Version
		}

	case Insert:
		version := uint64(1)
		ent := &entry.Entry{
			Value:          mutation.Value,
			CreatedAt:      now,
			LastAccessedAt: now,
			ExpiresAt:      mutation.ExpiresAt,
			Version:        version,
		}
		st.m[key] = ent
		s.size.Add(1)
		result.Status = Created
		result.NewValue = mutation.Value
		result.NewExists = true
		result.NewVersion = version

	case Replace:
		if !exists {
			// Nothing to replace; treat like Insert so misuse degrades
			// gracefully instead of silently dropping the write.
			version := uint64(1)
			ent := &entry.Entry{
				Value:          mutation.Value,
				CreatedAt:      now,
				LastAccessedAt: now,
				ExpiresAt:      mutation.ExpiresAt,
				Version:        version,
			}
			st.m[key] = ent
			s.size.Add(1)
			result.Status = Created
			result.NewValue = mutation.Value
			result.NewExists = true
			result.NewVersion = version
			break
		}
		current.Value = mutation.Value
		current.LastAccessedAt = now
		current.ExpiresAt = mutation.ExpiresAt
		current.Version++
		result.Status = Changed
		result.NewValue = current.Value
		result.NewExists = true
		result.NewVersion = current.Version

	case Remove:
		if exists {
			delete(st.m, key)
			s.size.Add(-1)
			result.Status = Removed
		} else {
			result.Status = Unchanged
		}
	}

	return result
}

// Touch updates LastAccessedAt (and optionally ExpiresAt) for a live entry
// without going through the full classify machinery; used by read paths
// that only need to record access, not decide a Mutation.
func (s *Store) Touch(key string, now time.Time, newExpiry *time.Time) {
	st := s.stripeFor(key)
	st.mu.Lock()
	defer st.mu.Unlock()

	ent, ok := st.m[key]
	if !ok || ent.Expired(now) {
		return
	}
	ent.LastAccessedAt = now
	ent.AccessCount++
	if newExpiry != nil {
		ent.ExpiresAt = *newExpiry
	}
}

// Clear empties every stripe without running compose-and-classify on any
// key, so it produces no per-key Result for a caller to notify listeners
// or a writer from. Used by Cache.Clear to implement JSR107 clear()
// semantics, which bypass both, unlike a loop of Remove.
func (s *Store) Clear() {
	var removed int64
	for _, st := range s.stripes {
		st.mu.Lock()
		removed += int64(len(st.m))
		st.m = make(map[string]*entry.Entry)
		st.mu.Unlock()
	}
	s.size.Add(-removed)
}

// Snapshot returns a weakly-consistent copy of all keys currently present,
// skipping entries already past their expiry (without removing them or
// reporting them as expired). It underlies Iterator().
func (s *Store) Snapshot() map[string]any {
	out := make(map[string]any, s.Size())
	now := time.Now()
	for _, st := range s.stripes {
		st.mu.Lock()
		for k, v := range st.m {
			if v.Expired(now) {
				continue
			}
			out[k] = v.Value
		}
		st.mu.Unlock()
	}
	return out
}

// SampleKeys returns up to n keys drawn from a bounded number of stripes,
// used by the evictor for expiry sweeping without walking the whole store
// under lock.
func (s *Store) SampleKeys(n int) []string {
	if n <= 0 {
		return nil
	}
	out := make([]string, 0, n)
	for _, st := range s.stripes {
		st.mu.Lock()
		for k := range st.m {
			out = append(out, k)
			if len(out) >= n {
				st.mu.Unlock()
				return out
			}
		}
		st.mu.Unlock()
	}
	return out
}

// Candidate is a snapshot of one entry's recency/frequency metadata as of
// the sampling instant. Approximate eviction policies rank a bounded slice
// of these instead of consulting a global structure, so the store never
// needs to hand out Entry pointers outside its own stripe locks.
type Candidate struct {
	Key            string
	CreatedAt      time.Time
	LastAccessedAt time.Time
	AccessCount    uint64
}

// SampleCandidates returns up to n candidates drawn the same way SampleKeys
// does, carrying each entry's recency/frequency metadata so a victim
// policy can compare a bounded sample in O(n) instead of maintaining its
// own global ordering.
func (s *Store) SampleCandidates(n int) []Candidate {
	if n <= 0 {
		return nil
	}
	out := make([]Candidate, 0, n)
	for _, st := range s.stripes {
		st.mu.Lock()
		for k, v := range st.m {
			out = append(out, Candidate{
				Key:            k,
				CreatedAt:      v.CreatedAt,
				LastAccessedAt: v.LastAccessedAt,
				AccessCount:    v.AccessCount,
			})
			if len(out) >= n {
				st.mu.Unlock()
				return out
			}
		}
		st.mu.Unlock()
	}
	return out
}
