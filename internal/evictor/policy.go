// Package evictor selects and removes victims when the cache is over
// capacity, and sweeps entries whose expiry deadline has already passed.
//
// Victim selection is approximate: rather than track a global structure
// over every live key (which would need its own lock disjoint from the
// store's per-key stripes, serializing recency/frequency bookkeeping
// across keys that never otherwise contend), each policy ranks a bounded
// sample of store.Candidate values drawn fresh per eviction.
package evictor

import (
	"github.com/krisalay/tcache/internal/store"
)

// Kind names a victim-selection policy.
type Kind int

const (
	LFU Kind = iota
	LRU
	FIFO
)

// Policy picks one victim out of a bounded sample of candidates the
// Evictor draws from the Store.
type Policy interface {
	// SelectVictim returns the worst candidate to keep, or "" if given no
	// candidates.
	SelectVictim(candidates []store.Candidate) string
}

// NewPolicy builds the named policy. It panics on an unknown kind since it
// can only be reached by a programming error, not user input.
func NewPolicy(k Kind) Policy {
	switch k {
	case LRU:
		return worstOf(lessRecentlyUsed)
	case LFU:
		return worstOf(lessFrequentlyUsed)
	case FIFO:
		return worstOf(firstIn)
	default:
		panic("evictor: unknown policy kind")
	}
}

// worstOf is a Policy that scans its sample once, keeping whichever
// candidate its comparator ranks worse than the current worst. All three
// kinds share this scan; only the comparator differs.
type worstOf func(a, b store.Candidate) bool

func (less worstOf) SelectVictim(candidates []store.Candidate) string {
	if len(candidates) == 0 {
		return ""
	}
	victim := candidates[0]
	for _, c := range candidates[1:] {
		if less(c, victim) {
			victim = c
		}
	}
	return victim.Key
}

// lessRecentlyUsed reports whether a was touched longer ago than b.
func lessRecentlyUsed(a, b store.Candidate) bool {
	return a.LastAccessedAt.Before(b.LastAccessedAt)
}

// lessFrequentlyUsed reports whether a has fewer recorded accesses than b,
// breaking ties by recency so a tied-frequency sample still makes progress.
func lessFrequentlyUsed(a, b store.Candidate) bool {
	if a.AccessCount != b.AccessCount {
		return a.AccessCount < b.AccessCount
	}
	return a.LastAccessedAt.Before(b.LastAccessedAt)
}

// firstIn reports whether a was created before b.
func firstIn(a, b store.Candidate) bool {
	return a.CreatedAt.Before(b.CreatedAt)
}
