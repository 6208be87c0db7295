package evictor

import (
	"testing"
	"time"

	"github.com/krisalay/tcache/internal/store"
)

func cand(key string, created, accessed time.Time, count uint64) store.Candidate {
	return store.Candidate{Key: key, CreatedAt: created, LastAccessedAt: accessed, AccessCount: count}
}

func TestLRUPicksLeastRecentlyUsed(t *testing.T) {
	p := NewPolicy(LRU)
	now := time.Now()

	candidates := []store.Candidate{
		cand("a", now, now.Add(2*time.Second), 0),
		cand("b", now, now.Add(1*time.Second), 0), // least recently accessed
		cand("c", now, now.Add(3*time.Second), 0),
	}

	if got := p.SelectVictim(candidates); got != "b" {
		t.Fatalf("expected to pick b, got %q", got)
	}
}

func TestLFUPicksLeastFrequentlyUsed(t *testing.T) {
	p := NewPolicy(LFU)
	now := time.Now()

	candidates := []store.Candidate{
		cand("a", now, now, 5),
		cand("b", now, now, 1), // fewest accesses
		cand("c", now, now, 3),
	}

	if got := p.SelectVictim(candidates); got != "b" {
		t.Fatalf("expected to pick b (lowest access count), got %q", got)
	}
}

func TestLFUTiesBreakByRecency(t *testing.T) {
	p := NewPolicy(LFU)
	now := time.Now()

	candidates := []store.Candidate{
		cand("a", now, now.Add(2*time.Second), 4),
		cand("b", now, now.Add(1*time.Second), 4), // same count, older access
	}

	if got := p.SelectVictim(candidates); got != "b" {
		t.Fatalf("expected tie to break toward b (older access), got %q", got)
	}
}

func TestFIFOPicksOldestCreated(t *testing.T) {
	p := NewPolicy(FIFO)
	now := time.Now()

	candidates := []store.Candidate{
		cand("a", now.Add(2*time.Second), now.Add(10*time.Second), 9), // recent access doesn't matter
		cand("b", now, now, 0),                                        // oldest created
		cand("c", now.Add(3*time.Second), now, 0),
	}

	if got := p.SelectVictim(candidates); got != "b" {
		t.Fatalf("expected to pick b (oldest created) regardless of access, got %q", got)
	}
}

func TestSelectVictimOnEmptySampleReturnsEmptyString(t *testing.T) {
	for _, kind := range []Kind{LRU, LFU, FIFO} {
		p := NewPolicy(kind)
		if got := p.SelectVictim(nil); got != "" {
			t.Fatalf("%v: expected empty string on empty sample, got %q", kind, got)
		}
	}
}
