package pipeline

import (
	"context"
	"reflect"
	"testing"

	"github.com/krisalay/tcache/internal/store"
)

type recordingStats struct {
	hits, misses, puts, removals, expires int
}

func (r *recordingStats) Hit()     { r.hits++ }
func (r *recordingStats) Miss()    { r.misses++ }
func (r *recordingStats) Put()     { r.puts++ }
func (r *recordingStats) Removal() { r.removals++ }
func (r *recordingStats) Expire()  { r.expires++ }

type recordingEvents struct {
	events []EventType
	batches map[EventType]int
}

func (r *recordingEvents) Dispatch(evt EventType, key string, oldValue any, oldExisted bool, newValue any, newExists bool) {
	r.events = append(r.events, evt)
}

func (r *recordingEvents) DispatchBatch(evt EventType, records []EventRecord) {
	if r.batches == nil {
		r.batches = make(map[EventType]int)
	}
	r.batches[evt] += len(records)
	for range records {
		r.events = append(r.events, evt)
	}
}

func newTestPipeline() (*Pipeline, *recordingStats, *recordingEvents) {
	st := store.New(4)
	stats := &recordingStats{}
	events := &recordingEvents{}
	return &Pipeline{Store: st, Stats: stats, Events: events}, stats, events
}

func TestPutCreatesThenChanges(t *testing.T) {
	p, stats, events := newTestPipeline()
	ctx := context.Background()

	out := p.Put(ctx, "k", "v1")
	if out.Status != store.Created {
		t.Fatalf("expected Created, got %v", out.Status)
	}
	out = p.Put(ctx, "k", "v2")
	if out.Status != store.Changed {
		t.Fatalf("expected Changed, got %v", out.Status)
	}

	if stats.puts != 2 {
		t.Fatalf("expected 2 puts recorded (create + change), got %d", stats.puts)
	}
	if len(events.events) != 2 || events.events[0] != EventCreated || events.events[1] != EventUpdated {
		t.Fatalf("unexpected event sequence: %v", events.events)
	}
}

func TestGetAndPutSharesPutStatsRow(t *testing.T) {
	p, stats, _ := newTestPipeline()
	ctx := context.Background()

	// GetAndPut is an unconditional swap, not a conditional replace: it
	// counts exactly like Put on both CREATED and CHANGED.
	out := p.GetAndPut(ctx, "k", "v1")
	if out.Status != store.Created {
		t.Fatalf("expected Created, got %v", out.Status)
	}
	if stats.puts != 1 {
		t.Fatalf("expected GetAndPut's CREATED to increment Put() once, got %d", stats.puts)
	}

	out = p.GetAndPut(ctx, "k", "v2")
	if out.Status != store.Changed {
		t.Fatalf("expected Changed, got %v", out.Status)
	}
	if stats.puts != 2 || stats.hits != 1 {
		t.Fatalf("expected GetAndPut's CHANGED to record a hit and a put, got puts=%d hits=%d", stats.puts, stats.hits)
	}
}

func TestPlainReplaceNeverCreates(t *testing.T) {
	p, stats, _ := newTestPipeline()
	ctx := context.Background()

	out := p.Replace(ctx, "absent", "v")
	if out.Status != store.Unchanged {
		t.Fatalf("expected Unchanged, got %v", out.Status)
	}
	if stats.misses != 1 {
		t.Fatalf("expected replace-on-absent-key to record a miss, got %d", stats.misses)
	}
}

func TestReplaceIfEqualsCASFailure(t *testing.T) {
	p, stats, _ := newTestPipeline()
	ctx := context.Background()

	p.Put(ctx, "k", "expected")
	out := p.ReplaceIfEquals(ctx, "k", "wrong", "new", reflect.DeepEqual)
	if out.Status != store.CASFailed {
		t.Fatalf("expected CASFailed, got %v", out.Status)
	}
	if stats.hits != 1 {
		t.Fatalf("expected CAS_FAILED_EQUALS (value mismatch, key present) to record a hit, got %d", stats.hits)
	}

	out = p.ReplaceIfEquals(ctx, "k", "expected", "new", reflect.DeepEqual)
	if out.Status != store.Changed {
		t.Fatalf("expected Changed, got %v", out.Status)
	}
	if stats.hits != 2 || stats.puts != 2 {
		t.Fatalf("expected the successful CAS swap to record a hit and a put, got hits=%d puts=%d", stats.hits, stats.puts)
	}
}

func TestReplaceIfEqualsCASMissOnAbsentKeyCountsAsMiss(t *testing.T) {
	p, stats, _ := newTestPipeline()
	ctx := context.Background()

	out := p.ReplaceIfEquals(ctx, "absent", "expected", "new", reflect.DeepEqual)
	if out.Status != store.Unchanged {
		t.Fatalf("expected Unchanged (no entry to compare against), got %v", out.Status)
	}
	if stats.misses != 1 {
		t.Fatalf("expected CAS-on-absent-key to record a miss, got %d", stats.misses)
	}
}

func TestRemoveIfEqualsStats(t *testing.T) {
	p, stats, _ := newTestPipeline()
	ctx := context.Background()

	out := p.RemoveIfEquals(ctx, "absent", "v", reflect.DeepEqual)
	if out.Status != store.Unchanged || stats.misses != 1 {
		t.Fatalf("expected Unchanged/miss for remove on absent key, got status=%v misses=%d", out.Status, stats.misses)
	}

	p.Put(ctx, "k", "expected")
	out = p.RemoveIfEquals(ctx, "k", "wrong", reflect.DeepEqual)
	if out.Status != store.CASFailed || stats.hits != 1 {
		t.Fatalf("expected CAS_FAILED_EQUALS/hit for a value mismatch, got status=%v hits=%d", out.Status, stats.hits)
	}

	out = p.RemoveIfEquals(ctx, "k", "expected", reflect.DeepEqual)
	if out.Status != store.Removed || stats.removals != 1 {
		t.Fatalf("expected Removed/removal for a matching CAS remove, got status=%v removals=%d", out.Status, stats.removals)
	}
}

func TestRemoveEmitsRemovedEventAndStat(t *testing.T) {
	p, stats, events := newTestPipeline()
	ctx := context.Background()

	p.Put(ctx, "k", "v")
	out := p.Remove(ctx, "k")
	if out.Status != store.Removed {
		t.Fatalf("expected Removed, got %v", out.Status)
	}
	if stats.removals != 1 {
		t.Fatalf("expected one removal recorded, got %d", stats.removals)
	}
	if events.events[len(events.events)-1] != EventRemoved {
		t.Fatalf("expected last event to be EventRemoved, got %v", events.events)
	}
}

func TestGetRecordsHitAndMiss(t *testing.T) {
	p, stats, _ := newTestPipeline()
	ctx := context.Background()

	p.Get(ctx, "absent")
	if stats.misses != 1 {
		t.Fatalf("expected one miss, got %d", stats.misses)
	}

	p.Put(ctx, "k", "v")
	p.Get(ctx, "k")
	if stats.hits != 1 {
		t.Fatalf("expected one hit, got %d", stats.hits)
	}
}

func TestWriteThroughInvokedForCreatedChangedRemoved(t *testing.T) {
	p, _, _ := newTestPipeline()
	ctx := context.Background()

	writeCalls, deleteCalls := 0, 0
	p.Writer = writerFunc{
		write:  func(ctx context.Context, key string, value any) error { writeCalls++; return nil },
		delete: func(ctx context.Context, key string) error { deleteCalls++; return nil },
	}

	p.Put(ctx, "k", "v1") // Created
	p.Put(ctx, "k", "v2") // Changed
	p.Remove(ctx, "k")    // Removed

	if writeCalls != 2 {
		t.Fatalf("expected writer.Write called for both Created and Changed, got %d", writeCalls)
	}
	if deleteCalls != 1 {
		t.Fatalf("expected writer.Delete called once for Removed, got %d", deleteCalls)
	}
}

type writerFunc struct {
	write  func(ctx context.Context, key string, value any) error
	delete func(ctx context.Context, key string) error
}

func (w writerFunc) Write(ctx context.Context, key string, value any) error {
	if w.write != nil {
		return w.write(ctx, key, value)
	}
	return nil
}

func (w writerFunc) Delete(ctx context.Context, key string) error {
	if w.delete != nil {
		return w.delete(ctx, key)
	}
	return nil
}

func TestPutAllDispatchesOneBatchPerEventType(t *testing.T) {
	p, stats, events := newTestPipeline()
	ctx := context.Background()

	p.Put(ctx, "k1", "v0") // pre-existing, so PutAll on it CHANGEs rather than CREATEs

	outcomes := p.PutAll(ctx, map[string]any{"k1": "v1", "k2": "v2", "k3": "v3"})
	if len(outcomes) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(outcomes))
	}
	if outcomes["k1"].Status != store.Changed {
		t.Fatalf("expected k1 to be Changed, got %v", outcomes["k1"].Status)
	}
	if outcomes["k2"].Status != store.Created || outcomes["k3"].Status != store.Created {
		t.Fatalf("expected k2/k3 to be Created, got %v/%v", outcomes["k2"].Status, outcomes["k3"].Status)
	}

	if events.batches[EventCreated] != 2 {
		t.Fatalf("expected one CREATED batch covering 2 keys, got %d", events.batches[EventCreated])
	}
	if events.batches[EventUpdated] != 1 {
		t.Fatalf("expected one UPDATED batch covering 1 key, got %d", events.batches[EventUpdated])
	}
	if stats.puts != 4 {
		t.Fatalf("expected 4 puts recorded (initial Put + 3 from PutAll), got %d", stats.puts)
	}
}

func TestRemoveAllDispatchesOneBatch(t *testing.T) {
	p, stats, events := newTestPipeline()
	ctx := context.Background()

	p.Put(ctx, "k1", "v1")
	p.Put(ctx, "k2", "v2")

	outcomes := p.RemoveAll(ctx, []string{"k1", "k2", "absent"})
	if outcomes["k1"].Status != store.Removed || outcomes["k2"].Status != store.Removed {
		t.Fatalf("expected k1/k2 Removed, got %v/%v", outcomes["k1"].Status, outcomes["k2"].Status)
	}
	if outcomes["absent"].Status != store.Unchanged {
		t.Fatalf("expected absent key Unchanged, got %v", outcomes["absent"].Status)
	}

	if events.batches[EventRemoved] != 2 {
		t.Fatalf("expected one REMOVED batch covering 2 keys, got %d", events.batches[EventRemoved])
	}
	if stats.removals != 2 {
		t.Fatalf("expected 2 removals recorded, got %d", stats.removals)
	}
}
