package listener

import "testing"

type funcListener func(Event)

func (f funcListener) OnEvent(e Event) { f(e) }

func TestHasListenerForReflectsRegistration(t *testing.T) {
	r := NewRegistry()
	if r.HasListenerFor(Created) {
		t.Fatalf("expected no listener registered yet")
	}

	cfg := Config{Listener: funcListener(func(Event) {}), Types: []EventType{Created}}
	reg, ok := r.Register(cfg)
	if !ok {
		t.Fatalf("expected registration to succeed")
	}
	if !r.HasListenerFor(Created) {
		t.Fatalf("expected HasListenerFor(Created) to be true after registering")
	}
	if r.HasListenerFor(Removed) {
		t.Fatalf("expected HasListenerFor(Removed) to stay false")
	}

	if !r.Deregister(reg) {
		t.Fatalf("expected deregistration to succeed")
	}
	if r.HasListenerFor(Created) {
		t.Fatalf("expected HasListenerFor(Created) to be false after deregistering the only listener")
	}
}

func TestDuplicateRegistrationRejected(t *testing.T) {
	r := NewRegistry()
	l := funcListener(func(Event) {})
	cfg := Config{Listener: l, Types: []EventType{Created, Removed}, Synchronous: true}

	if _, ok := r.Register(cfg); !ok {
		t.Fatalf("expected first registration to succeed")
	}
	if _, ok := r.Register(cfg); ok {
		t.Fatalf("expected duplicate registration to be rejected")
	}
}

func TestFilterAndQueueOverridesDoNotAffectEquality(t *testing.T) {
	r := NewRegistry()
	l := funcListener(func(Event) {})

	cfg1 := Config{Listener: l, Types: []EventType{Created}, Filter: func(Event) bool { return true }}
	cfg2 := Config{Listener: l, Types: []EventType{Created}, QueueSize: 99}

	if _, ok := r.Register(cfg1); !ok {
		t.Fatalf("expected first registration to succeed")
	}
	if _, ok := r.Register(cfg2); ok {
		t.Fatalf("expected second registration (same listener/types, differing only in filter/queue tuning) to be rejected as a duplicate")
	}
}

func TestSnapshotOnlyReturnsMatchingListeners(t *testing.T) {
	r := NewRegistry()
	r.Register(Config{Listener: funcListener(func(Event) {}), Types: []EventType{Created}})
	r.Register(Config{Listener: funcListener(func(Event) {}), Types: []EventType{Removed}})

	created := r.Snapshot(Created)
	if len(created) != 1 {
		t.Fatalf("expected exactly one listener for Created, got %d", len(created))
	}
}
