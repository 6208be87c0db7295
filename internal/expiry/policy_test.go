package expiry

import (
	"testing"
	"time"
)

func TestEternalNeverExpires(t *testing.T) {
	var p Eternal
	now := time.Now()
	if !p.OnCreate(now).IsZero() {
		t.Fatalf("expected zero deadline from Eternal.OnCreate")
	}
	if !p.OnUpdate(now, now.Add(time.Hour)).IsZero() {
		t.Fatalf("expected zero deadline from Eternal.OnUpdate")
	}
}

func TestCreatedTTLNeverSlides(t *testing.T) {
	p := CreatedTTL{TTL: time.Minute}
	now := time.Now()

	deadline := p.OnCreate(now)
	if !deadline.Equal(now.Add(time.Minute)) {
		t.Fatalf("expected deadline now+1m, got %v", deadline)
	}

	if got := p.OnUpdate(now.Add(30*time.Second), deadline); !got.Equal(deadline) {
		t.Fatalf("expected OnUpdate to leave a CreatedTTL deadline unchanged, got %v", got)
	}
	if got := p.OnAccess(now.Add(59*time.Second), deadline); !got.Equal(deadline) {
		t.Fatalf("expected OnAccess to leave a CreatedTTL deadline unchanged, got %v", got)
	}
}

func TestAccessedTTLSlidesOnRead(t *testing.T) {
	p := AccessedTTL{TTL: time.Minute}
	now := time.Now()

	first := p.OnCreate(now)
	later := now.Add(30 * time.Second)
	slid := p.OnAccess(later, first)

	if !slid.Equal(later.Add(time.Minute)) {
		t.Fatalf("expected sliding deadline later+1m, got %v", slid)
	}
	if !slid.After(first) {
		t.Fatalf("expected the slid deadline to move forward past the original")
	}
}

func TestAccessedTTLDoesNothingForNeverExpiring(t *testing.T) {
	p := AccessedTTL{TTL: time.Minute}
	now := time.Now()

	if got := p.OnAccess(now, time.Time{}); !got.IsZero() {
		t.Fatalf("expected an eternal entry to stay eternal on access, got %v", got)
	}
}
