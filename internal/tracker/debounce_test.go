package tracker

import (
	"testing"
	"time"
)

func TestDebouncerValidOpens(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	d := NewDebouncer(30*time.Second, clock)

	if got := d.Observe("space-a", "user-1", true); got != DecisionOpen {
		t.Fatalf("expected DecisionOpen, got %v", got)
	}
}

func TestDebouncerFlickerWithinGrace(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	d := NewDebouncer(30*time.Second, clock)

	// First invalid observation only arms the marker.
	if got := d.Observe("space-a", "user-1", false); got != DecisionNone {
		t.Fatalf("expected DecisionNone on first invalid, got %v", got)
	}

	// Still inside the grace window: session stays open.
	clock.CurrentTime = clock.CurrentTime.Add(10 * time.Second)
	if got := d.Observe("space-a", "user-1", false); got != DecisionNone {
		t.Fatalf("expected DecisionNone within grace, got %v", got)
	}

	// User comes back: marker cleared, the flicker never closed anything.
	clock.CurrentTime = clock.CurrentTime.Add(5 * time.Second)
	if got := d.Observe("space-a", "user-1", true); got != DecisionOpen {
		t.Fatalf("expected DecisionOpen on recovery, got %v", got)
	}

	// A fresh invalid stretch must start from a new marker.
	if got := d.Observe("space-a", "user-1", false); got != DecisionNone {
		t.Fatalf("expected DecisionNone after marker reset, got %v", got)
	}
}

func TestDebouncerClosesAfterGrace(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	d := NewDebouncer(30*time.Second, clock)

	d.Observe("space-a", "user-1", false)

	clock.CurrentTime = clock.CurrentTime.Add(31 * time.Second)
	if got := d.Observe("space-a", "user-1", false); got != DecisionClose {
		t.Fatalf("expected DecisionClose past grace, got %v", got)
	}

	// Marker was consumed by the close.
	if got := d.Observe("space-a", "user-1", false); got != DecisionNone {
		t.Fatalf("expected DecisionNone after close, got %v", got)
	}
}

func TestDebouncerExactGraceBoundaryStaysOpen(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	d := NewDebouncer(30*time.Second, clock)

	d.Observe("space-a", "user-1", false)

	// Exactly the grace window is not "exceeds" the window.
	clock.CurrentTime = clock.CurrentTime.Add(30 * time.Second)
	if got := d.Observe("space-a", "user-1", false); got != DecisionNone {
		t.Fatalf("expected DecisionNone at exact boundary, got %v", got)
	}
}

func TestDebouncerUsersIndependent(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	d := NewDebouncer(30*time.Second, clock)

	d.Observe("space-a", "user-1", false)
	clock.CurrentTime = clock.CurrentTime.Add(31 * time.Second)

	// user-2's first invalid observation must not be affected by user-1's marker.
	if got := d.Observe("space-a", "user-2", false); got != DecisionNone {
		t.Fatalf("expected DecisionNone for fresh user, got %v", got)
	}
	if got := d.Observe("space-a", "user-1", false); got != DecisionClose {
		t.Fatalf("expected DecisionClose for expired user, got %v", got)
	}
}

func TestDebouncerExpiredSweep(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	d := NewDebouncer(30*time.Second, clock)

	d.Observe("space-a", "user-1", false)
	clock.CurrentTime = clock.CurrentTime.Add(10 * time.Second)
	d.Observe("space-b", "user-2", false)

	clock.CurrentTime = clock.CurrentTime.Add(25 * time.Second)
	expired := d.Expired()
	if len(expired) != 1 || expired[0] != (Key{SpaceID: "space-a", UserID: "user-1"}) {
		t.Fatalf("expected only user-1 expired, got %v", expired)
	}

	// Swept markers do not come back.
	clock.CurrentTime = clock.CurrentTime.Add(time.Hour)
	if again := d.Expired(); len(again) != 1 || again[0].UserID != "user-2" {
		t.Fatalf("expected only user-2 remaining, got %v", again)
	}
}

func TestDebouncerForget(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	d := NewDebouncer(30*time.Second, clock)

	d.Observe("space-a", "user-1", false)
	d.Forget("space-a", "user-1")

	clock.CurrentTime = clock.CurrentTime.Add(time.Hour)
	if expired := d.Expired(); len(expired) != 0 {
		t.Fatalf("expected forgotten marker gone, got %v", expired)
	}
}
