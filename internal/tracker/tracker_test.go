package tracker

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/goodtune/voiceboard/internal/storage"
	"github.com/goodtune/voiceboard/internal/storage/bolt"
	"github.com/rs/zerolog"
)

func newTestAccumulator(t *testing.T, clock *TestClock) (*Accumulator, storage.TimeStore) {
	t.Helper()

	store, err := bolt.Open(filepath.Join(t.TempDir(), "tracker.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	acc := NewAccumulator(store.Times(), clock, Config{}, zerolog.Nop())
	return acc, store.Times()
}

func TestStartEndSession(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	acc, times := newTestAccumulator(t, clock)
	ctx := context.Background()

	if err := acc.StartSession(ctx, "space-a", "user-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}

	rec, err := times.Get(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.ActiveSince == nil || !rec.ActiveSince.Equal(clock.CurrentTime) {
		t.Fatalf("expected session open at %v, got %v", clock.CurrentTime, rec.ActiveSince)
	}

	clock.CurrentTime = clock.CurrentTime.Add(45 * time.Minute)
	closed, err := acc.EndSession(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if !closed {
		t.Fatal("expected session to close")
	}

	rec, err = times.Get(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.ActiveSince != nil {
		t.Fatalf("expected session cleared, got %v", rec.ActiveSince)
	}
	if rec.TotalSeconds != 2700 || rec.DailySeconds != 2700 {
		t.Fatalf("expected 2700s credited, got %+v", rec)
	}
}

func TestStartSessionAlreadyOpenIsNoop(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	acc, times := newTestAccumulator(t, clock)
	ctx := context.Background()

	if err := acc.StartSession(ctx, "space-a", "user-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	opened := clock.CurrentTime

	// A later repeated valid observation must not move the open mark.
	clock.CurrentTime = clock.CurrentTime.Add(10 * time.Minute)
	if err := acc.StartSession(ctx, "space-a", "user-1"); err != nil {
		t.Fatalf("restart session: %v", err)
	}

	rec, err := times.Get(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.ActiveSince == nil || !rec.ActiveSince.Equal(opened) {
		t.Fatalf("open mark moved: expected %v, got %v", opened, rec.ActiveSince)
	}
}

func TestEndSessionTwiceIsNoop(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	acc, times := newTestAccumulator(t, clock)
	ctx := context.Background()

	if err := acc.StartSession(ctx, "space-a", "user-1"); err != nil {
		t.Fatalf("start session: %v", err)
	}
	clock.CurrentTime = clock.CurrentTime.Add(time.Minute)

	closed, err := acc.EndSession(ctx, "space-a", "user-1")
	if err != nil || !closed {
		t.Fatalf("first close: closed=%v err=%v", closed, err)
	}

	before, err := times.Get(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}

	closed, err = acc.EndSession(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("second close: %v", err)
	}
	if closed {
		t.Fatal("second close must be a no-op")
	}

	after, err := times.Get(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if after.TotalSeconds != before.TotalSeconds || after.DailySeconds != before.DailySeconds {
		t.Fatalf("second close changed counters: %+v vs %+v", before, after)
	}
}

func TestEndSessionUnknownUserIsNoop(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 10, 0, 0)}
	acc, _ := newTestAccumulator(t, clock)

	closed, err := acc.EndSession(context.Background(), "space-a", "ghost")
	if err != nil {
		t.Fatalf("end session: %v", err)
	}
	if closed {
		t.Fatal("closing a nonexistent session must be a no-op")
	}
}

func TestRestoreSessionsLiveUserFoldedAndReopened(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 12, 0, 0)}
	acc, times := newTestAccumulator(t, clock)
	ctx := context.Background()

	// Session left open at 11:00 by a "crashed" process.
	opened := utc(2024, 3, 1, 11, 0, 0)
	if err := times.Upsert(ctx, storage.UserTime{
		SpaceID:     "space-a",
		UserID:      "user-1",
		DayKey:      "2024-03-01",
		ActiveSince: &opened,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	spaces, err := acc.RestoreSessions(ctx, func(string, string) bool { return true })
	if err != nil {
		t.Fatalf("restore sessions: %v", err)
	}
	if len(spaces) != 1 || spaces[0] != "space-a" {
		t.Fatalf("expected space-a changed, got %v", spaces)
	}

	rec, err := times.Get(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.TotalSeconds != 3600 {
		t.Fatalf("expected outage hour credited, got %d", rec.TotalSeconds)
	}
	if rec.ActiveSince == nil || !rec.ActiveSince.Equal(clock.CurrentTime) {
		t.Fatalf("expected session reopened at %v, got %v", clock.CurrentTime, rec.ActiveSince)
	}
}

func TestRestoreSessionsDeadUserClearedWithoutCredit(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 12, 0, 0)}
	acc, times := newTestAccumulator(t, clock)
	ctx := context.Background()

	opened := utc(2024, 3, 1, 11, 0, 0)
	if err := times.Upsert(ctx, storage.UserTime{
		SpaceID:      "space-a",
		UserID:       "user-1",
		TotalSeconds: 500,
		DailySeconds: 500,
		DayKey:       "2024-03-01",
		ActiveSince:  &opened,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	spaces, err := acc.RestoreSessions(ctx, func(string, string) bool { return false })
	if err != nil {
		t.Fatalf("restore sessions: %v", err)
	}
	if len(spaces) != 0 {
		t.Fatalf("expected no changed spaces, got %v", spaces)
	}

	rec, err := times.Get(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if rec.ActiveSince != nil {
		t.Fatal("expected stale marker cleared")
	}
	if rec.TotalSeconds != 500 || rec.DailySeconds != 500 {
		t.Fatalf("no time may be credited for a dead session, got %+v", rec)
	}
}

func TestRestoreSessionsIdempotent(t *testing.T) {
	clock := &TestClock{CurrentTime: utc(2024, 3, 1, 12, 0, 0)}
	acc, times := newTestAccumulator(t, clock)
	ctx := context.Background()

	opened := utc(2024, 3, 1, 11, 0, 0)
	if err := times.Upsert(ctx, storage.UserTime{
		SpaceID:     "space-a",
		UserID:      "user-1",
		DayKey:      "2024-03-01",
		ActiveSince: &opened,
	}); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	if _, err := acc.RestoreSessions(ctx, func(string, string) bool { return false }); err != nil {
		t.Fatalf("first restore: %v", err)
	}
	// Running recovery again over an already-repaired store changes nothing.
	spaces, err := acc.RestoreSessions(ctx, func(string, string) bool { return false })
	if err != nil {
		t.Fatalf("second restore: %v", err)
	}
	if len(spaces) != 0 {
		t.Fatalf("expected nothing to repair, got %v", spaces)
	}
}
