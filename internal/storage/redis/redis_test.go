package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/voiceboard/internal/config"
	"github.com/goodtune/voiceboard/internal/storage"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	mr := miniredis.RunT(t)

	cfg := config.RedisConfig{
		Host:         mr.Addr(), // full "host:port" address
		Port:         0,
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  "5s",
		ReadTimeout:  "3s",
		WriteTimeout: "3s",
	}

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("Failed to open Redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestTimeStore_UpsertGet(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	times := store.Times()

	if _, err := times.Get(ctx, "space-a", "user-1"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	started := time.Date(2024, 3, 1, 22, 15, 0, 0, time.UTC)
	rec := storage.UserTime{
		SpaceID:      "space-a",
		UserID:       "user-1",
		TotalSeconds: 7200,
		DailySeconds: 1800,
		DayKey:       "2024-03-01",
		ActiveSince:  &started,
	}
	if err := times.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert failed: %v", err)
	}

	got, err := times.Get(ctx, "space-a", "user-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TotalSeconds != 7200 || got.DailySeconds != 1800 || got.DayKey != "2024-03-01" {
		t.Errorf("unexpected record: %+v", got)
	}
	if got.ActiveSince == nil || !got.ActiveSince.Equal(started) {
		t.Errorf("expected active since %v, got %v", started, got.ActiveSince)
	}
}

func TestTimeStore_TopByTotal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	times := store.Times()

	recs := []storage.UserTime{
		{SpaceID: "space-a", UserID: "user-b", TotalSeconds: 50},
		{SpaceID: "space-a", UserID: "user-a", TotalSeconds: 50},
		{SpaceID: "space-a", UserID: "user-c", TotalSeconds: 300},
	}
	for _, rec := range recs {
		if err := times.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert %s failed: %v", rec.UserID, err)
		}
	}

	top, err := times.TopByTotal(ctx, "space-a", 0)
	if err != nil {
		t.Fatalf("TopByTotal failed: %v", err)
	}
	wantOrder := []string{"user-c", "user-a", "user-b"} // ties ascending by user ID
	if len(top) != len(wantOrder) {
		t.Fatalf("expected %d records, got %d", len(wantOrder), len(top))
	}
	for i, want := range wantOrder {
		if top[i].UserID != want {
			t.Errorf("position %d: expected %s, got %s", i, want, top[i].UserID)
		}
	}

	limited, err := times.TopByTotal(ctx, "space-a", 1)
	if err != nil {
		t.Fatalf("TopByTotal limited failed: %v", err)
	}
	if len(limited) != 1 || limited[0].UserID != "user-c" {
		t.Fatalf("unexpected limited result: %+v", limited)
	}
}

func TestTimeStore_OpenSessions(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	times := store.Times()

	started := time.Now().UTC().Truncate(time.Second)
	open := storage.UserTime{SpaceID: "space-a", UserID: "user-1", ActiveSince: &started}
	if err := times.Upsert(ctx, open); err != nil {
		t.Fatalf("Upsert open failed: %v", err)
	}
	if err := times.Upsert(ctx, storage.UserTime{SpaceID: "space-b", UserID: "user-2", TotalSeconds: 10}); err != nil {
		t.Fatalf("Upsert closed failed: %v", err)
	}

	sessions, err := times.ListOpenSessions(ctx)
	if err != nil {
		t.Fatalf("ListOpenSessions failed: %v", err)
	}
	if len(sessions) != 1 || sessions[0].SpaceID != "space-a" || sessions[0].UserID != "user-1" {
		t.Fatalf("expected one open session for space-a/user-1, got %+v", sessions)
	}

	open.ActiveSince = nil
	if err := times.Upsert(ctx, open); err != nil {
		t.Fatalf("Upsert close failed: %v", err)
	}
	sessions, err = times.ListOpenSessions(ctx)
	if err != nil {
		t.Fatalf("ListOpenSessions after close failed: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no open sessions, got %+v", sessions)
	}
}

func TestTimeStore_ListSpaces(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	times := store.Times()

	for _, rec := range []storage.UserTime{
		{SpaceID: "space-b", UserID: "user-1"},
		{SpaceID: "space-a", UserID: "user-2"},
	} {
		if err := times.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert failed: %v", err)
		}
	}

	spaces, err := times.ListSpaces(ctx)
	if err != nil {
		t.Fatalf("ListSpaces failed: %v", err)
	}
	if len(spaces) != 2 || spaces[0] != "space-a" || spaces[1] != "space-b" {
		t.Fatalf("unexpected spaces: %v", spaces)
	}
}
