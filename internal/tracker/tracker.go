package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/goodtune/voiceboard/internal/metrics"
	"github.com/goodtune/voiceboard/internal/storage"
	"github.com/rs/zerolog"
)

const (
	// DefaultDailyCap is the maximum voice time credited per user per UTC day.
	DefaultDailyCap = 3 * time.Hour

	// openCacheSize bounds the open-session state cache. Entries are tiny;
	// this covers far more simultaneous voice users than a deployment sees.
	openCacheSize = 16384
)

// Accumulator owns session lifecycle accounting: it opens sessions, folds
// elapsed wall-clock time into the time store with day-boundary splitting and
// the daily cap, and repairs sessions left open by a prior crash.
type Accumulator struct {
	times      storage.TimeStore
	clock      Clock
	capSeconds int64
	logger     zerolog.Logger

	// open caches the last-known open/closed state per space/user so repeated
	// valid observations for an already-open session skip the store read.
	open *lru.Cache[string, bool]

	// mu is the store-access scope: it serializes every read-modify-write
	// cycle against the time store so a close and a concurrent open can never
	// interleave on the same record. It is never held across external calls.
	mu sync.Mutex
}

// Config holds accumulator configuration
type Config struct {
	DailyCap time.Duration
}

// NewAccumulator creates a new session accumulator
func NewAccumulator(times storage.TimeStore, clock Clock, config Config, logger zerolog.Logger) *Accumulator {
	if config.DailyCap == 0 {
		config.DailyCap = DefaultDailyCap
	}

	// Only errors on a non-positive size.
	open, _ := lru.New[string, bool](openCacheSize)

	return &Accumulator{
		times:      times,
		clock:      clock,
		capSeconds: int64(config.DailyCap / time.Second),
		logger:     logger.With().Str("component", "tracker").Logger(),
		open:       open,
	}
}

func recordKey(spaceID, userID string) string {
	return spaceID + "/" + userID
}

// StartSession marks now as the start of an open session for the user,
// creating the record on first observation. Starting an already-open session
// is a no-op: the original start must survive repeated valid observations or
// elapsed time would be lost.
func (a *Accumulator) StartSession(ctx context.Context, spaceID, userID string) error {
	key := recordKey(spaceID, userID)
	if isOpen, ok := a.open.Get(key); ok && isOpen {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, err := a.getOrCreate(ctx, spaceID, userID)
	if err != nil {
		return err
	}
	if rec.ActiveSince != nil {
		a.open.Add(key, true)
		return nil
	}

	now := a.clock.Now().UTC()
	rec.ActiveSince = &now
	if err := a.times.Upsert(ctx, *rec); err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	a.open.Add(key, true)

	metrics.SessionsOpened.WithLabelValues(spaceID).Inc()
	a.logger.Debug().
		Str("space_id", spaceID).
		Str("user_id", userID).
		Time("active_since", now).
		Msg("Session opened")

	return nil
}

// EndSession closes the user's open session, folding the elapsed interval into
// the stored counters. Returns true when a session was actually closed; a
// close with no open session is a silent no-op because duplicate close
// triggers are expected under debouncing.
func (a *Accumulator) EndSession(ctx context.Context, spaceID, userID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.closeLocked(ctx, spaceID, userID, a.clock.Now(), false)
}

// closeLocked folds and clears an open session. Callers hold a.mu. When
// reopen is true the session is immediately restarted at now (crash recovery
// of a still-live session).
func (a *Accumulator) closeLocked(ctx context.Context, spaceID, userID string, now time.Time, reopen bool) (bool, error) {
	key := recordKey(spaceID, userID)

	rec, err := a.times.Get(ctx, spaceID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			a.open.Add(key, false)
			return false, nil
		}
		return false, fmt.Errorf("read record: %w", err)
	}
	if rec.ActiveSince == nil {
		a.open.Add(key, false)
		return false, nil
	}

	start := *rec.ActiveSince
	now = now.UTC()
	credited, capped := foldInterval(rec, start, now, a.capSeconds)

	if reopen {
		reopened := now
		rec.ActiveSince = &reopened
	} else {
		rec.ActiveSince = nil
	}
	if err := a.times.Upsert(ctx, *rec); err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	a.open.Add(key, reopen)

	metrics.SessionsClosed.WithLabelValues(spaceID).Inc()
	metrics.SecondsCredited.WithLabelValues(spaceID).Add(float64(credited))
	metrics.SecondsCapped.WithLabelValues(spaceID).Add(float64(capped))

	a.logger.Info().
		Str("space_id", spaceID).
		Str("user_id", userID).
		Time("started_at", start).
		Int64("credited_seconds", credited).
		Int64("capped_seconds", capped).
		Bool("reopened", reopen).
		Msg("Session closed")

	return true, nil
}

// RestoreSessions repairs sessions left open by a prior crash. It must run
// once at startup, after the activity source is live. For each record with an
// open-session marker: if the live predicate says the user is still validly
// active, the stale session is folded up to now and reopened; otherwise the
// marker is cleared without crediting anything, since the session ended at an
// unknown point before the restart. Under-counting the ambiguous interval
// beats fabricating a plausible one.
//
// Returns the spaces where time was credited, so the caller can resynchronize
// their standings. Per-record failures are logged and skipped.
func (a *Accumulator) RestoreSessions(ctx context.Context, live func(spaceID, userID string) bool) ([]string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	stale, err := a.times.ListOpenSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("scan open sessions: %w", err)
	}

	now := a.clock.Now().UTC()
	changed := make(map[string]struct{})

	for _, rec := range stale {
		if live(rec.SpaceID, rec.UserID) {
			closed, err := a.closeLocked(ctx, rec.SpaceID, rec.UserID, now, true)
			if err != nil {
				a.logger.Error().Err(err).
					Str("space_id", rec.SpaceID).
					Str("user_id", rec.UserID).
					Msg("Failed to restore live session")
				continue
			}
			if closed {
				metrics.SessionsRestored.Inc()
				changed[rec.SpaceID] = struct{}{}
			}
			continue
		}

		rec.ActiveSince = nil
		if err := a.times.Upsert(ctx, rec); err != nil {
			a.logger.Error().Err(err).
				Str("space_id", rec.SpaceID).
				Str("user_id", rec.UserID).
				Msg("Failed to discard stale session")
			continue
		}
		a.open.Add(recordKey(rec.SpaceID, rec.UserID), false)
		metrics.SessionsDiscarded.Inc()
		a.logger.Info().
			Str("space_id", rec.SpaceID).
			Str("user_id", rec.UserID).
			Msg("Discarded stale session, user no longer active")
	}

	spaces := make([]string, 0, len(changed))
	for space := range changed {
		spaces = append(spaces, space)
	}
	return spaces, nil
}

func (a *Accumulator) getOrCreate(ctx context.Context, spaceID, userID string) (*storage.UserTime, error) {
	rec, err := a.times.Get(ctx, spaceID, userID)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read record: %w", err)
	}
	return &storage.UserTime{
		SpaceID: spaceID,
		UserID:  userID,
		DayKey:  storage.DayKey(a.clock.Now()),
	}, nil
}
