package service

import (
	"context"
	"sync"
	"time"

	"github.com/goodtune/voiceboard/internal/rank"
	"github.com/goodtune/voiceboard/internal/storage"
	"github.com/goodtune/voiceboard/internal/tracker"
	"github.com/rs/zerolog"
)

// DefaultSyncInterval is how often every known space's standings are
// resynchronized regardless of session activity.
const DefaultSyncInterval = 5 * time.Minute

// LiveFunc reports whether a user is validly active right now. It backs crash
// recovery: the platform adapter answers from its live state.
type LiveFunc func(spaceID, userID string) bool

// Entry is one leaderboard row.
type Entry struct {
	UserID       string
	TotalSeconds int64
}

// Service wires the debouncer, the session accumulator and the rank
// synchronizer behind the surface the platform adapter calls.
type Service struct {
	times    storage.TimeStore
	acc      *tracker.Accumulator
	deb      *tracker.Debouncer
	ranker   *rank.Synchronizer
	live     LiveFunc
	interval time.Duration
	logger   zerolog.Logger

	readyOnce sync.Once
	stopOnce  sync.Once
	stopChan  chan struct{}
}

// Config holds service configuration
type Config struct {
	SyncInterval time.Duration
}

// New creates the service facade.
func New(times storage.TimeStore, acc *tracker.Accumulator, deb *tracker.Debouncer, ranker *rank.Synchronizer, live LiveFunc, cfg Config, logger zerolog.Logger) *Service {
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = DefaultSyncInterval
	}
	return &Service{
		times:    times,
		acc:      acc,
		deb:      deb,
		ranker:   ranker,
		live:     live,
		interval: cfg.SyncInterval,
		logger:   logger.With().Str("component", "service").Logger(),
		stopChan: make(chan struct{}),
	}
}

// ReportActivity feeds one activity-state transition through the debouncer
// and acts on its decision. Bot accounts are ignored entirely.
func (s *Service) ReportActivity(ctx context.Context, spaceID, userID string, isBot, valid bool) {
	if isBot {
		return
	}

	switch s.deb.Observe(spaceID, userID, valid) {
	case tracker.DecisionOpen:
		if err := s.acc.StartSession(ctx, spaceID, userID); err != nil {
			s.logger.Error().Err(err).
				Str("space_id", spaceID).
				Str("user_id", userID).
				Msg("Failed to open session")
		}
	case tracker.DecisionClose:
		s.closeAndSync(ctx, spaceID, userID)
	}
}

// closeAndSync ends a session and, when it actually closed, resynchronizes
// the space: a close is the only event besides the timer that can move
// standings.
func (s *Service) closeAndSync(ctx context.Context, spaceID, userID string) {
	closed, err := s.acc.EndSession(ctx, spaceID, userID)
	if err != nil {
		s.logger.Error().Err(err).
			Str("space_id", spaceID).
			Str("user_id", userID).
			Msg("Failed to close session")
		return
	}
	if !closed {
		return
	}
	if err := s.ranker.Sync(ctx, spaceID, "event"); err != nil {
		s.logger.Error().Err(err).
			Str("space_id", spaceID).
			Msg("Rank synchronization failed after close")
	}
}

// GetTopN returns the top n leaderboard entries for a space. Read-only, no
// side effects.
func (s *Service) GetTopN(ctx context.Context, spaceID string, n int) ([]Entry, error) {
	recs, err := s.times.TopByTotal(ctx, spaceID, n)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, Entry{UserID: rec.UserID, TotalSeconds: rec.TotalSeconds})
	}
	return entries, nil
}

// OnReady runs crash recovery and starts the periodic loop. Safe to call more
// than once; only the first call does anything (gateways may resignal
// readiness after reconnects).
func (s *Service) OnReady(ctx context.Context) {
	s.readyOnce.Do(func() {
		spaces, err := s.acc.RestoreSessions(ctx, s.live)
		if err != nil {
			s.logger.Error().Err(err).Msg("Session restore scan failed")
		}
		for _, spaceID := range spaces {
			if err := s.ranker.Sync(ctx, spaceID, "restore"); err != nil {
				s.logger.Error().Err(err).
					Str("space_id", spaceID).
					Msg("Rank synchronization failed after restore")
			}
		}

		go s.run()
		s.logger.Info().
			Dur("sync_interval", s.interval).
			Int("restored_spaces", len(spaces)).
			Msg("Service ready")
	})
}

// Stop stops the periodic loop.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.logger.Info().Msg("Service stopped")
	})
}

// run is the periodic trigger: every interval it closes sessions whose
// pending-invalid marker ran out without further events, then resynchronizes
// every known space.
func (s *Service) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(context.Background())
		case <-s.stopChan:
			return
		}
	}
}

func (s *Service) tick(ctx context.Context) {
	for _, key := range s.deb.Expired() {
		s.closeAndSync(ctx, key.SpaceID, key.UserID)
	}

	spaces, err := s.times.ListSpaces(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to list spaces for periodic sync")
		return
	}
	for _, spaceID := range spaces {
		if err := s.ranker.Sync(ctx, spaceID, "timer"); err != nil {
			s.logger.Error().Err(err).
				Str("space_id", spaceID).
				Msg("Periodic rank synchronization failed")
		}
	}
}
