package rank

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/goodtune/voiceboard/internal/metrics"
	"github.com/goodtune/voiceboard/internal/storage"
	"github.com/rs/zerolog"
)

// Synchronizer recomputes the standing for a space and corrects tier role
// drift for exactly the users whose rank changed since the previous pass.
type Synchronizer struct {
	times  storage.TimeStore
	dir    Directory
	tiers  []Threshold
	logger zerolog.Logger

	mu     sync.Mutex
	spaces map[string]*spaceState
}

// spaceState serializes synchronization passes for one space. Its mutex is
// held across the standings read, the diff and the snapshot swap only; role
// mutations happen after release so a slow platform call cannot stall the
// next pass's snapshot work.
type spaceState struct {
	mu       sync.Mutex
	snapshot map[string]int // user -> rank, 1 = highest total
}

// NewSynchronizer creates a rank synchronizer.
func NewSynchronizer(times storage.TimeStore, dir Directory, tiers []Threshold, logger zerolog.Logger) *Synchronizer {
	return &Synchronizer{
		times:  times,
		dir:    dir,
		tiers:  tiers,
		logger: logger.With().Str("component", "rank").Logger(),
		spaces: make(map[string]*spaceState),
	}
}

func (s *Synchronizer) space(spaceID string) *spaceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.spaces[spaceID]
	if !ok {
		st = &spaceState{}
		s.spaces[spaceID] = st
	}
	return st
}

// Sync recomputes the space's standings, replaces the cached snapshot, and
// issues the role mutations needed for users whose rank changed. The trigger
// label ("event", "timer", "restore") is for telemetry only.
//
// A store failure leaves the cached snapshot untouched so the next pass diffs
// against a consistent base. Per-user directory failures never abort the pass.
func (s *Synchronizer) Sync(ctx context.Context, spaceID, trigger string) error {
	started := time.Now()
	st := s.space(spaceID)

	st.mu.Lock()
	recs, err := s.times.TopByTotal(ctx, spaceID, 0)
	if err != nil {
		st.mu.Unlock()
		return fmt.Errorf("read standings: %w", err)
	}

	next := make(map[string]int, len(recs))
	for i, rec := range recs {
		next[rec.UserID] = i + 1
	}

	changed := diffSnapshots(st.snapshot, next)
	st.snapshot = next
	st.mu.Unlock()

	metrics.SyncPasses.WithLabelValues(spaceID, trigger).Inc()
	metrics.RankChanges.WithLabelValues(spaceID).Add(float64(len(changed)))

	if len(changed) > 0 {
		s.logger.Debug().
			Str("space_id", spaceID).
			Str("trigger", trigger).
			Int("users", len(next)).
			Int("changed", len(changed)).
			Msg("Standings recomputed")
	}

	for _, userID := range changed {
		newRank, ok := next[userID]
		if !ok {
			// Removed from the store mid-pass; nothing to aim at.
			continue
		}
		s.applyTier(ctx, spaceID, userID, newRank)
	}

	metrics.SyncDuration.Observe(time.Since(started).Seconds())
	return nil
}

// applyTier reconciles one user's held tier roles with the tier their new
// rank demands. Removing every other tier role before adding the target
// guarantees a user never holds two tier roles at once, at the cost of a
// brief window with none; tier roles are cosmetic, so that is acceptable.
func (s *Synchronizer) applyTier(ctx context.Context, spaceID, userID string, newRank int) {
	target, ok := resolveTier(s.tiers, newRank)
	if !ok {
		return
	}
	tierRoles := tierRoleSet(s.tiers)

	roles, err := s.dir.MemberRoles(ctx, spaceID, userID)
	if err != nil {
		metrics.RoleSkips.WithLabelValues(spaceID, "member_lookup").Inc()
		s.logger.Warn().Err(err).
			Str("space_id", spaceID).
			Str("user_id", userID).
			Msg("Failed to look up member roles, skipping user")
		return
	}

	holdsTarget := false
	for _, role := range roles {
		if _, isTier := tierRoles[role]; !isTier {
			continue
		}
		if role == target {
			holdsTarget = true
			continue
		}
		if err := s.dir.RemoveRole(ctx, spaceID, userID, role); err != nil {
			s.logger.Warn().Err(err).
				Str("space_id", spaceID).
				Str("user_id", userID).
				Str("role_id", role).
				Msg("Failed to remove tier role")
			continue
		}
		metrics.RoleMutations.WithLabelValues(spaceID, "remove").Inc()
	}

	if target == "" || holdsTarget {
		return
	}

	assignable, err := s.dir.CanAssign(ctx, spaceID, target)
	if err != nil {
		metrics.RoleSkips.WithLabelValues(spaceID, "authority_check").Inc()
		s.logger.Warn().Err(err).
			Str("space_id", spaceID).
			Str("role_id", target).
			Msg("Failed to check role assignability, skipping user")
		return
	}
	if !assignable {
		metrics.RoleSkips.WithLabelValues(spaceID, "authority").Inc()
		s.logger.Warn().
			Str("space_id", spaceID).
			Str("user_id", userID).
			Str("role_id", target).
			Msg("Tier role outranks the acting account, skipping assignment")
		return
	}

	if err := s.dir.AddRole(ctx, spaceID, userID, target); err != nil {
		s.logger.Warn().Err(err).
			Str("space_id", spaceID).
			Str("user_id", userID).
			Str("role_id", target).
			Msg("Failed to add tier role")
		return
	}
	metrics.RoleMutations.WithLabelValues(spaceID, "add").Inc()

	s.logger.Info().
		Str("space_id", spaceID).
		Str("user_id", userID).
		Str("role_id", target).
		Int("rank", newRank).
		Msg("Tier role updated")
}

// diffSnapshots returns, sorted, every user present in either snapshot with a
// different or missing rank.
func diffSnapshots(prev, next map[string]int) []string {
	changed := make([]string, 0)
	for user, rank := range next {
		if prevRank, ok := prev[user]; !ok || prevRank != rank {
			changed = append(changed, user)
		}
	}
	for user := range prev {
		if _, ok := next[user]; !ok {
			changed = append(changed, user)
		}
	}
	sort.Strings(changed)
	return changed
}
