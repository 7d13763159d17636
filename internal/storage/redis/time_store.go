package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goodtune/voiceboard/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	keyTimePrefix = "voiceboard:time:" // hash per record
	keyLBPrefix   = "voiceboard:lb:"   // sorted set per space, score = total seconds
	keySpaces     = "voiceboard:spaces"
	keyOpen       = "voiceboard:open" // set of "space/user" with an open session
)

type timeStore struct {
	client *redis.Client
}

func timeKey(spaceID, userID string) string {
	return keyTimePrefix + spaceID + ":" + userID
}

func lbKey(spaceID string) string {
	return keyLBPrefix + spaceID
}

func openMember(spaceID, userID string) string {
	return spaceID + "/" + userID
}

// Get retrieves a record by space and user
func (s *timeStore) Get(ctx context.Context, spaceID, userID string) (*storage.UserTime, error) {
	data, err := s.client.HGetAll(ctx, timeKey(spaceID, userID)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}
	return parseUserTime(spaceID, userID, data)
}

// Upsert writes a record and keeps the leaderboard sorted set, the space set
// and the open-session set consistent with it.
func (s *timeStore) Upsert(ctx context.Context, rec storage.UserTime) error {
	activeSince := ""
	if rec.ActiveSince != nil {
		activeSince = rec.ActiveSince.UTC().Format(time.RFC3339Nano)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, timeKey(rec.SpaceID, rec.UserID), map[string]interface{}{
		"total_seconds": rec.TotalSeconds,
		"daily_seconds": rec.DailySeconds,
		"day_key":       rec.DayKey,
		"active_since":  activeSince,
	})
	pipe.ZAdd(ctx, lbKey(rec.SpaceID), redis.Z{
		Score:  float64(rec.TotalSeconds),
		Member: rec.UserID,
	})
	pipe.SAdd(ctx, keySpaces, rec.SpaceID)
	if rec.ActiveSince != nil {
		pipe.SAdd(ctx, keyOpen, openMember(rec.SpaceID, rec.UserID))
	} else {
		pipe.SRem(ctx, keyOpen, openMember(rec.SpaceID, rec.UserID))
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("upsert user time: %w", err)
	}
	return nil
}

// TopByTotal returns records ordered by total seconds descending
func (s *timeStore) TopByTotal(ctx context.Context, spaceID string, limit int) ([]storage.UserTime, error) {
	userIDs, err := s.client.ZRevRange(ctx, lbKey(spaceID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	recs := make([]storage.UserTime, 0, len(userIDs))
	for _, userID := range userIDs {
		rec, err := s.Get(ctx, spaceID, userID)
		if err != nil {
			if err == storage.ErrNotFound {
				// Leaderboard entry without a backing hash, skip.
				continue
			}
			return nil, err
		}
		recs = append(recs, *rec)
	}

	// The sorted set breaks score ties by reverse lexical member order; re-sort
	// so ties come out ascending by user ID on every backend.
	storage.SortByTotal(recs)
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// ListOpenSessions returns every record, in any space, with an open session
func (s *timeStore) ListOpenSessions(ctx context.Context) ([]storage.UserTime, error) {
	members, err := s.client.SMembers(ctx, keyOpen).Result()
	if err != nil {
		return nil, err
	}

	recs := make([]storage.UserTime, 0, len(members))
	for _, member := range members {
		spaceID, userID, ok := strings.Cut(member, "/")
		if !ok {
			continue
		}
		rec, err := s.Get(ctx, spaceID, userID)
		if err != nil {
			if err == storage.ErrNotFound {
				continue
			}
			return nil, err
		}
		if rec.ActiveSince != nil {
			recs = append(recs, *rec)
		}
	}
	return recs, nil
}

// ListSpaces returns every space the store has seen a record for
func (s *timeStore) ListSpaces(ctx context.Context) ([]string, error) {
	spaces, err := s.client.SMembers(ctx, keySpaces).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(spaces)
	return spaces, nil
}

func parseUserTime(spaceID, userID string, data map[string]string) (*storage.UserTime, error) {
	rec := &storage.UserTime{
		SpaceID: spaceID,
		UserID:  userID,
		DayKey:  data["day_key"],
	}

	var err error
	if raw, ok := data["total_seconds"]; ok && raw != "" {
		if rec.TotalSeconds, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid total_seconds: %w", err)
		}
	}
	if raw, ok := data["daily_seconds"]; ok && raw != "" {
		if rec.DailySeconds, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid daily_seconds: %w", err)
		}
	}
	if raw, ok := data["active_since"]; ok && raw != "" {
		ts, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, fmt.Errorf("invalid active_since: %w", err)
		}
		rec.ActiveSince = &ts
	}

	return rec, nil
}
