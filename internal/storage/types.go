package storage

import (
	"sort"
	"time"
)

// DayKeyFormat is the layout of UserTime.DayKey. Day keys are always UTC.
const DayKeyFormat = "2006-01-02"

// UserTime is the durable voice time record for one member of one space.
//
// TotalSeconds only ever grows and contains capped contributions only.
// DailySeconds is the portion counted toward the daily cap for DayKey; it is
// reset the first time a session segment lands on a different calendar day.
// ActiveSince doubles as a durable open-session marker: a non-nil value after
// a restart means the process died with the session still open.
type UserTime struct {
	SpaceID      string     `json:"space_id"`
	UserID       string     `json:"user_id"`
	TotalSeconds int64      `json:"total_seconds"`
	DailySeconds int64      `json:"daily_seconds"`
	DayKey       string     `json:"day_key"`
	ActiveSince  *time.Time `json:"active_since,omitempty"`
}

// DayKey returns the UTC day key for t.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayKeyFormat)
}

// SortByTotal orders records by TotalSeconds descending, ties broken by
// ascending UserID. Both backends funnel their scans through this so the
// leaderboard order is identical regardless of storage type.
func SortByTotal(recs []UserTime) {
	sort.Slice(recs, func(i, j int) bool {
		if recs[i].TotalSeconds != recs[j].TotalSeconds {
			return recs[i].TotalSeconds > recs[j].TotalSeconds
		}
		return recs[i].UserID < recs[j].UserID
	})
}
