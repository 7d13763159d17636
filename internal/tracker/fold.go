package tracker

import (
	"time"

	"github.com/goodtune/voiceboard/internal/storage"
)

// foldInterval folds the session interval [start, end) into rec's counters.
//
// The interval is split at UTC midnights so every segment lands on exactly one
// calendar day. For each segment: if the segment's day differs from the
// record's day key the daily counter resets, then the segment's whole seconds
// are credited up to whatever remains of the daily cap. Seconds beyond the cap
// are dropped and never reach TotalSeconds. A session spanning midnight is
// therefore capped per day, independently.
//
// Returns the seconds credited and the seconds dropped by the cap.
func foldInterval(rec *storage.UserTime, start, end time.Time, capSeconds int64) (credited, capped int64) {
	start = start.UTC()
	end = end.UTC()

	for start.Before(end) {
		boundary := nextMidnight(start)
		segmentEnd := end
		if boundary.Before(segmentEnd) {
			segmentEnd = boundary
		}

		raw := int64(segmentEnd.Sub(start) / time.Second) // truncated to whole seconds

		day := storage.DayKey(start)
		if day != rec.DayKey {
			rec.DailySeconds = 0
			rec.DayKey = day
		}

		remaining := capSeconds - rec.DailySeconds
		if remaining < 0 {
			remaining = 0
		}
		allowed := raw
		if allowed > remaining {
			allowed = remaining
		}

		rec.TotalSeconds += allowed
		rec.DailySeconds += allowed
		credited += allowed
		capped += raw - allowed

		start = segmentEnd
	}

	return credited, capped
}

// nextMidnight returns the first UTC midnight strictly after the calendar day
// of t begins, i.e. midnight of the following day.
func nextMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
}
