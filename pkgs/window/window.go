// Package window converts the configured search window into the two-phase
// filter the protocol forces on us: the server-side search primitive only
// understands calendar dates, so a coarse date search is followed by a
// precise timestamp comparison in UTC.
package window

import "time"

// Cutoff returns the earliest instant a message may have been received and
// still fall inside the window.
func Cutoff(now time.Time, windowHours float64) time.Time {
	return now.Add(-time.Duration(windowHours * float64(time.Hour)))
}

// CoarseSearchDate returns the date to hand to the server's SINCE search.
// For windows shorter than a day the search is widened to yesterday so the
// date-only granularity can never clip the true cutoff.
func CoarseSearchDate(now time.Time, windowHours float64) time.Time {
	if windowHours < 24 {
		return truncateToDate(now.AddDate(0, 0, -1))
	}
	return truncateToDate(Cutoff(now, windowHours))
}

// Retain decides the precise phase for one message. known is false when the
// server's timestamp could not be resolved; such messages are retained,
// since for a human-reviewed spam report an extra false positive beats
// silent data loss.
func Retain(received time.Time, known bool, cutoff time.Time) bool {
	if !known {
		return true
	}
	r := received.UTC()
	c := cutoff.UTC()
	return r.Equal(c) || r.After(c)
}

func truncateToDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
