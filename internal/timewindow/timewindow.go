// Package timewindow computes dose-window occurrences, current-day bounds
// and inside/outside classification.
//
// Every function is pure in its arguments: the caller supplies the clock
// reading and the resolved timezone, nothing here reads time.Now. Days are
// delimited by a 4 AM local boundary rather than midnight, so a 1 AM dose
// still belongs to the evening's logical day.
package timewindow

import (
	"time"

	"github.com/6peterlu/coherence-chat/internal/models"
)

// Status classifies an instant against a dose window's current-day bounds.
type Status string

const (
	// StatusBefore means the instant precedes today's window start.
	StatusBefore Status = "before"
	// StatusDuring means the instant is inside the half-open window.
	StatusDuring Status = "during"
	// StatusAfter means the instant is at or past today's window end.
	StatusAfter Status = "after"
)

// NextStart returns the next occurrence of the window's start: today's
// start wall time, rolled forward one day if already past.
func NextStart(w *models.DoseWindow, loc *time.Location, now time.Time) time.Time {
	local := now.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), w.StartHour, w.StartMinute, 0, 0, loc)
	if start.Before(now) {
		start = start.AddDate(0, 0, 1)
	}
	return start
}

// NextEnd returns the next occurrence of the window's end, guaranteed to be
// strictly after NextStart. A naive end preceding the computed start marks
// an overnight window and is rolled forward a day.
func NextEnd(w *models.DoseWindow, loc *time.Location, now time.Time) time.Time {
	local := now.In(loc)
	end := time.Date(local.Year(), local.Month(), local.Day(), w.EndHour, w.EndMinute, 0, 0, loc)
	if end.Before(now) {
		end = end.AddDate(0, 0, 1)
	}
	if start := NextStart(w, loc, now); !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return end
}

// DayBounds returns [startOfDay, endOfDay) for the logical day containing
// now, anchored at the 4 AM local boundary.
func DayBounds(loc *time.Location, now time.Time) (time.Time, time.Time) {
	local := now.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), models.DayBoundaryHour, 0, 0, 0, loc)
	if local.Before(dayStart) {
		dayStart = dayStart.AddDate(0, 0, -1)
	}
	return dayStart, dayStart.AddDate(0, 0, 1)
}

// BoundsForCurrentDay anchors the window's start and end to the logical day
// containing now. The start is walked a day at a time until it falls inside
// [startOfDay, endOfDay); an end at or before the start rolls forward one
// day, which models overnight windows.
func BoundsForCurrentDay(w *models.DoseWindow, loc *time.Location, now time.Time) (time.Time, time.Time) {
	dayStart, dayEnd := DayBounds(loc, now)

	start := time.Date(dayEnd.Year(), dayEnd.Month(), dayEnd.Day(), w.StartHour, w.StartMinute, 0, 0, loc)
	for !start.Before(dayEnd) {
		start = start.AddDate(0, 0, -1)
	}
	for start.Before(dayStart) {
		start = start.AddDate(0, 0, 1)
	}

	end := time.Date(start.Year(), start.Month(), start.Day(), w.EndHour, w.EndMinute, 0, 0, loc)
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end
}

// StatusAt classifies t against BoundsForCurrentDay with half-open
// semantics: t equal to the end is After.
func StatusAt(w *models.DoseWindow, loc *time.Location, t time.Time) Status {
	start, end := BoundsForCurrentDay(w, loc, t)
	switch {
	case t.Before(start):
		return StatusBefore
	case t.Before(end):
		return StatusDuring
	default:
		return StatusAfter
	}
}

// WithinWindow reports whether t falls inside the window. With dayAgnostic
// set, t's calendar date is replaced by now's before comparing, so a
// recorded 9:15 matches today's 9:00–11:00 window regardless of which day
// it was recorded on.
func WithinWindow(w *models.DoseWindow, loc *time.Location, t, now time.Time, dayAgnostic bool) bool {
	if dayAgnostic {
		lt := t.In(loc)
		ln := now.In(loc)
		t = time.Date(ln.Year(), ln.Month(), ln.Day(), lt.Hour(), lt.Minute(), lt.Second(), 0, loc)
	}
	return StatusAt(w, loc, t) == StatusDuring
}

// ClampToWindowEnd limits candidate to endOfWindow minus buffer. The second
// return reports whether clamping occurred; callers must surface the
// clamped time, not the requested one. A clamped time at or before now is
// rejected with ErrTooLate instead of scheduling in the past.
func ClampToWindowEnd(candidate time.Time, w *models.DoseWindow, loc *time.Location, now time.Time, buffer time.Duration) (time.Time, bool, error) {
	_, end := BoundsForCurrentDay(w, loc, now)
	limit := end.Add(-buffer)

	clamped := candidate
	wasClamped := false
	if candidate.After(limit) {
		clamped = limit
		wasClamped = true
	}
	if !clamped.After(now) {
		return time.Time{}, wasClamped, models.ErrTooLate
	}
	return clamped, wasClamped, nil
}
