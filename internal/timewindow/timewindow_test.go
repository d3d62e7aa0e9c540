package timewindow

import (
	"errors"
	"testing"
	"time"

	"github.com/6peterlu/coherence-chat/internal/models"
)

func mustLoc(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("failed to load location %s: %v", name, err)
	}
	return loc
}

func at(loc *time.Location, day, hour, minute int) time.Time {
	return time.Date(2026, time.March, day, hour, minute, 0, 0, loc)
}

func window(startHour, startMinute, endHour, endMinute int) *models.DoseWindow {
	return &models.DoseWindow{
		StartHour:   startHour,
		StartMinute: startMinute,
		EndHour:     endHour,
		EndMinute:   endMinute,
		Active:      true,
	}
}

func TestNextStartRollsPastOccurrences(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	w := window(9, 0, 11, 0)

	cases := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"before start", at(loc, 2, 8, 0), at(loc, 2, 9, 0)},
		{"inside window", at(loc, 2, 10, 0), at(loc, 3, 9, 0)},
		{"after window", at(loc, 2, 11, 30), at(loc, 3, 9, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := NextStart(w, loc, tc.now)
			if !got.Equal(tc.want) {
				t.Errorf("NextStart = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestNextEndAlwaysAfterNextStart(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	windows := []*models.DoseWindow{
		window(9, 0, 11, 0),
		window(22, 0, 2, 0),
		window(0, 30, 23, 45),
	}
	instants := []time.Time{
		at(loc, 2, 1, 0),
		at(loc, 2, 8, 0),
		at(loc, 2, 10, 0),
		at(loc, 2, 11, 0),
		at(loc, 2, 23, 30),
	}
	for _, w := range windows {
		for _, now := range instants {
			start := NextStart(w, loc, now)
			end := NextEnd(w, loc, now)
			if !end.After(start) {
				t.Errorf("window %d:%02d-%d:%02d at %v: end %v not after start %v",
					w.StartHour, w.StartMinute, w.EndHour, w.EndMinute, now, end, start)
			}
			if start.Before(now) {
				t.Errorf("window %d:%02d-%d:%02d at %v: start %v in the past",
					w.StartHour, w.StartMinute, w.EndHour, w.EndMinute, now, start)
			}
		}
	}
}

func TestDayBoundsAnchoredAtFourAM(t *testing.T) {
	loc := mustLoc(t, "America/New_York")

	cases := []struct {
		name      string
		now       time.Time
		wantStart time.Time
	}{
		{"early morning belongs to prior day", at(loc, 2, 1, 0), at(loc, 1, 4, 0)},
		{"exactly at boundary", at(loc, 2, 4, 0), at(loc, 2, 4, 0)},
		{"after boundary", at(loc, 2, 5, 0), at(loc, 2, 4, 0)},
		{"late evening", at(loc, 2, 23, 30), at(loc, 2, 4, 0)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := DayBounds(loc, tc.now)
			if !start.Equal(tc.wantStart) {
				t.Errorf("day start = %v, want %v", start, tc.wantStart)
			}
			if !end.Equal(tc.wantStart.AddDate(0, 0, 1)) {
				t.Errorf("day end = %v, want %v", end, tc.wantStart.AddDate(0, 0, 1))
			}
			if tc.now.Before(start) || !tc.now.Before(end) {
				t.Errorf("now %v falls outside its own day bounds [%v, %v)", tc.now, start, end)
			}
		})
	}
}

func TestBoundsForCurrentDay(t *testing.T) {
	loc := mustLoc(t, "America/New_York")

	cases := []struct {
		name      string
		w         *models.DoseWindow
		now       time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "daytime window during the day",
			w:         window(9, 0, 11, 0),
			now:       at(loc, 2, 10, 0),
			wantStart: at(loc, 2, 9, 0),
			wantEnd:   at(loc, 2, 11, 0),
		},
		{
			name:      "daytime window at 1 AM resolves to previous calendar day",
			w:         window(9, 0, 11, 0),
			now:       at(loc, 2, 1, 0),
			wantStart: at(loc, 1, 9, 0),
			wantEnd:   at(loc, 1, 11, 0),
		},
		{
			name:      "overnight window spans midnight",
			w:         window(22, 0, 2, 0),
			now:       at(loc, 2, 1, 0),
			wantStart: at(loc, 1, 22, 0),
			wantEnd:   at(loc, 2, 2, 0),
		},
		{
			name:      "overnight window seen from the evening",
			w:         window(22, 0, 2, 0),
			now:       at(loc, 1, 23, 0),
			wantStart: at(loc, 1, 22, 0),
			wantEnd:   at(loc, 2, 2, 0),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			start, end := BoundsForCurrentDay(tc.w, loc, tc.now)
			if !start.Equal(tc.wantStart) {
				t.Errorf("start = %v, want %v", start, tc.wantStart)
			}
			if !end.Equal(tc.wantEnd) {
				t.Errorf("end = %v, want %v", end, tc.wantEnd)
			}
			if !end.After(start) {
				t.Errorf("end %v not after start %v", end, start)
			}
		})
	}
}

func TestStatusAtHalfOpen(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	w := window(9, 0, 11, 0)

	cases := []struct {
		name string
		t    time.Time
		want Status
	}{
		{"before start", at(loc, 2, 8, 59), StatusBefore},
		{"at start", at(loc, 2, 9, 0), StatusDuring},
		{"inside", at(loc, 2, 10, 30), StatusDuring},
		{"at end is after", at(loc, 2, 11, 0), StatusAfter},
		{"past end", at(loc, 2, 12, 0), StatusAfter},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StatusAt(w, loc, tc.t); got != tc.want {
				t.Errorf("StatusAt(%v) = %s, want %s", tc.t, got, tc.want)
			}
		})
	}
}

func TestWithinWindowDayAgnostic(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	w := window(9, 0, 11, 0)
	now := at(loc, 2, 10, 0)

	recordedLastWeek := time.Date(2026, time.February, 23, 9, 15, 0, 0, loc)
	if !WithinWindow(w, loc, recordedLastWeek, now, true) {
		t.Error("day-agnostic comparison should match an old timestamp with in-window wall time")
	}
	if WithinWindow(w, loc, recordedLastWeek, now, false) {
		t.Error("strict comparison should reject a timestamp from another day")
	}

	recordedOutside := time.Date(2026, time.February, 23, 13, 0, 0, 0, loc)
	if WithinWindow(w, loc, recordedOutside, now, true) {
		t.Error("day-agnostic comparison should still reject an out-of-window wall time")
	}
}

func TestClampToWindowEnd(t *testing.T) {
	loc := mustLoc(t, "America/New_York")
	w := window(9, 0, 11, 0)
	buffer := 10 * time.Minute

	t.Run("no clamp needed", func(t *testing.T) {
		now := at(loc, 2, 10, 0)
		candidate := at(loc, 2, 10, 30)
		got, clamped, err := ClampToWindowEnd(candidate, w, loc, now, buffer)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if clamped {
			t.Error("expected no clamping")
		}
		if !got.Equal(candidate) {
			t.Errorf("got %v, want candidate %v unchanged", got, candidate)
		}
	})

	t.Run("clamped to end minus buffer", func(t *testing.T) {
		now := at(loc, 2, 10, 30)
		candidate := at(loc, 2, 11, 30)
		got, clamped, err := ClampToWindowEnd(candidate, w, loc, now, buffer)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !clamped {
			t.Error("expected clamping")
		}
		if want := at(loc, 2, 10, 50); !got.Equal(want) {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("clamped time already past is rejected", func(t *testing.T) {
		now := at(loc, 2, 10, 52)
		candidate := now.Add(time.Hour)
		_, clamped, err := ClampToWindowEnd(candidate, w, loc, now, buffer)
		if !errors.Is(err, models.ErrTooLate) {
			t.Fatalf("expected ErrTooLate, got %v", err)
		}
		if !clamped {
			t.Error("rejection path should still report clamping")
		}
	})
}
