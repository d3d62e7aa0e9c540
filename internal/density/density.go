// Package density selects reminder instants biased by historical per-minute
// engagement. A user's activity is bucketed over the 1440 minutes of the
// logical day (anchored at the 4 AM boundary); sampling a time range draws
// a minute proportional to past activity, with additive smoothing so every
// minute in the range keeps nonzero support.
package density

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/6peterlu/coherence-chat/internal/models"
)

// MinutesPerDay is the size of a density histogram.
const MinutesPerDay = 1440

// smoothingFactor scales the minimum nonzero bucket when smoothing a
// populated slice.
const smoothingFactor = 0.05

// MinuteOfDay converts t to its minute offset within the logical day,
// anchored at the 4 AM local boundary (4:00 maps to 0, 3:59 to 1439).
func MinuteOfDay(t time.Time, loc *time.Location) int {
	local := t.In(loc)
	m := local.Hour()*60 + local.Minute() - models.DayBoundaryHour*60
	return (m + MinutesPerDay) % MinutesPerDay
}

// BuildDensity folds event timestamps into a per-minute histogram. Built
// offline from a user's full event history; all-zero output is valid input
// for Selector.Sample.
func BuildDensity(events []models.Event, loc *time.Location) []float64 {
	d := make([]float64, MinutesPerDay)
	for _, e := range events {
		d[MinuteOfDay(e.At, loc)]++
	}
	return d
}

// Selector draws reminder instants from a density histogram. The random
// source is injectable so tests can pin the draw.
type Selector struct {
	randFloat func() float64
}

// NewSelector returns a Selector backed by math/rand/v2.
func NewSelector() *Selector {
	return &Selector{randFloat: rand.Float64}
}

// NewSelectorWithRand returns a Selector using the provided source of
// uniform floats in [0, 1).
func NewSelectorWithRand(randFloat func() float64) *Selector {
	return &Selector{randFloat: randFloat}
}

// Sample draws one instant strictly within [rangeStart, rangeEnd) weighted
// by the density over the corresponding minutes of day. The guarantee holds
// for any density, including all-zero. A degenerate range is a caller
// precondition violation and returns ErrEmptyRange.
func (s *Selector) Sample(dens []float64, rangeStart, rangeEnd time.Time, loc *time.Location) (time.Time, error) {
	if !rangeEnd.After(rangeStart) {
		return time.Time{}, fmt.Errorf("sample range [%v, %v): %w", rangeStart, rangeEnd, models.ErrEmptyRange)
	}
	if len(dens) != MinutesPerDay {
		return time.Time{}, fmt.Errorf("density has %d buckets, want %d", len(dens), MinutesPerDay)
	}

	startMin := MinuteOfDay(rangeStart, loc)
	endMin := MinuteOfDay(rangeEnd, loc)
	n := (endMin - startMin + MinutesPerDay) % MinutesPerDay
	if n == 0 {
		// Bounds share a minute of day: a sub-minute or full-day range.
		return time.Time{}, fmt.Errorf("sample range [%v, %v): %w", rangeStart, rangeEnd, models.ErrEmptyRange)
	}

	// Slice the histogram over [startMin, endMin), wrapping at the day
	// boundary for overnight ranges.
	weights := make([]float64, n)
	minNonzero := 0.0
	for i := range weights {
		w := dens[(startMin+i)%MinutesPerDay]
		weights[i] = w
		if w > 0 && (minNonzero == 0 || w < minNonzero) {
			minNonzero = w
		}
	}

	// Additive smoothing guarantees full support over the range.
	add := 1.0 / float64(n)
	if minNonzero > 0 {
		add = minNonzero * smoothingFactor
	}
	total := 0.0
	for i := range weights {
		weights[i] += add
		total += weights[i]
	}

	// Weighted draw of a minute index.
	r := s.randFloat() * total
	idx := n - 1
	cum := 0.0
	for i, w := range weights {
		cum += w
		if r < cum {
			idx = i
			break
		}
	}

	result := rangeStart.Truncate(time.Minute).Add(time.Duration(idx) * time.Minute)
	if result.Before(rangeStart) {
		result = rangeStart
	}
	slog.Debug("density sample drawn", "start", rangeStart, "end", rangeEnd, "minute_index", idx, "result", result)
	return result, nil
}
