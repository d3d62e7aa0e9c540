// Package models defines the core data structures for the dose-window
// scheduling service.
//
// It includes users, dose windows, medications, the append-only event log,
// and the job identity types shared across modules.
package models

import (
	"errors"
	"fmt"
	"time"
)

// Scheduling constants shared across the reminder pipeline.
const (
	// DayBoundaryHour is the local hour delimiting a logical "day" for
	// recording and analytics, distinct from midnight.
	DayBoundaryHour = 4
	// MisfireGrace is the maximum delay tolerated between a job's
	// scheduled and actual execution before it is discarded.
	MisfireGrace = 5 * time.Minute
	// WindowEndBuffer is the minimum gap kept between any computed
	// reminder time and the end of its dose window.
	WindowEndBuffer = 10 * time.Minute
	// AbsentRangeStart and AbsentRangeEnd bound the sampling range for
	// the absent nag reminder, relative to the moment of evaluation.
	AbsentRangeStart = 40 * time.Minute
	AbsentRangeEnd   = 90 * time.Minute
)

// Error variables for better error handling and testability
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidHour     = errors.New("hour must be between 0 and 23")
	ErrInvalidMinute   = errors.New("minute must be between 0 and 59")
	ErrInvalidTimezone = errors.New("invalid timezone identifier")
	ErrNoMedications   = errors.New("dose window has no medications")
	ErrAlreadyRecorded = errors.New("dose already recorded for current day")
	ErrOutOfRange      = errors.New("no dose window currently open")
	ErrTooLate         = errors.New("clamped reminder time is not in the future")
	ErrEmptyRange      = errors.New("time range is empty")
	ErrJobExists       = errors.New("job already scheduled for key")
	ErrUserPaused      = errors.New("user is paused")
)

// User represents a person receiving dose reminders over SMS.
type User struct {
	ID             int64     `json:"id"`
	PhoneNumber    string    `json:"phone_number"`
	Name           string    `json:"name,omitempty"`
	Timezone       string    `json:"timezone"` // e.g., "America/New_York"
	Paused         bool      `json:"paused"`
	ManualTakeover bool      `json:"manual_takeover"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Location resolves the user's IANA timezone. Falls back to UTC when the
// identifier is empty so window arithmetic always has a concrete zone.
func (u *User) Location() (*time.Location, error) {
	if u.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTimezone, u.Timezone)
	}
	return loc, nil
}

// DoseWindow is a recurring daily interval during which a set of
// medications is expected to be taken. Start and end are wall-clock values
// in the owning user's timezone; the window may span midnight (end earlier
// than start until rolled forward one day).
type DoseWindow struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	StartHour   int       `json:"start_hour"`
	StartMinute int       `json:"start_minute"`
	EndHour     int       `json:"end_hour"`
	EndMinute   int       `json:"end_minute"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate rejects malformed wall-clock bounds before persistence.
func (w *DoseWindow) Validate() error {
	if w.StartHour < 0 || w.StartHour > 23 || w.EndHour < 0 || w.EndHour > 23 {
		return ErrInvalidHour
	}
	if w.StartMinute < 0 || w.StartMinute > 59 || w.EndMinute < 0 || w.EndMinute > 59 {
		return ErrInvalidMinute
	}
	return nil
}

// Medication is a single prescription associated with a dose window.
type Medication struct {
	ID           int64  `json:"id"`
	UserID       int64  `json:"user_id"`
	Name         string `json:"name"`
	Instructions string `json:"instructions,omitempty"`
}

// EventType classifies rows in the append-only event log.
type EventType string

const (
	// EventTake records a medication taken.
	EventTake EventType = "take"
	// EventSkip records a medication deliberately skipped.
	EventSkip EventType = "skip"
	// EventBoundary is the synthetic record marking a dose missed
	// because its window closed unresolved.
	EventBoundary EventType = "boundary"
	// EventAttemptedRerecord marks a take/skip arriving after the window
	// was already fully resolved.
	EventAttemptedRerecord EventType = "attempted_rerecord"
	// EventOutOfRange marks an inbound message with no open window.
	EventOutOfRange EventType = "out_of_range"
	// EventPaused and EventResumed track the automation pause flag.
	EventPaused  EventType = "paused"
	EventResumed EventType = "resumed"
	// EventReminderDelay records an explicit delay request.
	EventReminderDelay EventType = "reminder_delay"
	// EventActivity records a user-reported activity used to infer a delay.
	EventActivity EventType = "activity"
	// EventHealthMetric records a self-reported measurement (e.g. blood glucose).
	EventHealthMetric EventType = "health_metric"
	// EventUserReportedError marks a message flagged by the user for human review.
	EventUserReportedError EventType = "user_reported_error"

	// Outbound send markers, one per reminder job type.
	EventInitialRemind  EventType = "initial_remind"
	EventFollowupRemind EventType = "followup_remind"
	EventAbsentRemind   EventType = "absent_remind"
	EventBoundaryRemind EventType = "boundary_remind"
)

// Event is an immutable row of the append-only event log. All "resolved"
// status is derived from these rows, never stored.
type Event struct {
	ID           string    `json:"id"`
	Type         EventType `json:"type"`
	UserID       int64     `json:"user_id"`
	DoseWindowID int64     `json:"dose_window_id,omitempty"` // 0 when not window-scoped
	MedicationID int64     `json:"medication_id,omitempty"`  // 0 when not medication-scoped
	At           time.Time `json:"at"`
	Description  string    `json:"description,omitempty"`
}

// JobType identifies one of the mutually exclusive reminder jobs attached
// to a dose window.
type JobType string

const (
	// JobInitial is the daily-recurring prompt at window start.
	JobInitial JobType = "initial"
	// JobFollowup is a one-shot reminder scheduled on explicit delay requests.
	JobFollowup JobType = "followup"
	// JobAbsent is the single activity-timed nag reminder.
	JobAbsent JobType = "absent"
	// JobBoundary fires once at window end and records misses.
	JobBoundary JobType = "boundary"
)

// JobKey is the structured identity of a scheduled job. At most one live
// job per key; enforcing that is caller discipline, not a store guarantee.
type JobKey struct {
	DoseWindowID int64
	Type         JobType
}

// String renders the key for logging.
func (k JobKey) String() string {
	return fmt.Sprintf("%d-%s", k.DoseWindowID, k.Type)
}
