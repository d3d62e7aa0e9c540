package reminders

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/6peterlu/coherence-chat/internal/density"
	"github.com/6peterlu/coherence-chat/internal/models"
	"github.com/6peterlu/coherence-chat/internal/scheduler"
	"github.com/6peterlu/coherence-chat/internal/timewindow"
)

// ScheduleDailyPrompt registers the daily-recurring initial job for an
// active dose window. Used on resume, activation and startup resync; any
// previous registration for the key is replaced.
func (s *Service) ScheduleDailyPrompt(ctx context.Context, u *models.User, w *models.DoseWindow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleDailyPrompt(u, w)
}

func (s *Service) scheduleDailyPrompt(u *models.User, w *models.DoseWindow) error {
	key := models.JobKey{DoseWindowID: w.ID, Type: models.JobInitial}
	s.sched.Cancel(key)
	if err := s.sched.ScheduleRecurring(key, w.StartHour, w.StartMinute, u.Timezone, s.initialFireHandler(w.ID)); err != nil {
		return fmt.Errorf("failed to schedule daily prompt for window %d: %w", w.ID, err)
	}
	return nil
}

// ReinstateWindow rebuilds the boundary and absent jobs for a window that
// is currently open and unresolved. Returns whether the window was open.
// Used by startup recovery.
func (s *Service) ReinstateWindow(ctx context.Context, u *models.User, w *models.DoseWindow) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	loc, err := u.Location()
	if err != nil {
		return false, err
	}
	return s.reinstateOpenWindow(ctx, u, w, loc, s.clock())
}

// reinstateOpenWindow restarts the in-window lifecycle (boundary + absent)
// when now falls inside the unresolved window. No-op otherwise.
func (s *Service) reinstateOpenWindow(ctx context.Context, u *models.User, w *models.DoseWindow, loc *time.Location, now time.Time) (bool, error) {
	if timewindow.StatusAt(w, loc, now) != timewindow.StatusDuring {
		return false, nil
	}
	recorded, err := s.isRecorded(ctx, u, w, loc, now)
	if err != nil {
		return false, err
	}
	if recorded {
		return false, nil
	}

	_, end := timewindow.BoundsForCurrentDay(w, loc, now)
	boundaryKey := models.JobKey{DoseWindowID: w.ID, Type: models.JobBoundary}
	s.sched.Cancel(boundaryKey)
	if err := s.sched.Schedule(boundaryKey, end, s.boundaryFireHandler(w.ID)); err != nil {
		return false, fmt.Errorf("failed to schedule boundary for window %d: %w", w.ID, err)
	}
	s.evaluateAbsent(ctx, u, w, loc, now)
	return true, nil
}

func (s *Service) initialFireHandler(doseWindowID int64) scheduler.Handler {
	return func() { s.HandleInitialFire(context.Background(), doseWindowID) }
}

func (s *Service) followupFireHandler(doseWindowID int64) scheduler.Handler {
	return func() { s.HandleFollowupFire(context.Background(), doseWindowID) }
}

func (s *Service) absentFireHandler(doseWindowID int64) scheduler.Handler {
	return func() { s.HandleAbsentFire(context.Background(), doseWindowID) }
}

func (s *Service) boundaryFireHandler(doseWindowID int64) scheduler.Handler {
	return func() { s.HandleBoundaryFire(context.Background(), doseWindowID) }
}

// HandleInitialFire runs when the daily-recurring initial job fires: send
// the prompt, schedule the boundary at the wraparound-adjusted end, and
// evaluate the absent nag. The recurring trigger can outlive resolution by
// another path, so non-resolution is re-verified before anything is sent.
func (s *Service) HandleInitialFire(ctx context.Context, doseWindowID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, u, loc, ok := s.loadWindow(ctx, doseWindowID, "initial")
	if !ok {
		return
	}
	now := s.clock()

	recorded, err := s.isRecorded(ctx, u, w, loc, now)
	if err != nil {
		slog.Error("initial fire: resolution check failed", "dose_window_id", doseWindowID, "error", err)
		return
	}
	if recorded {
		slog.Info("initial fired on already-resolved window, skipping", "dose_window_id", doseWindowID)
		return
	}

	if err := s.addEvent(ctx, models.Event{
		Type:         models.EventInitialRemind,
		UserID:       u.ID,
		DoseWindowID: w.ID,
		At:           now,
	}); err != nil {
		slog.Error("initial fire: failed to persist event", "dose_window_id", doseWindowID, "error", err)
		return
	}

	_, end := timewindow.BoundsForCurrentDay(w, loc, now)
	boundaryKey := models.JobKey{DoseWindowID: w.ID, Type: models.JobBoundary}
	s.sched.Cancel(boundaryKey)
	if err := s.sched.Schedule(boundaryKey, end, s.boundaryFireHandler(w.ID)); err != nil {
		slog.Error("initial fire: failed to schedule boundary", "dose_window_id", doseWindowID, "error", err)
	}
	s.evaluateAbsent(ctx, u, w, loc, now)

	s.notify(ctx, u, textInitialPrompt)
}

// HandleFollowupFire runs a requested follow-up reminder, then re-evaluates
// the absent nag if the dose is still unresolved.
func (s *Service) HandleFollowupFire(ctx context.Context, doseWindowID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, u, loc, ok := s.loadWindow(ctx, doseWindowID, "followup")
	if !ok {
		return
	}
	now := s.clock()

	recorded, err := s.isRecorded(ctx, u, w, loc, now)
	if err != nil {
		slog.Error("followup fire: resolution check failed", "dose_window_id", doseWindowID, "error", err)
		return
	}
	if recorded {
		slog.Info("followup fired on already-resolved window, skipping", "dose_window_id", doseWindowID)
		return
	}

	if err := s.addEvent(ctx, models.Event{
		Type:         models.EventFollowupRemind,
		UserID:       u.ID,
		DoseWindowID: w.ID,
		At:           now,
	}); err != nil {
		slog.Error("followup fire: failed to persist event", "dose_window_id", doseWindowID, "error", err)
		return
	}

	s.evaluateAbsent(ctx, u, w, loc, now)
	s.notify(ctx, u, textFollowup)
}

// HandleAbsentFire sends the nag reminder, then re-evaluates: another nag
// is scheduled only while room remains before the end buffer.
func (s *Service) HandleAbsentFire(ctx context.Context, doseWindowID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, u, loc, ok := s.loadWindow(ctx, doseWindowID, "absent")
	if !ok {
		return
	}
	now := s.clock()

	recorded, err := s.isRecorded(ctx, u, w, loc, now)
	if err != nil {
		slog.Error("absent fire: resolution check failed", "dose_window_id", doseWindowID, "error", err)
		return
	}
	if recorded {
		slog.Info("absent fired on already-resolved window, skipping", "dose_window_id", doseWindowID)
		return
	}

	if err := s.addEvent(ctx, models.Event{
		Type:         models.EventAbsentRemind,
		UserID:       u.ID,
		DoseWindowID: w.ID,
		At:           now,
	}); err != nil {
		slog.Error("absent fire: failed to persist event", "dose_window_id", doseWindowID, "error", err)
		return
	}

	s.evaluateAbsent(ctx, u, w, loc, now)
	s.notify(ctx, u, textAbsent)
}

// HandleBoundaryFire closes out an unresolved window: a synthetic missed
// record per medication, absent and follow-up cancelled, no reschedule. A
// boundary firing after resolution (the timer/event race) is a benign
// no-op, logged and never fatal.
func (s *Service) HandleBoundaryFire(ctx context.Context, doseWindowID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, u, loc, ok := s.loadWindow(ctx, doseWindowID, "boundary")
	if !ok {
		return
	}
	now := s.clock()

	recorded, err := s.isRecorded(ctx, u, w, loc, now)
	if err != nil {
		slog.Error("boundary fire: resolution check failed", "dose_window_id", doseWindowID, "error", err)
		return
	}
	if recorded {
		slog.Info("boundary fired on already-resolved window, no-op", "dose_window_id", doseWindowID)
		return
	}

	meds, err := s.store.MedicationsForDoseWindow(ctx, w.ID)
	if err != nil {
		slog.Error("boundary fire: failed to load medications", "dose_window_id", doseWindowID, "error", err)
		return
	}
	for _, med := range meds {
		if err := s.addEvent(ctx, models.Event{
			Type:         models.EventBoundary,
			UserID:       u.ID,
			DoseWindowID: w.ID,
			MedicationID: med.ID,
			At:           now,
			Description:  "window closed unresolved",
		}); err != nil {
			slog.Error("boundary fire: failed to persist miss", "dose_window_id", doseWindowID, "medication_id", med.ID, "error", err)
			return
		}
	}

	s.cancelWindowJobs(w.ID, models.JobAbsent, models.JobFollowup)
	s.notify(ctx, u, textWindowClosed)
}

// evaluateAbsent cancels and reschedules the absent nag: a sample from the
// user's activity density over [now+40m, now+90m), clamped to the window
// end buffer. When no room remains before the buffer, no nag is scheduled.
func (s *Service) evaluateAbsent(ctx context.Context, u *models.User, w *models.DoseWindow, loc *time.Location, now time.Time) {
	key := models.JobKey{DoseWindowID: w.ID, Type: models.JobAbsent}
	s.sched.Cancel(key)

	dens, err := s.userDensity(ctx, u, loc)
	if err != nil {
		slog.Error("absent evaluation: failed to build density", "user_id", u.ID, "error", err)
		return
	}
	candidate, err := s.selector.Sample(dens, now.Add(models.AbsentRangeStart), now.Add(models.AbsentRangeEnd), loc)
	if err != nil {
		slog.Error("absent evaluation: sampling failed", "user_id", u.ID, "error", err)
		return
	}

	clamped, wasClamped, err := timewindow.ClampToWindowEnd(candidate, w, loc, now, models.WindowEndBuffer)
	if err != nil {
		slog.Debug("absent evaluation: no room before window end buffer", "dose_window_id", w.ID)
		return
	}
	if err := s.sched.Schedule(key, clamped, s.absentFireHandler(w.ID)); err != nil {
		slog.Error("absent evaluation: failed to schedule", "dose_window_id", w.ID, "error", err)
		return
	}
	slog.Debug("absent nag scheduled", "dose_window_id", w.ID, "fire_at", clamped, "clamped", wasClamped)
}

// userDensity builds the per-minute engagement histogram from the user's
// inbound event history.
func (s *Service) userDensity(ctx context.Context, u *models.User, loc *time.Location) ([]float64, error) {
	events, err := s.store.EventsForUser(ctx, u.ID, engagementEventTypes, time.Time{}, time.Time{})
	if err != nil {
		return nil, err
	}
	return density.BuildDensity(events, loc), nil
}

// loadWindow resolves a firing job's window, user and timezone. A window
// or user that disappeared, a paused user, or a deactivated window all end
// the firing quietly.
func (s *Service) loadWindow(ctx context.Context, doseWindowID int64, jobName string) (*models.DoseWindow, *models.User, *time.Location, bool) {
	w, err := s.store.GetDoseWindow(ctx, doseWindowID)
	if err != nil {
		slog.Warn("job fired for missing dose window", "job", jobName, "dose_window_id", doseWindowID, "error", err)
		return nil, nil, nil, false
	}
	if !w.Active {
		slog.Debug("job fired for inactive dose window, skipping", "job", jobName, "dose_window_id", doseWindowID)
		return nil, nil, nil, false
	}
	u, err := s.store.GetUser(ctx, w.UserID)
	if err != nil {
		slog.Warn("job fired for missing user", "job", jobName, "user_id", w.UserID, "error", err)
		return nil, nil, nil, false
	}
	if u.Paused {
		slog.Debug("job fired for paused user, skipping", "job", jobName, "user_id", u.ID)
		return nil, nil, nil, false
	}
	loc, err := u.Location()
	if err != nil {
		slog.Error("job fired for user with invalid timezone", "job", jobName, "user_id", u.ID, "error", err)
		return nil, nil, nil, false
	}
	return w, u, loc, true
}
