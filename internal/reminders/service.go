// Package reminders implements the per-dose-window reminder state machine.
//
// One lifecycle runs per dose window per logical day: a daily-recurring
// initial prompt at window start, an activity-timed absent nag, optional
// follow-ups on delay requests, and a boundary job that records misses at
// window close. Jobs are mutually exclusive per (window, type) and are
// never authoritative state: every decision re-derives resolution from
// the event log, so a lost or misfired job is repaired on the next
// relevant interaction.
package reminders

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/6peterlu/coherence-chat/internal/density"
	"github.com/6peterlu/coherence-chat/internal/messaging"
	"github.com/6peterlu/coherence-chat/internal/models"
	"github.com/6peterlu/coherence-chat/internal/scheduler"
	"github.com/6peterlu/coherence-chat/internal/store"
	"github.com/6peterlu/coherence-chat/internal/timewindow"
)

// engagementEventTypes are the inbound event kinds that feed the activity
// density histogram.
var engagementEventTypes = []models.EventType{
	models.EventTake,
	models.EventSkip,
	models.EventReminderDelay,
	models.EventActivity,
	models.EventHealthMetric,
	models.EventAttemptedRerecord,
	models.EventOutOfRange,
}

// Service is the reminder state machine. All transitions hold one mutex:
// inbound events and timer firings for the same window race, and the
// event-log write plus job cancellations must land as one unit.
type Service struct {
	store    store.Store
	sched    scheduler.Service
	notifier messaging.Notifier
	selector *density.Selector
	clock    func() time.Time

	mu sync.Mutex
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithClock injects the time source. Tests pin it; production uses time.Now.
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService wires the state machine to its collaborators.
func NewService(st store.Store, sched scheduler.Service, notifier messaging.Notifier, selector *density.Selector, opts ...ServiceOption) *Service {
	s := &Service{
		store:    st,
		sched:    sched,
		notifier: notifier,
		selector: selector,
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HandleMessage performs one state transition for a structured inbound
// message: it appends event rows, cancels or schedules jobs, and sends
// outbound notifications. It is the core's single exposed operation.
func (s *Service) HandleMessage(ctx context.Context, userID int64, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return fmt.Errorf("handle message: %w", err)
	}
	loc, err := u.Location()
	if err != nil {
		return fmt.Errorf("handle message: %w", err)
	}
	now := s.clock()
	slog.Debug("HandleMessage invoked", "user_id", userID, "kind", msg.Kind(), "now", now)

	switch m := msg.(type) {
	case models.Take:
		return s.handleRecord(ctx, u, loc, now, models.EventTake, m.At, m.Excited)
	case models.Skip:
		return s.handleRecord(ctx, u, loc, now, models.EventSkip, m.At, false)
	case models.DelayMinutes:
		candidate := now.Add(time.Duration(m.Minutes) * time.Minute)
		desc := fmt.Sprintf("requested %d minute delay", m.Minutes)
		return s.handleDelay(ctx, u, loc, now, candidate, models.EventReminderDelay, desc, "")
	case models.RequestedAlarmTime:
		desc := fmt.Sprintf("requested reminder at %s", clockFormat(m.At, loc))
		return s.handleDelay(ctx, u, loc, now, m.At, models.EventReminderDelay, desc, "")
	case models.Activity:
		candidate := now.Add(time.Duration(m.DelayMinutes) * time.Minute)
		return s.handleDelay(ctx, u, loc, now, candidate, models.EventActivity, m.Name, m.Response)
	case models.Special:
		return s.handleSpecial(ctx, u, now, m)
	case models.Thanks:
		s.notify(ctx, u, textThanksReply)
		return nil
	case models.WebsiteRequest:
		s.notify(ctx, u, textWebsiteReply)
		return nil
	case models.HealthMetric:
		return s.handleHealthMetric(ctx, u, now, m)
	default:
		return fmt.Errorf("%w: %T", models.ErrUnknownMessageKind, msg)
	}
}

// handleRecord processes TAKE and SKIP.
func (s *Service) handleRecord(ctx context.Context, u *models.User, loc *time.Location, now time.Time, eventType models.EventType, explicitAt *time.Time, excited bool) error {
	w, err := s.openWindow(ctx, u, loc, now)
	if err != nil {
		if errors.Is(err, models.ErrOutOfRange) {
			return s.handleOutOfRange(ctx, u, now, string(eventType))
		}
		return err
	}

	recorded, err := s.isRecorded(ctx, u, w, loc, now)
	if err != nil {
		return err
	}
	if recorded {
		// Timer/event races and double texts both land here; benign.
		log := slog.With("user_id", u.ID, "dose_window_id", w.ID, "type", eventType)
		if prev, err := s.store.LatestEvent(ctx, u.ID, []models.EventType{models.EventTake, models.EventSkip}); err == nil {
			log = log.With("recorded_at", prev.At, "recorded_as", prev.Type)
		}
		log.Warn("attempted rerecord on resolved window")
		if err := s.addEvent(ctx, models.Event{
			Type:         models.EventAttemptedRerecord,
			UserID:       u.ID,
			DoseWindowID: w.ID,
			At:           now,
			Description:  string(eventType),
		}); err != nil {
			return err
		}
		s.notify(ctx, u, textRerecord)
		return nil
	}

	at := now
	if explicitAt != nil {
		at = *explicitAt
	}

	meds, err := s.store.MedicationsForDoseWindow(ctx, w.ID)
	if err != nil {
		return err
	}
	for _, med := range meds {
		if err := s.addEvent(ctx, models.Event{
			Type:         eventType,
			UserID:       u.ID,
			DoseWindowID: w.ID,
			MedicationID: med.ID,
			At:           at,
		}); err != nil {
			return err
		}
	}

	// Resolved: the whole job triple goes away for this window/day.
	s.cancelWindowJobs(w.ID, models.JobAbsent, models.JobFollowup, models.JobBoundary)

	if eventType == models.EventSkip {
		s.notify(ctx, u, fmt.Sprintf(textSkipConfirm, clockFormat(at, loc)))
	} else {
		s.notify(ctx, u, takeConfirmText(at, loc, excited))
	}
	return nil
}

// handleDelay processes fixed delays, absolute alarm requests and
// activity-inferred delays. Every candidate passes through the window-end
// clamp; a clamped time at or before now rejects the request outright.
func (s *Service) handleDelay(ctx context.Context, u *models.User, loc *time.Location, now time.Time, candidate time.Time, eventType models.EventType, desc, ackPrefix string) error {
	w, err := s.openWindow(ctx, u, loc, now)
	if err != nil {
		if errors.Is(err, models.ErrOutOfRange) {
			return s.handleOutOfRange(ctx, u, now, desc)
		}
		return err
	}

	clamped, wasClamped, err := timewindow.ClampToWindowEnd(candidate, w, loc, now, models.WindowEndBuffer)
	if err != nil {
		if errors.Is(err, models.ErrTooLate) {
			slog.Info("delay request rejected as too late", "user_id", u.ID, "dose_window_id", w.ID, "candidate", candidate)
			if err := s.addEvent(ctx, models.Event{
				Type:         eventType,
				UserID:       u.ID,
				DoseWindowID: w.ID,
				At:           now,
				Description:  desc + " (rejected: too late)",
			}); err != nil {
				return err
			}
			s.notify(ctx, u, textTooLate)
			return nil
		}
		return err
	}

	if err := s.addEvent(ctx, models.Event{
		Type:         eventType,
		UserID:       u.ID,
		DoseWindowID: w.ID,
		At:           now,
		Description:  desc,
	}); err != nil {
		return err
	}

	s.cancelWindowJobs(w.ID, models.JobFollowup, models.JobAbsent)
	if err := s.sched.Schedule(models.JobKey{DoseWindowID: w.ID, Type: models.JobFollowup}, clamped, s.followupFireHandler(w.ID)); err != nil {
		return fmt.Errorf("failed to schedule followup: %w", err)
	}

	// Confirmations must report the clamped time, never the requested one.
	body := delayConfirmText(clamped, loc, wasClamped)
	if ackPrefix != "" {
		body = ackPrefix + " " + body
	}
	s.notify(ctx, u, body)
	return nil
}

func (s *Service) handleOutOfRange(ctx context.Context, u *models.User, now time.Time, desc string) error {
	slog.Debug("inbound message outside any open window", "user_id", u.ID, "desc", desc)
	if err := s.addEvent(ctx, models.Event{
		Type:        models.EventOutOfRange,
		UserID:      u.ID,
		At:          now,
		Description: desc,
	}); err != nil {
		return err
	}
	s.notify(ctx, u, textOutOfRange)
	return nil
}

func (s *Service) handleSpecial(ctx context.Context, u *models.User, now time.Time, m models.Special) error {
	switch m.Code {
	case "x":
		if err := s.addEvent(ctx, models.Event{
			Type:   models.EventUserReportedError,
			UserID: u.ID,
			At:     now,
		}); err != nil {
			return err
		}
		s.notify(ctx, u, textErrorReply)
		return nil
	default:
		slog.Warn("unknown special code", "user_id", u.ID, "code", m.Code)
		return nil
	}
}

func (s *Service) handleHealthMetric(ctx context.Context, u *models.User, now time.Time, m models.HealthMetric) error {
	if err := s.addEvent(ctx, models.Event{
		Type:        models.EventHealthMetric,
		UserID:      u.ID,
		At:          now,
		Description: fmt.Sprintf("%s=%g", m.Metric, m.Value),
	}); err != nil {
		return err
	}
	s.notify(ctx, u, fmt.Sprintf(textMetricReply, m.Metric))
	return nil
}

// PauseUser silences automation: all four job types are cancelled across
// every window.
func (s *Service) PauseUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.SetUserPaused(ctx, userID, true); err != nil {
		return err
	}
	if err := s.addEvent(ctx, models.Event{Type: models.EventPaused, UserID: u.ID, At: s.clock()}); err != nil {
		return err
	}

	windows, err := s.store.ListDoseWindowsForUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, w := range windows {
		s.cancelWindowJobs(w.ID, models.JobInitial, models.JobFollowup, models.JobAbsent, models.JobBoundary)
	}
	slog.Info("user paused, all reminder jobs cancelled", "user_id", userID, "windows", len(windows))
	return nil
}

// ResumeUser reinstates the recurring initial job for every active window.
// When the user is currently inside an unresolved window, its lifecycle
// restarts immediately and a single welcome-back message is sent, at most
// one across all windows.
func (s *Service) ResumeUser(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	loc, err := u.Location()
	if err != nil {
		return err
	}
	if err := s.store.SetUserPaused(ctx, userID, false); err != nil {
		return err
	}
	now := s.clock()
	if err := s.addEvent(ctx, models.Event{Type: models.EventResumed, UserID: u.ID, At: now}); err != nil {
		return err
	}

	windows, err := s.store.ListDoseWindowsForUser(ctx, userID)
	if err != nil {
		return err
	}
	welcomed := false
	for i := range windows {
		w := &windows[i]
		if !w.Active {
			continue
		}
		if err := s.scheduleDailyPrompt(u, w); err != nil {
			return err
		}
		open, err := s.reinstateOpenWindow(ctx, u, w, loc, now)
		if err != nil {
			return err
		}
		if open && !welcomed {
			s.notify(ctx, u, textWelcomeBack)
			welcomed = true
		}
	}
	slog.Info("user resumed", "user_id", userID, "welcomed", welcomed)
	return nil
}

// SetWindowActive toggles a dose window. Deactivating cancels its jobs;
// activating restarts its lifecycle as a resume would.
func (s *Service) SetWindowActive(ctx context.Context, doseWindowID int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, err := s.store.GetDoseWindow(ctx, doseWindowID)
	if err != nil {
		return err
	}
	if err := s.store.SetDoseWindowActive(ctx, doseWindowID, active); err != nil {
		return err
	}
	if !active {
		s.cancelWindowJobs(w.ID, models.JobInitial, models.JobFollowup, models.JobAbsent, models.JobBoundary)
		slog.Info("dose window deactivated", "dose_window_id", w.ID)
		return nil
	}
	w.Active = true

	u, err := s.store.GetUser(ctx, w.UserID)
	if err != nil {
		return err
	}
	if u.Paused {
		return nil
	}
	loc, err := u.Location()
	if err != nil {
		return err
	}
	if err := s.scheduleDailyPrompt(u, w); err != nil {
		return err
	}
	now := s.clock()
	open, err := s.reinstateOpenWindow(ctx, u, w, loc, now)
	if err != nil {
		return err
	}
	if open {
		s.notify(ctx, u, textWelcomeBack)
	}
	return nil
}

// openWindow returns the user's active window containing now, or
// ErrOutOfRange when none is open.
func (s *Service) openWindow(ctx context.Context, u *models.User, loc *time.Location, now time.Time) (*models.DoseWindow, error) {
	windows, err := s.store.ListDoseWindowsForUser(ctx, u.ID)
	if err != nil {
		return nil, err
	}
	for i := range windows {
		w := &windows[i]
		if !w.Active {
			continue
		}
		if timewindow.StatusAt(w, loc, now) == timewindow.StatusDuring {
			return w, nil
		}
	}
	return nil, models.ErrOutOfRange
}

// isRecorded derives resolution from the event log: every medication of
// the window has at least one take or skip inside the current day bounds.
// A window without medications is vacuously resolved.
func (s *Service) isRecorded(ctx context.Context, u *models.User, w *models.DoseWindow, loc *time.Location, now time.Time) (bool, error) {
	meds, err := s.store.MedicationsForDoseWindow(ctx, w.ID)
	if err != nil {
		return false, err
	}
	if len(meds) == 0 {
		return true, nil
	}

	from, to := timewindow.DayBounds(loc, now)
	events, err := s.store.EventsForUser(ctx, u.ID, []models.EventType{models.EventTake, models.EventSkip}, from, to)
	if err != nil {
		return false, err
	}

	recorded := make(map[int64]bool, len(meds))
	for _, e := range events {
		if e.DoseWindowID == w.ID && e.MedicationID != 0 {
			recorded[e.MedicationID] = true
		}
	}
	for _, med := range meds {
		if !recorded[med.ID] {
			return false, nil
		}
	}
	return true, nil
}

func (s *Service) cancelWindowJobs(doseWindowID int64, types ...models.JobType) {
	for _, t := range types {
		s.sched.Cancel(models.JobKey{DoseWindowID: doseWindowID, Type: t})
	}
}

func (s *Service) addEvent(ctx context.Context, e models.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := s.store.AddEvent(ctx, e); err != nil {
		return fmt.Errorf("failed to persist %s event: %w", e.Type, err)
	}
	return nil
}

// notify sends one outbound message. Manual takeover suppresses automated
// sends entirely; delivery failure is logged and swallowed.
func (s *Service) notify(ctx context.Context, u *models.User, body string) {
	if u.ManualTakeover {
		slog.Info("manual takeover active, suppressing outbound message", "user_id", u.ID)
		return
	}
	to, err := s.notifier.ValidateAndCanonicalizeRecipient(u.PhoneNumber)
	if err != nil {
		slog.Error("invalid recipient, dropping outbound message", "user_id", u.ID, "error", err)
		return
	}
	if err := s.notifier.SendMessage(ctx, to, body); err != nil {
		slog.Error("outbound message failed, not retrying", "user_id", u.ID, "error", err)
	}
}
