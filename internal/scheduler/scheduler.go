// Package scheduler provides keyed job scheduling for dose reminders.
//
// Jobs are identified by a structured (dose window, job type) key. One-shot
// jobs run on in-process timers with a misfire grace period; daily-recurring
// jobs run on cron entries carrying the owning user's timezone. Job
// existence here is a performance optimization only; reminder need is
// always re-derivable from the dose windows and the event log, so dropped
// or lost jobs are repaired on the next relevant interaction.
package scheduler

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/6peterlu/coherence-chat/internal/models"
)

// Handler is the function executed when a job fires.
type Handler func()

// Service is the scheduling contract consumed by the reminder state
// machine. An in-memory fake implements it in tests.
type Service interface {
	// Schedule registers a one-shot job. The key must not be live;
	// re-scheduling requires Cancel first.
	Schedule(key models.JobKey, fireAt time.Time, handler Handler) error
	// ScheduleRecurring registers a daily job at the given wall-clock
	// time in the given IANA timezone.
	ScheduleRecurring(key models.JobKey, hour, minute int, timezone string, handler Handler) error
	// Cancel removes a job by key. Canceling an unknown key is a no-op.
	Cancel(key models.JobKey)
	// Exists reports whether a job is live for the key.
	Exists(key models.JobKey) bool
	// NextFireTime returns the next execution time for a live key.
	NextFireTime(key models.JobKey) (time.Time, bool)
}

type oneShotEntry struct {
	timer  *time.Timer
	fireAt time.Time
}

// Scheduler is the production Service: cron entries for recurring jobs,
// time.AfterFunc timers for one-shots.
type Scheduler struct {
	cron      *cron.Cron
	mu        sync.Mutex
	oneShots  map[models.JobKey]*oneShotEntry
	recurring map[models.JobKey]cron.EntryID
	grace     time.Duration
}

// NewScheduler creates and starts a scheduler with the standard misfire
// grace period.
func NewScheduler() *Scheduler {
	// Standard 5-field cron parser (min, hour, dom, month, dow) with panic recovery.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	c.Start()
	return &Scheduler{
		cron:      c,
		oneShots:  make(map[models.JobKey]*oneShotEntry),
		recurring: make(map[models.JobKey]cron.EntryID),
		grace:     models.MisfireGrace,
	}
}

// Schedule registers a one-shot job at fireAt. A fire time already more
// than the grace period in the past is dropped outright: at-most-once, no
// retry. Within grace, the handler runs immediately.
func (s *Scheduler) Schedule(key models.JobKey, fireAt time.Time, handler Handler) error {
	s.mu.Lock()
	if s.existsLocked(key) {
		s.mu.Unlock()
		return fmt.Errorf("schedule %s: %w", key, models.ErrJobExists)
	}

	now := time.Now()
	if !fireAt.After(now) {
		s.mu.Unlock()
		if now.Sub(fireAt) > s.grace {
			slog.Warn("Scheduler dropping misfired job beyond grace", "key", key.String(), "fire_at", fireAt)
			return nil
		}
		slog.Debug("Scheduler executing job within misfire grace", "key", key.String(), "fire_at", fireAt)
		go handler()
		return nil
	}

	timer := time.AfterFunc(fireAt.Sub(now), func() {
		s.fireOneShot(key, fireAt, handler)
	})
	s.oneShots[key] = &oneShotEntry{timer: timer, fireAt: fireAt}
	s.mu.Unlock()

	slog.Debug("Scheduler job scheduled", "key", key.String(), "fire_at", fireAt)
	return nil
}

// fireOneShot runs when a one-shot timer expires. The grace check repeats
// here because timers can fire arbitrarily late after a host suspend.
func (s *Scheduler) fireOneShot(key models.JobKey, fireAt time.Time, handler Handler) {
	s.mu.Lock()
	delete(s.oneShots, key)
	s.mu.Unlock()

	if time.Since(fireAt) > s.grace {
		slog.Warn("Scheduler dropping job that fired beyond misfire grace", "key", key.String(), "fire_at", fireAt)
		return
	}
	slog.Debug("Scheduler executing job", "key", key.String(), "fire_at", fireAt)
	handler()
}

// ScheduleRecurring registers a daily-recurring job at hour:minute in the
// given timezone using a CRON_TZ entry.
func (s *Scheduler) ScheduleRecurring(key models.JobKey, hour, minute int, timezone string, handler Handler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.existsLocked(key) {
		return fmt.Errorf("schedule recurring %s: %w", key, models.ErrJobExists)
	}

	spec := fmt.Sprintf("%d %d * * *", minute, hour)
	if timezone != "" {
		spec = fmt.Sprintf("CRON_TZ=%s %s", timezone, spec)
	}
	id, err := s.cron.AddFunc(spec, handler)
	if err != nil {
		return fmt.Errorf("failed to add recurring job %s: %w", key, err)
	}
	s.recurring[key] = id
	slog.Debug("Scheduler recurring job scheduled", "key", key.String(), "spec", spec)
	return nil
}

// Cancel removes the job for key, whichever kind it is.
func (s *Scheduler) Cancel(key models.JobKey) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.oneShots[key]; ok {
		entry.timer.Stop()
		delete(s.oneShots, key)
		slog.Debug("Scheduler canceled one-shot job", "key", key.String())
		return
	}
	if id, ok := s.recurring[key]; ok {
		s.cron.Remove(id)
		delete(s.recurring, key)
		slog.Debug("Scheduler canceled recurring job", "key", key.String())
		return
	}
	slog.Debug("Scheduler cancel: job not found", "key", key.String())
}

// Exists reports whether a job is live for key.
func (s *Scheduler) Exists(key models.JobKey) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existsLocked(key)
}

func (s *Scheduler) existsLocked(key models.JobKey) bool {
	if _, ok := s.oneShots[key]; ok {
		return true
	}
	_, ok := s.recurring[key]
	return ok
}

// NextFireTime returns the next execution time for key, or false when the
// key is not live.
func (s *Scheduler) NextFireTime(key models.JobKey) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.oneShots[key]; ok {
		return entry.fireAt, true
	}
	if id, ok := s.recurring[key]; ok {
		return s.cron.Entry(id).Next, true
	}
	return time.Time{}, false
}

// Stop cancels all jobs and stops the cron runner, waiting for in-flight
// executions to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	for key, entry := range s.oneShots {
		entry.timer.Stop()
		delete(s.oneShots, key)
	}
	s.recurring = make(map[models.JobKey]cron.EntryID)
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()
	slog.Info("Scheduler stopped")
}
