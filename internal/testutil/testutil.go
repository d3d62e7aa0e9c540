// Package testutil provides common test utilities and helpers for coherence tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/6peterlu/coherence-chat/internal/models"
	"github.com/6peterlu/coherence-chat/internal/scheduler"
	"github.com/6peterlu/coherence-chat/internal/store"
)

// FakeJob records a scheduled job so tests can inspect and fire it.
type FakeJob struct {
	FireAt    time.Time
	Recurring bool
	Hour      int
	Minute    int
	Timezone  string
	Handler   scheduler.Handler
}

// FakeScheduler implements scheduler.Service with in-memory bookkeeping.
// Jobs never fire on their own; tests call Fire to run a handler.
type FakeScheduler struct {
	mu       sync.Mutex
	jobs     map[models.JobKey]FakeJob
	canceled []models.JobKey
}

// NewFakeScheduler creates an empty fake scheduler.
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{jobs: make(map[models.JobKey]FakeJob)}
}

// Schedule registers a one-shot job, mirroring scheduler.Scheduler semantics.
func (f *FakeScheduler) Schedule(key models.JobKey, fireAt time.Time, handler scheduler.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[key]; ok {
		return models.ErrJobExists
	}
	f.jobs[key] = FakeJob{FireAt: fireAt, Handler: handler}
	return nil
}

// ScheduleRecurring registers a daily job without validating the cron spec.
func (f *FakeScheduler) ScheduleRecurring(key models.JobKey, hour, minute int, timezone string, handler scheduler.Handler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[key]; ok {
		return models.ErrJobExists
	}
	f.jobs[key] = FakeJob{Recurring: true, Hour: hour, Minute: minute, Timezone: timezone, Handler: handler}
	return nil
}

// Cancel removes a job and records the cancellation.
func (f *FakeScheduler) Cancel(key models.JobKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, key)
	delete(f.jobs, key)
}

// Exists reports whether a job is registered under key.
func (f *FakeScheduler) Exists(key models.JobKey) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[key]
	return ok
}

// NextFireTime returns the recorded fire time for a one-shot job.
func (f *FakeScheduler) NextFireTime(key models.JobKey) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[key]
	if !ok || job.Recurring {
		return time.Time{}, ok
	}
	return job.FireAt, true
}

// Job returns the recorded job and whether it exists.
func (f *FakeScheduler) Job(key models.JobKey) (FakeJob, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[key]
	return job, ok
}

// Canceled returns a copy of all keys passed to Cancel, in order.
func (f *FakeScheduler) Canceled() []models.JobKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.JobKey, len(f.canceled))
	copy(out, f.canceled)
	return out
}

// Fire runs the handler registered under key synchronously.
// One-shot jobs are removed before the handler runs, matching real timers.
func (f *FakeScheduler) Fire(t *testing.T, key models.JobKey) {
	t.Helper()
	f.mu.Lock()
	job, ok := f.jobs[key]
	if ok && !job.Recurring {
		delete(f.jobs, key)
	}
	f.mu.Unlock()
	if !ok {
		t.Fatalf("no job registered under %s", key)
	}
	job.Handler()
}

// FixedClock returns a clock function pinned to t.
func FixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

// SeedUserWindow creates a user with one active dose window and the given
// number of linked medications, returning all created records.
func SeedUserWindow(t *testing.T, st store.Store, timezone string, startHour, startMinute, endHour, endMinute, medCount int) (*models.User, *models.DoseWindow, []models.Medication) {
	t.Helper()
	ctx := context.Background()
	user := &models.User{PhoneNumber: "15551234567", Name: "Pat", Timezone: timezone}
	if err := st.CreateUser(ctx, user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	window := &models.DoseWindow{
		UserID:      user.ID,
		StartHour:   startHour,
		StartMinute: startMinute,
		EndHour:     endHour,
		EndMinute:   endMinute,
		Active:      true,
	}
	if err := st.CreateDoseWindow(ctx, window); err != nil {
		t.Fatalf("failed to create dose window: %v", err)
	}
	meds := make([]models.Medication, 0, medCount)
	for i := 0; i < medCount; i++ {
		med := &models.Medication{UserID: user.ID, Name: "med"}
		if err := st.CreateMedication(ctx, med); err != nil {
			t.Fatalf("failed to create medication: %v", err)
		}
		if err := st.LinkMedication(ctx, window.ID, med.ID); err != nil {
			t.Fatalf("failed to link medication: %v", err)
		}
		meds = append(meds, *med)
	}
	return user, window, meds
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// EventsOfType filters events down to one type, preserving order.
func EventsOfType(events []models.Event, typ models.EventType) []models.Event {
	var out []models.Event
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// AllEvents fetches every event for a user and fails the test on error.
func AllEvents(t *testing.T, st store.Store, userID int64) []models.Event {
	t.Helper()
	events, err := st.EventsForUser(context.Background(), userID, nil, time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("failed to list events: %v", err)
	}
	return events
}
