package reminders

import (
	"context"
	"testing"

	"github.com/6peterlu/coherence-chat/internal/models"
	"github.com/6peterlu/coherence-chat/internal/testutil"
)

func TestInitialFireStartsLifecycle(t *testing.T) {
	f := newFixture(t, 1)
	f.now = f.at(9, 0)

	f.svc.HandleInitialFire(context.Background(), f.window.ID)

	reminds := testutil.EventsOfType(testutil.AllEvents(t, f.store, f.user.ID), models.EventInitialRemind)
	if len(reminds) != 1 {
		t.Fatalf("got %d initial_remind events, want 1", len(reminds))
	}

	fireAt, ok := f.sched.NextFireTime(f.key(models.JobBoundary))
	if !ok {
		t.Fatal("boundary job not scheduled")
	}
	if want := f.at(11, 0); !fireAt.Equal(want) {
		t.Errorf("boundary at %v, want window end %v", fireAt, want)
	}

	// Deterministic zero draw lands the nag at the start of the 40-90
	// minute activity range.
	nagAt, ok := f.sched.NextFireTime(f.key(models.JobAbsent))
	if !ok {
		t.Fatal("absent nag not scheduled")
	}
	if want := f.at(9, 40); !nagAt.Equal(want) {
		t.Errorf("absent nag at %v, want %v", nagAt, want)
	}

	if msg := f.lastSent(t); msg.Body != textInitialPrompt {
		t.Errorf("got %q, want the initial prompt", msg.Body)
	}
}

func TestInitialFireSkipsResolvedWindow(t *testing.T) {
	f := newFixture(t, 1)
	f.now = f.at(9, 0)
	f.seedResolved(t)

	f.svc.HandleInitialFire(context.Background(), f.window.ID)

	if got := len(testutil.EventsOfType(testutil.AllEvents(t, f.store, f.user.ID), models.EventInitialRemind)); got != 0 {
		t.Errorf("got %d initial_remind events on a resolved window, want 0", got)
	}
	if f.sched.Exists(f.key(models.JobBoundary)) {
		t.Error("no boundary may be scheduled for a resolved window")
	}
	if sent := f.notifier.Sent(); len(sent) != 0 {
		t.Errorf("nothing may be sent for a resolved window, got %+v", sent)
	}
}

func TestInitialFireSkipsPausedUser(t *testing.T) {
	f := newFixture(t, 1)
	f.now = f.at(9, 0)
	if err := f.store.SetUserPaused(context.Background(), f.user.ID, true); err != nil {
		t.Fatalf("failed to pause: %v", err)
	}

	f.svc.HandleInitialFire(context.Background(), f.window.ID)

	if sent := f.notifier.Sent(); len(sent) != 0 {
		t.Errorf("paused user must not be messaged, got %+v", sent)
	}
	if len(testutil.AllEvents(t, f.store, f.user.ID)) != 0 {
		t.Error("paused user firing must not write events")
	}
}

func TestInitialFireSkipsInactiveWindow(t *testing.T) {
	f := newFixture(t, 1)
	f.now = f.at(9, 0)
	if err := f.store.SetDoseWindowActive(context.Background(), f.window.ID, false); err != nil {
		t.Fatalf("failed to deactivate: %v", err)
	}

	f.svc.HandleInitialFire(context.Background(), f.window.ID)

	if sent := f.notifier.Sent(); len(sent) != 0 {
		t.Errorf("inactive window must not fire, got %+v", sent)
	}
}

func TestFollowupFireRemindsAndReevaluates(t *testing.T) {
	f := newFixture(t, 1)
	f.now = f.at(10, 0)

	f.svc.HandleFollowupFire(context.Background(), f.window.ID)

	if got := len(testutil.EventsOfType(testutil.AllEvents(t, f.store, f.user.ID), models.EventFollowupRemind)); got != 1 {
		t.Errorf("got %d followup_remind events, want 1", got)
	}
	if msg := f.lastSent(t); msg.Body != textFollowup {
		t.Errorf("got %q, want the followup text", msg.Body)
	}
	nagAt, ok := f.sched.NextFireTime(f.key(models.JobAbsent))
	if !ok {
		t.Fatal("absent nag not rescheduled")
	}
	if want := f.at(10, 40); !nagAt.Equal(want) {
		t.Errorf("absent nag at %v, want %v", nagAt, want)
	}
}

func TestFollowupFireSkipsResolved(t *testing.T) {
	f := newFixture(t, 1)
	f.now = f.at(10, 0)
	f.seedResolved(t)

	f.svc.HandleFollowupFire(context.Background(), f.window.ID)

	if sent := f.notifier.Sent(); len(sent) != 0 {
		t.Errorf("resolved window must not be reminded, got %+v", sent)
	}
}

func TestAbsentFireNagsAndReschedules(t *testing.T) {
	f := newFixture(t, 1)
	f.now = f.at(9, 50)

	f.svc.HandleAbsentFire(context.Background(), f.window.ID)

	if got := len(testutil.EventsOfType(testutil.AllEvents(t, f.store, f.user.ID), models.EventAbsentRemind)); got != 1 {
		t.Errorf("got %d absent_remind events, want 1", got)
	}
	if msg := f.lastSent(t); msg.Body != textAbsent {
		t.Errorf("got %q, want the absent nag text", msg.Body)
	}
	nagAt, ok := f.sched.NextFireTime(f.key(models.JobAbsent))
	if !ok {
		t.Fatal("next absent nag not scheduled")
	}
	if want := f.at(10, 30); !nagAt.Equal(want) {
		t.Errorf("next nag at %v, want %v", nagAt, want)
	}
}

func TestAbsentFireNoRoomBeforeBuffer(t *testing.T) {
	f := newFixture(t, 1)
	// Any candidate clamps to 10:50, which is no longer in the future.
	f.now = f.at(10, 50)

	f.svc.HandleAbsentFire(context.Background(), f.window.ID)

	if got := len(testutil.EventsOfType(testutil.AllEvents(t, f.store, f.user.ID), models.EventAbsentRemind)); got != 1 {
		t.Errorf("got %d absent_remind events, want 1", got)
	}
	if f.sched.Exists(f.key(models.JobAbsent)) {
		t.Error("no further nag fits before the end buffer")
	}
}

func TestBoundaryFireRecordsMisses(t *testing.T) {
	f := newFixture(t, 2)
	f.now = f.at(11, 0)
	f.seedInWindowJobs(t)

	f.svc.HandleBoundaryFire(context.Background(), f.window.ID)

	misses := testutil.EventsOfType(testutil.AllEvents(t, f.store, f.user.ID), models.EventBoundary)
	if len(misses) != 2 {
		t.Fatalf("got %d boundary events, want one per medication", len(misses))
	}
	for _, e := range misses {
		if e.MedicationID == 0 {
			t.Error("boundary event missing medication id")
		}
	}
	for _, typ := range []models.JobType{models.JobFollowup, models.JobAbsent} {
		if f.sched.Exists(f.key(typ)) {
			t.Errorf("%s job should be cancelled at the boundary", typ)
		}
	}
	if msg := f.lastSent(t); msg.Body != textWindowClosed {
		t.Errorf("got %q, want the window-closed text", msg.Body)
	}
}

func TestBoundaryFireResolvedIsNoOp(t *testing.T) {
	f := newFixture(t, 1)
	f.now = f.at(11, 0)
	f.seedResolved(t)

	f.svc.HandleBoundaryFire(context.Background(), f.window.ID)

	if got := len(testutil.EventsOfType(testutil.AllEvents(t, f.store, f.user.ID), models.EventBoundary)); got != 0 {
		t.Errorf("got %d boundary events on a resolved window, want 0", got)
	}
	if sent := f.notifier.Sent(); len(sent) != 0 {
		t.Errorf("resolved boundary must stay silent, got %+v", sent)
	}
}

func TestScheduleDailyPromptReplacesExisting(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	if err := f.svc.ScheduleDailyPrompt(ctx, f.user, f.window); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := f.svc.ScheduleDailyPrompt(ctx, f.user, f.window); err != nil {
		t.Fatalf("re-registration must replace, got %v", err)
	}
	job, ok := f.sched.Job(f.key(models.JobInitial))
	if !ok || !job.Recurring {
		t.Fatal("daily prompt not registered")
	}
	if job.Hour != 9 || job.Minute != 0 {
		t.Errorf("daily prompt at %d:%02d, want 9:00", job.Hour, job.Minute)
	}
}

func TestReinstateWindowClosedOrResolved(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	f.now = f.at(13, 0)
	open, err := f.svc.ReinstateWindow(ctx, f.user, f.window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open {
		t.Error("closed window must not reinstate")
	}

	f.now = f.at(9, 30)
	f.seedResolved(t)
	open, err = f.svc.ReinstateWindow(ctx, f.user, f.window)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if open {
		t.Error("resolved window must not reinstate")
	}
	if f.sched.Exists(f.key(models.JobBoundary)) {
		t.Error("no boundary for a resolved window")
	}
}
