package recovery

import (
	"context"
	"testing"

	"github.com/6peterlu/coherence-chat/internal/models"
	"github.com/6peterlu/coherence-chat/internal/store"
)

// fakeReminders records which windows recovery touched.
type fakeReminders struct {
	scheduled  []int64
	reinstated []int64
	open       map[int64]bool
}

func (f *fakeReminders) ScheduleDailyPrompt(ctx context.Context, u *models.User, w *models.DoseWindow) error {
	f.scheduled = append(f.scheduled, w.ID)
	return nil
}

func (f *fakeReminders) ReinstateWindow(ctx context.Context, u *models.User, w *models.DoseWindow) (bool, error) {
	f.reinstated = append(f.reinstated, w.ID)
	return f.open[w.ID], nil
}

func seedUser(t *testing.T, st store.Store, phone string, paused bool) *models.User {
	t.Helper()
	u := &models.User{PhoneNumber: phone, Timezone: "UTC"}
	if err := st.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	if paused {
		if err := st.SetUserPaused(context.Background(), u.ID, true); err != nil {
			t.Fatalf("failed to pause user: %v", err)
		}
	}
	return u
}

func seedWindow(t *testing.T, st store.Store, userID int64, active bool) *models.DoseWindow {
	t.Helper()
	w := &models.DoseWindow{UserID: userID, StartHour: 9, EndHour: 11, Active: active}
	if err := st.CreateDoseWindow(context.Background(), w); err != nil {
		t.Fatalf("failed to create dose window: %v", err)
	}
	return w
}

func TestResyncWalksActiveWindowsOfUnpausedUsers(t *testing.T) {
	st := store.NewInMemoryStore()
	active := seedWindow(t, st, seedUser(t, st, "15551230001", false).ID, true)
	seedWindow(t, st, seedUser(t, st, "15551230002", false).ID, false)
	seedWindow(t, st, seedUser(t, st, "15551230003", true).ID, true)

	rem := &fakeReminders{open: map[int64]bool{active.ID: true}}
	if err := Resync(context.Background(), st, rem); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(rem.scheduled) != 1 || rem.scheduled[0] != active.ID {
		t.Errorf("scheduled = %v, want only the active window of the unpaused user", rem.scheduled)
	}
	if len(rem.reinstated) != 1 || rem.reinstated[0] != active.ID {
		t.Errorf("reinstated = %v, want only the active window of the unpaused user", rem.reinstated)
	}
}

func TestResyncEmptyStore(t *testing.T) {
	rem := &fakeReminders{}
	if err := Resync(context.Background(), store.NewInMemoryStore(), rem); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rem.scheduled) != 0 {
		t.Errorf("scheduled = %v, want none", rem.scheduled)
	}
}
