// Package recovery rebuilds reminder jobs after a process restart.
//
// Scheduled jobs live in process memory and die with it; the misfire grace
// additionally drops anything that could not run close to its fire time.
// Both are safe because reminder need is always re-derivable from the dose
// windows and the event log; this package performs that derivation at
// startup.
package recovery

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/6peterlu/coherence-chat/internal/models"
	"github.com/6peterlu/coherence-chat/internal/store"
)

// Reminders is the slice of the reminder state machine that recovery
// drives. Satisfied by *reminders.Service.
type Reminders interface {
	ScheduleDailyPrompt(ctx context.Context, u *models.User, w *models.DoseWindow) error
	ReinstateWindow(ctx context.Context, u *models.User, w *models.DoseWindow) (bool, error)
}

// Resync walks every non-paused user and active dose window, registering
// the recurring initial job and restarting the in-window lifecycle for
// windows currently open and unresolved. Idempotent: running it against an
// already-consistent scheduler changes nothing observable.
func Resync(ctx context.Context, st store.Store, rem Reminders) error {
	users, err := st.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("recovery: failed to list users: %w", err)
	}

	var scheduled, reinstated int
	for i := range users {
		u := &users[i]
		if u.Paused {
			slog.Debug("recovery skipping paused user", "user_id", u.ID)
			continue
		}
		windows, err := st.ListDoseWindowsForUser(ctx, u.ID)
		if err != nil {
			return fmt.Errorf("recovery: failed to list dose windows for user %d: %w", u.ID, err)
		}
		for j := range windows {
			w := &windows[j]
			if !w.Active {
				continue
			}
			if err := rem.ScheduleDailyPrompt(ctx, u, w); err != nil {
				return fmt.Errorf("recovery: %w", err)
			}
			scheduled++
			open, err := rem.ReinstateWindow(ctx, u, w)
			if err != nil {
				return fmt.Errorf("recovery: %w", err)
			}
			if open {
				reinstated++
			}
		}
	}

	slog.Info("recovery resync complete", "users", len(users), "daily_prompts", scheduled, "reinstated_windows", reinstated)
	return nil
}
