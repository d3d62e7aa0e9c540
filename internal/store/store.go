// Package store provides storage backends for users, dose windows,
// medications and the append-only event log.
//
// It includes an in-memory store for tests and single-process use, plus
// SQLite and PostgreSQL backends selected by DSN detection.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/6peterlu/coherence-chat/internal/models"
)

// Store is the persistence contract consumed by the reminder core. Reads
// are point-in-time consistent within one handler invocation; writes are
// durable before any externally observable side effect.
type Store interface {
	GetUser(ctx context.Context, id int64) (*models.User, error)
	GetUserByPhone(ctx context.Context, phone string) (*models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	CreateUser(ctx context.Context, u *models.User) error
	SetUserPaused(ctx context.Context, id int64, paused bool) error

	CreateDoseWindow(ctx context.Context, w *models.DoseWindow) error
	UpdateDoseWindow(ctx context.Context, w *models.DoseWindow) error
	SetDoseWindowActive(ctx context.Context, id int64, active bool) error
	GetDoseWindow(ctx context.Context, id int64) (*models.DoseWindow, error)
	ListDoseWindowsForUser(ctx context.Context, userID int64) ([]models.DoseWindow, error)

	CreateMedication(ctx context.Context, m *models.Medication) error
	LinkMedication(ctx context.Context, doseWindowID, medicationID int64) error
	MedicationsForDoseWindow(ctx context.Context, doseWindowID int64) ([]models.Medication, error)

	// AddEvent appends one immutable event log row.
	AddEvent(ctx context.Context, e models.Event) error
	// EventsForUser returns the user's events of the given types with
	// At in [from, to), ordered by time. Empty types matches all.
	EventsForUser(ctx context.Context, userID int64, types []models.EventType, from, to time.Time) ([]models.Event, error)
	// LatestEvent returns the user's most recent event of the given types,
	// or ErrNotFound when none exists. Empty types matches all.
	LatestEvent(ctx context.Context, userID int64, types []models.EventType) (*models.Event, error)

	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for store constructors.
type Option func(*Opts)

// WithSQLiteDSN configures a SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType reports "postgres" for PostgreSQL connection strings and
// "sqlite" for anything else (file paths).
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}
