// Package store: SQLite-backed Store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/6peterlu/coherence-chat/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// DefaultDirPermissions defines the default permissions for database directories
const DefaultDirPermissions = 0755

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN. The DSN is
// a file path; the containing directory is created if missing.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}
	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, phone_number, name, timezone, paused, manual_takeover, created_at, updated_at FROM users WHERE id = ?`, id)
	return scanUserRow(row, id)
}

func (s *SQLiteStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, phone_number, name, timezone, paused, manual_takeover, created_at, updated_at FROM users WHERE phone_number = ?`, phone)
	u, err := scanUserRow(row, 0)
	if err != nil {
		return nil, fmt.Errorf("user with phone %s: %w", phone, models.ErrNotFound)
	}
	return u, nil
}

func (s *SQLiteStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, phone_number, name, timezone, paused, manual_takeover, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *SQLiteStore) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (phone_number, name, timezone, paused, manual_takeover, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		u.PhoneNumber, u.Name, u.Timezone, u.Paused, u.ManualTakeover, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read user id: %w", err)
	}
	u.ID = id
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) SetUserPaused(ctx context.Context, id int64, paused bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET paused = ?, updated_at = ? WHERE id = ?`, paused, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	return requireRowAffected(res, "user", id)
}

func (s *SQLiteStore) CreateDoseWindow(ctx context.Context, w *models.DoseWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	now := time.Now()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO dose_windows (user_id, start_hour, start_minute, end_hour, end_minute, active, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.UserID, w.StartHour, w.StartMinute, w.EndHour, w.EndMinute, w.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert dose window: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read dose window id: %w", err)
	}
	w.ID = id
	w.CreatedAt = now
	w.UpdatedAt = now
	return nil
}

func (s *SQLiteStore) UpdateDoseWindow(ctx context.Context, w *models.DoseWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dose_windows SET start_hour = ?, start_minute = ?, end_hour = ?, end_minute = ?, active = ?, updated_at = ? WHERE id = ?`,
		w.StartHour, w.StartMinute, w.EndHour, w.EndMinute, w.Active, time.Now(), w.ID)
	if err != nil {
		return fmt.Errorf("failed to update dose window %d: %w", w.ID, err)
	}
	return requireRowAffected(res, "dose window", w.ID)
}

func (s *SQLiteStore) SetDoseWindowActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dose_windows SET active = ?, updated_at = ? WHERE id = ?`, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update dose window %d: %w", id, err)
	}
	return requireRowAffected(res, "dose window", id)
}

func (s *SQLiteStore) GetDoseWindow(ctx context.Context, id int64) (*models.DoseWindow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, start_hour, start_minute, end_hour, end_minute, active, created_at, updated_at FROM dose_windows WHERE id = ?`, id)
	return scanDoseWindowRow(row, id)
}

func (s *SQLiteStore) ListDoseWindowsForUser(ctx context.Context, userID int64) ([]models.DoseWindow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, start_hour, start_minute, end_hour, end_minute, active, created_at, updated_at FROM dose_windows WHERE user_id = ? ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dose windows: %w", err)
	}
	defer rows.Close()
	return scanDoseWindows(rows)
}

func (s *SQLiteStore) CreateMedication(ctx context.Context, m *models.Medication) error {
	res, err := s.db.ExecContext(ctx, `INSERT INTO medications (user_id, name, instructions) VALUES (?, ?, ?)`, m.UserID, m.Name, m.Instructions)
	if err != nil {
		return fmt.Errorf("failed to insert medication: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read medication id: %w", err)
	}
	m.ID = id
	return nil
}

func (s *SQLiteStore) LinkMedication(ctx context.Context, doseWindowID, medicationID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO dose_window_medications (dose_window_id, medication_id) VALUES (?, ?)`, doseWindowID, medicationID)
	if err != nil {
		return fmt.Errorf("failed to link medication %d to dose window %d: %w", medicationID, doseWindowID, err)
	}
	return nil
}

func (s *SQLiteStore) MedicationsForDoseWindow(ctx context.Context, doseWindowID int64) ([]models.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.user_id, m.name, m.instructions FROM medications m
		 JOIN dose_window_medications dwm ON dwm.medication_id = m.id
		 WHERE dwm.dose_window_id = ? ORDER BY m.id`, doseWindowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query medications: %w", err)
	}
	defer rows.Close()
	return scanMedications(rows)
}

func (s *SQLiteStore) AddEvent(ctx context.Context, e models.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, user_id, dose_window_id, medication_id, at, description) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Type, e.UserID, nilIfZero(e.DoseWindowID), nilIfZero(e.MedicationID), e.At, nilIfEmpty(e.Description))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	slog.Debug("SQLiteStore AddEvent succeeded", "type", e.Type, "user_id", e.UserID)
	return nil
}

func (s *SQLiteStore) EventsForUser(ctx context.Context, userID int64, types []models.EventType, from, to time.Time) ([]models.Event, error) {
	query, args := eventsQuery("?", userID, types, from, to)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *SQLiteStore) LatestEvent(ctx context.Context, userID int64, types []models.EventType) (*models.Event, error) {
	query, args := latestEventQuery("?", userID, types)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest event: %w", err)
	}
	defer rows.Close()
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, models.ErrNotFound
	}
	return &events[0], nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
