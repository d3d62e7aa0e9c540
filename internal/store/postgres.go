// Package store: PostgreSQL-backed Store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/6peterlu/coherence-chat/internal/models"
	"github.com/6peterlu/coherence-chat/internal/util"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(util.ParseIntEnv("DATABASE_MAX_OPEN_CONNS", DefaultMaxOpenConns))
	db.SetMaxIdleConns(util.ParseIntEnv("DATABASE_MAX_IDLE_CONNS", DefaultMaxIdleConns))
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, phone_number, name, timezone, paused, manual_takeover, created_at, updated_at FROM users WHERE id = $1`, id)
	return scanUserRow(row, id)
}

func (s *PostgresStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, phone_number, name, timezone, paused, manual_takeover, created_at, updated_at FROM users WHERE phone_number = $1`, phone)
	u, err := scanUserRow(row, 0)
	if err != nil {
		return nil, fmt.Errorf("user with phone %s: %w", phone, models.ErrNotFound)
	}
	return u, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]models.User, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, phone_number, name, timezone, paused, manual_takeover, created_at, updated_at FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (s *PostgresStore) CreateUser(ctx context.Context, u *models.User) error {
	now := time.Now()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO users (phone_number, name, timezone, paused, manual_takeover, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id`,
		u.PhoneNumber, u.Name, u.Timezone, u.Paused, u.ManualTakeover, now, now).Scan(&u.ID)
	if err != nil {
		return fmt.Errorf("failed to insert user: %w", err)
	}
	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

func (s *PostgresStore) SetUserPaused(ctx context.Context, id int64, paused bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE users SET paused = $1, updated_at = $2 WHERE id = $3`, paused, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update user %d: %w", id, err)
	}
	return requireRowAffected(res, "user", id)
}

func (s *PostgresStore) CreateDoseWindow(ctx context.Context, w *models.DoseWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	now := time.Now()
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO dose_windows (user_id, start_hour, start_minute, end_hour, end_minute, active, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		w.UserID, w.StartHour, w.StartMinute, w.EndHour, w.EndMinute, w.Active, now, now).Scan(&w.ID)
	if err != nil {
		return fmt.Errorf("failed to insert dose window: %w", err)
	}
	w.CreatedAt = now
	w.UpdatedAt = now
	return nil
}

func (s *PostgresStore) UpdateDoseWindow(ctx context.Context, w *models.DoseWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE dose_windows SET start_hour = $1, start_minute = $2, end_hour = $3, end_minute = $4, active = $5, updated_at = $6 WHERE id = $7`,
		w.StartHour, w.StartMinute, w.EndHour, w.EndMinute, w.Active, time.Now(), w.ID)
	if err != nil {
		return fmt.Errorf("failed to update dose window %d: %w", w.ID, err)
	}
	return requireRowAffected(res, "dose window", w.ID)
}

func (s *PostgresStore) SetDoseWindowActive(ctx context.Context, id int64, active bool) error {
	res, err := s.db.ExecContext(ctx, `UPDATE dose_windows SET active = $1, updated_at = $2 WHERE id = $3`, active, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update dose window %d: %w", id, err)
	}
	return requireRowAffected(res, "dose window", id)
}

func (s *PostgresStore) GetDoseWindow(ctx context.Context, id int64) (*models.DoseWindow, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, user_id, start_hour, start_minute, end_hour, end_minute, active, created_at, updated_at FROM dose_windows WHERE id = $1`, id)
	return scanDoseWindowRow(row, id)
}

func (s *PostgresStore) ListDoseWindowsForUser(ctx context.Context, userID int64) ([]models.DoseWindow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, user_id, start_hour, start_minute, end_hour, end_minute, active, created_at, updated_at FROM dose_windows WHERE user_id = $1 ORDER BY id`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dose windows: %w", err)
	}
	defer rows.Close()
	return scanDoseWindows(rows)
}

func (s *PostgresStore) CreateMedication(ctx context.Context, m *models.Medication) error {
	err := s.db.QueryRowContext(ctx, `INSERT INTO medications (user_id, name, instructions) VALUES ($1, $2, $3) RETURNING id`,
		m.UserID, m.Name, m.Instructions).Scan(&m.ID)
	if err != nil {
		return fmt.Errorf("failed to insert medication: %w", err)
	}
	return nil
}

func (s *PostgresStore) LinkMedication(ctx context.Context, doseWindowID, medicationID int64) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO dose_window_medications (dose_window_id, medication_id) VALUES ($1, $2)`, doseWindowID, medicationID)
	if err != nil {
		return fmt.Errorf("failed to link medication %d to dose window %d: %w", medicationID, doseWindowID, err)
	}
	return nil
}

func (s *PostgresStore) MedicationsForDoseWindow(ctx context.Context, doseWindowID int64) ([]models.Medication, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, m.user_id, m.name, m.instructions FROM medications m
		 JOIN dose_window_medications dwm ON dwm.medication_id = m.id
		 WHERE dwm.dose_window_id = $1 ORDER BY m.id`, doseWindowID)
	if err != nil {
		return nil, fmt.Errorf("failed to query medications: %w", err)
	}
	defer rows.Close()
	return scanMedications(rows)
}

func (s *PostgresStore) AddEvent(ctx context.Context, e models.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, type, user_id, dose_window_id, medication_id, at, description) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.Type, e.UserID, nilIfZero(e.DoseWindowID), nilIfZero(e.MedicationID), e.At, nilIfEmpty(e.Description))
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	slog.Debug("PostgresStore AddEvent succeeded", "type", e.Type, "user_id", e.UserID)
	return nil
}

func (s *PostgresStore) EventsForUser(ctx context.Context, userID int64, types []models.EventType, from, to time.Time) ([]models.Event, error) {
	query, args := eventsQuery("$", userID, types, from, to)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *PostgresStore) LatestEvent(ctx context.Context, userID int64, types []models.EventType) (*models.Event, error) {
	query, args := latestEventQuery("$", userID, types)
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

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
