package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/6peterlu/coherence-chat/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// nilIfZero returns nil if id is zero, otherwise returns id.
// Used for nullable foreign key columns.
func nilIfZero(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

// requireRowAffected converts a zero-row UPDATE into ErrNotFound.
func requireRowAffected(res sql.Result, kind string, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", kind, id, models.ErrNotFound)
	}
	return nil
}

func scanUserRow(row *sql.Row, id int64) (*models.User, error) {
	var u models.User
	var name sql.NullString
	err := row.Scan(&u.ID, &u.PhoneNumber, &name, &u.Timezone, &u.Paused, &u.ManualTakeover, &u.CreatedAt, &u.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan user failed: %w", err)
	}
	u.Name = name.String
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		var u models.User
		var name sql.NullString
		if err := rows.Scan(&u.ID, &u.PhoneNumber, &name, &u.Timezone, &u.Paused, &u.ManualTakeover, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user row failed: %w", err)
		}
		u.Name = name.String
		users = append(users, u)
	}
	return users, rows.Err()
}

func scanDoseWindowRow(row *sql.Row, id int64) (*models.DoseWindow, error) {
	var w models.DoseWindow
	err := row.Scan(&w.ID, &w.UserID, &w.StartHour, &w.StartMinute, &w.EndHour, &w.EndMinute, &w.Active, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("dose window %d: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan dose window failed: %w", err)
	}
	return &w, nil
}

func scanDoseWindows(rows *sql.Rows) ([]models.DoseWindow, error) {
	var windows []models.DoseWindow
	for rows.Next() {
		var w models.DoseWindow
		if err := rows.Scan(&w.ID, &w.UserID, &w.StartHour, &w.StartMinute, &w.EndHour, &w.EndMinute, &w.Active, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan dose window row failed: %w", err)
		}
		windows = append(windows, w)
	}
	return windows, rows.Err()
}

func scanMedications(rows *sql.Rows) ([]models.Medication, error) {
	var meds []models.Medication
	for rows.Next() {
		var m models.Medication
		var instructions sql.NullString
		if err := rows.Scan(&m.ID, &m.UserID, &m.Name, &instructions); err != nil {
			return nil, fmt.Errorf("scan medication row failed: %w", err)
		}
		m.Instructions = instructions.String
		meds = append(meds, m)
	}
	return meds, rows.Err()
}

func scanEvents(rows *sql.Rows) ([]models.Event, error) {
	var events []models.Event
	for rows.Next() {
		var e models.Event
		var doseWindowID, medicationID sql.NullInt64
		var description sql.NullString
		if err := rows.Scan(&e.ID, &e.Type, &e.UserID, &doseWindowID, &medicationID, &e.At, &description); err != nil {
			return nil, fmt.Errorf("scan event row failed: %w", err)
		}
		e.DoseWindowID = doseWindowID.Int64
		e.MedicationID = medicationID.Int64
		e.Description = description.String
		events = append(events, e)
	}
	return events, rows.Err()
}

// eventsQuery builds the filtered event query for either placeholder style
// ("?" for SQLite, "$" for Postgres).
func eventsQuery(style string, userID int64, types []models.EventType, from, to time.Time) (string, []interface{}) {
	var sb strings.Builder
	var args []interface{}
	ph := func() string {
		args = append(args, nil) // placeholder slot, value set by caller below
		if style == "$" {
			return fmt.Sprintf("$%d", len(args))
		}
		return "?"
	}
	add := func(v interface{}) string {
		p := ph()
		args[len(args)-1] = v
		return p
	}

	sb.WriteString(`SELECT id, type, user_id, dose_window_id, medication_id, at, description FROM events WHERE user_id = `)
	sb.WriteString(add(userID))
	if len(types) > 0 {
		sb.WriteString(" AND type IN (")
		for i, t := range types {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(add(string(t)))
		}
		sb.WriteString(")")
	}
	if !from.IsZero() {
		sb.WriteString(" AND at >= ")
		sb.WriteString(add(from))
	}
	if !to.IsZero() {
		sb.WriteString(" AND at < ")
		sb.WriteString(add(to))
	}
	sb.WriteString(" ORDER BY at")
	return sb.String(), args
}

// latestEventQuery narrows eventsQuery to the single most recent row.
func latestEventQuery(style string, userID int64, types []models.EventType) (string, []interface{}) {
	query, args := eventsQuery(style, userID, types, time.Time{}, time.Time{})
	return query + " DESC LIMIT 1", args
}
