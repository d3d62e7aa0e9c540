package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/6peterlu/coherence-chat/internal/models"
)

// InMemoryStore is a mutex-guarded in-memory Store used by tests and
// single-process deployments without a database.
type InMemoryStore struct {
	mu          sync.RWMutex
	users       map[int64]models.User
	windows     map[int64]models.DoseWindow
	medications map[int64]models.Medication
	windowMeds  map[int64][]int64
	events      []models.Event
	nextID      int64
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		users:       make(map[int64]models.User),
		windows:     make(map[int64]models.DoseWindow),
		medications: make(map[int64]models.Medication),
		windowMeds:  make(map[int64][]int64),
	}
}

func (s *InMemoryStore) allocID() int64 {
	s.nextID++
	return s.nextID
}

func (s *InMemoryStore) GetUser(ctx context.Context, id int64) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	return &u, nil
}

func (s *InMemoryStore) GetUserByPhone(ctx context.Context, phone string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.PhoneNumber == phone {
			u := u
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user with phone %s: %w", phone, models.ErrNotFound)
}

func (s *InMemoryStore) ListUsers(ctx context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *InMemoryStore) CreateUser(ctx context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.allocID()
	}
	u.CreatedAt = time.Now()
	u.UpdatedAt = u.CreatedAt
	s.users[u.ID] = *u
	return nil
}

func (s *InMemoryStore) SetUserPaused(ctx context.Context, id int64, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("user %d: %w", id, models.ErrNotFound)
	}
	u.Paused = paused
	u.UpdatedAt = time.Now()
	s.users[id] = u
	return nil
}

func (s *InMemoryStore) CreateDoseWindow(ctx context.Context, w *models.DoseWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if w.ID == 0 {
		w.ID = s.allocID()
	}
	w.CreatedAt = time.Now()
	w.UpdatedAt = w.CreatedAt
	s.windows[w.ID] = *w
	return nil
}

func (s *InMemoryStore) UpdateDoseWindow(ctx context.Context, w *models.DoseWindow) error {
	if err := w.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[w.ID]; !ok {
		return fmt.Errorf("dose window %d: %w", w.ID, models.ErrNotFound)
	}
	w.UpdatedAt = time.Now()
	s.windows[w.ID] = *w
	return nil
}

func (s *InMemoryStore) SetDoseWindowActive(ctx context.Context, id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[id]
	if !ok {
		return fmt.Errorf("dose window %d: %w", id, models.ErrNotFound)
	}
	w.Active = active
	w.UpdatedAt = time.Now()
	s.windows[id] = w
	return nil
}

func (s *InMemoryStore) GetDoseWindow(ctx context.Context, id int64) (*models.DoseWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.windows[id]
	if !ok {
		return nil, fmt.Errorf("dose window %d: %w", id, models.ErrNotFound)
	}
	return &w, nil
}

func (s *InMemoryStore) ListDoseWindowsForUser(ctx context.Context, userID int64) ([]models.DoseWindow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var windows []models.DoseWindow
	for _, w := range s.windows {
		if w.UserID == userID {
			windows = append(windows, w)
		}
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].ID < windows[j].ID })
	return windows, nil
}

func (s *InMemoryStore) CreateMedication(ctx context.Context, m *models.Medication) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == 0 {
		m.ID = s.allocID()
	}
	s.medications[m.ID] = *m
	return nil
}

func (s *InMemoryStore) LinkMedication(ctx context.Context, doseWindowID, medicationID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.windows[doseWindowID]; !ok {
		return fmt.Errorf("dose window %d: %w", doseWindowID, models.ErrNotFound)
	}
	if _, ok := s.medications[medicationID]; !ok {
		return fmt.Errorf("medication %d: %w", medicationID, models.ErrNotFound)
	}
	s.windowMeds[doseWindowID] = append(s.windowMeds[doseWindowID], medicationID)
	return nil
}

func (s *InMemoryStore) MedicationsForDoseWindow(ctx context.Context, doseWindowID int64) ([]models.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var meds []models.Medication
	for _, id := range s.windowMeds[doseWindowID] {
		if m, ok := s.medications[id]; ok {
			meds = append(meds, m)
		}
	}
	return meds, nil
}

func (s *InMemoryStore) AddEvent(ctx context.Context, e models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *InMemoryStore) EventsForUser(ctx context.Context, userID int64, types []models.EventType, from, to time.Time) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, e := range s.events {
		if e.UserID != userID {
			continue
		}
		if !from.IsZero() && e.At.Before(from) {
			continue
		}
		if !to.IsZero() && !e.At.Before(to) {
			continue
		}
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *InMemoryStore) LatestEvent(ctx context.Context, userID int64, types []models.EventType) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *models.Event
	for i := range s.events {
		e := &s.events[i]
		if e.UserID != userID {
			continue
		}
		if len(types) > 0 && !containsType(types, e.Type) {
			continue
		}
		if latest == nil || e.At.After(latest.At) {
			latest = e
		}
	}
	if latest == nil {
		return nil, models.ErrNotFound
	}
	out := *latest
	return &out, nil
}

func containsType(types []models.EventType, t models.EventType) bool {
	for _, tt := range types {
		if tt == t {
			return true
		}
	}
	return false
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error { return nil }
