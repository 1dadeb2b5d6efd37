package streak

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/calma-app/calma/internal/models"
	"github.com/calma-app/calma/internal/store"
)

// Default number of synthetic history days seeded into an empty slot.
const defaultSeedDays = 2

// ManagerOption configures a streak Manager.
type ManagerOption func(*Manager)

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.now = now
	}
}

// WithSeedHistory enables or disables synthetic history seeding for absent or
// malformed slots.
func WithSeedHistory(enabled bool) ManagerOption {
	return func(m *Manager) {
		m.seedHistory = enabled
	}
}

// Manager owns the persisted check-in slot for each participant: a single
// JSON-encoded array of calendar-day strings, read at session start and
// overwritten whole on every new check-in.
type Manager struct {
	store       store.Store
	now         func() time.Time
	seedHistory bool
}

// NewManager creates a streak manager over the given store.
func NewManager(st store.Store, opts ...ManagerOption) *Manager {
	m := &Manager{store: st, now: time.Now, seedHistory: true}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Days loads the participant's check-in days. An absent or malformed slot is
// replaced with a synthetic short history ending yesterday when seeding is
// enabled, otherwise with an empty log.
func (m *Manager) Days(ctx context.Context, participantID string) ([]string, error) {
	payload, err := m.store.GetCheckInSlot(participantID)
	if err != nil {
		slog.Error("streak.Days: slot read failed", "error", err, "participantID", participantID)
		return nil, fmt.Errorf("%w: check-in slot read: %v", models.ErrPersistence, err)
	}

	if payload != "" {
		var days []string
		if err := json.Unmarshal([]byte(payload), &days); err == nil {
			return days, nil
		}
		slog.Warn("streak.Days: malformed slot payload, reseeding", "participantID", participantID)
	}

	days := m.seedDays()
	if err := m.save(participantID, days); err != nil {
		// Persistence failures leave the session with in-memory state only.
		slog.Error("streak.Days: seed write failed", "error", err, "participantID", participantID)
	}
	return days, nil
}

// RecordToday inserts the current calendar day into the log. Insertion is
// idempotent: recording twice on the same day has no additional effect.
func (m *Manager) RecordToday(ctx context.Context, participantID string) error {
	days, err := m.Days(ctx, participantID)
	if err != nil {
		return err
	}

	today := m.now().Format(DayFormat)
	for _, d := range days {
		if d == today {
			slog.Debug("streak.RecordToday: already recorded", "participantID", participantID, "day", today)
			return nil
		}
	}

	days = append(days, today)
	sort.Strings(days)
	if err := m.save(participantID, days); err != nil {
		slog.Error("streak.RecordToday: slot write failed", "error", err, "participantID", participantID)
		return fmt.Errorf("%w: check-in slot write: %v", models.ErrPersistence, err)
	}
	slog.Debug("streak.RecordToday: recorded", "participantID", participantID, "day", today, "total", len(days))
	return nil
}

// Metrics recomputes streak metrics from the persisted log.
func (m *Manager) Metrics(ctx context.Context, participantID string) (Metrics, error) {
	days, err := m.Days(ctx, participantID)
	if err != nil {
		return Metrics{}, err
	}
	return Compute(days, m.now()), nil
}

func (m *Manager) save(participantID string, days []string) error {
	payload, err := json.Marshal(days)
	if err != nil {
		return err
	}
	return m.store.SaveCheckInSlot(participantID, string(payload))
}

// seedDays builds the synthetic default history: the two days preceding
// today, so a first-time participant sees a live streak to keep.
func (m *Manager) seedDays() []string {
	if !m.seedHistory {
		return []string{}
	}
	now := m.now()
	days := make([]string, 0, defaultSeedDays)
	for i := defaultSeedDays; i >= 1; i-- {
		days = append(days, now.AddDate(0, 0, -i).Format(DayFormat))
	}
	return days
}
