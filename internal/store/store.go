// Package store provides storage backends for Calma.
//
// It includes an in-memory store for tests and development, plus SQLite and
// PostgreSQL backed stores for persistent deployments.
package store

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/calma-app/calma/internal/models"
)

// Opts holds configuration options for store backends.
type Opts struct {
	DSN string // database connection string or SQLite file path
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithDSN sets the database connection string.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// Store defines the persistence operations shared by all backends.
type Store interface {
	// Flow state per (participant, flow type).
	SaveFlowState(state models.FlowState) error
	GetFlowState(participantID, flowType string) (*models.FlowState, error)
	DeleteFlowState(participantID, flowType string) error

	// Registered accounts.
	SaveAccount(a models.Account) error
	GetAccount(id string) (*models.Account, error)
	GetAccountByEmail(email string) (*models.Account, error)

	// Check-in slot: one JSON payload per participant, overwritten whole.
	GetCheckInSlot(participantID string) (string, error)
	SaveCheckInSlot(participantID, payload string) error

	// Pending email verification codes, keyed by email.
	SaveVerificationCode(v models.VerificationCode) error
	GetVerificationCode(email string) (*models.VerificationCode, error)
	DeleteVerificationCode(email string) error
	DeleteExpiredVerificationCodes(now time.Time) (int64, error)

	Close() error
}

// New builds a store from the configured DSN: PostgreSQL for postgres:// style
// connection strings, SQLite for file paths, in-memory when no DSN is set.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		return NewInMemoryStore(), nil
	}
	if strings.HasPrefix(cfg.DSN, "postgres://") || strings.HasPrefix(cfg.DSN, "postgresql://") || strings.Contains(cfg.DSN, "host=") {
		return NewPostgresStore(opts...)
	}
	return NewSQLiteStore(opts...)
}

// InMemoryStore is a mutex-guarded map-backed store.
type InMemoryStore struct {
	mu              sync.RWMutex
	flowStates      map[string]models.FlowState
	accounts        map[string]models.Account
	accountsByEmail map[string]string
	checkInSlots    map[string]string
	codes           map[string]models.VerificationCode
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		flowStates:      make(map[string]models.FlowState),
		accounts:        make(map[string]models.Account),
		accountsByEmail: make(map[string]string),
		checkInSlots:    make(map[string]string),
		codes:           make(map[string]models.VerificationCode),
	}
}

func flowKey(participantID, flowType string) string {
	return participantID + "|" + flowType
}

// SaveFlowState stores or replaces flow state for a participant.
func (s *InMemoryStore) SaveFlowState(state models.FlowState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flowStates[flowKey(state.ParticipantID, string(state.FlowType))] = state
	return nil
}

// GetFlowState retrieves flow state for a participant, nil when absent.
func (s *InMemoryStore) GetFlowState(participantID, flowType string) (*models.FlowState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.flowStates[flowKey(participantID, flowType)]
	if !ok {
		return nil, nil
	}
	// Copy the state data map so callers cannot mutate stored state.
	copied := state
	if state.StateData != nil {
		copied.StateData = make(map[models.DataKey]string, len(state.StateData))
		for k, v := range state.StateData {
			copied.StateData[k] = v
		}
	}
	return &copied, nil
}

// DeleteFlowState removes flow state for a participant.
func (s *InMemoryStore) DeleteFlowState(participantID, flowType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.flowStates, flowKey(participantID, flowType))
	return nil
}

// SaveAccount stores or replaces an account.
func (s *InMemoryStore) SaveAccount(a models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[a.ID] = a
	s.accountsByEmail[strings.ToLower(a.Email)] = a.ID
	return nil
}

// GetAccount retrieves an account by id, nil when absent.
func (s *InMemoryStore) GetAccount(id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.accounts[id]
	if !ok {
		return nil, nil
	}
	return &a, nil
}

// GetAccountByEmail retrieves an account by email, nil when absent.
func (s *InMemoryStore) GetAccountByEmail(email string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.accountsByEmail[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	a := s.accounts[id]
	return &a, nil
}

// GetCheckInSlot returns the stored check-in payload, empty when absent.
func (s *InMemoryStore) GetCheckInSlot(participantID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.checkInSlots[participantID], nil
}

// SaveCheckInSlot overwrites the check-in payload for a participant.
func (s *InMemoryStore) SaveCheckInSlot(participantID, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkInSlots[participantID] = payload
	return nil
}

// SaveVerificationCode stores or replaces the pending code for an email.
func (s *InMemoryStore) SaveVerificationCode(v models.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[strings.ToLower(v.Email)] = v
	return nil
}

// GetVerificationCode retrieves the pending code for an email, nil when absent.
func (s *InMemoryStore) GetVerificationCode(email string) (*models.VerificationCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.codes[strings.ToLower(email)]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

// DeleteVerificationCode removes the pending code for an email.
func (s *InMemoryStore) DeleteVerificationCode(email string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, strings.ToLower(email))
	return nil
}

// DeleteExpiredVerificationCodes removes codes past their expiry.
func (s *InMemoryStore) DeleteExpiredVerificationCodes(now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	var expired []string
	for email, v := range s.codes {
		if v.ExpiresAt.Before(now) {
			expired = append(expired, email)
		}
	}
	sort.Strings(expired)
	for _, email := range expired {
		delete(s.codes, email)
		removed++
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
