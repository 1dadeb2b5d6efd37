// Package store provides storage backends for Calma.
//
// This file implements an SQLite-backed store.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "embed"

	"github.com/calma-app/calma/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists session state in a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
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

	// Ensure the directory exists
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

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// SaveFlowState stores or updates flow state for a participant.
func (s *SQLiteStore) SaveFlowState(state models.FlowState) error {
	query := `
		INSERT OR REPLACE INTO flow_states (participant_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	stateDataJSON, err := marshalStateData(state.StateData)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState JSON marshal failed", "error", err, "participantID", state.ParticipantID)
		return err
	}

	_, err = s.db.Exec(query, state.ParticipantID, string(state.FlowType), string(state.CurrentState),
		stateDataJSON, state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveFlowState failed", "error", err, "participantID", state.ParticipantID, "flowType", state.FlowType)
		return err
	}
	slog.Debug("SQLiteStore SaveFlowState succeeded", "participantID", state.ParticipantID, "flowType", state.FlowType, "state", state.CurrentState)
	return nil
}

// GetFlowState retrieves flow state for a participant.
func (s *SQLiteStore) GetFlowState(participantID, flowType string) (*models.FlowState, error) {
	query := `SELECT participant_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE participant_id = ? AND flow_type = ?`

	var state models.FlowState
	var stateDataJSON sql.NullString

	err := s.db.QueryRow(query, participantID, flowType).Scan(
		&state.ParticipantID, &state.FlowType, &state.CurrentState,
		&stateDataJSON, &state.CreatedAt, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetFlowState not found", "participantID", participantID, "flowType", flowType)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return nil, err
	}

	state.StateData = unmarshalStateData(stateDataJSON.String, participantID)
	slog.Debug("SQLiteStore GetFlowState found", "participantID", participantID, "flowType", flowType, "state", state.CurrentState)
	return &state, nil
}

// DeleteFlowState removes flow state for a participant.
func (s *SQLiteStore) DeleteFlowState(participantID, flowType string) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE participant_id = ? AND flow_type = ?`, participantID, flowType)
	if err != nil {
		slog.Error("SQLiteStore DeleteFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return err
	}
	return nil
}

// SaveAccount stores or replaces an account.
func (s *SQLiteStore) SaveAccount(a models.Account) error {
	query := `
		INSERT OR REPLACE INTO accounts (id, email, password_hash, oauth, created_at)
		VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.Exec(query, a.ID, a.Email, nilIfEmpty(a.PasswordHash), a.OAuth, a.CreatedAt)
	if err != nil {
		slog.Error("SQLiteStore SaveAccount failed", "error", err, "accountID", a.ID)
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by id.
func (s *SQLiteStore) GetAccount(id string) (*models.Account, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, oauth, created_at FROM accounts WHERE id = ?`, id)
	return scanAccount(row, id)
}

// GetAccountByEmail retrieves an account by email.
func (s *SQLiteStore) GetAccountByEmail(email string) (*models.Account, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, oauth, created_at FROM accounts WHERE email = ? COLLATE NOCASE`, email)
	return scanAccount(row, email)
}

// GetCheckInSlot returns the stored check-in payload, empty when absent.
func (s *SQLiteStore) GetCheckInSlot(participantID string) (string, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM check_in_slots WHERE participant_id = ?`, participantID).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetCheckInSlot failed", "error", err, "participantID", participantID)
		return "", err
	}
	return payload, nil
}

// SaveCheckInSlot overwrites the check-in payload for a participant.
func (s *SQLiteStore) SaveCheckInSlot(participantID, payload string) error {
	query := `
		INSERT OR REPLACE INTO check_in_slots (participant_id, payload, updated_at)
		VALUES (?, ?, ?)`
	_, err := s.db.Exec(query, participantID, payload, time.Now())
	if err != nil {
		slog.Error("SQLiteStore SaveCheckInSlot failed", "error", err, "participantID", participantID)
		return err
	}
	return nil
}

// SaveVerificationCode stores or replaces the pending code for an email.
func (s *SQLiteStore) SaveVerificationCode(v models.VerificationCode) error {
	query := `
		INSERT OR REPLACE INTO verification_codes (email, code, issued_at, expires_at)
		VALUES (?, ?, ?, ?)`
	_, err := s.db.Exec(query, v.Email, v.Code, v.IssuedAt, v.ExpiresAt)
	if err != nil {
		slog.Error("SQLiteStore SaveVerificationCode failed", "error", err, "email", v.Email)
		return err
	}
	return nil
}

// GetVerificationCode retrieves the pending code for an email.
func (s *SQLiteStore) GetVerificationCode(email string) (*models.VerificationCode, error) {
	var v models.VerificationCode
	err := s.db.QueryRow(`SELECT email, code, issued_at, expires_at FROM verification_codes WHERE email = ?`, email).
		Scan(&v.Email, &v.Code, &v.IssuedAt, &v.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetVerificationCode failed", "error", err, "email", email)
		return nil, err
	}
	return &v, nil
}

// DeleteVerificationCode removes the pending code for an email.
func (s *SQLiteStore) DeleteVerificationCode(email string) error {
	_, err := s.db.Exec(`DELETE FROM verification_codes WHERE email = ?`, email)
	if err != nil {
		slog.Error("SQLiteStore DeleteVerificationCode failed", "error", err, "email", email)
		return err
	}
	return nil
}

// DeleteExpiredVerificationCodes removes codes past their expiry.
func (s *SQLiteStore) DeleteExpiredVerificationCodes(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM verification_codes WHERE expires_at < ?`, now)
	if err != nil {
		slog.Error("SQLiteStore DeleteExpiredVerificationCodes failed", "error", err)
		return 0, err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.Debug("SQLiteStore DeleteExpiredVerificationCodes removed codes", "count", removed)
	}
	return removed, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// marshalStateData converts a state data map to its JSON column value.
func marshalStateData(data map[models.DataKey]string) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	return string(jsonBytes), nil
}

// unmarshalStateData converts the JSON column value back to a map. Malformed
// payloads yield an empty map rather than a failure.
func unmarshalStateData(raw, participantID string) map[models.DataKey]string {
	data := make(map[models.DataKey]string)
	if raw == "" {
		return data
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		slog.Error("store: state data JSON unmarshal failed", "error", err, "participantID", participantID)
		return make(map[models.DataKey]string)
	}
	return data
}
