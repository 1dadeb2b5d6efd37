// Package store provides storage backends for Calma.
//
// This file implements a PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/calma-app/calma/internal/models"
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

// PostgresStore persists session state in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.NewPostgresStore: creating Postgres store", "DSN_set", cfg.DSN != "")
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

	// Configure connection pool for better performance
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run Postgres migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("Postgres migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// SaveFlowState stores or updates flow state for a participant.
func (s *PostgresStore) SaveFlowState(state models.FlowState) error {
	query := `
		INSERT INTO flow_states (participant_id, flow_type, current_state, state_data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (participant_id, flow_type) DO UPDATE
		SET current_state = EXCLUDED.current_state, state_data = EXCLUDED.state_data, updated_at = EXCLUDED.updated_at`

	stateDataJSON, err := marshalStateData(state.StateData)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState JSON marshal failed", "error", err, "participantID", state.ParticipantID)
		return err
	}

	_, err = s.db.Exec(query, state.ParticipantID, string(state.FlowType), string(state.CurrentState),
		nilIfEmpty(stateDataJSON), state.CreatedAt, state.UpdatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveFlowState failed", "error", err, "participantID", state.ParticipantID, "flowType", state.FlowType)
		return err
	}
	return nil
}

// GetFlowState retrieves flow state for a participant.
func (s *PostgresStore) GetFlowState(participantID, flowType string) (*models.FlowState, error) {
	query := `SELECT participant_id, flow_type, current_state, state_data, created_at, updated_at
			  FROM flow_states WHERE participant_id = $1 AND flow_type = $2`

	var state models.FlowState
	var stateDataJSON sql.NullString

	err := s.db.QueryRow(query, participantID, flowType).Scan(
		&state.ParticipantID, &state.FlowType, &state.CurrentState,
		&stateDataJSON, &state.CreatedAt, &state.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return nil, err
	}

	state.StateData = unmarshalStateData(stateDataJSON.String, participantID)
	return &state, nil
}

// DeleteFlowState removes flow state for a participant.
func (s *PostgresStore) DeleteFlowState(participantID, flowType string) error {
	_, err := s.db.Exec(`DELETE FROM flow_states WHERE participant_id = $1 AND flow_type = $2`, participantID, flowType)
	if err != nil {
		slog.Error("PostgresStore DeleteFlowState failed", "error", err, "participantID", participantID, "flowType", flowType)
		return err
	}
	return nil
}

// SaveAccount stores or replaces an account.
func (s *PostgresStore) SaveAccount(a models.Account) error {
	query := `
		INSERT INTO accounts (id, email, password_hash, oauth, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, password_hash = EXCLUDED.password_hash, oauth = EXCLUDED.oauth`
	_, err := s.db.Exec(query, a.ID, a.Email, nilIfEmpty(a.PasswordHash), a.OAuth, a.CreatedAt)
	if err != nil {
		slog.Error("PostgresStore SaveAccount failed", "error", err, "accountID", a.ID)
		return fmt.Errorf("failed to save account %s: %w", a.ID, err)
	}
	return nil
}

// GetAccount retrieves an account by id.
func (s *PostgresStore) GetAccount(id string) (*models.Account, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, oauth, created_at FROM accounts WHERE id = $1`, id)
	return scanAccount(row, id)
}

// GetAccountByEmail retrieves an account by email.
func (s *PostgresStore) GetAccountByEmail(email string) (*models.Account, error) {
	row := s.db.QueryRow(`SELECT id, email, password_hash, oauth, created_at FROM accounts WHERE lower(email) = lower($1)`, email)
	return scanAccount(row, email)
}

// GetCheckInSlot returns the stored check-in payload, empty when absent.
func (s *PostgresStore) GetCheckInSlot(participantID string) (string, error) {
	var payload string
	err := s.db.QueryRow(`SELECT payload FROM check_in_slots WHERE participant_id = $1`, participantID).Scan(&payload)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		slog.Error("PostgresStore GetCheckInSlot failed", "error", err, "participantID", participantID)
		return "", err
	}
	return payload, nil
}

// SaveCheckInSlot overwrites the check-in payload for a participant.
func (s *PostgresStore) SaveCheckInSlot(participantID, payload string) error {
	query := `
		INSERT INTO check_in_slots (participant_id, payload, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (participant_id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at`
	_, err := s.db.Exec(query, participantID, payload, time.Now())
	if err != nil {
		slog.Error("PostgresStore SaveCheckInSlot failed", "error", err, "participantID", participantID)
		return err
	}
	return nil
}

// SaveVerificationCode stores or replaces the pending code for an email.
func (s *PostgresStore) SaveVerificationCode(v models.VerificationCode) error {
	query := `
		INSERT INTO verification_codes (email, code, issued_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (email) DO UPDATE
		SET code = EXCLUDED.code, issued_at = EXCLUDED.issued_at, expires_at = EXCLUDED.expires_at`
	_, err := s.db.Exec(query, v.Email, v.Code, v.IssuedAt, v.ExpiresAt)
	if err != nil {
		slog.Error("PostgresStore SaveVerificationCode failed", "error", err, "email", v.Email)
		return err
	}
	return nil
}

// GetVerificationCode retrieves the pending code for an email.
func (s *PostgresStore) GetVerificationCode(email string) (*models.VerificationCode, error) {
	var v models.VerificationCode
	err := s.db.QueryRow(`SELECT email, code, issued_at, expires_at FROM verification_codes WHERE email = $1`, email).
		Scan(&v.Email, &v.Code, &v.IssuedAt, &v.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetVerificationCode failed", "error", err, "email", email)
		return nil, err
	}
	return &v, nil
}

// DeleteVerificationCode removes the pending code for an email.
func (s *PostgresStore) DeleteVerificationCode(email string) error {
	_, err := s.db.Exec(`DELETE FROM verification_codes WHERE email = $1`, email)
	if err != nil {
		slog.Error("PostgresStore DeleteVerificationCode failed", "error", err, "email", email)
		return err
	}
	return nil
}

// DeleteExpiredVerificationCodes removes codes past their expiry.
func (s *PostgresStore) DeleteExpiredVerificationCodes(now time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM verification_codes WHERE expires_at < $1`, now)
	if err != nil {
		slog.Error("PostgresStore DeleteExpiredVerificationCodes failed", "error", err)
		return 0, err
	}
	return res.RowsAffected()
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
