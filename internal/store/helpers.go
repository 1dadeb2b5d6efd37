package store

import (
	"database/sql"
	"fmt"

	"github.com/calma-app/calma/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanAccount scans an Account from a single sql.Row, nil on no rows.
func scanAccount(row *sql.Row, key string) (*models.Account, error) {
	var a models.Account
	var passwordHash sql.NullString
	err := row.Scan(&a.ID, &a.Email, &passwordHash, &a.OAuth, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan account %s failed: %w", key, err)
	}
	a.PasswordHash = passwordHash.String
	return &a, nil
}
