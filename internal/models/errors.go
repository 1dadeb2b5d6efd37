// Package models defines sentinel errors shared across components.
package models

import (
	"errors"
	"fmt"
)

// Error categories. Every failure surfaced by the core wraps exactly one of
// these, so callers can classify with errors.Is without inspecting messages.
var (
	// ErrValidation covers missing or invalid user input; the step does not change.
	ErrValidation = errors.New("validation failed")
	// ErrAuthCollaborator covers identity provider failures; the step does not change.
	ErrAuthCollaborator = errors.New("identity collaborator failed")
	// ErrExternalAPI covers conversational API failures; a local fallback reply is produced.
	ErrExternalAPI = errors.New("external API failed")
	// ErrPersistence covers storage failures; the session continues in memory.
	ErrPersistence = errors.New("persistence failed")
)

// Validation errors for the onboarding sequencer.
var (
	ErrAnswerRequired     = fmt.Errorf("%w: answer required before continuing", ErrValidation)
	ErrUnknownQuestion    = fmt.Errorf("%w: unknown question", ErrValidation)
	ErrEmailRequired      = fmt.Errorf("%w: email is required", ErrValidation)
	ErrInvalidEmail       = fmt.Errorf("%w: enter a valid email", ErrValidation)
	ErrEmailMismatch      = fmt.Errorf("%w: emails do not match", ErrValidation)
	ErrCodeLength         = fmt.Errorf("%w: verification code must be 6 digits", ErrValidation)
	ErrPasswordRequired   = fmt.Errorf("%w: password is required", ErrValidation)
	ErrPasswordTooShort   = fmt.Errorf("%w: password must be at least 8 characters", ErrValidation)
	ErrStepMismatch       = fmt.Errorf("%w: operation not allowed in current step", ErrValidation)
	ErrRetreatUnavailable = fmt.Errorf("%w: cannot go back from this step", ErrValidation)
	ErrEmptyMessage       = fmt.Errorf("%w: message is empty", ErrValidation)
)

// Identity collaborator errors.
var (
	ErrAccountExists      = fmt.Errorf("%w: account already exists", ErrAuthCollaborator)
	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrAuthCollaborator)
	ErrInvalidToken       = fmt.Errorf("%w: invalid or expired token", ErrAuthCollaborator)
	ErrCodeMismatch       = fmt.Errorf("%w: incorrect verification code", ErrAuthCollaborator)
	ErrCodeExpired        = fmt.Errorf("%w: verification code expired", ErrAuthCollaborator)
)

// Session errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrRequestInFlight = errors.New("a request for this session is already in flight")
)
