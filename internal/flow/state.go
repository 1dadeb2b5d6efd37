// Package flow implements the onboarding sequencer and the chat session
// context assembler, both driving their state through a shared StateManager.
package flow

import (
	"context"

	"github.com/calma-app/calma/internal/models"
)

// StateManager manages per-participant flow state.
type StateManager interface {
	// GetCurrentState retrieves the current state for a participant in a flow.
	GetCurrentState(ctx context.Context, participantID string, flowType models.FlowType) (models.StateType, error)

	// SetCurrentState updates the current state for a participant in a flow.
	SetCurrentState(ctx context.Context, participantID string, flowType models.FlowType, state models.StateType) error

	// GetStateData retrieves additional data associated with the participant's state.
	GetStateData(ctx context.Context, participantID string, flowType models.FlowType, key models.DataKey) (string, error)

	// SetStateData stores additional data associated with the participant's state.
	SetStateData(ctx context.Context, participantID string, flowType models.FlowType, key models.DataKey, value string) error

	// TransitionState moves from one state to another, verifying the current state first.
	TransitionState(ctx context.Context, participantID string, flowType models.FlowType, fromState, toState models.StateType) error

	// ResetState removes all state data for a participant in a flow.
	ResetState(ctx context.Context, participantID string, flowType models.FlowType) error
}
