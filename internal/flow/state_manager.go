package flow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/calma-app/calma/internal/models"
	"github.com/calma-app/calma/internal/store"
)

// StoreBasedStateManager implements StateManager on top of a Store backend.
type StoreBasedStateManager struct {
	store store.Store
}

// NewStoreBasedStateManager creates a StateManager backed by the given store.
func NewStoreBasedStateManager(st store.Store) *StoreBasedStateManager {
	return &StoreBasedStateManager{store: st}
}

// GetCurrentState retrieves the current state for a participant in a flow.
// A participant with no recorded state yields the empty state and no error.
func (sm *StoreBasedStateManager) GetCurrentState(ctx context.Context, participantID string, flowType models.FlowType) (models.StateType, error) {
	flowState, err := sm.store.GetFlowState(participantID, string(flowType))
	if err != nil {
		slog.Error("StateManager.GetCurrentState: load failed", "error", err, "participantID", participantID, "flowType", flowType)
		return "", fmt.Errorf("%w: flow state load: %v", models.ErrPersistence, err)
	}
	if flowState == nil {
		return "", nil
	}
	return flowState.CurrentState, nil
}

// SetCurrentState updates the current state, creating the flow state record
// on first use.
func (sm *StoreBasedStateManager) SetCurrentState(ctx context.Context, participantID string, flowType models.FlowType, state models.StateType) error {
	flowState, err := sm.store.GetFlowState(participantID, string(flowType))
	if err != nil {
		slog.Error("StateManager.SetCurrentState: load failed", "error", err, "participantID", participantID, "flowType", flowType)
		return fmt.Errorf("%w: flow state load: %v", models.ErrPersistence, err)
	}

	now := time.Now()
	if flowState == nil {
		flowState = &models.FlowState{
			ParticipantID: participantID,
			FlowType:      flowType,
			CurrentState:  state,
			StateData:     make(map[models.DataKey]string),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	} else {
		flowState.CurrentState = state
		flowState.UpdatedAt = now
	}

	if err := sm.store.SaveFlowState(*flowState); err != nil {
		slog.Error("StateManager.SetCurrentState: save failed", "error", err, "participantID", participantID, "flowType", flowType, "state", state)
		return fmt.Errorf("%w: flow state save: %v", models.ErrPersistence, err)
	}
	slog.Debug("StateManager.SetCurrentState: state updated", "participantID", participantID, "flowType", flowType, "state", state)
	return nil
}

// GetStateData retrieves a state-data value. Missing keys yield the empty
// string and no error.
func (sm *StoreBasedStateManager) GetStateData(ctx context.Context, participantID string, flowType models.FlowType, key models.DataKey) (string, error) {
	flowState, err := sm.store.GetFlowState(participantID, string(flowType))
	if err != nil {
		slog.Error("StateManager.GetStateData: load failed", "error", err, "participantID", participantID, "flowType", flowType, "key", key)
		return "", fmt.Errorf("%w: flow state load: %v", models.ErrPersistence, err)
	}
	if flowState == nil || flowState.StateData == nil {
		return "", nil
	}
	return flowState.StateData[key], nil
}

// SetStateData stores a state-data value, creating the flow state record on
// first use (with an empty current state).
func (sm *StoreBasedStateManager) SetStateData(ctx context.Context, participantID string, flowType models.FlowType, key models.DataKey, value string) error {
	flowState, err := sm.store.GetFlowState(participantID, string(flowType))
	if err != nil {
		slog.Error("StateManager.SetStateData: load failed", "error", err, "participantID", participantID, "flowType", flowType, "key", key)
		return fmt.Errorf("%w: flow state load: %v", models.ErrPersistence, err)
	}

	now := time.Now()
	if flowState == nil {
		flowState = &models.FlowState{
			ParticipantID: participantID,
			FlowType:      flowType,
			StateData:     map[models.DataKey]string{key: value},
			CreatedAt:     now,
			UpdatedAt:     now,
		}
	} else {
		if flowState.StateData == nil {
			flowState.StateData = make(map[models.DataKey]string)
		}
		flowState.StateData[key] = value
		flowState.UpdatedAt = now
	}

	if err := sm.store.SaveFlowState(*flowState); err != nil {
		slog.Error("StateManager.SetStateData: save failed", "error", err, "participantID", participantID, "flowType", flowType, "key", key)
		return fmt.Errorf("%w: flow state save: %v", models.ErrPersistence, err)
	}
	return nil
}

// TransitionState moves the participant from fromState to toState, failing
// when the current state does not match the expected one.
func (sm *StoreBasedStateManager) TransitionState(ctx context.Context, participantID string, flowType models.FlowType, fromState, toState models.StateType) error {
	currentState, err := sm.GetCurrentState(ctx, participantID, flowType)
	if err != nil {
		return err
	}
	if currentState != fromState {
		slog.Error("StateManager.TransitionState: unexpected current state", "participantID", participantID, "flowType", flowType, "expected", fromState, "current", currentState)
		return fmt.Errorf("invalid state transition: expected %s, current is %s", fromState, currentState)
	}
	if err := sm.SetCurrentState(ctx, participantID, flowType, toState); err != nil {
		return err
	}
	slog.Info("StateManager.TransitionState: transitioned", "participantID", participantID, "flowType", flowType, "from", fromState, "to", toState)
	return nil
}

// ResetState removes all state for a participant in a flow.
func (sm *StoreBasedStateManager) ResetState(ctx context.Context, participantID string, flowType models.FlowType) error {
	if err := sm.store.DeleteFlowState(participantID, string(flowType)); err != nil {
		slog.Error("StateManager.ResetState: delete failed", "error", err, "participantID", participantID, "flowType", flowType)
		return fmt.Errorf("%w: flow state delete: %v", models.ErrPersistence, err)
	}
	slog.Debug("StateManager.ResetState: state cleared", "participantID", participantID, "flowType", flowType)
	return nil
}
