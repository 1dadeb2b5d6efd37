package flow

import (
	"github.com/calma-app/calma/internal/store"
)

// NewMockStateManager creates an in-memory state manager for testing.
func NewMockStateManager() StateManager {
	return NewStoreBasedStateManager(store.NewInMemoryStore())
}
