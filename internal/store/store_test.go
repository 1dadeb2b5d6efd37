package store

import (
	"testing"
	"time"

	"github.com/calma-app/calma/internal/models"
)

func TestInMemoryFlowStateRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()
	state := models.FlowState{
		ParticipantID: "p_1",
		FlowType:      models.FlowTypeOnboarding,
		CurrentState:  models.StepConsent,
		StateData:     map[models.DataKey]string{models.DataKeyEmail: "ana@example.com"},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.SaveFlowState(state); err != nil {
		t.Fatalf("SaveFlowState failed: %v", err)
	}

	got, err := s.GetFlowState("p_1", string(models.FlowTypeOnboarding))
	if err != nil {
		t.Fatalf("GetFlowState failed: %v", err)
	}
	if got == nil || got.CurrentState != models.StepConsent {
		t.Fatalf("unexpected state: %+v", got)
	}

	// Mutating the returned map must not affect stored state.
	got.StateData[models.DataKeyEmail] = "other@example.com"
	again, _ := s.GetFlowState("p_1", string(models.FlowTypeOnboarding))
	if again.StateData[models.DataKeyEmail] != "ana@example.com" {
		t.Error("returned state data should be a copy")
	}

	if err := s.DeleteFlowState("p_1", string(models.FlowTypeOnboarding)); err != nil {
		t.Fatalf("DeleteFlowState failed: %v", err)
	}
	gone, _ := s.GetFlowState("p_1", string(models.FlowTypeOnboarding))
	if gone != nil {
		t.Error("expected nil after delete")
	}
}

func TestInMemoryGetFlowStateMissing(t *testing.T) {
	s := NewInMemoryStore()
	got, err := s.GetFlowState("nobody", string(models.FlowTypeChat))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing state, got %+v", got)
	}
}

func TestInMemoryAccounts(t *testing.T) {
	s := NewInMemoryStore()
	a := models.Account{ID: "acc-1", Email: "Leo@Example.com", PasswordHash: "hash", CreatedAt: time.Now()}
	if err := s.SaveAccount(a); err != nil {
		t.Fatalf("SaveAccount failed: %v", err)
	}

	byID, _ := s.GetAccount("acc-1")
	if byID == nil || byID.Email != "Leo@Example.com" {
		t.Fatalf("GetAccount returned %+v", byID)
	}

	// Email lookup is case-insensitive.
	byEmail, _ := s.GetAccountByEmail("leo@example.com")
	if byEmail == nil || byEmail.ID != "acc-1" {
		t.Fatalf("GetAccountByEmail returned %+v", byEmail)
	}

	missing, _ := s.GetAccountByEmail("nobody@example.com")
	if missing != nil {
		t.Error("expected nil for unknown email")
	}
}

func TestInMemoryCheckInSlot(t *testing.T) {
	s := NewInMemoryStore()
	payload, err := s.GetCheckInSlot("p_1")
	if err != nil || payload != "" {
		t.Fatalf("expected empty slot, got %q err %v", payload, err)
	}
	if err := s.SaveCheckInSlot("p_1", `["2026-08-27"]`); err != nil {
		t.Fatalf("SaveCheckInSlot failed: %v", err)
	}
	payload, _ = s.GetCheckInSlot("p_1")
	if payload != `["2026-08-27"]` {
		t.Errorf("unexpected payload %q", payload)
	}
	// Overwrite replaces the whole slot.
	if err := s.SaveCheckInSlot("p_1", `["2026-08-27","2026-08-28"]`); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}
	payload, _ = s.GetCheckInSlot("p_1")
	if payload != `["2026-08-27","2026-08-28"]` {
		t.Errorf("unexpected payload after overwrite %q", payload)
	}
}

func TestInMemoryVerificationCodes(t *testing.T) {
	s := NewInMemoryStore()
	now := time.Now()
	fresh := models.VerificationCode{Email: "ana@example.com", Code: "314159", IssuedAt: now, ExpiresAt: now.Add(10 * time.Minute)}
	stale := models.VerificationCode{Email: "leo@example.com", Code: "271828", IssuedAt: now.Add(-time.Hour), ExpiresAt: now.Add(-50 * time.Minute)}
	if err := s.SaveVerificationCode(fresh); err != nil {
		t.Fatalf("SaveVerificationCode failed: %v", err)
	}
	if err := s.SaveVerificationCode(stale); err != nil {
		t.Fatalf("SaveVerificationCode failed: %v", err)
	}

	removed, err := s.DeleteExpiredVerificationCodes(now)
	if err != nil {
		t.Fatalf("DeleteExpiredVerificationCodes failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 removal, got %d", removed)
	}

	kept, _ := s.GetVerificationCode("ana@example.com")
	if kept == nil || kept.Code != "314159" {
		t.Errorf("fresh code should survive sweep, got %+v", kept)
	}
	gone, _ := s.GetVerificationCode("leo@example.com")
	if gone != nil {
		t.Error("stale code should be removed")
	}

	if err := s.DeleteVerificationCode("ana@example.com"); err != nil {
		t.Fatalf("DeleteVerificationCode failed: %v", err)
	}
	gone, _ = s.GetVerificationCode("ana@example.com")
	if gone != nil {
		t.Error("code should be removed after delete")
	}
}

func TestNewSelectsBackend(t *testing.T) {
	st, err := New()
	if err != nil {
		t.Fatalf("New without DSN failed: %v", err)
	}
	if _, ok := st.(*InMemoryStore); !ok {
		t.Errorf("expected in-memory backend, got %T", st)
	}
}
