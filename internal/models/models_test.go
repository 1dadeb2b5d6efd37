package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestAnswerValueJSONString(t *testing.T) {
	set := AnswerSet{"q1": TextAnswer("Ana"), "q5": MultiAnswer("Trabajo", "Salud")}
	data, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var decoded AnswerSet
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded["q1"].Text != "Ana" || decoded["q1"].Multi {
		t.Errorf("single answer not preserved: %+v", decoded["q1"])
	}
	if !decoded["q5"].Multi || len(decoded["q5"].Choices) != 2 || decoded["q5"].Choices[0] != "Trabajo" {
		t.Errorf("multi answer not preserved in order: %+v", decoded["q5"])
	}
}

func TestAnswerValueIsEmpty(t *testing.T) {
	cases := []struct {
		name  string
		value AnswerValue
		empty bool
	}{
		{"empty text", TextAnswer(""), true},
		{"text", TextAnswer("hola"), false},
		{"empty multi", MultiAnswer(), true},
		{"multi", MultiAnswer("Trabajo"), false},
	}
	for _, c := range cases {
		if got := c.value.IsEmpty(); got != c.empty {
			t.Errorf("%s: IsEmpty() = %v, want %v", c.name, got, c.empty)
		}
	}
}

func TestAnswerValueUnmarshalRejectsObjects(t *testing.T) {
	var v AnswerValue
	if err := json.Unmarshal([]byte(`{"bad":"shape"}`), &v); err == nil {
		t.Error("expected error for object-shaped answer value")
	}
}

func TestErrorCategories(t *testing.T) {
	if !errors.Is(ErrEmailMismatch, ErrValidation) {
		t.Error("ErrEmailMismatch should be a validation error")
	}
	if !errors.Is(ErrCodeMismatch, ErrAuthCollaborator) {
		t.Error("ErrCodeMismatch should be an auth collaborator error")
	}
	if errors.Is(ErrCodeLength, ErrAuthCollaborator) {
		t.Error("ErrCodeLength is input validation, not a collaborator failure")
	}
}

func TestTranscriptVisibleFiltersSystem(t *testing.T) {
	tr := Transcript{Messages: []Message{
		{ID: 1, Role: RoleSystem, Content: "hidden"},
		{ID: 2, Role: RoleAssistant, Content: "hola"},
		{ID: 3, Role: RoleUser, Content: "buenas"},
	}}
	visible := tr.Visible()
	if len(visible) != 2 {
		t.Fatalf("expected 2 visible messages, got %d", len(visible))
	}
	if visible[0].ID != 2 || visible[1].ID != 3 {
		t.Errorf("visible order wrong: %+v", visible)
	}
}
