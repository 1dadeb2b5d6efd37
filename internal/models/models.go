// Package models defines the core data structures for Calma.
//
// It includes types for quiz answers, chat transcripts, accounts, and
// verification codes, which are shared across modules.
package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// QuestionKind defines how a quiz question is answered.
type QuestionKind string

const (
	// QuestionKindText expects a free-text answer.
	QuestionKindText QuestionKind = "text"
	// QuestionKindSingle expects exactly one of the listed options.
	QuestionKindSingle QuestionKind = "single"
	// QuestionKindMulti expects one or more of the listed options.
	QuestionKindMulti QuestionKind = "multi"
)

// QuizQuestion describes one onboarding questionnaire entry.
type QuizQuestion struct {
	ID          string       `yaml:"id" json:"id"`
	Prompt      string       `yaml:"prompt" json:"prompt"`
	Kind        QuestionKind `yaml:"kind" json:"kind"`
	Options     []string     `yaml:"options,omitempty" json:"options,omitempty"`
	Placeholder string       `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`
}

// AnswerValue holds a single quiz answer: either free text / a single choice,
// or an ordered set of choices for multi-select questions.
type AnswerValue struct {
	Text    string
	Choices []string
	Multi   bool
}

// TextAnswer builds a single-valued answer.
func TextAnswer(text string) AnswerValue {
	return AnswerValue{Text: text}
}

// MultiAnswer builds a multi-select answer preserving option order.
func MultiAnswer(choices ...string) AnswerValue {
	return AnswerValue{Choices: choices, Multi: true}
}

// IsEmpty reports whether the answer is absent for validation purposes.
func (v AnswerValue) IsEmpty() bool {
	if v.Multi {
		return len(v.Choices) == 0
	}
	return v.Text == ""
}

// String renders the answer for display and context assembly.
func (v AnswerValue) String() string {
	if v.Multi {
		out := ""
		for i, c := range v.Choices {
			if i > 0 {
				out += ", "
			}
			out += c
		}
		return out
	}
	return v.Text
}

// MarshalJSON encodes single answers as a JSON string and multi-select
// answers as a JSON array, matching the wire shape of the answer set.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	if v.Multi {
		return json.Marshal(v.Choices)
	}
	return json.Marshal(v.Text)
}

// UnmarshalJSON accepts either a JSON string or a JSON array of strings.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*v = AnswerValue{Text: text}
		return nil
	}
	var choices []string
	if err := json.Unmarshal(data, &choices); err != nil {
		return fmt.Errorf("answer value must be a string or an array of strings: %w", err)
	}
	*v = AnswerValue{Choices: choices, Multi: true}
	return nil
}

// AnswerSet maps question identifiers to answers. Keys are unique; entries
// are only ever overwritten, never deleted.
type AnswerSet map[string]AnswerValue

// MessageRole identifies the author of a transcript message.
type MessageRole string

const (
	// RoleUser marks a participant message.
	RoleUser MessageRole = "user"
	// RoleAssistant marks a generated (or fallback) reply.
	RoleAssistant MessageRole = "assistant"
	// RoleSystem marks hidden context never rendered to the participant.
	RoleSystem MessageRole = "system"
)

// Message is a single transcript entry.
type Message struct {
	ID        int64       `json:"id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// Transcript is the append-only conversation history for a chat session.
type Transcript struct {
	Messages []Message `json:"messages"`
}

// Visible returns the transcript without hidden system entries.
func (t Transcript) Visible() []Message {
	out := make([]Message, 0, len(t.Messages))
	for _, m := range t.Messages {
		if m.Role == RoleSystem {
			continue
		}
		out = append(out, m)
	}
	return out
}

// Account is a registered identity.
type Account struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	OAuth        bool      `json:"oauth"`
	CreatedAt    time.Time `json:"created_at"`
}

// TokenPair mirrors the token response issued on login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// VerificationCode is a pending email verification code.
type VerificationCode struct {
	Email     string    `json:"email"`
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// API response types for consistent JSON responses.

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
)

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Result: result}
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return APIResponse{Status: string(APIStatusOK), Message: message, Result: result}
}

// Error creates an error API response with the given message.
func Error(message string) APIResponse {
	return APIResponse{Status: string(APIStatusError), Message: message}
}
