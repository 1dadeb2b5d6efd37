// Package models defines flow type definitions to avoid circular imports.
package models

// FlowType represents a specific type of session flow
type FlowType string

// StateType represents a specific state within a flow
type StateType string

// DataKey represents a key for storing state-specific data
type DataKey string

// EngagementMode represents the interaction style chosen for a chat session
type EngagementMode string

// Flow type constants.
const (
	FlowTypeOnboarding FlowType = "onboarding"
	FlowTypeChat       FlowType = "chat"
)

// State constants for the onboarding flow. Question steps are dynamic: each
// question contributes a state whose value is the question identifier (q1,
// q2, ...), ordered between StepConsent and StepEmail.
const (
	StepConsent      StateType = "consent"
	StepEmail        StateType = "email"
	StepConfirmEmail StateType = "confirm-email"
	StepVerify       StateType = "verify"
	StepPassword     StateType = "password"
	StepComplete     StateType = "complete"
)

// State constants for the chat flow.
const (
	StateChatActive StateType = "CHAT_ACTIVE"
)

// Engagement mode constants. ModeUnset is the zero value: no mode has been
// chosen since the last menu reset.
const (
	ModeUnset           EngagementMode = ""
	ModeFreeTalk        EngagementMode = "free-talk"
	ModeGuidedExercise  EngagementMode = "guided-exercise"
	ModePracticalAdvice EngagementMode = "practical-advice"
)

// Data key constants for the onboarding flow.
const (
	DataKeyAnswers       DataKey = "answers"       // AnswerSet serialized as JSON
	DataKeyEmail         DataKey = "email"         // submitted email address
	DataKeyAccountID     DataKey = "accountID"     // identity collaborator account id
	DataKeyAuthenticated DataKey = "authenticated" // "true" once an authenticated identity exists
)

// Data key constants for the chat flow.
const (
	DataKeyTranscript     DataKey = "transcript"     // Transcript serialized as JSON
	DataKeyEngagementMode DataKey = "engagementMode" // current EngagementMode
	DataKeyNextMessageID  DataKey = "nextMessageID"  // next transcript message id
	DataKeyUserName       DataKey = "userName"       // display name carried over from onboarding
	DataKeyUserEmail      DataKey = "userEmail"      // email carried over from onboarding
	DataKeySystemContext  DataKey = "systemContext"  // hidden context sent with every outbound request
)
