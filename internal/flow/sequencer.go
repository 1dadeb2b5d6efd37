package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/calma-app/calma/internal/identity"
	"github.com/calma-app/calma/internal/models"
	"github.com/calma-app/calma/internal/util"
)

// emailPattern accepts a local part, "@", and a domain containing a dot.
var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// gmailDomain is the provider domain whose addresses skip password creation.
const gmailDomain = "@gmail.com"

// Sequencer drives a participant through the onboarding steps: consent, the
// questionnaire, email capture and confirmation, code verification, and
// optional password creation. All state lives in the onboarding flow of the
// state manager, keyed by participant id.
type Sequencer struct {
	states        StateManager
	provider      identity.Provider
	codes         *identity.VerificationIssuer
	questionnaire *Questionnaire
}

// NewSequencer creates a sequencer over the given collaborators.
func NewSequencer(states StateManager, provider identity.Provider, codes *identity.VerificationIssuer, questionnaire *Questionnaire) *Sequencer {
	return &Sequencer{
		states:        states,
		provider:      provider,
		codes:         codes,
		questionnaire: questionnaire,
	}
}

// Questionnaire returns the question set the sequencer runs.
func (s *Sequencer) Questionnaire() *Questionnaire {
	return s.questionnaire
}

// Start creates a new onboarding session and returns its participant id.
func (s *Sequencer) Start(ctx context.Context) (string, error) {
	participantID := util.GenerateParticipantID()
	if err := s.states.SetCurrentState(ctx, participantID, models.FlowTypeOnboarding, models.StepConsent); err != nil {
		return "", err
	}
	slog.Info("Sequencer.Start: session created", "participantID", participantID)
	return participantID, nil
}

// CurrentStep returns the participant's current onboarding step.
func (s *Sequencer) CurrentStep(ctx context.Context, participantID string) (models.StateType, error) {
	step, err := s.states.GetCurrentState(ctx, participantID, models.FlowTypeOnboarding)
	if err != nil {
		return "", err
	}
	if step == "" {
		return "", models.ErrSessionNotFound
	}
	return step, nil
}

// SubmitConsent records consent acceptance and moves to the first question.
func (s *Sequencer) SubmitConsent(ctx context.Context, participantID string) error {
	if err := s.requireStep(ctx, participantID, models.StepConsent); err != nil {
		return err
	}
	return s.states.SetCurrentState(ctx, participantID, models.FlowTypeOnboarding, s.questionnaire.StepFor(0))
}

// SubmitAnswer validates and stores an answer. Answers never advance the
// step; Advance does that once the current question has a non-empty answer.
func (s *Sequencer) SubmitAnswer(ctx context.Context, participantID, questionID string, value models.AnswerValue) error {
	if _, err := s.CurrentStep(ctx, participantID); err != nil {
		return err
	}
	question, ok := s.questionnaire.ByID(questionID)
	if !ok {
		return models.ErrUnknownQuestion
	}
	if err := s.questionnaire.ValidateAnswer(question, value); err != nil {
		return err
	}

	answers, err := s.Answers(ctx, participantID)
	if err != nil {
		return err
	}
	answers[questionID] = value
	return s.saveAnswers(ctx, participantID, answers)
}

// Advance moves from the current question to the next one, or to email
// capture after the last question. The current question must be answered.
func (s *Sequencer) Advance(ctx context.Context, participantID string) error {
	step, err := s.CurrentStep(ctx, participantID)
	if err != nil {
		return err
	}
	index := s.questionnaire.IndexOf(string(step))
	if index < 0 {
		return models.ErrStepMismatch
	}

	answers, err := s.Answers(ctx, participantID)
	if err != nil {
		return err
	}
	if answer, ok := answers[string(step)]; !ok || answer.IsEmpty() {
		return models.ErrAnswerRequired
	}

	next := models.StepEmail
	if index < s.questionnaire.Len()-1 {
		next = s.questionnaire.StepFor(index + 1)
	}
	return s.states.SetCurrentState(ctx, participantID, models.FlowTypeOnboarding, next)
}

// Retreat moves to the previous question, or to consent from the first
// question. Outside the question range retreat is not available.
func (s *Sequencer) Retreat(ctx context.Context, participantID string) error {
	step, err := s.CurrentStep(ctx, participantID)
	if err != nil {
		return err
	}
	index := s.questionnaire.IndexOf(string(step))
	if index < 0 {
		return models.ErrRetreatUnavailable
	}

	previous := models.StepConsent
	if index > 0 {
		previous = s.questionnaire.StepFor(index - 1)
	}
	return s.states.SetCurrentState(ctx, participantID, models.FlowTypeOnboarding, previous)
}

// SubmitEmail validates the address and moves to the confirmation step.
func (s *Sequencer) SubmitEmail(ctx context.Context, participantID, email string) error {
	if err := s.requireStep(ctx, participantID, models.StepEmail); err != nil {
		return err
	}
	if email == "" {
		return models.ErrEmailRequired
	}
	if !emailPattern.MatchString(email) {
		return models.ErrInvalidEmail
	}
	if err := s.states.SetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyEmail, email); err != nil {
		return err
	}
	return s.states.SetCurrentState(ctx, participantID, models.FlowTypeOnboarding, models.StepConfirmEmail)
}

// ConfirmEmail compares the candidate byte-for-byte against the submitted
// address; on match a verification code is issued and the step moves to
// verify. Case or whitespace differences are mismatches.
func (s *Sequencer) ConfirmEmail(ctx context.Context, participantID, candidate string) error {
	if err := s.requireStep(ctx, participantID, models.StepConfirmEmail); err != nil {
		return err
	}
	email, err := s.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyEmail)
	if err != nil {
		return err
	}
	if candidate != email {
		return models.ErrEmailMismatch
	}
	if err := s.codes.Issue(ctx, email); err != nil {
		// Step unchanged; the participant can retry confirmation.
		return err
	}
	return s.states.SetCurrentState(ctx, participantID, models.FlowTypeOnboarding, models.StepVerify)
}

// SubmitVerificationCode checks the code with the issuer, then branches:
// an already-authenticated identity completes immediately; Gmail-domain
// addresses complete with an account resolved through the OAuth path; all
// other domains proceed to password creation.
func (s *Sequencer) SubmitVerificationCode(ctx context.Context, participantID, code string) error {
	if err := s.requireStep(ctx, participantID, models.StepVerify); err != nil {
		return err
	}
	email, err := s.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyEmail)
	if err != nil {
		return err
	}
	if err := s.codes.Verify(ctx, email, code); err != nil {
		return err
	}

	authenticated, err := s.isAuthenticated(ctx, participantID)
	if err != nil {
		return err
	}
	if authenticated {
		return s.complete(ctx, participantID)
	}
	if strings.HasSuffix(strings.ToLower(email), gmailDomain) {
		accountID, err := s.provider.SignInWithOAuth(ctx, email)
		if err != nil {
			slog.Error("Sequencer.SubmitVerificationCode: account resolution failed", "error", err, "participantID", participantID)
			return err
		}
		if err := s.markAuthenticated(ctx, participantID, accountID); err != nil {
			return err
		}
		return s.complete(ctx, participantID)
	}
	return s.states.SetCurrentState(ctx, participantID, models.FlowTypeOnboarding, models.StepPassword)
}

// ResendCode issues a fresh verification code for the submitted address.
func (s *Sequencer) ResendCode(ctx context.Context, participantID string) error {
	if err := s.requireStep(ctx, participantID, models.StepVerify); err != nil {
		return err
	}
	email, err := s.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyEmail)
	if err != nil {
		return err
	}
	return s.codes.Resend(ctx, email)
}

// SubmitPassword validates the password, registers the account with the
// identity provider, and completes onboarding. Provider failures leave the
// step unchanged.
func (s *Sequencer) SubmitPassword(ctx context.Context, participantID, password string) error {
	if err := s.requireStep(ctx, participantID, models.StepPassword); err != nil {
		return err
	}
	if password == "" {
		return models.ErrPasswordRequired
	}
	if len(password) < 8 {
		return models.ErrPasswordTooShort
	}
	email, err := s.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyEmail)
	if err != nil {
		return err
	}
	accountID, err := s.provider.Register(ctx, email, password)
	if err != nil {
		slog.Error("Sequencer.SubmitPassword: registration failed", "error", err, "participantID", participantID)
		return err
	}
	if err := s.markAuthenticated(ctx, participantID, accountID); err != nil {
		return err
	}
	return s.complete(ctx, participantID)
}

// SignInWithOAuth resolves an OAuth-asserted identity and completes
// onboarding through the authenticated shortcut. Failures leave the step
// unchanged.
func (s *Sequencer) SignInWithOAuth(ctx context.Context, participantID, email string) error {
	step, err := s.CurrentStep(ctx, participantID)
	if err != nil {
		return err
	}
	if step == models.StepComplete {
		return models.ErrStepMismatch
	}
	if !emailPattern.MatchString(email) {
		return models.ErrInvalidEmail
	}
	accountID, err := s.provider.SignInWithOAuth(ctx, email)
	if err != nil {
		slog.Error("Sequencer.SignInWithOAuth: sign-in failed", "error", err, "participantID", participantID)
		return err
	}
	if err := s.states.SetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyEmail, email); err != nil {
		return err
	}
	if err := s.markAuthenticated(ctx, participantID, accountID); err != nil {
		return err
	}
	return s.complete(ctx, participantID)
}

// Answers returns the accumulated answer set, empty when none are recorded.
func (s *Sequencer) Answers(ctx context.Context, participantID string) (models.AnswerSet, error) {
	raw, err := s.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyAnswers)
	if err != nil {
		return nil, err
	}
	answers := make(models.AnswerSet)
	if raw == "" {
		return answers, nil
	}
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		slog.Error("Sequencer.Answers: malformed answer payload", "error", err, "participantID", participantID)
		return make(models.AnswerSet), nil
	}
	return answers, nil
}

// Email returns the submitted email address, empty before email capture.
func (s *Sequencer) Email(ctx context.Context, participantID string) (string, error) {
	return s.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyEmail)
}

// Progress returns the completion percentage shown alongside the current
// step: 0 at consent, a proportional share of 80 across the questions, then
// 85, 90, 95 and 100 through the account steps.
func (s *Sequencer) Progress(ctx context.Context, participantID string) (int, error) {
	step, err := s.CurrentStep(ctx, participantID)
	if err != nil {
		return 0, err
	}
	switch step {
	case models.StepConsent:
		return 0, nil
	case models.StepEmail, models.StepConfirmEmail:
		return 85, nil
	case models.StepVerify:
		return 90, nil
	case models.StepPassword:
		return 95, nil
	case models.StepComplete:
		return 100, nil
	}
	index := s.questionnaire.IndexOf(string(step))
	if index < 0 {
		return 0, nil
	}
	return (index + 1) * 80 / s.questionnaire.Len(), nil
}

func (s *Sequencer) requireStep(ctx context.Context, participantID string, expected models.StateType) error {
	step, err := s.CurrentStep(ctx, participantID)
	if err != nil {
		return err
	}
	if step != expected {
		return models.ErrStepMismatch
	}
	return nil
}

func (s *Sequencer) saveAnswers(ctx context.Context, participantID string, answers models.AnswerSet) error {
	payload, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("failed to encode answers: %w", err)
	}
	return s.states.SetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyAnswers, string(payload))
}

func (s *Sequencer) isAuthenticated(ctx context.Context, participantID string) (bool, error) {
	flag, err := s.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyAuthenticated)
	if err != nil {
		return false, err
	}
	if flag != "true" {
		return false, nil
	}
	accountID, err := s.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyAccountID)
	if err != nil {
		return false, err
	}
	return s.provider.Authenticated(ctx, accountID)
}

func (s *Sequencer) markAuthenticated(ctx context.Context, participantID, accountID string) error {
	if err := s.states.SetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyAccountID, accountID); err != nil {
		return err
	}
	return s.states.SetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyAuthenticated, "true")
}

// complete marks onboarding finished. Hand-off to the chat session is
// immediate; the original fixed delay before showing the chat was a
// presentation affordance.
func (s *Sequencer) complete(ctx context.Context, participantID string) error {
	if err := s.states.SetCurrentState(ctx, participantID, models.FlowTypeOnboarding, models.StepComplete); err != nil {
		return err
	}
	slog.Info("Sequencer.complete: onboarding finished", "participantID", participantID)
	return nil
}
