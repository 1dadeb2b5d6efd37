package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/calma-app/calma/internal/genai"
	"github.com/calma-app/calma/internal/models"
	"github.com/calma-app/calma/internal/streak"
)

// fallbackName is used when the participant never answered the name question.
const fallbackName = "amig@"

// menuTokens reset the engagement mode and replay the greeting when any of
// them appears anywhere in a trimmed, case-folded user turn.
var menuTokens = []string{"menu", "menú", "volver", "inicio", "regresar"}

// modeTokens map recognized tokens to engagement modes. Short tokens (four
// runes or fewer: digits, spelled-out numbers) must equal the whole turn so
// that "tengo 1 problema" stays an ordinary message; longer keywords match
// anywhere in it.
var modeTokens = []struct {
	Mode   models.EngagementMode
	Tokens []string
}{
	{models.ModeFreeTalk, []string{"1", "uno", "libre", "conversación libre", "conversacion libre", "hablar"}},
	{models.ModeGuidedExercise, []string{"2", "dos", "ejercicio", "guiado", "guiada", "respiración", "respiracion"}},
	{models.ModePracticalAdvice, []string{"3", "tres", "consejo", "consejos", "práctico", "practico"}},
}

// turnKind classifies a user turn against the current engagement mode.
type turnKind int

const (
	turnMenu       turnKind = iota // recognized return-to-menu token
	turnSelectMode                 // mode unset, turn selects one
	turnPrompt                     // mode unset, no recognizable selection
	turnMessage                    // mode set, ordinary chat turn
)

// interpretTurn is a pure classification of a raw user turn given the
// current engagement mode. The returned mode is the mode after the turn.
func interpretTurn(raw string, mode models.EngagementMode) (turnKind, models.EngagementMode) {
	folded := strings.ToLower(strings.TrimSpace(raw))
	for _, token := range menuTokens {
		if strings.Contains(folded, token) {
			return turnMenu, models.ModeUnset
		}
	}
	if mode != models.ModeUnset {
		return turnMessage, mode
	}
	for _, entry := range modeTokens {
		for _, token := range entry.Tokens {
			if matchesToken(folded, token) {
				return turnSelectMode, entry.Mode
			}
		}
	}
	return turnPrompt, models.ModeUnset
}

func matchesToken(folded, token string) bool {
	if utf8.RuneCountInString(token) <= 4 {
		return folded == token
	}
	return strings.Contains(folded, token)
}

// TurnResult is the outcome of one processed user turn.
type TurnResult struct {
	UserMessage      models.Message        `json:"user_message"`
	AssistantMessage models.Message        `json:"assistant_message"`
	Mode             models.EngagementMode `json:"mode"`
}

// Assembler owns the chat session: it composes the greeting and the hidden
// system context from the finalized onboarding answers, classifies user
// turns, forwards them to the conversational API, and maintains the
// transcript, the engagement mode, and the daily check-in log.
type Assembler struct {
	states        StateManager
	client        genai.ClientInterface // nil disables the API; every turn falls back
	streaks       *streak.Manager
	questionnaire *Questionnaire
	inflight      sync.Map
}

// NewAssembler creates an assembler over the given collaborators. A nil
// client is allowed; replies then always come from the deterministic
// fallback.
func NewAssembler(states StateManager, client genai.ClientInterface, streaks *streak.Manager, questionnaire *Questionnaire) *Assembler {
	return &Assembler{
		states:        states,
		client:        client,
		streaks:       streaks,
		questionnaire: questionnaire,
	}
}

// ComposeGreeting activates (or reactivates) the chat session: it clears the
// transcript and mode, derives the hidden system context from the onboarding
// answers, and seeds the transcript with the system context plus the visible
// greeting. Requires completed onboarding.
func (a *Assembler) ComposeGreeting(ctx context.Context, participantID string) (*models.Message, error) {
	step, err := a.states.GetCurrentState(ctx, participantID, models.FlowTypeOnboarding)
	if err != nil {
		return nil, err
	}
	if step != models.StepComplete {
		return nil, models.ErrSessionNotFound
	}

	answers, err := a.onboardingAnswers(ctx, participantID)
	if err != nil {
		return nil, err
	}
	email, err := a.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyEmail)
	if err != nil {
		return nil, err
	}
	name := a.userName(answers)

	systemContext := a.composeSystemContext(name, email, answers)
	if err := a.states.SetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeySystemContext, systemContext); err != nil {
		return nil, err
	}
	if err := a.states.SetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyUserName, name); err != nil {
		return nil, err
	}
	if err := a.states.SetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyUserEmail, email); err != nil {
		return nil, err
	}
	if err := a.setMode(ctx, participantID, models.ModeUnset); err != nil {
		return nil, err
	}

	now := time.Now()
	transcript := models.Transcript{Messages: []models.Message{
		{ID: 1, Role: models.RoleSystem, Content: systemContext, Timestamp: now},
		{ID: 2, Role: models.RoleAssistant, Content: greetingText(name), Timestamp: now},
	}}
	if err := a.saveTranscript(ctx, participantID, transcript, 3); err != nil {
		return nil, err
	}
	if err := a.states.SetCurrentState(ctx, participantID, models.FlowTypeChat, models.StateChatActive); err != nil {
		return nil, err
	}

	greeting := transcript.Messages[1]
	slog.Info("Assembler.ComposeGreeting: chat session activated", "participantID", participantID)
	return &greeting, nil
}

// ProcessUserTurn handles one user message: it records the daily check-in,
// classifies the turn, forwards it to the conversational API (unless it is a
// menu reset), and appends exactly one user and one assistant message to the
// transcript. The participant always receives a reply; API failures produce
// the deterministic fallback.
func (a *Assembler) ProcessUserTurn(ctx context.Context, participantID, raw string) (*TurnResult, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, models.ErrEmptyMessage
	}

	// One in-flight request per session; a new send while a prior request
	// is outstanding is rejected rather than queued.
	if _, loaded := a.inflight.LoadOrStore(participantID, struct{}{}); loaded {
		return nil, models.ErrRequestInFlight
	}
	defer a.inflight.Delete(participantID)

	if err := a.ensureActive(ctx, participantID); err != nil {
		return nil, err
	}

	// Check-in recording happens before dispatch and is independent of the
	// API outcome. Persistence failures keep the session going.
	if err := a.streaks.RecordToday(ctx, participantID); err != nil {
		slog.Error("Assembler.ProcessUserTurn: check-in record failed", "error", err, "participantID", participantID)
	}

	mode, err := a.Mode(ctx, participantID)
	if err != nil {
		return nil, err
	}
	name, err := a.states.GetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyUserName)
	if err != nil {
		return nil, err
	}

	kind, nextMode := interpretTurn(trimmed, mode)

	var reply string
	switch kind {
	case turnMenu:
		reply = greetingText(name)
	default:
		answers, err := a.onboardingAnswers(ctx, participantID)
		if err != nil {
			return nil, err
		}
		emotionalContext := a.composeEmotionalContext(answers)
		instruction := buildInstruction(kind, nextMode, trimmed, emotionalContext)
		generated, genErr := a.generate(ctx, participantID, instruction)
		if genErr != nil {
			slog.Warn("Assembler.ProcessUserTurn: falling back to local reply", "error", genErr, "participantID", participantID, "mode", nextMode)
			generated = RenderFallback(nextMode, emotionalContext)
		}
		reply = generated
	}

	if nextMode != mode {
		if err := a.setMode(ctx, participantID, nextMode); err != nil {
			return nil, err
		}
	}

	userMsg, assistantMsg, err := a.appendTurn(ctx, participantID, trimmed, reply)
	if err != nil {
		return nil, err
	}
	return &TurnResult{UserMessage: userMsg, AssistantMessage: assistantMsg, Mode: nextMode}, nil
}

// Reset clears the transcript and mode and replays the greeting.
func (a *Assembler) Reset(ctx context.Context, participantID string) (*models.Message, error) {
	return a.ComposeGreeting(ctx, participantID)
}

// Logout ends the chat session, discarding the transcript and mode. The
// greeting is composed again on the next activation.
func (a *Assembler) Logout(ctx context.Context, participantID string) error {
	if err := a.states.ResetState(ctx, participantID, models.FlowTypeChat); err != nil {
		return err
	}
	slog.Info("Assembler.Logout: chat session cleared", "participantID", participantID)
	return nil
}

// Transcript returns the session transcript, hidden system entries included.
func (a *Assembler) Transcript(ctx context.Context, participantID string) (models.Transcript, error) {
	transcript, _, err := a.loadTranscript(ctx, participantID)
	return transcript, err
}

// Mode returns the current engagement mode.
func (a *Assembler) Mode(ctx context.Context, participantID string) (models.EngagementMode, error) {
	value, err := a.states.GetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyEngagementMode)
	if err != nil {
		return models.ModeUnset, err
	}
	return models.EngagementMode(value), nil
}

// ensureActive activates the chat session on first contact after completed
// onboarding; hand-off from the sequencer is immediate.
func (a *Assembler) ensureActive(ctx context.Context, participantID string) error {
	state, err := a.states.GetCurrentState(ctx, participantID, models.FlowTypeChat)
	if err != nil {
		return err
	}
	if state == models.StateChatActive {
		return nil
	}
	_, err = a.ComposeGreeting(ctx, participantID)
	return err
}

// generate sends system context, prior visible turns, and the instruction
// for the new turn to the conversational API.
func (a *Assembler) generate(ctx context.Context, participantID, instruction string) (string, error) {
	if a.client == nil {
		return "", fmt.Errorf("%w: no conversational client configured", models.ErrExternalAPI)
	}
	systemContext, err := a.states.GetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeySystemContext)
	if err != nil {
		return "", err
	}
	transcript, _, err := a.loadTranscript(ctx, participantID)
	if err != nil {
		return "", err
	}

	msgs := []genai.Message{{Role: "system", Content: systemContext}}
	for _, m := range transcript.Visible() {
		msgs = append(msgs, genai.Message{Role: string(m.Role), Content: m.Content})
	}
	msgs = append(msgs, genai.Message{Role: "user", Content: instruction})

	reply, err := a.client.GenerateWithMessages(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrExternalAPI, err)
	}
	return reply, nil
}

func (a *Assembler) appendTurn(ctx context.Context, participantID, userText, reply string) (models.Message, models.Message, error) {
	transcript, nextID, err := a.loadTranscript(ctx, participantID)
	if err != nil {
		return models.Message{}, models.Message{}, err
	}
	now := time.Now()
	userMsg := models.Message{ID: nextID, Role: models.RoleUser, Content: userText, Timestamp: now}
	assistantMsg := models.Message{ID: nextID + 1, Role: models.RoleAssistant, Content: reply, Timestamp: now}
	transcript.Messages = append(transcript.Messages, userMsg, assistantMsg)
	if err := a.saveTranscript(ctx, participantID, transcript, nextID+2); err != nil {
		return models.Message{}, models.Message{}, err
	}
	return userMsg, assistantMsg, nil
}

func (a *Assembler) loadTranscript(ctx context.Context, participantID string) (models.Transcript, int64, error) {
	raw, err := a.states.GetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyTranscript)
	if err != nil {
		return models.Transcript{}, 0, err
	}
	var transcript models.Transcript
	if raw != "" {
		if err := json.Unmarshal([]byte(raw), &transcript); err != nil {
			slog.Error("Assembler.loadTranscript: malformed transcript payload", "error", err, "participantID", participantID)
			transcript = models.Transcript{}
		}
	}
	nextID := int64(1)
	if rawID, err := a.states.GetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyNextMessageID); err == nil && rawID != "" {
		if parsed, parseErr := strconv.ParseInt(rawID, 10, 64); parseErr == nil {
			nextID = parsed
		}
	}
	return transcript, nextID, nil
}

func (a *Assembler) saveTranscript(ctx context.Context, participantID string, transcript models.Transcript, nextID int64) error {
	payload, err := json.Marshal(transcript)
	if err != nil {
		return fmt.Errorf("failed to encode transcript: %w", err)
	}
	if err := a.states.SetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyTranscript, string(payload)); err != nil {
		return err
	}
	return a.states.SetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyNextMessageID, strconv.FormatInt(nextID, 10))
}

func (a *Assembler) setMode(ctx context.Context, participantID string, mode models.EngagementMode) error {
	return a.states.SetStateData(ctx, participantID, models.FlowTypeChat, models.DataKeyEngagementMode, string(mode))
}

func (a *Assembler) onboardingAnswers(ctx context.Context, participantID string) (models.AnswerSet, error) {
	raw, err := a.states.GetStateData(ctx, participantID, models.FlowTypeOnboarding, models.DataKeyAnswers)
	if err != nil {
		return nil, err
	}
	answers := make(models.AnswerSet)
	if raw == "" {
		return answers, nil
	}
	if err := json.Unmarshal([]byte(raw), &answers); err != nil {
		slog.Error("Assembler.onboardingAnswers: malformed answer payload", "error", err, "participantID", participantID)
		return make(models.AnswerSet), nil
	}
	return answers, nil
}

// userName reads the answer to the first question, which asks for the
// participant's name in every questionnaire variant.
func (a *Assembler) userName(answers models.AnswerSet) string {
	if answer := a.answerAt(answers, 0); answer != "" {
		return strings.TrimSpace(answer)
	}
	return fallbackName
}

// answerAt returns the answer to the question at the given questionnaire
// position, empty when unanswered or out of range.
func (a *Assembler) answerAt(answers models.AnswerSet, index int) string {
	if index >= a.questionnaire.Len() {
		return ""
	}
	if answer, ok := answers[a.questionnaire.At(index).ID]; ok && !answer.IsEmpty() {
		return answer.String()
	}
	return ""
}

// greetingText is the visible greeting. Menu resets must reproduce it
// verbatim, so everything user-facing about the menu lives here.
func greetingText(name string) string {
	if name == "" {
		name = fallbackName
	}
	return fmt.Sprintf("¡Hola %s! Bienvenido a tu espacio de calma. ¿En qué puedo ayudarte hoy?\n\n"+
		"1. Conversación libre\n"+
		"2. Ejercicio guiado\n"+
		"3. Consejos prácticos\n\n"+
		"Escribe \"menú\" para volver a estas opciones en cualquier momento.", name)
}

// composeSystemContext builds the hidden context message sent with every
// outbound request: identity, the raw answer set, and the instruction
// mapping the 1/2/3 choices to engagement modes.
func (a *Assembler) composeSystemContext(name, email string, answers models.AnswerSet) string {
	var sb strings.Builder
	sb.WriteString("Eres Calma, un asistente de bienestar emocional. Hablas siempre en español, con calidez y brevedad. ")
	fmt.Fprintf(&sb, "Usuario: %s (%s). ", name, email)
	sb.WriteString("Respuestas del cuestionario: ")
	sb.WriteString(a.answerSummary(answers))
	sb.WriteString(". Si el usuario escribe 1, uno o \"conversación libre\", entra en modo conversación libre; ")
	sb.WriteString("si escribe 2, dos o \"ejercicio guiado\", guía un ejercicio de relajación paso a paso; ")
	sb.WriteString("si escribe 3, tres o \"consejos prácticos\", ofrece consejos prácticos basados en su contexto emocional.")
	return sb.String()
}

// answerSummary renders the answer set in questionnaire order.
func (a *Assembler) answerSummary(answers models.AnswerSet) string {
	parts := make([]string, 0, a.questionnaire.Len())
	for _, question := range a.questionnaire.Questions {
		answer, ok := answers[question.ID]
		if !ok || answer.IsEmpty() {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %s", question.ID, answer.String()))
	}
	if len(parts) == 0 {
		return "sin respuestas registradas"
	}
	return strings.Join(parts, "; ")
}

// composeEmotionalContext renders the fixed six-field summary used by the
// practical-advice instruction and the fallback topic scan. The labels are
// fixed; the values follow questionnaire position (name, mood, energy,
// sleep, stress, goals) so an overridden questionnaire file keeps feeding
// the template.
func (a *Assembler) composeEmotionalContext(answers models.AnswerSet) string {
	field := func(index int) string {
		if answer := a.answerAt(answers, index); answer != "" {
			return answer
		}
		return "sin datos"
	}
	return fmt.Sprintf("Contexto emocional del usuario. Nombre: %s. Estado de ánimo: %s. Energía: %s. Sueño: %s. Fuentes de estrés: %s. Objetivos: %s.",
		field(0), field(1), field(2), field(3), field(4), field(5))
}

// buildInstruction renders the outbound instruction for a classified turn.
func buildInstruction(kind turnKind, mode models.EngagementMode, userText, emotionalContext string) string {
	if kind == turnPrompt {
		return "El usuario aún no eligió un modo de conversación. Pídele amablemente que elija 1 (conversación libre), 2 (ejercicio guiado) o 3 (consejos prácticos)."
	}
	if kind == turnSelectMode {
		switch mode {
		case models.ModeFreeTalk:
			return "El usuario eligió conversación libre. Invítalo cálidamente a contarte lo que quiera."
		case models.ModeGuidedExercise:
			return "El usuario eligió un ejercicio guiado. Condúcelo paso a paso por un ejercicio breve de respiración o relajación."
		case models.ModePracticalAdvice:
			return fmt.Sprintf("El usuario eligió consejos prácticos. %s Ofrécele consejos concretos y accionables.", emotionalContext)
		}
	}
	switch mode {
	case models.ModeGuidedExercise:
		return fmt.Sprintf("Modo ejercicio guiado. Continúa guiando al usuario con calma. Mensaje del usuario: %q", userText)
	case models.ModePracticalAdvice:
		return fmt.Sprintf("Modo consejos prácticos. %s Responde con consejos concretos. Mensaje del usuario: %q", emotionalContext, userText)
	default:
		return fmt.Sprintf("Modo conversación libre. Acompaña al usuario con empatía. Mensaje del usuario: %q", userText)
	}
}
