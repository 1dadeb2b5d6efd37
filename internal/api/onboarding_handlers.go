package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/calma-app/calma/internal/models"
)

// sessionRequest is the common body shape; every onboarding operation past
// start accepts the session id in the body or the session header.
type sessionRequest struct {
	SessionID string `json:"session_id"`
}

// answerRequest carries one quiz answer: free text / single choice in
// text, multi-select in choices.
type answerRequest struct {
	SessionID  string   `json:"session_id"`
	QuestionID string   `json:"question_id"`
	Text       string   `json:"text"`
	Choices    []string `json:"choices"`
}

type emailRequest struct {
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
}

type codeRequest struct {
	SessionID string `json:"session_id"`
	Code      string `json:"code"`
}

type passwordRequest struct {
	SessionID string `json:"session_id"`
	Password  string `json:"password"`
}

// decodeBody decodes the request body into v; an empty body is tolerated so
// header-only requests work.
func decodeBody(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// sessionID resolves the participant id from the header or the decoded body
// field.
func sessionID(r *http.Request, bodyID string) string {
	if header := r.Header.Get(SessionHeader); header != "" {
		return header
	}
	return bodyID
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	participantID, err := s.sequencer.Start(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, models.Success(map[string]string{"session_id": participantID}))
}

// stateView is the onboarding state returned to the client: the current
// step, the progress percentage, and the question payload when the step is
// a question.
type stateView struct {
	Step     models.StateType     `json:"step"`
	Progress int                  `json:"progress"`
	Question *models.QuizQuestion `json:"question,omitempty"`
	Answers  models.AnswerSet     `json:"answers,omitempty"`
}

func (s *Server) stateHandler(w http.ResponseWriter, r *http.Request) {
	participantID := sessionID(r, r.URL.Query().Get("session_id"))
	ctx := r.Context()

	step, err := s.sequencer.CurrentStep(ctx, participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	progress, err := s.sequencer.Progress(ctx, participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	answers, err := s.sequencer.Answers(ctx, participantID)
	if err != nil {
		writeError(w, err)
		return
	}

	view := stateView{Step: step, Progress: progress, Answers: answers}
	if question, ok := s.sequencer.Questionnaire().ByID(string(step)); ok {
		view.Question = &question
	}
	writeJSONResponse(w, http.StatusOK, models.Success(view))
}

func (s *Server) consentHandler(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if err := s.sequencer.SubmitConsent(r.Context(), sessionID(r, req.SessionID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) answerHandler(w http.ResponseWriter, r *http.Request) {
	var req answerRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}

	answer := models.TextAnswer(req.Text)
	if req.Choices != nil {
		answer = models.MultiAnswer(req.Choices...)
	}
	if err := s.sequencer.SubmitAnswer(r.Context(), sessionID(r, req.SessionID), req.QuestionID, answer); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) advanceHandler(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	participantID := sessionID(r, req.SessionID)
	if err := s.sequencer.Advance(r.Context(), participantID); err != nil {
		writeError(w, err)
		return
	}
	s.writeStep(w, r, participantID)
}

func (s *Server) retreatHandler(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	participantID := sessionID(r, req.SessionID)
	if err := s.sequencer.Retreat(r.Context(), participantID); err != nil {
		writeError(w, err)
		return
	}
	s.writeStep(w, r, participantID)
}

func (s *Server) emailHandler(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	participantID := sessionID(r, req.SessionID)
	if err := s.sequencer.SubmitEmail(r.Context(), participantID, req.Email); err != nil {
		writeError(w, err)
		return
	}
	s.writeStep(w, r, participantID)
}

func (s *Server) confirmEmailHandler(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	participantID := sessionID(r, req.SessionID)
	if err := s.sequencer.ConfirmEmail(r.Context(), participantID, req.Email); err != nil {
		writeError(w, err)
		return
	}
	s.writeStep(w, r, participantID)
}

func (s *Server) verifyHandler(w http.ResponseWriter, r *http.Request) {
	var req codeRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	participantID := sessionID(r, req.SessionID)
	if err := s.sequencer.SubmitVerificationCode(r.Context(), participantID, req.Code); err != nil {
		writeError(w, err)
		return
	}
	s.writeStep(w, r, participantID)
}

func (s *Server) resendCodeHandler(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if err := s.sequencer.ResendCode(r.Context(), sessionID(r, req.SessionID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("verification code sent", nil))
}

func (s *Server) passwordHandler(w http.ResponseWriter, r *http.Request) {
	var req passwordRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	participantID := sessionID(r, req.SessionID)
	if err := s.sequencer.SubmitPassword(r.Context(), participantID, req.Password); err != nil {
		writeError(w, err)
		return
	}
	s.writeStep(w, r, participantID)
}

func (s *Server) oauthHandler(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	participantID := sessionID(r, req.SessionID)
	if err := s.sequencer.SignInWithOAuth(r.Context(), participantID, req.Email); err != nil {
		writeError(w, err)
		return
	}
	s.writeStep(w, r, participantID)
}

// writeStep responds with the step and progress after a successful
// operation.
func (s *Server) writeStep(w http.ResponseWriter, r *http.Request, participantID string) {
	step, err := s.sequencer.CurrentStep(r.Context(), participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	progress, err := s.sequencer.Progress(r.Context(), participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(stateView{Step: step, Progress: progress}))
}
