package api

import (
	"net/http"

	"github.com/calma-app/calma/internal/models"
)

type messageRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func (s *Server) messageHandler(w http.ResponseWriter, r *http.Request) {
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	result, err := s.assembler.ProcessUserTurn(r.Context(), sessionID(r, req.SessionID), req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(result))
}

func (s *Server) transcriptHandler(w http.ResponseWriter, r *http.Request) {
	participantID := sessionID(r, r.URL.Query().Get("session_id"))
	transcript, err := s.assembler.Transcript(r.Context(), participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	mode, err := s.assembler.Mode(r.Context(), participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	// Hidden system context stays server-side.
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{
		"messages": transcript.Visible(),
		"mode":     mode,
	}))
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	greeting, err := s.assembler.Reset(r.Context(), sessionID(r, req.SessionID))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]interface{}{"greeting": greeting}))
}

func (s *Server) logoutHandler(w http.ResponseWriter, r *http.Request) {
	var req sessionRequest
	if err := decodeBody(r, &req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid request body"))
		return
	}
	if err := s.assembler.Logout(r.Context(), sessionID(r, req.SessionID)); err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("session closed", nil))
}

func (s *Server) streakHandler(w http.ResponseWriter, r *http.Request) {
	participantID := sessionID(r, r.URL.Query().Get("session_id"))
	if participantID == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("session id is required"))
		return
	}
	metrics, err := s.streaks.Metrics(r.Context(), participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(metrics))
}
