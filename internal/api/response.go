// Package api provides the HTTP surface for Calma: onboarding, chat, streak
// and auth endpoints over a chi router.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/calma-app/calma/internal/models"
)

// Pre-marshaled fallback response to avoid runtime JSON encoding failures.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(models.Error("Internal server error"))
	if err != nil {
		panic(fmt.Sprintf("Failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response with the given status code.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response interface{}) {
	// Marshal first to catch encoding errors before writing headers.
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}

// writeError maps core errors onto HTTP responses. Validation failures keep
// their message; collaborator failures get a generic one so internals never
// leak to the participant.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error("session not found"))
	case errors.Is(err, models.ErrRequestInFlight):
		writeJSONResponse(w, http.StatusConflict, models.Error("a request is already in flight for this session"))
	case errors.Is(err, models.ErrValidation):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, models.ErrCodeMismatch), errors.Is(err, models.ErrCodeExpired):
		// Recoverable by the participant: retry or resend.
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case errors.Is(err, models.ErrInvalidCredentials), errors.Is(err, models.ErrInvalidToken):
		writeJSONResponse(w, http.StatusUnauthorized, models.Error(err.Error()))
	case errors.Is(err, models.ErrAccountExists):
		writeJSONResponse(w, http.StatusConflict, models.Error(err.Error()))
	case errors.Is(err, models.ErrAuthCollaborator):
		slog.Warn("Server.writeError: identity collaborator failure", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("could not sign in, please try again"))
	case errors.Is(err, models.ErrExternalAPI):
		slog.Warn("Server.writeError: external API failure", "error", err)
		writeJSONResponse(w, http.StatusBadGateway, models.Error("service temporarily unavailable"))
	default:
		slog.Error("Server.writeError: internal error", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Internal server error"))
	}
}
