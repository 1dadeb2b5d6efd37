package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/calma-app/calma/internal/flow"
	"github.com/calma-app/calma/internal/genai"
	"github.com/calma-app/calma/internal/identity"
	"github.com/calma-app/calma/internal/models"
	"github.com/calma-app/calma/internal/store"
	"github.com/calma-app/calma/internal/streak"
)

const testCode = "482913"

type silentSender struct{}

func (silentSender) SendCode(ctx context.Context, email, code string) error { return nil }

type fakeGenAI struct {
	reply string
}

func (f *fakeGenAI) GenerateWithMessages(ctx context.Context, msgs []genai.Message) (string, error) {
	return f.reply, nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	st := store.NewInMemoryStore()
	provider, err := identity.NewLocalProvider(st, identity.WithTokenSecret("test-secret"))
	if err != nil {
		t.Fatalf("NewLocalProvider failed: %v", err)
	}
	issuer := identity.NewVerificationIssuer(st, silentSender{},
		identity.WithCodeGenerator(func() string { return testCode }))
	questionnaire, err := flow.LoadQuestionnaire("")
	if err != nil {
		t.Fatalf("LoadQuestionnaire failed: %v", err)
	}
	states := flow.NewStoreBasedStateManager(st)
	streaks := streak.NewManager(st, streak.WithSeedHistory(false))
	sequencer := flow.NewSequencer(states, provider, issuer, questionnaire)
	assembler := flow.NewAssembler(states, &fakeGenAI{reply: "Respuesta generada"}, streaks, questionnaire)
	return NewServer(sequencer, assembler, streaks, provider).Handler()
}

// doJSON performs a request with an optional session header and JSON body,
// returning the status code and the decoded response envelope.
func doJSON(t *testing.T, handler http.Handler, method, path, session string, body interface{}) (int, models.APIResponse) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if session != "" {
		req.Header.Set(SessionHeader, session)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var resp models.APIResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("%s %s: invalid JSON response %q: %v", method, path, rec.Body.String(), err)
	}
	return rec.Code, resp
}

func startOnboarding(t *testing.T, handler http.Handler) string {
	t.Helper()
	status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/start", "", nil)
	if status != http.StatusCreated {
		t.Fatalf("start: status = %d, want 201", status)
	}
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("start: unexpected result %v", resp.Result)
	}
	session, _ := result["session_id"].(string)
	if session == "" {
		t.Fatal("start: empty session id")
	}
	return session
}

// completeQuestionnaire drives the API through consent and all questions.
func completeQuestionnaire(t *testing.T, handler http.Handler, session string) {
	t.Helper()
	if status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/consent", session, nil); status != http.StatusOK {
		t.Fatalf("consent: status = %d (%s)", status, resp.Message)
	}
	answers := []map[string]interface{}{
		{"question_id": "q1", "text": "Ana"},
		{"question_id": "q2", "text": "Tranquilo"},
		{"question_id": "q3", "text": "Normal"},
		{"question_id": "q4", "text": "Bien"},
		{"question_id": "q5", "choices": []string{"Trabajo"}},
		{"question_id": "q6", "text": "Dormir mejor"},
	}
	for _, answer := range answers {
		if status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/answer", session, answer); status != http.StatusOK {
			t.Fatalf("answer %v: status = %d (%s)", answer["question_id"], status, resp.Message)
		}
		if status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/advance", session, nil); status != http.StatusOK {
			t.Fatalf("advance after %v: status = %d (%s)", answer["question_id"], status, resp.Message)
		}
	}
}

// completeOnboarding finishes the flow for the given email, including the
// password step for non-Gmail domains.
func completeOnboarding(t *testing.T, handler http.Handler, session, email, password string) {
	t.Helper()
	completeQuestionnaire(t, handler, session)
	if status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/email", session, map[string]string{"email": email}); status != http.StatusOK {
		t.Fatalf("email: status = %d (%s)", status, resp.Message)
	}
	if status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/confirm-email", session, map[string]string{"email": email}); status != http.StatusOK {
		t.Fatalf("confirm-email: status = %d (%s)", status, resp.Message)
	}
	if status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/verify", session, map[string]string{"code": testCode}); status != http.StatusOK {
		t.Fatalf("verify: status = %d (%s)", status, resp.Message)
	}
	if password != "" {
		if status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/password", session, map[string]string{"password": password}); status != http.StatusOK {
			t.Fatalf("password: status = %d (%s)", status, resp.Message)
		}
	}
}

func stepOf(t *testing.T, resp models.APIResponse) string {
	t.Helper()
	result, ok := resp.Result.(map[string]interface{})
	if !ok {
		t.Fatalf("unexpected result %v", resp.Result)
	}
	step, _ := result["step"].(string)
	return step
}

func TestHealthEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status = %d, want 200", rec.Code)
	}
}

func TestStartAndState(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)

	status, resp := doJSON(t, handler, http.MethodGet, "/api/onboarding/state", session, nil)
	if status != http.StatusOK {
		t.Fatalf("state: status = %d", status)
	}
	result := resp.Result.(map[string]interface{})
	if result["step"] != "consent" {
		t.Errorf("step = %v, want consent", result["step"])
	}
	if progress, _ := result["progress"].(float64); progress != 0 {
		t.Errorf("progress = %v, want 0", result["progress"])
	}
}

func TestStateUnknownSession(t *testing.T) {
	handler := newTestHandler(t)
	status, _ := doJSON(t, handler, http.MethodGet, "/api/onboarding/state", "p_ghost", nil)
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestAdvanceWithoutAnswerIsBadRequest(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	if status, _ := doJSON(t, handler, http.MethodPost, "/api/onboarding/consent", session, nil); status != http.StatusOK {
		t.Fatal("consent failed")
	}

	status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/advance", session, nil)
	if status != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", status)
	}
	if resp.Message == "" {
		t.Error("expected a validation message")
	}
}

func TestGmailOnboardingEndToEnd(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	completeQuestionnaire(t, handler, session)

	if status, _ := doJSON(t, handler, http.MethodPost, "/api/onboarding/email", session, map[string]string{"email": "ana@gmail.com"}); status != http.StatusOK {
		t.Fatal("email step failed")
	}
	if status, _ := doJSON(t, handler, http.MethodPost, "/api/onboarding/confirm-email", session, map[string]string{"email": "ana@gmail.com"}); status != http.StatusOK {
		t.Fatal("confirm-email step failed")
	}

	// Wrong code is recoverable.
	status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/verify", session, map[string]string{"code": "000000"})
	if status != http.StatusBadRequest {
		t.Fatalf("wrong code: status = %d, want 400", status)
	}

	status, resp = doJSON(t, handler, http.MethodPost, "/api/onboarding/verify", session, map[string]string{"code": testCode})
	if status != http.StatusOK {
		t.Fatalf("verify: status = %d (%s)", status, resp.Message)
	}
	if step := stepOf(t, resp); step != "complete" {
		t.Errorf("step after gmail verify = %s, want complete", step)
	}
}

func TestNonGmailOnboardingRequiresPassword(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	completeQuestionnaire(t, handler, session)

	for _, call := range []struct {
		path string
		body map[string]string
	}{
		{"/api/onboarding/email", map[string]string{"email": "leo@example.com"}},
		{"/api/onboarding/confirm-email", map[string]string{"email": "leo@example.com"}},
	} {
		if status, resp := doJSON(t, handler, http.MethodPost, call.path, session, call.body); status != http.StatusOK {
			t.Fatalf("%s: status = %d (%s)", call.path, status, resp.Message)
		}
	}

	status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/verify", session, map[string]string{"code": testCode})
	if status != http.StatusOK {
		t.Fatalf("verify: status = %d (%s)", status, resp.Message)
	}
	if step := stepOf(t, resp); step != "password" {
		t.Fatalf("step after verify = %s, want password", step)
	}

	status, resp = doJSON(t, handler, http.MethodPost, "/api/onboarding/password", session, map[string]string{"password": "short"})
	if status != http.StatusBadRequest {
		t.Fatalf("short password: status = %d, want 400", status)
	}

	status, resp = doJSON(t, handler, http.MethodPost, "/api/onboarding/password", session, map[string]string{"password": "unaClaveSegura"})
	if status != http.StatusOK {
		t.Fatalf("password: status = %d (%s)", status, resp.Message)
	}
	if step := stepOf(t, resp); step != "complete" {
		t.Errorf("final step = %s, want complete", step)
	}
}

func TestChatMessageAfterOnboarding(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	completeOnboarding(t, handler, session, "ana@gmail.com", "")

	status, resp := doJSON(t, handler, http.MethodPost, "/api/chat/message", session, map[string]string{"message": "1"})
	if status != http.StatusOK {
		t.Fatalf("message: status = %d (%s)", status, resp.Message)
	}
	result := resp.Result.(map[string]interface{})
	if result["mode"] != "free-talk" {
		t.Errorf("mode = %v, want free-talk", result["mode"])
	}
	assistant, ok := result["assistant_message"].(map[string]interface{})
	if !ok || assistant["content"] == "" {
		t.Errorf("expected non-empty assistant reply, got %v", result["assistant_message"])
	}

	// Empty message is a validation error.
	status, _ = doJSON(t, handler, http.MethodPost, "/api/chat/message", session, map[string]string{"message": "  "})
	if status != http.StatusBadRequest {
		t.Errorf("empty message: status = %d, want 400", status)
	}
}

func TestChatBeforeOnboardingComplete(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)

	status, _ := doJSON(t, handler, http.MethodPost, "/api/chat/message", session, map[string]string{"message": "hola"})
	if status != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", status)
	}
}

func TestTranscriptHidesSystemContext(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	completeOnboarding(t, handler, session, "ana@gmail.com", "")

	if status, _ := doJSON(t, handler, http.MethodPost, "/api/chat/message", session, map[string]string{"message": "hola"}); status != http.StatusOK {
		t.Fatal("message failed")
	}

	status, resp := doJSON(t, handler, http.MethodGet, "/api/chat/transcript", session, nil)
	if status != http.StatusOK {
		t.Fatalf("transcript: status = %d", status)
	}
	result := resp.Result.(map[string]interface{})
	messages, ok := result["messages"].([]interface{})
	if !ok {
		t.Fatalf("unexpected messages payload %v", result["messages"])
	}
	for _, raw := range messages {
		message := raw.(map[string]interface{})
		if message["role"] == "system" {
			t.Error("transcript endpoint leaked a system message")
		}
	}
}

func TestStreakEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	completeOnboarding(t, handler, session, "ana@gmail.com", "")

	if status, _ := doJSON(t, handler, http.MethodPost, "/api/chat/message", session, map[string]string{"message": "hola"}); status != http.StatusOK {
		t.Fatal("message failed")
	}

	status, resp := doJSON(t, handler, http.MethodGet, "/api/streak", session, nil)
	if status != http.StatusOK {
		t.Fatalf("streak: status = %d", status)
	}
	result := resp.Result.(map[string]interface{})
	if current, _ := result["current_streak"].(float64); current != 1 {
		t.Errorf("current_streak = %v, want 1", result["current_streak"])
	}

	// Missing session id is rejected.
	status, _ = doJSON(t, handler, http.MethodGet, "/api/streak", "", nil)
	if status != http.StatusBadRequest {
		t.Errorf("no session: status = %d, want 400", status)
	}
}

func TestLoginAndRefresh(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	completeOnboarding(t, handler, session, "leo@example.com", "unaClaveSegura")

	status, resp := doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "leo@example.com", "password": "unaClaveSegura"})
	if status != http.StatusOK {
		t.Fatalf("login: status = %d (%s)", status, resp.Message)
	}
	result := resp.Result.(map[string]interface{})
	refreshToken, _ := result["refresh_token"].(string)
	if refreshToken == "" {
		t.Fatal("login: missing refresh token")
	}

	status, resp = doJSON(t, handler, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refresh_token": refreshToken})
	if status != http.StatusOK {
		t.Fatalf("refresh: status = %d (%s)", status, resp.Message)
	}

	status, _ = doJSON(t, handler, http.MethodPost, "/api/auth/login", "", map[string]string{"email": "leo@example.com", "password": "incorrecta123"})
	if status != http.StatusUnauthorized {
		t.Errorf("wrong password: status = %d, want 401", status)
	}
}

func TestLogoutClearsChat(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	completeOnboarding(t, handler, session, "ana@gmail.com", "")

	if status, _ := doJSON(t, handler, http.MethodPost, "/api/chat/message", session, map[string]string{"message": "hola"}); status != http.StatusOK {
		t.Fatal("message failed")
	}
	if status, _ := doJSON(t, handler, http.MethodPost, "/api/chat/logout", session, nil); status != http.StatusOK {
		t.Fatal("logout failed")
	}

	status, resp := doJSON(t, handler, http.MethodGet, "/api/chat/transcript", session, nil)
	if status != http.StatusOK {
		t.Fatalf("transcript after logout: status = %d", status)
	}
	result := resp.Result.(map[string]interface{})
	if messages, ok := result["messages"].([]interface{}); ok && len(messages) != 0 {
		t.Errorf("transcript after logout has %d messages, want 0", len(messages))
	}
}

func TestRetreatEndpoint(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)
	if status, _ := doJSON(t, handler, http.MethodPost, "/api/onboarding/consent", session, nil); status != http.StatusOK {
		t.Fatal("consent failed")
	}
	if status, _ := doJSON(t, handler, http.MethodPost, "/api/onboarding/answer", session, map[string]string{"question_id": "q1", "text": "Ana"}); status != http.StatusOK {
		t.Fatal("answer failed")
	}
	if status, _ := doJSON(t, handler, http.MethodPost, "/api/onboarding/advance", session, nil); status != http.StatusOK {
		t.Fatal("advance failed")
	}

	status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/retreat", session, nil)
	if status != http.StatusOK {
		t.Fatalf("retreat: status = %d", status)
	}
	if step := stepOf(t, resp); step != "q1" {
		t.Errorf("step after retreat = %s, want q1", step)
	}
}

func TestSessionIDFromBody(t *testing.T) {
	handler := newTestHandler(t)
	session := startOnboarding(t, handler)

	// No header; the body field carries the session.
	status, resp := doJSON(t, handler, http.MethodPost, "/api/onboarding/consent", "", map[string]string{"session_id": session})
	if status != http.StatusOK {
		t.Fatalf("consent via body session: status = %d (%s)", status, resp.Message)
	}
}
