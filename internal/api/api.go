package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/calma-app/calma/internal/flow"
	"github.com/calma-app/calma/internal/genai"
	"github.com/calma-app/calma/internal/identity"
	"github.com/calma-app/calma/internal/scheduler"
	"github.com/calma-app/calma/internal/store"
	"github.com/calma-app/calma/internal/streak"
)

// Defaults for the HTTP server.
const (
	DefaultAddr          = ":8080"
	DefaultSweepSchedule = "*/15 * * * *"

	// SessionHeader carries the participant's session id; a session_id body
	// field works as well.
	SessionHeader = "X-Calma-Session"
)

// Opts holds configuration options for the API server.
type Opts struct {
	Addr              string
	QuestionnairePath string
	SweepSchedule     string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithQuestionnairePath overrides the embedded questionnaire with a file.
func WithQuestionnairePath(path string) Option {
	return func(o *Opts) {
		o.QuestionnairePath = path
	}
}

// WithSweepSchedule sets the cron expression for verification-code sweeps.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) {
		o.SweepSchedule = expr
	}
}

// Server wires the sequencer, the assembler, and their collaborators into
// HTTP handlers.
type Server struct {
	sequencer *flow.Sequencer
	assembler *flow.Assembler
	streaks   *streak.Manager
	provider  identity.Provider
}

// NewServer creates a server over already-constructed collaborators.
func NewServer(sequencer *flow.Sequencer, assembler *flow.Assembler, streaks *streak.Manager, provider identity.Provider) *Server {
	return &Server{
		sequencer: sequencer,
		assembler: assembler,
		streaks:   streaks,
		provider:  provider,
	}
}

// Handler builds the chi router for the full API surface.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/health", s.healthHandler)

	r.Route("/api/onboarding", func(r chi.Router) {
		r.Post("/start", s.startHandler)
		r.Get("/state", s.stateHandler)
		r.Post("/consent", s.consentHandler)
		r.Post("/answer", s.answerHandler)
		r.Post("/advance", s.advanceHandler)
		r.Post("/retreat", s.retreatHandler)
		r.Post("/email", s.emailHandler)
		r.Post("/confirm-email", s.confirmEmailHandler)
		r.Post("/verify", s.verifyHandler)
		r.Post("/resend-code", s.resendCodeHandler)
		r.Post("/password", s.passwordHandler)
		r.Post("/oauth", s.oauthHandler)
	})

	r.Route("/api/chat", func(r chi.Router) {
		r.Post("/message", s.messageHandler)
		r.Get("/transcript", s.transcriptHandler)
		r.Post("/reset", s.resetHandler)
		r.Post("/logout", s.logoutHandler)
	})

	r.Get("/api/streak", s.streakHandler)

	r.Route("/api/auth", func(r chi.Router) {
		r.Post("/login", s.loginHandler)
		r.Post("/refresh", s.refreshHandler)
	})

	return r
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Run builds the full service from options and serves it: store, identity
// provider and code issuer, conversational client, sequencer, assembler,
// streak manager, and the verification-code sweep job.
func Run(storeOpts []store.Option, genaiOpts []genai.Option, identityOpts []identity.Option, apiOpts []Option) error {
	cfg := Opts{Addr: DefaultAddr, SweepSchedule: DefaultSweepSchedule}
	for _, opt := range apiOpts {
		opt(&cfg)
	}

	st, err := store.New(storeOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	defer st.Close()

	provider, err := identity.NewLocalProvider(st, identityOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize identity provider: %w", err)
	}
	issuer := identity.NewVerificationIssuer(st, identity.LogSender{})

	// Without a configured API key chat replies come from the deterministic
	// fallback; the service still runs.
	var client genai.ClientInterface
	if genaiClient, err := genai.NewClient(genaiOpts...); err != nil {
		slog.Warn("api.Run: conversational client disabled", "reason", err)
	} else {
		client = genaiClient
	}

	questionnaire, err := flow.LoadQuestionnaire(cfg.QuestionnairePath)
	if err != nil {
		return fmt.Errorf("failed to load questionnaire: %w", err)
	}

	states := flow.NewStoreBasedStateManager(st)
	streaks := streak.NewManager(st)
	sequencer := flow.NewSequencer(states, provider, issuer, questionnaire)
	assembler := flow.NewAssembler(states, client, streaks, questionnaire)

	sched := scheduler.NewScheduler()
	defer sched.Stop()
	if err := sched.AddJob(cfg.SweepSchedule, func() {
		if _, err := issuer.SweepExpired(context.Background()); err != nil {
			slog.Error("api.Run: verification-code sweep failed", "error", err)
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule verification-code sweep: %w", err)
	}

	server := NewServer(sequencer, assembler, streaks, provider)
	slog.Info("api.Run: listening", "addr", cfg.Addr)
	return http.ListenAndServe(cfg.Addr, server.Handler())
}
