// Command calma runs the Calma wellness service: the onboarding
// questionnaire, the chat session, and their HTTP API.
package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"

	"github.com/calma-app/calma/internal/api"
	"github.com/calma-app/calma/internal/genai"
	"github.com/calma-app/calma/internal/identity"
	"github.com/calma-app/calma/internal/store"
	"github.com/calma-app/calma/internal/util"
)

// Default configuration constants.
const (
	// DefaultStateDir is the default directory for Calma state data.
	DefaultStateDir = "/var/lib/calma"
	// DefaultDBFileName is the default SQLite database filename.
	DefaultDBFileName = "calma.db"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	storeOpts := buildStoreOptions(flags)
	genaiOpts := buildGenAIOptions(flags)
	identityOpts := buildIdentityOptions(flags)
	apiOpts := buildAPIOptions(flags)

	slog.Info("Bootstrapping Calma with configured modules")
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr)
	if err := api.Run(storeOpts, genaiOpts, identityOpts, apiOpts); err != nil {
		slog.Error("Calma failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("Calma exited successfully")
}

// Config holds environment configuration.
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	Model         string
	APIAddr       string
	TokenSecret   string
	Questionnaire string
	SweepSchedule string
}

// Flags holds command line flag values.
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	model         *string
	apiAddr       *string
	tokenSecret   *string
	questionnaire *string
	sweepSchedule *string
}

// initializeLogger sets up structured logging; CALMA_DEBUG enables the
// debug level.
func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("CALMA_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and
// an optional .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("CALMA_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		Model:         os.Getenv("CALMA_MODEL"),
		APIAddr:       os.Getenv("CALMA_API_ADDR"),
		TokenSecret:   os.Getenv("CALMA_TOKEN_SECRET"),
		Questionnaire: os.Getenv("CALMA_QUESTIONNAIRE"),
		SweepSchedule: os.Getenv("CALMA_SWEEP_SCHEDULE"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No CALMA_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}

	// Without a database URL the store falls back to SQLite in the state
	// directory.
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"CALMA_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"CALMA_API_ADDR", config.APIAddr,
		"CALMA_TOKEN_SECRET_SET", config.TokenSecret != "",
		"CALMA_QUESTIONNAIRE", config.Questionnaire,
		"CALMA_SWEEP_SCHEDULE", config.SweepSchedule)

	return config
}

// parseCommandLineFlags parses command line arguments with environment
// defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for Calma data (overrides $CALMA_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		model:         flag.String("model", config.Model, "chat model identifier (overrides $CALMA_MODEL)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $CALMA_API_ADDR)"),
		tokenSecret:   flag.String("token-secret", config.TokenSecret, "HMAC secret for auth tokens (overrides $CALMA_TOKEN_SECRET)"),
		questionnaire: flag.String("questionnaire", config.Questionnaire, "path to a questionnaire YAML file (overrides $CALMA_QUESTIONNAIRE)"),
		sweepSchedule: flag.String("sweep-schedule", config.SweepSchedule, "cron schedule for verification-code sweeps (overrides $CALMA_SWEEP_SCHEDULE)"),
	}

	flag.Parse()

	// Follow an overridden state directory when the DSN still points at the
	// default SQLite location.
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage.
func ensureDirectoriesExist(flags Flags) error {
	if strings.Contains(*flags.dbDSN, "postgres://") || strings.Contains(*flags.dbDSN, "postgresql://") || strings.Contains(*flags.dbDSN, "host=") {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		storeOpts = append(storeOpts, store.WithDSN(*flags.dbDSN))
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	return storeOpts
}

func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	return genaiOpts
}

func buildIdentityOptions(flags Flags) []identity.Option {
	var identityOpts []identity.Option
	if *flags.tokenSecret != "" {
		identityOpts = append(identityOpts, identity.WithTokenSecret(*flags.tokenSecret))
	}
	return identityOpts
}

func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.questionnaire != "" {
		apiOpts = append(apiOpts, api.WithQuestionnairePath(*flags.questionnaire))
	}
	if *flags.sweepSchedule != "" {
		apiOpts = append(apiOpts, api.WithSweepSchedule(*flags.sweepSchedule))
	}
	return apiOpts
}
