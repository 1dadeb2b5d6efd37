package util

import (
	"log/slog"
	"os"
	"strings"
)

// Accepted spellings for boolean environment variables, matched
// case-insensitively.
var (
	truthyEnvValues = []string{"true", "1", "yes", "on"}
	falsyEnvValues  = []string{"false", "0", "no", "off"}
)

// ParseBoolEnv reads a boolean environment variable, falling back to
// defaultValue when the variable is unset or carries an unrecognized value.
func ParseBoolEnv(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	folded := strings.ToLower(strings.TrimSpace(raw))
	for _, v := range truthyEnvValues {
		if folded == v {
			return true
		}
	}
	for _, v := range falsyEnvValues {
		if folded == v {
			return false
		}
	}
	slog.Warn("ParseBoolEnv: unrecognized boolean value, using default", "key", key, "value", raw, "default", defaultValue)
	return defaultValue
}
