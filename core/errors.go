package core

import (
	"errors"
	"fmt"
)

// ConfigError represents a configuration-related error with actionable instructions.
type ConfigError struct {
	Code    string // Error code for programmatic handling
	Message string // Human-readable error message
	Action  string // Actionable instruction for resolution
}

func (e *ConfigError) Error() string {
	if e.Action != "" {
		return fmt.Sprintf("%s. %s", e.Message, e.Action)
	}
	return e.Message
}

// Error codes for configuration errors
const (
	ErrCodeMissingConfig = "MISSING_CONFIG"
	ErrCodeInvalidConfig = "INVALID_CONFIG"
	ErrCodeEnvFileBroken = "ENV_FILE_BROKEN"
)

// ErrMissingConfig returns an error for a required variable that is unset or empty.
func ErrMissingConfig(varName string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeMissingConfig,
		Message: fmt.Sprintf("Missing required configuration: %s", varName),
		Action:  fmt.Sprintf("Set %s in the environment or in a .env file", varName),
	}
}

// ErrInvalidConfig returns an error for a variable whose value cannot be used.
func ErrInvalidConfig(varName, value, reason string) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeInvalidConfig,
		Message: fmt.Sprintf("Invalid value %q for %s: %s", value, varName, reason),
		Action:  fmt.Sprintf("Fix %s and restart the server", varName),
	}
}

// ErrEnvFileBroken returns an error for a .env file that exists but cannot be parsed.
func ErrEnvFileBroken(path string, err error) *ConfigError {
	return &ConfigError{
		Code:    ErrCodeEnvFileBroken,
		Message: fmt.Sprintf("Cannot load %s: %v", path, err),
		Action:  "Fix the syntax of the file or remove it",
	}
}

// IsConfigError reports whether err wraps a ConfigError and returns it.
func IsConfigError(err error) (*ConfigError, bool) {
	var configErr *ConfigError
	if errors.As(err, &configErr) {
		return configErr, true
	}
	return nil, false
}

// GetErrorCode extracts the error code from an error if it's a ConfigError
func GetErrorCode(err error) string {
	if configErr, ok := IsConfigError(err); ok {
		return configErr.Code
	}
	return ""
}
