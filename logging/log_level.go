package logging

import (
	"strings"

	"go.uber.org/zap/zapcore"
)

// ParseLogLevel parses a level name (debug, info, warn, warning, error,
// fatal), case-insensitively. Unknown or empty values return defaultLevel.
//
// Example:
//
//	level := ParseLogLevel(cfg.LogLevel, zapcore.InfoLevel)
func ParseLogLevel(levelStr string, defaultLevel zapcore.Level) zapcore.Level {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return defaultLevel
	}
}
