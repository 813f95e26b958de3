package logging

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps zap.Logger and redacts sensitive values (the shared bearer
// secret, Authorization headers, token assignments) before any entry is
// written.
//
// Example:
//
//	logger, err := NewLogger(Options{Level: zapcore.InfoLevel, FilePath: "sd-cpp-server.log"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("listening", zap.String("addr", "0.0.0.0:7860"))
type Logger struct {
	zap *zap.Logger

	// isDevelopment selects colored console output
	isDevelopment bool

	// logFilePath is empty when file output is disabled
	logFilePath string
}

// Options configures NewLogger.
type Options struct {
	// Level is the minimum level written to every output.
	Level zapcore.Level

	// Development switches the console encoder to colored, human-readable output.
	Development bool

	// FilePath is the rotating JSON log file. Empty disables file output.
	FilePath string

	// File controls rotation of FilePath. Zero fields fall back to defaults.
	File FileWriterConfig
}

// NewLogger builds a Logger that tees console output with an optional
// rotating log file.
//
// Returns an error if the log file directory cannot be created.
func NewLogger(opts Options) (*Logger, error) {
	console := zapcore.Lock(zapcore.AddSync(os.Stdout))

	var core zapcore.Core
	if opts.FilePath == "" {
		core = NewConsoleCore(opts.Level, console, opts.Development)
	} else {
		if err := ensureLogDir(opts.FilePath); err != nil {
			return nil, fmt.Errorf("failed to prepare log file: %w", err)
		}
		fileCfg := opts.File
		if fileCfg == (FileWriterConfig{}) {
			fileCfg = DefaultFileWriterConfig()
		}
		fileWriter := NewFileWriterWithConfig(opts.FilePath, fileCfg)
		core = NewMultiCoreWithWriters(opts.Level, console, fileWriter, opts.Development)
	}

	return newLogger(core, opts.Development, opts.FilePath), nil
}

// NewLoggerFromCore wraps an existing zapcore.Core. Tests use it with
// zaptest/observer to assert on emitted entries.
func NewLoggerFromCore(core zapcore.Core) *Logger {
	return newLogger(core, false, "")
}

// NewNop returns a Logger that discards everything.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

func newLogger(core zapcore.Core, isDevelopment bool, logFilePath string) *Logger {
	return &Logger{
		zap: zap.New(core,
			zap.AddCaller(),
			zap.AddCallerSkip(1), // skip this wrapper
		),
		isDevelopment: isDevelopment,
		logFilePath:   logFilePath,
	}
}

// Sync flushes any buffered log entries. Call it before exiting.
func (l *Logger) Sync() error {
	if l == nil || l.zap == nil {
		return nil
	}
	return l.zap.Sync()
}

// Debug logs a message at DebugLevel.
func (l *Logger) Debug(msg string, fields ...zap.Field) {
	l.zap.Debug(msg, redactFields(fields)...)
}

// Info logs a message at InfoLevel.
func (l *Logger) Info(msg string, fields ...zap.Field) {
	l.zap.Info(msg, redactFields(fields)...)
}

// Warn logs a message at WarnLevel.
func (l *Logger) Warn(msg string, fields ...zap.Field) {
	l.zap.Warn(msg, redactFields(fields)...)
}

// Error logs a message at ErrorLevel.
func (l *Logger) Error(msg string, fields ...zap.Field) {
	l.zap.Error(msg, redactFields(fields)...)
}

// Fatal logs a message at FatalLevel then calls os.Exit(1).
func (l *Logger) Fatal(msg string, fields ...zap.Field) {
	l.zap.Fatal(msg, redactFields(fields)...)
}

// With creates a child logger carrying fields on every entry.
//
// Example:
//
//	reqLogger := logger.With(zap.String("request_id", id))
//	reqLogger.Info("generation started")
func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{
		zap:           l.zap.With(redactFields(fields)...),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Named adds a sub-logger name, e.g. "http" or "history".
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		zap:           l.zap.Named(name),
		isDevelopment: l.isDevelopment,
		logFilePath:   l.logFilePath,
	}
}

// Zap returns the underlying zap.Logger, e.g. for zap.NewStdLog when an
// http.Server needs a *log.Logger.
func (l *Logger) Zap() *zap.Logger {
	return l.zap
}

// IsDevelopment reports whether the logger uses the development encoder.
func (l *Logger) IsDevelopment() bool {
	return l.isDevelopment
}

// LogFilePath returns the log file path, or "" when file output is disabled.
func (l *Logger) LogFilePath() string {
	return l.logFilePath
}

func redactFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	result := make([]zap.Field, len(fields))
	for i, field := range fields {
		result[i] = redactField(field)
	}
	return result
}

func redactField(field zap.Field) zap.Field {
	if IsSensitiveField(field.Key) {
		return zap.String(field.Key, RedactedPlaceholder)
	}

	if field.Type == zapcore.StringType {
		redacted := RedactSensitiveData(field.String)
		if redacted != field.String {
			return zap.String(field.Key, redacted)
		}
	}

	return field
}
