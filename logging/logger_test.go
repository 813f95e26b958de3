package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// syncLogger ignores the "invalid argument" error Linux returns when
// syncing stdout.
func syncLogger(t testing.TB, logger *Logger) {
	t.Helper()
	if err := logger.Sync(); err != nil {
		if strings.Contains(err.Error(), "invalid argument") || strings.Contains(err.Error(), "inappropriate ioctl") {
			return
		}
		t.Logf("Sync() warning: %v", err)
	}
}

func TestNewLogger_WritesFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "logs", "server.log")

	logger, err := NewLogger(Options{Level: zapcore.InfoLevel, FilePath: logPath})
	if err != nil {
		t.Fatalf("NewLogger() returned error: %v", err)
	}
	defer syncLogger(t, logger)

	if logger.LogFilePath() != logPath {
		t.Errorf("LogFilePath() = %q, want %q", logger.LogFilePath(), logPath)
	}

	logger.Info("test message", zap.String("key", "value"))
	syncLogger(t, logger)

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("reading log file: %v", err)
	}
	if !strings.Contains(string(data), `"message":"test message"`) {
		t.Errorf("log file missing entry, got %s", data)
	}
}

func TestNewLogger_ConsoleOnly(t *testing.T) {
	logger, err := NewLogger(Options{Level: zapcore.DebugLevel, Development: true})
	if err != nil {
		t.Fatalf("NewLogger() returned error: %v", err)
	}
	if !logger.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
	if logger.LogFilePath() != "" {
		t.Errorf("LogFilePath() = %q, want empty", logger.LogFilePath())
	}
}

func TestLogger_RedactsSensitiveFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromCore(core)

	logger.Info("config loaded",
		zap.String("SD_CPP_SERVER_TOKEN", "hunter2"),
		zap.String("header", "Bearer abcdef"),
		zap.String("model", "sd-v1.ckpt"),
	)

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	fields := entries[0].ContextMap()

	if fields["SD_CPP_SERVER_TOKEN"] != RedactedPlaceholder {
		t.Errorf("token field = %v, want redacted", fields["SD_CPP_SERVER_TOKEN"])
	}
	if strings.Contains(fields["header"].(string), "abcdef") {
		t.Errorf("header field leaked secret: %v", fields["header"])
	}
	if fields["model"] != "sd-v1.ckpt" {
		t.Errorf("model field = %v, want unchanged", fields["model"])
	}
}

func TestLogger_WithAndNamed(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewLoggerFromCore(core).Named("http").With(zap.String("request_id", "r1"))

	logger.Warn("slow request")

	entries := logs.All()
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	if entries[0].LoggerName != "http" {
		t.Errorf("LoggerName = %q, want http", entries[0].LoggerName)
	}
	if entries[0].ContextMap()["request_id"] != "r1" {
		t.Errorf("request_id missing from %v", entries[0].ContextMap())
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("Level = %v, want warn", entries[0].Level)
	}
}

func TestNewNop(t *testing.T) {
	logger := NewNop()
	logger.Info("discarded")
	if err := logger.Sync(); err != nil {
		t.Errorf("Sync() = %v", err)
	}
}

func TestGenerationFields(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	logger := NewLoggerFromCore(core)

	logger.Info("generation complete", GenerationFields(GenerationSummary{
		RequestID: "abc",
		Model:     "sd-v1.ckpt",
		Size:      "512x512",
		Steps:     20,
		CfgScale:  7,
		Seed:      -1,
		Status:    "success",
	}))

	gen, ok := logs.All()[0].ContextMap()["generation"].(map[string]interface{})
	if !ok {
		t.Fatalf("generation field not an object: %v", logs.All()[0].ContextMap())
	}
	if gen["model"] != "sd-v1.ckpt" {
		t.Errorf("model = %v", gen["model"])
	}
	if _, present := gen["error_kind"]; present {
		t.Error("error_kind should be omitted on success")
	}
}

func TestCommandFields_RedactsArgs(t *testing.T) {
	fields := CommandFields("/usr/bin/sd", []string{"--threads", "4", "token=supersecretvalue"})
	args := fields[1].Interface
	if args == nil {
		t.Fatal("args field empty")
	}
	core, logs := observer.New(zapcore.InfoLevel)
	NewLoggerFromCore(core).Info("spawn", fields...)
	got := logs.All()[0].ContextMap()["args"].([]interface{})
	if got[2] != RedactedPlaceholder {
		t.Errorf("args[2] = %v, want redacted", got[2])
	}
	if got[0] != "--threads" {
		t.Errorf("args[0] = %v", got[0])
	}
}

func TestCommandFields_HidesPrompts(t *testing.T) {
	args := []string{"-m", "/models/sd.ckpt", "-p", "a red fox", "-o", "/tmp/out.png", "-n", "blurry"}

	core, logs := observer.New(zapcore.DebugLevel)
	NewLoggerFromCore(core).Debug("starting generator", CommandFields("/usr/bin/sd", args)...)
	got := logs.All()[0].ContextMap()["args"].([]interface{})

	tests := []struct {
		index int
		want  string
	}{
		{1, "/models/sd.ckpt"},
		{2, "-p"},
		{3, "[9 chars]"},
		{5, "/tmp/out.png"},
		{7, "[6 chars]"},
	}
	for _, tt := range tests {
		if got[tt.index] != tt.want {
			t.Errorf("args[%d] = %v, want %q", tt.index, got[tt.index], tt.want)
		}
	}
	for _, arg := range got {
		if arg == "a red fox" || arg == "blurry" {
			t.Errorf("prompt text %q logged verbatim", arg)
		}
	}
}
