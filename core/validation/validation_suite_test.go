package validation

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"sdcpp_server/core"
)

func writeExecutable(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "sd")
	if err := os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755); err != nil {
		t.Fatalf("writing fake binary: %v", err)
	}
	return path
}

func validConfig(t *testing.T) *core.Config {
	t.Helper()
	dir := t.TempDir()
	models := filepath.Join(dir, "models")
	if err := os.Mkdir(models, 0o755); err != nil {
		t.Fatal(err)
	}
	return &core.Config{
		BinaryPath: writeExecutable(t, dir),
		ModelsDir:  models,
		CacheDir:   filepath.Join(dir, "cache"),
	}
}

func TestStepStatus_String(t *testing.T) {
	tests := map[StepStatus]string{
		StepPending:    "pending",
		StepRunning:    "running",
		StepPassed:     "passed",
		StepFailed:     "failed",
		StepWarning:    "warning",
		StepSkipped:    "skipped",
		StepStatus(99): "unknown",
	}
	for status, want := range tests {
		if got := status.String(); got != want {
			t.Errorf("StepStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}

func TestValidationSuite_AllPass(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses shell script binaries")
	}
	cfg := validConfig(t)

	result := NewValidationSuite(cfg).
		WithShowProgress(false).
		WithMinFreeBytes(1).
		Validate()

	if !result.Success {
		t.Fatalf("Validate() failed: %v", result.GetFirstError())
	}
	if result.TotalSteps != 5 {
		t.Errorf("TotalSteps = %d, want 5", result.TotalSteps)
	}
	if _, err := os.Stat(cfg.CacheDir); err != nil {
		t.Errorf("cache directory not created: %v", err)
	}
	last := result.Steps[len(result.Steps)-1]
	if last.Status != StepSkipped {
		t.Errorf("history step = %v, want skipped when disabled", last.Status)
	}
}

func TestValidationSuite_MissingBinary(t *testing.T) {
	cfg := validConfig(t)
	cfg.BinaryPath = filepath.Join(t.TempDir(), "does-not-exist")

	result := NewValidationSuite(cfg).WithShowProgress(false).WithMinFreeBytes(1).Validate()

	if result.Success {
		t.Fatal("Validate() succeeded with missing binary")
	}
	var fe *FileExistsError
	if !errors.As(result.GetFirstError(), &fe) {
		t.Errorf("first error = %v, want *FileExistsError", result.GetFirstError())
	}
	if result.Steps[0].Status != StepFailed {
		t.Errorf("binary step = %v", result.Steps[0].Status)
	}
}

func TestValidationSuite_FailFast(t *testing.T) {
	cfg := validConfig(t)
	cfg.BinaryPath = ""

	result := NewValidationSuite(cfg).WithShowProgress(false).WithFailFast(true).Validate()

	if len(result.Steps) != 1 {
		t.Errorf("ran %d steps, want 1 with fail fast", len(result.Steps))
	}
}

func TestValidationSuite_DiskSpaceWarning(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses shell script binaries")
	}
	cfg := validConfig(t)

	result := NewValidationSuite(cfg).
		WithShowProgress(false).
		WithMinFreeBytes(1 << 62).
		Validate()

	if !result.Success {
		t.Fatalf("warning must not fail the suite: %v", result.GetFirstError())
	}
	if result.Warnings != 1 {
		t.Errorf("Warnings = %d, want 1", result.Warnings)
	}
}

func TestValidationSuite_HistoryDir(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses shell script binaries")
	}
	cfg := validConfig(t)
	cfg.HistoryDB = filepath.Join(t.TempDir(), "nested", "history.db")

	result := NewValidationSuite(cfg).WithShowProgress(false).WithMinFreeBytes(1).Validate()

	if !result.Success {
		t.Fatalf("Validate() failed: %v", result.GetFirstError())
	}
	if result.Steps[4].Status != StepPassed {
		t.Errorf("history step = %v, want passed", result.Steps[4].Status)
	}
}

func TestValidationSuite_ProgressOutput(t *testing.T) {
	var buf bytes.Buffer
	cfg := validConfig(t)
	cfg.ModelsDir = filepath.Join(t.TempDir(), "missing")

	NewValidationSuite(cfg).WithOutput(&buf).WithMinFreeBytes(1).Validate()

	out := buf.String()
	for _, want := range []string{"Generator Binary", "Models Directory", "directory not found", "Checks Failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSuiteResult_Summary(t *testing.T) {
	r := SuiteResult{TotalSteps: 5, PassedSteps: 3, FailedSteps: 1, Warnings: 1, Duration: 12 * time.Millisecond}
	s := r.Summary()
	for _, want := range []string{"Failed", "3/5", "1 failed", "1 warnings"} {
		if !strings.Contains(s, want) {
			t.Errorf("Summary() = %q, missing %q", s, want)
		}
	}

	r = SuiteResult{TotalSteps: 2, PassedSteps: 2, Success: true}
	if !strings.HasPrefix(r.Summary(), "Validation Passed") {
		t.Errorf("Summary() = %q", r.Summary())
	}
}

func TestSuiteResult_GetFirstError_IgnoresWarnings(t *testing.T) {
	warnErr := errors.New("statfs failed")
	failErr := errors.New("missing")
	r := SuiteResult{Steps: []ValidationStep{
		{Status: StepWarning, Error: warnErr},
		{Status: StepFailed, Error: failErr},
	}}
	if got := r.GetFirstError(); got != failErr {
		t.Errorf("GetFirstError() = %v, want %v", got, failErr)
	}
}
