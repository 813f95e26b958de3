package validation

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fatih/color"

	"sdcpp_server/core"
)

// ValidationStep represents a single validation step with its status.
type ValidationStep struct {
	Name    string
	Status  StepStatus
	Message string
	Error   error
	Latency time.Duration
}

// StepStatus represents the status of a validation step.
type StepStatus int

const (
	StepPending StepStatus = iota
	StepRunning
	StepPassed
	StepFailed
	StepWarning
	StepSkipped
)

// String returns the string representation of a step status.
func (s StepStatus) String() string {
	switch s {
	case StepPending:
		return "pending"
	case StepRunning:
		return "running"
	case StepPassed:
		return "passed"
	case StepFailed:
		return "failed"
	case StepWarning:
		return "warning"
	case StepSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// SuiteResult represents the complete result of validation suite execution.
type SuiteResult struct {
	Steps       []ValidationStep
	TotalSteps  int
	PassedSteps int
	FailedSteps int
	Warnings    int
	Duration    time.Duration
	Success     bool
}

// DefaultMinFreeBytes is the free space below which the cache check warns.
const DefaultMinFreeBytes int64 = 512 * core.BytesPerMB

// checkFunc performs one step and reports its status, a short message and
// the failure cause.
type checkFunc func() (StepStatus, string, error)

// ValidationSuite runs the filesystem checks that must hold before the
// server accepts traffic: the generator binary, the models directory, the
// cache directory and, when enabled, the history database location.
type ValidationSuite struct {
	output       io.Writer
	cfg          *core.Config
	minFreeBytes int64
	showProgress bool
	failFast     bool
}

// NewValidationSuite creates a suite for cfg with default settings.
func NewValidationSuite(cfg *core.Config) *ValidationSuite {
	return &ValidationSuite{
		output:       os.Stdout,
		cfg:          cfg,
		minFreeBytes: DefaultMinFreeBytes,
		showProgress: true,
	}
}

// WithOutput sets the output writer for progress messages.
func (s *ValidationSuite) WithOutput(w io.Writer) *ValidationSuite {
	s.output = w
	return s
}

// WithShowProgress enables or disables progress output.
func (s *ValidationSuite) WithShowProgress(show bool) *ValidationSuite {
	s.showProgress = show
	return s
}

// WithFailFast stops validation on first failure if enabled.
func (s *ValidationSuite) WithFailFast(failFast bool) *ValidationSuite {
	s.failFast = failFast
	return s
}

// WithMinFreeBytes sets the free-space threshold for the disk space warning.
func (s *ValidationSuite) WithMinFreeBytes(n int64) *ValidationSuite {
	s.minFreeBytes = n
	return s
}

// Validate runs all checks in order with progress output.
func (s *ValidationSuite) Validate() SuiteResult {
	startTime := time.Now()

	if s.showProgress {
		s.printHeader("sd.cpp server startup checks")
	}

	checks := []struct {
		name string
		fn   checkFunc
	}{
		{"Generator Binary", s.checkBinary},
		{"Models Directory", s.checkModels},
		{"Cache Directory", s.checkCache},
		{"Cache Disk Space", s.checkDiskSpace},
		{"History Database", s.checkHistory},
	}

	steps := make([]ValidationStep, 0, len(checks))
	for _, check := range checks {
		step := s.runStep(check.name, check.fn)
		steps = append(steps, step)
		if s.failFast && step.Status == StepFailed {
			break
		}
	}

	result := s.buildResult(steps, startTime)

	if s.showProgress {
		s.printSummary(result)
	}

	return result
}

func (s *ValidationSuite) checkBinary() (StepStatus, string, error) {
	if err := CheckExecutable(s.cfg.BinaryPath); err != nil {
		return StepFailed, "", err
	}
	resolved, _ := ResolveExecutable(s.cfg.BinaryPath)
	return StepPassed, resolved, nil
}

func (s *ValidationSuite) checkModels() (StepStatus, string, error) {
	if err := CheckDirectory(s.cfg.ModelsDir); err != nil {
		return StepFailed, "", err
	}
	return StepPassed, s.cfg.ModelsDir, nil
}

func (s *ValidationSuite) checkCache() (StepStatus, string, error) {
	if err := CheckWritableDir(s.cfg.CacheDir, true); err != nil {
		return StepFailed, "", err
	}
	return StepPassed, s.cfg.CacheDir, nil
}

func (s *ValidationSuite) checkDiskSpace() (StepStatus, string, error) {
	info, err := GetDiskSpace(s.cfg.CacheDir)
	if err != nil {
		return StepWarning, "unable to determine free space", err
	}
	if info.Free < s.minFreeBytes {
		return StepWarning, fmt.Sprintf("only %s free (recommended %s)", info.FreeFormatted, core.FormatBytes(s.minFreeBytes)), nil
	}
	return StepPassed, fmt.Sprintf("%s free", info.FreeFormatted), nil
}

func (s *ValidationSuite) checkHistory() (StepStatus, string, error) {
	if !s.cfg.HistoryEnabled() {
		return StepSkipped, "history disabled", nil
	}
	if err := CheckWritableDir(filepath.Dir(s.cfg.HistoryDB), true); err != nil {
		return StepFailed, "", err
	}
	return StepPassed, s.cfg.HistoryDB, nil
}

// runStep executes a validation step with timing and progress output.
func (s *ValidationSuite) runStep(name string, fn checkFunc) ValidationStep {
	step := ValidationStep{Name: name, Status: StepRunning}

	if s.showProgress {
		s.printStepStart(name)
	}

	startTime := time.Now()
	status, message, err := fn()
	step.Latency = time.Since(startTime)
	step.Status = status
	step.Message = message
	step.Error = err

	if s.showProgress {
		s.printStep(step)
	}

	return step
}

// buildResult creates a SuiteResult from completed steps.
func (s *ValidationSuite) buildResult(steps []ValidationStep, startTime time.Time) SuiteResult {
	result := SuiteResult{
		Steps:      steps,
		TotalSteps: len(steps),
		Duration:   time.Since(startTime),
		Success:    true,
	}

	for _, step := range steps {
		switch step.Status {
		case StepPassed:
			result.PassedSteps++
		case StepFailed:
			result.FailedSteps++
			result.Success = false
		case StepWarning:
			result.Warnings++
		}
	}

	return result
}

func (s *ValidationSuite) printHeader(title string) {
	fmt.Fprintln(s.output)
	color.New(color.FgCyan, color.Bold).Fprintf(s.output, "━━━ %s ━━━\n", title)
	fmt.Fprintln(s.output)
}

func (s *ValidationSuite) printStepStart(name string) {
	fmt.Fprintf(s.output, "  ◌ %s...", name)
}

func (s *ValidationSuite) printStep(step ValidationStep) {
	var icon string
	var clr *color.Color

	switch step.Status {
	case StepPassed:
		icon, clr = "✓", color.New(color.FgGreen)
	case StepFailed:
		icon, clr = "✗", color.New(color.FgRed)
	case StepWarning:
		icon, clr = "!", color.New(color.FgYellow)
	case StepSkipped:
		icon, clr = "○", color.New(color.FgHiBlack)
	default:
		icon, clr = "?", color.New(color.FgWhite)
	}

	// overwrite the "running" line
	fmt.Fprintf(s.output, "\r")
	clr.Fprintf(s.output, "  %s %s", icon, step.Name)

	if step.Message != "" {
		color.New(color.FgHiBlack).Fprintf(s.output, " - %s", step.Message)
	}

	fmt.Fprintln(s.output)

	if step.Status != StepPassed && step.Error != nil {
		color.New(color.FgRed).Fprintf(s.output, "    └─ %s\n", step.Error.Error())
	}
}

func (s *ValidationSuite) printSummary(result SuiteResult) {
	fmt.Fprintln(s.output)

	if result.Success {
		successColor := color.New(color.FgGreen, color.Bold)
		successColor.Fprintf(s.output, "━━━ Checks Passed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d/%d passed, %d warnings, %v)",
			result.PassedSteps, result.TotalSteps, result.Warnings, result.Duration.Round(time.Millisecond))
		successColor.Fprintln(s.output, " ━━━")
	} else {
		failColor := color.New(color.FgRed, color.Bold)
		failColor.Fprintf(s.output, "━━━ Checks Failed ")
		color.New(color.FgHiBlack).Fprintf(s.output, "(%d passed, %d failed)",
			result.PassedSteps, result.FailedSteps)
		failColor.Fprintln(s.output, " ━━━")
	}

	fmt.Fprintln(s.output)
}

// GetFirstError returns the first error from a failed step, or nil.
func (r SuiteResult) GetFirstError() error {
	for _, step := range r.Steps {
		if step.Status == StepFailed && step.Error != nil {
			return step.Error
		}
	}
	return nil
}

// Summary returns a human-readable summary string.
func (r SuiteResult) Summary() string {
	var sb strings.Builder
	if r.Success {
		sb.WriteString("Validation Passed: ")
	} else {
		sb.WriteString("Validation Failed: ")
	}
	fmt.Fprintf(&sb, "%d/%d checks passed", r.PassedSteps, r.TotalSteps)
	if r.FailedSteps > 0 {
		fmt.Fprintf(&sb, ", %d failed", r.FailedSteps)
	}
	if r.Warnings > 0 {
		fmt.Fprintf(&sb, ", %d warnings", r.Warnings)
	}
	fmt.Fprintf(&sb, " (took %v)", r.Duration.Round(time.Millisecond))
	return sb.String()
}
