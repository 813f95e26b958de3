// Command sd-cpp-server exposes the stable-diffusion.cpp command line tool
// as an OpenAI-compatible image generation HTTP API.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sdcpp_server/core"
	"sdcpp_server/core/validation"
	"sdcpp_server/logging"
	"sdcpp_server/shutdown"
)

const envFile = ".env"

func main() {
	if HandleServiceCommand(os.Args) {
		return
	}

	if err := EnterServiceDirectory(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to enter service directory: %v\n", err)
		os.Exit(core.ExitCodeError)
	}

	cfg, code := loadConfiguration(os.Stderr)
	if code != core.ExitCodeSuccess {
		os.Exit(code)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(core.ExitCodeError)
	}

	if !cfg.SkipValidation {
		if code := runStartupValidation(cfg, logger, os.Stdout); code != core.ExitCodeSuccess {
			_ = logger.Sync()
			os.Exit(code)
		}
	}

	if ranAsService, err := RunAsService(cfg, logger); ranAsService {
		if err != nil {
			logger.Error("service failed", zap.Error(err))
			_ = logger.Sync()
			os.Exit(core.ExitCodeError)
		}
		return
	}

	os.Exit(runForeground(cfg, logger))
}

// loadConfiguration reads .env when present and parses the environment.
// Problems are printed to w since no logger exists yet.
func loadConfiguration(w io.Writer) (*core.Config, int) {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		printConfigError(w, core.ErrEnvFileBroken(envFile, err))
		return nil, core.ExitCodeError
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		printConfigError(w, err)
		return nil, core.ExitCodeError
	}
	return cfg, core.ExitCodeSuccess
}

// chdirToExecutable makes the directory holding the executable the working
// directory, so .env and a relative log file resolve next to the binary.
func chdirToExecutable(executable func() (string, error)) (string, error) {
	exe, err := executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	dir := filepath.Dir(exe)
	if err := os.Chdir(dir); err != nil {
		return "", fmt.Errorf("change directory to %s: %w", dir, err)
	}
	return dir, nil
}

func printConfigError(w io.Writer, err error) {
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	if cfgErr, ok := core.IsConfigError(err); ok {
		fmt.Fprintf(w, "%s %s\n", red("configuration error:"), cfgErr.Message)
		if cfgErr.Action != "" {
			fmt.Fprintf(w, "  %s\n", cfgErr.Action)
		}
		return
	}
	fmt.Fprintf(w, "%s %v\n", red("configuration error:"), err)
}

func newLogger(cfg *core.Config) (*logging.Logger, error) {
	return logging.NewLogger(logging.Options{
		Level:       logging.ParseLogLevel(cfg.LogLevel, zapcore.InfoLevel),
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
	})
}

// runStartupValidation checks the filesystem before any listener is bound.
//
// Returns the appropriate exit code:
//   - ExitCodeSuccess (0) if all validations pass
//   - ExitCodeError (1) if any validation fails
func runStartupValidation(cfg *core.Config, logger *logging.Logger, out io.Writer) int {
	result := validation.NewValidationSuite(cfg).
		WithOutput(out).
		WithShowProgress(true).
		Validate()

	if !result.Success {
		logger.Error("startup validation failed",
			zap.Int("passed", result.PassedSteps),
			zap.Int("failed", result.FailedSteps),
			zap.Duration("duration", result.Duration),
		)
		for _, step := range result.Steps {
			if step.Status == validation.StepFailed {
				logger.Error("validation step failed",
					zap.String("step", step.Name),
					zap.String("message", step.Message),
					zap.Error(step.Error),
				)
			}
		}
		return core.ExitCodeError
	}

	logger.Info("startup validation passed",
		zap.Int("checks_passed", result.PassedSteps),
		zap.Int("warnings", result.Warnings),
		zap.Duration("duration", result.Duration),
	)
	return core.ExitCodeSuccess
}

// runForeground serves until SIGINT or SIGTERM and returns the exit code.
func runForeground(cfg *core.Config, logger *logging.Logger) int {
	manager := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
	manager.Start()

	logStartup(logger, cfg)

	a, err := newApp(context.Background(), cfg, logger, manager)
	if err != nil {
		logger.Error("failed to start server", zap.Error(err))
		_ = logger.Sync()
		return core.ExitCodeError
	}

	if err := a.run(); err != nil {
		logger.Error("server stopped with errors", zap.Error(err))
		return core.ExitCodeError
	}

	code := manager.ExitCode()
	logger.Info("goodbye", zap.String("exit", core.ExitCodeName(code)))
	_ = logger.Sync()
	return code
}
