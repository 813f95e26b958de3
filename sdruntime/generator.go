package sdruntime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"sdcpp_server/logging"
)

// Options configures a Generator. It mirrors the generation part of
// core.Config and is never modified after construction.
type Options struct {
	BinaryPath string
	FixedArgs  []string
	ModelsDir  string
	CacheDir   string

	// Timeout kills the process after this long. Zero means no limit.
	Timeout time.Duration

	// CancelOnDisconnect ties the process lifetime to the caller's context.
	// When false the process runs to completion even if the client leaves.
	CancelOnDisconnect bool
}

// Outcome describes one finished generation attempt.
type Outcome struct {
	RequestID     string
	Request       GenerationRequest
	StartedAt     time.Time
	Duration      time.Duration
	ExitCode      int
	ImageBytes    int
	CleanupFailed bool

	// Err is nil on success.
	Err *GenerationError
}

// Status is "success" or "error".
func (o Outcome) Status() string {
	if o.Err == nil {
		return "success"
	}
	return "error"
}

// Kind is the error kind, or "" on success.
func (o Outcome) Kind() string {
	if o.Err == nil {
		return ""
	}
	return string(o.Err.Kind)
}

// Observer is notified around every generation. Implementations must not
// block; the history recorder hands records to an async writer.
type Observer interface {
	GenerationStarted()
	GenerationFinished(Outcome)
}

// Generator turns GenerationRequests into images by running the external
// generator binary.
type Generator struct {
	opts      Options
	runner    Runner
	limiter   *Limiter
	logger    *logging.Logger
	observers []Observer
	now       func() time.Time
}

// GeneratorOption customizes a Generator.
type GeneratorOption func(*Generator)

// WithRunner replaces the os/exec runner.
func WithRunner(r Runner) GeneratorOption {
	return func(g *Generator) { g.runner = r }
}

// WithLimiter enables admission control. A nil limiter means unbounded.
func WithLimiter(l *Limiter) GeneratorOption {
	return func(g *Generator) { g.limiter = l }
}

// WithObserver registers an observer. May be given more than once.
func WithObserver(o Observer) GeneratorOption {
	return func(g *Generator) {
		if o != nil {
			g.observers = append(g.observers, o)
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) { g.now = now }
}

// NewGenerator creates a Generator. Without options it runs processes with
// ExecRunner and admits every request.
func NewGenerator(opts Options, logger *logging.Logger, options ...GeneratorOption) *Generator {
	if logger == nil {
		logger = logging.NewNop()
	}
	g := &Generator{
		opts:   opts,
		runner: NewExecRunner(),
		logger: logger.Named("generator"),
		now:    time.Now,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// Generate validates req, runs the generator and returns the encoded image.
// Every error is a *GenerationError.
func (g *Generator) Generate(ctx context.Context, req GenerationRequest) (*Result, error) {
	started := g.now()
	outcome := Outcome{
		RequestID: uuid.NewString(),
		Request:   req,
		StartedAt: started,
		ExitCode:  -1,
	}

	for _, o := range g.observers {
		o.GenerationStarted()
	}

	result, err := g.generate(ctx, req, started, &outcome)
	outcome.Duration = g.now().Sub(started)
	if err != nil {
		outcome.Err = AsGenerationError(err)
	}

	g.logOutcome(outcome)
	for _, o := range g.observers {
		o.GenerationFinished(outcome)
	}

	if err != nil {
		return nil, outcome.Err
	}
	return result, nil
}

func (g *Generator) generate(ctx context.Context, req GenerationRequest, started time.Time, outcome *Outcome) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	release, err := g.limiter.Acquire(ctx)
	if err != nil {
		return nil, admissionError(err)
	}
	defer release()

	procCtx := ctx
	if !g.opts.CancelOnDisconnect {
		procCtx = context.WithoutCancel(ctx)
	}
	if g.opts.Timeout > 0 {
		var cancel context.CancelFunc
		procCtx, cancel = context.WithTimeout(procCtx, g.opts.Timeout)
		defer cancel()
	}

	outputPath := OutputPath(g.opts.CacheDir, started)
	args := BuildArgs(g.opts.FixedArgs, g.opts.ModelsDir, req, outputPath)

	g.logger.Debug("starting generator",
		append(logging.CommandFields(g.opts.BinaryPath, args), zap.String("request_id", outcome.RequestID))...)

	run := g.runner.Run(procCtx, g.opts.BinaryPath, args)
	outcome.ExitCode = run.ExitCode

	if run.SpawnErr != nil {
		return nil, serverError(ErrSpawnFailed, "Failed to execute sd command: %v", run.SpawnErr)
	}
	if !run.Success() {
		g.discardOutput(outputPath)
		if ctxErr := procCtx.Err(); ctxErr != nil {
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				return nil, serverError(ErrGenerationTimeout, "Image generation timed out after %s", g.opts.Timeout)
			}
			return nil, serverError(ErrProcessFailed, "Image generation cancelled: %v", ctxErr)
		}
		return nil, serverError(ErrProcessFailed, "Image generation failed: %s", run.Stderr)
	}

	result, artifact, err := Materialize(outputPath, started, g.logger)
	if err != nil {
		return nil, err
	}
	outcome.ImageBytes = artifact.Bytes
	outcome.CleanupFailed = artifact.CleanupErr != nil
	return result, nil
}

// discardOutput removes a partial output file after a failed run.
func (g *Generator) discardOutput(path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		g.logger.Warn("failed to remove partial output", zap.String("path", path), zap.Error(err))
	}
}

func (g *Generator) logOutcome(o Outcome) {
	summary := logging.GenerationSummary{
		RequestID:  o.RequestID,
		Model:      o.Request.Model,
		Size:       o.Request.Size,
		Steps:      o.Request.Steps,
		CfgScale:   o.Request.CfgScale,
		Seed:       o.Request.Seed,
		Status:     o.Status(),
		ErrorKind:  o.Kind(),
		ImageBytes: o.ImageBytes,
		Duration:   o.Duration,
	}

	switch {
	case o.Err == nil:
		g.logger.Info("generation complete", logging.GenerationFields(summary))
	case o.Err.Kind == KindInvalidRequest:
		g.logger.Info("generation rejected", logging.GenerationFields(summary), zap.String("reason", o.Err.Message))
	default:
		g.logger.Error("generation failed", logging.GenerationFields(summary),
			zap.Int("exit_code", o.ExitCode),
			zap.String("error", o.Err.Message),
		)
	}
}

func admissionError(err error) error {
	switch {
	case errors.Is(err, ErrAdmissionTimeout):
		return serverError(err, "Timed out waiting for a free generation slot")
	case errors.Is(err, ErrLimiterClosed):
		return serverError(ErrShuttingDown, "Server is shutting down")
	default:
		// keeps the context error visible to errors.Is
		return serverError(fmt.Errorf("%w: %w", ErrAdmissionCancelled, err),
			"Request cancelled while waiting for a generation slot: %v", err)
	}
}

// Limiter returns the admission limiter, or nil when unbounded.
func (g *Generator) Limiter() *Limiter {
	return g.limiter
}

// Close stops admitting new generations. Running processes are not killed.
func (g *Generator) Close() error {
	return g.limiter.Close()
}
