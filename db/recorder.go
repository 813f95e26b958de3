package db

import (
	"context"
	"time"

	"go.uber.org/zap"

	"sdcpp_server/logging"
	"sdcpp_server/sdruntime"
)

// HistoryRecorder stores one GenerationRecord per generation attempt. It
// implements sdruntime.Observer and never blocks the request: records go
// through an AsyncWriter and are dropped with a warning when it is full.
type HistoryRecorder struct {
	repo   *Repository
	writer *AsyncWriter
	logger *logging.Logger
}

// NewHistoryRecorder creates and starts a recorder writing to repo.
func NewHistoryRecorder(repo *Repository, logger *logging.Logger) *HistoryRecorder {
	return NewHistoryRecorderWithConfig(repo, logger, DefaultAsyncWriterConfig())
}

// NewHistoryRecorderWithConfig is NewHistoryRecorder with a custom writer
// configuration. config.OnError is replaced.
func NewHistoryRecorderWithConfig(repo *Repository, logger *logging.Logger, config AsyncWriterConfig) *HistoryRecorder {
	if logger == nil {
		logger = logging.NewNop()
	}
	r := &HistoryRecorder{
		repo:   repo,
		logger: logger.Named("history"),
	}

	config.OnError = func(op WriteOperation, err error) {
		r.logger.Error("failed to record generation", zap.Error(err))
	}
	r.writer = NewAsyncWriterWithConfig(r.write, config)
	r.writer.Start()
	return r
}

func (r *HistoryRecorder) write(ctx context.Context, op WriteOperation) error {
	rec, ok := op.Data.(GenerationRecord)
	if !ok {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return r.repo.InsertGeneration(ctx, rec)
}

// GenerationStarted implements sdruntime.Observer.
func (r *HistoryRecorder) GenerationStarted() {}

// GenerationFinished implements sdruntime.Observer.
func (r *HistoryRecorder) GenerationFinished(o sdruntime.Outcome) {
	rec := RecordFromOutcome(o)
	if !r.writer.Write(rec) {
		r.logger.Warn("history queue full, dropping record",
			zap.String("request_id", rec.ID),
			zap.Int64("dropped_total", r.writer.Dropped()),
		)
	}
}

// Close drains queued records. It reports whether the drain finished
// before ctx was done.
func (r *HistoryRecorder) Close(ctx context.Context) bool {
	return r.writer.Stop(ctx)
}

// RecordFromOutcome maps a finished generation to its history row.
func RecordFromOutcome(o sdruntime.Outcome) GenerationRecord {
	rec := GenerationRecord{
		ID:         o.RequestID,
		Model:      o.Request.Model,
		Prompt:     o.Request.Prompt,
		Size:       o.Request.Size,
		Steps:      o.Request.Steps,
		CfgScale:   o.Request.CfgScale,
		Seed:       o.Request.Seed,
		Status:     StatusSuccess,
		ImageBytes: o.ImageBytes,
		DurationMS: o.Duration.Milliseconds(),
		CreatedAt:  o.StartedAt,
	}
	if o.Err != nil {
		rec.Status = StatusError
		rec.ErrorKind = string(o.Err.Kind)
		rec.ErrorMessage = o.Err.Message
	}
	return rec
}

var _ sdruntime.Observer = (*HistoryRecorder)(nil)
