package db

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Async writer defaults.
const (
	DefaultChannelCapacity = 256
	DefaultDrainTimeout    = 10 * time.Second
)

// WriteOperation is one queued write.
type WriteOperation struct {
	Data     any
	QueuedAt time.Time
}

// WriteHandler processes one operation on the writer goroutine. Returned
// errors are passed to AsyncWriterConfig.OnError.
type WriteHandler func(ctx context.Context, op WriteOperation) error

// AsyncWriterConfig holds configuration for the async writer.
type AsyncWriterConfig struct {
	ChannelCapacity int
	DrainTimeout    time.Duration
	// OnError is called on the writer goroutine for every failed write.
	OnError func(op WriteOperation, err error)
}

// DefaultAsyncWriterConfig returns the default configuration.
func DefaultAsyncWriterConfig() AsyncWriterConfig {
	return AsyncWriterConfig{
		ChannelCapacity: DefaultChannelCapacity,
		DrainTimeout:    DefaultDrainTimeout,
	}
}

// AsyncWriter moves database writes off the request path. Writes are queued
// on a buffered channel and handled by a single background goroutine, which
// matches SQLite's single-writer model.
type AsyncWriter struct {
	writeChan chan WriteOperation
	handler   WriteHandler
	config    AsyncWriterConfig

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	started bool
	stopped bool

	dropped atomic.Int64
	failed  atomic.Int64
}

// NewAsyncWriter creates a writer with the default configuration.
func NewAsyncWriter(handler WriteHandler) *AsyncWriter {
	return NewAsyncWriterWithConfig(handler, DefaultAsyncWriterConfig())
}

// NewAsyncWriterWithConfig creates a writer. Call Start before writing.
func NewAsyncWriterWithConfig(handler WriteHandler, config AsyncWriterConfig) *AsyncWriter {
	if config.ChannelCapacity <= 0 {
		config.ChannelCapacity = DefaultChannelCapacity
	}
	if config.DrainTimeout <= 0 {
		config.DrainTimeout = DefaultDrainTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &AsyncWriter{
		writeChan: make(chan WriteOperation, config.ChannelCapacity),
		handler:   handler,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the background goroutine. Extra calls are no-ops.
func (w *AsyncWriter) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started || w.stopped {
		return
	}
	w.started = true
	w.wg.Add(1)
	go w.processWrites()
}

func (w *AsyncWriter) processWrites() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			w.drain()
			return
		case op := <-w.writeChan:
			w.handle(op)
		}
	}
}

// drain handles whatever is still buffered when the writer stops.
func (w *AsyncWriter) drain() {
	for {
		select {
		case op := <-w.writeChan:
			w.handle(op)
		default:
			return
		}
	}
}

func (w *AsyncWriter) handle(op WriteOperation) {
	// the writer context is already cancelled while draining
	ctx := context.WithoutCancel(w.ctx)
	if err := w.handler(ctx, op); err != nil {
		w.failed.Add(1)
		if w.config.OnError != nil {
			w.config.OnError(op, err)
		}
	}
}

// Write queues data without blocking. It reports false, and counts a drop,
// when the buffer is full or the writer is stopped. A write that reports
// true is handled before Stop's drain completes.
func (w *AsyncWriter) Write(data any) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		w.dropped.Add(1)
		return false
	}

	select {
	case w.writeChan <- WriteOperation{Data: data, QueuedAt: time.Now()}:
		return true
	default:
		w.dropped.Add(1)
		return false
	}
}

// Pending returns the number of buffered operations.
func (w *AsyncWriter) Pending() int {
	return len(w.writeChan)
}

// Dropped returns how many writes were rejected.
func (w *AsyncWriter) Dropped() int64 {
	return w.dropped.Load()
}

// Failed returns how many handled writes returned an error.
func (w *AsyncWriter) Failed() int64 {
	return w.failed.Load()
}

// IsStarted reports whether Start was called.
func (w *AsyncWriter) IsStarted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.started
}

// Stop rejects new writes, drains the buffer and waits for the goroutine,
// giving up after the configured drain timeout or when ctx is done.
// It reports whether the drain finished.
func (w *AsyncWriter) Stop(ctx context.Context) bool {
	w.mu.Lock()
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	w.cancel()
	if !started {
		return true
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(w.config.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}
