package shutdown

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"sdcpp_server/core"
	"sdcpp_server/logging"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 30 * time.Second

// Manager ties together the operation tracker, the cleanup registry and
// signal handling.
//
//	manager := shutdown.NewManager(logger, shutdown.WithTimeout(cfg.ShutdownTimeout))
//	manager.Register("http-server", 10, srv.Shutdown)
//	manager.Start()
//	<-manager.Context().Done()
//	err := manager.Shutdown()
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration

	mu       sync.Mutex
	started  bool
	shutdown bool

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *OperationTracker
	registry *ShutdownRegistry
	signals  *SignalCounter
	sigChan  chan os.Signal
	received os.Signal

	forceExit func()
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeout sets the shutdown budget. Non-positive values are ignored.
func WithTimeout(timeout time.Duration) ManagerOption {
	return func(m *Manager) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

// WithForceExit replaces the os.Exit call made on the second signal.
func WithForceExit(fn func()) ManagerOption {
	return func(m *Manager) { m.forceExit = fn }
}

// WithParent derives the managed context from parent, so cancelling parent
// starts shutdown like a signal does.
func WithParent(parent context.Context) ManagerOption {
	return func(m *Manager) {
		m.cancel()
		m.ctx, m.cancel = context.WithCancel(parent)
	}
}

// NewManager creates a Manager. Call Start to listen for signals.
func NewManager(logger *logging.Logger, opts ...ManagerOption) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		logger:    logger.Named("shutdown"),
		timeout:   DefaultTimeout,
		ctx:       ctx,
		cancel:    cancel,
		tracker:   NewOperationTracker(),
		registry:  NewShutdownRegistry(),
		sigChan:   make(chan os.Signal, 1),
		forceExit: func() { os.Exit(core.ExitCodeError) },
	}
	for _, opt := range opts {
		opt(m)
	}

	m.signals = NewSignalCounter(2, func() {
		m.logger.Warn("received second signal, forcing exit")
		m.forceExit()
	})
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup function. Lower priorities run first.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
	m.logger.Debug("registered shutdown handler", zap.String("name", name), zap.Int("priority", priority))
}

// Start listens for SIGINT and SIGTERM. Safe to call more than once.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			if m.signals.Increment() == 1 {
				m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
				m.mu.Lock()
				m.received = sig
				m.mu.Unlock()
				m.cancel()
			}
		}
	}()
}

// ExitCode maps the signal that started shutdown onto the process exit
// code. Shutdown without a signal exits with success.
func (m *Manager) ExitCode() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.received {
	case os.Interrupt:
		return core.ExitCodeSIGINT
	case syscall.SIGTERM:
		return core.ExitCodeSIGTERM
	default:
		return core.ExitCodeSuccess
	}
}

// Trigger begins shutdown without a signal, for service managers.
func (m *Manager) Trigger() {
	m.cancel()
}

// Shutdown stops accepting operations, waits for running ones and then
// runs the cleanup functions, all within the configured timeout. Only the
// first call does anything.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	started := m.started
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	m.logger.Info("shutting down",
		zap.Duration("timeout", m.timeout),
		zap.Int64("in_flight", m.tracker.ActiveCount()),
	)

	m.tracker.Close()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), m.timeout)
	if err := m.tracker.Wait(waitCtx); err != nil {
		m.logger.Warn("timed out waiting for in-flight generations",
			zap.Int64("remaining", m.tracker.ActiveCount()),
		)
	}
	cancelWait()

	// cleanup always gets at least a second
	remaining := max(m.timeout-time.Since(start), time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), remaining)
	defer cancel()

	errs := m.registry.Shutdown(ctx)
	for _, err := range errs {
		m.logger.Error("cleanup failed", zap.Error(err))
	}

	if started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}

	if len(errs) > 0 {
		return fmt.Errorf("shutdown had %d errors", len(errs))
	}
	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}

// WrapOperation runs fn as a tracked operation. After shutdown begins it
// returns ErrTrackerClosed without calling fn.
func (m *Manager) WrapOperation(ctx context.Context, name string, fn func(context.Context) error) error {
	if m.ctx.Err() != nil || !m.tracker.Start() {
		m.logger.Debug("operation rejected during shutdown", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()

	return fn(ctx)
}

// ActiveOperations returns the number of running tracked operations.
func (m *Manager) ActiveOperations() int64 {
	return m.tracker.ActiveCount()
}

// IsShuttingDown reports whether shutdown has begun.
func (m *Manager) IsShuttingDown() bool {
	return m.ctx.Err() != nil || m.tracker.IsClosed()
}

// RegisteredHandlers returns handler names in execution order.
func (m *Manager) RegisteredHandlers() []string {
	return m.registry.Names()
}
