package sdruntime

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Limiter bounds the number of generator processes running at once.
// It is optional: a nil *Limiter admits every request immediately.
//
// Acquire blocks until a slot is free, the queue timeout passes, the
// caller's context is done, or the limiter is closed.
type Limiter struct {
	mu           sync.Mutex
	slots        chan struct{}
	done         chan struct{}
	closed       bool
	queueTimeout time.Duration
	waiting      int
}

// NewLimiter creates a limiter with maxConcurrent slots. A queueTimeout of
// zero waits for as long as the caller's context allows.
func NewLimiter(maxConcurrent int, queueTimeout time.Duration) (*Limiter, error) {
	if maxConcurrent <= 0 {
		return nil, errors.New("sdruntime: limiter needs at least one slot")
	}
	if queueTimeout < 0 {
		return nil, errors.New("sdruntime: queue timeout must not be negative")
	}

	return &Limiter{
		slots:        make(chan struct{}, maxConcurrent),
		done:         make(chan struct{}),
		queueTimeout: queueTimeout,
	}, nil
}

// Acquire takes a slot and returns the function that gives it back. The
// release function is safe to call more than once.
//
// Errors:
//   - ErrLimiterClosed: Close was called
//   - ErrAdmissionTimeout: no slot within the queue timeout
//   - ctx.Err(): the caller gave up while queued
func (l *Limiter) Acquire(ctx context.Context) (func(), error) {
	if l == nil {
		return func() {}, nil
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrLimiterClosed
	}

	// fast path
	select {
	case l.slots <- struct{}{}:
		l.mu.Unlock()
		return l.releaser(), nil
	default:
	}
	l.waiting++
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.waiting--
		l.mu.Unlock()
	}()

	var timeout <-chan time.Time
	if l.queueTimeout > 0 {
		timer := time.NewTimer(l.queueTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case l.slots <- struct{}{}:
		l.mu.Lock()
		closed := l.closed
		l.mu.Unlock()
		if closed {
			<-l.slots
			return nil, ErrLimiterClosed
		}
		return l.releaser(), nil
	case <-l.done:
		return nil, ErrLimiterClosed
	case <-timeout:
		return nil, ErrAdmissionTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (l *Limiter) releaser() func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-l.slots })
	}
}

// InUse returns the number of slots currently held.
func (l *Limiter) InUse() int {
	if l == nil {
		return 0
	}
	return len(l.slots)
}

// Waiting returns the number of callers blocked in Acquire.
func (l *Limiter) Waiting() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waiting
}

// Capacity returns the maximum number of concurrent slots, or 0 for a nil
// (unbounded) limiter.
func (l *Limiter) Capacity() int {
	if l == nil {
		return 0
	}
	return cap(l.slots)
}

// Close rejects queued and future Acquire calls. Slots already held stay
// valid until released. Close is safe to call multiple times.
func (l *Limiter) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	return nil
}
