package shutdown

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"sdcpp_server/core"
)

type shutdownEntry struct {
	name     string
	priority int
	fn       core.ShutdownFunc
}

// ShutdownRegistry holds cleanup functions ordered by priority. Lower
// priorities run first; equal priorities run in registration order.
//
// Priorities used by the server:
//   - 10-19: listeners (API server, metrics server)
//   - 20-29: background workers (history writer)
//   - 30-39: storage (history database)
//   - 40-49: files (stale generator outputs)
//   - 50+: logger sync
type ShutdownRegistry struct {
	mu      sync.Mutex
	entries []shutdownEntry
	closed  bool
}

// NewShutdownRegistry creates an empty registry.
func NewShutdownRegistry() *ShutdownRegistry {
	return &ShutdownRegistry{}
}

// Register adds fn. Registrations after Shutdown are ignored.
func (r *ShutdownRegistry) Register(name string, priority int, fn core.ShutdownFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.entries = append(r.entries, shutdownEntry{name: name, priority: priority, fn: fn})
}

func (r *ShutdownRegistry) sorted() []shutdownEntry {
	entries := slices.Clone(r.entries)
	slices.SortStableFunc(entries, func(a, b shutdownEntry) int {
		return cmp.Compare(a.priority, b.priority)
	})
	return entries
}

// Shutdown runs every function in priority order, even when some fail, and
// returns their errors prefixed with the handler name. Only the first call
// does anything.
func (r *ShutdownRegistry) Shutdown(ctx context.Context) []error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	entries := r.sorted()
	r.mu.Unlock()

	var errs []error
	for _, e := range entries {
		if err := e.fn(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.name, err))
		}
	}
	return errs
}

// Names returns handler names in execution order.
func (r *ShutdownRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries := r.sorted()
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.name
	}
	return names
}

// Count returns the number of registered handlers.
func (r *ShutdownRegistry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}
