package pipeline

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// SessionFailer marks a session failed only while it is still running.
// The conditional write is what keeps the sweep from clobbering a run
// that finished between signal and teardown.
type SessionFailer interface {
	MarkFailedIfRunning(ctx context.Context, sessionID, message string) (bool, error)
}

// Registry tracks in-flight pipeline runs so process teardown can mark
// their sessions failed instead of leaving pollers stuck on "running".
type Registry struct {
	mu     sync.Mutex
	active map[string]SessionFailer
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		active: make(map[string]SessionFailer),
		logger: logger.With(zap.String("component", "pipeline_registry")),
	}
}

func (r *Registry) Add(sessionID string, failer SessionFailer) {
	r.mu.Lock()
	r.active[sessionID] = failer
	r.mu.Unlock()
}

func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	delete(r.active, sessionID)
	r.mu.Unlock()
}

// Len reports the number of registered runs.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.active)
}

// Sweep marks every registered session failed with the given reason and
// returns how many rows actually flipped. Entries whose runs finished
// concurrently are skipped by the conditional write. Errors are logged
// and the sweep continues; teardown must not stall on one bad row.
func (r *Registry) Sweep(ctx context.Context, reason string) int {
	r.mu.Lock()
	snapshot := make(map[string]SessionFailer, len(r.active))
	for id, f := range r.active {
		snapshot[id] = f
	}
	r.mu.Unlock()

	flipped := 0
	for id, failer := range snapshot {
		changed, err := failer.MarkFailedIfRunning(ctx, id, reason)
		if err != nil {
			r.logger.Error("sweep failed for session",
				zap.String("session_id", id), zap.Error(err))
			continue
		}
		if changed {
			flipped++
			r.logger.Warn("marked orphaned session failed",
				zap.String("session_id", id), zap.String("reason", reason))
		}
	}
	return flipped
}
