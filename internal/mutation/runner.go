// Package mutation serialises user-triggered writes so each trigger has at
// most one request outstanding.
package mutation

import (
	"context"
	"errors"
	"sync"

	"github.com/wolfman30/smartqueue-portal/internal/observability/metrics"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

// ErrPending is returned when a mutation with the same key is in flight.
var ErrPending = errors.New("mutation: already pending")

// Invalidator drops cached query results.
type Invalidator interface {
	Invalidate(keys ...string)
}

// Runner tracks in-flight mutations by key.
type Runner struct {
	cache   Invalidator
	logger  *logging.Logger
	metrics *metrics.PortalMetrics

	mu      sync.Mutex
	pending map[string]struct{}
}

func NewRunner(cache Invalidator, logger *logging.Logger, m *metrics.PortalMetrics) *Runner {
	if logger == nil {
		logger = logging.Default()
	}
	return &Runner{
		cache:   cache,
		logger:  logger.Component("mutation"),
		metrics: m,
		pending: make(map[string]struct{}),
	}
}

// Key builds a runner key for a kind of mutation on one target, scoped to
// a session.
func Key(sessionID, kind, target string) string {
	if target == "" {
		return sessionID + ":" + kind
	}
	return sessionID + ":" + kind + ":" + target
}

// Pending reports whether key has a mutation in flight.
func (r *Runner) Pending(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[key]
	return ok
}

// PendingPrefix reports whether any key starting with prefix is in flight.
func (r *Runner) PendingPrefix(prefix string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key := range r.pending {
		if len(key) >= len(prefix) && key[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

// Run executes fn unless key is already running. On success the invalidate
// keys are dropped from the cache.
func (r *Runner) Run(ctx context.Context, kind, key string, invalidate []string, fn func(context.Context) error) error {
	r.mu.Lock()
	if _, busy := r.pending[key]; busy {
		r.mu.Unlock()
		r.metrics.ObserveMutation(kind, "pending")
		return ErrPending
	}
	r.pending[key] = struct{}{}
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.pending, key)
		r.mu.Unlock()
	}()

	if err := fn(ctx); err != nil {
		r.metrics.ObserveMutation(kind, "error")
		r.logger.Info("mutation failed", "kind", kind, "key", key, "error", err)
		return err
	}
	if r.cache != nil && len(invalidate) > 0 {
		r.cache.Invalidate(invalidate...)
	}
	r.metrics.ObserveMutation(kind, "ok")
	return nil
}
