// Package shutdown coordinates interruption and cleanup of a CLI run: a signal
// cancels the run context, and cleanup hooks run in reverse registration order
// within a timeout.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// shutdownHook is a named cleanup function run during shutdown
type shutdownHook struct {
	Name string
	Fn   func(ctx context.Context) error
}

// ShutdownManager collects cleanup hooks for the resources a run opens
type ShutdownManager struct {
	logger  *zap.Logger
	timeout time.Duration
	hooks   []shutdownHook
	mu      sync.Mutex
}

// NewShutdownManager creates a new ShutdownManager with the given logger and
// overall timeout for the cleanup sequence
func NewShutdownManager(logger *zap.Logger, timeout time.Duration) *ShutdownManager {
	return &ShutdownManager{
		logger:  logger.With(zap.String("component", "shutdown")),
		timeout: timeout,
		hooks:   make([]shutdownHook, 0),
	}
}

// RegisterHook adds a cleanup hook that will be called during shutdown.
// Hooks are executed in reverse registration order (LIFO).
func (sm *ShutdownManager) RegisterHook(name string, fn func(ctx context.Context) error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.hooks = append(sm.hooks, shutdownHook{Name: name, Fn: fn})
	sm.logger.Debug("Registered shutdown hook", zap.String("hook", name))
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM. The run
// stops between items; cleanup still happens through Shutdown.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Shutdown runs the registered hooks once, newest first. Hooks registered
// afterwards are kept for a later call.
func (sm *ShutdownManager) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
	defer cancel()

	sm.mu.Lock()
	hooks := sm.hooks
	sm.hooks = make([]shutdownHook, 0)
	sm.mu.Unlock()

	sm.executeHooks(ctx, hooks)
}

// executeHooks runs cleanup hooks in reverse registration order
func (sm *ShutdownManager) executeHooks(ctx context.Context, hooks []shutdownHook) {
	for i := len(hooks) - 1; i >= 0; i-- {
		hook := hooks[i]

		// Check if context is already expired
		select {
		case <-ctx.Done():
			sm.logger.Warn("Shutdown timeout reached, skipping remaining hooks",
				zap.String("skipped_hook", hook.Name),
				zap.Int("remaining", i+1),
			)
			return
		default:
		}

		start := time.Now()
		if err := hook.Fn(ctx); err != nil {
			sm.logger.Error("Shutdown hook failed",
				zap.String("hook", hook.Name),
				zap.Duration("duration", time.Since(start)),
				zap.Error(err),
			)
		} else {
			sm.logger.Debug("Shutdown hook completed",
				zap.String("hook", hook.Name),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}
}
