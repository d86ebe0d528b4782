package observability

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// ShutdownFunc is a function called during graceful shutdown
type ShutdownFunc func(ctx context.Context) error

// ShutdownManager coordinates graceful shutdown across components
type ShutdownManager struct {
	mu        sync.Mutex
	functions []namedShutdownFunc
	timeout   time.Duration
	logger    *Logger
	done      chan struct{}
	once      sync.Once
}

type namedShutdownFunc struct {
	name string
	fn   ShutdownFunc
}

// NewShutdownManager creates a shutdown manager with the given timeout
func NewShutdownManager(timeout time.Duration, logger *Logger) *ShutdownManager {
	return &ShutdownManager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// RegisterShutdownFunc registers a function to run during shutdown.
// Functions run in reverse registration order.
func (sm *ShutdownManager) RegisterShutdownFunc(name string, fn ShutdownFunc) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.functions = append(sm.functions, namedShutdownFunc{name: name, fn: fn})
}

// WaitForShutdown blocks until SIGINT/SIGTERM arrives, then runs all
// registered shutdown functions
func (sm *ShutdownManager) WaitForShutdown() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	sm.logger.Infof("Received signal %v, starting graceful shutdown", sig)

	sm.Shutdown()
}

// Shutdown runs all registered shutdown functions with the configured timeout
func (sm *ShutdownManager) Shutdown() {
	sm.once.Do(func() {
		defer close(sm.done)

		ctx, cancel := context.WithTimeout(context.Background(), sm.timeout)
		defer cancel()

		sm.mu.Lock()
		functions := make([]namedShutdownFunc, len(sm.functions))
		copy(functions, sm.functions)
		sm.mu.Unlock()

		// Reverse order: last registered, first stopped
		for i := len(functions) - 1; i >= 0; i-- {
			f := functions[i]
			sm.logger.Infof("Shutting down: %s", f.name)

			start := time.Now()
			if err := f.fn(ctx); err != nil {
				sm.logger.WithError(err).Errorf("Shutdown of %s failed", f.name)
			} else {
				sm.logger.Infof("Shutdown of %s completed in %v", f.name, time.Since(start))
			}

			if ctx.Err() != nil {
				sm.logger.Warn("Shutdown timeout exceeded, abandoning remaining components")
				return
			}
		}

		sm.logger.Info("Graceful shutdown complete")
	})
}

// Done returns a channel closed when shutdown has completed
func (sm *ShutdownManager) Done() <-chan struct{} {
	return sm.done
}

// GracefulShutdown is a helper that wraps a cleanup function with a timeout
func GracefulShutdown(cleanup func() error, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- cleanup()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("shutdown timed out after %v", timeout)
	}
}
