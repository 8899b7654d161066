package utils

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// GoSafe runs fn in a goroutine and logs instead of crashing on panic
func GoSafe(logger *Logger, name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.WithSource("recovery").Error("Goroutine panicked", fmt.Errorf("%v", r), map[string]interface{}{
					"goroutine": name,
					"stack":     string(debug.Stack()),
				})
			}
		}()
		fn()
	}()
}

type shutdownHook struct {
	name string
	fn   func(context.Context) error
}

// GracefulShutdown runs registered hooks in reverse order within a time budget
type GracefulShutdown struct {
	mu      sync.Mutex
	hooks   []shutdownHook
	timeout time.Duration
	logger  *Logger
}

// NewGracefulShutdown creates a new graceful shutdown handler
func NewGracefulShutdown(timeout time.Duration, logger *Logger) *GracefulShutdown {
	if logger == nil {
		logger = GetLogger()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &GracefulShutdown{timeout: timeout, logger: logger.WithSource("graceful_shutdown")}
}

// Register adds a named shutdown hook
func (gs *GracefulShutdown) Register(name string, fn func(context.Context) error) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.hooks = append(gs.hooks, shutdownHook{name: name, fn: fn})
}

// Shutdown runs every hook, last registered first, and aggregates their errors
func (gs *GracefulShutdown) Shutdown(ctx context.Context) error {
	gs.mu.Lock()
	hooks := append([]shutdownHook(nil), gs.hooks...)
	gs.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, gs.timeout)
	defer cancel()

	gs.logger.Info("Starting graceful shutdown", map[string]interface{}{
		"hooks":   len(hooks),
		"timeout": gs.timeout.String(),
	})

	var result *multierror.Error
	for i := len(hooks) - 1; i >= 0; i-- {
		if err := runHook(ctx, hooks[i]); err != nil {
			gs.logger.Error("Shutdown hook failed", err, map[string]interface{}{"hook": hooks[i].name})
			result = multierror.Append(result, fmt.Errorf("%s: %w", hooks[i].name, err))
		}
		if ctx.Err() != nil {
			result = multierror.Append(result, fmt.Errorf("shutdown timed out with %d hooks left: %w", i, ctx.Err()))
			break
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		return err
	}
	gs.logger.Info("Graceful shutdown completed")
	return nil
}

func runHook(ctx context.Context, h shutdownHook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panicked: %v", r)
		}
	}()
	return h.fn(ctx)
}
