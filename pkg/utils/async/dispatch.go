package async

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/m-mizutani/ctxlog"
)

// Dispatch executes a handler function asynchronously with panic recovery.
// The handler receives a fresh background context that preserves the logger
// from ctx but not its cancellation: deferred scan work must outlive the
// request that queued it.
func Dispatch(ctx context.Context, handler func(ctx context.Context) error) {
	newCtx := newBackgroundContext(ctx)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				stack := debug.Stack()
				logger := ctxlog.From(newCtx)
				logger.Error("panic in async handler",
					"recover", r,
					"stack", string(stack))
			}
		}()

		if err := handler(newCtx); err != nil {
			logger := ctxlog.From(newCtx)
			logger.Error("error in async handler", "error", err)
		}
	}()
}

// DispatchAfter runs handler like Dispatch after waiting for delay. Used for
// the post-navigation settle delay, which gives the host page time to finish
// its own render before the rescan.
func DispatchAfter(ctx context.Context, delay time.Duration, handler func(ctx context.Context) error) {
	Dispatch(ctx, func(ctx context.Context) error {
		time.Sleep(delay)
		return handler(ctx)
	})
}

// newBackgroundContext creates a new background context preserving the
// ctxlog logger from the original context.
func newBackgroundContext(ctx context.Context) context.Context {
	newCtx := context.Background()
	newCtx = ctxlog.With(newCtx, ctxlog.From(ctx))
	return newCtx
}
