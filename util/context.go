package util

import (
	"context"
	"time"
)

// WithTimeout runs fn with a context bounded by dur.
func WithTimeout(ctx context.Context, dur time.Duration, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	timeoutCtx, cancelTimeout := context.WithTimeout(ctx, dur)
	defer cancelTimeout()

	return fn(timeoutCtx)
}

// Detached runs fn bounded by dur only. The cancellation of ctx does not reach fn,
// while its values (the logger) do. Used for cleanup that must run after ctx is done.
func Detached(ctx context.Context, dur time.Duration, fn func(context.Context) error) error {
	if ctx == nil {
		ctx = context.Background()
	}

	return WithTimeout(context.WithoutCancel(ctx), dur, fn)
}
