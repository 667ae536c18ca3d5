package ratelimit

import "context"

// Limiter is the interface for fixed-window rate limiting.
//
// The window opens on the first request for a key and resets entirely once
// it has elapsed; counts are never carried across windows.
type Limiter interface {
	// CheckAndConsume counts one request against key and reports whether it
	// is within the limit. The increment and the comparison happen as one
	// atomic step per key, so concurrent callers can never both take the
	// last slot.
	CheckAndConsume(ctx context.Context, key string, cfg Config) (Result, error)

	// Peek reports the state CheckAndConsume would act on without counting
	// the request. Allowed means the next request would succeed.
	Peek(ctx context.Context, key string, cfg Config) (Result, error)
}
