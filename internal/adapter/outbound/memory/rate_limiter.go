// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/repclub/gymgate/internal/domain/ratelimit"
)

// Sharding defaults.
const (
	defaultShardCount      = 32
	defaultCleanupInterval = 5 * time.Minute
)

// window is one fixed counting window for a key.
type window struct {
	count   int
	startAt time.Time
	resetAt time.Time
}

type windowShard struct {
	mu      sync.Mutex
	windows map[string]*window
}

// MemoryRateLimiter implements ratelimit.Limiter with fixed windows held in
// memory. Keys are spread over independently locked shards so different
// keys do not contend. Background cleanup drops expired windows.
type MemoryRateLimiter struct {
	shards          []*windowShard
	now             func() time.Time
	logger          *slog.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	once            sync.Once
	cleanupInterval time.Duration
}

// NewRateLimiter creates a new in-memory rate limiter with default settings.
// Default cleanup interval: 5 minutes.
func NewRateLimiter(logger *slog.Logger) *MemoryRateLimiter {
	return NewRateLimiterWithConfig(logger, defaultShardCount, defaultCleanupInterval)
}

// NewRateLimiterWithConfig creates a rate limiter with custom shard count and
// cleanup interval.
func NewRateLimiterWithConfig(logger *slog.Logger, shards int, cleanupInterval time.Duration) *MemoryRateLimiter {
	if shards <= 0 {
		shards = defaultShardCount
	}
	if cleanupInterval <= 0 {
		cleanupInterval = defaultCleanupInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &MemoryRateLimiter{
		shards:          make([]*windowShard, shards),
		now:             time.Now,
		logger:          logger,
		stopChan:        make(chan struct{}),
		cleanupInterval: cleanupInterval,
	}
	for i := range r.shards {
		r.shards[i] = &windowShard{windows: make(map[string]*window)}
	}
	return r
}

func (r *MemoryRateLimiter) shardFor(key string) *windowShard {
	return r.shards[xxhash.Sum64String(key)%uint64(len(r.shards))]
}

// CheckAndConsume counts one request for key. The window opens on first use
// and resets once elapsed. The counter is incremented before it is compared,
// under the shard lock, so the (max+1)th concurrent caller is always denied.
func (r *MemoryRateLimiter) CheckAndConsume(ctx context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	if err := cfg.Validate(); err != nil {
		return ratelimit.Result{}, err
	}

	shard := r.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := r.now()
	w, ok := shard.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{startAt: now, resetAt: now.Add(cfg.Window)}
		shard.windows[key] = w
	}

	w.count++
	return resultFor(w, cfg, now, w.count <= cfg.MaxRequests), nil
}

// Peek reports whether the next request for key would be allowed, without
// counting it.
func (r *MemoryRateLimiter) Peek(ctx context.Context, key string, cfg ratelimit.Config) (ratelimit.Result, error) {
	if err := cfg.Validate(); err != nil {
		return ratelimit.Result{}, err
	}

	shard := r.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := r.now()
	w, ok := shard.windows[key]
	if !ok || !now.Before(w.resetAt) {
		return ratelimit.Result{
			Allowed:   true,
			Remaining: cfg.MaxRequests,
			ResetAt:   now.Add(cfg.Window),
		}, nil
	}
	return resultFor(w, cfg, now, w.count < cfg.MaxRequests), nil
}

func resultFor(w *window, cfg ratelimit.Config, now time.Time, allowed bool) ratelimit.Result {
	remaining := cfg.MaxRequests - w.count
	if remaining < 0 {
		remaining = 0
	}
	res := ratelimit.Result{
		Allowed:   allowed,
		Remaining: remaining,
		ResetAt:   w.resetAt,
	}
	if !allowed {
		res.RetryAfter = w.resetAt.Sub(now)
	}
	return res
}

// StartCleanup starts the background cleanup goroutine.
// The goroutine periodically removes expired windows.
// It stops when ctx is cancelled or Stop() is called.
func (r *MemoryRateLimiter) StartCleanup(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-r.stopChan:
				return
			case <-ticker.C:
				r.cleanup()
			}
		}
	}()
}

// cleanup removes windows that have already elapsed. Shards are locked one
// at a time.
func (r *MemoryRateLimiter) cleanup() int {
	now := r.now()
	cleaned := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		for key, w := range shard.windows {
			if !now.Before(w.resetAt) {
				delete(shard.windows, key)
				cleaned++
			}
		}
		shard.mu.Unlock()
	}

	if cleaned > 0 {
		r.logger.Debug("rate limiter cleanup completed", "cleaned_keys", cleaned)
	}
	return cleaned
}

// Stop gracefully stops the cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (r *MemoryRateLimiter) Stop() {
	r.once.Do(func() {
		close(r.stopChan)
	})
	r.wg.Wait()
}

// Size returns the current number of tracked keys.
func (r *MemoryRateLimiter) Size() int {
	total := 0
	for _, shard := range r.shards {
		shard.mu.Lock()
		total += len(shard.windows)
		shard.mu.Unlock()
	}
	return total
}

// Compile-time interface verification.
var _ ratelimit.Limiter = (*MemoryRateLimiter)(nil)
