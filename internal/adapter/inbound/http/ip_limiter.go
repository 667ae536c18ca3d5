package http

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ipLimiter holds a token bucket and the last time it was used.
type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// IPRateLimiter applies a per-client token bucket to every API request,
// ahead of authentication. It protects the service itself; per-action
// limits on sensitive operations are the throttle service's job.
type IPRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*ipLimiter
	rate     rate.Limit
	burst    int
	maxIdle  time.Duration
	now      func() time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewIPRateLimiter creates a limiter allowing perSecond requests per client
// with the given burst.
func NewIPRateLimiter(perSecond float64, burst int) *IPRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &IPRateLimiter{
		limiters: make(map[string]*ipLimiter),
		rate:     rate.Limit(perSecond),
		burst:    burst,
		maxIdle:  5 * time.Minute,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

func (l *IPRateLimiter) limiterFor(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if entry, ok := l.limiters[ip]; ok {
		entry.lastSeen = now
		return entry.limiter
	}
	limiter := rate.NewLimiter(l.rate, l.burst)
	l.limiters[ip] = &ipLimiter{limiter: limiter, lastSeen: now}
	return limiter
}

// Allow reports whether ip may make a request now.
func (l *IPRateLimiter) Allow(ip string) bool {
	return l.limiterFor(ip).AllowN(l.now(), 1)
}

// retryAfterSeconds is the wait for one token, at least one second.
func (l *IPRateLimiter) retryAfterSeconds() int {
	if l.rate <= 0 {
		return 60
	}
	return max(int(1.0/float64(l.rate)), 1)
}

// Middleware rejects clients over their budget with 429.
func (l *IPRateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := ClientIPFromContext(r.Context())
		if ip == "" {
			ip = extractRealIP(r)
		}
		if !l.Allow(ip) {
			retryAfter := l.retryAfterSeconds()
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "too many requests")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartCleanup periodically drops clients idle for longer than five minutes.
func (l *IPRateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 3 * time.Minute
	}
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-l.stopChan:
				return
			case <-ticker.C:
				l.cleanup()
			}
		}
	}()
}

func (l *IPRateLimiter) cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for ip, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.maxIdle {
			delete(l.limiters, ip)
			removed++
		}
	}
	return removed
}

// Stop stops the cleanup goroutine and waits for it to exit.
func (l *IPRateLimiter) Stop() {
	l.once.Do(func() {
		close(l.stopChan)
	})
	l.wg.Wait()
}

// Size returns the number of tracked clients.
func (l *IPRateLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}
