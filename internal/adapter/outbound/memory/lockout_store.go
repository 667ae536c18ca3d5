package memory

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/repclub/gymgate/internal/domain/ratelimit"
)

// lockoutRecord tracks failures for one login identifier.
type lockoutRecord struct {
	failures    int
	lockouts    int
	lockedUntil time.Time
	lastFailure time.Time
}

type lockoutShard struct {
	mu      sync.Mutex
	records map[string]*lockoutRecord
}

// LockoutStore implements ratelimit.LockoutTracker in memory.
//
// Records survive lock expiry: once an identifier has reached the threshold,
// its next failure after the lock ends starts a new, longer lockout. Only
// ClearFailures resets a record. With a positive retention, records that
// are unlocked and idle for longer than retention are pruned by the
// background cleanup.
type LockoutStore struct {
	policy    ratelimit.LockoutPolicy
	retention time.Duration
	shards    []*lockoutShard
	now       func() time.Time
	logger    *slog.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// NewLockoutStore creates a lockout store enforcing policy. A zero
// retention keeps records until they are cleared.
func NewLockoutStore(policy ratelimit.LockoutPolicy, retention time.Duration, logger *slog.Logger) *LockoutStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &LockoutStore{
		policy:    policy,
		retention: retention,
		shards:    make([]*lockoutShard, defaultShardCount),
		now:       time.Now,
		logger:    logger,
		stopChan:  make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &lockoutShard{records: make(map[string]*lockoutRecord)}
	}
	return s
}

func (s *LockoutStore) shardFor(identifier string) *lockoutShard {
	return s.shards[xxhash.Sum64String(identifier)%uint64(len(s.shards))]
}

// Policy returns the enforced lockout policy.
func (s *LockoutStore) Policy() ratelimit.LockoutPolicy {
	return s.policy
}

// RecordFailure counts a failed login for identifier. A failure recorded
// while a lock is active does not extend it.
func (s *LockoutStore) RecordFailure(ctx context.Context, identifier string) (ratelimit.LockoutStatus, error) {
	id := ratelimit.NormalizeIdentifier(identifier)
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := s.now()
	rec, ok := shard.records[id]
	if !ok {
		rec = &lockoutRecord{}
		shard.records[id] = rec
	}
	rec.failures++
	rec.lastFailure = now

	started := false
	if !rec.lockedUntil.After(now) && rec.failures >= s.policy.Threshold {
		rec.lockouts++
		rec.lockedUntil = now.Add(s.policy.LockDuration(rec.lockouts))
		started = true
	}
	st := s.statusOf(rec, now)
	st.LockStarted = started
	return st, nil
}

// ClearFailures resets identifier after a verified successful login.
func (s *LockoutStore) ClearFailures(ctx context.Context, identifier string) error {
	id := ratelimit.NormalizeIdentifier(identifier)
	shard := s.shardFor(id)
	shard.mu.Lock()
	delete(shard.records, id)
	shard.mu.Unlock()
	return nil
}

// Status returns identifier's lockout state without modifying it.
func (s *LockoutStore) Status(ctx context.Context, identifier string) (ratelimit.LockoutStatus, error) {
	id := ratelimit.NormalizeIdentifier(identifier)
	shard := s.shardFor(id)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	rec, ok := shard.records[id]
	if !ok {
		return ratelimit.LockoutStatus{AttemptsRemaining: s.policy.Threshold}, nil
	}
	return s.statusOf(rec, s.now()), nil
}

func (s *LockoutStore) statusOf(rec *lockoutRecord, now time.Time) ratelimit.LockoutStatus {
	remaining := s.policy.Threshold - rec.failures
	if remaining < 0 {
		remaining = 0
	}
	st := ratelimit.LockoutStatus{
		FailureCount:      rec.failures,
		AttemptsRemaining: remaining,
		Lockouts:          rec.lockouts,
	}
	if rec.lockedUntil.After(now) {
		st.Locked = true
		st.LockedUntil = rec.lockedUntil
	}
	return st
}

// Snapshot returns every tracked record, sorted by identifier.
func (s *LockoutStore) Snapshot() []ratelimit.LockoutRecord {
	var out []ratelimit.LockoutRecord
	for _, shard := range s.shards {
		shard.mu.Lock()
		for id, rec := range shard.records {
			out = append(out, ratelimit.LockoutRecord{
				Identifier:  id,
				Failures:    rec.failures,
				Lockouts:    rec.lockouts,
				LockedUntil: rec.lockedUntil,
				LastFailure: rec.lastFailure,
			})
		}
		shard.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identifier < out[j].Identifier })
	return out
}

// Restore loads records saved by Snapshot, replacing any in-memory record
// for the same identifier. Records the cleanup would already have pruned
// are skipped. Returns the number restored.
func (s *LockoutStore) Restore(records []ratelimit.LockoutRecord) int {
	now := s.now()
	restored := 0
	for _, r := range records {
		id := ratelimit.NormalizeIdentifier(r.Identifier)
		if id == "" || r.Failures <= 0 {
			continue
		}
		if s.retention > 0 && !r.LockedUntil.After(now) && r.LastFailure.Before(now.Add(-s.retention)) {
			continue
		}
		shard := s.shardFor(id)
		shard.mu.Lock()
		shard.records[id] = &lockoutRecord{
			failures:    r.Failures,
			lockouts:    r.Lockouts,
			lockedUntil: r.LockedUntil,
			lastFailure: r.LastFailure,
		}
		shard.mu.Unlock()
		restored++
	}
	return restored
}

// StartCleanup starts pruning idle, unlocked records every interval.
// Does nothing when retention is zero.
func (s *LockoutStore) StartCleanup(ctx context.Context, interval time.Duration) {
	if s.retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = defaultCleanupInterval
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.prune()
			}
		}
	}()
}

func (s *LockoutStore) prune() int {
	now := s.now()
	cutoff := now.Add(-s.retention)
	pruned := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for id, rec := range shard.records {
			if !rec.lockedUntil.After(now) && rec.lastFailure.Before(cutoff) {
				delete(shard.records, id)
				pruned++
			}
		}
		shard.mu.Unlock()
	}
	if pruned > 0 {
		s.logger.Debug("lockout store pruned idle records", "count", pruned)
	}
	return pruned
}

// Stop stops the cleanup goroutine. Safe to call multiple times.
func (s *LockoutStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of tracked identifiers.
func (s *LockoutStore) Size() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		total += len(shard.records)
		shard.mu.Unlock()
	}
	return total
}

var _ ratelimit.LockoutTracker = (*LockoutStore)(nil)
