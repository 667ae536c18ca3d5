package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultMFATTL is how long a step-up verification stays valid.
const DefaultMFATTL = 12 * time.Hour

// MFAStore remembers which identities completed a second-factor step-up
// and until when. Background cleanup removes expired verifications.
type MFAStore struct {
	verifiedUntil   map[string]time.Time // identityID -> expiry
	mu              sync.RWMutex
	ttl             time.Duration
	now             func() time.Time
	logger          *slog.Logger
	stopChan        chan struct{}
	wg              sync.WaitGroup
	cleanupInterval time.Duration
	once            sync.Once
}

// NewMFAStore creates a store whose verifications last ttl.
func NewMFAStore(ttl time.Duration, logger *slog.Logger) *MFAStore {
	if ttl <= 0 {
		ttl = DefaultMFATTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MFAStore{
		verifiedUntil:   make(map[string]time.Time),
		ttl:             ttl,
		now:             time.Now,
		logger:          logger,
		stopChan:        make(chan struct{}),
		cleanupInterval: time.Minute,
	}
}

// MarkVerified records a successful step-up for identityID and returns its
// expiry.
func (s *MFAStore) MarkVerified(identityID string) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	until := s.now().Add(s.ttl)
	s.verifiedUntil[identityID] = until
	return until
}

// Verified reports whether identityID has an unexpired verification.
// Expired entries are not deleted here; background cleanup handles that.
func (s *MFAStore) Verified(identityID string) bool {
	s.mu.RLock()
	until, ok := s.verifiedUntil[identityID]
	s.mu.RUnlock()
	return ok && s.now().Before(until)
}

// Revoke drops identityID's verification, e.g. on sign-out.
func (s *MFAStore) Revoke(identityID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verifiedUntil, identityID)
}

// StartCleanup starts the background cleanup goroutine.
// Call Stop() to stop the cleanup goroutine gracefully.
func (s *MFAStore) StartCleanup(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.cleanup()
			}
		}
	}()
}

func (s *MFAStore) cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cleaned := 0
	for id, until := range s.verifiedUntil {
		if !now.Before(until) {
			delete(s.verifiedUntil, id)
			cleaned++
		}
	}
	if cleaned > 0 {
		s.logger.Debug("cleaned expired mfa verifications", "count", cleaned)
	}
	return cleaned
}

// Stop stops the background cleanup goroutine and waits for it to exit.
// Safe to call multiple times.
func (s *MFAStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Size returns the number of stored verifications.
func (s *MFAStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.verifiedUntil)
}
