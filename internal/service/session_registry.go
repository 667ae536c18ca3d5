package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/repclub/gymgate/internal/domain/access"
)

// SessionRegistry keeps one ProfileResolver per signed-in identity.
// Resolved profiles older than ttl are refetched on next use.
type SessionRegistry struct {
	source       access.ProfileSource
	fetchTimeout time.Duration
	ttl          time.Duration
	logger       *slog.Logger
	now          func() time.Time

	mu        sync.Mutex
	resolvers map[string]*ProfileResolver
}

// NewSessionRegistry creates a registry. A non-positive ttl keeps profiles
// until the session ends.
func NewSessionRegistry(source access.ProfileSource, fetchTimeout, ttl time.Duration, logger *slog.Logger) *SessionRegistry {
	return &SessionRegistry{
		source:       source,
		fetchTimeout: fetchTimeout,
		ttl:          ttl,
		logger:       logger,
		now:          time.Now,
		resolvers:    make(map[string]*ProfileResolver),
	}
}

// Resolver returns the resolver for identityID, starting a fetch when the
// identity is new or its profile is older than the ttl.
func (s *SessionRegistry) Resolver(identityID string) *ProfileResolver {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.resolvers[identityID]
	if !ok {
		r = NewProfileResolver(s.source, s.fetchTimeout, s.logger)
		r.now = s.now
		s.resolvers[identityID] = r
		r.Refresh(identityID)
		return r
	}
	if s.ttl > 0 && !r.Loading() {
		if at := r.ResolvedAt(); !at.IsZero() && s.now().Sub(at) >= s.ttl {
			r.Refresh(identityID)
		}
	}
	return r
}

// Resolve returns the resolver for identityID after waiting up to wait for
// its fetch. A fetch still running after wait leaves the profile pending.
func (s *SessionRegistry) Resolve(ctx context.Context, identityID string, wait time.Duration) *ProfileResolver {
	r := s.Resolver(identityID)
	if wait <= 0 {
		return r
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	_ = r.Await(waitCtx)
	return r
}

// End terminates and forgets identityID's session.
func (s *SessionRegistry) End(identityID string) {
	s.mu.Lock()
	r, ok := s.resolvers[identityID]
	delete(s.resolvers, identityID)
	s.mu.Unlock()
	if ok {
		r.TerminateSession()
	}
}

// Len returns the number of tracked sessions.
func (s *SessionRegistry) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.resolvers)
}
