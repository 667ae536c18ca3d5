package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/repclub/gymgate/internal/domain/access"
)

// Profile error messages shown to the user.
const (
	ProfileNotFoundMessage = "No profile exists for this account"
	ProfileTimeoutMessage  = "Loading your profile timed out"
	ProfileFailedMessage   = "Your profile could not be loaded"
)

// DefaultProfileFetchTimeout bounds a single profile fetch.
const DefaultProfileFetchTimeout = 5 * time.Second

// ProfileResolver tracks the profile of one signed-in identity. Fetches
// are latest-wins: each Refresh cancels the fetch in flight and results
// of superseded fetches are discarded.
type ProfileResolver struct {
	source  access.ProfileSource
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	mu         sync.Mutex
	identityID string
	generation uint64
	profile    *access.Profile
	errMsg     string
	resolvedAt time.Time
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewProfileResolver creates a resolver with no identity. A non-positive
// timeout uses DefaultProfileFetchTimeout.
func NewProfileResolver(source access.ProfileSource, timeout time.Duration, logger *slog.Logger) *ProfileResolver {
	if timeout <= 0 {
		timeout = DefaultProfileFetchTimeout
	}
	done := make(chan struct{})
	close(done)
	return &ProfileResolver{
		source:  source,
		logger:  logger,
		timeout: timeout,
		now:     time.Now,
		done:    done,
	}
}

// Refresh starts fetching the profile of identityID, superseding any
// fetch in flight. The current profile and error are cleared.
func (r *ProfileResolver) Refresh(identityID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.refreshLocked(identityID)
}

func (r *ProfileResolver) refreshLocked(identityID string) {
	if r.cancel != nil {
		r.cancel()
	}
	r.generation++
	gen := r.generation
	r.identityID = identityID
	r.profile = nil
	r.errMsg = ""

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	r.cancel = cancel
	done := make(chan struct{})
	r.done = done

	go func() {
		defer cancel()
		p, err := r.source.FetchProfile(ctx, identityID)
		r.complete(gen, done, p, err)
	}()
}

func (r *ProfileResolver) complete(gen uint64, done chan struct{}, p *access.Profile, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	defer close(done)

	if gen != r.generation {
		r.logger.Debug("discarding superseded profile fetch", "generation", gen, "current", r.generation)
		return
	}
	r.cancel = nil
	r.resolvedAt = r.now()

	switch {
	case err == nil && p != nil:
		r.profile = p
	case errors.Is(err, access.ErrProfileNotFound) || (err == nil && p == nil):
		r.errMsg = ProfileNotFoundMessage
	case errors.Is(err, context.DeadlineExceeded):
		r.errMsg = ProfileTimeoutMessage
	default:
		r.errMsg = ProfileFailedMessage
	}
	if err != nil {
		r.logger.Warn("profile fetch failed", "identity_id", r.identityID, "error", err)
	}
}

// Await blocks until the latest fetch resolves or ctx is done. A fetch
// superseded while waiting is followed to its replacement.
func (r *ProfileResolver) Await(ctx context.Context) error {
	for {
		r.mu.Lock()
		done := r.done
		r.mu.Unlock()

		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}

		r.mu.Lock()
		latest := r.done == done
		r.mu.Unlock()
		if latest {
			return nil
		}
	}
}

// Loading reports whether a fetch is in flight.
func (r *ProfileResolver) Loading() bool {
	r.mu.Lock()
	done := r.done
	r.mu.Unlock()
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// IdentityID returns the identity the resolver tracks.
func (r *ProfileResolver) IdentityID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.identityID
}

// ResolvedAt returns when the latest fetch completed; zero while loading.
func (r *ProfileResolver) ResolvedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil && r.errMsg == "" {
		return time.Time{}
	}
	return r.resolvedAt
}

// CurrentProfile returns the resolved profile, or nil while loading or
// after an error.
func (r *ProfileResolver) CurrentProfile() *access.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return nil
	}
	p := *r.profile
	return &p
}

// ProfileError returns the user-facing error of the latest fetch.
func (r *ProfileResolver) ProfileError() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.errMsg
}

// ProfileState returns the resolved profile and the fetch error under one
// lock, so both describe the same fetch.
func (r *ProfileResolver) ProfileState() (*access.Profile, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.profile == nil {
		return nil, r.errMsg
	}
	p := *r.profile
	return &p, r.errMsg
}

// RetryProfileFetch refetches the current identity's profile.
func (r *ProfileResolver) RetryProfileFetch() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.identityID == "" {
		return
	}
	r.refreshLocked(r.identityID)
}

// TerminateSession cancels any fetch and forgets the identity.
func (r *ProfileResolver) TerminateSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	r.generation++
	r.identityID = ""
	r.profile = nil
	r.errMsg = ""
	r.resolvedAt = time.Time{}
	done := make(chan struct{})
	close(done)
	r.done = done
}

// Compile-time interface verification.
var _ access.ProfileProvider = (*ProfileResolver)(nil)
