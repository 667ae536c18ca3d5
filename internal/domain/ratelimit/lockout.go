package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// LockoutPolicy decides when repeated login failures lock an identifier
// and for how long.
type LockoutPolicy struct {
	// Threshold is the failure count that triggers a lockout.
	Threshold int
	// Duration is the first lockout's length.
	Duration time.Duration
	// MaxDuration caps escalated lockouts. Zero means no cap.
	MaxDuration time.Duration
	// Escalate doubles the duration for each repeated lockout.
	Escalate bool
}

// Validate checks the policy is usable.
func (p LockoutPolicy) Validate() error {
	if p.Threshold <= 0 {
		return fmt.Errorf("%w: lockout threshold must be positive, got %d", ErrInvalidConfig, p.Threshold)
	}
	if p.Duration <= 0 {
		return fmt.Errorf("%w: lockout duration must be positive, got %s", ErrInvalidConfig, p.Duration)
	}
	if p.MaxDuration != 0 && p.MaxDuration < p.Duration {
		return fmt.Errorf("%w: max lockout duration %s is below base %s", ErrInvalidConfig, p.MaxDuration, p.Duration)
	}
	return nil
}

// LockDuration returns how long the nth lockout (1-based) lasts:
// Duration * 2^(n-1) when escalating, capped at MaxDuration.
func (p LockoutPolicy) LockDuration(n int) time.Duration {
	d := p.Duration
	if p.Escalate {
		for i := 1; i < n; i++ {
			if p.MaxDuration > 0 && d >= p.MaxDuration {
				break
			}
			// Stop doubling before overflowing.
			if d > time.Duration(1<<62) {
				break
			}
			d *= 2
		}
	}
	if p.MaxDuration > 0 && d > p.MaxDuration {
		d = p.MaxDuration
	}
	return d
}

// LockoutRecord is the persisted failure history of one identifier.
type LockoutRecord struct {
	Identifier  string    `json:"identifier"`
	Failures    int       `json:"failures"`
	Lockouts    int       `json:"lockouts"`
	LockedUntil time.Time `json:"locked_until,omitempty"`
	LastFailure time.Time `json:"last_failure"`
}

// LockoutStatus is the state of one login identifier.
type LockoutStatus struct {
	// Locked reports whether logins are currently refused.
	Locked bool
	// FailureCount is the number of failures since the last success.
	FailureCount int
	// AttemptsRemaining is how many more failures trigger a lockout.
	AttemptsRemaining int
	// LockedUntil is when the current lockout ends. Zero when not locked.
	LockedUntil time.Time
	// Lockouts counts lockouts since the last success.
	Lockouts int
	// LockStarted is set by RecordFailure when that failure started the
	// current lock.
	LockStarted bool
}

// RetryAfter returns the time left on the lockout, or 0.
func (s LockoutStatus) RetryAfter(now time.Time) time.Duration {
	if !s.Locked || !s.LockedUntil.After(now) {
		return 0
	}
	return s.LockedUntil.Sub(now)
}

// LockoutTracker records login failures per identifier. Records are cleared
// only by ClearFailures, never by time alone.
type LockoutTracker interface {
	// RecordFailure counts a failed login and locks the identifier once the
	// policy threshold is reached.
	RecordFailure(ctx context.Context, identifier string) (LockoutStatus, error)
	// ClearFailures resets the identifier after a verified successful login.
	ClearFailures(ctx context.Context, identifier string) error
	// Status returns the identifier's state without modifying it.
	Status(ctx context.Context, identifier string) (LockoutStatus, error)
}

// NormalizeIdentifier folds case and surrounding space so "Ana@Gym.io " and
// "ana@gym.io" share a lockout record.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
