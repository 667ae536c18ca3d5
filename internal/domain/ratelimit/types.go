// Package ratelimit provides the fixed-window throttling and login lockout
// contracts used by sensitive dashboard actions.
package ratelimit

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// ErrInvalidConfig is returned when a limit or lockout policy is unusable.
var ErrInvalidConfig = errors.New("invalid rate limit config")

// Config defines a fixed-window limit.
type Config struct {
	// MaxRequests is the number of requests allowed per window.
	MaxRequests int
	// Window is the fixed window length.
	Window time.Duration
}

// Validate checks that the limit can admit at least one request.
func (c Config) Validate() error {
	if c.MaxRequests <= 0 {
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidConfig, c.MaxRequests)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %s", ErrInvalidConfig, c.Window)
	}
	return nil
}

// Result contains the outcome of a limit check.
type Result struct {
	// Allowed indicates whether the request is allowed.
	Allowed bool
	// Remaining is the number of requests left in the current window.
	Remaining int
	// ResetAt is when the current window ends.
	ResetAt time.Time
	// RetryAfter is the wait before the next request can succeed.
	// Zero when Allowed is true.
	RetryAfter time.Duration
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds.
func (r Result) RetryAfterSeconds() int {
	return CeilSeconds(r.RetryAfter)
}

// CeilSeconds rounds d up to whole seconds. Non-positive durations give 0.
func CeilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}

// AnonymousIdentity stands in for callers without an identity.
const AnonymousIdentity = "anonymous"

// Prefixes for identities that name no authenticated caller.
const (
	clientPrefix  = "ip:"
	claimedPrefix = "claimed:"
)

// ClientIdentity keys an unauthenticated caller by network address.
func ClientIdentity(ip string) string {
	return clientPrefix + ip
}

// ClaimedIdentity keys an unauthenticated caller by the login identifier
// it supplied, such as the email on a password reset form.
func ClaimedIdentity(identifier string) string {
	return claimedPrefix + NormalizeIdentifier(identifier)
}

// IsAnonymous reports whether identity names no authenticated caller.
func IsAnonymous(identity string) bool {
	return identity == "" || identity == AnonymousIdentity ||
		strings.HasPrefix(identity, clientPrefix) || strings.HasPrefix(identity, claimedPrefix)
}

// keyPrefix is the base prefix for all rate limit keys.
const keyPrefix = "ratelimit"

// FormatKey returns the store key for an (action, identity) pair.
// Format: "ratelimit:{action}:{xxhash64(identity) in hex}"
// An empty identity is treated as AnonymousIdentity.
func FormatKey(action, identityID string) string {
	if identityID == "" {
		identityID = AnonymousIdentity
	}
	return keyPrefix + ":" + action + ":" + strconv.FormatUint(xxhash.Sum64String(identityID), 16)
}
