package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/repclub/gymgate/internal/domain/audit"
	"github.com/repclub/gymgate/internal/domain/ratelimit"
)

// ErrUnknownAction is returned for actions with no configured limit.
var ErrUnknownAction = errors.New("unknown throttle action")

// Sensitive actions throttled by default.
const (
	ActionPasswordReset = "password_reset"
	ActionLogin         = "login"
	ActionSignup        = "signup"
	ActionInvite        = "invite"
)

// DefaultThrottleLimits returns the per-action fixed-window limits used
// when configuration does not override them.
func DefaultThrottleLimits() map[string]ratelimit.Config {
	return map[string]ratelimit.Config{
		ActionPasswordReset: {MaxRequests: 3, Window: time.Hour},
		ActionLogin:         {MaxRequests: 5, Window: 15 * time.Minute},
		ActionSignup:        {MaxRequests: 3, Window: time.Hour},
		ActionInvite:        {MaxRequests: 3, Window: time.Hour},
	}
}

// ThrottleMetrics observes throttle and lockout outcomes.
type ThrottleMetrics interface {
	ObserveThrottle(action string, allowed bool)
	ObserveLockout()
}

type noopThrottleMetrics struct{}

func (noopThrottleMetrics) ObserveThrottle(string, bool) {}
func (noopThrottleMetrics) ObserveLockout()              {}

// ThrottleDecision is the outcome of a throttle check.
type ThrottleDecision struct {
	Action string
	ratelimit.Result
	// RetryIn is the human-readable wait, empty when allowed.
	RetryIn string
}

// LoginState is the lockout state of a login identifier.
type LoginState struct {
	ratelimit.LockoutStatus
	// RetryIn is the human-readable remaining lockout, empty when unlocked.
	RetryIn string
	// RetryAfter is the remaining lockout, 0 when unlocked.
	RetryAfter time.Duration
}

// ThrottleService applies per-action fixed-window limits and the login
// lockout policy, and audits every refusal.
type ThrottleService struct {
	limiter ratelimit.Limiter
	lockout ratelimit.LockoutTracker
	limits  map[string]ratelimit.Config
	sink    audit.Sink
	metrics ThrottleMetrics
	logger  *slog.Logger
	now     func() time.Time
}

// ThrottleOption configures ThrottleService.
type ThrottleOption func(*ThrottleService)

// WithThrottleMetrics sets the throttle metrics recorder.
func WithThrottleMetrics(m ThrottleMetrics) ThrottleOption {
	return func(s *ThrottleService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewThrottleService validates limits and creates a ThrottleService.
// A nil limits map uses DefaultThrottleLimits. sink may be nil.
func NewThrottleService(
	limiter ratelimit.Limiter,
	lockout ratelimit.LockoutTracker,
	limits map[string]ratelimit.Config,
	sink audit.Sink,
	logger *slog.Logger,
	opts ...ThrottleOption,
) (*ThrottleService, error) {
	if limits == nil {
		limits = DefaultThrottleLimits()
	}
	copied := make(map[string]ratelimit.Config, len(limits))
	for action, cfg := range limits {
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("throttle action %q: %w", action, err)
		}
		copied[action] = cfg
	}

	s := &ThrottleService{
		limiter: limiter,
		lockout: lockout,
		limits:  copied,
		sink:    sink,
		metrics: noopThrottleMetrics{},
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Actions returns the configured action names, sorted.
func (s *ThrottleService) Actions() []string {
	actions := make([]string, 0, len(s.limits))
	for a := range s.limits {
		actions = append(actions, a)
	}
	sort.Strings(actions)
	return actions
}

// Limit returns the configured limit for action.
func (s *ThrottleService) Limit(action string) (ratelimit.Config, bool) {
	cfg, ok := s.limits[action]
	return cfg, ok
}

// Consume records one attempt of action by identity. It must be called
// before the protected operation runs. A limiter failure refuses the
// attempt and is returned alongside the refusal.
func (s *ThrottleService) Consume(ctx context.Context, action, identity string) (ThrottleDecision, error) {
	cfg, ok := s.limits[action]
	if !ok {
		return ThrottleDecision{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}

	res, err := s.limiter.CheckAndConsume(ctx, ratelimit.FormatKey(action, identity), cfg)
	if err != nil {
		s.logger.Error("rate limiter failed, refusing attempt",
			"action", action,
			"error", err,
		)
		now := s.now()
		res = ratelimit.Result{ResetAt: now.Add(cfg.Window), RetryAfter: cfg.Window}
		decision := s.decision(action, res)
		s.metrics.ObserveThrottle(action, false)
		return decision, fmt.Errorf("consume %s: %w", action, err)
	}

	decision := s.decision(action, res)
	s.metrics.ObserveThrottle(action, res.Allowed)
	if !res.Allowed {
		s.record(audit.Event{
			Kind:    audit.KindRateLimited,
			ActorID: actorOf(identity),
			Subject: action,
			Outcome: audit.OutcomeRateLimited,
			Metadata: map[string]any{
				"retry_after_seconds": res.RetryAfterSeconds(),
				"limit":               cfg.MaxRequests,
			},
		})
	}
	return decision, nil
}

// Peek reports the throttle state of action for identity without
// consuming an attempt.
func (s *ThrottleService) Peek(ctx context.Context, action, identity string) (ThrottleDecision, error) {
	cfg, ok := s.limits[action]
	if !ok {
		return ThrottleDecision{}, fmt.Errorf("%w: %s", ErrUnknownAction, action)
	}
	res, err := s.limiter.Peek(ctx, ratelimit.FormatKey(action, identity), cfg)
	if err != nil {
		return ThrottleDecision{}, fmt.Errorf("peek %s: %w", action, err)
	}
	return s.decision(action, res), nil
}

func (s *ThrottleService) decision(action string, res ratelimit.Result) ThrottleDecision {
	d := ThrottleDecision{Action: action, Result: res}
	if !res.Allowed {
		d.RetryIn = ratelimit.HumanizeDuration(res.RetryAfter)
	}
	return d
}

// LockoutStatus returns the lockout state of identifier without changing it.
func (s *ThrottleService) LockoutStatus(ctx context.Context, identifier string) (LoginState, error) {
	st, err := s.lockout.Status(ctx, identifier)
	if err != nil {
		return LoginState{}, fmt.Errorf("lockout status: %w", err)
	}
	return s.loginState(st), nil
}

// RecordLoginFailure counts a failed login for identifier.
func (s *ThrottleService) RecordLoginFailure(ctx context.Context, identifier string) (LoginState, error) {
	st, err := s.lockout.RecordFailure(ctx, identifier)
	if err != nil {
		return LoginState{}, fmt.Errorf("record login failure: %w", err)
	}
	state := s.loginState(st)
	subject := ratelimit.NormalizeIdentifier(identifier)

	s.record(audit.Event{
		Kind:    audit.KindLoginFailed,
		Subject: subject,
		Outcome: audit.OutcomeFailed,
		Metadata: map[string]any{
			"failure_count":      st.FailureCount,
			"attempts_remaining": st.AttemptsRemaining,
		},
	})

	if st.LockStarted {
		s.metrics.ObserveLockout()
		s.record(audit.Event{
			Kind:    audit.KindLoginLocked,
			Subject: subject,
			Outcome: audit.OutcomeLockedOut,
			Metadata: map[string]any{
				"lockouts":            st.Lockouts,
				"locked_until":        st.LockedUntil.UTC().Format(time.RFC3339),
				"retry_after_seconds": ratelimit.CeilSeconds(state.RetryAfter),
			},
		})
		s.logger.Warn("login identifier locked out",
			"lockouts", st.Lockouts,
			"retry_in", state.RetryIn,
		)
	}
	return state, nil
}

// RecordLoginSuccess clears identifier's failures. actorID is the
// identity that signed in and may be empty.
func (s *ThrottleService) RecordLoginSuccess(ctx context.Context, identifier, actorID string) error {
	if err := s.lockout.ClearFailures(ctx, identifier); err != nil {
		return fmt.Errorf("clear login failures: %w", err)
	}
	s.record(audit.Event{
		Kind:    audit.KindLoginSucceeded,
		ActorID: actorID,
		Subject: ratelimit.NormalizeIdentifier(identifier),
		Outcome: audit.OutcomeSucceeded,
	})
	return nil
}

func (s *ThrottleService) loginState(st ratelimit.LockoutStatus) LoginState {
	state := LoginState{LockoutStatus: st}
	if st.Locked {
		now := s.now()
		state.RetryAfter = st.RetryAfter(now)
		state.RetryIn = ratelimit.HumanizeRemaining(now, st.LockedUntil)
	}
	return state
}

func (s *ThrottleService) record(e audit.Event) {
	if s.sink != nil {
		s.sink.Record(e)
	}
}

func actorOf(identity string) string {
	if ratelimit.IsAnonymous(identity) {
		return ""
	}
	return identity
}
