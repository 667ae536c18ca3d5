package cel

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/repclub/gymgate/internal/domain/access"
	"github.com/repclub/gymgate/internal/domain/auth"
	"github.com/repclub/gymgate/internal/domain/policy"
)

// GranularRule grants every permission key matching KeyPattern when
// Condition holds. An empty Condition always holds.
type GranularRule struct {
	KeyPattern string `yaml:"key" mapstructure:"key"`
	Condition  string `yaml:"condition" mapstructure:"condition"`
}

// MFARule requires a verified second factor on every route matching
// RoutePattern when Condition holds. An empty Condition always holds.
type MFARule struct {
	RoutePattern string `yaml:"route" mapstructure:"route"`
	Condition    string `yaml:"condition" mapstructure:"condition"`
}

type compiledRule struct {
	pattern   string
	condition string
	prg       cel.Program
}

// RulesOracle answers granular permission and MFA questions from a fixed
// set of compiled rules. Keys without a matching rule are denied.
type RulesOracle struct {
	eval     *Evaluator
	granular []compiledRule
	mfa      []compiledRule
	logger   *slog.Logger
	now      func() time.Time
}

// NewRulesOracle compiles all rule conditions. Any invalid condition fails
// construction.
func NewRulesOracle(granular []GranularRule, mfa []MFARule, logger *slog.Logger) (*RulesOracle, error) {
	eval, err := NewEvaluator()
	if err != nil {
		return nil, err
	}
	o := &RulesOracle{eval: eval, logger: logger, now: time.Now}

	for i, r := range granular {
		c, err := o.compile(r.KeyPattern, r.Condition)
		if err != nil {
			return nil, fmt.Errorf("granular rule %d (%s): %w", i, r.KeyPattern, err)
		}
		o.granular = append(o.granular, c)
	}
	for i, r := range mfa {
		c, err := o.compile(r.RoutePattern, r.Condition)
		if err != nil {
			return nil, fmt.Errorf("mfa rule %d (%s): %w", i, r.RoutePattern, err)
		}
		o.mfa = append(o.mfa, c)
	}
	return o, nil
}

func (o *RulesOracle) compile(pattern, condition string) (compiledRule, error) {
	if pattern == "" {
		return compiledRule{}, fmt.Errorf("pattern is empty")
	}
	if condition == "" {
		condition = "true"
	}
	prg, err := o.eval.CompileCondition(condition)
	if err != nil {
		return compiledRule{}, err
	}
	return compiledRule{pattern: pattern, condition: condition, prg: prg}, nil
}

// RuleCount returns the number of granular and MFA rules.
func (o *RulesOracle) RuleCount() (granular, mfa int) {
	return len(o.granular), len(o.mfa)
}

// Bind returns a PermissionOracle for one viewer. A nil profile binds an
// empty subject, for which only unconditional rules can match.
func (o *RulesOracle) Bind(identity *auth.Identity, profile *access.Profile, mfaVerified bool) access.PermissionOracle {
	subject := policy.EvaluationContext{RequestTime: o.now()}
	if identity != nil {
		subject.IdentityID = identity.ID
	}
	if profile != nil {
		subject.OrganizationID = profile.OrganizationID
		subject.Role = profile.Role
	}
	return &boundOracle{rules: o, subject: subject, verified: mfaVerified}
}

// boundOracle implements access.PermissionOracle for one subject.
type boundOracle struct {
	rules    *RulesOracle
	subject  policy.EvaluationContext
	verified bool
}

// HasGranularPermission is true when any rule for key holds. Evaluation
// errors count as not holding.
func (b *boundOracle) HasGranularPermission(key string) bool {
	evalCtx := b.subject
	evalCtx.Key = key
	for _, r := range b.rules.granular {
		if !Glob(r.pattern, key) {
			continue
		}
		ok, err := b.rules.eval.Evaluate(r.prg, evalCtx)
		if err != nil {
			b.rules.logger.Warn("granular rule evaluation failed",
				"key", key, "pattern", r.pattern, "error", err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

func (b *boundOracle) MFAStatus() access.MFAStatus {
	return access.MFAStatus{Verified: b.verified}
}

// MFARequiredForRoute is true when any rule for route holds. An evaluation
// error requires MFA.
func (b *boundOracle) MFARequiredForRoute(route string) bool {
	evalCtx := b.subject
	evalCtx.Route = route
	for _, r := range b.rules.mfa {
		if !Glob(r.pattern, route) {
			continue
		}
		ok, err := b.rules.eval.Evaluate(r.prg, evalCtx)
		if err != nil {
			b.rules.logger.Warn("mfa rule evaluation failed",
				"route", route, "pattern", r.pattern, "error", err)
			return true
		}
		if ok {
			return true
		}
	}
	return false
}

// Compile-time interface verification.
var _ access.PermissionOracle = (*boundOracle)(nil)
