package cel

import (
	"path"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/repclub/gymgate/internal/domain/policy"
)

// NewRuleEnvironment creates the CEL environment used by granular
// permission and MFA rules. It declares:
//   - Subject variables: identity_id, organization_id, role, role_level
//   - Request variables: key, route, request_time
//   - Custom functions: glob, at_least
func NewRuleEnvironment() (*cel.Env, error) {
	return cel.NewEnv(
		ext.Strings(),
		ext.Sets(),

		cel.Variable("identity_id", cel.StringType),
		cel.Variable("organization_id", cel.StringType),
		cel.Variable("role", cel.StringType),
		cel.Variable("role_level", cel.IntType),

		cel.Variable("key", cel.StringType),
		cel.Variable("route", cel.StringType),
		cel.Variable("request_time", cel.TimestampType),

		// glob: shell-style match, "*" does not cross "/".
		// Usage: glob("/billing/*", route)
		cel.Function("glob",
			cel.Overload("glob_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(pattern, name ref.Val) ref.Val {
					p := pattern.Value().(string)
					n := name.Value().(string)
					return types.Bool(Glob(p, n))
				}),
			),
		),

		// at_least: role hierarchy comparison by level.
		// Usage: at_least(role, "manager")
		cel.Function("at_least",
			cel.Overload("at_least_string_string",
				[]*cel.Type{cel.StringType, cel.StringType},
				cel.BoolType,
				cel.BinaryBinding(func(roleVal, minVal ref.Val) ref.Val {
					have, err := policy.ParseRole(roleVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					want, err := policy.ParseRole(minVal.Value().(string))
					if err != nil {
						return types.Bool(false)
					}
					return types.Bool(have.Level() >= want.Level())
				}),
			),
		),
	)
}

// Glob reports whether name matches the shell pattern. A malformed
// pattern matches nothing.
func Glob(pattern, name string) bool {
	matched, err := path.Match(pattern, name)
	return err == nil && matched
}

// BuildActivation creates the variable map for a rule evaluation.
func BuildActivation(evalCtx policy.EvaluationContext) map[string]any {
	role := ""
	level := int64(0)
	if evalCtx.Role.IsValid() {
		role = evalCtx.Role.String()
		level = int64(evalCtx.Role.Level())
	}

	return map[string]any{
		"identity_id":     evalCtx.IdentityID,
		"organization_id": evalCtx.OrganizationID,
		"role":            role,
		"role_level":      level,
		"key":             evalCtx.Key,
		"route":           evalCtx.Route,
		"request_time":    evalCtx.RequestTime,
	}
}
