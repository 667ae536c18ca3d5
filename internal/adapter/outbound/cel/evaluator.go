// Package cel evaluates the CEL rules that back granular permissions and
// route MFA requirements.
package cel

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/repclub/gymgate/internal/domain/policy"
)

// Limits on rule conditions. Conditions run on every gated request, so
// they are kept small and bounded.
const (
	maxExpressionLength = 1024
	maxNestingDepth     = 50
	maxCostBudget       = 100_000
	evalTimeout         = time.Second
	// interruptCheckFreq is the number of comprehension iterations between
	// checks of the evaluation deadline.
	interruptCheckFreq = 100
)

// Evaluator compiles and evaluates rule conditions against a viewer.
type Evaluator struct {
	env *cel.Env
}

// NewEvaluator creates an evaluator over the rule environment.
func NewEvaluator() (*Evaluator, error) {
	env, err := NewRuleEnvironment()
	if err != nil {
		return nil, fmt.Errorf("failed to create rule environment: %w", err)
	}
	return &Evaluator{env: env}, nil
}

// Compile type-checks expression and plans it with the cost and interrupt
// limits. It does not require a boolean result; use CompileCondition for
// rule conditions.
func (e *Evaluator) Compile(expression string) (cel.Program, error) {
	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compilation failed: %w", issues.Err())
	}
	return e.program(ast)
}

func (e *Evaluator) program(ast *cel.Ast) (cel.Program, error) {
	prg, err := e.env.Program(ast,
		cel.EvalOptions(cel.OptOptimize),
		cel.CostLimit(maxCostBudget),
		cel.InterruptCheckFrequency(interruptCheckFreq),
	)
	if err != nil {
		return nil, fmt.Errorf("program creation failed: %w", err)
	}
	return prg, nil
}

// CompileCondition checks a rule condition against the size limits, then
// compiles it and requires a bool result type.
func (e *Evaluator) CompileCondition(expr string) (cel.Program, error) {
	switch {
	case expr == "":
		return nil, errors.New("expression is empty")
	case len(expr) > maxExpressionLength:
		return nil, fmt.Errorf("expression too long: %d characters (max %d)", len(expr), maxExpressionLength)
	}
	if depth := nestingDepth(expr); depth > maxNestingDepth {
		return nil, fmt.Errorf("expression nesting too deep: %d levels (max %d)", depth, maxNestingDepth)
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("invalid CEL expression: %w", issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("invalid CEL expression: must evaluate to a bool, not %s", ast.OutputType())
	}
	return e.program(ast)
}

// ValidateExpression reports whether expr is usable as a rule condition.
func (e *Evaluator) ValidateExpression(expr string) error {
	_, err := e.CompileCondition(expr)
	return err
}

// nestingDepth returns the deepest bracket nesting in expr.
func nestingDepth(expr string) int {
	depth, deepest := 0, 0
	for _, ch := range expr {
		switch ch {
		case '(', '[', '{':
			depth++
			deepest = max(deepest, depth)
		case ')', ']', '}':
			depth--
		}
	}
	return deepest
}

// Evaluate runs prg for the viewer described by evalCtx, bounded by
// evalTimeout. A non-bool result is an error.
func (e *Evaluator) Evaluate(prg cel.Program, evalCtx policy.EvaluationContext) (bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), evalTimeout)
	defer cancel()

	result, _, err := prg.ContextEval(ctx, BuildActivation(evalCtx))
	if err != nil {
		return false, fmt.Errorf("evaluation failed: %w", err)
	}
	ok, isBool := result.Value().(bool)
	if !isBool {
		return false, fmt.Errorf("expression did not return a boolean, got %T", result.Value())
	}
	return ok, nil
}
