package policy

import (
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/agentwarden/gateway/internal/types"
)

// CELEvaluator compiles and evaluates the custom-rule CEL expressions a
// user policy carries. Expressions are boolean predicates over the
// request and principal context; a match is an additional low-severity
// violation. Unlike the Decision Engine's fixed checks, custom rules
// are compiled lazily and not cached across calls since policies
// change per (principal, project) and expressions are typically
// short-lived advisory guards rather than hot-path rules.
type CELEvaluator struct {
	env *cel.Env
}

// NewCELEvaluator builds the CEL environment exposing request and
// principal-context fields to custom-rule expressions.
func NewCELEvaluator() (*CELEvaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable("request.provider", cel.StringType),
		cel.Variable("request.model", cel.StringType),
		cel.Variable("request.operation", cel.StringType),
		cel.Variable("request.estimated_cost", cel.DoubleType),
		cel.Variable("request.estimated_tokens", cel.IntType),

		cel.Variable("context.spent_today", cel.DoubleType),
		cel.Variable("context.spent_this_month", cel.DoubleType),
		cel.Variable("context.recent_request_count", cel.IntType),
		cel.Variable("context.recent_rejection_count", cel.IntType),
		cel.Variable("context.account_status", cel.StringType),
		cel.Variable("context.verified", cel.BoolType),

		cel.Variable("context.requests_last_minute", cel.IntType),
		cel.Variable("context.requests_last_hour", cel.IntType),
		cel.Variable("context.requests_last_day", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &CELEvaluator{env: env}, nil
}

// EvaluateExpr compiles and evaluates a single boolean CEL expression
// against the given request and principal context.
func (c *CELEvaluator) EvaluateExpr(expr string, req types.Request, principal types.PrincipalContext) (bool, error) {
	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return false, fmt.Errorf("CEL compile error in %q: %w", expr, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return false, fmt.Errorf("CEL expression %q must evaluate to bool, got %s", expr, ast.OutputType())
	}

	prg, err := c.env.Program(ast)
	if err != nil {
		return false, fmt.Errorf("CEL program creation failed for %q: %w", expr, err)
	}

	vars := map[string]interface{}{
		"request.provider":         req.Provider,
		"request.model":            req.Model,
		"request.operation":        string(req.Operation),
		"request.estimated_cost":   req.EstimatedCost,
		"request.estimated_tokens": int64(req.EstimatedTokens),

		"context.spent_today":           principal.SpentToday,
		"context.spent_this_month":      principal.SpentThisMonth,
		"context.recent_request_count":  int64(principal.RecentRequestCount),
		"context.recent_rejection_count": int64(principal.RecentRejectionCount),
		"context.account_status":        principal.AccountStatus,
		"context.verified":              principal.Verified,

		"context.requests_last_minute": int64(principal.RateCounters.PerMinute),
		"context.requests_last_hour":   int64(principal.RateCounters.PerHour),
		"context.requests_last_day":    int64(principal.RateCounters.PerDay),
	}

	out, _, err := prg.Eval(vars)
	if err != nil {
		return false, fmt.Errorf("CEL evaluation error for %q: %w", expr, err)
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("CEL expression %q returned non-bool: %T", expr, out.Value())
	}
	return result, nil
}
