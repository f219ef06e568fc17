package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// celCostLimit bounds expression evaluation cost to prevent resource
// exhaustion from pathological expressions.
const celCostLimit = 1_000_000

// CustomEvaluator is a user-registered predicate invoked explicitly by a
// condition that references it by name. Implementations must be pure
// functions of the supplied params and context data: no context mutation,
// and errors only to signal evaluation failure.
type CustomEvaluator func(ctx context.Context, params map[string]interface{}, data map[string]interface{}) (bool, error)

// CompiledCondition is a condition prepared for repeated evaluation:
// expression conditions carry their compiled CEL program, evaluator
// conditions their resolved parameters. Both carry a source hash for the
// per-run memo cache.
type CompiledCondition struct {
	cond    *ast.Condition
	program cel.Program
	hash    uint64
}

// Source returns the condition's source text for error reporting.
func (c *CompiledCondition) Source() string {
	if c.cond.IsExpr() {
		return c.cond.Expr
	}
	return c.cond.Evaluator
}

// ConditionEvaluator evaluates rule conditions against execution contexts.
//
// Expression conditions are CEL programs compiled once at rule registration
// and evaluated in a sandbox: only the declared variables (data, metadata,
// context_type, context_id, user_id, session_id), CEL's whitelisted
// operators, and its standard function library are reachable. Referencing an
// unknown symbol or exceeding the cost limit fails the condition with an
// *EvaluationError; injected input can never execute code.
type ConditionEvaluator struct {
	env    *cel.Env
	logger *slog.Logger

	mu     sync.RWMutex
	custom map[string]CustomEvaluator
}

// NewConditionEvaluator creates a condition evaluator with the standard
// sandbox environment.
func NewConditionEvaluator(logger *slog.Logger) (*ConditionEvaluator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	env, err := cel.NewEnv(
		cel.Variable("data", cel.DynType),
		cel.Variable("metadata", cel.DynType),
		cel.Variable("context_type", cel.StringType),
		cel.Variable("context_id", cel.StringType),
		cel.Variable("user_id", cel.StringType),
		cel.Variable("session_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &ConditionEvaluator{
		env:    env,
		logger: logger,
		custom: make(map[string]CustomEvaluator),
	}, nil
}

// RegisterEvaluator registers a custom evaluator under a unique name.
func (e *ConditionEvaluator) RegisterEvaluator(name string, fn CustomEvaluator) error {
	if name == "" {
		return &ValidationError{Message: "evaluator name cannot be empty"}
	}
	if fn == nil {
		return &ValidationError{Message: fmt.Sprintf("evaluator %q implementation cannot be nil", name)}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.custom[name]; ok {
		return &ValidationError{Message: fmt.Sprintf("evaluator %q is already registered", name)}
	}
	e.custom[name] = fn
	return nil
}

// Compile prepares a condition for evaluation. Expression conditions are
// compiled and type-checked; a malformed expression fails with a
// *ValidationError carrying the rule name.
func (e *ConditionEvaluator) Compile(ruleName string, cond *ast.Condition) (*CompiledCondition, error) {
	switch cond.Kind {
	case ast.ConditionKindExpr:
		astc, issues := e.env.Compile(cond.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, &ValidationError{
				RuleName: ruleName,
				Message:  fmt.Sprintf("condition %q: %v", cond.Expr, issues.Err()),
			}
		}

		program, err := e.env.Program(astc, cel.CostLimit(celCostLimit))
		if err != nil {
			return nil, &ValidationError{
				RuleName: ruleName,
				Message:  fmt.Sprintf("condition %q: program creation failed: %v", cond.Expr, err),
			}
		}

		return &CompiledCondition{
			cond:    cond,
			program: program,
			hash:    hashSource(cond.Expr),
		}, nil

	case ast.ConditionKindEvaluator:
		// Custom evaluators resolve at evaluation time so registration
		// order between rules and evaluators does not matter.
		return &CompiledCondition{
			cond: cond,
			hash: hashSource(cond.Evaluator + "\x00" + fingerprintParams(cond.Params)),
		}, nil

	default:
		return nil, &ValidationError{
			RuleName: ruleName,
			Message:  fmt.Sprintf("unknown condition kind %q", cond.Kind),
		}
	}
}

// Evaluate evaluates a compiled condition against the execution context.
// The result is memoized in the supplied per-run cache (when non-nil) keyed
// by the condition source and fingerprints of the current context data and
// metadata, so a mid-run write to either invalidates the memo.
// Failures are reported as *EvaluationError; the context is never mutated.
func (e *ConditionEvaluator) Evaluate(ctx context.Context, ruleName string, cc *CompiledCondition, ectx *ExecutionContext, cache *runCache) (bool, error) {
	data := ectx.DataSnapshot()
	metadata := ectx.MetadataSnapshot()

	var key uint64
	if cache != nil {
		key = cacheKey(cc.hash, fingerprintContext(data, metadata))
		if result, ok := cache.lookup(key); ok {
			return result, nil
		}
	}

	var result bool
	var err error
	if cc.cond.IsExpr() {
		result, err = e.evalExpr(cc, ectx, data, metadata)
	} else {
		result, err = e.evalCustom(ctx, cc, data)
	}
	if err != nil {
		return false, &EvaluationError{
			RuleName:  ruleName,
			Condition: cc.Source(),
			Cause:     err,
		}
	}

	if cache != nil {
		cache.store(key, result)
	}
	return result, nil
}

// evalExpr evaluates a compiled CEL program.
func (e *ConditionEvaluator) evalExpr(cc *CompiledCondition, ectx *ExecutionContext, data, metadata map[string]interface{}) (bool, error) {
	out, _, err := cc.program.Eval(map[string]interface{}{
		"data":         data,
		"metadata":     metadata,
		"context_type": ectx.ContextType,
		"context_id":   ectx.ContextID,
		"user_id":      ectx.UserID,
		"session_id":   ectx.SessionID,
	})
	if err != nil {
		return false, err
	}

	result, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out.Value())
	}
	return result, nil
}

// evalCustom dispatches to a registered custom evaluator.
func (e *ConditionEvaluator) evalCustom(ctx context.Context, cc *CompiledCondition, data map[string]interface{}) (bool, error) {
	e.mu.RLock()
	fn, ok := e.custom[cc.cond.Evaluator]
	e.mu.RUnlock()

	if !ok {
		return false, fmt.Errorf("unknown evaluator %q", cc.cond.Evaluator)
	}
	return fn(ctx, cc.cond.Params, data)
}

// fingerprintParams renders evaluator parameters deterministically for
// source hashing.
func fingerprintParams(params map[string]interface{}) string {
	if len(params) == 0 {
		return ""
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	s := ""
	for _, k := range keys {
		s += fmt.Sprintf("%s=%v;", k, params[k])
	}
	return s
}
