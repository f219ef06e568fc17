package ast

// ConditionKind represents the kind of condition in a rule.
type ConditionKind string

const (
	// ConditionKindExpr is a sandboxed CEL expression over context data.
	ConditionKindExpr ConditionKind = "expr"

	// ConditionKindEvaluator invokes a custom evaluator registered by name.
	ConditionKindEvaluator ConditionKind = "evaluator"
)

// Condition represents one condition of a rule. Conditions are pure
// predicates over the execution context's data mapping: they never mutate
// the context.
//
// An expression condition holds CEL source evaluated in a sandbox that only
// reaches whitelisted operators and built-in functions. An evaluator
// condition names a predicate registered with the engine and passes it the
// declared parameters alongside the context data.
type Condition struct {
	Kind      ConditionKind          // Kind of condition
	Expr      string                 // CEL source (for Expr conditions)
	Evaluator string                 // Registered evaluator name (for Evaluator conditions)
	Params    map[string]interface{} // Evaluator parameters (for Evaluator conditions)
	Location  Location               // Source location
}

// IsExpr returns true if this is an expression condition.
func (c *Condition) IsExpr() bool {
	return c.Kind == ConditionKindExpr
}

// IsEvaluator returns true if this condition invokes a registered evaluator.
func (c *Condition) IsEvaluator() bool {
	return c.Kind == ConditionKindEvaluator
}
