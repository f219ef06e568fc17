// Package engine provides a priority-based, condition/action rule engine
// with concurrent evaluation, per-run condition caching, and retry-capable
// action execution.
//
// # Architecture
//
// The engine uses a three-layer design:
//
//  1. Condition Evaluator - Evaluates sandboxed CEL expressions and
//     registered custom predicates against context data
//  2. Action Executor - Executes built-in and registered actions with
//     retry and timeout policy
//  3. Engine - Owns the rule registry and orchestrates selection,
//     evaluation, execution, and result aggregation
//
// # Evaluation Flow
//
//	ExecutionContext
//	       ↓
//	Engine (registry snapshot, filter by context type)
//	       ↓
//	For each rule in priority order (registration order breaks ties):
//	  Evaluate conditions in order (AND, short-circuit) → Match?
//	    Yes → Execute actions in order → Record rule result
//	    No  → Record lightweight rule result (audit completeness)
//	       ↓
//	Return RunResult (ordered rule results, counts, overall success)
//
// # Basic Usage
//
//	eng, err := engine.New(engine.DefaultConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	err = eng.Register(&ast.Rule{
//	    Name:     "high-budget-flag",
//	    Enabled:  true,
//	    Priority: engine.PriorityHigh,
//	    Conditions: []*ast.Condition{
//	        {Kind: ast.ConditionKindExpr, Expr: "data.budget > 500000.0"},
//	    },
//	    Actions: []*ast.Action{
//	        {Name: engine.ActionSetField, Params: map[string]interface{}{
//	            "field": "flag", "value": "review_required",
//	        }},
//	    },
//	})
//
//	result, err := eng.Evaluate(ctx, engine.NewExecutionContext("expense",
//	    map[string]interface{}{"budget": 600000}))
//
// # Error Propagation
//
// Per-rule and per-action failures are captured on the RunResult: a
// condition error marks its rule not matched, a failed action marks its
// rule failed, and the run always completes with a full, inspectable
// result. Only a malformed context or caller cancellation aborts the run
// (as an *EngineFatalError, with no partial result); registry management
// errors surface directly from the registration APIs.
//
// # Concurrency
//
// The engine is safe for concurrent use: many contexts may be evaluated
// simultaneously against the shared registry, which hands each run an
// immutable snapshot. Within a run, execution is sequential by priority
// unless ParallelExecution is enabled, in which case consecutive rules with
// declared, pairwise-disjoint write sets run concurrently without changing
// the observable outcome.
package engine
