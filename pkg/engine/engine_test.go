package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/rule/ast"
)

func newTestEngine(t *testing.T, config *Config) *Engine {
	t.Helper()
	eng, err := New(config, nil)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return eng
}

// recordRule fires unconditionally and appends its name to the "fired"
// context-data list, so tests can assert execution order.
func recordRule(eng *Engine, t *testing.T, name string, priority int) {
	t.Helper()
	err := eng.Executor().Register(&ActionSpec{
		Name: "record_" + name,
		Handler: func(_ context.Context, _ *ast.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
			ectx.AppendMetadataList("order", name)
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Register(record_%s) error: %v", name, err)
	}
	mustRegister(t, eng, &ast.Rule{
		Name:     name,
		Priority: priority,
		Enabled:  true,
		Actions:  []*ast.Action{{Name: "record_" + name}},
	})
}

func mustRegister(t *testing.T, eng *Engine, def *ast.Rule) {
	t.Helper()
	if err := eng.Register(def); err != nil {
		t.Fatalf("Register(%s) error: %v", def.Name, err)
	}
}

func firedOrder(ectx *ExecutionContext) []string {
	raw, _ := ectx.GetMetadata("order")
	list, _ := raw.([]interface{})
	names := make([]string, len(list))
	for i, v := range list {
		names[i] = v.(string)
	}
	return names
}

func TestEvaluatePriorityPipeline(t *testing.T) {
	eng := newTestEngine(t, nil)

	// A high-priority rule writes a field; a lower-priority rule's
	// condition observes the written value within the same run.
	mustRegister(t, eng, &ast.Rule{
		Name:       "gold-discount",
		Priority:   PriorityHigh,
		Enabled:    true,
		Conditions: []*ast.Condition{exprCondition(`data.tier == "gold"`)},
		Actions: []*ast.Action{{
			Name: ActionSetField,
			Params: map[string]interface{}{
				"field": "discount",
				"value": 0.15,
			},
		}},
	})
	mustRegister(t, eng, &ast.Rule{
		Name:       "discount-notice",
		Priority:   PriorityLow,
		Enabled:    true,
		Conditions: []*ast.Condition{exprCondition(`data.discount >= 0.1`)},
		Actions: []*ast.Action{{
			Name: ActionNotify,
			Params: map[string]interface{}{
				"destination": "customer",
				"message":     "discount applied",
			},
		}},
	})

	ectx := NewExecutionContext("order", map[string]interface{}{"tier": "gold"})
	result, err := eng.Evaluate(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if !result.Success {
		t.Error("run must succeed")
	}
	if result.Evaluated != 2 || result.Matched != 2 || result.Fired != 2 {
		t.Errorf("counters = evaluated %d, matched %d, fired %d; want 2, 2, 2",
			result.Evaluated, result.Matched, result.Fired)
	}
	if got, _ := ectx.GetData("discount"); got != 0.15 {
		t.Errorf("discount = %v, want 0.15", got)
	}
	if rr := result.Result("discount-notice"); rr == nil || !rr.Fired() {
		t.Error("discount-notice must fire on the value written earlier in the run")
	}
}

func TestEvaluateMissingFieldSkipsRule(t *testing.T) {
	eng := newTestEngine(t, nil)

	mustRegister(t, eng, &ast.Rule{
		Name:       "needs-absent-field",
		Priority:   PriorityHigh,
		Enabled:    true,
		Conditions: []*ast.Condition{exprCondition(`data.never_set > 10`)},
		Actions:    []*ast.Action{{Name: ActionLog, Params: map[string]interface{}{"message": "hi"}}},
	})
	recordRule(eng, t, "healthy-rule", PriorityLow)

	result, err := eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	// An evaluation error skips the rule; the run itself stays healthy.
	if !result.Success {
		t.Error("run must succeed when a rule is skipped on an evaluation error")
	}
	skipped := result.Result("needs-absent-field")
	if skipped == nil {
		t.Fatal("skipped rule must still appear in the results")
	}
	if skipped.ConditionsMet {
		t.Error("ConditionsMet must be false for the skipped rule")
	}
	var evalErr *EvaluationError
	if !errors.As(skipped.Error, &evalErr) {
		t.Fatalf("rule error = %v, want *EvaluationError", skipped.Error)
	}
	if rr := result.Result("healthy-rule"); rr == nil || !rr.Fired() {
		t.Error("later rules must still run after a skipped rule")
	}
}

func TestEvaluateActionFailureMarksRunFailed(t *testing.T) {
	eng := newTestEngine(t, nil)

	eng.Executor().Register(&ActionSpec{
		Name: "broken_action",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			return nil, &ActionExecutionError{Cause: fmt.Errorf("downstream unavailable")}
		},
	})

	mustRegister(t, eng, &ast.Rule{
		Name:     "failing-rule",
		Priority: PriorityHigh,
		Enabled:  true,
		Actions:  []*ast.Action{{Name: "broken_action"}},
	})
	recordRule(eng, t, "after-failure", PriorityLow)

	result, err := eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if result.Success {
		t.Error("run must fail when a matched rule's action fails")
	}
	if result.Failed != 1 {
		t.Errorf("Failed = %d, want 1", result.Failed)
	}
	if rr := result.Result("failing-rule"); rr == nil || rr.Success {
		t.Error("failing rule must report Success=false")
	}
	if rr := result.Result("after-failure"); rr == nil || !rr.Fired() {
		t.Error("later rules must still run after an action failure")
	}
}

func TestEvaluatePriorityOrder(t *testing.T) {
	eng := newTestEngine(t, nil)

	// Registration order deliberately scrambled; equal priorities keep
	// registration order.
	recordRule(eng, t, "low", PriorityLow)
	recordRule(eng, t, "high-first", PriorityHigh)
	recordRule(eng, t, "medium", PriorityMedium)
	recordRule(eng, t, "high-second", PriorityHigh)

	ectx := NewExecutionContext("order", map[string]interface{}{})
	result, err := eng.Evaluate(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	want := []string{"high-first", "high-second", "medium", "low"}
	got := firedOrder(ectx)
	if len(got) != len(want) {
		t.Fatalf("fired %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fired %v, want %v", got, want)
		}
	}

	for i, rr := range result.RuleResults {
		if rr.RuleName != want[i] {
			t.Errorf("RuleResults[%d] = %s, want %s", i, rr.RuleName, want[i])
		}
	}
}

func TestEvaluateConditionShortCircuit(t *testing.T) {
	eng := newTestEngine(t, nil)

	var calls int64
	err := eng.Evaluator().RegisterEvaluator("counting_check", func(_ context.Context, _ map[string]interface{}, _ map[string]interface{}) (bool, error) {
		atomic.AddInt64(&calls, 1)
		return true, nil
	})
	if err != nil {
		t.Fatalf("RegisterEvaluator() error: %v", err)
	}

	mustRegister(t, eng, &ast.Rule{
		Name:     "short-circuit",
		Priority: PriorityHigh,
		Enabled:  true,
		Conditions: []*ast.Condition{
			exprCondition(`data.flag == true`),
			{Kind: ast.ConditionKindEvaluator, Evaluator: "counting_check"},
		},
		Actions: []*ast.Action{{Name: ActionLog, Params: map[string]interface{}{"message": "hi"}}},
	})

	_, err = eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{"flag": false}))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if atomic.LoadInt64(&calls) != 0 {
		t.Errorf("second condition evaluated %d times after first failed, want 0", calls)
	}
}

func TestDisableAndEnable(t *testing.T) {
	eng := newTestEngine(t, nil)
	recordRule(eng, t, "toggled", PriorityHigh)

	if err := eng.Disable("toggled"); err != nil {
		t.Fatalf("Disable() error: %v", err)
	}
	ectx := NewExecutionContext("order", map[string]interface{}{})
	result, err := eng.Evaluate(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Evaluated != 0 {
		t.Errorf("disabled rule evaluated; Evaluated = %d, want 0", result.Evaluated)
	}

	if err := eng.Enable("toggled"); err != nil {
		t.Fatalf("Enable() error: %v", err)
	}
	result, err = eng.Evaluate(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Fired != 1 {
		t.Errorf("re-enabled rule did not fire; Fired = %d, want 1", result.Fired)
	}
}

func TestEvaluateContextTypeFiltering(t *testing.T) {
	eng := newTestEngine(t, nil)

	mustRegister(t, eng, &ast.Rule{
		Name:         "orders-only",
		Priority:     PriorityHigh,
		Enabled:      true,
		ContextTypes: []string{"order"},
		Actions:      []*ast.Action{{Name: ActionLog, Params: map[string]interface{}{"message": "order"}}},
	})
	mustRegister(t, eng, &ast.Rule{
		Name:     "all-contexts",
		Priority: PriorityLow,
		Enabled:  true,
		Actions:  []*ast.Action{{Name: ActionLog, Params: map[string]interface{}{"message": "any"}}},
	})

	result, err := eng.Evaluate(context.Background(), NewExecutionContext("payment", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Evaluated != 1 {
		t.Fatalf("Evaluated = %d, want 1", result.Evaluated)
	}
	if result.RuleResults[0].RuleName != "all-contexts" {
		t.Errorf("evaluated %s, want all-contexts", result.RuleResults[0].RuleName)
	}
}

func TestEvaluateFatalOnMalformedContext(t *testing.T) {
	eng := newTestEngine(t, nil)

	tests := []struct {
		name string
		ectx *ExecutionContext
	}{
		{name: "nil context", ectx: nil},
		{name: "missing context type", ectx: &ExecutionContext{data: map[string]interface{}{}}},
		{name: "nil data", ectx: &ExecutionContext{ContextType: "order"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eng.Evaluate(context.Background(), tt.ectx)
			if result != nil {
				t.Error("fatal errors must not produce a partial result")
			}
			var fatal *EngineFatalError
			if !errors.As(err, &fatal) {
				t.Fatalf("error = %v, want *EngineFatalError", err)
			}
		})
	}
}

func TestEvaluateCancelledContext(t *testing.T) {
	eng := newTestEngine(t, nil)
	recordRule(eng, t, "never-runs", PriorityHigh)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := eng.Evaluate(ctx, NewExecutionContext("order", map[string]interface{}{}))
	if result != nil {
		t.Error("cancelled run must not produce a partial result")
	}
	var fatal *EngineFatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("error = %v, want *EngineFatalError", err)
	}
}

func TestEvaluateContinueOnError(t *testing.T) {
	eng := newTestEngine(t, nil)

	var secondRan bool
	eng.Executor().Register(&ActionSpec{
		Name: "first_fails",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			return nil, fmt.Errorf("boom")
		},
	})
	eng.Executor().Register(&ActionSpec{
		Name: "second_records",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			secondRan = true
			return nil, nil
		},
	})

	mustRegister(t, eng, &ast.Rule{
		Name:            "multi-action",
		Priority:        PriorityHigh,
		Enabled:         true,
		ContinueOnError: true,
		Actions: []*ast.Action{
			{Name: "first_fails"},
			{Name: "second_records"},
		},
	})

	result, err := eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Success {
		t.Error("run must report the action failure")
	}
	if !secondRan {
		t.Error("continue_on_error rule must run remaining actions after a failure")
	}
	rr := result.Result("multi-action")
	if len(rr.ActionResults) != 2 {
		t.Errorf("ActionResults = %d, want 2", len(rr.ActionResults))
	}
}

func TestEvaluateHaltsActionsByDefault(t *testing.T) {
	eng := newTestEngine(t, nil)

	var secondRan bool
	eng.Executor().Register(&ActionSpec{
		Name: "first_fails",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			return nil, fmt.Errorf("boom")
		},
	})
	eng.Executor().Register(&ActionSpec{
		Name: "second_records",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			secondRan = true
			return nil, nil
		},
	})

	mustRegister(t, eng, &ast.Rule{
		Name:     "halting-rule",
		Priority: PriorityHigh,
		Enabled:  true,
		Actions: []*ast.Action{
			{Name: "first_fails"},
			{Name: "second_records"},
		},
	})

	if _, err := eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{})); err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if secondRan {
		t.Error("remaining actions must not run after a failure by default")
	}
}

func TestEvaluateParallelStages(t *testing.T) {
	eng := newTestEngine(t, DefaultConfig().WithParallelExecution(true))

	// Three same-priority rules with pairwise-disjoint write sets run in
	// one stage; results must still come back in priority order.
	for _, name := range []string{"alpha", "beta", "gamma"} {
		field := name + "_done"
		mustRegister(t, eng, &ast.Rule{
			Name:     name,
			Priority: PriorityMedium,
			Enabled:  true,
			WriteSet: []string{field},
			Actions: []*ast.Action{{
				Name: ActionSetField,
				Params: map[string]interface{}{
					"field": field,
					"value": true,
				},
			}},
		})
	}

	ectx := NewExecutionContext("order", map[string]interface{}{})
	result, err := eng.Evaluate(context.Background(), ectx)
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if result.Fired != 3 {
		t.Errorf("Fired = %d, want 3", result.Fired)
	}
	want := []string{"alpha", "beta", "gamma"}
	for i, rr := range result.RuleResults {
		if rr.RuleName != want[i] {
			t.Errorf("RuleResults[%d] = %s, want %s", i, rr.RuleName, want[i])
		}
	}
	for _, name := range want {
		if v, ok := ectx.GetData(name + "_done"); !ok || v != true {
			t.Errorf("field %s_done = %v, want true", name, v)
		}
	}
}

func TestReloadReplacesRuleSet(t *testing.T) {
	eng := newTestEngine(t, nil)
	recordRule(eng, t, "original", PriorityHigh)

	err := eng.Reload([]*ast.Rule{
		{
			Name:     "replacement",
			Priority: PriorityHigh,
			Enabled:  true,
			Actions:  []*ast.Action{{Name: ActionLog, Params: map[string]interface{}{"message": "hi"}}},
		},
	})
	if err != nil {
		t.Fatalf("Reload() error: %v", err)
	}

	result, err := eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if result.Evaluated != 1 || result.RuleResults[0].RuleName != "replacement" {
		t.Errorf("post-reload rules = %v, want only replacement", result.RuleResults)
	}

	if err := eng.Reload([]*ast.Rule{{Name: "Bad Name"}}); err == nil {
		t.Error("Reload() must reject an invalid rule set")
	}
}

func TestRegisterRejectsInvalidRules(t *testing.T) {
	eng := newTestEngine(t, nil)

	err := eng.Register(&ast.Rule{Name: "Bad Name", Enabled: true})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}

	err = eng.Register(&ast.Rule{
		Name:       "bad-expr",
		Enabled:    true,
		Conditions: []*ast.Condition{exprCondition("data.x >")},
	})
	if !errors.As(err, &valErr) {
		t.Fatalf("error = %v, want *ValidationError for uncompilable expression", err)
	}
}

func TestRemoveUnknownRule(t *testing.T) {
	eng := newTestEngine(t, nil)

	var notFound *NotFoundError
	if err := eng.Remove("ghost"); !errors.As(err, &notFound) {
		t.Fatalf("error = %v, want *NotFoundError", err)
	}
}

func TestObserverReceivesRunResult(t *testing.T) {
	eng := newTestEngine(t, nil)
	recordRule(eng, t, "observed", PriorityHigh)

	var observed *RunResult
	eng.AddObserver(observerFunc(func(r *RunResult) { observed = r }))

	result, err := eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}
	if observed == nil || observed.RunID != result.RunID {
		t.Error("observer must receive the completed run result")
	}
}

type observerFunc func(*RunResult)

func (f observerFunc) ObserveRun(r *RunResult) { f(r) }

func TestRunTimeoutAbortsRun(t *testing.T) {
	eng := newTestEngine(t, DefaultConfig().WithRunTimeout(30*time.Millisecond))

	eng.Executor().Register(&ActionSpec{
		Name: "slow_burner",
		Handler: func(ctx context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			return nil, ctx.Err()
		},
	})

	// Two rules so the run-level deadline check between rules trips.
	mustRegister(t, eng, &ast.Rule{
		Name:     "slow-one",
		Priority: PriorityHigh,
		Enabled:  true,
		Actions:  []*ast.Action{{Name: "slow_burner"}},
	})
	mustRegister(t, eng, &ast.Rule{
		Name:     "slow-two",
		Priority: PriorityLow,
		Enabled:  true,
		Actions:  []*ast.Action{{Name: "slow_burner"}},
	})

	result, err := eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{}))
	if result != nil {
		t.Error("timed-out run must not produce a partial result")
	}
	var fatal *EngineFatalError
	if !errors.As(err, &fatal) {
		t.Fatalf("error = %v, want *EngineFatalError", err)
	}
}

func TestEvaluateCachedConditionSeesMetadataWrites(t *testing.T) {
	// The condition cache is on by default. The same condition text
	// evaluates before and after a rule whose action writes context
	// metadata; the memoized first result must not shadow the second
	// evaluation.
	eng := newTestEngine(t, nil)

	const metadataExpr = `"notifications" in metadata`

	mustRegister(t, eng, &ast.Rule{
		Name:       "early-check",
		Priority:   PriorityHigh,
		Enabled:    true,
		Conditions: []*ast.Condition{exprCondition(metadataExpr)},
		Actions:    []*ast.Action{{Name: ActionLog, Params: map[string]interface{}{"message": "seen"}}},
	})
	mustRegister(t, eng, &ast.Rule{
		Name:     "notifier",
		Priority: PriorityMedium,
		Enabled:  true,
		Actions: []*ast.Action{{
			Name: ActionNotify,
			Params: map[string]interface{}{
				"destination": "review-queue",
				"message":     "order flagged",
			},
		}},
	})
	mustRegister(t, eng, &ast.Rule{
		Name:       "late-check",
		Priority:   PriorityLow,
		Enabled:    true,
		Conditions: []*ast.Condition{exprCondition(metadataExpr)},
		Actions:    []*ast.Action{{Name: ActionLog, Params: map[string]interface{}{"message": "seen"}}},
	})

	result, err := eng.Evaluate(context.Background(), NewExecutionContext("order", map[string]interface{}{}))
	if err != nil {
		t.Fatalf("Evaluate() error: %v", err)
	}

	if rr := result.Result("early-check"); rr == nil || rr.ConditionsMet {
		t.Error("early-check must not match before the notification is recorded")
	}
	if rr := result.Result("late-check"); rr == nil || !rr.ConditionsMet {
		t.Error("late-check must see the metadata written earlier in the run")
	}
}

func TestRegisterRejectsUnknownAction(t *testing.T) {
	eng := newTestEngine(t, nil)

	def := &ast.Rule{
		Name:    "uses-missing-action",
		Enabled: true,
		Actions: []*ast.Action{{Name: "enrich_order"}},
	}

	err := eng.Register(def)
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Register() error = %v, want *ValidationError", err)
	}
	if valErr.ActionName != "enrich_order" {
		t.Errorf("ActionName = %q, want enrich_order", valErr.ActionName)
	}

	// Registration succeeds once the action exists.
	err = eng.Executor().Register(&ActionSpec{
		Name: "enrich_order",
		Handler: func(context.Context, *ast.Action, *ExecutionContext) (map[string]interface{}, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Register(enrich_order) error: %v", err)
	}
	mustRegister(t, eng, def)
}

func TestReloadRejectsUnknownAction(t *testing.T) {
	eng := newTestEngine(t, nil)

	err := eng.Reload([]*ast.Rule{{
		Name:    "uses-missing-action",
		Enabled: true,
		Actions: []*ast.Action{{Name: "no_such_action"}},
	}})
	var valErr *ValidationError
	if !errors.As(err, &valErr) {
		t.Fatalf("Reload() error = %v, want *ValidationError", err)
	}
	if got := len(eng.Rules()); got != 0 {
		t.Errorf("rule count = %d after failed reload, want 0", got)
	}
}
