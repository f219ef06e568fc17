package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/rule/ast"
	"mercator-hq/ganymede/pkg/rule/validator"
)

// Observer is notified after each completed run. The metrics collector
// implements this to maintain rolling statistics.
type Observer interface {
	ObserveRun(result *RunResult)
}

// Engine owns the rule registry and orchestrates rule selection, condition
// evaluation, action execution, and result aggregation for execution
// contexts. It is safe for concurrent use: many runs may evaluate
// simultaneously against the shared registry.
type Engine struct {
	config    *Config
	registry  *Registry
	evaluator *ConditionEvaluator
	executor  *Executor
	validator *validator.Validator
	logger    *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer
}

// New creates a rule engine with the given configuration.
func New(config *Config, logger *slog.Logger) (*Engine, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	evaluator, err := NewConditionEvaluator(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create condition evaluator: %w", err)
	}

	return &Engine{
		config:    config,
		registry:  NewRegistry(config.MaxRules),
		evaluator: evaluator,
		executor:  NewExecutor(logger, config.DefaultActionTimeout),
		validator: validator.NewValidator(),
		logger:    logger,
	}, nil
}

// Evaluator exposes the condition evaluator for custom evaluator
// registration.
func (e *Engine) Evaluator() *ConditionEvaluator {
	return e.evaluator
}

// Executor exposes the action executor for custom action registration and
// audit sink wiring.
func (e *Engine) Executor() *Executor {
	return e.executor
}

// AddObserver registers a run observer.
func (e *Engine) AddObserver(o Observer) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.observers = append(e.observers, o)
}

// Register validates a rule definition, compiles its conditions, and adds
// it to the registry. It fails with a *DuplicateRuleError on name collision
// and a *ValidationError for malformed definitions. Every action the rule
// names must already be registered with the executor, so custom actions
// register before the rules that invoke them.
func (e *Engine) Register(def *ast.Rule) error {
	if err := e.validator.ValidateRule(def); err != nil {
		return &ValidationError{RuleName: def.Name, Message: err.Error()}
	}
	if err := e.checkActionNames(def); err != nil {
		return err
	}

	compiled, err := e.compileConditions(def)
	if err != nil {
		return err
	}

	if err := e.registry.Add(def, compiled); err != nil {
		return err
	}

	e.logger.Info("rule registered",
		"rule", def.Name,
		"priority", def.Priority,
		"enabled", def.Enabled,
	)
	return nil
}

// Remove unregisters a rule by name.
func (e *Engine) Remove(name string) error {
	if err := e.registry.Remove(name); err != nil {
		return err
	}
	e.logger.Info("rule removed", "rule", name)
	return nil
}

// Enable re-enables a disabled rule, restoring its prior behavior.
func (e *Engine) Enable(name string) error {
	return e.registry.SetEnabled(name, true)
}

// Disable excludes a rule from selection without removing it from the
// registry.
func (e *Engine) Disable(name string) error {
	return e.registry.SetEnabled(name, false)
}

// Rules returns all registered definitions, including disabled ones, in
// registration order.
func (e *Engine) Rules() []*ast.Rule {
	return e.registry.Definitions()
}

// Reload atomically replaces the whole rule set, e.g. after a rule file
// change. Runs already in progress keep their registry snapshot.
func (e *Engine) Reload(defs []*ast.Rule) error {
	if err := e.validator.Validate(defs); err != nil {
		return &ValidationError{Message: err.Error()}
	}

	compiled := make([][]*CompiledCondition, len(defs))
	for i, def := range defs {
		if err := e.checkActionNames(def); err != nil {
			return err
		}
		cc, err := e.compileConditions(def)
		if err != nil {
			return err
		}
		compiled[i] = cc
	}

	if err := e.registry.Replace(defs, compiled); err != nil {
		return err
	}

	e.logger.Info("rules reloaded", "rule_count", len(defs))
	return nil
}

// checkActionNames verifies every action the definition names against the
// executor's action table, so a dangling name fails at registration rather
// than at run time.
func (e *Engine) checkActionNames(def *ast.Rule) error {
	for _, action := range def.Actions {
		if !e.executor.Known(action.Name) {
			return &ValidationError{
				RuleName:   def.Name,
				ActionName: action.Name,
				Message:    "unknown action",
			}
		}
	}
	return nil
}

// compileConditions compiles every condition of a definition.
func (e *Engine) compileConditions(def *ast.Rule) ([]*CompiledCondition, error) {
	compiled := make([]*CompiledCondition, len(def.Conditions))
	for i, cond := range def.Conditions {
		cc, err := e.evaluator.Compile(def.Name, cond)
		if err != nil {
			return nil, err
		}
		compiled[i] = cc
	}
	return compiled, nil
}

// Evaluate runs all applicable rules against the execution context and
// returns the aggregated run result.
//
// Per-rule and per-action failures are captured on the run result and never
// surface as errors; only a malformed context, caller cancellation, or an
// internal invariant violation aborts the run, as an *EngineFatalError with
// no partial result. Context-data mutations made before a cancellation are
// accepted partial effects: the engine does not roll back the context.
func (e *Engine) Evaluate(ctx context.Context, ectx *ExecutionContext) (*RunResult, error) {
	if ectx == nil {
		return nil, &EngineFatalError{Message: "execution context cannot be nil"}
	}
	if ectx.ContextType == "" {
		return nil, &EngineFatalError{Message: "execution context requires a context type"}
	}
	if ectx.data == nil {
		return nil, &EngineFatalError{Message: "execution context requires a data mapping"}
	}

	if e.config.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RunTimeout)
		defer cancel()
	}

	start := time.Now()
	snapshot := e.registry.Snapshot()

	// Candidate selection: enabled rules applicable to this context type,
	// already in priority order with stable registration-order tie-break.
	candidates := make([]*candidate, 0, len(snapshot))
	for _, stored := range snapshot {
		if stored.def.AppliesTo(ectx.ContextType) {
			candidates = append(candidates, &candidate{
				stored: stored,
				slot:   len(candidates),
			})
		}
	}

	var cache *runCache
	if e.config.ConditionCache {
		cache = newRunCache()
	}

	results := make([]*RuleResult, len(candidates))
	var err error
	if e.config.ParallelExecution {
		err = e.runStaged(ctx, ectx, candidates, results, cache)
	} else {
		err = e.runSequential(ctx, ectx, candidates, results, cache)
	}
	if err != nil {
		return nil, err
	}

	result := e.buildRunResult(ectx, results, start)
	e.notifyObservers(result)

	e.logger.Debug("run completed",
		"run_id", result.RunID,
		"context_id", ectx.ContextID,
		"evaluated", result.Evaluated,
		"matched", result.Matched,
		"failed", result.Failed,
		"duration", result.TotalDuration,
	)
	if cache != nil {
		hits, misses := cache.stats()
		e.logger.Debug("condition cache",
			"run_id", result.RunID,
			"hits", hits,
			"misses", misses,
		)
	}

	return result, nil
}

// runSequential evaluates candidates one by one in priority order.
func (e *Engine) runSequential(ctx context.Context, ectx *ExecutionContext, candidates []*candidate, results []*RuleResult, cache *runCache) error {
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return &EngineFatalError{Message: "run cancelled", Cause: err}
		}
		results[c.slot] = e.evaluateRule(ctx, c.stored, ectx, cache)
	}
	return nil
}

// runStaged evaluates candidates stage by stage; rules within a stage have
// declared pairwise-disjoint write sets and run concurrently. Stage
// boundaries are barriers, so the observable outcome matches sequential
// priority-order execution.
func (e *Engine) runStaged(ctx context.Context, ectx *ExecutionContext, candidates []*candidate, results []*RuleResult, cache *runCache) error {
	for _, st := range planStages(candidates) {
		if err := ctx.Err(); err != nil {
			return &EngineFatalError{Message: "run cancelled", Cause: err}
		}

		if len(st.members) == 1 {
			c := st.members[0]
			results[c.slot] = e.evaluateRule(ctx, c.stored, ectx, cache)
			continue
		}

		var wg sync.WaitGroup
		for _, c := range st.members {
			wg.Add(1)
			go func(c *candidate) {
				defer wg.Done()
				results[c.slot] = e.evaluateRule(ctx, c.stored, ectx, cache)
			}(c)
		}
		wg.Wait()
	}
	return nil
}

// evaluateRule evaluates one rule's conditions and, on a match, executes
// its actions in declared order.
func (e *Engine) evaluateRule(ctx context.Context, stored *storedRule, ectx *ExecutionContext, cache *runCache) *RuleResult {
	def := stored.def
	start := time.Now()
	result := &RuleResult{
		RuleName: def.Name,
		Success:  true,
		Metadata: make(map[string]interface{}),
	}

	// Conditions evaluate in declared order with AND semantics,
	// short-circuiting on the first non-match.
	conditionsMet := true
	for _, cc := range stored.compiled {
		matched, err := e.evaluator.Evaluate(ctx, def.Name, cc, ectx, cache)
		if err != nil {
			// An evaluation error skips this rule but never aborts
			// the run.
			result.Error = err
			conditionsMet = false
			e.logger.Warn("condition evaluation failed",
				"rule", def.Name,
				"context_id", ectx.ContextID,
				"error", err,
			)
			break
		}
		if !matched {
			conditionsMet = false
			break
		}
	}

	result.ConditionsMet = conditionsMet
	if !conditionsMet {
		result.ExecutionTime = time.Since(start)
		return result
	}

	haltOnError := !(def.ContinueOnError || e.config.ContinueOnActionError)
	for _, action := range def.Actions {
		ar := e.executor.Execute(ctx, def, action, ectx)
		result.ActionResults = append(result.ActionResults, ar)

		if !ar.Success {
			result.Success = false
			if haltOnError {
				break
			}
		}
	}

	result.ExecutionTime = time.Since(start)
	return result
}

// buildRunResult aggregates per-rule results into the run result.
func (e *Engine) buildRunResult(ectx *ExecutionContext, results []*RuleResult, start time.Time) *RunResult {
	run := &RunResult{
		RunID:       uuid.NewString(),
		ContextID:   ectx.ContextID,
		ContextType: ectx.ContextType,
		RuleResults: results,
		Success:     true,
		StartTime:   start,
	}

	for _, rr := range results {
		run.Evaluated++
		if rr.ConditionsMet {
			run.Matched++
		}
		if rr.Fired() {
			run.Fired++
		}
		if !rr.Success {
			run.Failed++
			run.Success = false
		}
	}

	run.TotalDuration = time.Since(start)
	return run
}

// notifyObservers delivers the run result to all registered observers.
func (e *Engine) notifyObservers(result *RunResult) {
	e.obsMu.RLock()
	observers := e.observers
	e.obsMu.RUnlock()

	for _, o := range observers {
		o.ObserveRun(result)
	}
}
