package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// ParamKind declares the expected type of an action input parameter.
type ParamKind string

const (
	ParamString ParamKind = "string"
	ParamNumber ParamKind = "number"
	ParamBool   ParamKind = "bool"
	ParamAny    ParamKind = "any"
)

// ParamSpec declares one input parameter of an action schema.
type ParamSpec struct {
	Name     string
	Kind     ParamKind
	Required bool
}

// ActionFunc is an action implementation. It may mutate the execution
// context's data mapping through SetData; that is the only sanctioned side
// effect channel. Implementations performing I/O must honor ctx.
type ActionFunc func(ctx context.Context, action *ast.Action, ectx *ExecutionContext) (map[string]interface{}, error)

// ActionSpec describes a named action: its input schema and implementation.
// Inputs are validated against the schema before dispatch; a missing or
// mistyped required parameter yields a *ValidationError without any attempt.
type ActionSpec struct {
	Name        string
	Description string
	Params      []ParamSpec
	Handler     ActionFunc
}

// AuditSink receives audit entries emitted by the built-in audit action.
type AuditSink interface {
	Record(ctx context.Context, entry map[string]interface{}) error
}

// Executor executes named actions against execution contexts, honoring each
// action's retry policy and per-attempt timeout. It holds the table of
// built-in actions plus any registered custom actions.
type Executor struct {
	logger         *slog.Logger
	defaultTimeout time.Duration
	httpClient     *http.Client
	audit          AuditSink

	mu      sync.RWMutex
	actions map[string]*ActionSpec
}

// NewExecutor creates an executor with the built-in action library
// registered.
func NewExecutor(logger *slog.Logger, defaultTimeout time.Duration) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 5 * time.Second
	}

	e := &Executor{
		logger:         logger,
		defaultTimeout: defaultTimeout,
		httpClient:     &http.Client{},
		actions:        make(map[string]*ActionSpec),
	}
	e.registerBuiltins()
	return e
}

// Register adds a custom action under a unique name.
func (e *Executor) Register(spec *ActionSpec) error {
	if spec == nil || spec.Name == "" {
		return &ValidationError{Message: "action spec requires a name"}
	}
	if spec.Handler == nil {
		return &ValidationError{ActionName: spec.Name, Message: "action handler cannot be nil"}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.actions[spec.Name]; ok {
		return &ValidationError{ActionName: spec.Name, Message: "action is already registered"}
	}
	e.actions[spec.Name] = spec
	return nil
}

// Known reports whether an action name resolves to a built-in or
// registered action.
func (e *Executor) Known(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.actions[name]
	return ok
}

// Names returns all registered action names in sorted order.
func (e *Executor) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.actions))
	for name := range e.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetAuditSink wires the sink used by the built-in audit action.
func (e *Executor) SetAuditSink(sink AuditSink) {
	e.audit = sink
}

// Execute runs a single action invocation for a rule, applying schema
// validation, the per-attempt timeout, and the action's retry policy.
// Failures never propagate as errors; they are captured on the returned
// ActionResult.
func (e *Executor) Execute(ctx context.Context, rule *ast.Rule, action *ast.Action, ectx *ExecutionContext) *ActionResult {
	start := time.Now()
	result := &ActionResult{
		ActionName: action.Name,
		Metadata:   make(map[string]interface{}),
	}

	e.mu.RLock()
	spec, ok := e.actions[action.Name]
	e.mu.RUnlock()

	if !ok {
		result.Error = &ActionExecutionError{
			RuleName:   rule.Name,
			ActionName: action.Name,
			Cause:      fmt.Errorf("unknown action"),
		}
		result.Duration = time.Since(start)
		return result
	}

	// Schema validation happens before any attempt; validation failures
	// are never retried.
	if err := e.validateInputs(rule, spec, action); err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		return result
	}

	output, attempts, err := e.runWithRetry(ctx, rule, spec, action, ectx)
	result.Attempts = attempts
	result.Metadata["attempt_count"] = attempts
	result.Duration = time.Since(start)

	if err != nil {
		result.Error = err
		e.logger.Warn("action failed",
			"rule", rule.Name,
			"action", action.Name,
			"attempts", attempts,
			"error", err,
		)
		return result
	}

	result.Success = true
	result.Output = output
	e.logger.Debug("action executed",
		"rule", rule.Name,
		"action", action.Name,
		"attempts", attempts,
	)
	return result
}

// runWithRetry drives the attempt loop per the action's retry policy.
func (e *Executor) runWithRetry(ctx context.Context, rule *ast.Rule, spec *ActionSpec, action *ast.Action, ectx *ExecutionContext) (map[string]interface{}, int, error) {
	attempts := 0
	var output map[string]interface{}

	operation := func() error {
		attempts++
		out, err := e.runAttempt(ctx, rule, spec, action, ectx)
		if err != nil {
			kind := failureKind(err)
			if kind == "" || !action.RetriesOn(kind) {
				return backoff.Permanent(err)
			}
			return err
		}
		output = out
		return nil
	}

	maxAttempts := action.Attempts()
	if maxAttempts == 1 {
		err := e.runSingle(operation)
		return output, attempts, err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newBackOff(action.Backoff), uint64(maxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, attempts, unwrapPermanent(err)
	}
	return output, attempts, nil
}

// runSingle executes a no-retry operation, stripping the permanent marker.
func (e *Executor) runSingle(operation func() error) error {
	if err := operation(); err != nil {
		return unwrapPermanent(err)
	}
	return nil
}

// runAttempt executes one attempt under the per-attempt deadline. A handler
// that overruns the deadline is abandoned: the attempt returns a
// *TimeoutError at the deadline rather than waiting for the handler.
func (e *Executor) runAttempt(ctx context.Context, rule *ast.Rule, spec *ActionSpec, action *ast.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	timeout := action.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		output map[string]interface{}
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		output, err := spec.Handler(attemptCtx, action, ectx)
		done <- outcome{output: output, err: err}
	}()

	select {
	case o := <-done:
		return o.output, o.err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, &TimeoutError{
				RuleName:   rule.Name,
				ActionName: action.Name,
				Timeout:    timeout,
			}
		}
		// Run-level cancellation propagates as-is.
		return nil, ctx.Err()
	}
}

// validateInputs checks the action's declared parameters against the
// ActionSpec's parameter schema.
func (e *Executor) validateInputs(rule *ast.Rule, spec *ActionSpec, action *ast.Action) error {
	for _, p := range spec.Params {
		value, present := action.Params[p.Name]
		if !present {
			if p.Required {
				return &ValidationError{
					RuleName:   rule.Name,
					ActionName: action.Name,
					Message:    fmt.Sprintf("missing required parameter %q", p.Name),
				}
			}
			continue
		}
		if !kindMatches(p.Kind, value) {
			return &ValidationError{
				RuleName:   rule.Name,
				ActionName: action.Name,
				Message:    fmt.Sprintf("parameter %q: expected %s, got %T", p.Name, p.Kind, value),
			}
		}
	}
	return nil
}

// kindMatches reports whether a parameter value satisfies the declared kind.
func kindMatches(kind ParamKind, value interface{}) bool {
	switch kind {
	case ParamString:
		_, ok := value.(string)
		return ok
	case ParamNumber:
		switch value.(type) {
		case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		}
		return false
	case ParamBool:
		_, ok := value.(bool)
		return ok
	default:
		return true
	}
}

// failureKind classifies an attempt failure for retry purposes.
// Unclassified errors (e.g. raw I/O errors from a webhook call) count as
// transient; validation failures are always fatal.
func failureKind(err error) ast.RetryKind {
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return ast.RetryKindTimeout
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return ""
	}

	var actionErr *ActionExecutionError
	if errors.As(err, &actionErr) {
		if actionErr.Retryable {
			return ast.RetryKindTransient
		}
		return ""
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ""
	}

	return ast.RetryKindTransient
}

// newBackOff builds the wait strategy for an action's retry policy.
// Unset fields fall back to exponential backoff with jitter: 100ms initial,
// 5s cap, doubling per attempt.
func newBackOff(policy ast.BackoffPolicy) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 5 * time.Second
	bo.Multiplier = 2.0
	bo.MaxElapsedTime = 0

	if policy.InitialInterval > 0 {
		bo.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		bo.MaxInterval = policy.MaxInterval
	}
	if policy.Multiplier >= 1 {
		bo.Multiplier = policy.Multiplier
	}

	bo.Reset()
	return bo
}

// unwrapPermanent strips the backoff permanent-error marker so callers see
// the original terminal error.
func unwrapPermanent(err error) error {
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		return permanent.Err
	}
	return err
}
