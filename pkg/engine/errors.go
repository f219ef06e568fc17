package engine

import (
	"errors"
	"fmt"
	"time"
)

// Common sentinel errors
var (
	// ErrInvalidConfig indicates invalid engine configuration.
	ErrInvalidConfig = errors.New("invalid engine configuration")

	// ErrNoRulesLoaded indicates no rules are registered in the engine.
	ErrNoRulesLoaded = errors.New("no rules registered")
)

// DuplicateRuleError indicates a rule name collision during registration.
type DuplicateRuleError struct {
	Name string
}

// Error returns the error message.
func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule %q is already registered", e.Name)
}

// NotFoundError indicates an operation on a rule name that is not registered.
type NotFoundError struct {
	Name string
}

// Error returns the error message.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("rule %q not found", e.Name)
}

// ValidationError indicates a malformed rule definition, missing required
// action input, or malformed execution context. Validation failures are never
// retried.
type ValidationError struct {
	RuleName   string
	ActionName string
	Message    string
}

// Error returns the error message.
func (e *ValidationError) Error() string {
	switch {
	case e.ActionName != "":
		return fmt.Sprintf("rule %s action %s: validation error: %s", e.RuleName, e.ActionName, e.Message)
	case e.RuleName != "":
		return fmt.Sprintf("rule %s: validation error: %s", e.RuleName, e.Message)
	default:
		return fmt.Sprintf("validation error: %s", e.Message)
	}
}

// EvaluationError indicates a condition evaluation failure: an unknown
// symbol, a type mismatch, or a disallowed construct. The owning rule is
// treated as not matched; the error is recorded on its rule result and the
// run continues.
type EvaluationError struct {
	RuleName  string
	Condition string // Offending expression source or evaluator name
	Cause     error
}

// Error returns the error message.
func (e *EvaluationError) Error() string {
	return fmt.Sprintf("rule %s: condition %q: %v", e.RuleName, e.Condition, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *EvaluationError) Unwrap() error {
	return e.Cause
}

// ActionExecutionError indicates an action implementation failure.
// Retryable failures are retried per the action's policy; fatal failures are
// recorded as the rule's failure.
type ActionExecutionError struct {
	RuleName   string
	ActionName string
	Retryable  bool
	Cause      error
}

// Error returns the error message.
func (e *ActionExecutionError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("rule %s action %s: %s failure: %v", e.RuleName, e.ActionName, kind, e.Cause)
}

// Unwrap returns the underlying cause.
func (e *ActionExecutionError) Unwrap() error {
	return e.Cause
}

// NewTransientError wraps a cause as a retryable action failure.
// Action implementations return this to request a retry per policy.
func NewTransientError(cause error) *ActionExecutionError {
	return &ActionExecutionError{Retryable: true, Cause: cause}
}

// TimeoutError indicates an action exceeded its allotted duration.
// The in-flight attempt is abandoned; timeouts are fatal unless the action
// lists the timeout kind as retryable.
type TimeoutError struct {
	RuleName   string
	ActionName string
	Timeout    time.Duration
}

// Error returns the error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("rule %s action %s: timeout after %v", e.RuleName, e.ActionName, e.Timeout)
}

// EngineFatalError indicates a malformed execution context or an internal
// invariant violation. The run is aborted with no partial run result.
type EngineFatalError struct {
	Message string
	Cause   error
}

// Error returns the error message.
func (e *EngineFatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("engine fatal: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("engine fatal: %s", e.Message)
}

// Unwrap returns the underlying cause.
func (e *EngineFatalError) Unwrap() error {
	return e.Cause
}
