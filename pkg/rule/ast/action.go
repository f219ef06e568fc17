package ast

import "time"

// RetryKind classifies an action failure for retry purposes.
type RetryKind string

const (
	// RetryKindTransient marks failures worth retrying (e.g. webhook I/O).
	RetryKindTransient RetryKind = "transient"

	// RetryKindTimeout marks timeout failures. Timeouts are fatal unless
	// explicitly listed as retryable on the action.
	RetryKindTimeout RetryKind = "timeout"
)

// BackoffPolicy configures the wait strategy between retry attempts.
// Zero values fall back to the executor defaults (exponential with jitter).
type BackoffPolicy struct {
	InitialInterval time.Duration // First wait (default: 100ms)
	MaxInterval     time.Duration // Upper bound on waits (default: 5s)
	Multiplier      float64       // Growth factor per attempt (default: 2.0)
}

// Action represents a single action invocation within a rule.
// Actions execute in declared order when the rule's conditions hold, and are
// the only sanctioned way to mutate the execution context's data mapping.
type Action struct {
	Name        string                 // Built-in or registered action name
	Params      map[string]interface{} // Action parameters (schema-validated before dispatch)
	MaxAttempts int                    // Total attempts including the first (default: 1, no retry)
	Backoff     BackoffPolicy          // Wait strategy between attempts
	RetryOn     []RetryKind            // Failure kinds considered retryable
	Timeout     time.Duration          // Per-attempt deadline (0 = executor default)
	Location    Location               // Source location
}

// GetParam returns the parameter value for the given key, or nil.
func (a *Action) GetParam(key string) interface{} {
	return a.Params[key]
}

// HasParam returns true if the action declares a parameter with the given key.
func (a *Action) HasParam(key string) bool {
	_, ok := a.Params[key]
	return ok
}

// GetStringParam returns the string value of a parameter.
// Returns empty string if the parameter is missing or not a string.
func (a *Action) GetStringParam(key string) string {
	if s, ok := a.Params[key].(string); ok {
		return s
	}
	return ""
}

// GetNumberParam returns the numeric value of a parameter.
// Returns 0 if the parameter is missing or not a number.
func (a *Action) GetNumberParam(key string) float64 {
	switch v := a.Params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return 0
}

// GetBoolParam returns the boolean value of a parameter.
// Returns false if the parameter is missing or not a boolean.
func (a *Action) GetBoolParam(key string) bool {
	if b, ok := a.Params[key].(bool); ok {
		return b
	}
	return false
}

// RetriesOn returns true if the given failure kind is retryable for this
// action.
func (a *Action) RetriesOn(kind RetryKind) bool {
	for _, k := range a.RetryOn {
		if k == kind {
			return true
		}
	}
	return false
}

// Attempts returns the effective attempt budget (at least 1).
func (a *Action) Attempts() int {
	if a.MaxAttempts < 1 {
		return 1
	}
	return a.MaxAttempts
}
