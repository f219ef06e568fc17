package engine

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// ExecutionContext is the fact base and correlation metadata for one
// evaluation run. It is created once per run, mutated in place by action side
// effects within that run, and discarded afterwards. The engine never shares
// an execution context across concurrent runs.
//
// Data access goes through SetData/GetData/DataSnapshot so that rules
// executing in a parallel stage can mutate disjoint keys safely.
type ExecutionContext struct {
	// ContextType is the discriminator used for rule filtering.
	ContextType string

	// ContextID is an opaque correlation id. NewExecutionContext assigns a
	// UUID when none is supplied.
	ContextID string

	// UserID and SessionID are optional correlation identifiers.
	UserID    string
	SessionID string

	// Timestamp is the context creation time.
	Timestamp time.Time

	data     map[string]interface{}
	metadata map[string]interface{}
	mu       sync.RWMutex
}

// NewExecutionContext creates an execution context for the given context
// type and initial data. The data map is owned by the context afterwards.
func NewExecutionContext(contextType string, data map[string]interface{}) *ExecutionContext {
	if data == nil {
		data = make(map[string]interface{})
	}
	return &ExecutionContext{
		ContextType: contextType,
		ContextID:   uuid.NewString(),
		Timestamp:   time.Now(),
		data:        data,
		metadata:    make(map[string]interface{}),
	}
}

// SetData sets a context-data key. This is the sanctioned cross-rule
// communication channel: a later rule in the same run observes the value.
func (c *ExecutionContext) SetData(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
}

// GetData returns a context-data value and whether the key is present.
func (c *ExecutionContext) GetData(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

// DataSnapshot returns a shallow copy of the context data, safe for
// side-effect-free condition evaluation while actions mutate the original.
func (c *ExecutionContext) DataSnapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]interface{}, len(c.data))
	for k, v := range c.data {
		snapshot[k] = v
	}
	return snapshot
}

// SetMetadata sets an engine-internal annotation on the context.
func (c *ExecutionContext) SetMetadata(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// GetMetadata returns an engine-internal annotation and whether it is set.
func (c *ExecutionContext) GetMetadata(key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// AppendMetadataList appends a value to a list-valued metadata key as a
// single atomic operation, so parallel rules can accumulate entries safely.
func (c *ExecutionContext) AppendMetadataList(key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list, _ := c.metadata[key].([]interface{})
	c.metadata[key] = append(list, value)
}

// MetadataSnapshot returns a shallow copy of the context metadata.
func (c *ExecutionContext) MetadataSnapshot() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshot := make(map[string]interface{}, len(c.metadata))
	for k, v := range c.metadata {
		snapshot[k] = v
	}
	return snapshot
}

// ActionResult represents the outcome of executing a single action.
type ActionResult struct {
	// ActionName is the name of the executed action.
	ActionName string

	// Success indicates whether the action executed successfully.
	Success bool

	// Output contains action-specific output values.
	Output map[string]interface{}

	// Error contains the terminal error for failed actions.
	Error error

	// Attempts is the number of attempts made, including the first.
	Attempts int

	// Duration is the total time spent on the action across attempts.
	Duration time.Duration

	// Metadata contains executor annotations (e.g. "attempt_count").
	Metadata map[string]interface{}
}

// RuleResult represents the per-rule outcome of one run.
// ConditionsMet distinguishes "rule matched but an action failed" from
// "rule did not match".
type RuleResult struct {
	// RuleName is the name of the evaluated rule.
	RuleName string

	// Success is false only when the rule matched and an action failed.
	Success bool

	// ConditionsMet indicates whether all the rule's conditions held.
	ConditionsMet bool

	// ActionResults contains the ordered per-action outcomes.
	ActionResults []*ActionResult

	// Error contains a condition evaluation error, if one occurred.
	Error error

	// ExecutionTime is the time taken to evaluate and execute this rule.
	ExecutionTime time.Duration

	// Metadata contains engine annotations for this rule result.
	Metadata map[string]interface{}
}

// Fired returns true if the rule matched and executed at least one action.
func (r *RuleResult) Fired() bool {
	return r.ConditionsMet && len(r.ActionResults) > 0
}

// RunResult is the aggregate outcome of evaluating all applicable rules
// against one execution context. Rule results appear in execution priority
// order regardless of parallel scheduling.
type RunResult struct {
	// RunID uniquely identifies this run.
	RunID string

	// ContextID and ContextType identify the evaluated context.
	ContextID   string
	ContextType string

	// RuleResults contains one entry per evaluated rule, in priority order.
	// Rules that did not match contribute a lightweight entry with
	// ConditionsMet=false and no action results, for audit completeness.
	RuleResults []*RuleResult

	// Success is true iff no matched rule reports Success=false.
	Success bool

	// TotalDuration is the wall-clock duration of the run.
	TotalDuration time.Duration

	// Evaluated, Matched, Fired and Failed count the rules in each state.
	Evaluated int
	Matched   int
	Fired     int
	Failed    int

	// StartTime is when the run began.
	StartTime time.Time
}

// Result returns the rule result for the given rule name, or nil.
func (r *RunResult) Result(ruleName string) *RuleResult {
	for _, rr := range r.RuleResults {
		if rr.RuleName == ruleName {
			return rr
		}
	}
	return nil
}
