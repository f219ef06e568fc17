package audit

import (
	"context"
	"fmt"
	"time"
)

// EventType classifies audit records.
type EventType string

const (
	// EventAction records a single action execution.
	EventAction EventType = "action"
	// EventRun records a completed engine run.
	EventRun EventType = "run"
)

// Record is a single audit trail entry.
type Record struct {
	// ID uniquely identifies the record.
	ID string `json:"id"`

	// EventType classifies the record as an action or run event.
	EventType EventType `json:"event_type"`

	// RunID identifies the engine run the event belongs to.
	RunID string `json:"run_id,omitempty"`

	// ContextID identifies the execution context that was evaluated.
	ContextID string `json:"context_id,omitempty"`

	// ContextType is the declared type of the execution context.
	ContextType string `json:"context_type,omitempty"`

	// RuleName is the rule the event relates to, if any.
	RuleName string `json:"rule_name,omitempty"`

	// ActionName is the action executed, for action events.
	ActionName string `json:"action_name,omitempty"`

	// Success reports whether the action or run succeeded.
	Success bool `json:"success"`

	// Detail carries event-specific fields.
	Detail map[string]interface{} `json:"detail,omitempty"`

	// RecordedAt is the time the record was created.
	RecordedAt time.Time `json:"recorded_at"`
}

// Query filters audit records. Zero-valued fields match everything.
type Query struct {
	// RunID filters by engine run.
	RunID string

	// RuleName filters by rule.
	RuleName string

	// EventType filters by event type.
	EventType EventType

	// StartTime includes only records at or after this time.
	StartTime *time.Time

	// EndTime includes only records at or before this time.
	EndTime *time.Time

	// Limit caps the number of returned records. Zero means no limit.
	Limit int
}

// Matches reports whether a record satisfies the query filters.
// Limit is not applied here.
func (q *Query) Matches(r *Record) bool {
	if q.RunID != "" && q.RunID != r.RunID {
		return false
	}
	if q.RuleName != "" && q.RuleName != r.RuleName {
		return false
	}
	if q.EventType != "" && q.EventType != r.EventType {
		return false
	}
	if q.StartTime != nil && r.RecordedAt.Before(*q.StartTime) {
		return false
	}
	if q.EndTime != nil && r.RecordedAt.After(*q.EndTime) {
		return false
	}
	return true
}

// Storage persists and retrieves audit records.
type Storage interface {
	// Store persists a record.
	Store(ctx context.Context, record *Record) error

	// Query returns records matching the query, newest first.
	Query(ctx context.Context, query *Query) ([]*Record, error)

	// Count returns the number of records matching the query.
	Count(ctx context.Context, query *Query) (int64, error)

	// Delete removes records matching the query and returns the number
	// of records removed.
	Delete(ctx context.Context, query *Query) (int64, error)

	// Close releases storage resources.
	Close() error
}

// StorageError wraps a failure in a storage backend.
type StorageError struct {
	Backend   string
	Operation string
	Cause     error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("audit storage %s: %s failed: %v", e.Backend, e.Operation, e.Cause)
}

func (e *StorageError) Unwrap() error {
	return e.Cause
}

// NewStorageError creates a storage error for the given backend and operation.
func NewStorageError(backend, operation string, cause error) *StorageError {
	return &StorageError{Backend: backend, Operation: operation, Cause: cause}
}
