package source

import (
	"context"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// EventType represents the type of rule file change event.
type EventType string

const (
	EventCreated  EventType = "created"
	EventModified EventType = "modified"
	EventDeleted  EventType = "deleted"
)

// Event represents a rule file change event.
type Event struct {
	// Type is the event type.
	Type EventType

	// Path is the file path that changed.
	Path string

	// Err is any error that occurred while processing the event.
	Err error
}

// RuleSource provides rule definitions to the engine.
type RuleSource interface {
	// Load loads all rule definitions from the source.
	Load(ctx context.Context) ([]*ast.Rule, error)

	// Watch watches for rule changes and sends events on the returned
	// channel. The channel is closed when the context is cancelled.
	Watch(ctx context.Context) (<-chan Event, error)
}
