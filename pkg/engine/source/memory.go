package source

import (
	"context"
	"sync"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// MemorySource is an in-memory rule source for tests and programmatic use.
type MemorySource struct {
	mu    sync.RWMutex
	rules []*ast.Rule
}

// NewMemorySource creates a new in-memory rule source.
func NewMemorySource(rules ...*ast.Rule) *MemorySource {
	return &MemorySource{rules: rules}
}

// Load returns a copy of the rules stored in memory.
func (s *MemorySource) Load(ctx context.Context) ([]*ast.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rules := make([]*ast.Rule, len(s.rules))
	copy(rules, s.rules)
	return rules, nil
}

// Watch returns a channel that never sends events.
func (s *MemorySource) Watch(ctx context.Context) (<-chan Event, error) {
	eventCh := make(chan Event)

	go func() {
		<-ctx.Done()
		close(eventCh)
	}()

	return eventCh, nil
}

// SetRules replaces the rules in memory.
func (s *MemorySource) SetRules(rules []*ast.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}
