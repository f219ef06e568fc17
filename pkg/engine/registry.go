package engine

import (
	"sort"
	"sync"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// storedRule is a registered rule together with its compiled conditions and
// registration sequence number (the stable tie-break for equal priorities).
type storedRule struct {
	def      *ast.Rule
	compiled []*CompiledCondition
	seq      uint64
	enabled  bool
}

// Registry is the engine's thread-safe rule store. It maintains an
// immutable, priority-sorted snapshot of the enabled rules that is rebuilt
// on every mutation: runs already in progress keep evaluating against the
// snapshot they started with, so adding, removing, or toggling a rule
// mid-run never affects them.
type Registry struct {
	mu       sync.RWMutex
	rules    map[string]*storedRule
	snapshot []*storedRule // Enabled rules, priority desc, seq asc
	nextSeq  uint64
	maxRules int
}

// NewRegistry creates an empty registry bounded at maxRules entries.
func NewRegistry(maxRules int) *Registry {
	return &Registry{
		rules:    make(map[string]*storedRule),
		maxRules: maxRules,
	}
}

// Add registers a rule with its compiled conditions.
// It fails with a *DuplicateRuleError on name collision.
func (r *Registry) Add(def *ast.Rule, compiled []*CompiledCondition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[def.Name]; ok {
		return &DuplicateRuleError{Name: def.Name}
	}
	if len(r.rules) >= r.maxRules {
		return &ValidationError{
			RuleName: def.Name,
			Message:  "registry is full",
		}
	}

	r.rules[def.Name] = &storedRule{
		def:      def,
		compiled: compiled,
		seq:      r.nextSeq,
		enabled:  def.Enabled,
	}
	r.nextSeq++
	r.rebuild()

	return nil
}

// Remove unregisters a rule by name.
// It fails with a *NotFoundError for unknown names.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.rules[name]; !ok {
		return &NotFoundError{Name: name}
	}
	delete(r.rules, name)
	r.rebuild()

	return nil
}

// SetEnabled toggles a rule without removing it from the registry.
// A disabled rule is never selected for evaluation; re-enabling restores its
// prior behavior, including its original registration order.
func (r *Registry) SetEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored, ok := r.rules[name]
	if !ok {
		return &NotFoundError{Name: name}
	}
	if stored.enabled == enabled {
		return nil
	}

	// Replace rather than mutate: snapshots in use by in-flight runs hold
	// the old entry.
	r.rules[name] = &storedRule{
		def:      stored.def,
		compiled: stored.compiled,
		seq:      stored.seq,
		enabled:  enabled,
	}
	r.rebuild()

	return nil
}

// Replace atomically swaps the entire rule set (used for hot reload).
// Registration order follows the slice order.
func (r *Registry) Replace(defs []*ast.Rule, compiled [][]*CompiledCondition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(defs) > r.maxRules {
		return &ValidationError{
			Message: "rule set exceeds registry capacity",
		}
	}

	rules := make(map[string]*storedRule, len(defs))
	var seq uint64
	for i, def := range defs {
		if _, ok := rules[def.Name]; ok {
			return &DuplicateRuleError{Name: def.Name}
		}
		rules[def.Name] = &storedRule{
			def:      def,
			compiled: compiled[i],
			seq:      seq,
			enabled:  def.Enabled,
		}
		seq++
	}

	r.rules = rules
	r.nextSeq = seq
	r.rebuild()

	return nil
}

// Snapshot returns the current immutable slice of enabled rules, sorted by
// priority descending with registration order as the stable tie-break.
// Callers must not mutate the returned slice.
func (r *Registry) Snapshot() []*storedRule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

// Get returns the definition registered under the given name.
func (r *Registry) Get(name string) (*ast.Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored, ok := r.rules[name]
	if !ok {
		return nil, false
	}
	return stored.def, true
}

// Definitions returns a copy of all registered definitions, including
// disabled ones, in registration order.
func (r *Registry) Definitions() []*ast.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stored := make([]*storedRule, 0, len(r.rules))
	for _, s := range r.rules {
		stored = append(stored, s)
	}
	sort.Slice(stored, func(i, j int) bool {
		return stored[i].seq < stored[j].seq
	})

	defs := make([]*ast.Rule, len(stored))
	for i, s := range stored {
		defs[i] = s.def
	}
	return defs
}

// Len returns the number of registered rules, including disabled ones.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// rebuild recomputes the enabled snapshot. Callers must hold the write lock.
func (r *Registry) rebuild() {
	snapshot := make([]*storedRule, 0, len(r.rules))
	for _, stored := range r.rules {
		if stored.enabled {
			snapshot = append(snapshot, stored)
		}
	}
	sort.Slice(snapshot, func(i, j int) bool {
		if snapshot[i].def.Priority != snapshot[j].def.Priority {
			return snapshot[i].def.Priority > snapshot[j].def.Priority
		}
		return snapshot[i].seq < snapshot[j].seq
	})
	r.snapshot = snapshot
}
