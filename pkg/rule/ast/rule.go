package ast

// Rule represents a single rule definition.
// A rule consists of conditions (when to apply) and actions (what to do).
// Rules are selected per execution context, ordered by priority (higher
// first), and evaluated with AND semantics over their conditions.
type Rule struct {
	Name         string       // Unique rule name within the registry
	Description  string       // Human-readable description
	Enabled      bool         // Whether rule is active (default: true)
	Priority     int          // Explicit priority (higher = runs first)
	ContextTypes []string     // Context types this rule applies to (empty = all)
	Tags         []string     // Free-form labels for filtering and retirement
	Version      string       // Monotonic rule version
	Conditions   []*Condition // Ordered conditions, all must hold
	Actions      []*Action    // Actions to execute when conditions match
	WriteSet     []string     // Context-data keys the actions mutate (for parallel scheduling)

	// ContinueOnError overrides the engine default for action failures
	// within this rule: when true, a failing action does not halt the
	// remaining actions of the rule.
	ContinueOnError bool

	Location Location // Source location
}

// IsEnabled returns true if the rule is enabled.
func (r *Rule) IsEnabled() bool {
	return r.Enabled
}

// HasConditions returns true if the rule has conditions defined.
// A rule without conditions always matches.
func (r *Rule) HasConditions() bool {
	return len(r.Conditions) > 0
}

// HasActions returns true if the rule has actions defined.
func (r *Rule) HasActions() bool {
	return len(r.Actions) > 0
}

// AppliesTo returns true if the rule applies to the given context type.
// A rule with no declared context types applies to every context.
func (r *Rule) AppliesTo(contextType string) bool {
	if len(r.ContextTypes) == 0 {
		return true
	}
	for _, ct := range r.ContextTypes {
		if ct == contextType {
			return true
		}
	}
	return false
}

// HasTag returns true if the rule carries the given tag.
func (r *Rule) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// HasWriteSet returns true if the rule declares the context-data keys its
// actions mutate. Rules without a declared write set are scheduled
// conservatively (never in parallel with other rules).
func (r *Rule) HasWriteSet() bool {
	return len(r.WriteSet) > 0
}

// WritesDisjoint returns true if both rules declare write sets and the sets
// share no key.
func (r *Rule) WritesDisjoint(other *Rule) bool {
	if !r.HasWriteSet() || !other.HasWriteSet() {
		return false
	}
	for _, k := range r.WriteSet {
		for _, o := range other.WriteSet {
			if k == o {
				return false
			}
		}
	}
	return true
}
