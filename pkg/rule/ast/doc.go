// Package ast defines the rule definition types used by the Ganymede rule
// engine: rules, conditions, actions, and their retry/timeout policies.
//
// A rule bundles an ordered list of conditions (all must hold, evaluated in
// order with short-circuit) with an ordered list of actions that execute when
// the conditions match. Rules carry a priority (higher runs first), the
// context types they apply to, free-form tags, and an optional declared
// write set used by the engine to schedule safe parallel execution.
//
// Definitions are immutable once registered with the engine. Replacing a rule
// means removing it and re-adding a new definition under the same name.
package ast
