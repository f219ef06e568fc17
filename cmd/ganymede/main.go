// Ganymede is a priority-based rule engine for evaluating business
// rules against structured execution contexts.
//
// Rules pair a set of sandboxed conditions with a sequence of actions.
// The engine evaluates registered rules in priority order, executes the
// actions of matching rules with retry and timeout handling, and
// produces a detailed result for every run.
//
// Usage:
//
//	# Evaluate a context against a rule set
//	ganymede run --rules rules/ --context order.json
//
//	# Keep evaluating as contexts arrive on stdin, reloading rules on change
//	ganymede run --rules rules/ --watch
//
//	# Validate rule files
//	ganymede lint --file rules.yaml
//
//	# List rules in priority order
//	ganymede rules --rules rules/
//
//	# Show version information
//	ganymede version
package main

func main() {
	Execute()
}
