// Package parser parses YAML rule files into rule definitions.
//
// A rule file contains a top-level "rules" list. Each entry declares the
// rule's name, priority, applicability (context_types, tags), conditions
// (CEL expressions or named evaluators), actions with retry/timeout policy,
// and an optional declared write set.
//
// The parser preserves YAML line numbers so validation errors can point at
// the offending definition. Structural and semantic validation beyond basic
// shape checks lives in the validator package.
//
// Example rule file:
//
//	rules:
//	  - name: high-budget-flag
//	    priority: 100
//	    context_types: [expense]
//	    writes: [flag]
//	    conditions:
//	      - expr: 'data.budget > 500000.0'
//	    actions:
//	      - name: set_field
//	        params: {field: flag, value: review_required}
package parser
