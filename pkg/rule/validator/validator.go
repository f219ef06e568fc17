// Package validator validates rule definitions before registration.
//
// Validation is structural (required fields, naming, parameter shapes) and
// semantic (duplicate names across a set, retry policy sanity). Expression
// compilation is checked by the engine at registration time; the validator
// only verifies the definition shape.
package validator

import (
	"fmt"
	"regexp"
	"strings"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// namePattern validates rule names: lower-case kebab or snake case.
var namePattern = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// Issue describes a single validation problem in a rule definition.
type Issue struct {
	RuleName string
	Message  string
	Location ast.Location
}

// String returns a human-readable representation of the issue.
func (i Issue) String() string {
	if i.Location.IsValid() {
		return fmt.Sprintf("%s: rule %q: %s", i.Location, i.RuleName, i.Message)
	}
	return fmt.Sprintf("rule %q: %s", i.RuleName, i.Message)
}

// Error reports one or more invalid rule definitions.
type Error struct {
	Issues []Issue
}

// Error returns the error message.
func (e *Error) Error() string {
	if len(e.Issues) == 1 {
		return "invalid rule definition: " + e.Issues[0].String()
	}
	msgs := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		msgs[i] = issue.String()
	}
	return fmt.Sprintf("%d invalid rule definitions:\n%s", len(e.Issues), strings.Join(msgs, "\n"))
}

// Validator validates rule definitions.
type Validator struct {
	issues       []Issue
	knownActions map[string]bool
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{}
}

// WithKnownActions restricts action names to the given set. Without it the
// validator only checks that an action name is present, leaving name
// resolution to the engine at registration time.
func (v *Validator) WithKnownActions(names ...string) *Validator {
	v.knownActions = make(map[string]bool, len(names))
	for _, name := range names {
		v.knownActions[name] = true
	}
	return v
}

// Validate checks a set of rule definitions. It accumulates all problems and
// returns a *Error listing them, or nil when every definition is valid.
func (v *Validator) Validate(rules []*ast.Rule) error {
	v.issues = nil

	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		v.validateRule(rule)

		if rule.Name != "" {
			if seen[rule.Name] {
				v.addIssue(rule, "duplicate rule name")
			}
			seen[rule.Name] = true
		}
	}

	if len(v.issues) == 0 {
		return nil
	}
	return &Error{Issues: v.issues}
}

// ValidateRule checks a single rule definition.
func (v *Validator) ValidateRule(rule *ast.Rule) error {
	v.issues = nil
	v.validateRule(rule)
	if len(v.issues) == 0 {
		return nil
	}
	return &Error{Issues: v.issues}
}

func (v *Validator) validateRule(rule *ast.Rule) {
	if rule.Name == "" {
		v.addIssue(rule, "name is required")
	} else if !namePattern.MatchString(rule.Name) {
		v.addIssue(rule, fmt.Sprintf("name %q must be lower-case kebab or snake case", rule.Name))
	}

	for i, cond := range rule.Conditions {
		v.validateCondition(rule, cond, i)
	}

	for i, action := range rule.Actions {
		v.validateAction(rule, action, i)
	}

	// A declared write set must cover something the rule can write
	if rule.HasWriteSet() && !rule.HasActions() {
		v.addIssue(rule, "write set declared but rule has no actions")
	}
	for _, key := range rule.WriteSet {
		if key == "" {
			v.addIssue(rule, "write set contains an empty key")
		}
	}
}

func (v *Validator) validateCondition(rule *ast.Rule, cond *ast.Condition, index int) {
	switch cond.Kind {
	case ast.ConditionKindExpr:
		if strings.TrimSpace(cond.Expr) == "" {
			v.addIssue(rule, fmt.Sprintf("condition %d: expression is empty", index))
		}
	case ast.ConditionKindEvaluator:
		if cond.Evaluator == "" {
			v.addIssue(rule, fmt.Sprintf("condition %d: evaluator name is empty", index))
		}
	default:
		v.addIssue(rule, fmt.Sprintf("condition %d: unknown kind %q", index, cond.Kind))
	}
}

func (v *Validator) validateAction(rule *ast.Rule, action *ast.Action, index int) {
	if action.Name == "" {
		v.addIssue(rule, fmt.Sprintf("action %d: name is required", index))
	} else if v.knownActions != nil && !v.knownActions[action.Name] {
		v.addIssue(rule, fmt.Sprintf("action %d: unknown action %q", index, action.Name))
	}
	if action.MaxAttempts < 0 {
		v.addIssue(rule, fmt.Sprintf("action %d: max_attempts cannot be negative", index))
	}
	if action.Timeout < 0 {
		v.addIssue(rule, fmt.Sprintf("action %d: timeout cannot be negative", index))
	}
	if action.Backoff.Multiplier != 0 && action.Backoff.Multiplier < 1 {
		v.addIssue(rule, fmt.Sprintf("action %d: backoff multiplier must be >= 1", index))
	}
	if action.Backoff.MaxInterval != 0 && action.Backoff.MaxInterval < action.Backoff.InitialInterval {
		v.addIssue(rule, fmt.Sprintf("action %d: backoff max_interval is below initial_interval", index))
	}
	if len(action.RetryOn) > 0 && action.Attempts() == 1 {
		v.addIssue(rule, fmt.Sprintf("action %d: retry_on declared but max_attempts is 1", index))
	}
}

func (v *Validator) addIssue(rule *ast.Rule, message string) {
	v.issues = append(v.issues, Issue{
		RuleName: rule.Name,
		Message:  message,
		Location: rule.Location,
	})
}
