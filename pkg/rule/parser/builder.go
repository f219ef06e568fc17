package parser

import (
	"fmt"
	"time"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// builder constructs rule definitions from intermediate YAML structures.
// It handles type conversion and preserves source locations.
type builder struct {
	sourcePath string
}

// newBuilder creates a new definition builder for the given source file.
func newBuilder(sourcePath string) *builder {
	return &builder{sourcePath: sourcePath}
}

// buildRules transforms a parsed rule file into rule definitions.
func (b *builder) buildRules(yf *yamlFile) ([]*ast.Rule, error) {
	rules := make([]*ast.Rule, 0, len(yf.Rules))

	for i, node := range yf.Rules {
		var yr yamlRule
		if err := node.Decode(&yr); err != nil {
			return nil, &ParseError{
				Path:    b.sourcePath,
				Line:    node.Line,
				Message: fmt.Sprintf("invalid rule at index %d: %v", i, err),
			}
		}

		rule, err := b.buildRule(&yr, node.Line)
		if err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// buildRule transforms a yamlRule into an ast.Rule.
func (b *builder) buildRule(yr *yamlRule, line int) (*ast.Rule, error) {
	rule := &ast.Rule{
		Name:            yr.Name,
		Description:     yr.Description,
		Enabled:         true,
		Priority:        yr.Priority,
		ContextTypes:    yr.ContextTypes,
		Tags:            yr.Tags,
		Version:         yr.Version,
		WriteSet:        yr.Writes,
		ContinueOnError: yr.ContinueOnError,
		Location: ast.Location{
			File:   b.sourcePath,
			Line:   line,
			Column: 1,
		},
	}

	// Enabled defaults to true when the key is absent
	if yr.Enabled != nil {
		rule.Enabled = *yr.Enabled
	}

	for i, yc := range yr.Conditions {
		cond, err := b.buildCondition(&yc, rule.Name, i, line)
		if err != nil {
			return nil, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}

	for i, ya := range yr.Actions {
		action, err := b.buildAction(&ya, rule.Name, i, line)
		if err != nil {
			return nil, err
		}
		rule.Actions = append(rule.Actions, action)
	}

	return rule, nil
}

// buildCondition transforms a yamlCondition into an ast.Condition.
func (b *builder) buildCondition(yc *yamlCondition, ruleName string, index, line int) (*ast.Condition, error) {
	loc := ast.Location{File: b.sourcePath, Line: line, Column: 1}

	switch {
	case yc.Expr != "" && yc.Evaluator != "":
		return nil, &ParseError{
			Path:    b.sourcePath,
			Line:    line,
			Message: fmt.Sprintf("rule %q condition %d: expr and evaluator are mutually exclusive", ruleName, index),
		}

	case yc.Expr != "":
		return &ast.Condition{
			Kind:     ast.ConditionKindExpr,
			Expr:     yc.Expr,
			Location: loc,
		}, nil

	case yc.Evaluator != "":
		return &ast.Condition{
			Kind:      ast.ConditionKindEvaluator,
			Evaluator: yc.Evaluator,
			Params:    yc.Params,
			Location:  loc,
		}, nil

	default:
		return nil, &ParseError{
			Path:    b.sourcePath,
			Line:    line,
			Message: fmt.Sprintf("rule %q condition %d: requires expr or evaluator", ruleName, index),
		}
	}
}

// buildAction transforms a yamlAction into an ast.Action.
func (b *builder) buildAction(ya *yamlAction, ruleName string, index, line int) (*ast.Action, error) {
	if ya.Name == "" {
		return nil, &ParseError{
			Path:    b.sourcePath,
			Line:    line,
			Message: fmt.Sprintf("rule %q action %d: name is required", ruleName, index),
		}
	}

	action := &ast.Action{
		Name:        ya.Name,
		Params:      ya.Params,
		MaxAttempts: ya.MaxAttempts,
		Location:    ast.Location{File: b.sourcePath, Line: line, Column: 1},
	}

	var err error
	if action.Timeout, err = b.parseDuration(ya.Timeout, ruleName, index, "timeout", line); err != nil {
		return nil, err
	}
	if action.Backoff.InitialInterval, err = b.parseDuration(ya.Backoff.InitialInterval, ruleName, index, "backoff.initial_interval", line); err != nil {
		return nil, err
	}
	if action.Backoff.MaxInterval, err = b.parseDuration(ya.Backoff.MaxInterval, ruleName, index, "backoff.max_interval", line); err != nil {
		return nil, err
	}
	action.Backoff.Multiplier = ya.Backoff.Multiplier

	for _, kind := range ya.RetryOn {
		switch ast.RetryKind(kind) {
		case ast.RetryKindTransient, ast.RetryKindTimeout:
			action.RetryOn = append(action.RetryOn, ast.RetryKind(kind))
		default:
			return nil, &ParseError{
				Path:    b.sourcePath,
				Line:    line,
				Message: fmt.Sprintf("rule %q action %d: unknown retry_on kind %q", ruleName, index, kind),
			}
		}
	}

	return action, nil
}

// parseDuration parses an optional duration string from a rule file.
func (b *builder) parseDuration(s, ruleName string, index int, field string, line int) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, &ParseError{
			Path:    b.sourcePath,
			Line:    line,
			Message: fmt.Sprintf("rule %q action %d: invalid %s %q: %v", ruleName, index, field, s, err),
		}
	}
	return d, nil
}
