package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/engine"
	"mercator-hq/ganymede/pkg/rule/parser"
	"mercator-hq/ganymede/pkg/rule/validator"
)

var lintFlags struct {
	file         string
	dir          string
	format       string
	allowActions []string
}

var lintCmd = &cobra.Command{
	Use:   "lint",
	Short: "Validate rule files",
	Long: `Validate rule files for syntax and semantic errors.

The lint command parses rule files and performs comprehensive validation:
  - YAML syntax validation
  - Rule structure validation (names, conditions, actions)
  - Action names resolved against the built-in action library
  - Retry and timeout policy sanity checks
  - Write set declarations

Examples:
  # Lint single file
  ganymede lint --file rules.yaml

  # Lint directory
  ganymede lint --dir rules/

  # JSON output for CI/CD
  ganymede lint --file rules.yaml --format json`,
	RunE: lintRules,
}

func init() {
	rootCmd.AddCommand(lintCmd)

	lintCmd.Flags().StringVarP(&lintFlags.file, "file", "f", "", "rule file to validate")
	lintCmd.Flags().StringVarP(&lintFlags.dir, "dir", "d", "", "directory of rule files")
	lintCmd.Flags().StringVar(&lintFlags.format, "format", "text", "output format: text, json")
	lintCmd.Flags().StringArrayVar(&lintFlags.allowActions, "allow-action", nil,
		"custom action name to accept in addition to the built-ins (repeatable)")
}

func lintRules(cmd *cobra.Command, args []string) error {
	if lintFlags.file == "" && lintFlags.dir == "" {
		return fmt.Errorf("either --file or --dir must be specified")
	}

	var files []string
	if lintFlags.file != "" {
		files = append(files, lintFlags.file)
	}
	if lintFlags.dir != "" {
		for _, pattern := range []string{"*.yaml", "*.yml"} {
			matches, err := filepath.Glob(filepath.Join(lintFlags.dir, pattern))
			if err != nil {
				return fmt.Errorf("failed to list rule files: %w", err)
			}
			files = append(files, matches...)
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no rule files found")
	}

	// Action names resolve against the built-in library; custom actions
	// registered programmatically are accepted via --allow-action.
	known := append(engine.NewExecutor(nil, 0).Names(), lintFlags.allowActions...)
	v := validator.NewValidator().WithKnownActions(known...)

	results := make([]LintResult, 0, len(files))
	for _, file := range files {
		results = append(results, lintRuleFile(v, file))
	}

	if lintFlags.format == "json" {
		return outputJSON(results)
	}
	return outputText(results)
}

// LintResult represents the validation result for a single rule file.
type LintResult struct {
	File   string      `json:"file"`
	Valid  bool        `json:"valid"`
	Errors []LintError `json:"errors,omitempty"`
}

// LintError represents a single validation error.
type LintError struct {
	Line    int    `json:"line,omitempty"`
	Column  int    `json:"column,omitempty"`
	Rule    string `json:"rule,omitempty"`
	Message string `json:"message"`
}

func lintRuleFile(v *validator.Validator, path string) LintResult {
	result := LintResult{File: path, Valid: true}

	rules, err := parser.NewParser().Parse(path)
	if err != nil {
		result.Valid = false

		var parseErr *parser.ParseError
		if errors.As(err, &parseErr) {
			result.Errors = append(result.Errors, LintError{
				Line:    parseErr.Line,
				Message: parseErr.Message,
			})
		} else {
			result.Errors = append(result.Errors, LintError{Message: err.Error()})
		}
		return result
	}

	if err := v.Validate(rules); err != nil {
		result.Valid = false

		var valErr *validator.Error
		if errors.As(err, &valErr) {
			for _, issue := range valErr.Issues {
				result.Errors = append(result.Errors, LintError{
					Line:    issue.Location.Line,
					Column:  issue.Location.Column,
					Rule:    issue.RuleName,
					Message: issue.Message,
				})
			}
		} else {
			result.Errors = append(result.Errors, LintError{Message: err.Error()})
		}
	}

	return result
}

func outputText(results []LintResult) error {
	totalErrors := 0

	for _, result := range results {
		fmt.Printf("Validating %s...\n", result.File)

		if len(result.Errors) == 0 {
			fmt.Println("✓ Syntax valid")
			fmt.Println("✓ All rules well-formed")
		}

		for _, lintErr := range result.Errors {
			fmt.Printf("✗ Error: %s", lintErr.Message)
			if lintErr.Rule != "" {
				fmt.Printf(" (rule %q)", lintErr.Rule)
			}
			if lintErr.Line > 0 {
				fmt.Printf(" (line %d", lintErr.Line)
				if lintErr.Column > 0 {
					fmt.Printf(", col %d", lintErr.Column)
				}
				fmt.Print(")")
			}
			fmt.Println()
			totalErrors++
		}

		fmt.Println()
	}

	fmt.Println("Summary:")
	fmt.Printf("  %d error(s)\n", totalErrors)

	if totalErrors > 0 {
		return fmt.Errorf("validation failed")
	}
	return nil
}

func outputJSON(results []LintResult) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(results)
}
