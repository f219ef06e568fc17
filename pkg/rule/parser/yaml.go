package parser

import (
	"os"

	"gopkg.in/yaml.v3"
)

// yamlFile represents the intermediate structure for parsing a rule file.
// It matches the YAML layout before transformation to definition types.
type yamlFile struct {
	Rules []yaml.Node `yaml:"rules"`
}

// yamlRule represents an intermediate rule structure.
type yamlRule struct {
	Name            string          `yaml:"name"`
	Description     string          `yaml:"description"`
	Enabled         *bool           `yaml:"enabled"` // Pointer to distinguish unset vs false
	Priority        int             `yaml:"priority"`
	ContextTypes    []string        `yaml:"context_types"`
	Tags            []string        `yaml:"tags"`
	Version         string          `yaml:"version"`
	Writes          []string        `yaml:"writes"`
	ContinueOnError bool            `yaml:"continue_on_error"`
	Conditions      []yamlCondition `yaml:"conditions"`
	Actions         []yamlAction    `yaml:"actions"`
}

// yamlCondition represents an intermediate condition structure.
// Exactly one of Expr or Evaluator must be set.
type yamlCondition struct {
	Expr      string                 `yaml:"expr"`
	Evaluator string                 `yaml:"evaluator"`
	Params    map[string]interface{} `yaml:"params"`
}

// yamlAction represents an intermediate action structure.
// Durations are YAML strings parsed with time.ParseDuration.
type yamlAction struct {
	Name        string                 `yaml:"name"`
	Params      map[string]interface{} `yaml:"params"`
	MaxAttempts int                    `yaml:"max_attempts"`
	Timeout     string                 `yaml:"timeout"`
	RetryOn     []string               `yaml:"retry_on"`
	Backoff     yamlBackoff            `yaml:"backoff"`
}

// yamlBackoff represents an intermediate backoff policy structure.
type yamlBackoff struct {
	InitialInterval string  `yaml:"initial_interval"`
	MaxInterval     string  `yaml:"max_interval"`
	Multiplier      float64 `yaml:"multiplier"`
}

// parseYAMLFile reads and parses a rule file into the intermediate structure.
// Rule entries stay as yaml.Node values so the builder can recover line
// numbers for error reporting.
func parseYAMLFile(path string) (*yamlFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parseYAMLBytes(data)
}

// parseYAMLBytes parses rule file bytes into the intermediate structure.
func parseYAMLBytes(data []byte) (*yamlFile, error) {
	var file yamlFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return &file, nil
}
