package engine

import (
	"fmt"
	"time"
)

// Config contains configuration for the rule engine.
type Config struct {
	// ParallelExecution enables stage-parallel rule execution for rules with
	// declared, pairwise-disjoint write sets. When disabled (the default)
	// rules execute sequentially in priority order. Parallel execution never
	// produces a result differing from strict sequential priority order.
	// Default: false.
	ParallelExecution bool

	// ContinueOnActionError keeps executing a matched rule's remaining
	// actions after one fails. Individual rules can override this with
	// their ContinueOnError flag.
	// Default: false (halt on error).
	ContinueOnActionError bool

	// DefaultActionTimeout is the per-attempt deadline for actions that do
	// not declare their own timeout.
	// Default: 5s.
	DefaultActionTimeout time.Duration

	// RunTimeout bounds a whole run. Zero means no engine-imposed bound;
	// callers can still cancel through the context.
	// Default: 0.
	RunTimeout time.Duration

	// MaxRules is the maximum number of registered rules.
	// This prevents unbounded registry growth from misbehaving callers.
	// Default: 1000.
	MaxRules int

	// ConditionCache memoizes identical condition evaluations within a
	// single run, keyed by expression source and a context-data
	// fingerprint. The cache is never shared across runs.
	// Default: true.
	ConditionCache bool
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		ParallelExecution:     false,
		ContinueOnActionError: false,
		DefaultActionTimeout:  5 * time.Second,
		RunTimeout:            0,
		MaxRules:              1000,
		ConditionCache:        true,
	}
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if c.DefaultActionTimeout <= 0 {
		return fmt.Errorf("%w: default action timeout must be positive", ErrInvalidConfig)
	}
	if c.RunTimeout < 0 {
		return fmt.Errorf("%w: run timeout cannot be negative", ErrInvalidConfig)
	}
	if c.MaxRules <= 0 {
		return fmt.Errorf("%w: max rules must be positive", ErrInvalidConfig)
	}
	return nil
}

// WithParallelExecution enables or disables stage-parallel execution.
func (c *Config) WithParallelExecution(enabled bool) *Config {
	c.ParallelExecution = enabled
	return c
}

// WithContinueOnActionError sets the default action failure behavior.
func (c *Config) WithContinueOnActionError(enabled bool) *Config {
	c.ContinueOnActionError = enabled
	return c
}

// WithDefaultActionTimeout sets the default per-attempt action deadline.
func (c *Config) WithDefaultActionTimeout(timeout time.Duration) *Config {
	c.DefaultActionTimeout = timeout
	return c
}

// WithRunTimeout sets the engine-imposed run deadline.
func (c *Config) WithRunTimeout(timeout time.Duration) *Config {
	c.RunTimeout = timeout
	return c
}

// WithMaxRules sets the registry capacity limit.
func (c *Config) WithMaxRules(max int) *Config {
	c.MaxRules = max
	return c
}

// WithConditionCache enables or disables per-run condition memoization.
func (c *Config) WithConditionCache(enabled bool) *Config {
	c.ConditionCache = enabled
	return c
}
