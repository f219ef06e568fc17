package config

import (
	"time"
)

// Config is the root configuration for Ganymede.
type Config struct {
	// Logging configures structured logging output.
	Logging LoggingConfig `yaml:"logging"`

	// Engine configures rule evaluation behavior.
	Engine EngineConfig `yaml:"engine"`

	// Rules configures where rule definitions are loaded from.
	Rules RulesConfig `yaml:"rules"`

	// Metrics configures metric collection and threshold alerting.
	Metrics MetricsConfig `yaml:"metrics"`

	// Audit configures the audit trail.
	Audit AuditConfig `yaml:"audit"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `yaml:"level"`

	// Format is the output format: "json" or "text".
	Format string `yaml:"format"`
}

// EngineConfig configures rule evaluation.
type EngineConfig struct {
	// ParallelExecution enables concurrent execution of rules with
	// disjoint declared write sets.
	ParallelExecution bool `yaml:"parallel_execution"`

	// ContinueOnActionError makes action failures non-fatal for the
	// remaining actions of a rule, engine-wide.
	ContinueOnActionError bool `yaml:"continue_on_action_error"`

	// DefaultActionTimeout bounds a single action attempt when the
	// action declares no timeout of its own.
	DefaultActionTimeout time.Duration `yaml:"default_action_timeout"`

	// RunTimeout bounds an entire evaluation run. Zero means no limit.
	RunTimeout time.Duration `yaml:"run_timeout"`

	// MaxRules caps the number of registered rules.
	MaxRules int `yaml:"max_rules"`

	// ConditionCache enables per-run memoization of condition results.
	ConditionCache bool `yaml:"condition_cache"`
}

// RulesConfig configures rule definition sources.
type RulesConfig struct {
	// Path is a rule file or a directory of rule files.
	Path string `yaml:"path"`

	// Watch reloads rules automatically when files change.
	Watch bool `yaml:"watch"`
}

// MetricsConfig configures metric collection.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool `yaml:"enabled"`

	// Namespace is the Prometheus metric namespace.
	Namespace string `yaml:"namespace"`

	// Subsystem is the Prometheus metric subsystem.
	Subsystem string `yaml:"subsystem"`

	// Listen is the address the /metrics endpoint binds to
	// (e.g. ":9090"). Empty disables the endpoint.
	Listen string `yaml:"listen"`

	// Thresholds configures alerting thresholds over rule metrics.
	Thresholds []ThresholdConfig `yaml:"thresholds"`
}

// ThresholdConfig configures a single alerting threshold.
type ThresholdConfig struct {
	// Name identifies the threshold in alerts.
	Name string `yaml:"name"`

	// Rule restricts the threshold to one rule. Empty applies it to
	// every rule independently.
	Rule string `yaml:"rule"`

	// MaxAverageTime breaches when average rule execution time exceeds
	// this duration.
	MaxAverageTime time.Duration `yaml:"max_average_time"`

	// MaxFailureRate breaches when the rule failure rate exceeds this
	// fraction in (0, 1].
	MaxFailureRate float64 `yaml:"max_failure_rate"`

	// MinInvocations suppresses the threshold until a rule has been
	// invoked this many times.
	MinInvocations uint64 `yaml:"min_invocations"`
}

// AuditConfig configures the audit trail.
type AuditConfig struct {
	// Enabled turns audit recording on.
	Enabled bool `yaml:"enabled"`

	// Backend selects the storage backend: "memory" or "sqlite".
	Backend string `yaml:"backend"`

	// SQLite configures the SQLite backend.
	SQLite SQLiteConfig `yaml:"sqlite"`

	// Retention configures record pruning.
	Retention RetentionConfig `yaml:"retention"`
}

// SQLiteConfig configures the SQLite audit backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string `yaml:"path"`

	// BusyTimeout is the duration to wait when the database is locked.
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// RetentionConfig configures audit record pruning.
type RetentionConfig struct {
	// Days is the number of days to keep records. 0 keeps forever.
	Days int `yaml:"days"`

	// Schedule is a cron expression for scheduled pruning.
	Schedule string `yaml:"schedule"`

	// MaxRecords caps the number of stored records. 0 is unlimited.
	MaxRecords int64 `yaml:"max_records"`
}
