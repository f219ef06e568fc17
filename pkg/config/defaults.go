package config

import (
	"time"
)

// DefaultConfig returns a configuration populated with defaults.
// Loading a file overlays its values on top of these, so options absent
// from the file keep their default and explicit values always win.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Engine: EngineConfig{
			ParallelExecution:     false,
			ContinueOnActionError: false,
			DefaultActionTimeout:  5 * time.Second,
			RunTimeout:            0,
			MaxRules:              1000,
			ConditionCache:        true,
		},
		Rules: RulesConfig{
			Path:  "rules/",
			Watch: false,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "ganymede",
			Subsystem: "engine",
		},
		Audit: AuditConfig{
			Enabled: false,
			Backend: "memory",
			SQLite: SQLiteConfig{
				Path:        "data/audit.db",
				BusyTimeout: 5 * time.Second,
			},
			Retention: RetentionConfig{
				Days:     90,
				Schedule: "0 3 * * *",
			},
		},
	}
}

// ApplyDefaults fills zero-valued fields that must never stay empty.
// Booleans are handled by overlaying files on DefaultConfig, so only
// strings, durations, and counts are patched here.
func ApplyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Engine.DefaultActionTimeout == 0 {
		cfg.Engine.DefaultActionTimeout = 5 * time.Second
	}
	if cfg.Engine.MaxRules == 0 {
		cfg.Engine.MaxRules = 1000
	}
	if cfg.Metrics.Namespace == "" {
		cfg.Metrics.Namespace = "ganymede"
	}
	if cfg.Metrics.Subsystem == "" {
		cfg.Metrics.Subsystem = "engine"
	}
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = "memory"
	}
	if cfg.Audit.SQLite.Path == "" {
		cfg.Audit.SQLite.Path = "data/audit.db"
	}
	if cfg.Audit.SQLite.BusyTimeout == 0 {
		cfg.Audit.SQLite.BusyTimeout = 5 * time.Second
	}
}
