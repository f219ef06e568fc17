package config

import (
	"fmt"
)

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"json": true,
	"text": true,
}

var validAuditBackends = map[string]bool{
	"memory": true,
	"sqlite": true,
}

// Validate checks the configuration for invalid values.
func Validate(cfg *Config) error {
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging.level %q: must be one of debug, info, warn, error", cfg.Logging.Level)
	}
	if !validLogFormats[cfg.Logging.Format] {
		return fmt.Errorf("invalid logging.format %q: must be json or text", cfg.Logging.Format)
	}

	if cfg.Engine.DefaultActionTimeout <= 0 {
		return fmt.Errorf("engine.default_action_timeout must be positive, got %v", cfg.Engine.DefaultActionTimeout)
	}
	if cfg.Engine.RunTimeout < 0 {
		return fmt.Errorf("engine.run_timeout cannot be negative, got %v", cfg.Engine.RunTimeout)
	}
	if cfg.Engine.MaxRules <= 0 {
		return fmt.Errorf("engine.max_rules must be positive, got %d", cfg.Engine.MaxRules)
	}

	for i, t := range cfg.Metrics.Thresholds {
		if t.Name == "" {
			return fmt.Errorf("metrics.thresholds[%d]: name is required", i)
		}
		if t.MaxAverageTime <= 0 && t.MaxFailureRate <= 0 {
			return fmt.Errorf("metrics.thresholds[%d] (%s): at least one of max_average_time or max_failure_rate must be set", i, t.Name)
		}
		if t.MaxFailureRate < 0 || t.MaxFailureRate > 1 {
			return fmt.Errorf("metrics.thresholds[%d] (%s): max_failure_rate must be in (0, 1], got %v", i, t.Name, t.MaxFailureRate)
		}
	}

	if cfg.Audit.Enabled {
		if !validAuditBackends[cfg.Audit.Backend] {
			return fmt.Errorf("invalid audit.backend %q: must be memory or sqlite", cfg.Audit.Backend)
		}
		if cfg.Audit.Backend == "sqlite" && cfg.Audit.SQLite.Path == "" {
			return fmt.Errorf("audit.sqlite.path is required for the sqlite backend")
		}
		if cfg.Audit.Retention.Days < 0 {
			return fmt.Errorf("audit.retention.days cannot be negative, got %d", cfg.Audit.Retention.Days)
		}
		if cfg.Audit.Retention.MaxRecords < 0 {
			return fmt.Errorf("audit.retention.max_records cannot be negative, got %d", cfg.Audit.Retention.MaxRecords)
		}
	}

	return nil
}
