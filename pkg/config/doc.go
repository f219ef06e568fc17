// Package config defines Ganymede's YAML configuration model.
//
// Configuration is loaded in three layers: built-in defaults, the YAML
// file, and GANYMEDE_* environment variable overrides, with later
// layers taking precedence. The loaded configuration is validated
// before use.
//
// Example configuration file:
//
//	logging:
//	  level: info
//	  format: json
//
//	engine:
//	  parallel_execution: true
//	  default_action_timeout: 5s
//	  max_rules: 1000
//
//	rules:
//	  path: rules/
//	  watch: true
//
//	metrics:
//	  enabled: true
//	  thresholds:
//	    - name: slow-rules
//	      max_average_time: 50ms
//	      min_invocations: 10
//
//	audit:
//	  enabled: true
//	  backend: sqlite
//	  sqlite:
//	    path: data/audit.db
//	  retention:
//	    days: 90
//	    schedule: "0 3 * * *"
package config
