package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/ganymede/pkg/engine"
)

// EngineMetrics exposes rule engine execution metrics to Prometheus.
// It implements engine.Observer.
//
// Metrics:
//   - <ns>_<sub>_rule_evaluations_total: Rule evaluations by rule and outcome
//   - <ns>_<sub>_rule_execution_duration_seconds: Per-rule execution duration
//   - <ns>_<sub>_rule_matches_total: Number of times a rule's conditions matched
//   - <ns>_<sub>_rule_misses_total: Number of times a rule's conditions did not match
//   - <ns>_<sub>_runs_total: Engine runs by context type and status
//   - <ns>_<sub>_run_duration_seconds: Total run duration
//   - <ns>_<sub>_action_attempts_total: Action execution attempts by action
type EngineMetrics struct {
	evaluationsTotal  *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	matchesTotal      *prometheus.CounterVec
	missesTotal       *prometheus.CounterVec
	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	actionAttempts    *prometheus.CounterVec
}

// NewEngineMetrics creates and registers engine metrics with the provided
// registry. If registry is nil, the default Prometheus registry is used.
func NewEngineMetrics(namespace, subsystem string, registry *prometheus.Registry) *EngineMetrics {
	if namespace == "" {
		namespace = "ganymede"
	}
	if subsystem == "" {
		subsystem = "engine"
	}

	em := &EngineMetrics{
		evaluationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rule_evaluations_total",
				Help:      "Total number of rule evaluations",
			},
			[]string{"rule", "outcome"},
		),

		executionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rule_execution_duration_seconds",
				Help:      "Duration of rule evaluation and action execution in seconds",
				// Condition checks are fast but actions may include
				// retries, so buckets span 1µs to ~30s.
				Buckets: prometheus.ExponentialBuckets(0.000001, 4, 13),
			},
			[]string{"rule"},
		),

		matchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rule_matches_total",
				Help:      "Total number of rule condition matches",
			},
			[]string{"rule"},
		),

		missesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "rule_misses_total",
				Help:      "Total number of rule condition misses",
			},
			[]string{"rule"},
		),

		runsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "runs_total",
				Help:      "Total number of engine runs",
			},
			[]string{"context_type", "status"},
		),

		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "run_duration_seconds",
				Help:      "Total duration of engine runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
			},
			[]string{"context_type"},
		),

		actionAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      "action_attempts_total",
				Help:      "Total number of action execution attempts",
			},
			[]string{"action", "status"},
		),
	}

	if registry != nil {
		registry.MustRegister(
			em.evaluationsTotal,
			em.executionDuration,
			em.matchesTotal,
			em.missesTotal,
			em.runsTotal,
			em.runDuration,
			em.actionAttempts,
		)
	} else {
		prometheus.MustRegister(
			em.evaluationsTotal,
			em.executionDuration,
			em.matchesTotal,
			em.missesTotal,
			em.runsTotal,
			em.runDuration,
			em.actionAttempts,
		)
	}

	return em
}

// ObserveRun records Prometheus metrics for a completed engine run.
func (em *EngineMetrics) ObserveRun(result *engine.RunResult) {
	if result == nil {
		return
	}

	status := "success"
	if !result.Success {
		status = "failure"
	}
	em.runsTotal.WithLabelValues(result.ContextType, status).Inc()
	em.runDuration.WithLabelValues(result.ContextType).Observe(result.TotalDuration.Seconds())

	for _, rr := range result.RuleResults {
		outcome := "success"
		if !rr.Success {
			outcome = "failure"
		}
		em.evaluationsTotal.WithLabelValues(rr.RuleName, outcome).Inc()
		em.executionDuration.WithLabelValues(rr.RuleName).Observe(rr.ExecutionTime.Seconds())

		if rr.ConditionsMet {
			em.matchesTotal.WithLabelValues(rr.RuleName).Inc()
		} else {
			em.missesTotal.WithLabelValues(rr.RuleName).Inc()
		}

		for _, ar := range rr.ActionResults {
			arStatus := "success"
			if !ar.Success {
				arStatus = "failure"
			}
			em.actionAttempts.WithLabelValues(ar.ActionName, arStatus).Add(float64(ar.Attempts))
		}
	}
}
