// Package metrics provides execution metrics for the rule engine.
//
// The package has two layers:
//
//   - Collector: an in-process aggregator that tracks per-rule and
//     per-run counters, exposes immutable point-in-time snapshots, and
//     evaluates configurable thresholds with hysteresis-based alerting.
//   - EngineMetrics: Prometheus instrumentation for scrape-based
//     monitoring, registered against a caller-supplied registry.
//
// Both layers implement engine.Observer and can be attached to an
// engine independently:
//
//	collector := metrics.NewCollector(logger)
//	collector.AddThreshold(metrics.Threshold{
//		Name:           "slow-rules",
//		MaxAverageTime: 50 * time.Millisecond,
//		MinInvocations: 10,
//	}, func(alert metrics.Alert) {
//		logger.Warn("threshold alert", "alert", alert)
//	})
//
//	eng.AddObserver(collector)
//	eng.AddObserver(metrics.NewEngineMetrics("ganymede", "engine", registry))
package metrics
