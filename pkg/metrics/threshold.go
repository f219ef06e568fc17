package metrics

import (
	"time"
)

// ThresholdState represents the alert state of a threshold.
type ThresholdState int

const (
	// StateHealthy means the observed value is within the configured limit.
	StateHealthy ThresholdState = iota
	// StateBreached means the observed value exceeded the configured limit.
	StateBreached
)

// String returns a human-readable state name.
func (s ThresholdState) String() string {
	switch s {
	case StateHealthy:
		return "healthy"
	case StateBreached:
		return "breached"
	default:
		return "unknown"
	}
}

// defaultClearFactor controls hysteresis: a breached threshold recovers
// only once the observed value falls below limit * clearFactor, which
// prevents alert flapping around the limit.
const defaultClearFactor = 0.9

// Threshold configures an alerting condition over collected rule metrics.
// At least one of MaxAverageTime or MaxFailureRate must be set.
type Threshold struct {
	// Name identifies the threshold in alerts.
	Name string

	// Rule restricts the threshold to a single rule. Empty means the
	// threshold is evaluated against every observed rule independently.
	Rule string

	// MaxAverageTime breaches when a rule's average execution time
	// exceeds this duration. Zero disables the time check.
	MaxAverageTime time.Duration

	// MaxFailureRate breaches when a rule's failure rate exceeds this
	// fraction in (0, 1]. Zero disables the rate check.
	MaxFailureRate float64

	// MinInvocations suppresses evaluation until a rule has been
	// invoked at least this many times, so a single slow or failed
	// invocation does not trigger an alert.
	MinInvocations uint64

	// ClearFactor controls recovery hysteresis. A breached threshold
	// returns to healthy only when the value drops below
	// limit * ClearFactor. Defaults to 0.9 when zero.
	ClearFactor float64
}

func (t Threshold) clearFactor() float64 {
	if t.ClearFactor <= 0 || t.ClearFactor > 1 {
		return defaultClearFactor
	}
	return t.ClearFactor
}

// Alert describes a threshold state transition. Alerts are fired exactly
// once per transition: entering the breached state fires a breach alert,
// and returning to healthy fires a recovery alert. Runs that leave a
// threshold in its current state fire nothing.
type Alert struct {
	// Threshold is the name of the threshold that transitioned.
	Threshold string

	// RuleName is the rule whose metrics triggered the transition.
	RuleName string

	// State is the new state after the transition.
	State ThresholdState

	// Metric names the measurement that crossed the limit
	// ("average_time" or "failure_rate").
	Metric string

	// Value is the observed value at transition time. Average times
	// are reported in seconds.
	Value float64

	// Limit is the configured limit for the metric.
	Limit float64

	// At is the time the transition was detected.
	At time.Time
}

// AlertHandler receives threshold state transitions. Handlers are
// invoked synchronously after metric recording completes; they must not
// call back into the collector's recording path.
type AlertHandler func(Alert)

type thresholdState struct {
	cfg     Threshold
	handler AlertHandler

	// states tracks the current state per rule name.
	states map[string]ThresholdState
}

// AddThreshold registers a threshold with an alert handler. Thresholds
// are evaluated after every observed run.
func (c *Collector) AddThreshold(t Threshold, handler AlertHandler) {
	if handler == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.thresholds = append(c.thresholds, &thresholdState{
		cfg:     t,
		handler: handler,
		states:  make(map[string]ThresholdState),
	})
}

// checkThresholdsLocked evaluates every threshold against current rule
// statistics and returns deferred handler invocations for each state
// transition. Caller must hold c.mu.
func (c *Collector) checkThresholdsLocked(now time.Time) []func() {
	var pending []func()

	for _, ts := range c.thresholds {
		for name, stats := range c.rules {
			if ts.cfg.Rule != "" && ts.cfg.Rule != name {
				continue
			}
			if stats.Invocations < ts.cfg.MinInvocations {
				continue
			}

			current := ts.states[name]
			next, metric, value, limit := evaluateThreshold(ts.cfg, *stats, current)
			if next == current {
				continue
			}

			ts.states[name] = next
			alert := Alert{
				Threshold: ts.cfg.Name,
				RuleName:  name,
				State:     next,
				Metric:    metric,
				Value:     value,
				Limit:     limit,
				At:        now,
			}
			handler := ts.handler
			pending = append(pending, func() { handler(alert) })

			c.logger.Info("threshold state changed",
				"threshold", alert.Threshold,
				"rule", alert.RuleName,
				"state", alert.State.String(),
				"metric", alert.Metric,
				"value", alert.Value,
				"limit", alert.Limit,
			)
		}
	}

	return pending
}

// evaluateThreshold computes the next state for a rule under a threshold,
// applying hysteresis on the recovery path. It returns the next state and
// the metric that determined it.
func evaluateThreshold(cfg Threshold, stats RuleStats, current ThresholdState) (next ThresholdState, metric string, value, limit float64) {
	avgSeconds := stats.AverageTime().Seconds()
	failureRate := stats.FailureRate()

	timeLimit := cfg.MaxAverageTime.Seconds()
	clear := cfg.clearFactor()

	timeBreached := cfg.MaxAverageTime > 0 && avgSeconds > timeLimit
	rateBreached := cfg.MaxFailureRate > 0 && failureRate > cfg.MaxFailureRate

	if current == StateHealthy {
		switch {
		case timeBreached:
			return StateBreached, "average_time", avgSeconds, timeLimit
		case rateBreached:
			return StateBreached, "failure_rate", failureRate, cfg.MaxFailureRate
		default:
			return StateHealthy, "", 0, 0
		}
	}

	// Breached: recover only when every enabled metric has dropped below
	// its hysteresis band.
	timeRecovered := cfg.MaxAverageTime == 0 || avgSeconds < timeLimit*clear
	rateRecovered := cfg.MaxFailureRate == 0 || failureRate < cfg.MaxFailureRate*clear

	if timeRecovered && rateRecovered {
		if cfg.MaxAverageTime > 0 {
			return StateHealthy, "average_time", avgSeconds, timeLimit
		}
		return StateHealthy, "failure_rate", failureRate, cfg.MaxFailureRate
	}
	return StateBreached, "", 0, 0
}
