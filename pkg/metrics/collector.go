package metrics

import (
	"log/slog"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/engine"
)

// RuleStats holds cumulative execution statistics for a single rule.
type RuleStats struct {
	RuleName    string
	Invocations uint64
	Matches     uint64
	Successes   uint64
	Failures    uint64
	TotalTime   time.Duration
	LastRun     time.Time
}

// AverageTime returns the mean execution time across all invocations.
// Returns zero if the rule has never been invoked.
func (s RuleStats) AverageTime() time.Duration {
	if s.Invocations == 0 {
		return 0
	}
	return s.TotalTime / time.Duration(s.Invocations)
}

// FailureRate returns the fraction of invocations that failed, in [0, 1].
func (s RuleStats) FailureRate() float64 {
	if s.Invocations == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Invocations)
}

// MatchRate returns the fraction of invocations whose conditions matched.
func (s RuleStats) MatchRate() float64 {
	if s.Invocations == 0 {
		return 0
	}
	return float64(s.Matches) / float64(s.Invocations)
}

// RunStats holds cumulative statistics across all engine runs.
type RunStats struct {
	Runs          uint64
	Succeeded     uint64
	Failed        uint64
	RulesFired    uint64
	TotalDuration time.Duration
	LastRun       time.Time
}

// AverageDuration returns the mean run duration. Zero if no runs recorded.
func (s RunStats) AverageDuration() time.Duration {
	if s.Runs == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Runs)
}

// Snapshot is an immutable point-in-time view of collected metrics.
// Mutating a snapshot has no effect on the collector, and a snapshot is
// unaffected by runs recorded after it was taken.
type Snapshot struct {
	TakenAt time.Time
	Rules   map[string]RuleStats
	Runs    RunStats
}

// Collector aggregates per-rule and per-run execution metrics.
// It implements engine.Observer and is safe for concurrent use.
type Collector struct {
	mu         sync.RWMutex
	rules      map[string]*RuleStats
	runs       RunStats
	thresholds []*thresholdState
	logger     *slog.Logger
}

// NewCollector creates a new metrics collector.
func NewCollector(logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		rules:  make(map[string]*RuleStats),
		logger: logger,
	}
}

// ObserveRun records the outcome of a completed engine run and
// re-evaluates all registered thresholds against the updated state.
func (c *Collector) ObserveRun(result *engine.RunResult) {
	if result == nil {
		return
	}

	now := time.Now()

	c.mu.Lock()

	c.runs.Runs++
	if result.Success {
		c.runs.Succeeded++
	} else {
		c.runs.Failed++
	}
	c.runs.RulesFired += uint64(result.Fired)
	c.runs.TotalDuration += result.TotalDuration
	c.runs.LastRun = now

	for _, rr := range result.RuleResults {
		stats, ok := c.rules[rr.RuleName]
		if !ok {
			stats = &RuleStats{RuleName: rr.RuleName}
			c.rules[rr.RuleName] = stats
		}
		stats.Invocations++
		if rr.ConditionsMet {
			stats.Matches++
		}
		if rr.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
		stats.TotalTime += rr.ExecutionTime
		stats.LastRun = now
	}

	// Evaluate thresholds under the lock so alert transitions are
	// serialized. Handlers are collected and invoked after unlocking
	// so a slow handler cannot block metric recording.
	pending := c.checkThresholdsLocked(now)

	c.mu.Unlock()

	for _, fire := range pending {
		fire()
	}
}

// Snapshot returns an immutable copy of the current metric state.
func (c *Collector) Snapshot() *Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap := &Snapshot{
		TakenAt: time.Now(),
		Rules:   make(map[string]RuleStats, len(c.rules)),
		Runs:    c.runs,
	}
	for name, stats := range c.rules {
		snap.Rules[name] = *stats
	}
	return snap
}

// RuleStats returns the current statistics for a single rule.
// The second return value is false if the rule has never been observed.
func (c *Collector) RuleStats(ruleName string) (RuleStats, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	stats, ok := c.rules[ruleName]
	if !ok {
		return RuleStats{}, false
	}
	return *stats, true
}

// Reset clears all collected statistics and returns every threshold to
// the healthy state without firing recovery alerts.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rules = make(map[string]*RuleStats)
	c.runs = RunStats{}
	for _, ts := range c.thresholds {
		ts.states = make(map[string]ThresholdState)
	}
}
