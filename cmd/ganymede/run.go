package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"mercator-hq/ganymede/pkg/audit"
	"mercator-hq/ganymede/pkg/audit/retention"
	"mercator-hq/ganymede/pkg/config"
	"mercator-hq/ganymede/pkg/engine"
	"mercator-hq/ganymede/pkg/engine/source"
	"mercator-hq/ganymede/pkg/logging"
	"mercator-hq/ganymede/pkg/metrics"
)

var runFlags struct {
	rules       string
	contextFile string
	watch       bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Evaluate a context against a rule set",
	Long: `Load rules and evaluate an execution context against them.

The context is a JSON document:

  {
    "context_type": "order",
    "data": {
      "total": 125.50,
      "customer_tier": "gold"
    }
  }

The run result is printed as JSON. The command exits non-zero when any
matched rule failed.

Examples:
  # Evaluate a context file against a rule directory
  ganymede run --rules rules/ --context order.json

  # Keep running and reload rules when files change
  ganymede run --rules rules/ --context order.json --watch`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.rules, "rules", "r", "", "rule file or directory (overrides config)")
	runCmd.Flags().StringVar(&runFlags.contextFile, "context", "", "execution context JSON file (required)")
	runCmd.Flags().BoolVarP(&runFlags.watch, "watch", "w", false, "watch rule files and re-evaluate on change")

	runCmd.MarkFlagRequired("context")
}

// contextDocument is the JSON shape accepted by --context.
type contextDocument struct {
	ContextType string                 `json:"context_type"`
	UserID      string                 `json:"user_id,omitempty"`
	SessionID   string                 `json:"session_id,omitempty"`
	Data        map[string]interface{} `json:"data"`
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	cfg, err := loadRunConfig()
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging, os.Stderr)
	if err != nil {
		return err
	}

	eng, cleanup, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rulePath := cfg.Rules.Path
	if runFlags.rules != "" {
		rulePath = runFlags.rules
	}

	src := source.NewFileSource(rulePath, logger)
	defs, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	if len(defs) == 0 {
		return fmt.Errorf("%w under %q", engine.ErrNoRulesLoaded, rulePath)
	}
	if err := eng.Reload(defs); err != nil {
		return fmt.Errorf("failed to register rules: %w", err)
	}

	doc, err := readContextDocument(runFlags.contextFile)
	if err != nil {
		return err
	}

	if !runFlags.watch && !cfg.Rules.Watch {
		return evaluateOnce(ctx, eng, doc)
	}

	// Watch mode: evaluate now, then re-evaluate whenever the rule set
	// changes, until interrupted.
	if err := evaluateOnce(ctx, eng, doc); err != nil {
		logger.Error("evaluation failed", "error", err)
	}

	events, err := src.Watch(ctx)
	if err != nil {
		return fmt.Errorf("failed to watch rules: %w", err)
	}

	for event := range events {
		if event.Err != nil {
			logger.Error("rule watch error", "error", event.Err)
			continue
		}

		logger.Info("rule files changed, reloading",
			"event", string(event.Type),
			"path", event.Path,
		)

		defs, err := src.Load(ctx)
		if err != nil {
			logger.Error("rule reload failed, keeping previous rules", "error", err)
			continue
		}
		if err := eng.Reload(defs); err != nil {
			logger.Error("rule reload rejected, keeping previous rules", "error", err)
			continue
		}

		if err := evaluateOnce(ctx, eng, doc); err != nil {
			logger.Error("evaluation failed", "error", err)
		}
	}

	return nil
}

// loadRunConfig loads the configuration file if it exists, otherwise
// falls back to defaults so `ganymede run --rules` works standalone.
func loadRunConfig() (*config.Config, error) {
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		if verbose {
			cfg.Logging.Level = "debug"
		}
		return cfg, nil
	}

	cfg, err := config.LoadConfigWithEnvOverrides(cfgFile)
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// buildEngine assembles the engine with metrics and audit wiring from
// configuration. The returned cleanup releases audit resources.
func buildEngine(cfg *config.Config, logger *slog.Logger) (*engine.Engine, func(), error) {
	engineCfg := &engine.Config{
		ParallelExecution:     cfg.Engine.ParallelExecution,
		ContinueOnActionError: cfg.Engine.ContinueOnActionError,
		DefaultActionTimeout:  cfg.Engine.DefaultActionTimeout,
		RunTimeout:            cfg.Engine.RunTimeout,
		MaxRules:              cfg.Engine.MaxRules,
		ConditionCache:        cfg.Engine.ConditionCache,
	}

	eng, err := engine.New(engineCfg, logger)
	if err != nil {
		return nil, nil, err
	}

	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if cfg.Metrics.Enabled {
		registry := prometheus.NewRegistry()
		eng.AddObserver(metrics.NewEngineMetrics(cfg.Metrics.Namespace, cfg.Metrics.Subsystem, registry))

		if cfg.Metrics.Listen != "" {
			server := serveMetrics(cfg.Metrics.Listen, registry, logger)
			cleanups = append(cleanups, func() { server.Close() })
		}

		collector := metrics.NewCollector(logger)
		for _, t := range cfg.Metrics.Thresholds {
			collector.AddThreshold(metrics.Threshold{
				Name:           t.Name,
				Rule:           t.Rule,
				MaxAverageTime: t.MaxAverageTime,
				MaxFailureRate: t.MaxFailureRate,
				MinInvocations: t.MinInvocations,
			}, func(alert metrics.Alert) {
				logger.Warn("metric threshold alert",
					"threshold", alert.Threshold,
					"rule", alert.RuleName,
					"state", alert.State.String(),
					"metric", alert.Metric,
					"value", alert.Value,
					"limit", alert.Limit,
				)
			})
		}
		eng.AddObserver(collector)
	}

	if cfg.Audit.Enabled {
		storage, err := buildAuditStorage(cfg)
		if err != nil {
			return nil, nil, err
		}

		recorder := audit.NewRecorder(storage, logger)
		eng.Executor().SetAuditSink(recorder)
		eng.AddObserver(recorder)

		pruner := retention.NewPruner(storage, &retention.Config{
			RetentionDays: cfg.Audit.Retention.Days,
			PruneSchedule: cfg.Audit.Retention.Schedule,
			MaxRecords:    cfg.Audit.Retention.MaxRecords,
		})
		if err := pruner.Start(context.Background()); err != nil {
			storage.Close()
			return nil, nil, err
		}
		cleanups = append(cleanups, func() {
			pruner.Stop()
			storage.Close()
		})
	}

	return eng, cleanup, nil
}

// serveMetrics exposes the Prometheus registry over HTTP at /metrics.
func serveMetrics(addr string, registry *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	server := &http.Server{Addr: addr, Handler: mux}
	go func() {
		logger.Info("metrics endpoint listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics endpoint failed", "error", err)
		}
	}()
	return server
}

func buildAuditStorage(cfg *config.Config) (audit.Storage, error) {
	switch cfg.Audit.Backend {
	case "sqlite":
		return audit.NewSQLiteStorage(&audit.SQLiteConfig{
			Path:        cfg.Audit.SQLite.Path,
			BusyTimeout: cfg.Audit.SQLite.BusyTimeout,
		})
	default:
		return audit.NewMemoryStorage(), nil
	}
}

func readContextDocument(path string) (*contextDocument, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read context file %q: %w", path, err)
	}

	var doc contextDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse context file %q: %w", path, err)
	}
	if doc.ContextType == "" {
		return nil, fmt.Errorf("context file %q: context_type is required", path)
	}
	return &doc, nil
}

// runOutput is the JSON shape printed after each evaluation.
type runOutput struct {
	RunID         string           `json:"run_id"`
	ContextID     string           `json:"context_id"`
	ContextType   string           `json:"context_type"`
	Success       bool             `json:"success"`
	TotalDuration string           `json:"total_duration"`
	Evaluated     int              `json:"evaluated"`
	Matched       int              `json:"matched"`
	Fired         int              `json:"fired"`
	Failed        int              `json:"failed"`
	Rules         []ruleOutput     `json:"rules"`
	StartTime     time.Time        `json:"start_time"`
}

type ruleOutput struct {
	RuleName      string         `json:"rule_name"`
	ConditionsMet bool           `json:"conditions_met"`
	Success       bool           `json:"success"`
	ExecutionTime string         `json:"execution_time"`
	Error         string         `json:"error,omitempty"`
	Actions       []actionOutput `json:"actions,omitempty"`
}

type actionOutput struct {
	ActionName string `json:"action_name"`
	Success    bool   `json:"success"`
	Attempts   int    `json:"attempts"`
	Duration   string `json:"duration"`
	Error      string `json:"error,omitempty"`
}

func evaluateOnce(ctx context.Context, eng *engine.Engine, doc *contextDocument) error {
	ectx := engine.NewExecutionContext(doc.ContextType, cloneData(doc.Data))
	ectx.UserID = doc.UserID
	ectx.SessionID = doc.SessionID

	result, err := eng.Evaluate(ctx, ectx)
	if err != nil {
		return err
	}

	if err := printRunResult(result); err != nil {
		return err
	}

	if !result.Success {
		return fmt.Errorf("run %s finished with %d failed rule(s)", result.RunID, result.Failed)
	}
	return nil
}

// cloneData copies the document data so watch mode re-evaluates from
// the original context rather than one mutated by a previous run.
func cloneData(data map[string]interface{}) map[string]interface{} {
	cloned := make(map[string]interface{}, len(data))
	for k, v := range data {
		cloned[k] = v
	}
	return cloned
}

func printRunResult(result *engine.RunResult) error {
	out := runOutput{
		RunID:         result.RunID,
		ContextID:     result.ContextID,
		ContextType:   result.ContextType,
		Success:       result.Success,
		TotalDuration: result.TotalDuration.String(),
		Evaluated:     result.Evaluated,
		Matched:       result.Matched,
		Fired:         result.Fired,
		Failed:        result.Failed,
		StartTime:     result.StartTime,
	}

	for _, rr := range result.RuleResults {
		ro := ruleOutput{
			RuleName:      rr.RuleName,
			ConditionsMet: rr.ConditionsMet,
			Success:       rr.Success,
			ExecutionTime: rr.ExecutionTime.String(),
		}
		if rr.Error != nil {
			ro.Error = rr.Error.Error()
		}
		for _, ar := range rr.ActionResults {
			ao := actionOutput{
				ActionName: ar.ActionName,
				Success:    ar.Success,
				Attempts:   ar.Attempts,
				Duration:   ar.Duration.String(),
			}
			if ar.Error != nil {
				ao.Error = ar.Error.Error()
			}
			ro.Actions = append(ro.Actions, ao)
		}
		out.Rules = append(out.Rules, ro)
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(out)
}
