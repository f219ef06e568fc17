package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/engine"
)

// Recorder writes engine activity to audit storage. It implements both
// engine.AuditSink, so audit actions persist action events, and
// engine.Observer, so completed runs produce run summary events.
type Recorder struct {
	storage Storage
	logger  *slog.Logger
}

// NewRecorder creates a recorder backed by the given storage.
func NewRecorder(storage Storage, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		storage: storage,
		logger:  logger.With("component", "audit.recorder"),
	}
}

// Record persists an action audit event. Recognized keys in the entry
// (rule_name, action_name, run_id, context_id, context_type, success)
// are lifted into record columns; everything else lands in Detail.
func (r *Recorder) Record(ctx context.Context, entry map[string]interface{}) error {
	record := &Record{
		ID:         uuid.New().String(),
		EventType:  EventAction,
		Success:    true,
		Detail:     make(map[string]interface{}),
		RecordedAt: time.Now(),
	}

	for key, value := range entry {
		switch key {
		case "rule_name":
			record.RuleName, _ = value.(string)
		case "action_name":
			record.ActionName, _ = value.(string)
		case "run_id":
			record.RunID, _ = value.(string)
		case "context_id":
			record.ContextID, _ = value.(string)
		case "context_type":
			record.ContextType, _ = value.(string)
		case "success":
			if b, ok := value.(bool); ok {
				record.Success = b
			}
		default:
			record.Detail[key] = value
		}
	}
	if len(record.Detail) == 0 {
		record.Detail = nil
	}

	return r.storage.Store(ctx, record)
}

// ObserveRun persists a summary record for a completed engine run.
// Storage failures are logged, not propagated; observers cannot fail
// the run they observe.
func (r *Recorder) ObserveRun(result *engine.RunResult) {
	if result == nil {
		return
	}

	record := &Record{
		ID:          uuid.New().String(),
		EventType:   EventRun,
		RunID:       result.RunID,
		ContextID:   result.ContextID,
		ContextType: result.ContextType,
		Success:     result.Success,
		Detail: map[string]interface{}{
			"evaluated":      result.Evaluated,
			"matched":        result.Matched,
			"fired":          result.Fired,
			"failed":         result.Failed,
			"total_duration": result.TotalDuration.String(),
		},
		RecordedAt: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := r.storage.Store(ctx, record); err != nil {
		r.logger.Error("failed to record run audit event",
			"run_id", result.RunID,
			"error", err,
		)
	}
}
