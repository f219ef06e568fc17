package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"mercator-hq/ganymede/pkg/rule/ast"
)

// Built-in action names.
const (
	ActionSetField = "set_field"
	ActionLog      = "log"
	ActionAudit    = "audit"
	ActionWebhook  = "webhook"
	ActionNotify   = "notify"
)

// registerBuiltins installs the fixed built-in action library.
func (e *Executor) registerBuiltins() {
	builtins := []*ActionSpec{
		{
			Name:        ActionSetField,
			Description: "Set a context-data field to a value",
			Params: []ParamSpec{
				{Name: "field", Kind: ParamString, Required: true},
				{Name: "value", Kind: ParamAny, Required: true},
			},
			Handler: e.executeSetField,
		},
		{
			Name:        ActionLog,
			Description: "Emit a structured log entry",
			Params: []ParamSpec{
				{Name: "message", Kind: ParamString, Required: true},
				{Name: "level", Kind: ParamString},
			},
			Handler: e.executeLog,
		},
		{
			Name:        ActionAudit,
			Description: "Write an audit trail entry",
			Params: []ParamSpec{
				{Name: "event", Kind: ParamString, Required: true},
			},
			Handler: e.executeAudit,
		},
		{
			Name:        ActionWebhook,
			Description: "POST a JSON payload to a webhook URL",
			Params: []ParamSpec{
				{Name: "url", Kind: ParamString, Required: true},
			},
			Handler: e.executeWebhook,
		},
		{
			Name:        ActionNotify,
			Description: "Record a notification for downstream delivery",
			Params: []ParamSpec{
				{Name: "destination", Kind: ParamString, Required: true},
				{Name: "message", Kind: ParamString},
			},
			Handler: e.executeNotify,
		},
	}

	for _, spec := range builtins {
		e.actions[spec.Name] = spec
	}
}

// executeSetField mutates a named context-data field. This is how an
// earlier rule hands a value to a later rule within the same run.
func (e *Executor) executeSetField(ctx context.Context, action *ast.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	field := action.GetStringParam("field")
	value := action.GetParam("value")

	ectx.SetData(field, value)

	return map[string]interface{}{
		"field": field,
		"value": value,
	}, nil
}

// executeLog emits a structured log entry at the requested level.
func (e *Executor) executeLog(ctx context.Context, action *ast.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	message := action.GetStringParam("message")
	level := action.GetStringParam("level")
	if level == "" {
		level = "info"
	}

	switch level {
	case "debug":
		e.logger.Debug(message, "context_id", ectx.ContextID)
	case "warn":
		e.logger.Warn(message, "context_id", ectx.ContextID)
	case "error":
		e.logger.Error(message, "context_id", ectx.ContextID)
	default:
		e.logger.Info(message, "context_id", ectx.ContextID)
	}

	return map[string]interface{}{
		"message": message,
		"level":   level,
	}, nil
}

// executeAudit writes an entry through the configured audit sink. Without a
// sink the entry is logged only.
func (e *Executor) executeAudit(ctx context.Context, action *ast.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	event := action.GetStringParam("event")

	entry := map[string]interface{}{
		"event":        event,
		"context_id":   ectx.ContextID,
		"context_type": ectx.ContextType,
		"user_id":      ectx.UserID,
		"recorded_at":  time.Now().UTC(),
	}
	if details := action.GetParam("details"); details != nil {
		entry["details"] = details
	}

	if e.audit == nil {
		e.logger.Info("audit event", "event", event, "context_id", ectx.ContextID)
		return map[string]interface{}{"event": event, "persisted": false}, nil
	}

	if err := e.audit.Record(ctx, entry); err != nil {
		return nil, NewTransientError(fmt.Errorf("audit record failed: %w", err))
	}

	return map[string]interface{}{"event": event, "persisted": true}, nil
}

// executeWebhook POSTs a JSON payload to the configured URL. Transport
// failures and 5xx responses are transient; 4xx responses are fatal.
func (e *Executor) executeWebhook(ctx context.Context, action *ast.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	url := action.GetStringParam("url")

	payload := map[string]interface{}{
		"context_id":   ectx.ContextID,
		"context_type": ectx.ContextType,
		"timestamp":    ectx.Timestamp,
	}
	if body := action.GetParam("payload"); body != nil {
		payload["payload"] = body
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("webhook call failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, NewTransientError(fmt.Errorf("webhook returned %d", resp.StatusCode))
	}
	if resp.StatusCode >= 400 {
		// A client error will not succeed on retry.
		return nil, &ActionExecutionError{
			Retryable: false,
			Cause:     fmt.Errorf("webhook returned %d", resp.StatusCode),
		}
	}

	return map[string]interface{}{
		"url":    url,
		"status": resp.StatusCode,
	}, nil
}

// executeNotify records a notification on the context metadata for the
// caller to deliver after the run. The engine performs no delivery itself.
func (e *Executor) executeNotify(ctx context.Context, action *ast.Action, ectx *ExecutionContext) (map[string]interface{}, error) {
	destination := action.GetStringParam("destination")
	message := action.GetStringParam("message")

	notification := map[string]interface{}{
		"destination": destination,
		"message":     message,
		"context_id":  ectx.ContextID,
		"created_at":  time.Now().UTC(),
	}

	ectx.AppendMetadataList("notifications", notification)

	e.logger.Info("notification recorded",
		"destination", destination,
		"context_id", ectx.ContextID,
	)

	return map[string]interface{}{
		"destination": destination,
		"message":     message,
	}, nil
}
