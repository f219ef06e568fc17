package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/rule/ast"
)

func newTestExecutor(t *testing.T) *Executor {
	t.Helper()
	return NewExecutor(nil, 5*time.Second)
}

func execRule() *ast.Rule {
	return &ast.Rule{Name: "exec-rule", Enabled: true}
}

func TestExecuteUnknownAction(t *testing.T) {
	e := newTestExecutor(t)

	result := e.Execute(context.Background(), execRule(), &ast.Action{Name: "no_such_action"}, NewExecutionContext("t", nil))
	if result.Success {
		t.Fatal("unknown action must fail")
	}

	var actionErr *ActionExecutionError
	if !errors.As(result.Error, &actionErr) {
		t.Fatalf("error = %v, want *ActionExecutionError", result.Error)
	}
}

func TestExecuteValidatesInputs(t *testing.T) {
	e := newTestExecutor(t)

	attempts := 0
	err := e.Register(&ActionSpec{
		Name: "typed_action",
		Params: []ParamSpec{
			{Name: "count", Kind: ParamNumber, Required: true},
			{Name: "label", Kind: ParamString},
		},
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			attempts++
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	tests := []struct {
		name   string
		params map[string]interface{}
	}{
		{
			name:   "missing required",
			params: map[string]interface{}{"label": "x"},
		},
		{
			name:   "wrong type",
			params: map[string]interface{}{"count": "three"},
		},
		{
			name:   "optional wrong type",
			params: map[string]interface{}{"count": 3, "label": 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := e.Execute(context.Background(), execRule(),
				&ast.Action{Name: "typed_action", Params: tt.params},
				NewExecutionContext("t", nil))

			if result.Success {
				t.Fatal("invalid inputs must fail")
			}
			var valErr *ValidationError
			if !errors.As(result.Error, &valErr) {
				t.Fatalf("error = %v, want *ValidationError", result.Error)
			}
		})
	}

	if attempts != 0 {
		t.Errorf("handler ran %d times for invalid inputs, want 0", attempts)
	}
}

func TestExecuteRetriesTransientFailures(t *testing.T) {
	e := newTestExecutor(t)

	attempts := 0
	err := e.Register(&ActionSpec{
		Name: "flaky",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			attempts++
			if attempts < 3 {
				return nil, NewTransientError(fmt.Errorf("attempt %d failed", attempts))
			}
			return map[string]interface{}{"ok": true}, nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	action := &ast.Action{
		Name:        "flaky",
		MaxAttempts: 5,
		RetryOn:     []ast.RetryKind{ast.RetryKindTransient},
		Backoff:     ast.BackoffPolicy{InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond},
	}

	result := e.Execute(context.Background(), execRule(), action, NewExecutionContext("t", nil))
	if !result.Success {
		t.Fatalf("Execute() failed: %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
	if count, ok := result.Metadata["attempt_count"].(int); !ok || count != 3 {
		t.Errorf("Metadata[attempt_count] = %v, want 3", result.Metadata["attempt_count"])
	}
}

func TestExecuteRetryExhaustion(t *testing.T) {
	e := newTestExecutor(t)

	attempts := 0
	e.Register(&ActionSpec{
		Name: "always_failing",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			attempts++
			return nil, NewTransientError(fmt.Errorf("still failing"))
		},
	})

	action := &ast.Action{
		Name:        "always_failing",
		MaxAttempts: 3,
		RetryOn:     []ast.RetryKind{ast.RetryKindTransient},
		Backoff:     ast.BackoffPolicy{InitialInterval: time.Millisecond},
	}

	result := e.Execute(context.Background(), execRule(), action, NewExecutionContext("t", nil))
	if result.Success {
		t.Fatal("exhausted retries must fail")
	}
	if attempts != 3 {
		t.Errorf("handler ran %d times, want 3", attempts)
	}
	var actionErr *ActionExecutionError
	if !errors.As(result.Error, &actionErr) {
		t.Fatalf("error = %v, want *ActionExecutionError", result.Error)
	}
}

func TestExecuteDoesNotRetryFatalFailures(t *testing.T) {
	e := newTestExecutor(t)

	attempts := 0
	e.Register(&ActionSpec{
		Name: "fatal_action",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			attempts++
			return nil, &ActionExecutionError{Retryable: false, Cause: fmt.Errorf("broken invariant")}
		},
	})

	action := &ast.Action{
		Name:        "fatal_action",
		MaxAttempts: 5,
		RetryOn:     []ast.RetryKind{ast.RetryKindTransient},
		Backoff:     ast.BackoffPolicy{InitialInterval: time.Millisecond},
	}

	result := e.Execute(context.Background(), execRule(), action, NewExecutionContext("t", nil))
	if result.Success {
		t.Fatal("fatal failure must not succeed")
	}
	if attempts != 1 {
		t.Errorf("handler ran %d times, want 1 (no retries on fatal)", attempts)
	}
}

func TestExecuteDoesNotRetryUndeclaredKinds(t *testing.T) {
	e := newTestExecutor(t)

	attempts := 0
	e.Register(&ActionSpec{
		Name: "transient_failure",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			attempts++
			return nil, NewTransientError(fmt.Errorf("busy"))
		},
	})

	// Retries are opt-in per kind: transient failures without a matching
	// retry_on declaration fail immediately.
	action := &ast.Action{
		Name:        "transient_failure",
		MaxAttempts: 5,
		RetryOn:     []ast.RetryKind{ast.RetryKindTimeout},
		Backoff:     ast.BackoffPolicy{InitialInterval: time.Millisecond},
	}

	result := e.Execute(context.Background(), execRule(), action, NewExecutionContext("t", nil))
	if result.Success {
		t.Fatal("undeclared failure kind must not be retried into success")
	}
	if attempts != 1 {
		t.Errorf("handler ran %d times, want 1", attempts)
	}
}

func TestExecuteTimeoutAbandonsSlowHandler(t *testing.T) {
	e := newTestExecutor(t)

	release := make(chan struct{})
	e.Register(&ActionSpec{
		Name: "slow_action",
		Handler: func(_ context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			<-release
			return nil, nil
		},
	})
	defer close(release)

	action := &ast.Action{Name: "slow_action", Timeout: 50 * time.Millisecond}

	start := time.Now()
	result := e.Execute(context.Background(), execRule(), action, NewExecutionContext("t", nil))
	elapsed := time.Since(start)

	if result.Success {
		t.Fatal("timed-out action must fail")
	}
	var timeoutErr *TimeoutError
	if !errors.As(result.Error, &timeoutErr) {
		t.Fatalf("error = %v, want *TimeoutError", result.Error)
	}
	if timeoutErr.Timeout != 50*time.Millisecond {
		t.Errorf("Timeout = %v, want 50ms", timeoutErr.Timeout)
	}

	// The attempt is abandoned at the deadline; the executor must not
	// wait for the blocked handler.
	if elapsed > time.Second {
		t.Errorf("Execute() took %v, want return at ~50ms deadline", elapsed)
	}
}

func TestExecuteRetriesTimeouts(t *testing.T) {
	e := newTestExecutor(t)

	attempts := 0
	e.Register(&ActionSpec{
		Name: "slow_then_fast",
		Handler: func(ctx context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			attempts++
			if attempts == 1 {
				select {
				case <-time.After(time.Second):
				case <-ctx.Done():
				}
				return nil, ctx.Err()
			}
			return nil, nil
		},
	})

	action := &ast.Action{
		Name:        "slow_then_fast",
		Timeout:     30 * time.Millisecond,
		MaxAttempts: 2,
		RetryOn:     []ast.RetryKind{ast.RetryKindTimeout},
		Backoff:     ast.BackoffPolicy{InitialInterval: time.Millisecond},
	}

	result := e.Execute(context.Background(), execRule(), action, NewExecutionContext("t", nil))
	if !result.Success {
		t.Fatalf("Execute() failed: %v", result.Error)
	}
	if result.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", result.Attempts)
	}
}

func TestExecuteCancelledRunIsNotRetried(t *testing.T) {
	e := newTestExecutor(t)

	attempts := 0
	e.Register(&ActionSpec{
		Name: "cancelled_action",
		Handler: func(ctx context.Context, _ *ast.Action, _ *ExecutionContext) (map[string]interface{}, error) {
			attempts++
			<-ctx.Done()
			return nil, ctx.Err()
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	action := &ast.Action{
		Name:        "cancelled_action",
		MaxAttempts: 5,
		RetryOn:     []ast.RetryKind{ast.RetryKindTransient, ast.RetryKindTimeout},
		Backoff:     ast.BackoffPolicy{InitialInterval: time.Millisecond},
	}

	result := e.Execute(ctx, execRule(), action, NewExecutionContext("t", nil))
	if result.Success {
		t.Fatal("cancelled action must fail")
	}
	if attempts != 1 {
		t.Errorf("handler ran %d times after cancellation, want 1", attempts)
	}
}

func TestRegisterRejectsInvalidSpecs(t *testing.T) {
	e := newTestExecutor(t)

	if err := e.Register(nil); err == nil {
		t.Error("nil spec must be rejected")
	}
	if err := e.Register(&ActionSpec{Name: ""}); err == nil {
		t.Error("empty name must be rejected")
	}
	if err := e.Register(&ActionSpec{Name: "no_handler"}); err == nil {
		t.Error("nil handler must be rejected")
	}
	if err := e.Register(&ActionSpec{Name: ActionLog, Handler: func(context.Context, *ast.Action, *ExecutionContext) (map[string]interface{}, error) {
		return nil, nil
	}}); err == nil {
		t.Error("built-in name collision must be rejected")
	}
}

func TestBuiltinSetField(t *testing.T) {
	e := newTestExecutor(t)
	ectx := NewExecutionContext("order", map[string]interface{}{})

	action := &ast.Action{
		Name: ActionSetField,
		Params: map[string]interface{}{
			"field": "discount",
			"value": 0.1,
		},
	}

	result := e.Execute(context.Background(), execRule(), action, ectx)
	if !result.Success {
		t.Fatalf("Execute() failed: %v", result.Error)
	}

	got, ok := ectx.GetData("discount")
	if !ok || got != 0.1 {
		t.Errorf("GetData(discount) = %v, %t; want 0.1, true", got, ok)
	}
}

func TestBuiltinNotifyAppendsMetadata(t *testing.T) {
	e := newTestExecutor(t)
	ectx := NewExecutionContext("order", map[string]interface{}{})

	for i := 0; i < 2; i++ {
		action := &ast.Action{
			Name: ActionNotify,
			Params: map[string]interface{}{
				"destination": "ops",
				"message":     fmt.Sprintf("event %d", i),
			},
		}
		if result := e.Execute(context.Background(), execRule(), action, ectx); !result.Success {
			t.Fatalf("Execute() failed: %v", result.Error)
		}
	}

	raw, ok := ectx.GetMetadata("notifications")
	if !ok {
		t.Fatal("notifications metadata missing")
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) != 2 {
		t.Fatalf("notifications = %v, want 2 entries", raw)
	}
}

func TestExecuteWebhookClientErrorIsNotRetried(t *testing.T) {
	e := newTestExecutor(t)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	action := &ast.Action{
		Name:        ActionWebhook,
		Params:      map[string]interface{}{"url": server.URL},
		MaxAttempts: 3,
		RetryOn:     []ast.RetryKind{ast.RetryKindTransient},
		Backoff:     ast.BackoffPolicy{InitialInterval: time.Millisecond},
	}

	result := e.Execute(context.Background(), execRule(), action, NewExecutionContext("t", nil))
	if result.Success {
		t.Fatal("4xx response must fail the action")
	}
	if result.Attempts != 1 {
		t.Errorf("Attempts = %d, want 1", result.Attempts)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("webhook called %d times for a client error, want 1", got)
	}

	var actionErr *ActionExecutionError
	if !errors.As(result.Error, &actionErr) {
		t.Fatalf("error = %v, want *ActionExecutionError", result.Error)
	}
	if actionErr.Retryable {
		t.Error("client errors must be classified non-retryable")
	}
}

func TestExecuteWebhookRetriesServerErrors(t *testing.T) {
	e := newTestExecutor(t)

	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	action := &ast.Action{
		Name:        ActionWebhook,
		Params:      map[string]interface{}{"url": server.URL},
		MaxAttempts: 5,
		RetryOn:     []ast.RetryKind{ast.RetryKindTransient},
		Backoff:     ast.BackoffPolicy{InitialInterval: time.Millisecond},
	}

	result := e.Execute(context.Background(), execRule(), action, NewExecutionContext("t", nil))
	if !result.Success {
		t.Fatalf("action must succeed after retries, error: %v", result.Error)
	}
	if result.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.Attempts)
	}
}

func TestExecutorKnownAndNames(t *testing.T) {
	e := newTestExecutor(t)

	if !e.Known(ActionSetField) {
		t.Error("built-in set_field must be known")
	}
	if e.Known("enrich_order") {
		t.Error("unregistered action must not be known")
	}

	err := e.Register(&ActionSpec{
		Name: "enrich_order",
		Handler: func(context.Context, *ast.Action, *ExecutionContext) (map[string]interface{}, error) {
			return nil, nil
		},
	})
	if err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if !e.Known("enrich_order") {
		t.Error("registered action must be known")
	}

	names := e.Names()
	if !sort.StringsAreSorted(names) {
		t.Errorf("Names() = %v, want sorted order", names)
	}
	found := false
	for _, name := range names {
		if name == "enrich_order" {
			found = true
		}
	}
	if !found {
		t.Errorf("Names() = %v, missing enrich_order", names)
	}
}
