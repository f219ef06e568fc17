package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestSQLiteStorage(t *testing.T) *SQLiteStorage {
	t.Helper()

	config := DefaultSQLiteConfig()
	config.Path = filepath.Join(t.TempDir(), "audit.db")

	s, err := NewSQLiteStorage(config)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreAndQuery(t *testing.T) {
	s := newTestSQLiteStorage(t)

	original := &Record{
		ID:          "rec-1",
		EventType:   EventAction,
		RunID:       "run-a",
		ContextID:   "ctx-1",
		ContextType: "order",
		RuleName:    "discount",
		ActionName:  "set_field",
		Success:     true,
		Detail: map[string]interface{}{
			"field": "discount",
			"value": 0.15,
		},
		RecordedAt: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	storeRecords(t, s, original)

	records, err := s.Query(context.Background(), &Query{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Query() returned %d records, want 1", len(records))
	}

	got := records[0]
	if got.ID != original.ID || got.EventType != original.EventType {
		t.Errorf("record = %+v, want id %s event %s", got, original.ID, original.EventType)
	}
	if got.RunID != "run-a" || got.RuleName != "discount" || got.ActionName != "set_field" {
		t.Errorf("columns = %s/%s/%s, want run-a/discount/set_field", got.RunID, got.RuleName, got.ActionName)
	}
	if !got.Success {
		t.Error("Success must round-trip")
	}
	if got.Detail["field"] != "discount" || got.Detail["value"] != 0.15 {
		t.Errorf("Detail = %v, want field/value preserved", got.Detail)
	}
	if !got.RecordedAt.Equal(original.RecordedAt) {
		t.Errorf("RecordedAt = %v, want %v", got.RecordedAt, original.RecordedAt)
	}
}

func TestSQLiteEmptyFieldsRoundTrip(t *testing.T) {
	s := newTestSQLiteStorage(t)

	storeRecords(t, s, &Record{
		ID:         "bare",
		EventType:  EventRun,
		Success:    false,
		RecordedAt: time.Now().UTC(),
	})

	records, err := s.Query(context.Background(), &Query{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	got := records[0]
	if got.RunID != "" || got.RuleName != "" || got.ActionName != "" {
		t.Errorf("empty columns came back as %q/%q/%q", got.RunID, got.RuleName, got.ActionName)
	}
	if got.Success {
		t.Error("Success = true, want false")
	}
	if got.Detail != nil {
		t.Errorf("Detail = %v, want nil", got.Detail)
	}
}

func TestSQLiteQueryFilters(t *testing.T) {
	s := newTestSQLiteStorage(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	storeRecords(t, s,
		actionRecord("r1", "run-a", "discount", base),
		actionRecord("r2", "run-a", "fraud-check", base.Add(time.Minute)),
		actionRecord("r3", "run-b", "discount", base.Add(2*time.Minute)),
	)

	records, err := s.Query(context.Background(), &Query{RunID: "run-a"})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("Query(run-a) returned %d records, want 2", len(records))
	}
	// Newest first.
	if records[0].ID != "r2" || records[1].ID != "r1" {
		t.Errorf("order = %s, %s; want r2, r1", records[0].ID, records[1].ID)
	}

	records, err = s.Query(context.Background(), &Query{
		RuleName:  "discount",
		StartTime: timePtr(base.Add(time.Minute)),
	})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "r3" {
		t.Fatalf("combined filter = %v, want only r3", records)
	}

	count, err := s.Count(context.Background(), &Query{RuleName: "discount"})
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 2 {
		t.Errorf("Count(discount) = %d, want 2", count)
	}
}

func TestSQLiteQueryLimit(t *testing.T) {
	s := newTestSQLiteStorage(t)
	base := time.Now().UTC()

	for i := 0; i < 5; i++ {
		storeRecords(t, s, actionRecord(
			string(rune('a'+i)), "run-a", "discount", base.Add(time.Duration(i)*time.Minute)))
	}

	records, err := s.Query(context.Background(), &Query{Limit: 3})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 3 {
		t.Errorf("Query(limit 3) returned %d records", len(records))
	}
}

func TestSQLiteDelete(t *testing.T) {
	s := newTestSQLiteStorage(t)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	storeRecords(t, s,
		actionRecord("old-1", "run-a", "discount", base),
		actionRecord("old-2", "run-a", "discount", base.Add(time.Minute)),
		actionRecord("fresh", "run-b", "discount", base.Add(time.Hour)),
	)

	cutoff := base.Add(30 * time.Minute)
	deleted, err := s.Delete(context.Background(), &Query{EndTime: &cutoff})
	if err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if deleted != 2 {
		t.Errorf("Delete() = %d, want 2", deleted)
	}

	records, err := s.Query(context.Background(), &Query{})
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if len(records) != 1 || records[0].ID != "fresh" {
		t.Errorf("remaining = %v, want only fresh", records)
	}
}

func TestSQLiteReopenPreservesRecords(t *testing.T) {
	config := DefaultSQLiteConfig()
	config.Path = filepath.Join(t.TempDir(), "audit.db")

	s, err := NewSQLiteStorage(config)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() error: %v", err)
	}
	storeRecords(t, s, actionRecord("persisted", "run-a", "discount", time.Now().UTC()))
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := NewSQLiteStorage(config)
	if err != nil {
		t.Fatalf("NewSQLiteStorage() reopen error: %v", err)
	}
	defer reopened.Close()

	count, err := reopened.Count(context.Background(), &Query{})
	if err != nil {
		t.Fatalf("Count() error: %v", err)
	}
	if count != 1 {
		t.Errorf("Count() after reopen = %d, want 1", count)
	}
}
