package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteConfig contains configuration for the SQLite audit backend.
type SQLiteConfig struct {
	// Path is the database file path.
	Path string

	// MaxOpenConns is the maximum number of open connections.
	// Default: 10
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections.
	// Default: 5
	MaxIdleConns int

	// WALMode enables Write-Ahead Logging for better concurrency.
	// Default: true
	WALMode bool

	// BusyTimeout is the duration to wait when the database is locked.
	// Default: 5 seconds
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the default SQLite configuration.
func DefaultSQLiteConfig() *SQLiteConfig {
	return &SQLiteConfig{
		Path:         "data/audit.db",
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		WALMode:      true,
		BusyTimeout:  5 * time.Second,
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db     *sql.DB
	config *SQLiteConfig
	logger *slog.Logger
}

// NewSQLiteStorage opens the audit database, initializes the schema,
// and enables WAL mode if configured.
func NewSQLiteStorage(config *SQLiteConfig) (*SQLiteStorage, error) {
	if config == nil {
		config = DefaultSQLiteConfig()
	}

	logger := slog.Default().With("component", "audit.storage.sqlite")

	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, NewStorageError("sqlite", "open", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)

	s := &SQLiteStorage{
		db:     db,
		config: config,
		logger: logger,
	}

	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("SQLite audit storage initialized",
		"path", config.Path,
		"wal_mode", config.WALMode,
		"max_open_conns", config.MaxOpenConns,
	)

	return s, nil
}

// initialize sets up the database schema and pragmas.
func (s *SQLiteStorage) initialize() error {
	if s.config.WALMode {
		if _, err := s.db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			return NewStorageError("sqlite", "enable_wal", err)
		}
	}

	busyTimeoutMs := s.config.BusyTimeout.Milliseconds()
	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA busy_timeout=%d;", busyTimeoutMs)); err != nil {
		return NewStorageError("sqlite", "set_busy_timeout", err)
	}

	if _, err := s.db.Exec(Schema); err != nil {
		return NewStorageError("sqlite", "create_schema", err)
	}

	if _, err := s.db.Exec(InsertSchemaVersion, SchemaVersion); err != nil {
		return NewStorageError("sqlite", "insert_schema_version", err)
	}

	var version int
	err := s.db.QueryRow(GetSchemaVersion).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return NewStorageError("sqlite", "get_schema_version", err)
	}
	if version != SchemaVersion {
		return NewStorageError("sqlite", "schema_version_mismatch",
			fmt.Errorf("expected schema version %d, got %d", SchemaVersion, version))
	}

	return nil
}

// Store persists an audit record.
func (s *SQLiteStorage) Store(ctx context.Context, record *Record) error {
	detail, err := json.Marshal(record.Detail)
	if err != nil {
		return NewStorageError("sqlite", "marshal_detail", err)
	}

	query := `
		INSERT INTO audit_records (
			id, event_type, run_id, context_id, context_type,
			rule_name, action_name, success, detail, recorded_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		record.ID,
		string(record.EventType),
		nullable(record.RunID),
		nullable(record.ContextID),
		nullable(record.ContextType),
		nullable(record.RuleName),
		nullable(record.ActionName),
		boolToInt(record.Success),
		string(detail),
		record.RecordedAt.UTC(),
	)
	if err != nil {
		return NewStorageError("sqlite", "store", err)
	}
	return nil
}

// Query returns records matching the query, newest first.
func (s *SQLiteStorage) Query(ctx context.Context, query *Query) ([]*Record, error) {
	if query == nil {
		query = &Query{}
	}

	where, args := buildWhere(query)
	sqlQuery := `
		SELECT id, event_type, run_id, context_id, context_type,
		       rule_name, action_name, success, detail, recorded_at
		FROM audit_records
	` + where + " ORDER BY recorded_at DESC"

	if query.Limit > 0 {
		sqlQuery += fmt.Sprintf(" LIMIT %d", query.Limit)
	}

	rows, err := s.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, NewStorageError("sqlite", "scan", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, NewStorageError("sqlite", "query", err)
	}
	return records, nil
}

// Count returns the number of records matching the query.
func (s *SQLiteStorage) Count(ctx context.Context, query *Query) (int64, error) {
	if query == nil {
		query = &Query{}
	}

	where, args := buildWhere(query)
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records"+where, args...).Scan(&count)
	if err != nil {
		return 0, NewStorageError("sqlite", "count", err)
	}
	return count, nil
}

// Delete removes records matching the query.
func (s *SQLiteStorage) Delete(ctx context.Context, query *Query) (int64, error) {
	if query == nil {
		query = &Query{}
	}

	where, args := buildWhere(query)
	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_records"+where, args...)
	if err != nil {
		return 0, NewStorageError("sqlite", "delete", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, NewStorageError("sqlite", "rows_affected", err)
	}
	return deleted, nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// buildWhere constructs the WHERE clause and arguments for a query.
func buildWhere(query *Query) (string, []interface{}) {
	var clauses []string
	var args []interface{}

	if query.RunID != "" {
		clauses = append(clauses, "run_id = ?")
		args = append(args, query.RunID)
	}
	if query.RuleName != "" {
		clauses = append(clauses, "rule_name = ?")
		args = append(args, query.RuleName)
	}
	if query.EventType != "" {
		clauses = append(clauses, "event_type = ?")
		args = append(args, string(query.EventType))
	}
	if query.StartTime != nil {
		clauses = append(clauses, "recorded_at >= ?")
		args = append(args, query.StartTime.UTC())
	}
	if query.EndTime != nil {
		clauses = append(clauses, "recorded_at <= ?")
		args = append(args, query.EndTime.UTC())
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord decodes a database row into a Record.
func scanRecord(row rowScanner) (*Record, error) {
	var (
		record      Record
		eventType   string
		runID       sql.NullString
		contextID   sql.NullString
		contextType sql.NullString
		ruleName    sql.NullString
		actionName  sql.NullString
		success     int
		detail      sql.NullString
	)

	err := row.Scan(
		&record.ID,
		&eventType,
		&runID,
		&contextID,
		&contextType,
		&ruleName,
		&actionName,
		&success,
		&detail,
		&record.RecordedAt,
	)
	if err != nil {
		return nil, err
	}

	record.EventType = EventType(eventType)
	record.RunID = runID.String
	record.ContextID = contextID.String
	record.ContextType = contextType.String
	record.RuleName = ruleName.String
	record.ActionName = actionName.String
	record.Success = success != 0

	if detail.Valid && detail.String != "" && detail.String != "null" {
		if err := json.Unmarshal([]byte(detail.String), &record.Detail); err != nil {
			return nil, err
		}
	}

	return &record, nil
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
