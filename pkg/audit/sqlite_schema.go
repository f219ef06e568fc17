package audit

// SchemaVersion is the current audit database schema version.
const SchemaVersion = 1

// Schema defines the audit database tables and indexes.
const Schema = `
CREATE TABLE IF NOT EXISTS audit_records (
	id           TEXT PRIMARY KEY,
	event_type   TEXT NOT NULL,
	run_id       TEXT,
	context_id   TEXT,
	context_type TEXT,
	rule_name    TEXT,
	action_name  TEXT,
	success      INTEGER NOT NULL,
	detail       TEXT,
	recorded_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_audit_run_id      ON audit_records(run_id);
CREATE INDEX IF NOT EXISTS idx_audit_rule_name   ON audit_records(rule_name);
CREATE INDEX IF NOT EXISTS idx_audit_event_type  ON audit_records(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_recorded_at ON audit_records(recorded_at);

CREATE TABLE IF NOT EXISTS schema_version (
	version    INTEGER PRIMARY KEY,
	applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// InsertSchemaVersion records the schema version after initialization.
const InsertSchemaVersion = `
INSERT OR IGNORE INTO schema_version (version) VALUES (?);
`

// GetSchemaVersion retrieves the latest applied schema version.
const GetSchemaVersion = `
SELECT version FROM schema_version ORDER BY version DESC LIMIT 1;
`
