// Package store is the relational persistence layer: transactions,
// upsert-on-conflict, JSON columns and partial unique indexes over an
// embedded modernc.org/sqlite database.
package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Store wraps a single sqlite database handle shared by every
// table-group file in this package (alerts.go, mappings.go, ...).
type Store struct {
	db     *sql.DB
	dbPath string
}

// Open creates (if needed) and migrates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite: serialize writers, avoid SQLITE_BUSY under our own goroutines
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	s := &Store{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate %q: %w", path, err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for callers (e.g. tests) that need
// to seed rows directly.
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS system_alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	fingerprint TEXT NOT NULL,
	source_system TEXT NOT NULL,
	source_alert_id TEXT NOT NULL DEFAULT '',
	device_ip TEXT NOT NULL DEFAULT '',
	device_name TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	category TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME NOT NULL,
	raw_data BLOB,
	status TEXT NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 1,
	triggered_at DATETIME NOT NULL,
	last_seen_at DATETIME NOT NULL,
	acknowledged_at DATETIME,
	acknowledged_by TEXT,
	resolved_at DATETIME,
	expires_at DATETIME,
	rule_id INTEGER
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_system_alerts_fingerprint_active
	ON system_alerts(fingerprint)
	WHERE status IN ('active', 'acknowledged');

CREATE TABLE IF NOT EXISTS alert_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	original_id INTEGER,
	fingerprint TEXT NOT NULL,
	source_system TEXT NOT NULL,
	source_alert_id TEXT NOT NULL DEFAULT '',
	device_ip TEXT NOT NULL DEFAULT '',
	device_name TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL,
	category TEXT NOT NULL,
	alert_type TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	occurred_at DATETIME NOT NULL,
	raw_data BLOB,
	status TEXT NOT NULL,
	occurrence_count INTEGER NOT NULL DEFAULT 1,
	triggered_at DATETIME NOT NULL,
	last_seen_at DATETIME NOT NULL,
	acknowledged_at DATETIME,
	acknowledged_by TEXT,
	resolved_at DATETIME,
	expires_at DATETIME,
	rule_id INTEGER
);
CREATE INDEX IF NOT EXISTS idx_alert_history_rule_id ON alert_history(rule_id, triggered_at);

CREATE TABLE IF NOT EXISTS alert_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL UNIQUE,
	enabled INTEGER NOT NULL DEFAULT 1,
	severity TEXT NOT NULL,
	category TEXT NOT NULL,
	condition_type TEXT NOT NULL,
	condition_config TEXT NOT NULL DEFAULT '{}',
	cooldown_minutes INTEGER NOT NULL DEFAULT 15,
	auto_resolve_acknowledged INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS severity_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connector_type TEXT NOT NULL,
	source_field TEXT NOT NULL,
	source_value TEXT NOT NULL,
	target_severity TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_severity_mappings_lookup
	ON severity_mappings(connector_type, source_field, source_value);

CREATE TABLE IF NOT EXISTS category_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connector_type TEXT NOT NULL,
	source_field TEXT NOT NULL,
	source_value TEXT NOT NULL,
	target_category TEXT NOT NULL,
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_category_mappings_lookup
	ON category_mappings(connector_type, source_field, source_value);

CREATE TABLE IF NOT EXISTS snmp_trap_mappings (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trap_oid TEXT NOT NULL,
	alert_type TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'warning',
	category TEXT NOT NULL DEFAULT 'network',
	is_clear INTEGER NOT NULL DEFAULT 0,
	correlation_key TEXT NOT NULL DEFAULT '',
	vendor TEXT NOT NULL DEFAULT 'generic',
	description TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL DEFAULT 0,
	enabled INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_snmp_trap_mappings_oid ON snmp_trap_mappings(trap_oid);

CREATE TABLE IF NOT EXISTS notification_channels (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	channel_type TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	enabled INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS notification_rules (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	enabled INTEGER NOT NULL DEFAULT 1,
	trigger_type TEXT NOT NULL DEFAULT 'alert',
	severity_filter TEXT,
	category_filter TEXT,
	channel_ids TEXT NOT NULL DEFAULT '[]'
);

CREATE TABLE IF NOT EXISTS notification_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alert_id INTEGER NOT NULL,
	channel_id INTEGER NOT NULL,
	status TEXT NOT NULL,
	error_message TEXT,
	sent_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scheduler_jobs (
	name TEXT PRIMARY KEY,
	task_name TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	schedule_type TEXT NOT NULL DEFAULT 'interval',
	interval_seconds INTEGER,
	cron_expression TEXT,
	enabled INTEGER NOT NULL DEFAULT 1,
	start_at DATETIME,
	end_at DATETIME,
	max_runs INTEGER,
	run_count INTEGER NOT NULL DEFAULT 0,
	last_run_at DATETIME,
	next_run_at DATETIME,
	job_definition_id INTEGER
);

CREATE TABLE IF NOT EXISTS scheduler_job_executions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	job_name TEXT NOT NULL,
	task_name TEXT NOT NULL,
	task_id TEXT NOT NULL UNIQUE,
	status TEXT NOT NULL DEFAULT 'queued',
	created_at DATETIME NOT NULL,
	started_at DATETIME,
	finished_at DATETIME,
	result TEXT,
	error_message TEXT,
	worker TEXT,
	triggered_by TEXT,
	progress TEXT NOT NULL DEFAULT '{"steps":[],"percent":0}'
);
CREATE INDEX IF NOT EXISTS idx_executions_job_name ON scheduler_job_executions(job_name, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_executions_status ON scheduler_job_executions(status);

CREATE TABLE IF NOT EXISTS trap_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	received_at DATETIME NOT NULL,
	source_ip TEXT NOT NULL,
	trap_oid TEXT NOT NULL,
	raw_varbinds TEXT NOT NULL DEFAULT '{}',
	event_id INTEGER
);

CREATE TABLE IF NOT EXISTS trap_events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	alarm_id TEXT NOT NULL,
	source_ip TEXT NOT NULL,
	vendor TEXT NOT NULL DEFAULT 'generic',
	event_type TEXT NOT NULL DEFAULT '',
	severity TEXT NOT NULL DEFAULT 'warning',
	object_type TEXT NOT NULL DEFAULT '',
	object_id TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	is_clear INTEGER NOT NULL DEFAULT 0,
	cleared_event_id INTEGER,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trap_events_alarm ON trap_events(alarm_id, cleared_event_id);

CREATE TABLE IF NOT EXISTS trap_receiver_status (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	traps_received INTEGER NOT NULL DEFAULT 0,
	traps_processed INTEGER NOT NULL DEFAULT 0,
	traps_errors INTEGER NOT NULL DEFAULT 0,
	traps_unmapped INTEGER NOT NULL DEFAULT 0,
	queue_depth INTEGER NOT NULL DEFAULT 0,
	last_trap_at DATETIME,
	is_running INTEGER NOT NULL DEFAULT 0,
	updated_at DATETIME
);

CREATE TABLE IF NOT EXISTS connectors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	connector_type TEXT NOT NULL,
	config TEXT NOT NULL DEFAULT '{}',
	enabled INTEGER NOT NULL DEFAULT 1,
	status TEXT NOT NULL DEFAULT 'disconnected',
	last_poll_at DATETIME,
	alerts_received INTEGER NOT NULL DEFAULT 0,
	last_error TEXT
);

CREATE TABLE IF NOT EXISTS system_logs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	level TEXT NOT NULL,
	message TEXT NOT NULL,
	logged_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_system_logs_level_time ON system_logs(level, logged_at);
`

func (s *Store) migrate() error {
	_, err := s.db.Exec(schema)
	return err
}
