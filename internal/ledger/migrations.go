package ledger

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS transactions (
    fingerprint TEXT PRIMARY KEY,
    issuer TEXT NOT NULL,
    issuer_name TEXT,
    insider TEXT NOT NULL,
    role TEXT,
    tx_type TEXT NOT NULL,
    tx_date TEXT NOT NULL,
    filing_date TEXT,
    filing_ref TEXT,
    price TEXT NOT NULL,
    shares INTEGER NOT NULL,
    total_value TEXT NOT NULL,
    sources TEXT NOT NULL,
    score REAL NOT NULL,
    status TEXT NOT NULL CHECK(status IN ('VERIFIED', 'LIMITED_DATA')),
    first_seen TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS dispatches (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL REFERENCES transactions(fingerprint),
    alert_type TEXT NOT NULL,
    severity TEXT NOT NULL,
    upgrade INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL CHECK(status IN ('PENDING', 'SENT', 'FAILED')),
    attempts INTEGER DEFAULT 0,
    last_attempt TEXT,
    title TEXT,
    body TEXT,
    created_at TEXT DEFAULT (datetime('now')),
    UNIQUE(fingerprint, alert_type, upgrade)
);

CREATE TABLE IF NOT EXISTS audit_records (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    kind TEXT NOT NULL CHECK(kind IN ('inconsistent_record', 'rejected_group')),
    payload TEXT NOT NULL,
    recorded_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS cycle_reports (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    sources_available INTEGER DEFAULT 0,
    fetched INTEGER DEFAULT 0,
    malformed INTEGER DEFAULT 0,
    inconsistent INTEGER DEFAULT 0,
    groups INTEGER DEFAULT 0,
    verified INTEGER DEFAULT 0,
    limited INTEGER DEFAULT 0,
    rejected INTEGER DEFAULT 0,
    new_transactions INTEGER DEFAULT 0,
    upgrades INTEGER DEFAULT 0,
    alerts INTEGER DEFAULT 0,
    sent INTEGER DEFAULT 0,
    failed INTEGER DEFAULT 0,
    degraded INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_issuer_date ON transactions(issuer, tx_date);
CREATE INDEX IF NOT EXISTS idx_dispatches_fingerprint ON dispatches(fingerprint);
CREATE INDEX IF NOT EXISTS idx_dispatches_created ON dispatches(created_at);
CREATE INDEX IF NOT EXISTS idx_audit_kind ON audit_records(kind);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
