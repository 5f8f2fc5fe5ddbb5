package ledger

import (
	"database/sql"
	"time"
)

// HasDispatch reports whether an alert of this type (original or
// upgrade re-issue) was already created for the fingerprint. FAILED
// dispatches count: a failed delivery is never requeued.
func (s *Store) HasDispatch(fingerprint, alertType string, upgrade bool) (bool, error) {
	var n int
	err := s.conn.QueryRow(
		"SELECT COUNT(*) FROM dispatches WHERE fingerprint = ? AND alert_type = ? AND upgrade = ?",
		fingerprint, alertType, boolInt(upgrade),
	).Scan(&n)
	return n > 0, err
}

// InsertDispatch records a pending alert before delivery is attempted.
// Returns false if the (fingerprint, alert_type, upgrade) slot is
// already taken, which keeps re-processing a cycle idempotent. Any
// other store failure is returned as an error, never as a taken slot.
func (s *Store) InsertDispatch(d Dispatch) (bool, error) {
	res, err := s.conn.Exec(
		`INSERT OR IGNORE INTO dispatches (id, fingerprint, alert_type, severity, upgrade, status, title, body)
		 VALUES (?, ?, ?, ?, ?, 'PENDING', ?, ?)`,
		d.ID, d.Fingerprint, d.AlertType, d.Severity, boolInt(d.Upgrade), d.Title, d.Body,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkDispatch records the terminal (or retried) delivery state.
func (s *Store) MarkDispatch(id, status string, attempts int) error {
	_, err := s.conn.Exec(
		"UPDATE dispatches SET status = ?, attempts = ?, last_attempt = ? WHERE id = ?",
		status, attempts, time.Now().UTC().Format(time.RFC3339), id,
	)
	return err
}

// RecentDispatches returns dispatches created within the last N days,
// newest first.
func (s *Store) RecentDispatches(days int) ([]Dispatch, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format("2006-01-02 15:04:05")
	rows, err := s.conn.Query(
		`SELECT id, fingerprint, alert_type, severity, upgrade, status, attempts,
		 last_attempt, title, body, created_at
		 FROM dispatches WHERE created_at >= ? ORDER BY created_at DESC`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanDispatches(rows)
}

func scanDispatches(rows *sql.Rows) ([]Dispatch, error) {
	var out []Dispatch
	for rows.Next() {
		var d Dispatch
		var upgrade int
		if err := rows.Scan(&d.ID, &d.Fingerprint, &d.AlertType, &d.Severity, &upgrade,
			&d.Status, &d.Attempts, &d.LastAttempt, &d.Title, &d.Body, &d.CreatedAt); err != nil {
			return nil, err
		}
		d.Upgrade = upgrade != 0
		out = append(out, d)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
