package ledger

import "database/sql"

// InsertCycleReport records the per-stage counters of a finished cycle.
func (s *Store) InsertCycleReport(r CycleReport) error {
	_, err := s.conn.Exec(
		`INSERT INTO cycle_reports
		(started_at, finished_at, sources_available, fetched, malformed, inconsistent,
		 groups, verified, limited, rejected, new_transactions, upgrades, alerts, sent, failed, degraded)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.StartedAt, r.FinishedAt, r.SourcesAvailable, r.Fetched, r.Malformed,
		r.Inconsistent, r.Groups, r.Verified, r.Limited, r.Rejected,
		r.NewTransactions, r.Upgrades, r.Alerts, r.Sent, r.Failed, boolInt(r.Degraded),
	)
	return err
}

// LastCycleReport returns the most recent cycle report, or nil if none.
func (s *Store) LastCycleReport() (*CycleReport, error) {
	row := s.conn.QueryRow(
		`SELECT id, started_at, finished_at, sources_available, fetched, malformed,
		 inconsistent, groups, verified, limited, rejected, new_transactions,
		 upgrades, alerts, sent, failed, degraded
		 FROM cycle_reports ORDER BY id DESC LIMIT 1`,
	)

	var r CycleReport
	var degraded int
	err := row.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.SourcesAvailable,
		&r.Fetched, &r.Malformed, &r.Inconsistent, &r.Groups, &r.Verified,
		&r.Limited, &r.Rejected, &r.NewTransactions, &r.Upgrades, &r.Alerts,
		&r.Sent, &r.Failed, &degraded)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	r.Degraded = degraded != 0
	return &r, nil
}

// GetStats returns aggregate ledger statistics.
func (s *Store) GetStats() (*Stats, error) {
	stats := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM transactions", &stats.TotalTransactions},
		{"SELECT COUNT(*) FROM transactions WHERE status = 'VERIFIED'", &stats.Verified},
		{"SELECT COUNT(*) FROM transactions WHERE status = 'LIMITED_DATA'", &stats.Limited},
		{"SELECT COUNT(*) FROM dispatches WHERE status = 'SENT'", &stats.DispatchesSent},
		{"SELECT COUNT(*) FROM dispatches WHERE status = 'FAILED'", &stats.DispatchesFailed},
		{"SELECT COUNT(*) FROM dispatches WHERE status = 'PENDING'", &stats.DispatchesPending},
		{"SELECT COUNT(*) FROM audit_records", &stats.AuditRecords},
		{"SELECT COUNT(*) FROM cycle_reports", &stats.Cycles},
		{"SELECT COUNT(*) FROM cycle_reports WHERE degraded = 1", &stats.DegradedCycles},
	}

	for _, q := range queries {
		if err := s.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return stats, nil
}
