package ledger

// InsertAuditRecord preserves a rejected group or inconsistent record
// for operator inspection.
func (s *Store) InsertAuditRecord(kind, payload string) error {
	_, err := s.conn.Exec(
		"INSERT INTO audit_records (kind, payload) VALUES (?, ?)", kind, payload,
	)
	return err
}

// AuditRecords returns the most recent audit records of a kind, newest
// first, up to limit.
func (s *Store) AuditRecords(kind string, limit int) ([]AuditRecord, error) {
	rows, err := s.conn.Query(
		`SELECT id, kind, payload, recorded_at FROM audit_records
		 WHERE kind = ? ORDER BY id DESC LIMIT ?`, kind, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		if err := rows.Scan(&r.ID, &r.Kind, &r.Payload, &r.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
