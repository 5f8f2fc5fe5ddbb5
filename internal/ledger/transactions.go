package ledger

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jfkirchner/insiderwatch/internal/verify"
)

// AcceptResult describes the outcome of offering a transaction to the
// ledger.
type AcceptResult struct {
	IsNew    bool
	Upgraded bool // LIMITED_DATA row promoted to VERIFIED in place
	Status   verify.Status
}

// Accept offers a reconciled transaction to the ledger. A new
// fingerprint is inserted and reported as new. An existing LIMITED_DATA
// entry offered a VERIFIED view of the same fingerprint is upgraded in
// place, appending the newly agreeing sources; the dispatch history is
// never touched. An equal-or-better stored status is a no-op.
// REJECTED transactions are never accepted.
func (s *Store) Accept(tx verify.Transaction) (AcceptResult, error) {
	if tx.Status == verify.StatusRejected {
		return AcceptResult{}, fmt.Errorf("rejected transaction %s offered to ledger", tx.Fingerprint)
	}

	var (
		stored  string
		sources string
	)
	err := s.conn.QueryRow(
		"SELECT status, sources FROM transactions WHERE fingerprint = ?", tx.Fingerprint,
	).Scan(&stored, &sources)

	switch {
	case err == sql.ErrNoRows:
		if err := s.insertTransaction(tx); err != nil {
			return AcceptResult{}, fmt.Errorf("accepting %s: %w", tx.Fingerprint, err)
		}
		return AcceptResult{IsNew: true, Status: tx.Status}, nil

	case err != nil:
		return AcceptResult{}, fmt.Errorf("looking up %s: %w", tx.Fingerprint, err)
	}

	if stored == string(verify.StatusLimitedData) && tx.Status == verify.StatusVerified {
		merged := mergeSources(sources, tx.Sources)
		_, err := s.conn.Exec(
			"UPDATE transactions SET status = ?, score = ?, sources = ? WHERE fingerprint = ?",
			string(verify.StatusVerified), tx.Score, merged, tx.Fingerprint,
		)
		if err != nil {
			return AcceptResult{}, fmt.Errorf("upgrading %s: %w", tx.Fingerprint, err)
		}
		return AcceptResult{Upgraded: true, Status: verify.StatusVerified}, nil
	}

	return AcceptResult{Status: verify.Status(stored)}, nil
}

func (s *Store) insertTransaction(tx verify.Transaction) error {
	_, err := s.conn.Exec(
		`INSERT INTO transactions
		(fingerprint, issuer, issuer_name, insider, role, tx_type, tx_date,
		 filing_date, filing_ref, price, shares, total_value, sources, score, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.Fingerprint, tx.Issuer, tx.IssuerName, tx.Insider, tx.Role,
		string(tx.Type), tx.TxDate, tx.FilingDate, tx.Ref,
		tx.Price.String(), tx.Shares, tx.Value.String(),
		strings.Join(tx.Sources, ","), tx.Score, string(tx.Status),
	)
	return err
}

// GetEntry returns the ledger entry for a fingerprint, or nil if absent.
func (s *Store) GetEntry(fingerprint string) (*Entry, error) {
	row := s.conn.QueryRow(
		`SELECT fingerprint, issuer, issuer_name, insider, role, tx_type, tx_date,
		 filing_date, filing_ref, price, shares, total_value, sources, score, status, first_seen
		 FROM transactions WHERE fingerprint = ?`, fingerprint,
	)

	var e Entry
	var sources string
	err := row.Scan(&e.Fingerprint, &e.Issuer, &e.IssuerName, &e.Insider, &e.Role,
		&e.TxType, &e.TxDate, &e.FilingDate, &e.FilingRef, &e.Price, &e.Shares,
		&e.TotalValue, &sources, &e.Score, &e.Status, &e.FirstSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.Sources = splitSources(sources)
	return &e, nil
}

// DistinctBuyers returns the distinct insider names with accepted buy
// transactions at an issuer on or after sinceDate (YYYY-MM-DD).
// Distinctness folds name casing and spacing, keeping one display name
// per person.
func (s *Store) DistinctBuyers(issuer, sinceDate string) ([]string, error) {
	rows, err := s.conn.Query(
		`SELECT insider FROM transactions
		 WHERE issuer = ? AND tx_type = 'buy' AND tx_date >= ?
		 ORDER BY insider`, issuer, sinceDate,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	seen := make(map[string]struct{})
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		key := verify.InsiderKey(name)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		names = append(names, name)
	}
	return names, rows.Err()
}

// SellingActivity returns the distinct sellers and summed sale value at
// an issuer on or after sinceDate.
func (s *Store) SellingActivity(issuer, sinceDate string) (sellers []string, total decimal.Decimal, err error) {
	rows, err := s.conn.Query(
		`SELECT insider, total_value FROM transactions
		 WHERE issuer = ? AND tx_type = 'sell' AND tx_date >= ?`, issuer, sinceDate,
	)
	if err != nil {
		return nil, decimal.Zero, err
	}
	defer rows.Close()

	seen := make(map[string]string)
	total = decimal.Zero
	for rows.Next() {
		var insider, value string
		if err := rows.Scan(&insider, &value); err != nil {
			return nil, decimal.Zero, err
		}
		key := verify.InsiderKey(insider)
		if _, ok := seen[key]; !ok {
			seen[key] = insider
		}
		if v, err := decimal.NewFromString(value); err == nil {
			total = total.Add(v)
		}
	}
	for _, name := range seen {
		sellers = append(sellers, name)
	}
	sort.Strings(sellers)
	return sellers, total, rows.Err()
}

// mergeSources merges a stored comma-separated source list with newly
// agreeing sources, sorted and de-duplicated.
func mergeSources(stored string, added []string) string {
	seen := make(map[string]struct{})
	for _, name := range splitSources(stored) {
		seen[name] = struct{}{}
	}
	for _, name := range added {
		seen[name] = struct{}{}
	}
	merged := make([]string, 0, len(seen))
	for name := range seen {
		merged = append(merged, name)
	}
	sort.Strings(merged)
	return strings.Join(merged, ",")
}

func splitSources(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}
