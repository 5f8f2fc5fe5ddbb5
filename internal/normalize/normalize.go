// Package normalize canonicalizes provider records: validation,
// monetary back-filling, and internal consistency checks. Per-record
// failures are counted, never fatal.
package normalize

import (
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jfkirchner/insiderwatch/internal/source"
)

// Result holds the counters of a normalization run.
type Result struct {
	Input        int
	Valid        int
	Malformed    int
	Inconsistent int
}

// Normalizer maps raw provider records into the canonical record shape.
type Normalizer struct {
	valueTolerance decimal.Decimal // relative, e.g. 0.01 for 1%
}

// New creates a Normalizer. valueTolerancePct is the max relative
// disagreement between a record's own price*shares and its reported
// total before it is flagged inconsistent.
func New(valueTolerancePct float64) *Normalizer {
	if valueTolerancePct <= 0 {
		valueTolerancePct = 1
	}
	return &Normalizer{
		valueTolerance: decimal.NewFromFloat(valueTolerancePct / 100),
	}
}

// Normalize validates and canonicalizes all records. Malformed records
// are dropped and counted; internally inconsistent records are returned
// separately so they can be audited without entering grouping.
func (n *Normalizer) Normalize(records []source.RawRecord) (valid, inconsistent []source.RawRecord, res *Result) {
	res = &Result{Input: len(records)}

	for _, rec := range records {
		rec.Issuer = strings.ToUpper(strings.TrimSpace(rec.Issuer))
		rec.Insider = collapseWhitespace(rec.Insider)
		rec.IssuerName = collapseWhitespace(rec.IssuerName)
		rec.Role = collapseWhitespace(rec.Role)

		if rec.Issuer == "" || rec.Insider == "" || rec.Shares <= 0 || !validDate(rec.TxDate) {
			res.Malformed++
			log.Printf("normalize: dropping malformed record from %s (ref %s)", rec.Source, rec.Ref)
			continue
		}

		rec, ok := n.fillMonetary(rec)
		if !ok {
			res.Inconsistent++
			inconsistent = append(inconsistent, rec)
			continue
		}

		res.Valid++
		valid = append(valid, rec)
	}

	return valid, inconsistent, res
}

// fillMonetary back-fills price or total value when only one is
// present, and reports false when both are present but contradict each
// other beyond tolerance.
func (n *Normalizer) fillMonetary(rec source.RawRecord) (source.RawRecord, bool) {
	shares := decimal.NewFromInt(rec.Shares)

	hasPrice := rec.Price.IsPositive()
	hasValue := rec.Value.IsPositive()

	switch {
	case hasPrice && hasValue:
		implied := rec.Price.Mul(shares)
		diff := implied.Sub(rec.Value).Abs()
		if diff.GreaterThan(rec.Value.Mul(n.valueTolerance)) {
			return rec, false
		}
	case hasPrice:
		rec.Value = rec.Price.Mul(shares)
	case hasValue:
		rec.Price = rec.Value.DivRound(shares, 4)
	default:
		// Neither price nor value: keep the record; share count alone
		// still corroborates, and rules that need value won't fire.
	}

	return rec, true
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func validDate(s string) bool {
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}
