package source

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// TxType classifies an insider transaction.
type TxType string

const (
	TypeBuy            TxType = "buy"
	TypeSell           TxType = "sell"
	TypeOptionExercise TxType = "option-exercise"
	TypeOther          TxType = "other"
)

// Outcome describes the result of an adapter fetch.
type Outcome string

const (
	// OutcomeOK means the adapter returned a complete result set.
	OutcomeOK Outcome = "OK"
	// OutcomePartial means some records may be missing but what was
	// returned is trustworthy.
	OutcomePartial Outcome = "PARTIAL"
	// OutcomeUnavailable means the source could not be reached; no
	// records are returned.
	OutcomeUnavailable Outcome = "UNAVAILABLE"
)

// RawRecord is a provider-reported insider transaction before
// normalization. It is owned by the normalizer until converted.
type RawRecord struct {
	Source     string // adapter name, e.g. "sec-edgar"
	Ref        string // source-native reference, e.g. filing accession number
	Issuer     string // ticker symbol
	IssuerName string
	Insider    string
	Role       string
	Type       TxType
	TxDate     string // YYYY-MM-DD
	FilingDate string // YYYY-MM-DD, may be empty
	Price      decimal.Decimal // per share; zero when the source omits it
	Shares     int64
	Value      decimal.Decimal // total value; zero when the source omits it
	FetchedAt  time.Time
}

// Adapter fetches candidate records from one provider. Implementations
// must be idempotent with respect to since: calling twice with the same
// lower bound returns a superset-compatible result.
type Adapter interface {
	Name() string
	Fetch(ctx context.Context, since time.Time) ([]RawRecord, Outcome, error)
}

// FetchResult is the outcome of one adapter's fetch within a cycle.
type FetchResult struct {
	Source  string
	Records []RawRecord
	Outcome Outcome
	Err     error
	Elapsed time.Duration
}

// FetchAll runs every adapter concurrently, each under its own timeout.
// A failing or timed-out adapter is reported UNAVAILABLE and never
// blocks the others.
func FetchAll(ctx context.Context, adapters []Adapter, since time.Time, timeout time.Duration) []FetchResult {
	results := make([]FetchResult, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, a Adapter) {
			defer wg.Done()
			start := time.Now()

			fetchCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			records, outcome, err := a.Fetch(fetchCtx, since)
			if fetchCtx.Err() != nil && outcome != OutcomeUnavailable {
				// Timed-out adapters count as unreachable for this cycle.
				records, outcome, err = nil, OutcomeUnavailable, fetchCtx.Err()
			}

			results[i] = FetchResult{
				Source:  a.Name(),
				Records: records,
				Outcome: outcome,
				Err:     err,
				Elapsed: time.Since(start),
			}
		}(i, a)
	}
	wg.Wait()

	for _, r := range results {
		if r.Err != nil {
			log.Printf("source %s: %s after %s: %v", r.Source, r.Outcome, r.Elapsed.Round(time.Millisecond), r.Err)
		} else {
			log.Printf("source %s: %d records (%s) in %s", r.Source, len(r.Records), r.Outcome, r.Elapsed.Round(time.Millisecond))
		}
	}

	return results
}

// Merge flattens fetch results into a single candidate list, dropping
// nothing: normalization and verification decide what survives.
func Merge(results []FetchResult) []RawRecord {
	var all []RawRecord
	for _, r := range results {
		all = append(all, r.Records...)
	}
	return all
}

// Available counts adapters that returned any usable result this cycle.
func Available(results []FetchResult) int {
	n := 0
	for _, r := range results {
		if r.Outcome != OutcomeUnavailable {
			n++
		}
	}
	return n
}
