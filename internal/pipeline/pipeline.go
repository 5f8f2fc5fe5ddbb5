// Package pipeline drives one polling cycle: fetch, normalize, verify,
// dedup, classify, dispatch. Stages run sequentially over the merged
// fetch results; only source fetches run concurrently.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/jfkirchner/insiderwatch/internal/classify"
	"github.com/jfkirchner/insiderwatch/internal/config"
	"github.com/jfkirchner/insiderwatch/internal/dispatch"
	"github.com/jfkirchner/insiderwatch/internal/ledger"
	"github.com/jfkirchner/insiderwatch/internal/normalize"
	"github.com/jfkirchner/insiderwatch/internal/source"
	"github.com/jfkirchner/insiderwatch/internal/verify"
)

// initialLookback bounds the first cycle's since parameter: Form 4
// filings are due within two business days, so a week of history
// catches anything recent plus the clustered-buying window warmup.
const initialLookback = 7 * 24 * time.Hour

// fetchGrace widens subsequent cycles' since bound so records filed
// just before the previous fetch are never missed. Adapters are
// idempotent w.r.t. since, so overlap only costs dedup work.
const fetchGrace = 24 * time.Hour

// StepResult holds the result of a single pipeline stage.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of one full cycle.
type Result struct {
	Steps    []StepResult
	Report   ledger.CycleReport
	Degraded bool
}

// Pipeline orchestrates the six-stage alert cycle. It is not safe for
// concurrent cycles; the scheduler never overlaps them.
type Pipeline struct {
	cfg        *config.Config
	store      *ledger.Store
	adapters   []source.Adapter
	normalizer *normalize.Normalizer
	verifier   *verify.Verifier
	classifier *classify.Classifier
	dispatcher *dispatch.Dispatcher

	// carryover holds single-source records from the previous cycle so
	// a later-reporting provider can still corroborate them.
	carryover []source.RawRecord
	lastFetch time.Time
}

// New creates a pipeline over the given adapters and notification sink.
func New(cfg *config.Config, store *ledger.Store, adapters []source.Adapter, notifier dispatch.Notifier) *Pipeline {
	return &Pipeline{
		cfg:        cfg,
		store:      store,
		adapters:   adapters,
		normalizer: normalize.New(cfg.Verification.ValueTolerancePct),
		verifier:   verify.New(cfg.Verification, cfg.Sources.Priority),
		classifier: classify.New(store, cfg.Alerts),
		dispatcher: dispatch.New(store, notifier, cfg.Dispatch),
	}
}

// RunCycle executes one complete cycle. Per-record and per-group errors
// are isolated; only a fetch stage with zero available sources or a
// cancelled context ends a cycle early, and either way the cycle report
// is written.
func (p *Pipeline) RunCycle(ctx context.Context) *Result {
	r := &Result{}
	report := &r.Report
	report.StartedAt = time.Now().UTC().Format(time.RFC3339)

	// Stage 1: Fetch
	log.Println("Stage 1/6: Fetching candidate records...")
	since := p.sinceBound()
	fetchStart := time.Now()
	results := source.FetchAll(ctx, p.adapters, since, p.cfg.AdapterTimeout())

	report.SourcesAvailable = source.Available(results)
	records := p.mergeWithCarryover(results)
	report.Fetched = len(records)

	r.Steps = append(r.Steps, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("%d records from %d/%d sources", len(records), report.SourcesAvailable, len(p.adapters)),
	})

	if report.SourcesAvailable == 0 {
		r.Degraded = true
		report.Degraded = true
		log.Println("Degraded cycle: all sources unavailable")
		p.finishReport(report)
		return r
	}
	p.lastFetch = fetchStart

	if done := p.cancelled(ctx, r, report); done {
		return r
	}

	// Stage 2: Normalize
	log.Println("Stage 2/6: Normalizing records...")
	valid, inconsistent, nres := p.normalizer.Normalize(records)
	report.Malformed = nres.Malformed
	report.Inconsistent = nres.Inconsistent

	for _, rec := range inconsistent {
		p.audit("inconsistent_record", rec)
	}

	r.Steps = append(r.Steps, StepResult{
		Name:    "Normalize",
		Summary: fmt.Sprintf("%d valid, %d malformed, %d inconsistent", nres.Valid, nres.Malformed, nres.Inconsistent),
	})

	if done := p.cancelled(ctx, r, report); done {
		return r
	}

	// Stage 3: Verify
	log.Println("Stage 3/6: Clustering and scoring...")
	groups, vres := p.verifier.Verify(valid)
	report.Groups = vres.Groups
	report.Verified = vres.Verified
	report.Limited = vres.Limited
	report.Rejected = vres.Rejected

	r.Steps = append(r.Steps, StepResult{
		Name: "Verify",
		Summary: fmt.Sprintf("%d groups: %d verified, %d limited, %d rejected",
			vres.Groups, vres.Verified, vres.Limited, vres.Rejected),
	})

	if done := p.cancelled(ctx, r, report); done {
		return r
	}

	// Stage 4: Dedup against the ledger
	log.Println("Stage 4/6: Deduplicating against ledger...")
	accepted, nextCarryover := p.dedup(groups, report)
	p.carryover = nextCarryover

	r.Steps = append(r.Steps, StepResult{
		Name:    "Dedup",
		Summary: fmt.Sprintf("%d new, %d upgraded", report.NewTransactions, report.Upgrades),
	})

	if done := p.cancelled(ctx, r, report); done {
		return r
	}

	// Stage 5: Classify
	log.Println("Stage 5/6: Classifying...")
	var alerts []classify.Alert
	for _, a := range accepted {
		found, err := p.classifier.Classify(a.tx, a.upgraded)
		if err != nil {
			log.Printf("classify %s: %v", a.tx.Fingerprint, err)
			continue
		}
		alerts = append(alerts, found...)
	}
	report.Alerts = len(alerts)

	r.Steps = append(r.Steps, StepResult{
		Name:    "Classify",
		Summary: fmt.Sprintf("%d alerts from %d transactions", len(alerts), len(accepted)),
	})

	if done := p.cancelled(ctx, r, report); done {
		return r
	}

	// Stage 6: Dispatch
	log.Println("Stage 6/6: Dispatching alerts...")
	for _, alert := range alerts {
		res := p.dispatcher.Dispatch(ctx, alert)
		switch res.Status {
		case "SENT":
			report.Sent++
		case "FAILED":
			report.Failed++
			log.Printf("dispatch failed for alert %s (%s): %v", res.AlertID, alert.Type, res.Err)
		}
	}

	r.Steps = append(r.Steps, StepResult{
		Name:    "Dispatch",
		Summary: fmt.Sprintf("%d sent, %d failed", report.Sent, report.Failed),
	})

	p.finishReport(report)
	log.Printf("Cycle complete: %d new transactions, %d alerts sent", report.NewTransactions, report.Sent)
	return r
}

type acceptedTx struct {
	tx       verify.Transaction
	upgraded bool
}

// dedup offers every non-rejected group to the ledger. Rejected groups
// are audited. Groups that stay single-source carry over one cycle for
// late corroboration, as do groups whose acceptance failed (the store
// hiccup must not lose the event).
func (p *Pipeline) dedup(groups []verify.Group, report *ledger.CycleReport) (accepted []acceptedTx, nextCarryover []source.RawRecord) {
	for _, g := range groups {
		tx := g.Transaction

		if tx.Status == verify.StatusRejected {
			p.audit("rejected_group", g.Records)
			continue
		}

		res, err := p.store.Accept(tx)
		if err != nil {
			log.Printf("ledger accept %s: %v", tx.Fingerprint, err)
			nextCarryover = append(nextCarryover, g.Records...)
			continue
		}

		if tx.Status == verify.StatusLimitedData {
			nextCarryover = append(nextCarryover, g.Records...)
		}

		switch {
		case res.IsNew:
			report.NewTransactions++
			accepted = append(accepted, acceptedTx{tx: tx})
		case res.Upgraded:
			report.Upgrades++
			accepted = append(accepted, acceptedTx{tx: tx, upgraded: true})
		}
	}
	return accepted, nextCarryover
}

// mergeWithCarryover merges fresh fetch results with last cycle's
// unresolved single-source records, de-duplicated by source identity.
func (p *Pipeline) mergeWithCarryover(results []source.FetchResult) []source.RawRecord {
	seen := make(map[string]struct{})
	var merged []source.RawRecord

	add := func(rec source.RawRecord) {
		key := fmt.Sprintf("%s|%s|%s|%s|%d|%s|%s",
			rec.Source, rec.Ref, rec.Insider, rec.TxDate, rec.Shares, rec.Price.String(), rec.Type)
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		merged = append(merged, rec)
	}

	for _, res := range results {
		for _, rec := range res.Records {
			add(rec)
		}
	}
	for _, rec := range p.carryover {
		add(rec)
	}
	return merged
}

func (p *Pipeline) sinceBound() time.Time {
	if p.lastFetch.IsZero() {
		return time.Now().Add(-initialLookback)
	}
	return p.lastFetch.Add(-fetchGrace)
}

func (p *Pipeline) audit(kind string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("audit %s: encoding payload: %v", kind, err)
		return
	}
	if err := p.store.InsertAuditRecord(kind, string(data)); err != nil {
		log.Printf("audit %s: %v", kind, err)
	}
}

// cancelled ends the cycle early on context cancellation, writing the
// report for whatever completed. Ledger entries already accepted stay
// committed; nothing half-written remains.
func (p *Pipeline) cancelled(ctx context.Context, r *Result, report *ledger.CycleReport) bool {
	if ctx.Err() == nil {
		return false
	}
	r.Steps = append(r.Steps, StepResult{Name: "Cancelled", Err: ctx.Err()})
	p.finishReport(report)
	return true
}

func (p *Pipeline) finishReport(report *ledger.CycleReport) {
	now := time.Now().UTC().Format(time.RFC3339)
	report.FinishedAt = &now
	if err := p.store.InsertCycleReport(*report); err != nil {
		log.Printf("recording cycle report: %v", err)
	}
}
