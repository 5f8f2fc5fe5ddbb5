package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jfkirchner/insiderwatch/internal/config"
	"github.com/jfkirchner/insiderwatch/internal/ledger"
	"github.com/jfkirchner/insiderwatch/internal/source"
	"github.com/jfkirchner/insiderwatch/internal/verify"
)

// stubAdapter serves a fixed record set; records can be swapped between
// cycles to simulate a source catching up.
type stubAdapter struct {
	name    string
	records []source.RawRecord
	outcome source.Outcome
	err     error
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Fetch(_ context.Context, _ time.Time) ([]source.RawRecord, source.Outcome, error) {
	if s.err != nil {
		return nil, s.outcome, s.err
	}
	return s.records, source.OutcomeOK, nil
}

// captureNotifier records every delivered notification.
type captureNotifier struct {
	titles []string
	bodies []string
}

func (c *captureNotifier) Name() string { return "capture" }

func (c *captureNotifier) Send(_ context.Context, title, htmlBody string, _ bool) error {
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, htmlBody)
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		Poll: config.Poll{IntervalMinutes: 5, CycleTimeoutMinutes: 4, AdapterTimeoutSeconds: 5},
		Sources: config.Sources{
			Priority: []string{"sec-edgar", "yahoo-finance", "finviz"},
		},
		Verification: config.Verification{
			PriceTolerancePct:  2,
			SharesTolerancePct: 2,
			DateToleranceDays:  1,
			ScoreThreshold:     0.8,
			ValueTolerancePct:  1,
		},
		Alerts: config.Alerts{
			ExecutiveRoles:        []string{"CEO", "CFO", "President"},
			LargePurchaseMinValue: 1_000_000,
			ClusteredMinInsiders:  3,
			ClusteredWindowDays:   14,
			SellingEnabled:        true,
			SellingMinSellers:     3,
			SellingMinValue:       2_000_000,
			ReissueOnUpgrade:      true,
		},
		Dispatch: config.Dispatch{MaxAttempts: 1, BackoffSeconds: 1},
	}
}

func openTestStore(t *testing.T) *ledger.Store {
	t.Helper()
	s, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test ledger: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func bourlaRecord(src, ref, price string) source.RawRecord {
	return source.RawRecord{
		Source:     src,
		Ref:        ref,
		Issuer:     "PFE",
		IssuerName: "Pfizer Inc.",
		Insider:    "Albert Bourla",
		Role:       "CEO",
		Type:       source.TypeBuy,
		TxDate:     "2026-08-20",
		FilingDate: "2026-08-21",
		Price:      decimal.RequireFromString(price),
		Shares:     100000,
	}
}

func countTitles(titles []string, substr string) int {
	n := 0
	for _, title := range titles {
		if strings.Contains(title, substr) {
			n++
		}
	}
	return n
}

func TestCycleVerifiesAndAlerts(t *testing.T) {
	store := openTestStore(t)
	notifier := &captureNotifier{}
	adapters := []source.Adapter{
		&stubAdapter{name: "sec-edgar", records: []source.RawRecord{bourlaRecord("sec-edgar", "0001-a", "28.50")}},
		&stubAdapter{name: "yahoo-finance", records: []source.RawRecord{bourlaRecord("yahoo-finance", "y-1", "28.50")}},
	}

	p := New(testConfig(), store, adapters, notifier)
	result := p.RunCycle(context.Background())

	if result.Degraded {
		t.Fatal("unexpected degraded cycle")
	}
	if result.Report.Verified != 1 {
		t.Errorf("expected 1 verified group, got %d", result.Report.Verified)
	}
	if result.Report.NewTransactions != 1 {
		t.Errorf("expected 1 new transaction, got %d", result.Report.NewTransactions)
	}
	// A CEO buy over $1M triggers both purchase rules.
	if result.Report.Sent != 2 {
		t.Errorf("expected 2 alerts sent, got %d", result.Report.Sent)
	}
	if countTitles(notifier.titles, "EXECUTIVE PURCHASE") != 1 {
		t.Errorf("expected executive purchase alert, got %v", notifier.titles)
	}
	if countTitles(notifier.titles, "LARGE PURCHASE") != 1 {
		t.Errorf("expected large purchase alert, got %v", notifier.titles)
	}
	for _, body := range notifier.bodies {
		if !strings.Contains(body, "VERIFIED: 2 sources agree") {
			t.Errorf("expected verified badge in body:\n%s", body)
		}
	}
}

func TestRepolledCycleIsQuiet(t *testing.T) {
	store := openTestStore(t)
	notifier := &captureNotifier{}
	adapters := []source.Adapter{
		&stubAdapter{name: "sec-edgar", records: []source.RawRecord{bourlaRecord("sec-edgar", "0001-a", "28.50")}},
		&stubAdapter{name: "yahoo-finance", records: []source.RawRecord{bourlaRecord("yahoo-finance", "y-1", "28.50")}},
	}

	p := New(testConfig(), store, adapters, notifier)
	p.RunCycle(context.Background())

	// The same filings come back on the next poll.
	result := p.RunCycle(context.Background())
	if result.Report.NewTransactions != 0 {
		t.Errorf("expected no new transactions on re-poll, got %d", result.Report.NewTransactions)
	}
	if result.Report.Sent != 0 {
		t.Errorf("expected no alerts on re-poll, got %d", result.Report.Sent)
	}
	if len(notifier.titles) != 2 {
		t.Errorf("expected total of 2 notifications across both cycles, got %d", len(notifier.titles))
	}
}

func TestLateCorroborationUpgrades(t *testing.T) {
	store := openTestStore(t)
	notifier := &captureNotifier{}
	edgar := &stubAdapter{name: "sec-edgar"}
	yahoo := &stubAdapter{name: "yahoo-finance", records: []source.RawRecord{bourlaRecord("yahoo-finance", "y-1", "28.50")}}

	p := New(testConfig(), store, []source.Adapter{edgar, yahoo}, notifier)

	// Cycle 1: only one source reports. Low-confidence alerts go out.
	result := p.RunCycle(context.Background())
	if result.Report.Limited != 1 {
		t.Fatalf("expected 1 limited-data group, got %d", result.Report.Limited)
	}
	if result.Report.Sent != 2 {
		t.Fatalf("expected 2 low-confidence alerts, got %d", result.Report.Sent)
	}
	for _, body := range notifier.bodies {
		if !strings.Contains(body, "LIMITED DATA") {
			t.Errorf("expected limited-data badge:\n%s", body)
		}
	}

	// Cycle 2: the authoritative source catches up.
	edgar.records = []source.RawRecord{bourlaRecord("sec-edgar", "0001-a", "28.50")}
	result = p.RunCycle(context.Background())

	if result.Report.Upgrades != 1 {
		t.Fatalf("expected 1 upgrade, got %d", result.Report.Upgrades)
	}
	if result.Report.NewTransactions != 0 {
		t.Errorf("expected no new transactions, got %d", result.Report.NewTransactions)
	}
	if result.Report.Sent != 2 {
		t.Errorf("expected 2 upgrade re-issues, got %d", result.Report.Sent)
	}
	if countTitles(notifier.titles, "(confidence upgrade)") != 2 {
		t.Errorf("expected 2 upgrade titles, got %v", notifier.titles)
	}

	entry, err := store.GetEntry(verify.Fingerprint(
		"PFE", "Albert Bourla", "2026-08-20", source.TypeBuy,
		decimal.RequireFromString("28.50"), 100000))
	if err != nil {
		t.Fatal(err)
	}
	if entry == nil || entry.Status != string(verify.StatusVerified) {
		t.Errorf("expected ledger entry upgraded to VERIFIED, got %+v", entry)
	}
}

func TestConflictingSourcesStaySilent(t *testing.T) {
	store := openTestStore(t)
	notifier := &captureNotifier{}
	adapters := []source.Adapter{
		&stubAdapter{name: "sec-edgar", records: []source.RawRecord{bourlaRecord("sec-edgar", "0001-a", "10.00")}},
		&stubAdapter{name: "yahoo-finance", records: []source.RawRecord{bourlaRecord("yahoo-finance", "y-1", "40.00")}},
	}

	p := New(testConfig(), store, adapters, notifier)
	result := p.RunCycle(context.Background())

	if result.Report.Rejected != 1 {
		t.Errorf("expected 1 rejected group, got %d", result.Report.Rejected)
	}
	if result.Report.NewTransactions != 0 {
		t.Errorf("rejected group must not enter the ledger, got %d new", result.Report.NewTransactions)
	}
	if len(notifier.titles) != 0 {
		t.Errorf("rejected group must not alert, got %v", notifier.titles)
	}

	audits, err := store.AuditRecords("rejected_group", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 1 {
		t.Errorf("expected 1 rejected-group audit record, got %d", len(audits))
	}
}

func TestAllSourcesDownIsDegraded(t *testing.T) {
	store := openTestStore(t)
	notifier := &captureNotifier{}
	adapters := []source.Adapter{
		&stubAdapter{name: "sec-edgar", outcome: source.OutcomeUnavailable, err: errors.New("connection refused")},
		&stubAdapter{name: "yahoo-finance", outcome: source.OutcomeUnavailable, err: errors.New("connection refused")},
	}

	p := New(testConfig(), store, adapters, notifier)
	result := p.RunCycle(context.Background())

	if !result.Degraded {
		t.Fatal("expected degraded cycle with all sources down")
	}
	if len(notifier.titles) != 0 {
		t.Errorf("degraded cycle must not alert, got %v", notifier.titles)
	}

	last, err := store.LastCycleReport()
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || !last.Degraded {
		t.Errorf("expected degraded cycle report, got %+v", last)
	}
}

func TestSingleSourceOutageIsNotFatal(t *testing.T) {
	store := openTestStore(t)
	notifier := &captureNotifier{}
	adapters := []source.Adapter{
		&stubAdapter{name: "sec-edgar", outcome: source.OutcomeUnavailable, err: errors.New("connection refused")},
		&stubAdapter{name: "yahoo-finance", records: []source.RawRecord{bourlaRecord("yahoo-finance", "y-1", "28.50")}},
	}

	p := New(testConfig(), store, adapters, notifier)
	result := p.RunCycle(context.Background())

	if result.Degraded {
		t.Fatal("one live source must keep the cycle running")
	}
	if result.Report.SourcesAvailable != 1 {
		t.Errorf("expected 1 available source, got %d", result.Report.SourcesAvailable)
	}
	if result.Report.Limited != 1 {
		t.Errorf("expected 1 limited-data group, got %d", result.Report.Limited)
	}
	if result.Report.Sent != 2 {
		t.Errorf("expected low-confidence alerts despite the outage, got %d sent", result.Report.Sent)
	}
}

func TestMalformedAndInconsistentAreIsolated(t *testing.T) {
	store := openTestStore(t)
	notifier := &captureNotifier{}

	bad := bourlaRecord("yahoo-finance", "y-bad", "28.50")
	bad.Insider = ""

	skewed := bourlaRecord("yahoo-finance", "y-skew", "28.50")
	skewed.Insider = "Mikael Dolsten"
	skewed.Value = decimal.RequireFromString("1") // contradicts price*shares

	good := bourlaRecord("yahoo-finance", "y-1", "28.50")

	adapters := []source.Adapter{
		&stubAdapter{name: "yahoo-finance", records: []source.RawRecord{bad, skewed, good}},
	}

	p := New(testConfig(), store, adapters, notifier)
	result := p.RunCycle(context.Background())

	if result.Report.Malformed != 1 {
		t.Errorf("expected 1 malformed record, got %d", result.Report.Malformed)
	}
	if result.Report.Inconsistent != 1 {
		t.Errorf("expected 1 inconsistent record, got %d", result.Report.Inconsistent)
	}
	if result.Report.NewTransactions != 1 {
		t.Errorf("expected the good record accepted, got %d", result.Report.NewTransactions)
	}

	audits, err := store.AuditRecords("inconsistent_record", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(audits) != 1 {
		t.Errorf("expected 1 inconsistency audit record, got %d", len(audits))
	}
}
