package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jfkirchner/insiderwatch/internal/config"
)

const testFinVizPage = `<html><body>
<table class="body-table">
  <tr>
    <td>Insider Trading</td><td>Relationship</td><td>Date</td><td>Transaction</td>
    <td>Cost</td><td>#Shares</td><td>Value ($)</td><td>#Shares Total</td><td>SEC Form 4</td>
  </tr>
  <tr>
    <td>BOURLA ALBERT</td><td>CEO</td><td>Aug 20 '26</td><td>Buy</td>
    <td>28.50</td><td>100,000</td><td>2,850,000</td><td>500,000</td><td>Aug 21</td>
  </tr>
  <tr>
    <td>DOLSTEN MIKAEL</td><td>Officer</td><td>Aug 18 '26</td><td>Sale</td>
    <td>30.10</td><td>5,000</td><td>150,500</td><td>80,000</td><td>Aug 19</td>
  </tr>
</table>
</body></html>`

func TestFinVizFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(testFinVizPage))
	}))
	defer srv.Close()

	a := NewFinVizAdapter(config.FinVizConfig{RequestsPerMinute: 6000}, []string{"PFE"}, 5*time.Second)
	a.baseURL = srv.URL

	records, outcome, err := a.Fetch(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOK {
		t.Fatalf("expected OK, got %s", outcome)
	}
	// The header row has no parseable date and is skipped.
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}

	buy := records[0]
	if buy.Insider != "BOURLA ALBERT" || buy.Role != "CEO" {
		t.Errorf("unexpected insider: %s (%s)", buy.Insider, buy.Role)
	}
	if buy.Type != TypeBuy {
		t.Errorf("expected buy, got %s", buy.Type)
	}
	if buy.TxDate != "2026-08-20" {
		t.Errorf("unexpected date: %s", buy.TxDate)
	}
	if buy.Shares != 100000 {
		t.Errorf("unexpected shares: %d", buy.Shares)
	}
	if buy.Value.String() != "2850000" {
		t.Errorf("unexpected value: %s", buy.Value)
	}

	if records[1].Type != TypeSell {
		t.Errorf("expected sell, got %s", records[1].Type)
	}
}

func TestFinVizLayoutChangeYieldsNoRecords(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html><body><p>redesigned page</p></body></html>"))
	}))
	defer srv.Close()

	a := NewFinVizAdapter(config.FinVizConfig{RequestsPerMinute: 6000}, []string{"PFE"}, 5*time.Second)
	a.baseURL = srv.URL

	records, outcome, err := a.Fetch(context.Background(), time.Time{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome != OutcomeOK {
		t.Errorf("expected OK, got %s", outcome)
	}
	if len(records) != 0 {
		t.Errorf("expected no records from an unrecognized layout, got %d", len(records))
	}
}

func TestParseFinVizDate(t *testing.T) {
	now := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	if got := parseFinVizDate("Aug 20 '26", now); got != "2026-08-20" {
		t.Errorf("expected 2026-08-20, got %q", got)
	}
	if got := parseFinVizDate("Aug 20", now); got != "2026-08-20" {
		t.Errorf("expected current-year fallback, got %q", got)
	}
	if got := parseFinVizDate("whenever", now); got != "" {
		t.Errorf("expected empty for junk, got %q", got)
	}
}
