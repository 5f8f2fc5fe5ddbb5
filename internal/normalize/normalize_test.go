package normalize

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jfkirchner/insiderwatch/internal/source"
)

func buyRecord() source.RawRecord {
	return source.RawRecord{
		Source:  "sec-edgar",
		Ref:     "0001-a",
		Issuer:  "pfe",
		Insider: "Albert  Bourla",
		Type:    source.TypeBuy,
		TxDate:  "2026-08-20",
		Price:   decimal.RequireFromString("28.50"),
		Shares:  100000,
	}
}

func TestNormalizeCanonicalizesFields(t *testing.T) {
	n := New(1)
	valid, _, res := n.Normalize([]source.RawRecord{buyRecord()})

	if res.Valid != 1 {
		t.Fatalf("expected 1 valid record, got %d", res.Valid)
	}
	if valid[0].Issuer != "PFE" {
		t.Errorf("expected upper-cased issuer, got %q", valid[0].Issuer)
	}
	if valid[0].Insider != "Albert Bourla" {
		t.Errorf("expected collapsed whitespace, got %q", valid[0].Insider)
	}
}

func TestNormalizeDropsMalformed(t *testing.T) {
	noIssuer := buyRecord()
	noIssuer.Issuer = "  "

	noShares := buyRecord()
	noShares.Shares = 0

	badDate := buyRecord()
	badDate.TxDate = "August 20"

	n := New(1)
	valid, _, res := n.Normalize([]source.RawRecord{noIssuer, noShares, badDate, buyRecord()})

	if res.Malformed != 3 {
		t.Errorf("expected 3 malformed, got %d", res.Malformed)
	}
	if len(valid) != 1 {
		t.Errorf("expected 1 surviving record, got %d", len(valid))
	}
}

func TestNormalizeBackfillsValue(t *testing.T) {
	rec := buyRecord() // price only
	n := New(1)
	valid, _, _ := n.Normalize([]source.RawRecord{rec})

	want := decimal.RequireFromString("2850000")
	if !valid[0].Value.Equal(want) {
		t.Errorf("expected back-filled value %s, got %s", want, valid[0].Value)
	}
}

func TestNormalizeBackfillsPrice(t *testing.T) {
	rec := buyRecord()
	rec.Price = decimal.Zero
	rec.Value = decimal.RequireFromString("2850000")

	n := New(1)
	valid, _, _ := n.Normalize([]source.RawRecord{rec})

	want := decimal.RequireFromString("28.5")
	if !valid[0].Price.Equal(want) {
		t.Errorf("expected back-filled price %s, got %s", want, valid[0].Price)
	}
}

func TestNormalizeFlagsInconsistentMonetary(t *testing.T) {
	rec := buyRecord()
	// Implied value is 2,850,000; the reported total is way off.
	rec.Value = decimal.RequireFromString("500000")

	n := New(1)
	valid, inconsistent, res := n.Normalize([]source.RawRecord{rec})

	if res.Inconsistent != 1 {
		t.Errorf("expected 1 inconsistent, got %d", res.Inconsistent)
	}
	if len(inconsistent) != 1 {
		t.Fatalf("expected inconsistent record returned, got %d", len(inconsistent))
	}
	if len(valid) != 0 {
		t.Error("inconsistent record must not enter the valid set")
	}
}

func TestNormalizeToleratesSmallValueDrift(t *testing.T) {
	rec := buyRecord()
	// 0.35% off the implied total, inside the 1% tolerance.
	rec.Value = decimal.RequireFromString("2860000")

	n := New(1)
	valid, _, res := n.Normalize([]source.RawRecord{rec})

	if res.Valid != 1 || len(valid) != 1 {
		t.Fatalf("expected record kept, got valid=%d", res.Valid)
	}
}

func TestNormalizeKeepsSharesOnlyRecord(t *testing.T) {
	rec := buyRecord()
	rec.Price = decimal.Zero

	n := New(1)
	valid, _, res := n.Normalize([]source.RawRecord{rec})

	if res.Valid != 1 {
		t.Fatalf("expected shares-only record kept, got %d valid", res.Valid)
	}
	if !valid[0].Value.IsZero() {
		t.Errorf("expected zero value, got %s", valid[0].Value)
	}
}
