package classify

import (
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jfkirchner/insiderwatch/internal/config"
	"github.com/jfkirchner/insiderwatch/internal/ledger"
	"github.com/jfkirchner/insiderwatch/internal/verify"
)

func testAlertsConfig() config.Alerts {
	return config.Alerts{
		ExecutiveRoles: []string{
			"CEO", "Chief Executive", "CFO", "Chief Financial",
			"President", "COO", "Chief Operating", "Chairman", "Chair",
		},
		LargePurchaseMinValue: 1_000_000,
		ClusteredMinInsiders:  3,
		ClusteredWindowDays:   14,
		SellingEnabled:        true,
		SellingMinSellers:     3,
		SellingMinValue:       2_000_000,
		ReissueOnUpgrade:      true,
	}
}

func testClassifier(t *testing.T) (*Classifier, *ledger.Store) {
	t.Helper()
	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test ledger: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store, testAlertsConfig()), store
}

func buyTx(insider, role, price string, shares int64) verify.Transaction {
	p := decimal.RequireFromString(price)
	tx := verify.Transaction{
		Issuer:  "PFE",
		Insider: insider,
		Role:    role,
		Type:    "buy",
		TxDate:  "2026-08-20",
		Price:   p,
		Shares:  shares,
		Value:   p.Mul(decimal.NewFromInt(shares)),
		Sources: []string{"sec-edgar", "yahoo-finance"},
		Score:   1.0,
		Status:  verify.StatusVerified,
	}
	tx.Fingerprint = verify.Fingerprint(tx.Issuer, tx.Insider, tx.TxDate, tx.Type, tx.Price, tx.Shares)
	return tx
}

func hasType(alerts []Alert, at AlertType) bool {
	for _, a := range alerts {
		if a.Type == at {
			return true
		}
	}
	return false
}

func TestExecutivePurchase(t *testing.T) {
	c, _ := testClassifier(t)
	alerts, err := c.Classify(buyTx("Albert Bourla", "CEO", "28.50", 1000), false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !hasType(alerts, AlertExecutivePurchase) {
		t.Error("expected EXECUTIVE_PURCHASE for a CEO buy")
	}
	for _, a := range alerts {
		if a.Type == AlertExecutivePurchase && a.Severity != SeverityHigh {
			t.Errorf("expected high severity, got %s", a.Severity)
		}
	}
}

func TestVicePresidentIsNotExecutive(t *testing.T) {
	c, _ := testClassifier(t)
	alerts, err := c.Classify(buyTx("Mikael Dolsten", "Executive Vice President", "28.50", 1000), false)
	if err != nil {
		t.Fatal(err)
	}
	if hasType(alerts, AlertExecutivePurchase) {
		t.Error("vice presidents must not trigger EXECUTIVE_PURCHASE")
	}
}

func TestLargePurchaseThreshold(t *testing.T) {
	c, _ := testClassifier(t)

	// 100,000 shares at $28.50 is $2.85M, over the $1M threshold.
	alerts, err := c.Classify(buyTx("Some Director", "Director", "28.50", 100000), false)
	if err != nil {
		t.Fatal(err)
	}
	if !hasType(alerts, AlertLargePurchase) {
		t.Error("expected LARGE_PURCHASE above the threshold")
	}

	// 1,000 shares at $28.50 stays well under it.
	alerts, err = c.Classify(buyTx("Some Director", "Director", "28.50", 1000), false)
	if err != nil {
		t.Fatal(err)
	}
	if hasType(alerts, AlertLargePurchase) {
		t.Error("did not expect LARGE_PURCHASE below the threshold")
	}
}

func TestRejectedNeverAlerts(t *testing.T) {
	c, _ := testClassifier(t)
	tx := buyTx("Albert Bourla", "CEO", "28.50", 100000)
	tx.Status = verify.StatusRejected

	alerts, err := c.Classify(tx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("REJECTED transaction produced %d alerts", len(alerts))
	}
}

func TestLimitedDataMarksLowConfidence(t *testing.T) {
	c, _ := testClassifier(t)
	tx := buyTx("Albert Bourla", "CEO", "28.50", 100000)
	tx.Status = verify.StatusLimitedData
	tx.Sources = []string{"yahoo-finance"}

	alerts, err := c.Classify(tx, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) == 0 {
		t.Fatal("expected alerts for a LIMITED_DATA transaction")
	}
	for _, a := range alerts {
		if !a.LowConfidence {
			t.Errorf("expected %s alert marked low-confidence", a.Type)
		}
	}
}

func TestUpgradeRespectsReissueSetting(t *testing.T) {
	cfg := testAlertsConfig()
	cfg.ReissueOnUpgrade = false

	store, err := ledger.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	c := New(store, cfg)
	alerts, err := c.Classify(buyTx("Albert Bourla", "CEO", "28.50", 100000), true)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 0 {
		t.Errorf("expected no re-issue with reissue_on_upgrade disabled, got %d alerts", len(alerts))
	}
}

func TestUpgradeOnlyReissuesSentAlerts(t *testing.T) {
	c, store := testClassifier(t)

	// A CEO buy over $1M matches two rules, but only one was dispatched
	// at LIMITED_DATA.
	tx := buyTx("Albert Bourla", "CEO", "28.50", 100000)
	if _, err := store.Accept(tx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.InsertDispatch(ledger.Dispatch{
		ID:          "alert-1",
		Fingerprint: tx.Fingerprint,
		AlertType:   string(AlertExecutivePurchase),
		Severity:    "high",
	}); err != nil {
		t.Fatal(err)
	}

	alerts, err := c.Classify(tx, true)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Type != AlertExecutivePurchase {
		t.Errorf("expected only the previously sent alert re-issued, got %v", alerts)
	}
	if !alerts[0].Upgrade {
		t.Error("expected re-issue marked as upgrade")
	}
}

func TestClusteredBuyingFiresOnCrossing(t *testing.T) {
	c, store := testClassifier(t)

	// Two buyers already in the ledger; the third crosses the threshold.
	for _, name := range []string{"Alice Adams", "Bob Brown"} {
		if _, err := store.Accept(buyTx(name, "Director", "28.50", 1000)); err != nil {
			t.Fatal(err)
		}
	}

	third := buyTx("Carol Chen", "Director", "28.50", 1000)
	if _, err := store.Accept(third); err != nil {
		t.Fatal(err)
	}
	alerts, err := c.Classify(third, false)
	if err != nil {
		t.Fatal(err)
	}
	if !hasType(alerts, AlertClusteredBuying) {
		t.Fatal("expected CLUSTERED_BUYING when the third insider crosses the threshold")
	}
	for _, a := range alerts {
		if a.Type == AlertClusteredBuying && len(a.ClusterInsiders) != 3 {
			t.Errorf("expected 3 cluster insiders, got %v", a.ClusterInsiders)
		}
	}

	// A fourth buyer joins an already-alerted cluster: no new alert.
	fourth := buyTx("Dan Doe", "Director", "28.50", 1000)
	if _, err := store.Accept(fourth); err != nil {
		t.Fatal(err)
	}
	alerts, err = c.Classify(fourth, false)
	if err != nil {
		t.Fatal(err)
	}
	if hasType(alerts, AlertClusteredBuying) {
		t.Error("expected no re-alert for a cluster that already crossed")
	}
}

func TestInsiderSellingThresholds(t *testing.T) {
	c, store := testClassifier(t)

	sell := func(insider string, shares int64) verify.Transaction {
		tx := buyTx(insider, "Director", "28.50", shares)
		tx.Type = "sell"
		tx.Fingerprint = verify.Fingerprint(tx.Issuer, tx.Insider, tx.TxDate, tx.Type, tx.Price, tx.Shares)
		return tx
	}

	// Two prior sellers at ~$1.4M combined value.
	for _, name := range []string{"Alice Adams", "Bob Brown"} {
		if _, err := store.Accept(sell(name, 25000)); err != nil {
			t.Fatal(err)
		}
	}

	// Third seller pushes both the seller count and the value over.
	third := sell("Carol Chen", 25000)
	if _, err := store.Accept(third); err != nil {
		t.Fatal(err)
	}
	alerts, err := c.Classify(third, false)
	if err != nil {
		t.Fatal(err)
	}
	if !hasType(alerts, AlertInsiderSelling) {
		t.Error("expected INSIDER_SELLING with 3 sellers over $2M")
	}
}
