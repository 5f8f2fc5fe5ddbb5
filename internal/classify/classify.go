// Package classify applies rule thresholds to accepted transactions and
// produces alerts. REJECTED transactions never produce alerts.
package classify

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/jfkirchner/insiderwatch/internal/config"
	"github.com/jfkirchner/insiderwatch/internal/ledger"
	"github.com/jfkirchner/insiderwatch/internal/verify"
)

// AlertType names a triggered rule.
type AlertType string

const (
	AlertExecutivePurchase AlertType = "EXECUTIVE_PURCHASE"
	AlertLargePurchase     AlertType = "LARGE_PURCHASE"
	AlertClusteredBuying   AlertType = "CLUSTERED_BUYING"
	AlertInsiderSelling    AlertType = "INSIDER_SELLING"
)

// Severity tiers map to notification priority.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityNormal Severity = "normal"
)

// Alert is one triggered rule for one transaction. Owned by the
// dispatcher until it reaches a terminal delivery state.
type Alert struct {
	ID            string
	Type          AlertType
	Severity      Severity
	LowConfidence bool // transaction was LIMITED_DATA
	Upgrade       bool // confidence-upgrade re-issue
	Transaction   verify.Transaction

	// Cluster rules carry the participating insiders and summed value.
	ClusterInsiders []string
	ClusterValue    decimal.Decimal
}

// Classifier evaluates rules against accepted transactions, consulting
// the ledger's recent history for the cluster rules.
type Classifier struct {
	store *ledger.Store
	cfg   config.Alerts
}

// New creates a Classifier.
func New(store *ledger.Store, cfg config.Alerts) *Classifier {
	return &Classifier{store: store, cfg: cfg}
}

// Classify evaluates every rule against one transaction that the ledger
// reported as new or upgraded. A transaction may trigger several rules;
// each yields one Alert. Upgrades re-issue only when configured.
func (c *Classifier) Classify(tx verify.Transaction, upgrade bool) ([]Alert, error) {
	if tx.Status == verify.StatusRejected {
		return nil, nil
	}
	if upgrade && !c.cfg.ReissueOnUpgrade {
		return nil, nil
	}

	lowConfidence := tx.Status == verify.StatusLimitedData
	var alerts []Alert

	add := func(t AlertType, sev Severity, insiders []string, value decimal.Decimal) {
		alerts = append(alerts, Alert{
			ID:              uuid.New().String(),
			Type:            t,
			Severity:        sev,
			LowConfidence:   lowConfidence,
			Upgrade:         upgrade,
			Transaction:     tx,
			ClusterInsiders: insiders,
			ClusterValue:    value,
		})
	}

	if tx.Type == "buy" && c.isExecutiveRole(tx.Role) {
		add(AlertExecutivePurchase, SeverityHigh, nil, decimal.Zero)
	}

	if tx.Type == "buy" && tx.Value.GreaterThanOrEqual(decimal.NewFromFloat(c.cfg.LargePurchaseMinValue)) {
		add(AlertLargePurchase, SeverityHigh, nil, decimal.Zero)
	}

	if tx.Type == "buy" {
		insiders, crossed, err := c.clusteredBuying(tx)
		if err != nil {
			return nil, fmt.Errorf("evaluating clustered buying for %s: %w", tx.Issuer, err)
		}
		if crossed {
			add(AlertClusteredBuying, SeverityNormal, insiders, decimal.Zero)
		}
	}

	if c.cfg.SellingEnabled && tx.Type == "sell" {
		sellers, total, crossed, err := c.insiderSelling(tx)
		if err != nil {
			return nil, fmt.Errorf("evaluating insider selling for %s: %w", tx.Issuer, err)
		}
		if crossed {
			add(AlertInsiderSelling, SeverityNormal, sellers, total)
		}
	}

	if upgrade {
		return c.onlyPreviouslySent(tx, alerts)
	}
	return alerts, nil
}

// onlyPreviouslySent filters an upgrade's alerts down to the types that
// were dispatched at LIMITED_DATA; a re-issue corrects a prior alert,
// it never introduces a new one.
func (c *Classifier) onlyPreviouslySent(tx verify.Transaction, alerts []Alert) ([]Alert, error) {
	var out []Alert
	for _, a := range alerts {
		sent, err := c.store.HasDispatch(tx.Fingerprint, string(a.Type), false)
		if err != nil {
			return nil, fmt.Errorf("checking prior dispatch for %s: %w", tx.Fingerprint, err)
		}
		if sent {
			out = append(out, a)
		}
	}
	return out, nil
}

// clusteredBuying fires only for the transaction whose insider pushes
// the distinct-buyer count over the threshold, so a growing cluster
// does not re-alert on every later member.
func (c *Classifier) clusteredBuying(tx verify.Transaction) ([]string, bool, error) {
	since, err := windowStart(tx.TxDate, c.cfg.ClusteredWindowDays)
	if err != nil {
		return nil, false, err
	}

	buyers, err := c.store.DistinctBuyers(tx.Issuer, since)
	if err != nil {
		return nil, false, err
	}
	if len(buyers) < c.cfg.ClusteredMinInsiders {
		return nil, false, nil
	}

	without := 0
	for _, name := range buyers {
		if verify.InsiderKey(name) != verify.InsiderKey(tx.Insider) {
			without++
		}
	}
	return buyers, without < c.cfg.ClusteredMinInsiders, nil
}

func (c *Classifier) insiderSelling(tx verify.Transaction) ([]string, decimal.Decimal, bool, error) {
	since, err := windowStart(tx.TxDate, c.cfg.ClusteredWindowDays)
	if err != nil {
		return nil, decimal.Zero, false, err
	}

	sellers, total, err := c.store.SellingActivity(tx.Issuer, since)
	if err != nil {
		return nil, decimal.Zero, false, err
	}
	if len(sellers) < c.cfg.SellingMinSellers {
		return nil, decimal.Zero, false, nil
	}
	if total.LessThan(decimal.NewFromFloat(c.cfg.SellingMinValue)) {
		return nil, decimal.Zero, false, nil
	}

	without := 0
	for _, name := range sellers {
		if verify.InsiderKey(name) != verify.InsiderKey(tx.Insider) {
			without++
		}
	}
	return sellers, total, without < c.cfg.SellingMinSellers, nil
}

// isExecutiveRole matches a reported role against the configured
// executive titles. "Vice President" is excluded from the President
// match; deputies don't carry the same signal.
func (c *Classifier) isExecutiveRole(role string) bool {
	lower := strings.ToLower(role)
	if lower == "" {
		return false
	}
	for _, title := range c.cfg.ExecutiveRoles {
		t := strings.ToLower(title)
		if !strings.Contains(lower, t) {
			continue
		}
		if t == "president" && strings.Contains(lower, "vice") {
			continue
		}
		return true
	}
	return false
}

// windowStart returns the rolling-window lower bound, anchored on the
// transaction date rather than wall clock so re-processing a cycle is
// deterministic.
func windowStart(txDate string, days int) (string, error) {
	d, err := time.Parse("2006-01-02", txDate)
	if err != nil {
		return "", fmt.Errorf("bad transaction date %q: %w", txDate, err)
	}
	return d.AddDate(0, 0, -days).Format("2006-01-02"), nil
}
