package dispatch

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/jfkirchner/insiderwatch/internal/classify"
	"github.com/jfkirchner/insiderwatch/internal/verify"
)

// renderTitle produces the notification headline for an alert.
func renderTitle(a classify.Alert) string {
	var label string
	switch a.Type {
	case classify.AlertExecutivePurchase:
		label = "EXECUTIVE PURCHASE ALERT"
	case classify.AlertLargePurchase:
		label = "LARGE PURCHASE ALERT"
	case classify.AlertClusteredBuying:
		label = "CLUSTERED BUYING ALERT"
	case classify.AlertInsiderSelling:
		label = "INSIDER SELLING ALERT"
	default:
		label = "INSIDER ALERT"
	}
	title := fmt.Sprintf("%s: %s", label, a.Transaction.Issuer)
	if a.Upgrade {
		title += " (confidence upgrade)"
	}
	return title
}

// renderBody produces the markdown payload: issuer, insider, amounts,
// filing reference, source attribution, and the verification badge.
func renderBody(a classify.Alert) string {
	tx := a.Transaction
	var b strings.Builder

	company := tx.Issuer
	if tx.IssuerName != "" {
		company = fmt.Sprintf("%s (%s)", tx.Issuer, tx.IssuerName)
	}

	fmt.Fprintf(&b, "**Company:** %s\n\n", company)

	insider := tx.Insider
	if tx.Role != "" {
		insider = fmt.Sprintf("%s (%s)", tx.Insider, tx.Role)
	}
	fmt.Fprintf(&b, "**Insider:** %s\n\n", insider)

	if tx.Value.IsPositive() {
		fmt.Fprintf(&b, "**Amount:** $%s\n\n", humanize.Comma(tx.Value.IntPart()))
	}
	fmt.Fprintf(&b, "**Shares:** %s @ $%s\n\n", humanize.Comma(tx.Shares), tx.Price.StringFixed(2))
	fmt.Fprintf(&b, "**Transaction Date:** %s\n\n", tx.TxDate)

	if tx.Ref != "" {
		filing := tx.Ref
		if tx.FilingDate != "" {
			filing = fmt.Sprintf("%s (filed %s)", tx.Ref, tx.FilingDate)
		}
		fmt.Fprintf(&b, "**Filing:** %s\n\n", filing)
	}

	fmt.Fprintf(&b, "**Sources:** %s\n\n", strings.Join(tx.Sources, ", "))

	if len(a.ClusterInsiders) > 0 {
		fmt.Fprintf(&b, "**Insiders in window:** %s\n\n", strings.Join(a.ClusterInsiders, ", "))
		if a.ClusterValue.IsPositive() {
			fmt.Fprintf(&b, "**Combined value:** $%s\n\n", humanize.Comma(a.ClusterValue.IntPart()))
		}
	}

	fmt.Fprintf(&b, "%s\n", verificationBadge(tx))

	if a.Upgrade {
		fmt.Fprintf(&b, "\nConfidence upgrade: previously alerted at LIMITED_DATA; now corroborated by %d sources.\n", len(tx.Sources))
	}

	return b.String()
}

// verificationBadge is the data-quality banner: cross-source verified
// vs a single-source report.
func verificationBadge(tx verify.Transaction) string {
	switch tx.Status {
	case verify.StatusVerified:
		return fmt.Sprintf("VERIFIED: %d sources agree (consistency %.2f)", len(tx.Sources), tx.Score)
	case verify.StatusLimitedData:
		return "LIMITED DATA: single-source report, not yet corroborated"
	default:
		return string(tx.Status)
	}
}
