package source

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/jfkirchner/insiderwatch/internal/config"
)

const finvizName = "finviz"

const finvizQuoteURL = "https://finviz.com/quote.ashx"

// FinVizAdapter scrapes the insider-trading table from FinViz quote
// pages. Tertiary source, disabled by default; layout changes are
// treated as the source being unavailable rather than an error.
type FinVizAdapter struct {
	baseURL   string
	watchlist []string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewFinVizAdapter creates the tertiary source adapter.
func NewFinVizAdapter(cfg config.FinVizConfig, watchlist []string, timeout time.Duration) *FinVizAdapter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 10
	}
	return &FinVizAdapter{
		baseURL:   finvizQuoteURL,
		watchlist: watchlist,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rpm/60), 1),
	}
}

func (a *FinVizAdapter) Name() string { return finvizName }

func (a *FinVizAdapter) Fetch(ctx context.Context, since time.Time) ([]RawRecord, Outcome, error) {
	var (
		all      []RawRecord
		failed   int
		firstErr error
	)

	for _, ticker := range a.watchlist {
		records, err := a.fetchTicker(ctx, ticker, since)
		if err != nil {
			failed++
			if firstErr == nil {
				firstErr = fmt.Errorf("ticker %s: %w", ticker, err)
			}
			if ctx.Err() != nil {
				break
			}
			continue
		}
		all = append(all, records...)
	}

	switch {
	case failed == len(a.watchlist):
		return nil, OutcomeUnavailable, firstErr
	case failed > 0:
		return all, OutcomePartial, firstErr
	default:
		return all, OutcomeOK, nil
	}
}

func (a *FinVizAdapter) fetchTicker(ctx context.Context, ticker string, since time.Time) ([]RawRecord, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+"?t="+ticker, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", yahooUserAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("quote page: HTTP %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parsing quote page: %w", err)
	}

	fetchedAt := time.Now().UTC()
	var records []RawRecord

	doc.Find("table.insider-trading-table-row, table.body-table tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		// Insider Trading | Relationship | Date | Transaction | Cost | #Shares | Value ($) | ...
		if cells.Length() < 7 {
			return
		}

		insider := strings.TrimSpace(cells.Eq(0).Text())
		relationship := strings.TrimSpace(cells.Eq(1).Text())
		txDate := parseFinVizDate(strings.TrimSpace(cells.Eq(2).Text()), fetchedAt)
		transaction := strings.TrimSpace(cells.Eq(3).Text())
		cost := parseFinVizNumber(cells.Eq(4).Text())
		shares := parseFinVizInt(cells.Eq(5).Text())
		value := parseFinVizNumber(cells.Eq(6).Text())

		if insider == "" || txDate == "" || shares == 0 {
			return
		}
		if d, err := time.Parse("2006-01-02", txDate); err != nil || d.Before(since.Truncate(24*time.Hour)) {
			return
		}

		records = append(records, RawRecord{
			Source:    finvizName,
			Ref:       fmt.Sprintf("%s-%s-%d", ticker, txDate, i),
			Issuer:    strings.ToUpper(ticker),
			Insider:   insider,
			Role:      relationship,
			Type:      finvizTxType(transaction),
			TxDate:    txDate,
			Price:     cost,
			Shares:    shares,
			Value:     value,
			FetchedAt: fetchedAt,
		})
	})

	return records, nil
}

func finvizTxType(transaction string) TxType {
	switch strings.ToLower(transaction) {
	case "buy":
		return TypeBuy
	case "sale":
		return TypeSell
	case "option exercise":
		return TypeOptionExercise
	default:
		return TypeOther
	}
}

// parseFinVizDate handles "Jan 15 '26" and "Jan 15" (current year).
func parseFinVizDate(s string, now time.Time) string {
	if t, err := time.Parse("Jan 02 '06", s); err == nil {
		return t.Format("2006-01-02")
	}
	if t, err := time.Parse("Jan 02", s); err == nil {
		return t.AddDate(now.Year(), 0, 0).Format("2006-01-02")
	}
	return ""
}

func parseFinVizNumber(s string) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseFinVizInt(s string) int64 {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
