package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/jfkirchner/insiderwatch/internal/config"
)

const yahooName = "yahoo-finance"

const yahooSummaryURL = "https://query2.finance.yahoo.com/v10/finance/quoteSummary"

// User-Agent required: Yahoo blocks generic clients (401/429)
const yahooUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// priceRe matches "at price 43.85 per share" in Yahoo transaction text.
var priceRe = regexp.MustCompile(`price ([\d.]+) per share`)

// YahooAdapter reads the insiderTransactions module of Yahoo Finance's
// quoteSummary endpoint. Secondary market-data source.
type YahooAdapter struct {
	baseURL   string
	watchlist []string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewYahooAdapter creates the secondary market-data source adapter.
func NewYahooAdapter(cfg config.YahooConfig, watchlist []string, timeout time.Duration) *YahooAdapter {
	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}
	return &YahooAdapter{
		baseURL:   yahooSummaryURL,
		watchlist: watchlist,
		client:    &http.Client{Timeout: timeout},
		limiter:   rate.NewLimiter(rate.Limit(rpm/60), 1),
	}
}

func (a *YahooAdapter) Name() string { return yahooName }

func (a *YahooAdapter) Fetch(ctx context.Context, since time.Time) ([]RawRecord, Outcome, error) {
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

type yahooSummaryResponse struct {
	QuoteSummary struct {
		Result []struct {
			InsiderTransactions struct {
				Transactions []yahooTransaction `json:"transactions"`
			} `json:"insiderTransactions"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"quoteSummary"`
}

type yahooTransaction struct {
	FilerName       string `json:"filerName"`
	FilerRelation   string `json:"filerRelation"`
	TransactionText string `json:"transactionText"`
	Shares          struct {
		Raw int64 `json:"raw"`
	} `json:"shares"`
	Value struct {
		Raw float64 `json:"raw"`
	} `json:"value"`
	StartDate struct {
		Fmt string `json:"fmt"`
	} `json:"startDate"`
}

func (a *YahooAdapter) fetchTicker(ctx context.Context, ticker string, since time.Time) ([]RawRecord, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/%s?modules=insiderTransactions", a.baseURL, ticker)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
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
		return nil, fmt.Errorf("quoteSummary: HTTP %d", resp.StatusCode)
	}

	var parsed yahooSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decoding quoteSummary: %w", err)
	}
	if parsed.QuoteSummary.Error != nil {
		return nil, fmt.Errorf("quoteSummary: %s", parsed.QuoteSummary.Error.Description)
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return nil, nil
	}

	fetchedAt := time.Now().UTC()
	var records []RawRecord

	for i, tx := range parsed.QuoteSummary.Result[0].InsiderTransactions.Transactions {
		txDate := tx.StartDate.Fmt
		if txDate == "" {
			continue
		}
		if d, err := time.Parse("2006-01-02", txDate); err != nil || d.Before(since.Truncate(24*time.Hour)) {
			continue
		}

		records = append(records, RawRecord{
			Source:     yahooName,
			Ref:        fmt.Sprintf("%s-%s-%d", ticker, txDate, i),
			Issuer:     strings.ToUpper(ticker),
			IssuerName: "",
			Insider:    strings.TrimSpace(tx.FilerName),
			Role:       strings.TrimSpace(tx.FilerRelation),
			Type:       yahooTxType(tx.TransactionText),
			TxDate:     txDate,
			Price:      yahooTxPrice(tx.TransactionText),
			Shares:     tx.Shares.Raw,
			Value:      decimal.NewFromFloat(tx.Value.Raw),
			FetchedAt:  fetchedAt,
		})
	}

	return records, nil
}

func yahooTxType(text string) TxType {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "purchase") || strings.Contains(lower, "buy"):
		return TypeBuy
	case strings.Contains(lower, "sale") || strings.Contains(lower, "sell"):
		return TypeSell
	case strings.Contains(lower, "exercise") || strings.Contains(lower, "conversion"):
		return TypeOptionExercise
	default:
		return TypeOther
	}
}

func yahooTxPrice(text string) decimal.Decimal {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(m[1])
	if err != nil {
		return decimal.Zero
	}
	return d
}
