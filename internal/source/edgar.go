package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/jfkirchner/insiderwatch/internal/config"
)

const edgarName = "sec-edgar"

// accessionRe matches an accession number in an EDGAR entry ID or link,
// e.g. "0001234567-24-000123".
var accessionRe = regexp.MustCompile(`(\d{10}-\d{2}-\d{6})`)

// cikRe extracts the numeric CIK from an Archives path.
var cikRe = regexp.MustCompile(`/Archives/edgar/data/(\d+)/`)

// EDGARAdapter reads Form 4 filings from the SEC EDGAR Atom feed and
// pulls transaction details from each filing's ownership document.
type EDGARAdapter struct {
	baseURL   string
	userAgent string
	watchlist []string
	client    *http.Client
	parser    *gofeed.Parser
	limiter   *rate.Limiter
}

// NewEDGARAdapter creates the primary regulatory source adapter.
func NewEDGARAdapter(cfg config.EDGARConfig, watchlist []string, timeout time.Duration) *EDGARAdapter {
	client := &http.Client{Timeout: timeout}
	parser := gofeed.NewParser()
	parser.UserAgent = cfg.UserAgent
	parser.Client = client

	rpm := cfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 30
	}

	return &EDGARAdapter{
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		watchlist: watchlist,
		client:    client,
		parser:    parser,
		limiter:   rate.NewLimiter(rate.Limit(rpm/60), 1),
	}
}

func (a *EDGARAdapter) Name() string { return edgarName }

// Fetch lists recent Form 4 filings for every watchlist ticker and
// decodes their transactions. A ticker that fails degrades the outcome
// to PARTIAL; only a total failure is UNAVAILABLE.
func (a *EDGARAdapter) Fetch(ctx context.Context, since time.Time) ([]RawRecord, Outcome, error) {
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

func (a *EDGARAdapter) fetchTicker(ctx context.Context, ticker string, since time.Time) ([]RawRecord, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feedURL := fmt.Sprintf(
		"%s/cgi-bin/browse-edgar?action=getcompany&CIK=%s&type=4&owner=include&count=40&output=atom",
		a.baseURL, ticker,
	)
	feed, err := a.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing filing feed: %w", err)
	}

	fetchedAt := time.Now().UTC()
	var records []RawRecord

	for _, item := range feed.Items {
		if item.UpdatedParsed != nil && item.UpdatedParsed.Before(since) {
			continue
		}

		accession, cik := filingRef(item)
		if accession == "" || cik == "" {
			continue
		}

		doc, err := a.fetchOwnershipDoc(ctx, cik, accession)
		if err != nil {
			// Individual filings may be unparseable; the rest of the
			// ticker's filings are still usable.
			continue
		}

		filingDate := ""
		if item.UpdatedParsed != nil {
			filingDate = item.UpdatedParsed.Format("2006-01-02")
		}

		for _, tx := range doc.Transactions {
			records = append(records, RawRecord{
				Source:     edgarName,
				Ref:        accession,
				Issuer:     strings.ToUpper(strings.TrimSpace(doc.Issuer.Symbol)),
				IssuerName: strings.TrimSpace(doc.Issuer.Name),
				Insider:    strings.TrimSpace(doc.Owner.Name),
				Role:       ownerRole(doc),
				Type:       transactionType(tx.Coding.Code),
				TxDate:     tx.Date.Value,
				FilingDate: filingDate,
				Price:      parseDecimal(tx.Amounts.Price.Value),
				Shares:     parseDecimal(tx.Amounts.Shares.Value).IntPart(),
				Value:      decimal.Zero, // derived by the normalizer
				FetchedAt:  fetchedAt,
			})
		}
	}

	return records, nil
}

// fetchOwnershipDoc downloads the full submission text and extracts the
// embedded ownership XML document.
func (a *EDGARAdapter) fetchOwnershipDoc(ctx context.Context, cik, accession string) (*ownershipDoc, error) {
	if err := a.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	noDash := strings.ReplaceAll(accession, "-", "")
	url := fmt.Sprintf("%s/Archives/edgar/data/%s/%s/%s.txt", a.baseURL, cik, noDash, accession)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", a.userAgent)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("filing %s: HTTP %d", accession, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}

	return parseOwnershipDoc(body)
}

// parseOwnershipDoc pulls the <ownershipDocument> element out of a full
// submission body and unmarshals it.
func parseOwnershipDoc(body []byte) (*ownershipDoc, error) {
	text := string(body)
	start := strings.Index(text, "<ownershipDocument>")
	end := strings.Index(text, "</ownershipDocument>")
	if start < 0 || end < 0 || end < start {
		return nil, fmt.Errorf("no ownership document in submission")
	}

	var doc ownershipDoc
	if err := xml.Unmarshal([]byte(text[start:end+len("</ownershipDocument>")]), &doc); err != nil {
		return nil, fmt.Errorf("decoding ownership document: %w", err)
	}
	return &doc, nil
}

// ownershipDoc is the subset of the Form 4/5 XML schema we consume.
type ownershipDoc struct {
	XMLName xml.Name `xml:"ownershipDocument"`
	Issuer  struct {
		Symbol string `xml:"issuerTradingSymbol"`
		Name   string `xml:"issuerName"`
	} `xml:"issuer"`
	Owner struct {
		Name         string `xml:"reportingOwnerId>rptOwnerName"`
		Relationship struct {
			IsDirector   string `xml:"isDirector"`
			IsOfficer    string `xml:"isOfficer"`
			OfficerTitle string `xml:"officerTitle"`
		} `xml:"reportingOwnerRelationship"`
	} `xml:"reportingOwner"`
	Transactions []struct {
		Date struct {
			Value string `xml:"value"`
		} `xml:"transactionDate"`
		Coding struct {
			Code string `xml:"transactionCode"`
		} `xml:"transactionCoding"`
		Amounts struct {
			Shares struct {
				Value string `xml:"value"`
			} `xml:"transactionShares"`
			Price struct {
				Value string `xml:"value"`
			} `xml:"transactionPricePerShare"`
		} `xml:"transactionAmounts"`
	} `xml:"nonDerivativeTable>nonDerivativeTransaction"`
}

func ownerRole(doc *ownershipDoc) string {
	rel := doc.Owner.Relationship
	if title := strings.TrimSpace(rel.OfficerTitle); title != "" {
		return title
	}
	if rel.IsDirector == "1" || strings.EqualFold(rel.IsDirector, "true") {
		return "Director"
	}
	return ""
}

// transactionType maps Form 4 transaction codes to the canonical type.
func transactionType(code string) TxType {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "P":
		return TypeBuy
	case "S":
		return TypeSell
	case "M":
		return TypeOptionExercise
	default:
		return TypeOther
	}
}

func filingRef(item *gofeed.Item) (accession, cik string) {
	for _, candidate := range []string{item.GUID, item.Link} {
		if m := accessionRe.FindStringSubmatch(candidate); m != nil {
			accession = m[1]
			break
		}
	}
	if m := cikRe.FindStringSubmatch(item.Link); m != nil {
		cik = m[1]
	}
	return accession, cik
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}
