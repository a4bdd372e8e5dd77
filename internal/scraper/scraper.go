// Package scraper fetches and parses the daily over/under consensus
// page into structured records.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/pkaufman/fadewatch/internal/consensus"
	"github.com/pkaufman/fadewatch/internal/resilience"
)

const (
	// DefaultBaseURL is the consensus page root; the date path segment
	// is appended per request.
	DefaultBaseURL = "https://www.lineconsensus.example.com/mlb/totals"

	// Timeout bounds one page fetch end to end.
	Timeout = 30 * time.Second

	// resultsTableClass marks the primary results table when the page
	// template includes it; older templates do not.
	resultsTableClass = "table.consensus-table"

	// minRowCells filters out header and spacer rows.
	minRowCells = 3
)

// The page checks for a browser-ish header set and serves an empty
// shell otherwise.
var browserHeaders = map[string]string{
	"User-Agent":      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36",
	"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
	"Accept-Language": "en-US,en;q=0.9",
	"Cache-Control":   "no-cache",
}

// FetchError is a network or HTTP-level failure retrieving the page.
// Rows that fail to parse are skipped silently; a FetchError means no
// usable page was retrieved at all.
type FetchError struct {
	URL        string
	StatusCode int // 0 when the transport failed before a response
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: unexpected status %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Config tunes the Scraper.
type Config struct {
	BaseURL      string
	Sport        string
	Timezone     string        // IANA name for "today", e.g. "America/New_York"
	RequestDelay time.Duration // pacing between days in a range scrape
	MaxRetries   uint
	RetryDelay   time.Duration
}

// Scraper fetches consensus pages through the resilience layer and
// extracts records from them.
type Scraper struct {
	client  *http.Client
	cfg     Config
	breaker *resilience.CircuitBreaker
	limiter *rate.Limiter
	loc     *time.Location
	log     zerolog.Logger
}

// New creates a Scraper. The breaker is shared across every fetch this
// scraper performs; pass the one protecting the consensus site.
func New(cfg Config, breaker *resilience.CircuitBreaker, log zerolog.Logger) (*Scraper, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Sport == "" {
		cfg.Sport = "mlb"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "America/New_York"
	}
	if cfg.RequestDelay <= 0 {
		cfg.RequestDelay = 2 * time.Second
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
	}

	return &Scraper{
		client:  &http.Client{Timeout: Timeout},
		cfg:     cfg,
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Every(cfg.RequestDelay), 1),
		loc:     loc,
		log:     log.With().Str("component", "scraper").Logger(),
	}, nil
}

// ScrapeDate fetches and parses the consensus page for one date.
// Fetch failures are retried per configuration and then surfaced;
// malformed rows are skipped.
func (s *Scraper) ScrapeDate(ctx context.Context, date string) ([]*consensus.Record, error) {
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), date)

	body, err := s.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	records, err := s.parsePage(body, date, url)
	if err != nil {
		return nil, err
	}

	s.log.Info().Str("date", date).Int("records", len(records)).Msg("scraped consensus page")
	return records, nil
}

// ScrapeRange scrapes each day from start to end inclusive, pacing
// requests with the configured delay. A single day's failure is logged
// and skipped; the rest of the range still returns.
func (s *Scraper) ScrapeRange(ctx context.Context, start, end time.Time) ([]*consensus.Record, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: %s before %s", end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	var all []*consensus.Record
	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		if err := s.limiter.Wait(ctx); err != nil {
			return all, err
		}

		date := day.Format("2006-01-02")
		records, err := s.ScrapeDate(ctx, date)
		if err != nil {
			s.log.Warn().Str("date", date).Err(err).Msg("skipping day in range scrape")
			continue
		}
		all = append(all, records...)
	}
	return all, nil
}

// Live scrapes today's page in the configured timezone.
func (s *Scraper) Live(ctx context.Context) ([]*consensus.Record, error) {
	return s.ScrapeDate(ctx, s.Today())
}

// Today returns today's date string in the scraper's timezone.
func (s *Scraper) Today() string {
	return time.Now().In(s.loc).Format("2006-01-02")
}

// Location returns the scraper's timezone.
func (s *Scraper) Location() *time.Location { return s.loc }

// fetch retrieves url through the circuit breaker and the retry
// wrapper. Non-2xx responses and transport errors are FetchErrors and
// retried; a request that cannot even be constructed is permanent.
func (s *Scraper) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	var body io.ReadCloser

	err := s.breaker.Call(func() error {
		return resilience.Retry(ctx, resilience.RetryConfig{
			MaxRetries: s.cfg.MaxRetries,
			Delay:      s.cfg.RetryDelay,
		}, func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return resilience.Permanent(fmt.Errorf("creating request: %w", err))
			}
			for k, v := range browserHeaders {
				req.Header.Set(k, v)
			}

			resp, err := s.client.Do(req)
			if err != nil {
				return &FetchError{URL: url, Err: err}
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return &FetchError{URL: url, StatusCode: resp.StatusCode}
			}
			body = resp.Body
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// parsePage locates the results table and runs the extractor over its
// rows. Rows the extractor rejects are dropped; duplicate games (the
// page repeats rows inside expandable sections) are deduplicated by
// game key, first occurrence wins.
func (s *Scraper) parsePage(r io.Reader, date, sourceURL string) ([]*consensus.Record, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML: %w", err)
	}

	table := doc.Find(resultsTableClass).First()
	if table.Length() == 0 {
		// Older page templates carry no marker class; the consensus
		// grid is the first table in the document there.
		table = doc.Find("table").First()
	}
	if table.Length() == 0 {
		return nil, fmt.Errorf("no results table found at %s", sourceURL)
	}

	ex := &consensus.Extractor{Sport: s.cfg.Sport, Date: date, SourceURL: sourceURL}

	var records []*consensus.Record
	seen := make(map[string]bool)

	table.Find("tr").Each(func(_ int, row *goquery.Selection) {
		cells := rowCells(row)
		if len(cells) < minRowCells {
			return
		}
		rec := ex.Extract(cells)
		if rec == nil {
			return
		}
		if key := rec.Key(); !seen[key] {
			seen[key] = true
			records = append(records, rec)
		}
	})

	return records, nil
}

// rowCells collects the trimmed text of each cell in the row.
func rowCells(row *goquery.Selection) []string {
	var cells []string
	row.Find("td, th").Each(func(_ int, cell *goquery.Selection) {
		cells = append(cells, strings.TrimSpace(cell.Text()))
	})
	return cells
}
