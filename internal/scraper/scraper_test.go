package scraper

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/pkaufman/fadewatch/internal/resilience"
)

const samplePage = `<!DOCTYPE html>
<html><body>
<h1>MLB Over/Under Consensus</h1>
<table class="consensus-table">
<tr><th>Matchup</th><th>Consensus</th><th>Time</th><th>Picks</th></tr>
<tr><td>NYY @ BOS</td><td>78% Over</td><td>7:05 pm ET</td><td>15 4</td></tr>
<tr><td>CHC @ STL</td><td>64% Under</td><td>8:15 pm ET</td><td>11 6</td></tr>
<tr><td>SF @ LAD</td><td>55% Over</td><td>10:10 pm ET</td><td>9</td></tr>
<tr><td>promo banner</td><td colspan="3">Bet now!</td></tr>
</table>
</body></html>`

const noMarkerPage = `<html><body>
<table>
<tr><td>NYY @ BOS</td><td>78% Over</td><td>7:05 pm ET</td></tr>
</table>
</body></html>`

func newTestScraper(t *testing.T, baseURL string) *Scraper {
	t.Helper()
	s, err := New(Config{
		BaseURL:      baseURL,
		Sport:        "mlb",
		Timezone:     "America/New_York",
		RequestDelay: time.Millisecond,
		MaxRetries:   0,
		RetryDelay:   time.Millisecond,
	}, resilience.NewCircuitBreaker(5, time.Minute), zerolog.Nop())
	if err != nil {
		t.Fatalf("creating scraper: %v", err)
	}
	return s
}

func TestScrapeDate(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a User-Agent header on the fetch")
		}
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	s := newTestScraper(t, srv.URL)
	records, err := s.ScrapeDate(context.Background(), "2026-09-01")
	if err != nil {
		t.Fatalf("ScrapeDate failed: %v", err)
	}

	if gotPath != "/2026-09-01" {
		t.Errorf("fetched path %q, expected /2026-09-01", gotPath)
	}
	if len(records) != 3 {
		t.Fatalf("got %d records, expected 3", len(records))
	}

	first := records[0]
	if first.AwayTeam != "NYY" || first.HomeTeam != "BOS" {
		t.Errorf("first record teams = %s @ %s", first.AwayTeam, first.HomeTeam)
	}
	if first.Pct != 78 || first.ExpertCount != 19 {
		t.Errorf("first record pct=%d experts=%d, expected 78/19", first.Pct, first.ExpertCount)
	}
	for _, rec := range records {
		if rec.Date != "2026-09-01" {
			t.Errorf("record date = %q, expected stamp 2026-09-01", rec.Date)
		}
		if rec.OverPct+rec.UnderPct != 100 {
			t.Errorf("record %s: percentages sum to %d", rec.Matchup(), rec.OverPct+rec.UnderPct)
		}
	}
}

func TestScrapeDateFallsBackToFirstTable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, noMarkerPage)
	}))
	defer srv.Close()

	s := newTestScraper(t, srv.URL)
	records, err := s.ScrapeDate(context.Background(), "2026-09-01")
	if err != nil {
		t.Fatalf("ScrapeDate failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records from unmarked table, expected 1", len(records))
	}
}

func TestScrapeDateFetchFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	s := newTestScraper(t, srv.URL)
	_, err := s.ScrapeDate(context.Background(), "2026-09-01")
	if err == nil {
		t.Fatal("expected an error for a 403 response")
	}
	var fe *FetchError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %T, expected *FetchError", err)
	}
	if fe.StatusCode != http.StatusForbidden {
		t.Errorf("status = %d, expected 403", fe.StatusCode)
	}
}

func TestScrapeDateRetries(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	s := newTestScraper(t, srv.URL)
	s.cfg.MaxRetries = 3

	records, err := s.ScrapeDate(context.Background(), "2026-09-01")
	if err != nil {
		t.Fatalf("ScrapeDate failed despite retries: %v", err)
	}
	if attempts != 3 {
		t.Errorf("server saw %d attempts, expected 3", attempts)
	}
	if len(records) != 3 {
		t.Errorf("got %d records, expected 3", len(records))
	}
}

func TestScrapeRangeSkipsFailingDay(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "-02") {
			http.Error(w, "down", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, samplePage)
	}))
	defer srv.Close()

	s := newTestScraper(t, srv.URL)
	start := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC)

	records, err := s.ScrapeRange(context.Background(), start, end)
	if err != nil {
		t.Fatalf("ScrapeRange failed: %v", err)
	}
	// Two good days of three records each; the middle day is skipped.
	if len(records) != 6 {
		t.Errorf("got %d records, expected 6 with the failing day skipped", len(records))
	}
}

func TestScrapeDateCircuitOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	breaker := resilience.NewCircuitBreaker(2, time.Minute)
	s, err := New(Config{BaseURL: srv.URL, RequestDelay: time.Millisecond, RetryDelay: time.Millisecond},
		breaker, zerolog.Nop())
	if err != nil {
		t.Fatalf("creating scraper: %v", err)
	}

	s.ScrapeDate(context.Background(), "2026-09-01")
	s.ScrapeDate(context.Background(), "2026-09-01")

	_, err = s.ScrapeDate(context.Background(), "2026-09-01")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("err = %v, expected ErrCircuitOpen after repeated failures", err)
	}
}
