package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/pkaufman/fadewatch/internal/consensus"
	"github.com/pkaufman/fadewatch/internal/store"
)

// OutputFormat specifies the output format
type OutputFormat string

const (
	FormatText OutputFormat = "text"
	FormatJSON OutputFormat = "json"
)

func parseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case FormatText, FormatJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("invalid format: %s (must be 'text' or 'json')", s)
	}
}

// ScrapeResult contains one scrape invocation's output
type ScrapeResult struct {
	ScrapedAt   time.Time           `json:"scraped_at"`
	Sport       string              `json:"sport"`
	Records     []*consensus.Record `json:"records"`
	RecordCount int                 `json:"record_count"`
	Qualified   []*consensus.Record `json:"qualified,omitempty"`
}

// WriteScrapeResult writes the result in the specified format
func WriteScrapeResult(w io.Writer, result *ScrapeResult, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, result)
	}

	if result.RecordCount == 0 {
		fmt.Fprintln(w, "No consensus records found.")
		return nil
	}

	qualified := make(map[string]bool, len(result.Qualified))
	for _, rec := range result.Qualified {
		qualified[rec.Key()] = true
	}

	for _, rec := range result.Records {
		marker := " "
		if qualified[rec.Key()] {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-14s %3d%% %-5s", marker, rec.Matchup(), rec.Pct, rec.Direction)
		if rec.TotalLine > 0 {
			fmt.Fprintf(w, "  o/u %.1f", rec.TotalLine)
		}
		if rec.ExpertCount > 0 {
			fmt.Fprintf(w, "  %d experts", rec.ExpertCount)
		}
		if rec.GameTime != "" {
			fmt.Fprintf(w, "  %s", rec.GameTime)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "\nTotal: %d records", result.RecordCount)
	if len(result.Qualified) > 0 {
		fmt.Fprintf(w, ", %d qualified (*)", len(result.Qualified))
	}
	fmt.Fprintln(w)
	return nil
}

// ReportResult contains today's stats for the report command
type ReportResult struct {
	Date     time.Time        `json:"date"`
	Stats    *store.Stats     `json:"stats"`
	Sessions []*store.Session `json:"sessions,omitempty"`
}

// WriteReport writes today's stats in the specified format
func WriteReport(w io.Writer, result *ReportResult, format OutputFormat) error {
	if format == FormatJSON {
		return writeJSON(w, result)
	}

	fmt.Fprintf(w, "Report for %s\n\n", result.Date.Format("2006-01-02"))
	fmt.Fprintf(w, "  Scrape sessions: %d\n", result.Stats.Sessions)
	fmt.Fprintf(w, "  Jobs scheduled:  %d\n", result.Stats.Scheduled)
	fmt.Fprintf(w, "  Jobs running:    %d\n", result.Stats.Running)
	fmt.Fprintf(w, "  Jobs completed:  %d\n", result.Stats.Completed)
	fmt.Fprintf(w, "  Jobs failed:     %d\n", result.Stats.Failed)
	fmt.Fprintf(w, "  Jobs cancelled:  %d\n", result.Stats.Cancelled)

	if len(result.Sessions) > 0 {
		fmt.Fprintln(w, "\nRecent sessions:")
		for _, sess := range result.Sessions {
			fmt.Fprintf(w, "  %s  %3d records  %v", sess.CreatedAt.Format("15:04:05"), sess.RecordCount, sess.Duration)
			if len(sess.Errors) > 0 {
				fmt.Fprintf(w, "  (%d errors)", len(sess.Errors))
			}
			fmt.Fprintln(w)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v interface{}) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}
