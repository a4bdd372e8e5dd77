package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkaufman/fadewatch/internal/consensus"
)

var (
	flagScrapeDate string
	flagScrapeDays int
)

func newScrapeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scrape",
		Short: "Fetch and print today's consensus records",
		Long: `Fetches the consensus page for one day (default today) or a
range of past days, extracts records, and prints them. Records meeting
the alert criteria are marked; the exit code is 2 when any qualify.`,
		RunE: runScrape,
	}

	cmd.Flags().StringVar(&flagScrapeDate, "date", "", "Date to scrape (YYYY-MM-DD, default today)")
	cmd.Flags().IntVar(&flagScrapeDays, "days", 1, "Number of days to scrape, ending at --date")

	return cmd
}

func runScrape(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(flagFormat)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	sc, err := a.newScraper()
	if err != nil {
		return err
	}

	ctx := context.Background()
	end := time.Now().In(sc.Location())
	if flagScrapeDate != "" {
		end, err = time.ParseInLocation("2006-01-02", flagScrapeDate, sc.Location())
		if err != nil {
			return fmt.Errorf("invalid --date: %w", err)
		}
	}

	var records []*consensus.Record
	if flagScrapeDays > 1 {
		start := end.AddDate(0, 0, -(flagScrapeDays - 1))
		records, err = sc.ScrapeRange(ctx, start, end)
	} else {
		records, err = sc.ScrapeDate(ctx, end.Format("2006-01-02"))
	}
	if err != nil {
		return fmt.Errorf("scraping: %w", err)
	}

	criteria := consensus.AlertCriteria{
		Threshold:  a.cfg.Alert.Threshold,
		MinExperts: a.cfg.Alert.MinExperts,
	}
	qualified := criteria.FilterQualified(records)

	result := &ScrapeResult{
		ScrapedAt:   time.Now().UTC(),
		Sport:       a.cfg.Scraper.Sport,
		Records:     records,
		RecordCount: len(records),
		Qualified:   qualified,
	}
	if err := WriteScrapeResult(os.Stdout, result, format); err != nil {
		return fmt.Errorf("writing output: %w", err)
	}

	if len(qualified) > 0 {
		os.Exit(ExitQualified)
	}
	return nil
}
