// Package cli implements the fadewatch command-line interface.
//
// Five subcommands cover the daily workflow: scrape fetches and prints
// consensus records, schedule registers pregame re-scrape jobs, watch
// runs the background service until interrupted, report prints today's
// job and session stats, and cancel withdraws a scheduled job.
package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pkaufman/fadewatch/internal/config"
	"github.com/pkaufman/fadewatch/internal/logger"
	"github.com/pkaufman/fadewatch/internal/notify"
	"github.com/pkaufman/fadewatch/internal/resilience"
	"github.com/pkaufman/fadewatch/internal/scraper"
	"github.com/pkaufman/fadewatch/internal/store"
)

const (
	ExitSuccess   = 0
	ExitError     = 1
	ExitQualified = 2 // at least one record met the alert criteria
)

var (
	flagConfig  string
	flagFormat  string
	flagDryRun  bool
	flagVerbose bool
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fadewatch",
		Short: "Track betting consensus and catch pregame line movement",
		Long: `fadewatch scrapes a sports-betting over/under consensus page,
flags games where the public is heavily on one side, and re-scrapes
each game shortly before first pitch to catch late movement.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file (YAML)")
	cmd.PersistentFlags().StringVar(&flagFormat, "format", "text", "Output format: text or json")
	cmd.PersistentFlags().BoolVar(&flagDryRun, "dry-run", false, "Print notifications instead of sending them")
	cmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "Enable debug logging")

	cmd.AddCommand(newScrapeCmd())
	cmd.AddCommand(newScheduleCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newCancelCmd())

	return cmd
}

// app bundles the collaborators a subcommand needs.
type app struct {
	cfg *config.Config
	log zerolog.Logger
}

func newApp() (*app, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.Logging.Level
	if flagVerbose {
		level = "debug"
	}
	log := logger.New(level, cfg.Logging.Format)

	return &app{cfg: cfg, log: log}, nil
}

func (a *app) newScraper() (*scraper.Scraper, error) {
	breaker := resilience.NewCircuitBreaker(a.cfg.Scraper.CircuitThreshold, a.cfg.Scraper.CircuitTimeout)
	return scraper.New(scraper.Config{
		BaseURL:      a.cfg.Scraper.BaseURL,
		Sport:        a.cfg.Scraper.Sport,
		Timezone:     a.cfg.Scraper.Timezone,
		RequestDelay: a.cfg.Scraper.RequestDelay,
		MaxRetries:   uint(a.cfg.Scraper.MaxRetries),
		RetryDelay:   a.cfg.Scraper.RetryDelay,
	}, breaker, a.log)
}

func (a *app) openStore() (*store.SQLite, error) {
	loc, err := time.LoadLocation(a.cfg.Scraper.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone: %w", err)
	}
	return store.Open(a.cfg.Storage.DBPath, loc)
}

func (a *app) newNotifier() (notify.Notifier, error) {
	if flagDryRun || !a.cfg.Telegram.Enabled {
		return notify.NewDryRun(), nil
	}
	return notify.NewTelegram(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID, 3, time.Second)
}

// Execute runs the CLI
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(ExitError)
	}
}
