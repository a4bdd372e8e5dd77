package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkaufman/fadewatch/internal/logger"
	"github.com/pkaufman/fadewatch/internal/service"
)

var flagNoSchedule bool

func newWatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Schedule today's games and run the background service",
		Long: `Scrapes today's page, registers pregame jobs, then runs the
background service until SIGINT or SIGTERM. Due jobs are re-scraped
and significant consensus movement is sent to the notifier.`,
		RunE: runWatch,
	}

	cmd.Flags().BoolVar(&flagNoSchedule, "no-schedule", false, "Skip the initial scrape, only execute existing jobs")

	return cmd
}

func runWatch(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	sc, err := a.newScraper()
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if !flagNoSchedule {
		started := time.Now()
		records, err := sc.Live(ctx)
		if err != nil {
			return fmt.Errorf("initial scrape: %w", err)
		}
		if _, err := st.SaveSession(ctx, records, "", time.Since(started), nil); err != nil {
			a.log.Error().Err(err).Msg("failed to save scrape session")
		}
		count, err := scheduleRecords(ctx, a, sc.Location(), st, records)
		if err != nil {
			return err
		}
		a.log.Info().Int("jobs", count).Int("records", len(records)).Msg("initial scheduling done")
	}

	metrics := logger.NewMetrics()
	svc := service.New(service.Config{
		PollInterval: a.cfg.Schedule.PollInterval,
		Tolerance:    a.cfg.Schedule.Tolerance,
		JobTimeout:   a.cfg.Service.JobTimeout,
		MinDelta:     a.cfg.Alert.MinDelta,
		CleanupCron:  a.cfg.Service.CleanupCron,
		ReportCron:   a.cfg.Service.ReportCron,
		Retention:    time.Duration(a.cfg.Service.RetentionDays) * 24 * time.Hour,
	}, sc, st, st, notifier, metrics, a.log)

	if err := svc.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	a.log.Info().Msg("shutting down")
	svc.Stop()
	return nil
}
