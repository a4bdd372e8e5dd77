package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pkaufman/fadewatch/internal/consensus"
	"github.com/pkaufman/fadewatch/internal/notify"
	"github.com/pkaufman/fadewatch/internal/schedule"
	"github.com/pkaufman/fadewatch/internal/store"
)

var flagAlertNow bool

func newScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Scrape today and register pregame re-scrape jobs",
		Long: `Scrapes today's consensus page and registers one pregame
re-scrape job per game with a parseable start time. Re-running is
idempotent. With --alert, records meeting the alert criteria are also
sent to the notifier immediately.`,
		RunE: runSchedule,
	}

	cmd.Flags().BoolVar(&flagAlertNow, "alert", false, "Send alerts for qualifying records now")

	return cmd
}

func runSchedule(cmd *cobra.Command, args []string) error {
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

	ctx := context.Background()
	started := time.Now()
	records, err := sc.Live(ctx)
	if err != nil {
		return fmt.Errorf("scraping: %w", err)
	}
	if _, err := st.SaveSession(ctx, records, "", time.Since(started), nil); err != nil {
		a.log.Error().Err(err).Msg("failed to save scrape session")
	}

	count, err := scheduleRecords(ctx, a, sc.Location(), st, records)
	if err != nil {
		return err
	}
	fmt.Printf("Scheduled %d pregame jobs from %d records\n", count, len(records))

	if flagAlertNow {
		notifier, err := a.newNotifier()
		if err != nil {
			return err
		}
		criteria := consensus.AlertCriteria{
			Threshold:  a.cfg.Alert.Threshold,
			MinExperts: a.cfg.Alert.MinExperts,
		}
		sent := 0
		for _, rec := range criteria.FilterQualified(records) {
			if err := notifier.Send(ctx, notify.FormatAlert(rec)); err != nil {
				a.log.Error().Err(err).Str("matchup", rec.Matchup()).Msg("failed to send alert")
				continue
			}
			sent++
		}
		fmt.Printf("Sent %d alerts\n", sent)
	}

	return nil
}

// scheduleRecords registers a pregame job per record, carrying the
// current consensus as the movement baseline.
func scheduleRecords(ctx context.Context, a *app, loc *time.Location, st *store.SQLite, records []*consensus.Record) (int, error) {
	offsets := a.cfg.Schedule.SportOffsets
	if offsets == nil {
		offsets = map[string]int{}
	}
	if _, ok := offsets[a.cfg.Scraper.Sport]; !ok {
		offsets[a.cfg.Scraper.Sport] = a.cfg.Schedule.OffsetMinutes
	}
	pregame := schedule.NewPregame(st, loc, offsets, a.log)

	events := make([]schedule.Event, 0, len(records))
	for _, rec := range records {
		ev := schedule.Event{
			AwayTeam: rec.AwayTeam,
			HomeTeam: rec.HomeTeam,
			GameTime: rec.GameTime,
		}
		if rec.HasConsensus() {
			ev.Baseline = &schedule.Result{
				OverPct:     rec.OverPct,
				UnderPct:    rec.UnderPct,
				Direction:   rec.Direction,
				Pct:         rec.Pct,
				ExpertCount: rec.ExpertCount,
			}
		}
		events = append(events, ev)
	}

	return pregame.ScheduleDay(ctx, a.cfg.Scraper.Sport, events)
}
