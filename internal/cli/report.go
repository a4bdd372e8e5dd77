package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var flagReportSessions int

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Print today's job and session stats",
		RunE:  runReport,
	}

	cmd.Flags().IntVar(&flagReportSessions, "sessions", 5, "Number of recent sessions to list")

	return cmd
}

func runReport(cmd *cobra.Command, args []string) error {
	format, err := parseFormat(flagFormat)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	stats, err := st.TodayStats(ctx)
	if err != nil {
		return fmt.Errorf("gathering stats: %w", err)
	}
	sessions, err := st.RecentSessions(ctx, flagReportSessions)
	if err != nil {
		return fmt.Errorf("listing sessions: %w", err)
	}

	return WriteReport(os.Stdout, &ReportResult{
		Date:     time.Now(),
		Stats:    stats,
		Sessions: sessions,
	}, format)
}
