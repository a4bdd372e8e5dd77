package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pkaufman/fadewatch/internal/schedule"
	"github.com/pkaufman/fadewatch/internal/store"
)

func newCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a scheduled pregame job",
		Args:  cobra.ExactArgs(1),
		RunE:  runCancel,
	}
}

func runCancel(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	st, err := a.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	id := args[0]
	pregame := schedule.NewPregame(st, nil, a.cfg.Schedule.SportOffsets, a.log)
	if err := pregame.Cancel(context.Background(), id); err != nil {
		var terr *schedule.TransitionError
		switch {
		case errors.Is(err, store.ErrNotFound):
			return fmt.Errorf("no job with ID %s", id)
		case errors.As(err, &terr):
			return fmt.Errorf("job %s is %s and can no longer be cancelled", id, terr.From)
		}
		return fmt.Errorf("cancelling job: %w", err)
	}

	fmt.Fprintf(os.Stdout, "Cancelled job %s\n", id)
	return nil
}
