package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rewired-gh/trendscout/internal/models"
)

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run <mission-id>",
		Short: "Run a mission once",
		Long: `Run a mission once and print the finished run.

Pair failures are recorded in the run's errors and do not fail the run.
The command exits non-zero only when the run ends FAILED.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMission(ctx, cmd, opts, args[0])
		},
	}
}

func runMission(ctx context.Context, cmd *cobra.Command, opts *rootOptions, missionID string) error {
	a, err := newApp(ctx, opts, true)
	if err != nil {
		return err
	}
	defer a.Close()

	run, runErr := a.runner.Run(ctx, missionID, models.TriggerManual)

	out := cmd.OutOrStdout()
	if opts.Format == "json" {
		if err := printJSON(out, run); err != nil {
			return err
		}
	} else {
		printRun(out, run)
	}

	if runErr != nil {
		return runErr
	}
	if run.Status == models.RunFailed {
		return fmt.Errorf("run %s failed: %s", run.ID, run.ErrorMessage)
	}
	return nil
}
