package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"taskpulse/internal/scanner"
)

func scanCmd(rt *runtime) *cobra.Command {
	var once bool
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run the deadline scanner in the foreground",
		Long: `Run the deadline scanner outside the worker.

With --once a single tick runs against the current time and its report is
printed. Without it the scanner loops until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := rt.scanner()
			if err != nil {
				return err
			}
			if once {
				report := s.Tick(cmd.Context(), rt.clock.Now())
				printReport(cmd.OutOrStdout(), report)
				return nil
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			s.Run(ctx)
			return nil
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "Run a single tick and exit")
	return cmd
}

func printReport(w io.Writer, r scanner.TickReport) {
	fmt.Fprintf(w, "window\t(%s, %s]\n", r.Now.Format(time.RFC3339), r.WindowEnd.Format(time.RFC3339))
	rows := []struct {
		label string
		n     int
	}{
		{"owners", r.Owners},
		{"evaluated", r.Evaluated},
		{"dispatched", r.Dispatched},
		{"duplicates", r.Duplicates},
		{"malformed", r.Malformed},
		{"out_of_window", r.OutOfWindow},
		{"errors", r.Errors},
	}
	for _, row := range rows {
		fmt.Fprintf(w, "%s\t%d\n", row.label, row.n)
	}
}
