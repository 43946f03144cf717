package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func ledgerCmd(rt *runtime) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the notification dedup ledger",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Drop dedup entries whose deadline is past the retention period",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := rt.ledger()
			if err != nil {
				return err
			}
			n, err := l.Purge(cmd.Context(), rt.clock.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d entries\n", n)
			return nil
		},
	})

	return cmd
}
