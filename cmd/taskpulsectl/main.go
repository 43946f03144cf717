package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	rt, err := newRuntime()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer rt.close()

	if err := newRootCmd(rt).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(rt *runtime) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "taskpulsectl",
		Short:         "Operate the taskpulse reminder backend",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(bindCmd(rt))
	rootCmd.AddCommand(unbindCmd(rt))
	rootCmd.AddCommand(channelsCmd(rt))
	rootCmd.AddCommand(scanCmd(rt))
	rootCmd.AddCommand(ledgerCmd(rt))

	return rootCmd
}
