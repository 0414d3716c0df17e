package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:           "relaygram",
		Short:         "Telegram channel relay with debounced queues and jittered delivery",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "./relaygram.yaml", "path to the main config file (yaml or json)")

	root.AddCommand(runCmd(&cfgPath))
	root.AddCommand(checkCmd(&cfgPath))
	root.AddCommand(queuesCmd(&cfgPath))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
