package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"relaygram/internal/app"
)

func queuesCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "queues",
		Short: "list persisted queue rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, err := app.ListQueues(cmd.Context(), *cfgPath)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROFILE\tSOURCE\tMIN\tMAX\tOPEN")
			for _, r := range rows {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%t\n", r.ID, r.Profile, r.Source, r.MinID, r.MaxID, r.Open)
			}
			return tw.Flush()
		},
	}
}
