package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"relaygram/internal/app"
)

func checkCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "validate the main config, every profile and the tags file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rep, err := app.Check(*cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "env=%s storage=%s main_schedule=%q\n", rep.Env, rep.StorageDriver, rep.MainSchedule)
			if len(rep.TagGroups) > 0 {
				fmt.Fprintf(out, "tag groups: %s\n", strings.Join(rep.TagGroups, ", "))
			}
			for _, p := range rep.Profiles {
				fmt.Fprintf(out, "\nprofile %s -> %s\n", p.Name, p.Output)
				if p.Redirector != "" {
					fmt.Fprintf(out, "  secondary target: %s\n", p.Redirector)
				}
				for _, in := range p.Inputs {
					fmt.Fprintf(out, "  input %-16s close after %s\n", in.Source, in.CloseInterval)
				}
			}
			fmt.Fprintln(out, "\nok")
			return nil
		},
	}
}
