package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mstrYoda/graphmatch"
)

func newExplainCmd(_ *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "explain <plan.json>",
		Short: "Validate a plan and print its instruction dataflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			p, err := graphmatch.ParsePlan(data)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, p.Summary())
			fmt.Fprint(out, p.Explain().String())
			return nil
		},
	}
}
