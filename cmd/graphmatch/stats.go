package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatsCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print vertex and edge counts of the backend",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			b, err := openBackend(cmd.Context(), c.cfg, c.logger, true)
			if err != nil {
				return err
			}
			defer b.close()
			if b.stats == nil {
				return fmt.Errorf("backend %s does not report stats", b.name)
			}
			v, e, err := b.stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend: %s\nvertices: %d\nedges: %d\n", b.name, v, e)
			return nil
		},
	}
}
