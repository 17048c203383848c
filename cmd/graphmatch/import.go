package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mstrYoda/graphmatch/dataset"
)

func newImportCmd(c *cli) *cobra.Command {
	var batch int
	var reset bool
	cmd := &cobra.Command{
		Use:   "import <dataset>",
		Short: "Load a JSON, YAML or CSV dataset into the backend",
		Long: `Load a dataset into a bolt or sqlite database.

The dataset is either a .json/.yaml file with "vertices" and "edges" lists,
or a directory holding vertices.csv and edges.csv.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			f, err := dataset.Load(args[0])
			if err != nil {
				return err
			}
			cfg := *c.cfg
			switch cfg.Backend {
			case "bolt", "sqlite":
			default:
				return fmt.Errorf("backend %q does not support import (want bolt or sqlite)", cfg.Backend)
			}
			cfg.CacheSize = 0
			b, err := openBackend(ctx, &cfg, c.logger, false)
			if err != nil {
				return err
			}
			defer b.close()
			if reset {
				if r, ok := b.writer.(interface{ Reset(ctx context.Context) error }); ok {
					if err := r.Reset(ctx); err != nil {
						return err
					}
				}
			}
			st, err := dataset.Import(ctx, b.writer, f, dataset.ImportOptions{BatchSize: batch, Logger: c.logger})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d vertices and %d edges in %s\n", st.Vertices, st.Edges, st.Duration)
			return nil
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 1000, "elements per write transaction")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop existing data first (sqlite only)")
	return cmd
}
