package main

import (
	"log/slog"

	"github.com/spf13/cobra"
)

// cli carries the resolved configuration to subcommands.
type cli struct {
	cfgFile  string
	backend  string
	path     string
	logLevel string

	cfg    *Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:           "graphmatch",
		Short:         "Execute subgraph matching plans against a data graph",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.init(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&c.cfgFile, "config", "graphmatch.yaml", "config file")
	pf.StringVar(&c.backend, "backend", "", "storage backend: memory, bolt, sqlite, neo4j")
	pf.StringVar(&c.path, "path", "", "database file, or dataset for the memory backend")
	pf.StringVar(&c.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newRunCmd(c),
		newImportCmd(c),
		newExplainCmd(c),
		newStatsCmd(c),
		newServeCmd(c),
		newBenchCmd(c),
	)
	return root
}

// init loads the config file and applies the persistent flags over it.
func (c *cli) init(cmd *cobra.Command) error {
	cfg, err := loadConfig(c.cfgFile, cmd.Flags().Changed("config"))
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("backend") {
		cfg.Backend = c.backend
	}
	if cmd.Flags().Changed("path") {
		cfg.Path = c.path
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = c.logLevel
	}
	logger, err := cfg.logger()
	if err != nil {
		return err
	}
	c.cfg, c.logger = cfg, logger
	return nil
}
