package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mstrYoda/graphmatch"
)

// Config is the YAML configuration file. Flags override it.
type Config struct {
	Backend   string       `yaml:"backend"` // memory, bolt, sqlite, neo4j
	Path      string       `yaml:"path"`    // database file, or dataset for memory
	CacheSize int          `yaml:"cache_size"`
	LogLevel  string       `yaml:"log_level"`
	Neo4j     Neo4jConfig  `yaml:"neo4j"`
	Engine    EngineConfig `yaml:"engine"`
}

type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

type EngineConfig struct {
	Directed        bool          `yaml:"directed"`
	Incremental     bool          `yaml:"incremental"`
	DeadBranch      string        `yaml:"dead_branch"`
	Parallelism     int           `yaml:"parallelism"`
	MaxMatches      int           `yaml:"max_matches"`
	MaxIntermediate int           `yaml:"max_intermediate"`
	Timeout         time.Duration `yaml:"timeout"`
	SlowQuery       time.Duration `yaml:"slow_query"`
}

func defaultConfig() *Config {
	opts := graphmatch.DefaultOptions()
	return &Config{
		Backend:   "memory",
		CacheSize: graphmatch.DefaultCacheSize,
		LogLevel:  "warn",
		Neo4j:     Neo4jConfig{URI: "bolt://localhost:7687", Username: "neo4j"},
		Engine: EngineConfig{
			Directed:    opts.Directed,
			Incremental: opts.Incremental,
			DeadBranch:  opts.DeadBranch.String(),
			Parallelism: opts.Parallelism,
			SlowQuery:   opts.SlowQueryThreshold,
		},
	}
}

// loadConfig reads path over the defaults. A missing file is not an error
// unless the path was given explicitly.
func loadConfig(path string, explicit bool) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) && !explicit {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) logger() (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", c.LogLevel, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})), nil
}

func (c *Config) options(logger *slog.Logger) (graphmatch.Options, error) {
	policy, err := graphmatch.ParseDeadBranchPolicy(c.Engine.DeadBranch)
	if err != nil {
		return graphmatch.Options{}, err
	}
	return graphmatch.Options{
		Directed:           c.Engine.Directed,
		Incremental:        c.Engine.Incremental,
		DeadBranch:         policy,
		Parallelism:        c.Engine.Parallelism,
		MaxMatches:         c.Engine.MaxMatches,
		MaxIntermediate:    c.Engine.MaxIntermediate,
		DefaultTimeout:     c.Engine.Timeout,
		SlowQueryThreshold: c.Engine.SlowQuery,
		Logger:             logger,
	}, nil
}
