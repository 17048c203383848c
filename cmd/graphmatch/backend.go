package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mstrYoda/graphmatch"
	"github.com/mstrYoda/graphmatch/boltstore"
	"github.com/mstrYoda/graphmatch/dataset"
	"github.com/mstrYoda/graphmatch/neo4jstore"
	"github.com/mstrYoda/graphmatch/sqlitestore"
)

// backend is an opened storage adapter. writer is nil for read-only
// backends.
type backend struct {
	name    string
	adapter graphmatch.StorageAdapter
	writer  graphmatch.Writer
	stats   func(ctx context.Context) (vertices, edges int64, err error)
	close   func() error
}

// openBackend opens the configured backend. Persistent backends are
// wrapped in a CachedStore when cache_size > 0.
func openBackend(ctx context.Context, cfg *Config, logger *slog.Logger, readOnly bool) (*backend, error) {
	b, err := openRaw(ctx, cfg, logger, readOnly)
	if err != nil {
		return nil, err
	}
	if b.name != "memory" && cfg.CacheSize > 0 {
		cs, err := graphmatch.NewCachedStore(b.adapter, cfg.CacheSize, nil)
		if err != nil {
			b.close()
			return nil, err
		}
		b.adapter = cs
	}
	return b, nil
}

func openRaw(ctx context.Context, cfg *Config, logger *slog.Logger, readOnly bool) (*backend, error) {
	switch cfg.Backend {
	case "", "memory":
		s := graphmatch.NewMemoryStore()
		if cfg.Path != "" {
			f, err := dataset.Load(cfg.Path)
			if err != nil {
				return nil, err
			}
			if _, err := dataset.Import(ctx, s, f, dataset.ImportOptions{Logger: logger}); err != nil {
				return nil, err
			}
		}
		return &backend{
			name:    "memory",
			adapter: s,
			writer:  s,
			stats: func(context.Context) (int64, int64, error) {
				return int64(s.VertexCount()), int64(s.EdgeCount()), nil
			},
			close: func() error { return nil },
		}, nil

	case "bolt":
		if cfg.Path == "" {
			return nil, fmt.Errorf("backend bolt requires --path")
		}
		s, err := boltstore.Open(cfg.Path, boltstore.Options{ReadOnly: readOnly, Logger: logger})
		if err != nil {
			return nil, err
		}
		return &backend{
			name:    "bolt",
			adapter: s,
			writer:  s,
			stats: func(context.Context) (int64, int64, error) {
				st, err := s.Stats()
				return int64(st.Vertices), int64(st.Edges), err
			},
			close: s.Close,
		}, nil

	case "sqlite":
		if cfg.Path == "" {
			return nil, fmt.Errorf("backend sqlite requires --path")
		}
		s, err := sqlitestore.Open(ctx, cfg.Path, sqlitestore.Options{ReadOnly: readOnly, Logger: logger})
		if err != nil {
			return nil, err
		}
		return &backend{
			name:    "sqlite",
			adapter: s,
			writer:  s,
			stats: func(ctx context.Context) (int64, int64, error) {
				st, err := s.Stats(ctx)
				return st.Vertices, st.Edges, err
			},
			close: s.Close,
		}, nil

	case "neo4j":
		s, err := neo4jstore.Open(ctx, neo4jstore.Options{
			URI:      cfg.Neo4j.URI,
			Username: cfg.Neo4j.Username,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		return &backend{
			name:    "neo4j",
			adapter: s,
			close:   func() error { return s.Close(context.Background()) },
		}, nil
	}
	return nil, fmt.Errorf("unknown backend %q (want memory, bolt, sqlite or neo4j)", cfg.Backend)
}
