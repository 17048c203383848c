package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mstrYoda/graphmatch"
	"github.com/mstrYoda/graphmatch/server"
)

func newServeCmd(c *cli) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP/JSON plan execution API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, b, exec, err := buildServer(ctx, c)
			if err != nil {
				return err
			}
			defer b.close()
			defer exec.Close()

			hs := &http.Server{Addr: addr, Handler: srv, ReadHeaderTimeout: 10 * time.Second}
			errc := make(chan error, 1)
			go func() { errc <- hs.ListenAndServe() }()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "  Backend : %s\n", b.name)
			fmt.Fprintf(out, "  API     : http://localhost%s/api/\n", addr)
			fmt.Fprintf(out, "  Metrics : http://localhost%s/metrics\n", addr)

			select {
			case err := <-errc:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-ctx.Done():
				c.logger.Info("shutting down", "addr", addr)
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return hs.Shutdown(sctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	return cmd
}

// buildServer opens the configured backend read-only and wraps it in an
// Executor and an HTTP server.
func buildServer(ctx context.Context, c *cli) (*server.Server, *backend, *graphmatch.Executor, error) {
	opts, err := c.cfg.options(c.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	b, err := openBackend(ctx, c.cfg, c.logger, true)
	if err != nil {
		return nil, nil, nil, err
	}
	exec := graphmatch.NewExecutor(b.adapter, opts)
	var stats server.StatsFunc
	if b.stats != nil {
		stats = func(r *http.Request) (int64, int64, error) { return b.stats(r.Context()) }
	}
	return server.New(exec, stats), b, exec, nil
}
