package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/index"
	"github.com/Aman-CERP/fusesearch/internal/logging"
	"github.com/Aman-CERP/fusesearch/internal/mcp"
	"github.com/Aman-CERP/fusesearch/internal/output"
	"github.com/Aman-CERP/fusesearch/internal/telemetry"
)

// serveOptions holds CLI flags for serve. Empty values fall back to the
// server section of the configuration.
type serveOptions struct {
	transport   string
	addr        string
	metricsAddr string
	watch       bool
}

func newServeCmd(g *globalOptions) *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Start the Model Context Protocol server exposing the search,
index_status and search_stats tools.

The stdio transport is the default. Nothing but protocol messages is
written to stdout; logs go to ~/.fusesearch/logs/server.log.

The project is indexed first when no index exists. With --watch, file
changes are re-indexed while the server runs.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), g, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "", "Transport: stdio, http (default from config)")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "Listen address for the http transport")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Re-index changed files while serving")

	return cmd
}

func runServe(ctx context.Context, g *globalOptions, opts serveOptions) error {
	startedAt := time.Now()

	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}
	cfg := p.cfg
	level := cfg.Server.LogLevel
	if g.debug {
		level = "debug"
	}
	logger, cleanup, err := logging.SetupServeMode(level)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer cleanup()

	transport := firstNonEmpty(opts.transport, cfg.Server.Transport)
	addr := firstNonEmpty(opts.addr, cfg.Server.HTTPAddr)
	metricsAddr := firstNonEmpty(opts.metricsAddr, cfg.Server.MetricsAddr)

	if !p.paths.Exists() {
		logger.Info("index_not_found_creating", slog.String("root", p.root))
		// stdout belongs to the protocol, so progress output is discarded.
		if _, err := indexProject(ctx, p, false, false, output.NewWithColor(io.Discard, false), logger); err != nil {
			logger.Error("initial_index_failed", apperrors.LogAttrs(err)...)
			return err
		}
	}

	e, err := openEngine(ctx, p, false, logger)
	if err != nil {
		logger.Error("open_index_failed", apperrors.LogAttrs(err)...)
		return err
	}
	defer func() { _ = e.Close() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	prom := telemetry.NewPromCollector(reg)

	metricsStore, err := telemetry.NewSQLiteMetricsStore(p.paths.Telemetry())
	if err != nil {
		return fmt.Errorf("open telemetry store: %w", err)
	}
	defer func() { _ = metricsStore.Close() }()
	metrics := telemetry.NewQueryMetrics(metricsStore, logger)
	defer func() {
		if err := metrics.Close(); err != nil {
			logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
		}
	}()

	s, err := e.newSearcher(cfg, telemetry.NewMulti(prom, metrics))
	if err != nil {
		return err
	}
	srv, err := mcp.NewServer(mcp.Dependencies{
		Searcher:  s,
		Items:     e.items,
		Lexical:   e.lexical,
		Vectors:   e.vectors,
		Embedder:  e.embedder,
		Metrics:   metrics,
		RootPath:  p.root,
		StartedAt: startedAt,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		// The server ending (stdin closed) stops the watcher and metrics too.
		defer cancel()
		return srv.Serve(ctx, transport, addr)
	})
	if metricsAddr != "" {
		eg.Go(func() error { return serveMetrics(ctx, metricsAddr, reg, logger) })
	}
	if opts.watch {
		ix, walker, err := e.newIndexer(p, nil)
		if err != nil {
			cancel()
			_ = eg.Wait()
			return err
		}
		w, err := index.NewWatcher(walker, cfg.WatchDebounce(), logger)
		if err != nil {
			cancel()
			_ = eg.Wait()
			return err
		}
		lock := index.NewLock(p.paths.DataDir)
		eg.Go(func() error {
			return w.Run(ctx, func(ctx context.Context, paths []string) {
				reindex(ctx, ix, lock, paths, logger)
			})
		})
	}
	return eg.Wait()
}

// reindex applies one batch of watched changes. A batch arriving while
// another process holds the index lock is dropped; that process indexes
// the same files.
func reindex(ctx context.Context, ix *index.Indexer, lock *index.Lock, paths []string, logger *slog.Logger) {
	if err := lock.TryLock(); err != nil {
		logger.Warn("watch_reindex_skipped", apperrors.LogAttrs(err)...)
		return
	}
	defer func() { _ = lock.Unlock() }()

	if _, err := ix.IndexPaths(ctx, paths); err != nil {
		logger.Error("watch_reindex_failed", apperrors.LogAttrs(err)...)
	}
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("metrics_server_started", slog.String("addr", addr))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
