package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/tablerag/internal/mcp"
	"github.com/Aman-CERP/tablerag/internal/models"
	"github.com/Aman-CERP/tablerag/internal/search"
	"github.com/Aman-CERP/tablerag/internal/telemetry"
	"github.com/Aman-CERP/tablerag/internal/watcher"
)

type serveOptions struct {
	transport   string
	addr        string
	records     string
	watch       bool
	rebuild     bool
	metricsAddr string
}

func newServeCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the MCP server",
		Long: `Serve the search_records and index_status tools over MCP.

The saved index is loaded at startup. With --records the index is built
from that file when no bundle exists (or always, with --rebuild), and
--watch rebuilds it whenever the file changes. Searches keep using the
previous index until a rebuild succeeds.

stdout belongs to the MCP stdio transport; logs go to the log file
(see 'tablerag logs').`,
		Example: `  tablerag serve
  tablerag serve --records registry.xlsx --watch
  tablerag serve --transport http --addr :8765 --metrics-addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.transport, "transport", "stdio", "Transport: stdio, http")
	cmd.Flags().StringVar(&opts.addr, "addr", "127.0.0.1:8765", "Listen address for the http transport")
	cmd.Flags().StringVar(&opts.records, "records", "", "Records file to build from and watch")
	cmd.Flags().BoolVar(&opts.watch, "watch", false, "Rebuild when the records file changes (default from server.watch)")
	cmd.Flags().BoolVar(&opts.rebuild, "rebuild", false, "Build from --records even when a bundle exists")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (default from server.metrics_addr)")

	return cmd
}

func runServe(ctx context.Context, cmd *cobra.Command, opts serveOptions) error {
	if opts.transport != "stdio" && opts.transport != "http" {
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", opts.transport)
	}
	p, err := loadProject()
	if err != nil {
		return err
	}
	if !cmd.Flags().Changed("watch") {
		opts.watch = p.cfg.Server.Watch
	}
	if opts.metricsAddr == "" {
		opts.metricsAddr = p.cfg.Server.MetricsAddr
	}
	if opts.watch && opts.records == "" {
		return fmt.Errorf("--watch needs --records")
	}
	debounce, err := p.cfg.WatchDebounce()
	if err != nil {
		return err
	}

	logger := slog.Default()
	dir := p.indexDir()
	metrics := telemetry.NewMetrics()
	queryStats := telemetry.NewQueryStats(telemetry.QueryStatsConfig{})
	engineOpts := []search.EngineOption{search.WithMetrics(metrics), search.WithQueryStats(queryStats)}

	cache := models.NewCache(p.cfg, models.WithLogger(logger))
	defer func() { _ = cache.Close() }()

	build := func(ctx context.Context) (mcp.Searcher, error) {
		engine, err := buildEngine(ctx, cache, opts.records, dir, nil, engineOpts...)
		if err != nil {
			return nil, err
		}
		return engine, nil
	}

	engine, err := startEngine(ctx, cache, dir, opts, engineOpts)
	if err != nil {
		return err
	}

	srv := mcp.NewServer(engine, mcp.WithLogger(logger), mcp.WithQueryStats(queryStats))
	defer func() { _ = srv.Close() }()

	if opts.records != "" && engine.State() != search.StateReady {
		logger.Info("initial_build", slog.String("records", opts.records))
		if err := srv.Rebuild(ctx, build); err != nil {
			logger.Error("initial_build_failed", slog.String("error", err.Error()))
		}
	}

	var w *watcher.RecordsWatcher
	if opts.watch {
		w, err = watcher.New([]string{opts.records}, watcher.Options{Debounce: debounce})
		if err != nil {
			return err
		}
		w.SetLogger(logger)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer cancel()
		return srv.Serve(gctx, opts.transport, opts.addr)
	})

	if opts.metricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, opts.metricsAddr, metrics.Handler()) })
	}

	if w != nil {
		g.Go(func() error {
			return w.Run(gctx, func(ctx context.Context, _ []watcher.FileEvent) error {
				return srv.Rebuild(ctx, build)
			})
		})
	}

	return g.Wait()
}

// startEngine loads the saved bundle. A missing or unreadable bundle is
// not fatal: the engine stays Uninitialized and searches report that no
// knowledge base is available until a build succeeds.
func startEngine(ctx context.Context, cache *models.Cache, dir string, opts serveOptions, engineOpts []search.EngineOption) (*search.Engine, error) {
	engine, err := cache.NewEngine(ctx, engineOpts...)
	if err != nil {
		return nil, err
	}
	if opts.rebuild && opts.records != "" {
		return engine, nil
	}
	if _, statErr := os.Stat(dir); statErr != nil {
		slog.Warn("index_not_found", slog.String("path", dir))
		return engine, nil
	}
	if err := engine.Load(ctx, dir); err != nil {
		slog.Warn("index_load_failed", slog.String("path", dir), slog.String("error", err.Error()))
	}
	return engine, nil
}

func serveMetrics(ctx context.Context, addr string, handler http.Handler) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("metrics_listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}
