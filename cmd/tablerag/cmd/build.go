package cmd

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/tablerag/internal/models"
	"github.com/Aman-CERP/tablerag/internal/record"
	"github.com/Aman-CERP/tablerag/internal/search"
	"github.com/Aman-CERP/tablerag/internal/ui"
)

type buildOptions struct {
	plain bool
}

func newBuildCmd() *cobra.Command {
	var opts buildOptions

	cmd := &cobra.Command{
		Use:   "build <records-file>",
		Short: "Index a registry export",
		Long: `Normalize the records in a registry export, build the BM25 and
embedding indexes and save them as a bundle.

Supported formats: .xlsx, .csv, .json, .yaml. The bundle is written to
index.dir (default .tablerag/index) or --index. An existing bundle is
replaced only after the new one is fully written.`,
		Example: `  tablerag build registry.xlsx
  tablerag build exports/2026-10.csv --index /srv/tablerag/index
  tablerag build registry.json --plain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBuild(cmd.Context(), cmd, args[0], opts)
		},
	}

	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Plain progress output (no TUI)")

	return cmd
}

func runBuild(ctx context.Context, cmd *cobra.Command, path string, opts buildOptions) error {
	p, err := loadProject()
	if err != nil {
		return err
	}
	dir := p.indexDir()

	renderer := ui.NewRenderer(ui.NewConfig(cmd.OutOrStdout(),
		ui.WithForcePlain(opts.plain),
		ui.WithNoColor(ui.DetectNoColor()),
		ui.WithSource(filepath.Base(path))))
	if err := renderer.Start(ctx); err != nil {
		return err
	}
	defer func() { _ = renderer.Stop() }()

	cache := models.NewCache(p.cfg, models.WithLogger(slog.Default()))
	defer func() { _ = cache.Close() }()

	start := time.Now()
	engine, err := buildEngine(ctx, cache, path, dir, renderer)
	if err != nil {
		renderer.AddError(ui.ErrorEvent{Err: err})
		return err
	}
	defer func() { _ = engine.Close() }()

	info := engine.Info()
	renderer.Complete(ui.CompletionStats{
		Records:  info.Records,
		Units:    info.Units,
		BuildID:  info.BuildID,
		Bundle:   dir,
		Duration: time.Since(start),
		Embedder: ui.EmbedderInfo{Model: info.EmbedderModel, Dimensions: info.Dimensions},
		Reranker: info.Reranker,
	})
	return nil
}

// buildEngine loads the records file, builds a fresh engine and saves its
// bundle to dir. r may be nil.
func buildEngine(ctx context.Context, cache *models.Cache, path, dir string, r ui.Renderer, opts ...search.EngineOption) (*search.Engine, error) {
	stage := func(s ui.Stage, msg string) {
		if r != nil {
			r.UpdateProgress(ui.ProgressEvent{Stage: s, Message: msg})
		}
	}

	stage(ui.StageLoad, "reading "+path)
	rows, err := record.LoadFile(path)
	if err != nil {
		return nil, err
	}
	slog.Info("records_loaded", slog.String("path", path), slog.Int("rows", len(rows)))

	if r != nil {
		opts = append(opts, search.WithProgress(ui.EngineProgress(r)))
	}
	engine, err := cache.NewEngine(ctx, opts...)
	if err != nil {
		return nil, err
	}
	if err := engine.Build(ctx, rows); err != nil {
		_ = engine.Close()
		return nil, err
	}

	stage(ui.StageSave, "writing "+dir)
	if err := engine.Save(ctx, dir); err != nil {
		_ = engine.Close()
		return nil, err
	}
	return engine, nil
}
