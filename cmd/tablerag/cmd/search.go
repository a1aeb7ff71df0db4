package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/Aman-CERP/tablerag/internal/errors"
	"github.com/Aman-CERP/tablerag/internal/models"
	"github.com/Aman-CERP/tablerag/internal/output"
	"github.com/Aman-CERP/tablerag/internal/search"
)

type searchOptions struct {
	format string // "text", "json"
	stats  bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed records",
		Long: `Answer a question from the saved index.

A registration identifier in the query (GSA-14, gsa 14) returns that
record directly. Anything else runs the hybrid search: BM25 and
embedding candidates are merged, re-ranked, filtered by the relevance
threshold and deduplicated per record.`,
		Example: `  tablerag search GSA-14
  tablerag search "gaushalas in Jaipur with more than 100 cattle"
  tablerag search "who runs Shanti gaushala" --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().BoolVar(&opts.stats, "stats", false, "Print sub-index and re-ranker call counts")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	if opts.format != "text" && opts.format != "json" {
		return apperrors.ValidationError(fmt.Sprintf("unknown format %q", opts.format), nil).
			WithSuggestion("Use --format text or --format json")
	}

	p, err := loadProject()
	if err != nil {
		return err
	}
	out := output.New(cmd.OutOrStdout())

	cache := models.NewCache(p.cfg, models.WithLogger(slog.Default()))
	defer func() { _ = cache.Close() }()

	engine, err := cache.NewEngine(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = engine.Close() }()

	if err := engine.Load(ctx, p.indexDir()); err != nil {
		out.Error(apperrors.UserMessage(err))
		out.Hint("Run 'tablerag build <records-file>' to create the index")
		return err
	}

	res, err := engine.Retrieve(ctx, query)
	if err != nil {
		out.Error(apperrors.UserMessage(err))
		return err
	}
	slog.Info("search_complete",
		slog.String("mode", string(res.Mode)),
		slog.Int("results", len(res.Hits)))

	if opts.format == "json" {
		return out.JSON(res)
	}

	if len(res.Hits) == 0 {
		out.Warning("No matching records")
	} else {
		out.Text(search.Render(res))
	}
	if opts.stats {
		s := engine.Stats()
		out.Newline()
		out.KeyValues(
			"Mode", string(res.Mode),
			"Candidates", fmt.Sprint(res.Candidates),
			"Lexical queries", fmt.Sprint(s.LexicalQueries),
			"Semantic queries", fmt.Sprint(s.SemanticQueries),
			"Rerank calls", fmt.Sprint(s.RerankCalls),
		)
	}
	return nil
}
