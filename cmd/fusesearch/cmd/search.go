package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/internal/output"
	"github.com/Aman-CERP/fusesearch/internal/store"
	"github.com/Aman-CERP/fusesearch/internal/telemetry"
	"github.com/Aman-CERP/fusesearch/pkg/searcher"
)

// searchOptions holds CLI flags for search.
type searchOptions struct {
	limit          int
	strategy       string
	lexicalWeight  float64
	semanticWeight float64
	threshold      float64
	boost          float64
	language       string
	kind           string
	pathPrefix     string
	format         string
}

func newSearchCmd(g *globalOptions) *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed project",
		Long: `Search the indexed project with hybrid search.

The query runs against the keyword index and the vector index in parallel.
The two rankings are fused with the configured strategy (rrf, linear or
multiplicative) and results found by both are boosted.`,
		Example: `  fusesearch search "config loader"
  fusesearch search "retry backoff" --strategy linear --lexical-weight 0.3 --semantic-weight 0.7
  fusesearch search "setup" --kind docs --limit 5
  fusesearch search "handler" --path-prefix internal/ --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(cmd.Context(), cmd, g, strings.Join(args, " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().StringVarP(&opts.strategy, "strategy", "s", "", "Fusion strategy: rrf, linear, multiplicative")
	cmd.Flags().Float64Var(&opts.lexicalWeight, "lexical-weight", 0, "Weight of the keyword search")
	cmd.Flags().Float64Var(&opts.semanticWeight, "semantic-weight", 0, "Weight of the semantic search")
	cmd.Flags().Float64Var(&opts.threshold, "threshold", 0, "Minimum semantic similarity (0-1)")
	cmd.Flags().Float64Var(&opts.boost, "boost", 0, "Score multiplier for results found by both searches")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language (e.g. go, python)")
	cmd.Flags().StringVarP(&opts.kind, "kind", "k", "", "Filter by kind: code, docs, config, text")
	cmd.Flags().StringVar(&opts.pathPrefix, "path-prefix", "", "Filter by path prefix")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func (o searchOptions) query(text string) (fusion.SearchQuery, error) {
	q := fusion.SearchQuery{
		Text:              text,
		MaxResults:        o.limit,
		LexicalWeight:     o.lexicalWeight,
		SemanticWeight:    o.semanticWeight,
		SemanticThreshold: o.threshold,
		BothFoundBoost:    o.boost,
	}
	if o.strategy != "" {
		st, err := fusion.ParseStrategy(o.strategy)
		if err != nil {
			return q, apperrors.New(apperrors.ErrCodeInvalidInput, err.Error(), err)
		}
		q.Strategy = st
	}
	filters := make(map[string]string)
	for key, v := range map[string]string{
		store.FilterLanguage:   o.language,
		store.FilterKind:       o.kind,
		store.FilterPathPrefix: o.pathPrefix,
	} {
		if v = strings.TrimSpace(v); v != "" {
			filters[key] = v
		}
	}
	if len(filters) > 0 {
		q.LexicalFilters, q.SemanticFilters = filters, filters
	}
	return q, nil
}

func runSearch(ctx context.Context, cmd *cobra.Command, g *globalOptions, text string, opts searchOptions) error {
	format, err := output.ParseFormat(opts.format)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInvalidInput, err.Error(), err)
	}
	q, err := opts.query(text)
	if err != nil {
		return err
	}

	p, err := loadProject(g.dir)
	if err != nil {
		return err
	}
	if err := p.requireIndex(); err != nil {
		return err
	}
	logger := slog.Default()

	e, err := openEngine(ctx, p, false, logger)
	if err != nil {
		return err
	}
	defer func() { _ = e.Close() }()

	var obs fusion.Observer
	metricsStore, err := telemetry.NewSQLiteMetricsStore(p.paths.Telemetry())
	if err != nil {
		logger.Warn("telemetry_unavailable", slog.String("error", err.Error()))
	} else {
		defer func() { _ = metricsStore.Close() }()
		cfg := telemetry.DefaultQueryMetricsConfig()
		cfg.FlushInterval = 0
		metrics := telemetry.NewQueryMetricsWithConfig(metricsStore, cfg, logger)
		defer func() {
			if err := metrics.Close(); err != nil {
				logger.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		}()
		obs = metrics
	}

	s, err := e.newSearcher(p.cfg, obs)
	if err != nil {
		return err
	}
	res, err := s.FuseSearch(ctx, q)
	if err != nil {
		return err
	}
	hits, err := searcher.Resolve(ctx, e.items, q.Text, res.Hits)
	if err != nil {
		return err
	}

	rep := output.NewSearchReport(text, res, hits)
	if format == output.FormatJSON {
		return output.WriteJSON(cmd.OutOrStdout(), rep)
	}
	output.New(cmd.OutOrStdout()).SearchResults(rep)
	return nil
}
