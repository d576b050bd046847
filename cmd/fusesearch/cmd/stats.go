package cmd

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/output"
	"github.com/Aman-CERP/fusesearch/internal/telemetry"
)

// StatsOutput is the JSON output of `fusesearch stats`.
type StatsOutput struct {
	Days                int                   `json:"days"`
	TotalQueries        int64                 `json:"total_queries"`
	StrategyCounts      map[string]int64      `json:"strategy_counts"`
	LatencyDistribution map[string]int64      `json:"latency_distribution"`
	TopTerms            []telemetry.TermCount `json:"top_terms"`
	ZeroResultQueries   []string              `json:"zero_result_queries"`
}

func newStatsCmd(g *globalOptions) *cobra.Command {
	var (
		jsonOutput bool
		days       int
		top        int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show recorded query statistics",
		Long: `Display query telemetry recorded by 'search' and 'serve':
  - Searches per fusion strategy
  - Latency distribution
  - Top query terms
  - Recent zero-result queries`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if days < 1 {
				return apperrors.New(apperrors.ErrCodeInvalidInput, "--days must be at least 1", nil)
			}
			p, err := loadProject(g.dir)
			if err != nil {
				return err
			}
			if err := p.requireIndex(); err != nil {
				return err
			}
			store, err := telemetry.NewSQLiteMetricsStore(p.paths.Telemetry())
			if err != nil {
				return fmt.Errorf("open telemetry store: %w", err)
			}
			defer func() { _ = store.Close() }()

			stats, err := loadStats(store, time.Now(), days, top)
			if err != nil {
				return err
			}
			if jsonOutput {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(stats)
			}
			printStats(output.New(cmd.OutOrStdout()), stats)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().IntVar(&days, "days", 7, "Number of days to include")
	cmd.Flags().IntVar(&top, "top", 10, "Number of terms and zero-result queries to list")
	return cmd
}

func loadStats(store telemetry.MetricsStore, now time.Time, days, top int) (*StatsOutput, error) {
	to := now.Format("2006-01-02")
	from := now.AddDate(0, 0, -(days - 1)).Format("2006-01-02")

	strategies, err := store.GetStrategyCounts(from, to)
	if err != nil {
		return nil, err
	}
	latencies, err := store.GetLatencyCounts(from, to)
	if err != nil {
		return nil, err
	}
	terms, err := store.GetTopTerms(top)
	if err != nil {
		return nil, err
	}
	zero, err := store.GetZeroResultQueries(top)
	if err != nil {
		return nil, err
	}

	out := &StatsOutput{
		Days:                days,
		StrategyCounts:      strategies,
		LatencyDistribution: make(map[string]int64, len(latencies)),
		TopTerms:            terms,
		ZeroResultQueries:   zero,
	}
	for _, n := range strategies {
		out.TotalQueries += n
	}
	for b, n := range latencies {
		out.LatencyDistribution[string(b)] = n
	}
	return out, nil
}

func printStats(out *output.Writer, s *StatsOutput) {
	out.Header(fmt.Sprintf("Query statistics (last %d days)", s.Days))
	out.KeyValue("Total queries", s.TotalQueries)

	if len(s.StrategyCounts) > 0 {
		out.Newline()
		out.Header("Strategies")
		for _, k := range sortedKeys(s.StrategyCounts) {
			out.KeyValue(k, s.StrategyCounts[k])
		}
	}
	if len(s.LatencyDistribution) > 0 {
		out.Newline()
		out.Header("Latency")
		for _, b := range telemetry.AllLatencyBuckets {
			if n, ok := s.LatencyDistribution[string(b)]; ok {
				out.KeyValue(string(b), n)
			}
		}
	}

	out.Newline()
	out.Header("Top query terms")
	if len(s.TopTerms) == 0 {
		out.Status("", "(none recorded yet)")
	}
	for i, tc := range s.TopTerms {
		out.Statusf("", "%d. %s (%d)", i+1, tc.Term, tc.Count)
	}

	out.Newline()
	out.Header("Recent zero-result queries")
	if len(s.ZeroResultQueries) == 0 {
		out.Status("", "(none)")
	}
	for _, q := range s.ZeroResultQueries {
		out.Statusf("", "- %q", q)
	}
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
