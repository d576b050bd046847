package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Aman-CERP/fusesearch/internal/embed"
	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/internal/store"
	"github.com/Aman-CERP/fusesearch/internal/telemetry"
	"github.com/Aman-CERP/fusesearch/pkg/searcher"
	"github.com/Aman-CERP/fusesearch/pkg/version"
)

// ServerName is reported to MCP clients.
const ServerName = "fusesearch"

// Transports accepted by Serve.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// maxSearchLimit caps the limit a client may request.
const maxSearchLimit = 100

// Searcher runs hybrid queries. *fusion.Searcher satisfies it.
type Searcher interface {
	FuseSearch(ctx context.Context, q fusion.SearchQuery) (*fusion.FusionResult, error)
}

// Dependencies are the collaborators of a Server. Searcher, Items and
// StartedAt are required.
type Dependencies struct {
	Searcher Searcher
	Items    store.ItemStore
	Lexical  store.LexicalIndex
	Vectors  store.VectorStore
	Embedder embed.Embedder
	// Metrics backs the search_stats tool; nil disables it.
	Metrics  *telemetry.QueryMetrics
	RootPath string
	// StartedAt is the process start time reported by index_status.
	StartedAt time.Time
	Logger    *slog.Logger
}

// Server bridges MCP clients to the hybrid search engine.
type Server struct {
	mcp    *mcp.Server
	deps   Dependencies
	logger *slog.Logger
	now    func() time.Time
}

// ToolInfo describes a registered tool.
type ToolInfo struct {
	Name        string
	Description string
}

var tools = []ToolInfo{
	{
		Name: "search",
		Description: "Hybrid code and documentation search. Runs a keyword query and a semantic query in parallel " +
			"and fuses the two rankings. Results found by both are boosted. Supports language, kind and path filters.",
	},
	{
		Name:        "index_status",
		Description: "Report index size, the active embedder and server uptime. Use to check the index is built before searching.",
	},
	{
		Name:        "search_stats",
		Description: "Summarise searches served by this process: counts per strategy, failures, zero-result queries and top terms.",
	},
}

// NewServer creates the MCP server and registers its tools.
func NewServer(deps Dependencies) (*Server, error) {
	if deps.Searcher == nil {
		return nil, errors.New("searcher is required")
	}
	if deps.Items == nil {
		return nil, errors.New("item store is required")
	}
	if deps.StartedAt.IsZero() {
		return nil, errors.New("server start time is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		deps:   deps,
		logger: logger,
		now:    time.Now,
	}
	s.mcp = mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version.Version}, nil)
	s.registerTools()
	return s, nil
}

// MCPServer returns the underlying SDK server.
func (s *Server) MCPServer() *mcp.Server { return s.mcp }

// ListTools returns the registered tools.
func (s *Server) ListTools() []ToolInfo {
	return append([]ToolInfo(nil), tools...)
}

// CallTool invokes a tool by name with JSON-style arguments, bypassing the
// transport.
func (s *Server) CallTool(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case "search":
		var in SearchInput
		if err := decodeArgs(args, &in); err != nil {
			return nil, err
		}
		return s.search(ctx, in)
	case "index_status":
		return s.indexStatus(ctx)
	case "search_stats":
		return s.searchStats()
	default:
		return nil, NewMethodNotFoundError(name)
	}
}

func decodeArgs(args map[string]any, dst any) error {
	if len(args) == 0 {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return NewInvalidParamsError(err.Error())
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return NewInvalidParamsError(fmt.Sprintf("invalid arguments: %v", err))
	}
	return nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[0].Name, Description: tools[0].Description}, s.mcpSearchHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[1].Name, Description: tools[1].Description}, s.mcpIndexStatusHandler)
	mcp.AddTool(s.mcp, &mcp.Tool{Name: tools[2].Name, Description: tools[2].Description}, s.mcpSearchStatsHandler)
	s.logger.Debug("mcp_tools_registered", slog.Int("count", len(tools)))
}

func (s *Server) mcpSearchHandler(ctx context.Context, _ *mcp.CallToolRequest, in SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	out, err := s.search(ctx, in)
	if err != nil {
		return nil, SearchOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) mcpIndexStatusHandler(ctx context.Context, _ *mcp.CallToolRequest, _ IndexStatusInput) (*mcp.CallToolResult, IndexStatusOutput, error) {
	out, err := s.indexStatus(ctx)
	if err != nil {
		return nil, IndexStatusOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) mcpSearchStatsHandler(_ context.Context, _ *mcp.CallToolRequest, _ SearchStatsInput) (*mcp.CallToolResult, SearchStatsOutput, error) {
	out, err := s.searchStats()
	if err != nil {
		return nil, SearchStatsOutput{}, err
	}
	return nil, *out, nil
}

func (s *Server) search(ctx context.Context, in SearchInput) (*SearchOutput, error) {
	requestID := uuid.NewString()

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return nil, NewInvalidParamsError("query is required and must not be blank")
	}
	if in.Limit < 0 {
		return nil, NewInvalidParamsError("limit must not be negative")
	}
	q := fusion.SearchQuery{
		Text:              query,
		MaxResults:        min(in.Limit, maxSearchLimit),
		LexicalWeight:     in.LexicalWeight,
		SemanticWeight:    in.SemanticWeight,
		SemanticThreshold: in.Threshold,
		BothFoundBoost:    in.Boost,
	}
	if in.Strategy != "" {
		st, err := fusion.ParseStrategy(in.Strategy)
		if err != nil {
			return nil, NewInvalidParamsError(err.Error())
		}
		q.Strategy = st
	}
	filters := searchFilters(in)
	q.LexicalFilters, q.SemanticFilters = filters, filters

	s.logger.Info("mcp_search_started",
		slog.String("request_id", requestID),
		slog.String("query", query),
		slog.Int("limit", q.MaxResults))

	res, err := s.deps.Searcher.FuseSearch(ctx, q)
	if err != nil {
		s.logger.Warn("mcp_search_failed",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()))
		return nil, MapError(err)
	}

	resolved, err := searcher.Resolve(ctx, s.deps.Items, query, res.Hits)
	if err != nil {
		return nil, MapError(err)
	}

	out := &SearchOutput{
		Results:         make([]SearchHitOutput, 0, len(resolved)),
		Strategy:        string(res.Strategy),
		LexicalCount:    res.LexicalCount,
		SemanticCount:   res.SemanticCount,
		BothFoundCount:  res.BothFoundCount,
		Degraded:        res.Degraded,
		LexicalFailure:  string(res.LexicalFailure),
		SemanticFailure: string(res.SemanticFailure),
		ElapsedMs:       res.Elapsed.Milliseconds(),
	}
	for _, r := range resolved {
		out.Results = append(out.Results, toHitOutput(r))
	}

	s.logger.Info("mcp_search_completed",
		slog.String("request_id", requestID),
		slog.Int("result_count", len(out.Results)),
		slog.Bool("degraded", out.Degraded),
		slog.Int64("elapsed_ms", out.ElapsedMs))
	return out, nil
}

func searchFilters(in SearchInput) map[string]string {
	filters := make(map[string]string)
	if v := strings.TrimSpace(in.Language); v != "" {
		filters[store.FilterLanguage] = v
	}
	if v := strings.TrimSpace(in.Kind); v != "" {
		filters[store.FilterKind] = v
	}
	if v := strings.TrimSpace(in.PathPrefix); v != "" {
		filters[store.FilterPathPrefix] = v
	}
	if len(filters) == 0 {
		return nil
	}
	return filters
}

func toHitOutput(r searcher.ResolvedHit) SearchHitOutput {
	return SearchHitOutput{
		Path:         r.Item.Path,
		Title:        r.Item.Title,
		Language:     r.Item.Language,
		Kind:         string(r.Item.Kind),
		Score:        r.Score,
		LexicalRank:  r.LexicalRank,
		SemanticRank: r.SemanticRank,
		InBothLists:  r.FoundByBoth(),
		MatchReason:  searcher.MatchReason(r.FusedHit),
		Snippet:      r.Snippet,
	}
}

func (s *Server) indexStatus(ctx context.Context) (*IndexStatusOutput, error) {
	items, err := s.deps.Items.Count(ctx)
	if err != nil {
		return nil, MapError(fmt.Errorf("count items: %w", err))
	}
	state := make(map[string]string, 3)
	for _, key := range []string{store.StateKeyIndexedAt, store.StateKeyEmbedderModel, store.StateKeyLexical} {
		v, err := s.deps.Items.GetState(ctx, key)
		if err != nil {
			return nil, MapError(fmt.Errorf("read index state: %w", err))
		}
		state[key] = v
	}

	out := &IndexStatusOutput{
		Project: DetectProject(s.deps.RootPath),
		Stats: IndexStats{
			Items:        items,
			LastIndexed:  state[store.StateKeyIndexedAt],
			IndexedModel: state[store.StateKeyEmbedderModel],
		},
		Embedder:       EmbedderInfo{Model: "none", Status: "none"},
		LexicalBackend: state[store.StateKeyLexical],
		StartedAt:      s.deps.StartedAt.UTC().Format(time.RFC3339),
		UptimeSeconds:  int64(s.now().Sub(s.deps.StartedAt).Seconds()),
	}
	if s.deps.Lexical != nil {
		if n, err := s.deps.Lexical.Count(); err == nil {
			out.Stats.LexicalDocs = n
		}
	}
	if s.deps.Vectors != nil {
		out.Stats.Vectors = s.deps.Vectors.Count()
	}
	if e := s.deps.Embedder; e != nil {
		out.Embedder = EmbedderInfo{Model: e.ModelName(), Dimensions: e.Dimensions(), Status: "ready"}
		if indexed := state[store.StateKeyEmbedderModel]; indexed != "" && indexed != e.ModelName() {
			out.Embedder.Status = "mismatch"
		}
	}
	return out, nil
}

func (s *Server) searchStats() (*SearchStatsOutput, error) {
	if s.deps.Metrics == nil {
		return nil, &MCPError{Code: ErrCodeInternalError, Message: "search statistics are not enabled"}
	}
	snap := s.deps.Metrics.Snapshot()

	out := &SearchStatsOutput{
		TotalQueries:        snap.TotalQueries,
		FailedQueries:       snap.FailedQueries,
		DegradedQueries:     snap.DegradedQueries,
		ZeroResultPct:       snap.ZeroResultPercentage(),
		OverlapRatio:        snap.OverlapRatio(),
		ExactRepeatRate:     snap.ExactRepeatRate,
		StrategyCounts:      snap.StrategyCounts,
		LatencyDistribution: make(map[string]int64, len(snap.LatencyDistribution)),
		TopTerms:            make([]TermCount, 0, len(snap.TopTerms)),
		ZeroResultQueries:   snap.ZeroResultQueries,
		Since:               snap.Since.UTC().Format(time.RFC3339),
	}
	for bucket, n := range snap.LatencyDistribution {
		out.LatencyDistribution[string(bucket)] = n
	}
	for _, tc := range snap.TopTerms {
		out.TopTerms = append(out.TopTerms, TermCount{Term: tc.Term, Count: tc.Count})
	}
	return out, nil
}

// Serve runs the server on transport until ctx is done. addr is used by the
// http transport only.
func (s *Server) Serve(ctx context.Context, transport, addr string) error {
	s.logger.Info("mcp_server_starting",
		slog.String("transport", transport),
		slog.String("addr", addr))

	switch transport {
	case TransportStdio, "":
		err := s.mcp.Run(ctx, &mcp.StdioTransport{})
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("mcp_server_stopped", slog.String("error", err.Error()))
			return err
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	case TransportHTTP:
		return s.serveHTTP(ctx, addr)
	default:
		return fmt.Errorf("unknown transport: %s (supported: stdio, http)", transport)
	}
}

func (s *Server) serveHTTP(ctx context.Context, addr string) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("mcp http server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown mcp http server: %w", err)
		}
		s.logger.Info("mcp_server_stopped")
		return nil
	}
}
