package mcp

// SearchInput is the input schema of the search tool.
type SearchInput struct {
	Query          string  `json:"query" jsonschema:"the search query; keyword syntax of the lexical backend is supported"`
	Limit          int     `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
	Strategy       string  `json:"strategy,omitempty" jsonschema:"fusion strategy: rrf, linear or multiplicative"`
	LexicalWeight  float64 `json:"lexical_weight,omitempty" jsonschema:"weight of the keyword backend"`
	SemanticWeight float64 `json:"semantic_weight,omitempty" jsonschema:"weight of the semantic backend"`
	Threshold      float64 `json:"threshold,omitempty" jsonschema:"minimum semantic similarity between 0 and 1"`
	Boost          float64 `json:"boost,omitempty" jsonschema:"score multiplier for results found by both backends"`
	Language       string  `json:"language,omitempty" jsonschema:"filter by language, e.g. go, python, markdown"`
	Kind           string  `json:"kind,omitempty" jsonschema:"filter by kind: code, docs, config or text"`
	PathPrefix     string  `json:"path_prefix,omitempty" jsonschema:"filter by path prefix relative to the project root"`
}

// SearchOutput is the output schema of the search tool.
type SearchOutput struct {
	Results         []SearchHitOutput `json:"results" jsonschema:"fused results, best first"`
	Strategy        string            `json:"strategy"`
	LexicalCount    int               `json:"lexical_count" jsonschema:"results the keyword backend contributed"`
	SemanticCount   int               `json:"semantic_count" jsonschema:"results the semantic backend contributed"`
	BothFoundCount  int               `json:"both_found_count" jsonschema:"results both backends returned"`
	Degraded        bool              `json:"degraded" jsonschema:"true when one backend failed and the other answered alone"`
	LexicalFailure  string            `json:"lexical_failure,omitempty"`
	SemanticFailure string            `json:"semantic_failure,omitempty"`
	ElapsedMs       int64             `json:"elapsed_ms"`
}

// SearchHitOutput is one search result.
type SearchHitOutput struct {
	Path         string  `json:"path" jsonschema:"file path relative to the project root"`
	Title        string  `json:"title,omitempty"`
	Language     string  `json:"language,omitempty"`
	Kind         string  `json:"kind,omitempty"`
	Score        float64 `json:"score"`
	LexicalRank  int     `json:"lexical_rank,omitempty"`
	SemanticRank int     `json:"semantic_rank,omitempty"`
	InBothLists  bool    `json:"in_both_lists,omitempty" jsonschema:"true if both keyword and semantic search returned the result"`
	MatchReason  string  `json:"match_reason" jsonschema:"why the result matched"`
	Snippet      string  `json:"snippet,omitempty"`
}

// IndexStatusInput is the (empty) input schema of the index_status tool.
type IndexStatusInput struct{}

// IndexStatusOutput is the output schema of the index_status tool.
type IndexStatusOutput struct {
	Project        ProjectInfo  `json:"project"`
	Stats          IndexStats   `json:"stats"`
	Embedder       EmbedderInfo `json:"embedder"`
	LexicalBackend string       `json:"lexical_backend"`
	StartedAt      string       `json:"started_at"`
	UptimeSeconds  int64        `json:"uptime_seconds"`
}

// IndexStats counts indexed content.
type IndexStats struct {
	Items        int    `json:"items"`
	LexicalDocs  int    `json:"lexical_docs"`
	Vectors      int    `json:"vectors"`
	LastIndexed  string `json:"last_indexed,omitempty"`
	IndexedModel string `json:"indexed_model,omitempty"`
}

// EmbedderInfo describes the query embedder.
type EmbedderInfo struct {
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
	// Status is "ready", "mismatch" when the index was built with another
	// model, or "none".
	Status string `json:"status"`
}

// SearchStatsInput is the (empty) input schema of the search_stats tool.
type SearchStatsInput struct{}

// SearchStatsOutput is the output schema of the search_stats tool.
type SearchStatsOutput struct {
	TotalQueries        int64            `json:"total_queries"`
	FailedQueries       int64            `json:"failed_queries"`
	DegradedQueries     int64            `json:"degraded_queries"`
	ZeroResultPct       float64          `json:"zero_result_pct"`
	OverlapRatio        float64          `json:"overlap_ratio" jsonschema:"share of returned results found by both backends"`
	ExactRepeatRate     float64          `json:"exact_repeat_rate"`
	StrategyCounts      map[string]int64 `json:"strategy_counts"`
	LatencyDistribution map[string]int64 `json:"latency_distribution"`
	TopTerms            []TermCount      `json:"top_terms"`
	ZeroResultQueries   []string         `json:"zero_result_queries"`
	Since               string           `json:"since"`
}

// TermCount is a query term and its frequency.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}
