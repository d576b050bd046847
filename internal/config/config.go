// Package config loads fusesearch configuration from defaults, the user
// config file, the project config file and FUSESEARCH_* environment
// variables, in that order of precedence.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

const (
	// ProjectConfigFile is looked up in the project root.
	ProjectConfigFile = ".fusesearch.yaml"
	// DataDirName holds a project's index files.
	DataDirName = ".fusesearch"
	envPrefix   = "FUSESEARCH_"
)

// Config is the complete fusesearch configuration.
type Config struct {
	Version    int              `yaml:"version" json:"version"`
	Search     SearchConfig     `yaml:"search" json:"search"`
	Paths      PathsConfig      `yaml:"paths" json:"paths"`
	Embeddings EmbeddingsConfig `yaml:"embeddings" json:"embeddings"`
	Server     ServerConfig     `yaml:"server" json:"server"`
}

// SearchConfig holds fusion defaults and backend settings.
type SearchConfig struct {
	Strategy          string  `yaml:"strategy" json:"strategy"`
	LexicalWeight     float64 `yaml:"lexical_weight" json:"lexical_weight"`
	SemanticWeight    float64 `yaml:"semantic_weight" json:"semantic_weight"`
	RRFConstant       int     `yaml:"rrf_constant" json:"rrf_constant"`
	BothFoundBoost    float64 `yaml:"both_found_boost" json:"both_found_boost"`
	SemanticThreshold float64 `yaml:"semantic_threshold" json:"semantic_threshold"`
	BackendTimeout    string  `yaml:"backend_timeout" json:"backend_timeout"`
	ExpansionFactor   int     `yaml:"expansion_factor" json:"expansion_factor"`
	MaxResults        int     `yaml:"max_results" json:"max_results"`
	MaxResultsLimit   int     `yaml:"max_results_limit" json:"max_results_limit"`
	// LexicalBackend is "bleve" or "sqlite".
	LexicalBackend string `yaml:"lexical_backend" json:"lexical_backend"`
}

// PathsConfig selects the files to index. Exclude patterns from config
// files are appended to the defaults, not substituted.
type PathsConfig struct {
	Include      []string `yaml:"include" json:"include"`
	Exclude      []string `yaml:"exclude" json:"exclude"`
	MaxFileBytes int64    `yaml:"max_file_bytes" json:"max_file_bytes"`
}

// EmbeddingsConfig configures the static embedder and its cache.
type EmbeddingsConfig struct {
	Dimensions    int `yaml:"dimensions" json:"dimensions"`
	CacheSize     int `yaml:"cache_size" json:"cache_size"`
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	BatchSize     int `yaml:"batch_size" json:"batch_size"`
}

// ServerConfig configures `fusesearch serve`.
type ServerConfig struct {
	// Transport is "stdio" or "http".
	Transport string `yaml:"transport" json:"transport"`
	HTTPAddr  string `yaml:"http_addr" json:"http_addr"`
	LogLevel  string `yaml:"log_level" json:"log_level"`
	// MetricsAddr serves Prometheus metrics when non-empty.
	MetricsAddr   string `yaml:"metrics_addr" json:"metrics_addr"`
	WatchDebounce string `yaml:"watch_debounce" json:"watch_debounce"`
}

var defaultExcludePatterns = []string{
	"**/vendor/**",
	"**/dist/**",
	"**/build/**",
	"**/*.pb.go",
	"**/*_generated.go",
}

// NewConfig returns the built-in defaults.
func NewConfig() *Config {
	return &Config{
		Version: 1,
		Search: SearchConfig{
			Strategy:        string(fusion.StrategyRRF),
			LexicalWeight:   0.35,
			SemanticWeight:  0.65,
			RRFConstant:     fusion.DefaultRRFConstant,
			BothFoundBoost:  fusion.DefaultBothFoundBoost,
			BackendTimeout:  "5s",
			ExpansionFactor: fusion.DefaultExpansionFactor,
			MaxResults:      fusion.DefaultMaxResults,
			MaxResultsLimit: 100,
			LexicalBackend:  string(store.LexicalBleve),
		},
		Paths: PathsConfig{
			Include:      []string{},
			Exclude:      append([]string(nil), defaultExcludePatterns...),
			MaxFileBytes: 1 << 20,
		},
		Embeddings: EmbeddingsConfig{
			Dimensions:    256,
			CacheSize:     1000,
			RetryAttempts: 2,
			BatchSize:     32,
		},
		Server: ServerConfig{
			Transport:     "stdio",
			HTTPAddr:      "127.0.0.1:8765",
			LogLevel:      "info",
			WatchDebounce: "500ms",
		},
	}
}

// GetUserConfigPath follows XDG: $XDG_CONFIG_HOME/fusesearch/config.yaml,
// falling back to ~/.config/fusesearch/config.yaml.
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "fusesearch", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "fusesearch", "config.yaml")
	}
	return filepath.Join(home, ".config", "fusesearch", "config.yaml")
}

// Load builds the configuration for the project rooted at dir.
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadYAML(GetUserConfigPath()); err != nil {
		return nil, err
	}
	if err := cfg.loadYAML(filepath.Join(dir, ProjectConfigFile)); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadYAML overlays the keys present in path onto c. A missing file is not
// an error.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return apperrors.ConfigError(fmt.Sprintf("read config file %s", path), err)
	}

	excludes := c.Paths.Exclude
	c.Paths.Exclude = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		c.Paths.Exclude = excludes
		return apperrors.ConfigError(fmt.Sprintf("parse config file %s", path), err).
			WithDetail("file", path)
	}
	c.Paths.Exclude = appendUnique(excludes, c.Paths.Exclude...)
	return nil
}

func appendUnique(dst []string, more ...string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range more {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}

// applyEnvOverrides reads FUSESEARCH_* variables. Malformed values are
// configuration errors.
func (c *Config) applyEnvOverrides() error {
	strs := map[string]*string{
		"STRATEGY":        &c.Search.Strategy,
		"BACKEND_TIMEOUT": &c.Search.BackendTimeout,
		"LEXICAL_BACKEND": &c.Search.LexicalBackend,
		"TRANSPORT":       &c.Server.Transport,
		"HTTP_ADDR":       &c.Server.HTTPAddr,
		"LOG_LEVEL":       &c.Server.LogLevel,
		"METRICS_ADDR":    &c.Server.MetricsAddr,
		"WATCH_DEBOUNCE":  &c.Server.WatchDebounce,
	}
	for name, dst := range strs {
		if v, ok := os.LookupEnv(envPrefix + name); ok {
			*dst = v
		}
	}

	floats := map[string]*float64{
		"LEXICAL_WEIGHT":     &c.Search.LexicalWeight,
		"SEMANTIC_WEIGHT":    &c.Search.SemanticWeight,
		"BOTH_FOUND_BOOST":   &c.Search.BothFoundBoost,
		"SEMANTIC_THRESHOLD": &c.Search.SemanticThreshold,
	}
	for name, dst := range floats {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return apperrors.ConfigError(fmt.Sprintf("%s%s: not a number: %q", envPrefix, name, v), err)
		}
		*dst = f
	}

	ints := map[string]*int{
		"RRF_CONSTANT":      &c.Search.RRFConstant,
		"EXPANSION_FACTOR":  &c.Search.ExpansionFactor,
		"MAX_RESULTS":       &c.Search.MaxResults,
		"MAX_RESULTS_LIMIT": &c.Search.MaxResultsLimit,
		"CACHE_SIZE":        &c.Embeddings.CacheSize,
	}
	for name, dst := range ints {
		v, ok := os.LookupEnv(envPrefix + name)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return apperrors.ConfigError(fmt.Sprintf("%s%s: not an integer: %q", envPrefix, name, v), err)
		}
		*dst = n
	}
	return nil
}

// Validate checks every field and reports the first problem.
func (c *Config) Validate() error {
	s := c.Search
	if _, err := fusion.ParseStrategy(s.Strategy); err != nil {
		return apperrors.ConfigError(fmt.Sprintf("search.strategy: %v", err), nil)
	}
	for name, w := range map[string]float64{"lexical_weight": s.LexicalWeight, "semantic_weight": s.SemanticWeight} {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return apperrors.ConfigError(fmt.Sprintf("search.%s must be a finite number >= 0, got %v", name, w), nil)
		}
	}
	if s.RRFConstant <= 0 {
		return apperrors.ConfigError(fmt.Sprintf("search.rrf_constant must be positive, got %d", s.RRFConstant), nil)
	}
	if s.BothFoundBoost < 1 {
		return apperrors.ConfigError(fmt.Sprintf("search.both_found_boost must be >= 1, got %v", s.BothFoundBoost), nil)
	}
	if s.SemanticThreshold < 0 || s.SemanticThreshold > 1 {
		return apperrors.ConfigError(fmt.Sprintf("search.semantic_threshold must be in [0,1], got %v", s.SemanticThreshold), nil)
	}
	if _, err := positiveDuration("search.backend_timeout", s.BackendTimeout); err != nil {
		return err
	}
	if s.ExpansionFactor < 2 {
		return apperrors.ConfigError(fmt.Sprintf("search.expansion_factor must be >= 2, got %d", s.ExpansionFactor), nil)
	}
	if s.MaxResults < 1 {
		return apperrors.ConfigError(fmt.Sprintf("search.max_results must be >= 1, got %d", s.MaxResults), nil)
	}
	if s.MaxResultsLimit < s.MaxResults {
		return apperrors.ConfigError(fmt.Sprintf("search.max_results_limit (%d) must be >= max_results (%d)", s.MaxResultsLimit, s.MaxResults), nil)
	}
	if _, err := store.ParseLexicalBackend(s.LexicalBackend); err != nil {
		return apperrors.ConfigError("search.lexical_backend", err)
	}

	if c.Paths.MaxFileBytes < 0 {
		return apperrors.ConfigError(fmt.Sprintf("paths.max_file_bytes must be >= 0, got %d", c.Paths.MaxFileBytes), nil)
	}

	e := c.Embeddings
	if e.Dimensions <= 0 {
		return apperrors.ConfigError(fmt.Sprintf("embeddings.dimensions must be positive, got %d", e.Dimensions), nil)
	}
	if e.CacheSize < 0 || e.RetryAttempts < 0 || e.BatchSize < 0 {
		return apperrors.ConfigError("embeddings.cache_size, retry_attempts and batch_size must be >= 0", nil)
	}

	switch strings.ToLower(c.Server.Transport) {
	case "stdio", "http":
	default:
		return apperrors.ConfigError(fmt.Sprintf("server.transport must be 'stdio' or 'http', got %q", c.Server.Transport), nil)
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return apperrors.ConfigError(fmt.Sprintf("server.log_level must be debug, info, warn or error, got %q", c.Server.LogLevel), nil)
	}
	if _, err := positiveDuration("server.watch_debounce", c.Server.WatchDebounce); err != nil {
		return err
	}
	return nil
}

func positiveDuration(field, s string) (time.Duration, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, apperrors.ConfigError(fmt.Sprintf("%s: invalid duration %q", field, s), err)
	}
	if d <= 0 {
		return 0, apperrors.ConfigError(fmt.Sprintf("%s must be positive, got %s", field, s), nil)
	}
	return d, nil
}

// BackendTimeout returns search.backend_timeout. Call after Validate.
func (c *Config) BackendTimeout() time.Duration {
	d, _ := time.ParseDuration(c.Search.BackendTimeout)
	return d
}

// WatchDebounce returns server.watch_debounce. Call after Validate.
func (c *Config) WatchDebounce() time.Duration {
	d, _ := time.ParseDuration(c.Server.WatchDebounce)
	return d
}

// LexicalBackend returns the parsed search.lexical_backend.
func (c *Config) LexicalBackend() store.LexicalBackend {
	b, _ := store.ParseLexicalBackend(c.Search.LexicalBackend)
	return b
}

// FusionDefaults converts the search section into query defaults.
func (c *Config) FusionDefaults() fusion.Defaults {
	strategy, _ := fusion.ParseStrategy(c.Search.Strategy)
	return fusion.Defaults{
		Strategy:          strategy,
		LexicalWeight:     c.Search.LexicalWeight,
		SemanticWeight:    c.Search.SemanticWeight,
		SemanticThreshold: c.Search.SemanticThreshold,
		BothFoundBoost:    c.Search.BothFoundBoost,
		MaxResults:        c.Search.MaxResults,
		MaxResultsLimit:   c.Search.MaxResultsLimit,
		Timeout:           c.BackendTimeout(),
	}
}

// FusionOptions returns the searcher options implied by the configuration.
func (c *Config) FusionOptions() []fusion.Option {
	return []fusion.Option{
		fusion.WithDefaults(c.FusionDefaults()),
		fusion.WithEngineOptions(fusion.WithRRFConstant(c.Search.RRFConstant)),
		fusion.WithDispatcherOptions(fusion.WithExpansionFactor(c.Search.ExpansionFactor)),
	}
}

// WriteYAML writes c to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// DataDir returns the index directory for a project root.
func DataDir(root string) string {
	return filepath.Join(root, DataDirName)
}

// FindProjectRoot walks up from startDir to the first directory holding
// .git or a project config file, or returns startDir.
func FindProjectRoot(startDir string) (string, error) {
	abs, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", startDir, err)
	}
	for dir := abs; ; {
		if exists(filepath.Join(dir, ".git")) || exists(filepath.Join(dir, ProjectConfigFile)) {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return abs, nil
		}
		dir = parent
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
