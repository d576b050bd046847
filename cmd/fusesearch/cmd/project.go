package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Aman-CERP/fusesearch/internal/config"
	"github.com/Aman-CERP/fusesearch/internal/embed"
	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/fusion"
	"github.com/Aman-CERP/fusesearch/internal/index"
	"github.com/Aman-CERP/fusesearch/internal/store"
	"github.com/Aman-CERP/fusesearch/pkg/searcher"
)

// project is a resolved project root with its configuration.
type project struct {
	root  string
	cfg   *config.Config
	paths store.Paths
}

func loadProject(dir string) (*project, error) {
	root, err := config.FindProjectRoot(dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, err
	}
	return &project{root: root, cfg: cfg, paths: store.Paths{DataDir: config.DataDir(root)}}, nil
}

// requireIndex fails with ERR_208 when the project has not been indexed.
func (p *project) requireIndex() error {
	if p.paths.Exists() {
		return nil
	}
	return apperrors.New(apperrors.ErrCodeIndexNotFound, fmt.Sprintf("no index found in %s", p.root), nil).
		WithSuggestion("run 'fusesearch index' first")
}

// engine holds the open stores of a project.
type engine struct {
	items    *store.SQLiteItemStore
	lexical  store.LexicalIndex
	vectors  *store.HNSWStore
	embedder embed.Embedder
	backend  store.LexicalBackend
	logger   *slog.Logger
}

// openEngine opens the project's stores. With fresh the saved vectors are
// not loaded, so a forced rebuild may change the embedder dimensions.
func openEngine(ctx context.Context, p *project, fresh bool, logger *slog.Logger) (_ *engine, err error) {
	cfg := p.cfg
	dims := cfg.Embeddings.Dimensions

	saved, err := store.ReadVectorDimensions(p.paths.Vectors())
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "read vector metadata", err).
			WithSuggestion("run 'fusesearch index --force' to rebuild")
	}
	if !fresh && saved > 0 && saved != dims {
		return nil, apperrors.New(apperrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index has %d-dimensional vectors, embeddings.dimensions is %d", saved, dims), nil).
			WithSuggestion("run 'fusesearch index --force' to rebuild")
	}

	e := &engine{backend: cfg.LexicalBackend(), logger: logger}
	defer func() {
		if err != nil {
			_ = e.Close()
		}
	}()

	if e.items, err = store.NewSQLiteItemStore(p.paths.Items()); err != nil {
		return nil, fmt.Errorf("open item store: %w", err)
	}
	if e.lexical, err = store.NewLexicalIndex(e.backend, p.paths.Lexical(e.backend)); err != nil {
		return nil, fmt.Errorf("open %s index: %w", e.backend, err)
	}
	if e.vectors, err = store.NewHNSWStore(store.DefaultVectorStoreConfig(dims)); err != nil {
		return nil, fmt.Errorf("create vector store: %w", err)
	}
	if !fresh && saved > 0 {
		if err = e.vectors.Load(p.paths.Vectors()); err != nil {
			return nil, apperrors.New(apperrors.ErrCodeCorruptIndex, "load vector index", err).
				WithSuggestion("run 'fusesearch index --force' to rebuild")
		}
	}
	e.embedder = embed.NewCachedEmbedder(embed.NewStaticEmbedder(dims), cfg.Embeddings.CacheSize)

	if !fresh {
		if err = index.CheckEmbedder(ctx, e.items, e.embedder); err != nil {
			return nil, err
		}
	}
	logger.Debug("engine_opened",
		slog.String("root", p.root),
		slog.String("lexical_backend", string(e.backend)),
		slog.Int("vectors", e.vectors.Count()),
		slog.String("embedder", e.embedder.ModelName()))
	return e, nil
}

// newSearcher builds the hybrid searcher over the engine's stores.
func (e *engine) newSearcher(cfg *config.Config, obs fusion.Observer) (*fusion.Searcher, error) {
	lex, err := searcher.NewLexicalSearcher(e.lexical)
	if err != nil {
		return nil, err
	}
	retry := apperrors.DefaultRetryConfig()
	retry.MaxRetries = cfg.Embeddings.RetryAttempts
	sem, err := searcher.NewSemanticSearcher(e.embedder, e.vectors, e.items,
		searcher.WithRetryConfig(retry),
		searcher.WithSemanticLogger(e.logger))
	if err != nil {
		return nil, err
	}

	opts := append(cfg.FusionOptions(), fusion.WithLogger(e.logger))
	if obs != nil {
		opts = append(opts, fusion.WithObserver(obs))
	}
	return fusion.NewSearcher(lex, sem, opts...)
}

// newIndexer builds an indexer writing to the engine's stores. progress may
// be nil.
func (e *engine) newIndexer(p *project, progress func(done, total int)) (*index.Indexer, *index.Walker, error) {
	walker, err := index.NewWalker(index.WalkOptions{
		Root:         p.root,
		Include:      p.cfg.Paths.Include,
		Exclude:      p.cfg.Paths.Exclude,
		MaxFileBytes: p.cfg.Paths.MaxFileBytes,
	})
	if err != nil {
		return nil, nil, err
	}
	ix, err := index.NewIndexer(index.Dependencies{
		Walker:         walker,
		Items:          e.items,
		Lexical:        e.lexical,
		Vectors:        e.vectors,
		Embedder:       e.embedder,
		VectorPath:     p.paths.Vectors(),
		LexicalBackend: e.backend,
		BatchSize:      p.cfg.Embeddings.BatchSize,
		Logger:         e.logger,
		Progress:       progress,
	})
	if err != nil {
		return nil, nil, err
	}
	return ix, walker, nil
}

// Close closes every open store.
func (e *engine) Close() error {
	var errs []error
	if e.embedder != nil {
		errs = append(errs, e.embedder.Close())
	}
	if e.vectors != nil {
		errs = append(errs, e.vectors.Close())
	}
	if e.lexical != nil {
		errs = append(errs, e.lexical.Close())
	}
	if e.items != nil {
		errs = append(errs, e.items.Close())
	}
	return errors.Join(errs...)
}
