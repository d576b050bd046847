package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"

	"github.com/Aman-CERP/fusesearch/internal/embed"
	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

// Dependencies are the collaborators an Indexer writes to.
type Dependencies struct {
	Walker   *Walker
	Items    store.ItemStore
	Lexical  store.LexicalIndex
	Vectors  store.VectorStore
	Embedder embed.Embedder

	// VectorPath is where the vector store is saved after each run. Empty
	// keeps vectors in memory only.
	VectorPath string
	// LexicalBackend is recorded in the index state.
	LexicalBackend store.LexicalBackend

	BatchSize int
	Workers   int
	Logger    *slog.Logger

	// Progress, when set, is called after each embedded batch with the
	// number of items embedded so far. Calls are serialized.
	Progress func(done, total int)
}

// Result summarises one indexing run.
type Result struct {
	Files     int
	Indexed   int
	Unchanged int
	Deleted   int
	Duration  time.Duration
}

// Indexer keeps the stores in sync with the files under a root.
type Indexer struct {
	deps Dependencies
	// serialises runs within one process; Lock guards across processes.
	mu sync.Mutex
}

// NewIndexer validates deps and fills defaults.
func NewIndexer(deps Dependencies) (*Indexer, error) {
	switch {
	case deps.Walker == nil:
		return nil, fmt.Errorf("walker is required")
	case deps.Items == nil:
		return nil, fmt.Errorf("item store is required")
	case deps.Lexical == nil:
		return nil, fmt.Errorf("lexical index is required")
	case deps.Vectors == nil:
		return nil, fmt.Errorf("vector store is required")
	case deps.Embedder == nil:
		return nil, fmt.Errorf("embedder is required")
	}
	deps.BatchSize = embed.ClampBatchSize(deps.BatchSize)
	if deps.Workers <= 0 {
		deps.Workers = runtime.NumCPU()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.LexicalBackend == "" {
		deps.LexicalBackend = store.LexicalBleve
	}
	return &Indexer{deps: deps}, nil
}

// CheckEmbedder fails when the index was built with a different embedder.
// A store with no recorded model passes.
func CheckEmbedder(ctx context.Context, items store.ItemStore, e embed.Embedder) error {
	model, err := items.GetState(ctx, store.StateKeyEmbedderModel)
	if err != nil {
		return err
	}
	if model == "" || model == e.ModelName() {
		return nil
	}
	return apperrors.New(apperrors.ErrCodeDimensionMismatch,
		fmt.Sprintf("index was built with embedder %q, current embedder is %q", model, e.ModelName()), nil).
		WithSuggestion("run 'fusesearch index --force' to rebuild")
}

// Run walks the root and indexes new or changed files, removing items whose
// files disappeared. With force every file is re-indexed and the embedder
// check is skipped.
func (ix *Indexer) Run(ctx context.Context, force bool) (*Result, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	start := time.Now()
	d := ix.deps

	if !force {
		if err := CheckEmbedder(ctx, d.Items, d.Embedder); err != nil {
			return nil, err
		}
	}

	files, err := d.Walker.Walk(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeIndexFailed, "walk project", err)
	}
	existing, err := d.Items.ItemsByPath(ctx)
	if err != nil {
		return nil, apperrors.New(apperrors.ErrCodeIndexFailed, "load indexed items", err)
	}

	items, err := ix.load(ctx, files)
	if err != nil {
		return nil, err
	}

	res := &Result{Files: len(items)}
	seen := make(map[string]bool, len(items))
	var changed []*store.Item
	for _, it := range items {
		seen[it.Path] = true
		if old, ok := existing[it.Path]; ok && !force && old.Hash == it.Hash && d.Vectors.Contains(it.ID) {
			res.Unchanged++
			continue
		}
		changed = append(changed, it)
	}
	var gone []string
	for p, old := range existing {
		if !seen[p] {
			gone = append(gone, old.ID)
		}
	}

	if err := ix.write(ctx, changed); err != nil {
		return nil, err
	}
	if err := ix.remove(ctx, gone); err != nil {
		return nil, err
	}
	if err := ix.finish(ctx); err != nil {
		return nil, err
	}

	res.Indexed = len(changed)
	res.Deleted = len(gone)
	res.Duration = time.Since(start)
	d.Logger.Info("index_complete",
		slog.Int("files", res.Files),
		slog.Int("indexed", res.Indexed),
		slog.Int("unchanged", res.Unchanged),
		slog.Int("deleted", res.Deleted),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// IndexPaths re-indexes the given relative paths: present files are
// refreshed, missing or excluded ones are removed.
func (ix *Indexer) IndexPaths(ctx context.Context, rels []string) (*Result, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	start := time.Now()
	d := ix.deps

	var files []FileInfo
	var gone []string
	for _, rel := range rels {
		fi, ok, err := d.Walker.Stat(rel)
		if err != nil {
			d.Logger.Warn("stat_failed", slog.String("path", rel), slog.String("error", err.Error()))
			continue
		}
		if ok {
			files = append(files, fi)
		} else {
			gone = append(gone, store.ItemID(path.Clean(rel)))
		}
	}

	items, err := ix.load(ctx, files)
	if err != nil {
		return nil, err
	}
	if err := ix.write(ctx, items); err != nil {
		return nil, err
	}
	if err := ix.remove(ctx, gone); err != nil {
		return nil, err
	}
	if err := ix.finish(ctx); err != nil {
		return nil, err
	}
	res := &Result{Files: len(items), Indexed: len(items), Deleted: len(gone), Duration: time.Since(start)}
	d.Logger.Info("index_paths_complete",
		slog.Int("indexed", res.Indexed),
		slog.Int("deleted", res.Deleted),
		slog.Duration("duration", res.Duration))
	return res, nil
}

// load reads files concurrently and builds items in input order. Files that
// vanish or cannot be read are skipped.
func (ix *Indexer) load(ctx context.Context, files []FileInfo) ([]*store.Item, error) {
	out := make([]*store.Item, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ix.deps.Workers)
	for i, fi := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			content, err := os.ReadFile(fi.AbsPath)
			if err != nil {
				ix.deps.Logger.Warn("read_failed", slog.String("path", fi.Path), slog.String("error", err.Error()))
				return nil
			}
			out[i] = BuildItem(fi, string(content))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	items := out[:0]
	for _, it := range out {
		if it != nil {
			items = append(items, it)
		}
	}
	return items, nil
}

// write embeds items in concurrent batches and stores them.
func (ix *Indexer) write(ctx context.Context, items []*store.Item) error {
	if len(items) == 0 {
		return nil
	}
	d := ix.deps

	vectors := make([][]float32, len(items))
	var (
		progressMu sync.Mutex
		embedded   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.Workers)
	for lo := 0; lo < len(items); lo += d.BatchSize {
		hi := min(lo+d.BatchSize, len(items))
		g.Go(func() error {
			texts := make([]string, hi-lo)
			for i, it := range items[lo:hi] {
				texts[i] = embeddingText(it)
			}
			vecs, err := d.Embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return apperrors.New(apperrors.ErrCodeEmbeddingFailed, fmt.Sprintf("embed batch %d-%d", lo, hi), err)
			}
			copy(vectors[lo:hi], vecs)
			if d.Progress != nil {
				progressMu.Lock()
				embedded += hi - lo
				d.Progress(embedded, len(items))
				progressMu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.ID
	}
	if err := d.Items.SaveItems(ctx, items); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "save items", err)
	}
	if err := d.Lexical.Index(ctx, items); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "update lexical index", err)
	}
	if err := d.Vectors.Add(ctx, ids, vectors); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "update vector store", err)
	}
	return nil
}

func (ix *Indexer) remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	d := ix.deps
	if err := d.Items.DeleteItems(ctx, ids); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "delete items", err)
	}
	if err := d.Lexical.Delete(ctx, ids); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "delete from lexical index", err)
	}
	if err := d.Vectors.Delete(ctx, ids); err != nil {
		return apperrors.New(apperrors.ErrCodeIndexFailed, "delete from vector store", err)
	}
	return nil
}

// finish persists vectors and records the index state.
func (ix *Indexer) finish(ctx context.Context) error {
	d := ix.deps
	if d.VectorPath != "" {
		if err := d.Vectors.Save(d.VectorPath); err != nil {
			return apperrors.New(apperrors.ErrCodeIndexFailed, "save vectors", err)
		}
	}
	state := map[string]string{
		store.StateKeyEmbedderModel: d.Embedder.ModelName(),
		store.StateKeyDimensions:    strconv.Itoa(d.Embedder.Dimensions()),
		store.StateKeyLexical:       string(d.LexicalBackend),
		store.StateKeyIndexedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	for k, v := range state {
		if err := d.Items.SetState(ctx, k, v); err != nil {
			return apperrors.New(apperrors.ErrCodeIndexFailed, "record index state", err)
		}
	}
	return nil
}

// BuildItem turns a file and its content into a store item.
func BuildItem(fi FileInfo, content string) *store.Item {
	return &store.Item{
		ID:        store.ItemID(fi.Path),
		Path:      fi.Path,
		Language:  fi.Language,
		Kind:      fi.Kind,
		Title:     title(fi, content),
		Content:   content,
		Size:      fi.Size,
		Hash:      strconv.FormatUint(xxhash.Sum64String(content), 16),
		UpdatedAt: fi.ModTime,
	}
}

// title is the first markdown heading for docs, otherwise the path.
func title(fi FileInfo, content string) string {
	if fi.Kind == store.KindDocs {
		for _, line := range strings.SplitN(content, "\n", 50) {
			if h, ok := strings.CutPrefix(strings.TrimSpace(line), "#"); ok {
				return strings.TrimSpace(strings.TrimLeft(h, "#"))
			}
		}
	}
	return fi.Path
}

func embeddingText(it *store.Item) string {
	return it.Title + "\n" + it.Content
}
