// Package index builds and maintains the lexical, vector and item stores
// for a project directory.
package index

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

// DefaultMaxFileBytes skips files larger than 1 MiB.
const DefaultMaxFileBytes int64 = 1 << 20

// DefaultExcludes are always skipped, in addition to configured excludes.
var DefaultExcludes = []string{
	".git/**",
	".fusesearch/**",
	".fusesearch.yaml",
	"**/node_modules/**",
	"**/.venv/**",
	"**/__pycache__/**",
	"**/*.min.js",
	"**/*.lock",
}

// FileInfo describes one indexable file.
type FileInfo struct {
	Path     string // relative, slash separated
	AbsPath  string
	Size     int64
	ModTime  time.Time
	Language string
	Kind     store.Kind
}

// WalkOptions configures a Walker.
type WalkOptions struct {
	Root         string
	Include      []string
	Exclude      []string
	MaxFileBytes int64
}

// Walker discovers indexable files under a root directory. Files matched
// by the root .gitignore are skipped.
type Walker struct {
	root     string
	include  []string
	exclude  []string
	ignore   ignoreRules
	maxBytes int64
}

// NewWalker validates the glob patterns in opts.
func NewWalker(opts WalkOptions) (*Walker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	exclude := append(append([]string(nil), DefaultExcludes...), opts.Exclude...)
	for _, p := range append(append([]string(nil), opts.Include...), exclude...) {
		if !doublestar.ValidatePattern(p) {
			return nil, apperrors.ConfigError(fmt.Sprintf("invalid glob pattern %q", p), nil)
		}
	}
	maxBytes := opts.MaxFileBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFileBytes
	}
	ignore, err := loadGitignore(root)
	if err != nil {
		return nil, fmt.Errorf("read .gitignore: %w", err)
	}
	return &Walker{root: root, include: opts.Include, exclude: exclude, ignore: ignore, maxBytes: maxBytes}, nil
}

// Root returns the absolute root directory.
func (w *Walker) Root() string { return w.root }

// Walk returns every indexable file, sorted by path.
func (w *Walker) Walk(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	err := filepath.WalkDir(w.root, func(abs string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := w.rel(abs)
		if err != nil || rel == "." {
			return nil
		}
		if d.IsDir() {
			if w.excludedDir(rel) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if fi, ok := w.accept(rel, abs, info); ok {
			files = append(files, fi)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

// Stat resolves a single relative path. ok is false when the file is gone or
// would not be indexed.
func (w *Walker) Stat(rel string) (fi FileInfo, ok bool, err error) {
	rel = filepath.ToSlash(path.Clean(rel))
	abs := filepath.Join(w.root, filepath.FromSlash(rel))
	info, err := os.Stat(abs)
	if os.IsNotExist(err) {
		return FileInfo{}, false, nil
	}
	if err != nil {
		return FileInfo{}, false, err
	}
	if !info.Mode().IsRegular() {
		return FileInfo{}, false, nil
	}
	for dir := path.Dir(rel); dir != "."; dir = path.Dir(dir) {
		if w.excludedDir(dir) {
			return FileInfo{}, false, nil
		}
	}
	fi, ok = w.accept(rel, abs, info)
	return fi, ok, nil
}

// Ignored reports whether a relative path is excluded by the glob filters
// or the root .gitignore.
func (w *Walker) Ignored(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	if isDir {
		return w.excludedDir(rel)
	}
	if w.matchesAny(w.exclude, rel) || w.ignore.ignored(rel, false) {
		return true
	}
	return len(w.include) > 0 && !w.matchesAny(w.include, rel)
}

func (w *Walker) rel(abs string) (string, error) {
	rel, err := filepath.Rel(w.root, abs)
	if err != nil {
		return "", err
	}
	return filepath.ToSlash(rel), nil
}

func (w *Walker) accept(rel, abs string, info fs.FileInfo) (FileInfo, bool) {
	if info.Size() > w.maxBytes || info.Size() == 0 {
		return FileInfo{}, false
	}
	if w.Ignored(rel, false) {
		return FileInfo{}, false
	}
	if isBinary(abs) {
		return FileInfo{}, false
	}
	lang := DetectLanguage(rel)
	return FileInfo{
		Path:     rel,
		AbsPath:  abs,
		Size:     info.Size(),
		ModTime:  info.ModTime(),
		Language: lang,
		Kind:     DetectKind(lang),
	}, true
}

func (w *Walker) excludedDir(rel string) bool {
	return w.matchesAny(w.exclude, rel) || w.matchesAny(w.exclude, rel+"/") || w.ignore.ignored(rel, true)
}

// matchesAny matches the relative path, and the base name for patterns
// without a slash.
func (w *Walker) matchesAny(patterns []string, rel string) bool {
	base := path.Base(strings.TrimSuffix(rel, "/"))
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, rel); ok {
			return true
		}
		if !strings.Contains(p, "/") {
			if ok, _ := doublestar.Match(p, base); ok {
				return true
			}
		}
	}
	return false
}

// isBinary sniffs the first 8000 bytes for a NUL byte.
func isBinary(abs string) bool {
	f, err := os.Open(abs)
	if err != nil {
		return true
	}
	defer f.Close()
	buf := make([]byte, 8000)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return true
	}
	return bytes.IndexByte(buf[:n], 0) >= 0
}
