package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// LexicalBackend names a LexicalIndex implementation.
type LexicalBackend string

const (
	// LexicalBleve uses Bleve with query string syntax.
	LexicalBleve LexicalBackend = "bleve"
	// LexicalSQLite uses SQLite FTS5.
	LexicalSQLite LexicalBackend = "sqlite"
)

// File names inside a project's data directory.
const (
	bleveDirName    = "lexical.bleve"
	ftsFileName     = "lexical.db"
	vectorFileName  = "vectors.hnsw"
	itemsFileName   = "items.db"
	metricsFileName = "telemetry.db"
)

// Paths locates every store file under one data directory.
type Paths struct {
	DataDir string
}

func (p Paths) Lexical(backend LexicalBackend) string {
	if backend == LexicalSQLite {
		return filepath.Join(p.DataDir, ftsFileName)
	}
	return filepath.Join(p.DataDir, bleveDirName)
}

func (p Paths) Vectors() string { return filepath.Join(p.DataDir, vectorFileName) }
func (p Paths) Items() string   { return filepath.Join(p.DataDir, itemsFileName) }

// Telemetry is the query metrics database written by search and serve.
func (p Paths) Telemetry() string { return filepath.Join(p.DataDir, metricsFileName) }

// Exists reports whether an index has been written to the data directory.
func (p Paths) Exists() bool {
	_, err := os.Stat(p.Items())
	return err == nil
}

// ParseLexicalBackend validates a backend name. Empty means Bleve.
func ParseLexicalBackend(s string) (LexicalBackend, error) {
	switch LexicalBackend(s) {
	case "", LexicalBleve:
		return LexicalBleve, nil
	case LexicalSQLite:
		return LexicalSQLite, nil
	default:
		return "", fmt.Errorf("unknown lexical backend %q (valid: bleve, sqlite)", s)
	}
}

// NewLexicalIndex opens the lexical index for backend at path. An empty
// path creates an in-memory index.
func NewLexicalIndex(backend LexicalBackend, path string) (LexicalIndex, error) {
	switch backend {
	case LexicalSQLite:
		return NewSQLiteFTSIndex(path)
	case LexicalBleve, "":
		return NewBleveIndex(path)
	default:
		return nil, fmt.Errorf("unknown lexical backend %q", backend)
	}
}
