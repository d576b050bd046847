package index

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
	"github.com/Aman-CERP/fusesearch/internal/store"
)

func TestWalker_FiltersAndDetects(t *testing.T) {
	// Given: a project with code, docs, excluded and oversized files
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"main.go":                      "package main",
		"docs/guide.md":                "# Guide",
		"config.yaml":                  "a: 1",
		".git/HEAD":                    "ref: main",
		".fusesearch/items.db":         "x",
		"web/node_modules/x/a.js":      "var a",
		"gen/big.go":                   strings.Repeat("x", 200),
		"bin/tool":                     "ELF\x00\x01",
		"empty.txt":                    "",
		"internal/pkg/service.py":      "def run(): pass",
		"internal/pkg/service_test.py": "def test(): pass",
	})
	w, err := NewWalker(WalkOptions{Root: root, Exclude: []string{"**/*_test.py"}, MaxFileBytes: 100})
	require.NoError(t, err)

	// When
	files, err := w.Walk(context.Background())

	// Then
	require.NoError(t, err)
	assert.Equal(t, []string{"config.yaml", "docs/guide.md", "internal/pkg/service.py", "main.go"}, paths(files))
	byPath := map[string]FileInfo{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	assert.Equal(t, "go", byPath["main.go"].Language)
	assert.Equal(t, store.KindCode, byPath["main.go"].Kind)
	assert.Equal(t, store.KindDocs, byPath["docs/guide.md"].Kind)
	assert.Equal(t, store.KindConfig, byPath["config.yaml"].Kind)
	assert.Equal(t, "python", byPath["internal/pkg/service.py"].Language)
}

func TestWalker_Include(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":      "package a",
		"b/c.go":    "package c",
		"README.md": "# readme",
	})
	w, err := NewWalker(WalkOptions{Root: root, Include: []string{"**/*.go"}})
	require.NoError(t, err)

	files, err := w.Walk(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"a.go", "b/c.go"}, paths(files))
}

func TestWalker_InvalidPattern(t *testing.T) {
	_, err := NewWalker(WalkOptions{Root: t.TempDir(), Exclude: []string{"[unclosed"}})
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeConfigInvalid))
}

func TestWalker_Stat(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":              "package a",
		"node_modules/b.js": "var b",
	})
	w, err := NewWalker(WalkOptions{Root: root, Exclude: []string{"node_modules/**"}})
	require.NoError(t, err)

	fi, ok, err := w.Stat("a.go")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a.go", fi.Path)

	_, ok, err = w.Stat("missing.go")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = w.Stat("node_modules/b.js")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDetectLanguageAndKind(t *testing.T) {
	tests := []struct {
		path string
		lang string
		kind store.Kind
	}{
		{"cmd/main.go", "go", store.KindCode},
		{"Dockerfile", "dockerfile", store.KindConfig},
		{"go.mod", "gomod", store.KindConfig},
		{"README.MD", "markdown", store.KindDocs},
		{"notes", "", store.KindText},
		{"web/app.tsx", "typescript", store.KindCode},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			lang := DetectLanguage(tt.path)
			assert.Equal(t, tt.lang, lang)
			assert.Equal(t, tt.kind, DetectKind(lang))
		})
	}
}
