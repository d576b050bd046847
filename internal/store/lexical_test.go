package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Aman-CERP/fusesearch/internal/errors"
)

func testItems() []*Item {
	now := time.Unix(1700000000, 0)
	mk := func(path, lang string, kind Kind, content string) *Item {
		return &Item{
			ID:        ItemID(path),
			Path:      path,
			Language:  lang,
			Kind:      kind,
			Title:     filepath.Base(path),
			Content:   content,
			Size:      int64(len(content)),
			UpdatedAt: now,
		}
	}
	return []*Item{
		mk("internal/config/loader.go", "go", KindCode, "func LoadConfig(path string) reads the YAML settings from disk"),
		mk("docs/setup.md", "markdown", KindDocs, "The setup guide explains every config option"),
		mk("internal/http/server.go", "go", KindCode, "func StartServer starts the HTTP listener"),
	}
}

func matchIDs(ms []*LexicalMatch) []string {
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.ID
	}
	return out
}

func eachLexicalBackend(t *testing.T, fn func(t *testing.T, idx LexicalIndex)) {
	for _, backend := range []LexicalBackend{LexicalBleve, LexicalSQLite} {
		t.Run(string(backend), func(t *testing.T) {
			idx, err := NewLexicalIndex(backend, "")
			require.NoError(t, err)
			t.Cleanup(func() { _ = idx.Close() })
			require.NoError(t, idx.Index(context.Background(), testItems()))
			fn(t, idx)
		})
	}
}

func TestLexicalIndex_SearchSplitsIdentifiers(t *testing.T) {
	eachLexicalBackend(t, func(t *testing.T, idx LexicalIndex) {
		// When: searching for a camelCase identifier
		res, err := idx.Search(context.Background(), "LoadConfig", nil, 10)

		// Then: the file defining it ranks first with a positive score
		require.NoError(t, err)
		require.NotEmpty(t, res)
		assert.Equal(t, ItemID("internal/config/loader.go"), res[0].ID)
		assert.Positive(t, res[0].Score)
	})
}

func TestLexicalIndex_Filters(t *testing.T) {
	eachLexicalBackend(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()

		res, err := idx.Search(ctx, "config", map[string]string{FilterLanguage: "Go"}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ItemID("internal/config/loader.go")}, matchIDs(res))

		res, err = idx.Search(ctx, "config", map[string]string{FilterKind: "docs"}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ItemID("docs/setup.md")}, matchIDs(res))

		res, err = idx.Search(ctx, "starts", map[string]string{FilterPathPrefix: "internal/http/"}, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{ItemID("internal/http/server.go")}, matchIDs(res))

		res, err = idx.Search(ctx, "starts", map[string]string{FilterPathPrefix: "docs/"}, 10)
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestLexicalIndex_UnknownFilterIsInvalid(t *testing.T) {
	eachLexicalBackend(t, func(t *testing.T, idx LexicalIndex) {
		_, err := idx.Search(context.Background(), "config", map[string]string{"owner": "me"}, 10)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidFilter))
	})
}

func TestLexicalIndex_SyntaxErrorIsInvalidQuery(t *testing.T) {
	eachLexicalBackend(t, func(t *testing.T, idx LexicalIndex) {
		_, err := idx.Search(context.Background(), `"this is the time`, nil, 10)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidQuery), "got %v", err)
	})
}

func TestLexicalIndex_EmptyQuery(t *testing.T) {
	eachLexicalBackend(t, func(t *testing.T, idx LexicalIndex) {
		res, err := idx.Search(context.Background(), "   ", nil, 10)
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestLexicalIndex_DeleteAndCount(t *testing.T) {
	eachLexicalBackend(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		n, err := idx.Count()
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		require.NoError(t, idx.Delete(ctx, []string{ItemID("internal/http/server.go")}))

		n, err = idx.Count()
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		res, err := idx.Search(ctx, "listener", nil, 10)
		require.NoError(t, err)
		assert.Empty(t, res)
	})
}

func TestLexicalIndex_ReindexReplaces(t *testing.T) {
	eachLexicalBackend(t, func(t *testing.T, idx LexicalIndex) {
		ctx := context.Background()
		item := testItems()[2]
		item.Content = "func StartGateway opens a websocket"
		require.NoError(t, idx.Index(ctx, []*Item{item}))

		n, err := idx.Count()
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		res, err := idx.Search(ctx, "websocket", nil, 10)
		require.NoError(t, err)
		assert.Equal(t, []string{item.ID}, matchIDs(res))
	})
}

func TestLexicalIndex_ClosedIsUnavailable(t *testing.T) {
	for _, backend := range []LexicalBackend{LexicalBleve, LexicalSQLite} {
		idx, err := NewLexicalIndex(backend, "")
		require.NoError(t, err)
		require.NoError(t, idx.Close())
		_, err = idx.Search(context.Background(), "config", nil, 10)
		assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeBackendUnavailable), string(backend))
		assert.NoError(t, idx.Close())
	}
}

func TestBleveIndex_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lexical.bleve")
	idx, err := NewBleveIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Index(context.Background(), testItems()))
	require.NoError(t, idx.Close())

	reopened, err := NewBleveIndex(path)
	require.NoError(t, err)
	defer reopened.Close()
	n, err := reopened.Count()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestSQLiteFTSIndex_MatchExpr(t *testing.T) {
	idx, err := NewSQLiteFTSIndex("")
	require.NoError(t, err)
	defer idx.Close()

	expr, terms, err := idx.matchExpr(`LoadConfig OR ("http server" NOT yaml)`)
	require.NoError(t, err)
	assert.Equal(t, `load config OR ( "http server" NOT yaml )`, expr)
	assert.Equal(t, []string{"load", "config", "http", "server", "yaml"}, terms)

	_, _, err = idx.matchExpr("(open")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidQuery))

	expr, _, err = idx.matchExpr("the if")
	require.NoError(t, err)
	assert.Empty(t, expr)
}

func TestParseLexicalBackend(t *testing.T) {
	b, err := ParseLexicalBackend("")
	require.NoError(t, err)
	assert.Equal(t, LexicalBleve, b)
	b, err = ParseLexicalBackend("sqlite")
	require.NoError(t, err)
	assert.Equal(t, LexicalSQLite, b)
	_, err = ParseLexicalBackend("lucene")
	assert.Error(t, err)

	p := Paths{DataDir: "/data"}
	assert.Equal(t, "/data/lexical.db", p.Lexical(LexicalSQLite))
	assert.Equal(t, "/data/lexical.bleve", p.Lexical(LexicalBleve))
	assert.Equal(t, "/data/vectors.hnsw", p.Vectors())
}
