// Package searcher adapts the stores to the fusion backends.
//
//   - [LexicalSearcher]: a [fusion.LexicalBackend] over a store.LexicalIndex
//     (Bleve or SQLite FTS5).
//   - [SemanticSearcher]: a [fusion.SemanticBackend] that embeds the query and
//     searches a store.VectorStore, with retry and a circuit breaker around
//     the embedder.
//
// Both return hits best first with 1-based ranks and are safe for concurrent
// use.
//
//	lex, _ := searcher.NewLexicalSearcher(lexicalIndex)
//	sem, _ := searcher.NewSemanticSearcher(embedder, vectors, items)
//	s, _ := fusion.NewSearcher(lex, sem)
//	res, err := s.FuseSearch(ctx, fusion.SearchQuery{Text: "load config"})
package searcher
