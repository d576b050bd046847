package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/coder/hnsw"
)

// HNSWStore is a VectorStore over coder/hnsw.
//
// Deletes are lazy: the node stays in the graph and only its ID mapping is
// dropped, so searches over-fetch by the number of orphaned nodes.
type HNSWStore struct {
	mu     sync.RWMutex
	graph  *hnsw.Graph[uint64]
	config VectorStoreConfig

	ids     map[string]uint64
	keys    map[uint64]string
	nextKey uint64
	closed  bool
}

// hnswMeta is the gob sidecar written next to the exported graph.
type hnswMeta struct {
	IDs     map[string]uint64
	NextKey uint64
	Config  VectorStoreConfig
}

// NewHNSWStore returns an empty store.
func NewHNSWStore(cfg VectorStoreConfig) (*HNSWStore, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.Metric == "" {
		cfg.Metric = "cos"
	}
	if cfg.M == 0 {
		cfg.M = 16
	}
	if cfg.EfSearch == 0 {
		cfg.EfSearch = 64
	}
	s := &HNSWStore{config: cfg}
	s.reset()
	return s, nil
}

func (s *HNSWStore) reset() {
	g := hnsw.NewGraph[uint64]()
	if s.config.Metric == "l2" {
		g.Distance = hnsw.EuclideanDistance
	} else {
		g.Distance = hnsw.CosineDistance
	}
	g.M = s.config.M
	g.EfSearch = s.config.EfSearch
	g.Ml = 0.25
	s.graph = g
	s.ids = make(map[string]uint64)
	s.keys = make(map[uint64]string)
	s.nextKey = 0
}

// Dimensions returns the configured vector length.
func (s *HNSWStore) Dimensions() int { return s.config.Dimensions }

func (s *HNSWStore) Add(ctx context.Context, ids []string, vectors [][]float32) error {
	if len(ids) != len(vectors) {
		return fmt.Errorf("ids and vectors length mismatch: %d vs %d", len(ids), len(vectors))
	}
	if len(ids) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, v := range vectors {
		if len(v) != s.config.Dimensions {
			return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(v)}
		}
	}

	for i, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		if old, ok := s.ids[id]; ok {
			delete(s.keys, old)
		}
		key := s.nextKey
		s.nextKey++

		vec := append([]float32(nil), vectors[i]...)
		if s.config.Metric != "l2" {
			normalizeInPlace(vec)
		}
		s.graph.Add(hnsw.MakeNode(key, vec))
		s.ids[id] = key
		s.keys[key] = id
	}
	return nil
}

func (s *HNSWStore) Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	if len(query) != s.config.Dimensions {
		return nil, ErrDimensionMismatch{Expected: s.config.Dimensions, Got: len(query)}
	}
	if k <= 0 || len(s.ids) == 0 {
		return []*VectorResult{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q := append([]float32(nil), query...)
	if s.config.Metric != "l2" {
		normalizeInPlace(q)
	}

	orphans := s.graph.Len() - len(s.ids)
	nodes := s.graph.Search(q, k+orphans)

	// The graph returns its result heap unordered.
	out := make([]*VectorResult, 0, len(nodes))
	for _, n := range nodes {
		id, ok := s.keys[n.Key]
		if !ok {
			continue
		}
		d := s.graph.Distance(q, n.Value)
		out = append(out, &VectorResult{ID: id, Distance: d, Score: similarity(d, s.config.Metric)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func (s *HNSWStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, id := range ids {
		if key, ok := s.ids[id]; ok {
			delete(s.keys, key)
			delete(s.ids, id)
		}
	}
	return nil
}

func (s *HNSWStore) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok && !s.closed
}

func (s *HNSWStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return len(s.ids)
}

// Orphans returns the number of lazily deleted nodes still in the graph.
func (s *HNSWStore) Orphans() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0
	}
	return s.graph.Len() - len(s.ids)
}

// Save writes the graph to path and the ID mapping to path+".meta", each via
// a temp file and rename.
func (s *HNSWStore) Save(path string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create vector directory: %w", err)
	}
	if err := writeAtomic(path, func(f *os.File) error { return s.graph.Export(f) }); err != nil {
		return fmt.Errorf("export graph: %w", err)
	}
	meta := hnswMeta{IDs: s.ids, NextKey: s.nextKey, Config: s.config}
	if err := writeAtomic(path+".meta", func(f *os.File) error { return gob.NewEncoder(f).Encode(meta) }); err != nil {
		return fmt.Errorf("write vector metadata: %w", err)
	}
	return nil
}

// Load replaces the store's contents with the files written by Save.
func (s *HNSWStore) Load(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	meta, err := readHNSWMeta(path)
	if err != nil {
		return err
	}
	if meta.Config.Dimensions != s.config.Dimensions {
		return ErrDimensionMismatch{Expected: s.config.Dimensions, Got: meta.Config.Dimensions}
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open vector graph: %w", err)
	}
	defer f.Close()

	s.config = meta.Config
	s.reset()
	if err := s.graph.Import(bufio.NewReader(f)); err != nil {
		s.reset()
		return fmt.Errorf("import graph: %w", err)
	}
	s.ids = meta.IDs
	s.nextKey = meta.NextKey
	for id, key := range s.ids {
		s.keys[key] = id
	}
	return nil
}

func (s *HNSWStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.graph = nil
	return nil
}

// ReadVectorDimensions returns the dimension recorded next to a saved graph,
// or 0 when no graph has been saved at path.
func ReadVectorDimensions(path string) (int, error) {
	meta, err := readHNSWMeta(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return meta.Config.Dimensions, nil
}

func readHNSWMeta(path string) (*hnswMeta, error) {
	f, err := os.Open(path + ".meta")
	if err != nil {
		return nil, fmt.Errorf("open vector metadata: %w", err)
	}
	defer f.Close()
	var meta hnswMeta
	if err := gob.NewDecoder(f).Decode(&meta); err != nil {
		return nil, fmt.Errorf("decode vector metadata: %w", err)
	}
	if meta.IDs == nil {
		meta.IDs = make(map[string]uint64)
	}
	return &meta, nil
}

func writeAtomic(path string, write func(*os.File) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func normalizeInPlace(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}

// similarity maps a distance onto [0,1]. For cosine it is the cosine
// similarity with opposing vectors clamped to 0.
func similarity(d float32, metric string) float32 {
	if metric == "l2" {
		return 1 / (1 + d)
	}
	return max(0, 1-d)
}

var _ VectorStore = (*HNSWStore)(nil)
