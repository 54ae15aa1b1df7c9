package vectorstore

import (
	"errors"
	"fmt"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"
)

var (
	// ErrDimensionMismatch is returned when a vector does not have the store's dimension
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
	// ErrCorruptIndex is returned when the index file and its sidecar disagree
	ErrCorruptIndex = errors.New("vector index is corrupt")
)

// Metadata is the payload stored alongside each vector
type Metadata map[string]any

// Hit is a search result with its squared L2 distance
type Hit struct {
	Position int      `json:"position"`
	Distance float32  `json:"distance"`
	Metadata Metadata `json:"metadata"`
}

// Options tunes the HNSW graph
type Options struct {
	M              int
	EfConstruction int
	EfSearch       int
}

// DefaultOptions matches a 32-link HNSW flat index
func DefaultOptions() Options {
	return Options{M: 32, EfConstruction: 40, EfSearch: 16}
}

// Store is an approximate nearest neighbor index with a parallel document list.
// The i-th vector always belongs to the i-th document. Writers are serialized;
// searches run concurrently with each other.
type Store struct {
	mu   sync.RWMutex
	g    *graph
	docs []*structpb.Struct
}

// New creates an empty store with a fixed dimension and default options
func New(dim int) (*Store, error) {
	return NewWithOptions(dim, DefaultOptions())
}

// NewWithOptions creates an empty store
func NewWithOptions(dim int, opts Options) (*Store, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	def := DefaultOptions()
	if opts.M < 2 {
		opts.M = def.M
	}
	if opts.EfConstruction < 1 {
		opts.EfConstruction = def.EfConstruction
	}
	if opts.EfSearch < 1 {
		opts.EfSearch = def.EfSearch
	}
	return &Store{g: newGraph(dim, opts.M, opts.EfConstruction, opts.EfSearch)}, nil
}

// Dim returns the fixed vector dimension
func (s *Store) Dim() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.dim
}

// Len returns the number of stored documents
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.len()
}

// Add appends an embedding and its metadata. Duplicates are kept.
// Metadata values must be JSON-like (strings, numbers, bools, nil, lists, maps).
func (s *Store) Add(embedding []float32, meta Metadata) (int, error) {
	if err := s.checkDim(embedding); err != nil {
		return 0, err
	}
	doc, err := structpb.NewStruct(meta)
	if err != nil {
		return 0, fmt.Errorf("invalid metadata: %w", err)
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.g.insert(vec)
	s.docs = append(s.docs, doc)
	return len(s.docs) - 1, nil
}

// Search returns up to topK metadata entries ordered by ascending distance.
// An empty store returns an empty slice.
func (s *Store) Search(query []float32, topK int) ([]Metadata, error) {
	hits, err := s.SearchWithDistances(query, topK)
	if err != nil {
		return nil, err
	}
	out := make([]Metadata, len(hits))
	for i, h := range hits {
		out[i] = h.Metadata
	}
	return out, nil
}

// SearchWithDistances is Search with positions and distances
func (s *Store) SearchWithDistances(query []float32, topK int) ([]Hit, error) {
	if err := s.checkDim(query); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if topK <= 0 || s.g.len() == 0 {
		return []Hit{}, nil
	}

	var found []candidate
	if topK >= s.g.len() {
		found = s.g.exhaustive(query, topK)
	} else {
		found = s.g.search(query, topK)
	}

	hits := make([]Hit, 0, len(found))
	for _, c := range found {
		if int(c.id) >= len(s.docs) {
			continue
		}
		hits = append(hits, Hit{
			Position: int(c.id),
			Distance: c.dist,
			Metadata: s.docs[c.id].AsMap(),
		})
	}
	return hits, nil
}

// Stats is a snapshot of index shape
type Stats struct {
	Documents int `json:"documents"`
	Dimension int `json:"dimension"`
	MaxLevel  int `json:"max_level"`
	M         int `json:"m"`
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Stats{
		Documents: s.g.len(),
		Dimension: s.g.dim,
		MaxLevel:  s.g.maxLevel,
		M:         s.g.m,
	}
}

func (s *Store) checkDim(v []float32) error {
	s.mu.RLock()
	dim := s.g.dim
	s.mu.RUnlock()
	if len(v) != dim {
		return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, dim, len(v))
	}
	return nil
}
