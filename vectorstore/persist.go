package vectorstore

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

const formatVersion = 1

// maxNodeLevel bounds decoded node levels. Real levels stay in single digits.
const maxNodeLevel = 64

// index file fields
const (
	fieldVersion protowire.Number = iota + 1
	fieldDim
	fieldM
	fieldEfConstruction
	fieldEfSearch
	fieldEntry
	fieldMaxLevel
	fieldNode
)

// node message fields
const (
	nodeLevel protowire.Number = iota + 1
	nodeVector
	nodeLayer
)

// sidecar fields
const (
	metaCount protowire.Number = iota + 1
	metaDocument
)

// MetaPath is the sidecar file holding the document list for an index file
func MetaPath(path string) string { return path + ".meta" }

// Save writes the index file and its metadata sidecar. Both are written to
// temporary files first and renamed into place together.
func (s *Store) Save(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := encodeGraph(s.g)
	meta, err := encodeDocs(s.docs)
	if err != nil {
		return err
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create index directory: %w", err)
		}
	}
	if err := os.WriteFile(path+".tmp", index, 0o644); err != nil {
		return fmt.Errorf("write index: %w", err)
	}
	if err := os.WriteFile(MetaPath(path)+".tmp", meta, 0o644); err != nil {
		os.Remove(path + ".tmp")
		return fmt.Errorf("write index metadata: %w", err)
	}
	if err := os.Rename(path+".tmp", path); err != nil {
		return fmt.Errorf("commit index: %w", err)
	}
	if err := os.Rename(MetaPath(path)+".tmp", MetaPath(path)); err != nil {
		return fmt.Errorf("commit index metadata: %w", err)
	}
	return nil
}

// Load replaces the store contents with the persisted index at path.
// The persisted dimension must equal the store's dimension.
func (s *Store) Load(path string) error {
	g, docs, err := readFiles(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if g.dim != s.g.dim {
		return fmt.Errorf("%w: index has %d, store has %d", ErrDimensionMismatch, g.dim, s.g.dim)
	}
	s.g = g
	s.docs = docs
	return nil
}

// LoadOrNew restores the index at path, or returns an empty store when neither file exists
func LoadOrNew(path string, dim int, opts Options) (*Store, bool, error) {
	s, err := NewWithOptions(dim, opts)
	if err != nil {
		return nil, false, err
	}
	_, errIndex := os.Stat(path)
	_, errMeta := os.Stat(MetaPath(path))
	if errors.Is(errIndex, fs.ErrNotExist) && errors.Is(errMeta, fs.ErrNotExist) {
		return s, false, nil
	}
	if err := s.Load(path); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func readFiles(path string) (*graph, []*structpb.Struct, error) {
	index, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read index: %w", err)
	}
	meta, err := os.ReadFile(MetaPath(path))
	if err != nil {
		return nil, nil, fmt.Errorf("read index metadata: %w", err)
	}

	g, err := decodeGraph(index)
	if err != nil {
		return nil, nil, err
	}
	docs, err := decodeDocs(meta)
	if err != nil {
		return nil, nil, err
	}
	if len(docs) != g.len() {
		return nil, nil, fmt.Errorf("%w: %d vectors but %d documents", ErrCorruptIndex, g.len(), len(docs))
	}
	return g, docs, nil
}

func encodeGraph(g *graph) []byte {
	var b []byte
	b = appendVarint(b, fieldVersion, formatVersion)
	b = appendVarint(b, fieldDim, uint64(g.dim))
	b = appendVarint(b, fieldM, uint64(g.m))
	b = appendVarint(b, fieldEfConstruction, uint64(g.efConstruction))
	b = appendVarint(b, fieldEfSearch, uint64(g.efSearch))
	b = appendVarint(b, fieldEntry, protowire.EncodeZigZag(int64(g.entry)))
	b = appendVarint(b, fieldMaxLevel, protowire.EncodeZigZag(int64(g.maxLevel)))

	for i, vec := range g.vectors {
		var node []byte
		node = appendVarint(node, nodeLevel, uint64(g.levels[i]))

		packed := make([]byte, 0, 4*len(vec))
		for _, x := range vec {
			packed = protowire.AppendFixed32(packed, math.Float32bits(x))
		}
		node = protowire.AppendTag(node, nodeVector, protowire.BytesType)
		node = protowire.AppendBytes(node, packed)

		for _, layer := range g.links[i] {
			var ids []byte
			for _, id := range layer {
				ids = protowire.AppendVarint(ids, uint64(id))
			}
			node = protowire.AppendTag(node, nodeLayer, protowire.BytesType)
			node = protowire.AppendBytes(node, ids)
		}

		b = protowire.AppendTag(b, fieldNode, protowire.BytesType)
		b = protowire.AppendBytes(b, node)
	}
	return b
}

func decodeGraph(b []byte) (*graph, error) {
	g := &graph{entry: -1, maxLevel: -1}
	version := uint64(0)

	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
			switch num {
			case fieldVersion:
				version = v
			case fieldDim:
				g.dim = int(v)
			case fieldM:
				g.m = int(v)
			case fieldEfConstruction:
				g.efConstruction = int(v)
			case fieldEfSearch:
				g.efSearch = int(v)
			case fieldEntry:
				g.entry = int32(protowire.DecodeZigZag(v))
			case fieldMaxLevel:
				g.maxLevel = int(protowire.DecodeZigZag(v))
			}
		case typ == protowire.BytesType && num == fieldNode:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
			if err := g.decodeNode(raw); err != nil {
				return nil, err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if version != formatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorruptIndex, version)
	}
	if g.dim <= 0 || g.m < 2 {
		return nil, fmt.Errorf("%w: bad header", ErrCorruptIndex)
	}
	if g.efConstruction < 1 || g.efSearch < 1 {
		return nil, fmt.Errorf("%w: bad search parameters", ErrCorruptIndex)
	}
	g.levelMult = 1 / math.Log(float64(g.m))
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// validate checks the graph invariants search relies on: the entry point is
// a top-level node and every link on layer L reaches a node present on L.
func (g *graph) validate() error {
	n := len(g.vectors)
	if n == 0 {
		if g.entry != -1 || g.maxLevel != -1 {
			return fmt.Errorf("%w: empty index with an entry point", ErrCorruptIndex)
		}
		return nil
	}
	if g.entry < 0 || int(g.entry) >= n {
		return fmt.Errorf("%w: entry point %d out of range", ErrCorruptIndex, g.entry)
	}
	if g.maxLevel != g.levels[g.entry] {
		return fmt.Errorf("%w: max level %d but entry point is on level %d", ErrCorruptIndex, g.maxLevel, g.levels[g.entry])
	}
	for i, layers := range g.links {
		if g.levels[i] > g.maxLevel {
			return fmt.Errorf("%w: node %d is above the entry point", ErrCorruptIndex, i)
		}
		for layer, ids := range layers {
			for _, id := range ids {
				if id < 0 || int(id) >= n {
					return fmt.Errorf("%w: node %d links to missing node %d", ErrCorruptIndex, i, id)
				}
				if g.levels[id] < layer {
					return fmt.Errorf("%w: node %d links to node %d on layer %d above its level", ErrCorruptIndex, i, id, layer)
				}
			}
		}
	}
	return nil
}

func (g *graph) decodeNode(b []byte) error {
	var (
		level  int
		vec    []float32
		layers [][]int32
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return corrupt(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == nodeLevel && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return corrupt(protowire.ParseError(n))
			}
			b = b[n:]
			if v > maxNodeLevel {
				return fmt.Errorf("%w: node %d has level %d", ErrCorruptIndex, len(g.vectors), v)
			}
			level = int(v)
		case num == nodeVector && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return corrupt(protowire.ParseError(n))
			}
			b = b[n:]
			for len(raw) > 0 {
				bits, n := protowire.ConsumeFixed32(raw)
				if n < 0 {
					return corrupt(protowire.ParseError(n))
				}
				raw = raw[n:]
				vec = append(vec, math.Float32frombits(bits))
			}
		case num == nodeLayer && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return corrupt(protowire.ParseError(n))
			}
			b = b[n:]
			layer := []int32{}
			for len(raw) > 0 {
				v, n := protowire.ConsumeVarint(raw)
				if n < 0 {
					return corrupt(protowire.ParseError(n))
				}
				raw = raw[n:]
				if v > math.MaxInt32 {
					return fmt.Errorf("%w: node %d links to id %d", ErrCorruptIndex, len(g.vectors), v)
				}
				layer = append(layer, int32(v))
			}
			layers = append(layers, layer)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return corrupt(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}

	if len(vec) != g.dim {
		return fmt.Errorf("%w: node %d has %d components, want %d", ErrCorruptIndex, len(g.vectors), len(vec), g.dim)
	}
	if len(layers) != level+1 {
		return fmt.Errorf("%w: node %d has %d layers, want %d", ErrCorruptIndex, len(g.vectors), len(layers), level+1)
	}
	g.vectors = append(g.vectors, vec)
	g.levels = append(g.levels, level)
	g.links = append(g.links, layers)
	return nil
}

func encodeDocs(docs []*structpb.Struct) ([]byte, error) {
	opts := proto.MarshalOptions{Deterministic: true}
	var b []byte
	b = appendVarint(b, metaCount, uint64(len(docs)))
	for i, d := range docs {
		raw, err := opts.Marshal(d)
		if err != nil {
			return nil, fmt.Errorf("encode document %d: %w", i, err)
		}
		b = protowire.AppendTag(b, metaDocument, protowire.BytesType)
		b = protowire.AppendBytes(b, raw)
	}
	return b, nil
}

func decodeDocs(b []byte) ([]*structpb.Struct, error) {
	var (
		docs     []*structpb.Struct
		declared = -1
	)
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, corrupt(protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == metaCount && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
			declared = int(v)
		case num == metaDocument && typ == protowire.BytesType:
			raw, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
			doc := &structpb.Struct{}
			if err := proto.Unmarshal(raw, doc); err != nil {
				return nil, fmt.Errorf("%w: document %d: %v", ErrCorruptIndex, len(docs), err)
			}
			docs = append(docs, doc)
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, corrupt(protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if declared != len(docs) {
		return nil, fmt.Errorf("%w: sidecar declares %d documents, found %d", ErrCorruptIndex, declared, len(docs))
	}
	return docs, nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func corrupt(err error) error {
	return fmt.Errorf("%w: %v", ErrCorruptIndex, err)
}
