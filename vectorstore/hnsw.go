package vectorstore

import (
	"container/heap"
	"math"
	"math/rand/v2"
)

// levelSeed fixes node levels so a graph built from the same inserts is identical
const levelSeed uint64 = 12345

// graph is a hierarchical navigable small world index over squared L2 distance.
// Node ids are insertion positions and never change.
type graph struct {
	dim            int
	m              int
	efConstruction int
	efSearch       int
	levelMult      float64

	vectors  [][]float32
	levels   []int
	links    [][][]int32 // links[node][layer]
	entry    int32
	maxLevel int
}

func newGraph(dim, m, efConstruction, efSearch int) *graph {
	return &graph{
		dim:            dim,
		m:              m,
		efConstruction: efConstruction,
		efSearch:       efSearch,
		levelMult:      1 / math.Log(float64(m)),
		entry:          -1,
		maxLevel:       -1,
	}
}

func (g *graph) len() int { return len(g.vectors) }

func (g *graph) maxLinks(layer int) int {
	if layer == 0 {
		return 2 * g.m
	}
	return g.m
}

func (g *graph) randomLevel(id int) int {
	r := rand.New(rand.NewPCG(levelSeed, uint64(id)))
	u := r.Float64()
	if u == 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Floor(-math.Log(u) * g.levelMult))
}

func (g *graph) insert(vec []float32) {
	id := int32(len(g.vectors))
	level := g.randomLevel(int(id))
	g.vectors = append(g.vectors, vec)
	g.levels = append(g.levels, level)
	g.links = append(g.links, make([][]int32, level+1))

	if g.entry < 0 {
		g.entry = id
		g.maxLevel = level
		return
	}

	ep := g.entry
	for layer := g.maxLevel; layer > level; layer-- {
		ep = g.greedy(vec, ep, layer)
	}

	for layer := min(level, g.maxLevel); layer >= 0; layer-- {
		found := g.searchLayer(vec, []int32{ep}, g.efConstruction, layer)
		neighbors := closest(found, g.m)
		for _, nb := range neighbors {
			g.links[id][layer] = append(g.links[id][layer], nb.id)
			g.connect(nb.id, id, layer)
		}
		ep = found[0].id
	}

	if level > g.maxLevel {
		g.entry = id
		g.maxLevel = level
	}
}

// connect adds a back link and prunes the list to the closest maxLinks
func (g *graph) connect(from, to int32, layer int) {
	list := append(g.links[from][layer], to)
	limit := g.maxLinks(layer)
	if len(list) > limit {
		cands := make([]candidate, len(list))
		for i, n := range list {
			cands[i] = candidate{id: n, dist: l2(g.vectors[from], g.vectors[n])}
		}
		sortCandidates(cands)
		list = list[:0]
		for _, c := range cands[:limit] {
			list = append(list, c.id)
		}
	}
	g.links[from][layer] = list
}

func (g *graph) greedy(q []float32, ep int32, layer int) int32 {
	cur := ep
	curDist := l2(q, g.vectors[cur])
	for changed := true; changed; {
		changed = false
		for _, nb := range g.links[cur][layer] {
			if d := l2(q, g.vectors[nb]); d < curDist || (d == curDist && nb < cur) {
				cur, curDist = nb, d
				changed = true
			}
		}
	}
	return cur
}

// searchLayer returns up to ef nearest nodes on one layer, sorted ascending
func (g *graph) searchLayer(q []float32, eps []int32, ef, layer int) []candidate {
	visited := make(map[int32]struct{}, ef*4)
	cands := &minHeap{}
	results := &maxHeap{}
	for _, ep := range eps {
		c := candidate{id: ep, dist: l2(q, g.vectors[ep])}
		visited[ep] = struct{}{}
		heap.Push(cands, c)
		heap.Push(results, c)
	}

	for cands.Len() > 0 {
		c := heap.Pop(cands).(candidate)
		if results.Len() >= ef && c.dist > (*results)[0].dist {
			break
		}
		for _, nb := range g.links[c.id][layer] {
			if _, seen := visited[nb]; seen {
				continue
			}
			visited[nb] = struct{}{}
			d := l2(q, g.vectors[nb])
			if results.Len() < ef || d < (*results)[0].dist {
				heap.Push(cands, candidate{id: nb, dist: d})
				heap.Push(results, candidate{id: nb, dist: d})
				if results.Len() > ef {
					heap.Pop(results)
				}
			}
		}
	}

	out := make([]candidate, results.Len())
	copy(out, *results)
	sortCandidates(out)
	return out
}

// search walks down from the entry point and returns the k nearest on layer 0
func (g *graph) search(q []float32, k int) []candidate {
	if g.entry < 0 {
		return nil
	}
	ep := g.entry
	for layer := g.maxLevel; layer > 0; layer-- {
		ep = g.greedy(q, ep, layer)
	}
	found := g.searchLayer(q, []int32{ep}, max(g.efSearch, k), 0)
	return closest(found, k)
}

// exhaustive scores every node; used when k covers the whole index
func (g *graph) exhaustive(q []float32, k int) []candidate {
	out := make([]candidate, len(g.vectors))
	for i, v := range g.vectors {
		out[i] = candidate{id: int32(i), dist: l2(q, v)}
	}
	sortCandidates(out)
	return closest(out, k)
}

func l2(a, b []float32) float32 {
	var sum float32
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return sum
}
