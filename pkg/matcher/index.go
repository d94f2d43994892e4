package matcher

import (
	"sort"
	"sync"

	"github.com/MrCodeEU/faceroll/pkg/recognition"
	"github.com/coder/hnsw"
)

const (
	// indexMaxNeighbors is the hnsw M parameter.
	indexMaxNeighbors = 16
	// indexCandidates is how many nearest descriptors are re-scored exactly.
	indexCandidates = 64
	// indexEfSearch is the search candidate pool size.
	indexEfSearch = 200
)

// index proposes entries near a query. Distances are recomputed exactly by
// the matcher, so the index only narrows the scan. Recall is approximate.
type index struct {
	mu    sync.Mutex
	graph *hnsw.Graph[int]
	owner []int
}

func newIndex(entries []LabeledDescriptors) *index {
	g := hnsw.NewGraph[int]()
	g.M = indexMaxNeighbors
	g.EfSearch = indexEfSearch
	g.Distance = hnsw.EuclideanDistance

	ix := &index{graph: g}
	for i, e := range entries {
		for _, d := range e.Descriptors {
			key := len(ix.owner)
			ix.owner = append(ix.owner, i)
			g.Add(hnsw.MakeNode(key, d.Slice()))
		}
	}
	return ix
}

// candidates returns the distinct entries owning the nearest descriptors,
// in entry order.
func (ix *index) candidates(q recognition.Descriptor) []int {
	ix.mu.Lock()
	nodes := ix.graph.Search(q.Slice(), indexCandidates)
	ix.mu.Unlock()

	seen := make(map[int]bool, len(nodes))
	out := make([]int, 0, len(nodes))
	for _, n := range nodes {
		entry := ix.owner[n.Key]
		if !seen[entry] {
			seen[entry] = true
			out = append(out, entry)
		}
	}
	sort.Ints(out)
	return out
}
