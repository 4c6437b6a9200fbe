package vector

import (
	"container/heap"
	"encoding/gob"
	"io"
	"math"
	"math/rand"
	"sort"
	"sync"
)

// hnswNode is one vertex of the navigable small-world graph. Neighbors
// holds one adjacency list per layer up to the node's level.
type hnswNode struct {
	ID        string
	Vector    []float32
	Level     int
	Neighbors [][]string
	Deleted   bool
}

// hnswGraph is a hierarchical navigable small world graph over cosine
// distance. Deletes are tombstones; Compact rebuilds the graph once the
// tombstone share grows past the caller's threshold.
type hnswGraph struct {
	m           int // bidirectional links per node above layer 0
	maxM0       int // links at layer 0
	efConstruct int
	efSearch    int

	mu         sync.RWMutex
	nodes      map[string]*hnswNode
	entryPoint string
	rng        *rand.Rand
}

func newHNSWGraph(m, efConstruct, efSearch int, seed int64) *hnswGraph {
	if m <= 0 {
		m = 16
	}
	if efConstruct <= 0 {
		efConstruct = 200
	}
	if efSearch <= 0 {
		efSearch = 64
	}
	return &hnswGraph{
		m:           m,
		maxM0:       m * 2,
		efConstruct: efConstruct,
		efSearch:    efSearch,
		nodes:       make(map[string]*hnswNode),
		rng:         rand.New(rand.NewSource(seed)),
	}
}

// cosineDist is 1 - cosine similarity; assumes callers pass unit-norm
// vectors but tolerates arbitrary magnitudes
func cosineDist(a, b []float32) float32 {
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

// randomLevel flips fair coins, capped so a degenerate streak cannot
// build an absurdly tall tower
func (g *hnswGraph) randomLevel() int {
	level := 0
	for g.rng.Float64() < 0.5 && level < 16 {
		level++
	}
	return level
}

// insert adds or replaces a vector. Replacement tombstones the old node
// and inserts fresh; patching adjacency in place is not worth the bugs.
func (g *hnswGraph) insert(id string, vec []float32) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if old, ok := g.nodes[id]; ok && !old.Deleted {
		old.Deleted = true
		if g.entryPoint == id {
			g.resetEntryLocked()
		}
	}

	level := g.randomLevel()
	node := &hnswNode{
		ID:        id,
		Vector:    vec,
		Level:     level,
		Neighbors: make([][]string, level+1),
	}
	g.nodes[id] = node

	if g.entryPoint == "" {
		g.entryPoint = id
		return
	}

	// greedy descent from the top layer to just above the node's level
	curr := []string{g.entryPoint}
	entry := g.nodes[g.entryPoint]
	for layer := entry.Level; layer > level; layer-- {
		curr = g.searchLayerLocked(vec, curr, 1, layer)
	}

	for layer := min(level, entry.Level); layer >= 0; layer-- {
		maxConn := g.m
		if layer == 0 {
			maxConn = g.maxM0
		}
		candidates := g.searchLayerLocked(vec, curr, g.efConstruct, layer)
		neighbors := g.nearestLocked(vec, candidates, maxConn)
		node.Neighbors[layer] = neighbors

		for _, nb := range neighbors {
			g.linkLocked(nb, id, layer)
			nbNode := g.nodes[nb]
			if layer < len(nbNode.Neighbors) && len(nbNode.Neighbors[layer]) > maxConn {
				nbNode.Neighbors[layer] = g.nearestLocked(nbNode.Vector, nbNode.Neighbors[layer], maxConn)
			}
		}
		curr = neighbors
	}

	if level > g.nodes[g.entryPoint].Level {
		g.entryPoint = id
	}
}

func (g *hnswGraph) linkLocked(from, to string, layer int) {
	node, ok := g.nodes[from]
	if !ok || layer >= len(node.Neighbors) {
		return
	}
	for _, nb := range node.Neighbors[layer] {
		if nb == to {
			return
		}
	}
	node.Neighbors[layer] = append(node.Neighbors[layer], to)
}

// searchLayerLocked runs a best-first search over one layer, keeping the
// ef closest candidates. Caller holds at least a read lock.
func (g *hnswGraph) searchLayerLocked(query []float32, entry []string, ef, layer int) []string {
	visited := make(map[string]bool, ef*4)
	toVisit := &minDistHeap{}
	best := &maxDistHeap{}

	for _, id := range entry {
		d := cosineDist(query, g.nodes[id].Vector)
		heap.Push(toVisit, distItem{id: id, dist: d})
		heap.Push(best, distItem{id: id, dist: d})
		visited[id] = true
	}

	for toVisit.Len() > 0 {
		curr := heap.Pop(toVisit).(distItem)
		if best.Len() >= ef && curr.dist > (*best)[0].dist {
			break
		}
		node := g.nodes[curr.id]
		if layer >= len(node.Neighbors) {
			continue
		}
		for _, nb := range node.Neighbors[layer] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			d := cosineDist(query, g.nodes[nb].Vector)
			if best.Len() < ef || d < (*best)[0].dist {
				heap.Push(toVisit, distItem{id: nb, dist: d})
				heap.Push(best, distItem{id: nb, dist: d})
				if best.Len() > ef {
					heap.Pop(best)
				}
			}
		}
	}

	out := make([]string, best.Len())
	for i := best.Len() - 1; i >= 0; i-- {
		out[i] = heap.Pop(best).(distItem).id
	}
	return out
}

func (g *hnswGraph) nearestLocked(query []float32, candidates []string, m int) []string {
	if len(candidates) <= m {
		return append([]string(nil), candidates...)
	}
	type pair struct {
		id   string
		dist float32
	}
	pairs := make([]pair, len(candidates))
	for i, id := range candidates {
		pairs[i] = pair{id: id, dist: cosineDist(query, g.nodes[id].Vector)}
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].dist < pairs[j].dist })
	out := make([]string, m)
	for i := 0; i < m; i++ {
		out[i] = pairs[i].id
	}
	return out
}

// search returns up to k live ids ordered by ascending distance. ef is
// raised to at least k so small indices stay exact-ish.
func (g *hnswGraph) search(query []float32, k int) []distItem {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.entryPoint == "" {
		return nil
	}

	ef := g.efSearch
	if ef < k {
		ef = k * 2
	}

	curr := []string{g.entryPoint}
	entry := g.nodes[g.entryPoint]
	for layer := entry.Level; layer > 0; layer-- {
		curr = g.searchLayerLocked(query, curr, 1, layer)
	}
	candidates := g.searchLayerLocked(query, curr, ef, 0)

	out := make([]distItem, 0, len(candidates))
	for _, id := range candidates {
		node := g.nodes[id]
		if node.Deleted {
			continue
		}
		out = append(out, distItem{id: id, dist: cosineDist(query, node.Vector)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].dist < out[j].dist })
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// remove tombstones the node; the graph keeps routing through it
func (g *hnswGraph) remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	node, ok := g.nodes[id]
	if !ok || node.Deleted {
		return false
	}
	node.Deleted = true
	if g.entryPoint == id {
		g.resetEntryLocked()
	}
	return true
}

func (g *hnswGraph) resetEntryLocked() {
	g.entryPoint = ""
	for id, node := range g.nodes {
		if !node.Deleted {
			g.entryPoint = id
			return
		}
	}
}

func (g *hnswGraph) size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n := 0
	for _, node := range g.nodes {
		if !node.Deleted {
			n++
		}
	}
	return n
}

// tombstoneRatio reports the share of dead nodes
func (g *hnswGraph) tombstoneRatio() float64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.nodes) == 0 {
		return 0
	}
	dead := 0
	for _, node := range g.nodes {
		if node.Deleted {
			dead++
		}
	}
	return float64(dead) / float64(len(g.nodes))
}

// compact rebuilds the graph without tombstones
func (g *hnswGraph) compact() {
	g.mu.Lock()
	live := make([]*hnswNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		if !node.Deleted {
			live = append(live, node)
		}
	}
	g.nodes = make(map[string]*hnswNode, len(live))
	g.entryPoint = ""
	g.mu.Unlock()

	for _, node := range live {
		g.insert(node.ID, node.Vector)
	}
}

type hnswSnapshot struct {
	M           int
	EfConstruct int
	EntryPoint  string
	Nodes       []*hnswNode
}

// save writes a gob snapshot of the graph
func (g *hnswGraph) save(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	snap := hnswSnapshot{
		M:           g.m,
		EfConstruct: g.efConstruct,
		EntryPoint:  g.entryPoint,
		Nodes:       make([]*hnswNode, 0, len(g.nodes)),
	}
	for _, node := range g.nodes {
		snap.Nodes = append(snap.Nodes, node)
	}
	return gob.NewEncoder(w).Encode(snap)
}

// load replaces the graph contents from a gob snapshot
func (g *hnswGraph) load(r io.Reader) error {
	var snap hnswSnapshot
	if err := gob.NewDecoder(r).Decode(&snap); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.m = snap.M
	g.maxM0 = snap.M * 2
	g.efConstruct = snap.EfConstruct
	g.entryPoint = snap.EntryPoint
	g.nodes = make(map[string]*hnswNode, len(snap.Nodes))
	for _, node := range snap.Nodes {
		g.nodes[node.ID] = node
	}
	return nil
}

type distItem struct {
	id   string
	dist float32
}

type minDistHeap []distItem

func (h minDistHeap) Len() int            { return len(h) }
func (h minDistHeap) Less(i, j int) bool  { return h[i].dist < h[j].dist }
func (h minDistHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *minDistHeap) Push(x interface{}) { *h = append(*h, x.(distItem)) }
func (h *minDistHeap) Pop() interface{} {
	old := *h
	item := old[len(old)-1]
	*h = old[:len(old)-1]
	return item
}

type maxDistHeap []distItem

func (h maxDistHeap) Len() int            { return len(h) }
func (h maxDistHeap) Less(i, j int) bool  { return h[i].dist > h[j].dist }
func (h maxDistHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *maxDistHeap) Push(x interface{}) { *h = append(*h, x.(distItem)) }
func (h *maxDistHeap) Pop() interface{} {
	old := *h
	item := old[len(old)-1]
	*h = old[:len(old)-1]
	return item
}
