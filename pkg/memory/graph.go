package memory

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

// Node types in the semantic graph
const (
	NodeActor    = "actor"
	NodeProject  = "project"
	NodeGenre    = "genre"
	NodeSkill    = "skill"
	NodePlatform = "platform"
	NodeLocation = "location"
	NodeUser     = "user"
)

// Edge predicates
const (
	PredWorkedWith    = "WORKED_WITH"
	PredSimilarTo     = "SIMILAR_TO"
	PredBelongsTo     = "BELONGS_TO"
	PredPrefers       = "PREFERS"
	PredSpecializesIn = "SPECIALIZES_IN"
)

// GraphNode is a typed entity in the semantic graph
type GraphNode struct {
	ID         string                 `json:"id"`
	Type       string                 `json:"type"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// GraphEdge is a directed labelled relationship
type GraphEdge struct {
	Subject       string                 `json:"subject"`
	Predicate     string                 `json:"predicate"`
	Object        string                 `json:"object"`
	Confidence    float64                `json:"confidence"`
	EvidenceCount int                    `json:"evidence_count"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// EdgePattern selects edges; empty fields match anything
type EdgePattern struct {
	SubjectType string
	Predicate   string
	ObjectType  string
	MinConf     float64
}

type edgeKey struct {
	subject   string
	predicate string
	object    string
}

// Graph is the in-memory semantic graph. Writers take the exclusive
// lock; PageRank and community detection copy the adjacency under the
// read lock and work on the snapshot.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]*GraphNode
	edges map[edgeKey]*GraphEdge
	out   map[string][]edgeKey
	in    map[string][]edgeKey
}

func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*GraphNode),
		edges: make(map[edgeKey]*GraphEdge),
		out:   make(map[string][]edgeKey),
		in:    make(map[string][]edgeKey),
	}
}

// UpsertNode creates or merges a node. Attribute maps merge key-wise
// with new values winning.
func (g *Graph) UpsertNode(node GraphNode) error {
	if node.ID == "" || node.Type == "" {
		return apperrors.New(apperrors.KindValidation, "node id and type are required")
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	existing, ok := g.nodes[node.ID]
	if !ok {
		node.UpdatedAt = time.Now()
		if node.Attributes == nil {
			node.Attributes = map[string]interface{}{}
		}
		g.nodes[node.ID] = &node
		return nil
	}
	existing.Type = node.Type
	for k, v := range node.Attributes {
		existing.Attributes[k] = v
	}
	existing.UpdatedAt = time.Now()
	return nil
}

// UpsertEdge creates an edge or reinforces an existing one. A repeated
// upsert counts as positive evidence.
func (g *Graph) UpsertEdge(edge GraphEdge) error {
	if edge.Subject == "" || edge.Predicate == "" || edge.Object == "" {
		return apperrors.New(apperrors.KindValidation, "edge subject, predicate and object are required")
	}
	if edge.Confidence <= 0 {
		edge.Confidence = 0.5
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[edge.Subject]; !ok {
		return apperrors.Newf(apperrors.KindValidation, "unknown subject node %s", edge.Subject)
	}
	if _, ok := g.nodes[edge.Object]; !ok {
		return apperrors.Newf(apperrors.KindValidation, "unknown object node %s", edge.Object)
	}

	key := edgeKey{edge.Subject, edge.Predicate, edge.Object}
	existing, ok := g.edges[key]
	if !ok {
		edge.EvidenceCount = 1
		edge.UpdatedAt = time.Now()
		g.edges[key] = &edge
		g.out[edge.Subject] = append(g.out[edge.Subject], key)
		g.in[edge.Object] = append(g.in[edge.Object], key)
		return nil
	}
	existing.Confidence = math.Min(1, existing.Confidence*1.1)
	existing.EvidenceCount++
	for k, v := range edge.Metadata {
		if existing.Metadata == nil {
			existing.Metadata = map[string]interface{}{}
		}
		existing.Metadata[k] = v
	}
	existing.UpdatedAt = time.Now()
	return nil
}

// Feedback adjusts an edge's confidence: positive multiplies by 1.1
// capped at 1, negative by 0.9 floored at 0.1. Evidence always counts.
func (g *Graph) Feedback(subject, predicate, object string, positive bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{subject, predicate, object}
	edge, ok := g.edges[key]
	if !ok {
		return apperrors.Newf(apperrors.KindNotFound, "edge %s-[%s]->%s not found", subject, predicate, object)
	}
	if positive {
		edge.Confidence = math.Min(1, edge.Confidence*1.1)
	} else {
		edge.Confidence = math.Max(0.1, edge.Confidence*0.9)
	}
	edge.EvidenceCount++
	edge.UpdatedAt = time.Now()
	return nil
}

// Node returns a copy of the node, or nil
func (g *Graph) Node(id string) *GraphNode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	node, ok := g.nodes[id]
	if !ok {
		return nil
	}
	dup := *node
	return &dup
}

// Neighbors returns outgoing edges from id, optionally filtered by
// predicate, sorted by confidence descending
func (g *Graph) Neighbors(id, predicate string) []GraphEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []GraphEdge
	for _, key := range g.out[id] {
		if predicate != "" && key.predicate != predicate {
			continue
		}
		out = append(out, *g.edges[key])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Object < out[j].Object
	})
	return out
}

// Query returns edges matching the pattern, sorted by confidence
func (g *Graph) Query(pattern EdgePattern) []GraphEdge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []GraphEdge
	for key, edge := range g.edges {
		if pattern.Predicate != "" && key.predicate != pattern.Predicate {
			continue
		}
		if pattern.SubjectType != "" && g.nodes[key.subject].Type != pattern.SubjectType {
			continue
		}
		if pattern.ObjectType != "" && g.nodes[key.object].Type != pattern.ObjectType {
			continue
		}
		if edge.Confidence < pattern.MinConf {
			continue
		}
		out = append(out, *edge)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Object < out[j].Object
	})
	return out
}

// Len reports node and edge counts
func (g *Graph) Len() (nodes, edges int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.edges)
}

// snapshot copies ids and adjacency for offline algorithms
func (g *Graph) snapshot() (ids []string, succ map[string][]string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	ids = make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	succ = make(map[string][]string, len(g.nodes))
	for key := range g.edges {
		succ[key.subject] = append(succ[key.subject], key.object)
	}
	return ids, succ
}

// PageRank runs the power iteration with damping 0.85 for 20 rounds
func (g *Graph) PageRank() map[string]float64 {
	const (
		damping = 0.85
		rounds  = 20
	)
	ids, succ := g.snapshot()
	n := len(ids)
	if n == 0 {
		return map[string]float64{}
	}

	rank := make(map[string]float64, n)
	for _, id := range ids {
		rank[id] = 1.0 / float64(n)
	}

	for i := 0; i < rounds; i++ {
		next := make(map[string]float64, n)
		base := (1 - damping) / float64(n)
		dangling := 0.0
		for _, id := range ids {
			outs := succ[id]
			if len(outs) == 0 {
				dangling += rank[id]
				continue
			}
			share := rank[id] / float64(len(outs))
			for _, o := range outs {
				next[o] += share
			}
		}
		for _, id := range ids {
			next[id] = base + damping*(next[id]+dangling/float64(n))
		}
		rank = next
	}
	return rank
}

// Communities runs asynchronous label propagation over the undirected
// projection of the graph. Returns a stable community label per node.
func (g *Graph) Communities() map[string]string {
	ids, succ := g.snapshot()
	if len(ids) == 0 {
		return map[string]string{}
	}

	// undirected adjacency
	adj := make(map[string][]string, len(ids))
	for s, objs := range succ {
		for _, o := range objs {
			adj[s] = append(adj[s], o)
			adj[o] = append(adj[o], s)
		}
	}

	label := make(map[string]string, len(ids))
	for _, id := range ids {
		label[id] = id
	}

	for round := 0; round < 10; round++ {
		changed := false
		for _, id := range ids {
			counts := make(map[string]int)
			for _, nb := range adj[id] {
				counts[label[nb]]++
			}
			if len(counts) == 0 {
				continue
			}
			best := label[id]
			bestCount := counts[best]
			for l, c := range counts {
				if c > bestCount || (c == bestCount && l < best) {
					best, bestCount = l, c
				}
			}
			if best != label[id] {
				label[id] = best
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return label
}
