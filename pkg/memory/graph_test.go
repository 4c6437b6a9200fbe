package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

func seedGraph(t *testing.T) *Graph {
	t.Helper()
	g := NewGraph()
	require.NoError(t, g.UpsertNode(GraphNode{ID: "actor:ada", Type: NodeActor}))
	require.NoError(t, g.UpsertNode(GraphNode{ID: "actor:ben", Type: NodeActor}))
	require.NoError(t, g.UpsertNode(GraphNode{ID: "skill:fencing", Type: NodeSkill}))
	require.NoError(t, g.UpsertNode(GraphNode{ID: "project:p1", Type: NodeProject}))
	return g
}

func TestUpsertNodeMergesAttributes(t *testing.T) {
	g := NewGraph()
	require.NoError(t, g.UpsertNode(GraphNode{ID: "actor:ada", Type: NodeActor, Attributes: map[string]interface{}{"age": 30}}))
	require.NoError(t, g.UpsertNode(GraphNode{ID: "actor:ada", Type: NodeActor, Attributes: map[string]interface{}{"location": "london"}}))

	node := g.Node("actor:ada")
	require.NotNil(t, node)
	assert.Equal(t, 30, node.Attributes["age"])
	assert.Equal(t, "london", node.Attributes["location"])

	nodes, _ := g.Len()
	assert.Equal(t, 1, nodes)
}

func TestUpsertEdgeRequiresNodes(t *testing.T) {
	g := NewGraph()
	err := g.UpsertEdge(GraphEdge{Subject: "a", Predicate: PredSimilarTo, Object: "b"})
	assert.Equal(t, apperrors.KindValidation, apperrors.KindOf(err))
}

func TestRepeatedUpsertReinforcesEdge(t *testing.T) {
	g := seedGraph(t)
	edge := GraphEdge{Subject: "actor:ada", Predicate: PredSpecializesIn, Object: "skill:fencing", Confidence: 0.5}

	require.NoError(t, g.UpsertEdge(edge))
	require.NoError(t, g.UpsertEdge(edge))

	got := g.Neighbors("actor:ada", PredSpecializesIn)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].EvidenceCount)
	assert.InDelta(t, 0.55, got[0].Confidence, 1e-9)
}

func TestFeedbackBounds(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.UpsertEdge(GraphEdge{Subject: "actor:ada", Predicate: PredWorkedWith, Object: "actor:ben", Confidence: 0.95}))

	for i := 0; i < 10; i++ {
		require.NoError(t, g.Feedback("actor:ada", PredWorkedWith, "actor:ben", true))
	}
	edges := g.Neighbors("actor:ada", PredWorkedWith)
	require.Len(t, edges, 1)
	assert.Equal(t, 1.0, edges[0].Confidence, "positive feedback caps at 1")
	assert.Equal(t, 11, edges[0].EvidenceCount)

	for i := 0; i < 50; i++ {
		require.NoError(t, g.Feedback("actor:ada", PredWorkedWith, "actor:ben", false))
	}
	edges = g.Neighbors("actor:ada", PredWorkedWith)
	assert.InDelta(t, 0.1, edges[0].Confidence, 1e-9, "negative feedback floors at 0.1")
}

func TestFeedbackUnknownEdge(t *testing.T) {
	g := seedGraph(t)
	err := g.Feedback("actor:ada", PredWorkedWith, "actor:ben", true)
	assert.Equal(t, apperrors.KindNotFound, apperrors.KindOf(err))
}

func TestQueryByPattern(t *testing.T) {
	g := seedGraph(t)
	require.NoError(t, g.UpsertEdge(GraphEdge{Subject: "actor:ada", Predicate: PredSpecializesIn, Object: "skill:fencing", Confidence: 0.9}))
	require.NoError(t, g.UpsertEdge(GraphEdge{Subject: "actor:ada", Predicate: PredBelongsTo, Object: "project:p1", Confidence: 0.6}))
	require.NoError(t, g.UpsertEdge(GraphEdge{Subject: "actor:ben", Predicate: PredSpecializesIn, Object: "skill:fencing", Confidence: 0.4}))

	got := g.Query(EdgePattern{SubjectType: NodeActor, Predicate: PredSpecializesIn, ObjectType: NodeSkill})
	require.Len(t, got, 2)
	assert.Equal(t, "actor:ada", got[0].Subject, "sorted by confidence")

	strong := g.Query(EdgePattern{Predicate: PredSpecializesIn, MinConf: 0.5})
	require.Len(t, strong, 1)
	assert.Equal(t, "actor:ada", strong[0].Subject)
}

func TestPageRankFavorsLinkedNodes(t *testing.T) {
	g := seedGraph(t)
	// both actors point at the skill; it should outrank them
	require.NoError(t, g.UpsertEdge(GraphEdge{Subject: "actor:ada", Predicate: PredSpecializesIn, Object: "skill:fencing"}))
	require.NoError(t, g.UpsertEdge(GraphEdge{Subject: "actor:ben", Predicate: PredSpecializesIn, Object: "skill:fencing"}))

	ranks := g.PageRank()
	require.Len(t, ranks, 4)
	assert.Greater(t, ranks["skill:fencing"], ranks["actor:ada"])
	assert.Greater(t, ranks["skill:fencing"], ranks["actor:ben"])

	sum := 0.0
	for _, r := range ranks {
		sum += r
	}
	assert.InDelta(t, 1.0, sum, 0.01)
}

func TestCommunitiesSplitDisconnectedComponents(t *testing.T) {
	g := NewGraph()
	for _, id := range []string{"a1", "a2", "a3", "b1", "b2", "b3"} {
		require.NoError(t, g.UpsertNode(GraphNode{ID: id, Type: NodeActor}))
	}
	// two triangles with no connection between them
	for _, pair := range [][2]string{{"a1", "a2"}, {"a2", "a3"}, {"a3", "a1"}, {"b1", "b2"}, {"b2", "b3"}, {"b3", "b1"}} {
		require.NoError(t, g.UpsertEdge(GraphEdge{Subject: pair[0], Predicate: PredWorkedWith, Object: pair[1]}))
	}

	labels := g.Communities()
	require.Len(t, labels, 6)
	assert.Equal(t, labels["a1"], labels["a2"])
	assert.Equal(t, labels["a2"], labels["a3"])
	assert.Equal(t, labels["b1"], labels["b2"])
	assert.Equal(t, labels["b2"], labels["b3"])
	assert.NotEqual(t, labels["a1"], labels["b1"])
}
