package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castmesh/castmesh/pkg/completion"
	"github.com/castmesh/castmesh/pkg/config"
	"github.com/castmesh/castmesh/pkg/conversation"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/health"
	"github.com/castmesh/castmesh/pkg/indexer"
	"github.com/castmesh/castmesh/pkg/memory"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/nlp"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/profiles"
	"github.com/castmesh/castmesh/pkg/ranking"
	"github.com/castmesh/castmesh/pkg/search"
	"github.com/castmesh/castmesh/pkg/vector"
)

type testServer struct {
	server  *Server
	store   *profiles.MemoryStore
	indexer *indexer.Manager
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := observability.NewNoopLogger()
	metrics := observability.NewNoopMetricsClient()

	embedder := embedding.NewService(embedding.NewLocalProvider(64), nil, 32, logger, metrics)
	index := vector.NewFlatIndex(64)
	store := profiles.NewMemoryStore()
	searcher := search.NewEngine(embedder, index, store, nil, search.DefaultWeights, logger, metrics)
	stm := memory.NewShortTermMemory(7, time.Hour, nil, logger, metrics)

	ctx := context.Background()
	seed := &models.TalentProfile{
		ID: "t1", Name: "Edda Stone", Gender: "female", Location: "london", Age: 32,
		Skills: []string{"stage combat", "fencing"}, Bio: "Edda Stone is a stage combat specialist",
		Status: models.TalentActive,
	}
	require.NoError(t, store.Create(ctx, seed))
	vec, err := embedder.Embed(ctx, seed.SearchableText())
	require.NoError(t, err)
	require.NoError(t, index.Upsert(ctx, vector.Entry{ID: seed.ID, Vector: vec, Metadata: seed.IndexMetadata()}))

	orch, err := conversation.NewOrchestrator(conversation.Config{
		Analyzer: nlp.NewAnalyzer(nil, logger, metrics),
		STM:      stm,
		Searcher: searcher,
		Provider: completion.NewStaticProvider(),
		Logger:   logger,
		Metrics:  metrics,
	})
	require.NoError(t, err)

	mgr := indexer.NewManager(indexer.Config{}, embedder, index, store, logger, metrics)

	checker := health.NewChecker(logger, metrics)
	checker.Register("index", health.IndexCheck(index))

	registry := observability.NewMetricsClient()
	registry.IncrementCounter("test_counter_total", 1)

	ranker := ranking.NewEngine(store, nil, logger, metrics)
	srv := NewServer(config.APIConfig{ListenAddress: ":0"}, orch, searcher, ranker, mgr, checker, registry, logger)
	return &testServer{server: srv, store: store, indexer: mgr}
}

// closeNotifyRecorder adds the http.CloseNotifier method gin's
// Context.Stream requires, which httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (r *closeNotifyRecorder) CloseNotify() <-chan bool { return r.closed }

func (ts *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(&closeNotifyRecorder{rec, make(chan bool)}, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestChatEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/conversation/chat", map[string]interface{}{
		"message": "hello there",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.NotEmpty(t, body["conversation_id"])
	assert.NotEmpty(t, body["response"])
}

func TestChatEndpointValidation(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/conversation/chat", map[string]interface{}{
		"message": "",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "validation_error", body["error"])
	assert.NotEmpty(t, body["request_id"])
}

func TestChatStreamEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/conversation/chat/stream", map[string]interface{}{
		"message":         "hello there",
		"conversation_id": "stream-1",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/event-stream")

	var frames []conversation.StreamEvent
	scanner := bufio.NewScanner(rec.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev conversation.StreamEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		frames = append(frames, ev)
	}
	require.NotEmpty(t, frames)
	assert.Equal(t, conversation.StreamDone, frames[len(frames)-1].Type)
}

func TestConversationHistoryRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/conversation/chat", map[string]interface{}{
		"message":         "hello there",
		"conversation_id": "conv-api",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/conversation/conv-api", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["message_count"])

	rec = ts.do(t, http.MethodDelete, "/api/v1/conversation/conv-api", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/conversation/conv-api", nil)
	body = decode(t, rec)
	assert.Equal(t, float64(0), body["message_count"])
}

func TestSemanticSearchEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/search/talent/semantic", map[string]interface{}{
		"query":                "stage combat specialist",
		"top_k":                5,
		"include_explanations": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "stage combat specialist", body["query"])
	assert.GreaterOrEqual(t, body["total_results"], float64(1))
}

func TestSemanticSearchFacetsAndRefinements(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/search/talent/semantic", map[string]interface{}{
		"query": "stage combat specialist",
		"top_k": 5,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)

	facets, ok := body["facets"].(map[string]interface{})
	require.True(t, ok)
	locations, ok := facets["location"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(1), locations["london"])

	refinements, ok := body["suggested_refinements"].([]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, refinements)
}

func TestSemanticSearchPersonalizedWithUserContext(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/search/talent/semantic", map[string]interface{}{
		"query": "stage combat specialist",
		"top_k": 5,
		"user_context": map[string]interface{}{
			"preferences": map[string]interface{}{"preferred_locations": []string{"london"}},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, true, body["personalized"])

	results, ok := body["results"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, results)
	first, ok := results[0].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, first, "final_score")
}

func TestSimilarEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/search/talent/similar/t1", map[string]interface{}{
		"top_k": 3,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "t1", body["reference"])
}

func TestSimilarIncludesSelfWhenAsked(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/search/talent/similar/t1", map[string]interface{}{
		"top_k":        3,
		"exclude_self": false,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	sims, ok := body["similar_talents"].([]interface{})
	require.True(t, ok)
	require.NotEmpty(t, sims)
	first, ok := sims[0].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "t1", first["id"])
}

func TestSimilarUnknownTalent(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodPost, "/api/v1/search/talent/similar/ghost", map[string]interface{}{})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIndexLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/search/index/talent", map[string]interface{}{
		"id": "t2", "name": "Mira Voss", "gender": "female", "location": "london",
		"age": 28, "skills": []string{"ballet"}, "bio": "dancer", "status": "active",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, 1, ts.indexer.QueueDepth())

	rec = ts.do(t, http.MethodDelete, "/api/v1/search/index/talent/t2", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/search/index/reindex", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "processing", decode(t, rec)["status"])

	rec = ts.do(t, http.MethodGet, "/api/v1/search/index/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(64), body["dim"])
	assert.NotNil(t, body["manager_stats"])
}

func TestAnalyzeScriptEndpoint(t *testing.T) {
	ts := newTestServer(t)
	script := "VERA\nWe should not be here.\n\nMARCO\nRelax.\n"
	rec := ts.do(t, http.MethodPost, "/api/v1/ai/analyze/script", map[string]interface{}{
		"script_text":          script,
		"extract_characters":   true,
		"extract_requirements": true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Len(t, body["characters"], 2)
}

func TestUsageReportEndpoint(t *testing.T) {
	ts := newTestServer(t)
	// drive one completion so the report is non-empty
	rec := ts.do(t, http.MethodPost, "/api/v1/conversation/chat", map[string]interface{}{
		"message": "the quick brown fox jumps over",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/ai/usage/report", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	models, ok := body["models"].(map[string]interface{})
	require.True(t, ok)
	assert.NotEmpty(t, models)
}

func TestHealthEndpoints(t *testing.T) {
	ts := newTestServer(t)
	for _, path := range []string{"/health", "/ready", "/live"} {
		rec := ts.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "test_counter_total")
}

func TestRateLimiting(t *testing.T) {
	ts := newTestServer(t)
	// rebuild with a tight limit
	srv := NewServer(config.APIConfig{RateLimitRPS: 1, RateLimitBurst: 1}, ts.server.orch, ts.server.searcher, nil, nil, nil, nil, observability.NewNoopLogger())

	limited := false
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		srv.Router().ServeHTTP(rec, req)
		if rec.Code == http.StatusTooManyRequests {
			limited = true
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, "rate_limited", body["error"])
		}
	}
	assert.True(t, limited)
}

func TestRequestIDPropagation(t *testing.T) {
	ts := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "given-id")
	rec := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, "given-id", rec.Header().Get("X-Request-ID"))

	rec2 := httptest.NewRecorder()
	ts.server.Router().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.NotEmpty(t, rec2.Header().Get("X-Request-ID"))
}
