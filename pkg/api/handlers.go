package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/conversation"
	"github.com/castmesh/castmesh/pkg/health"
	"github.com/castmesh/castmesh/pkg/indexer"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/ranking"
	"github.com/castmesh/castmesh/pkg/search"
)

func (s *Server) handleChat(c *gin.Context) {
	var req conversation.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.KindValidation, "invalid request body"))
		return
	}

	resp, err := s.orch.Chat(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleChatStream(c *gin.Context) {
	var req conversation.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.KindValidation, "invalid request body"))
		return
	}

	events, err := s.orch.ChatStream(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Stream(func(w io.Writer) bool {
		ev, ok := <-events
		if !ok {
			return false
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", payload)
		return ev.Type == conversation.StreamChunk
	})
}

func (s *Server) handleGetConversation(c *gin.Context) {
	id := c.Param("id")
	turns, err := s.orch.History(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"conversation_id": id,
		"messages":        turns,
		"message_count":   len(turns),
	})
}

func (s *Server) handleDeleteConversation(c *gin.Context) {
	id := c.Param("id")
	s.orch.Delete(c.Request.Context(), id)
	c.JSON(http.StatusOK, gin.H{
		"status":  "deleted",
		"message": fmt.Sprintf("conversation %s removed", id),
	})
}

type searchUserContext struct {
	Preferences ranking.Preferences    `json:"preferences"`
	Project     ranking.ProjectContext `json:"project"`
}

type semanticSearchRequest struct {
	Query               string             `json:"query"`
	Filters             *search.Criteria   `json:"filters,omitempty"`
	TopK                int                `json:"top_k"`
	IncludeExplanations bool               `json:"include_explanations"`
	UserContext         *searchUserContext `json:"user_context,omitempty"`
}

func (s *Server) handleSemanticSearch(c *gin.Context) {
	var req semanticSearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.KindValidation, "invalid request body"))
		return
	}
	if req.TopK <= 0 {
		req.TopK = 10
	}

	sreq := search.Request{Query: req.Query, K: req.TopK}
	if req.Filters != nil {
		sreq.Criteria = *req.Filters
	}

	resp, err := s.searcher.Search(c.Request.Context(), sreq)
	if err != nil {
		writeError(c, err)
		return
	}

	results := resp.Results
	if !req.IncludeExplanations {
		for i := range results {
			results[i].Explanation = ""
		}
	}

	facets := buildFacets(results)
	out := gin.H{
		"query":                 req.Query,
		"total_results":         len(results),
		"facets":                facets,
		"results":               results,
		"search_time_ms":        float64(resp.Took.Microseconds()) / 1000,
		"suggested_refinements": suggestRefinements(sreq.Criteria, facets),
		"degraded":              resp.Degraded,
	}

	if req.UserContext != nil && s.ranker != nil {
		ranked := s.ranker.Rank(c.Request.Context(), results, req.UserContext.Preferences, req.UserContext.Project)
		if !req.IncludeExplanations {
			for i := range ranked {
				ranked[i].Explanation = ""
			}
		}
		out["results"] = ranked
		out["personalized"] = true
	}
	c.JSON(http.StatusOK, out)
}

// buildFacets aggregates filterable attributes across the result page
func buildFacets(results []search.RankedResult) map[string]map[string]int {
	facets := map[string]map[string]int{
		"location": {},
		"gender":   {},
		"skills":   {},
	}
	for _, r := range results {
		if r.Metadata == nil {
			continue
		}
		if v, ok := r.Metadata["location"].(string); ok && v != "" {
			facets["location"][v]++
		}
		if v, ok := r.Metadata["gender"].(string); ok && v != "" {
			facets["gender"][v]++
		}
		switch skills := r.Metadata["skills"].(type) {
		case []string:
			for _, sk := range skills {
				facets["skills"][sk]++
			}
		case []interface{}:
			for _, sk := range skills {
				if v, ok := sk.(string); ok {
					facets["skills"][v]++
				}
			}
		}
	}
	return facets
}

// suggestRefinements proposes narrowing filters the caller has not set yet
func suggestRefinements(crit search.Criteria, facets map[string]map[string]int) []string {
	out := []string{}
	if crit.Location == "" && len(facets["location"]) > 1 {
		out = append(out, "filter by location to narrow the shortlist")
	}
	if crit.Gender == "" && len(facets["gender"]) > 1 {
		out = append(out, "specify a gender requirement")
	}
	if len(crit.Skills) == 0 {
		if top := topFacetValue(facets["skills"]); top != "" {
			out = append(out, fmt.Sprintf("require a specific skill, e.g. %q", top))
		}
	}
	if crit.AgeMin == 0 && crit.AgeMax == 0 {
		out = append(out, "add an age range")
	}
	return out
}

func topFacetValue(counts map[string]int) string {
	best := ""
	bestN := 0
	for v, n := range counts {
		if n > bestN || (n == bestN && n > 0 && v < best) {
			best, bestN = v, n
		}
	}
	return best
}

type similarRequest struct {
	TopK        int   `json:"top_k"`
	ExcludeSelf *bool `json:"exclude_self"`
}

func (s *Server) handleSimilar(c *gin.Context) {
	id := c.Param("id")
	var req similarRequest
	_ = c.ShouldBindJSON(&req)
	if req.TopK <= 0 {
		req.TopK = 10
	}
	excludeSelf := req.ExcludeSelf == nil || *req.ExcludeSelf

	resp, err := s.searcher.Similar(c.Request.Context(), id, req.TopK, excludeSelf)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reference":       id,
		"similar_talents": resp.Results,
		"count":           len(resp.Results),
	})
}

func (s *Server) handleIndexTalent(c *gin.Context) {
	if s.indexMgr == nil {
		writeError(c, apperrors.New(apperrors.KindProviderUnavailable, "index manager not configured"))
		return
	}
	var profile models.TalentProfile
	if err := c.ShouldBindJSON(&profile); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.KindValidation, "invalid profile body"))
		return
	}

	err := s.indexMgr.QueueUpdate(indexer.Update{
		TalentID: profile.ID,
		Op:       indexer.OpUpsert,
		Profile:  &profile,
		Priority: true,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"talent_id":  profile.ID,
		"indexed_at": time.Now().UTC(),
	})
}

func (s *Server) handleDeleteIndexed(c *gin.Context) {
	if s.indexMgr == nil {
		writeError(c, apperrors.New(apperrors.KindProviderUnavailable, "index manager not configured"))
		return
	}
	id := c.Param("id")
	err := s.indexMgr.QueueUpdate(indexer.Update{TalentID: id, Op: indexer.OpDelete, Priority: true})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"talent_id":  id,
		"deleted_at": time.Now().UTC(),
	})
}

func (s *Server) handleReindex(c *gin.Context) {
	if s.indexMgr == nil {
		writeError(c, apperrors.New(apperrors.KindProviderUnavailable, "index manager not configured"))
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		if _, err := s.indexMgr.Reindex(ctx); err != nil {
			s.logger.Error("background reindex failed", map[string]interface{}{"error": err.Error()})
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "processing"})
}

func (s *Server) handleIndexStats(c *gin.Context) {
	if s.indexMgr == nil {
		writeError(c, apperrors.New(apperrors.KindProviderUnavailable, "index manager not configured"))
		return
	}
	stats := s.indexMgr.Stats(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"count":         stats["index_size"],
		"dim":           s.indexMgr.Dims(),
		"manager_stats": stats,
	})
}

type analyzeScriptRequest struct {
	ScriptText          string `json:"script_text"`
	ExtractCharacters   bool   `json:"extract_characters"`
	ExtractRequirements bool   `json:"extract_requirements"`
}

func (s *Server) handleAnalyzeScript(c *gin.Context) {
	var req analyzeScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, apperrors.Wrap(err, apperrors.KindValidation, "invalid request body"))
		return
	}

	report, err := conversation.AnalyzeScript(req.ScriptText, req.ExtractRequirements, true)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleUsageReport(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":       s.orch.Usage().Report(),
		"generated_at": time.Now().UTC(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	if s.checker == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}
	report := s.checker.Report(c.Request.Context())
	status := http.StatusOK
	if report.Status == health.StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, report)
}

func (s *Server) handleReady(c *gin.Context) {
	ready := s.checker == nil || s.checker.Ready(c.Request.Context())
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"ready": ready})
}

func (s *Server) handleLive(c *gin.Context) {
	alive := s.checker == nil || s.checker.Alive(c.Request.Context())
	status := http.StatusOK
	if !alive {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"alive": alive})
}

func (s *Server) handleMetrics(c *gin.Context) {
	if s.registry == nil {
		c.String(http.StatusOK, "")
		return
	}
	c.String(http.StatusOK, s.registry.Exposition())
}
