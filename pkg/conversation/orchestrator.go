package conversation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/completion"
	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/experiment"
	"github.com/castmesh/castmesh/pkg/memory"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/nlp"
	"github.com/castmesh/castmesh/pkg/observability"
	"github.com/castmesh/castmesh/pkg/ranking"
	"github.com/castmesh/castmesh/pkg/search"
)

const (
	contextTurns       = 7
	ltmTopK            = 3
	importanceFloor    = 0.3
	importanceCeiling  = 0.95
	episodicThreshold  = 0.7
	defaultSearchK     = 5
	rankingExperiment  = "ranking-v2"
	completionDeadline = 20 * time.Second
)

// Orchestrator runs the per-request chat pipeline
type Orchestrator struct {
	analyzer     *nlp.Analyzer
	stm          *memory.ShortTermMemory
	stmCapacity  int
	episodic     memory.EpisodicStore
	consolidator *memory.Consolidator
	embedder     *embedding.Service
	searcher     *search.Engine
	ranker       *ranking.Engine
	provider     completion.Provider
	fallback     completion.Provider
	scheduler    Scheduler
	experiments  *experiment.Harness
	usage        *completion.UsageTracker
	logger       observability.Logger
	metrics      observability.MetricsClient
}

// Config bundles the orchestrator dependencies. Searcher, ranker,
// scheduler, experiments, episodic store and embedder are optional;
// missing pieces disable their routes or signals.
type Config struct {
	Analyzer     *nlp.Analyzer
	STM          *memory.ShortTermMemory
	STMCapacity  int
	Episodic     memory.EpisodicStore
	Consolidator *memory.Consolidator
	Embedder     *embedding.Service
	Searcher     *search.Engine
	Ranker       *ranking.Engine
	Provider     completion.Provider
	Scheduler    Scheduler
	Experiments  *experiment.Harness
	Usage        *completion.UsageTracker
	Logger       observability.Logger
	Metrics      observability.MetricsClient
}

func NewOrchestrator(cfg Config) (*Orchestrator, error) {
	if cfg.Analyzer == nil || cfg.STM == nil || cfg.Provider == nil {
		return nil, apperrors.New(apperrors.KindValidation, "analyzer, short-term memory and completion provider are required")
	}
	if cfg.STMCapacity <= 0 {
		cfg.STMCapacity = contextTurns
	}
	if cfg.Usage == nil {
		cfg.Usage = completion.NewUsageTracker()
	}
	if cfg.Logger == nil {
		cfg.Logger = observability.NewNoopLogger()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = observability.NewNoopMetricsClient()
	}
	return &Orchestrator{
		analyzer:     cfg.Analyzer,
		stm:          cfg.STM,
		stmCapacity:  cfg.STMCapacity,
		episodic:     cfg.Episodic,
		consolidator: cfg.Consolidator,
		embedder:     cfg.Embedder,
		searcher:     cfg.Searcher,
		ranker:       cfg.Ranker,
		provider:     cfg.Provider,
		fallback:     completion.NewStaticProvider(),
		scheduler:    cfg.Scheduler,
		experiments:  cfg.Experiments,
		usage:        cfg.Usage,
		logger:       cfg.Logger,
		metrics:      cfg.Metrics,
	}, nil
}

// Usage exposes the token accounting for the usage report
func (o *Orchestrator) Usage() *completion.UsageTracker { return o.usage }

// History returns the stored turns of a conversation
func (o *Orchestrator) History(ctx context.Context, conversationID string) ([]models.Turn, error) {
	return o.stm.Get(ctx, conversationID, 0)
}

// Delete destroys a conversation
func (o *Orchestrator) Delete(ctx context.Context, conversationID string) {
	o.stm.Clear(ctx, conversationID)
}

// Chat runs the full pipeline for one message
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	start := time.Now()
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperrors.New(apperrors.KindValidation, "message is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	turns, err := o.stm.Get(ctx, req.ConversationID, contextTurns)
	if err != nil {
		return nil, err
	}
	history := historyEntities(turns)

	bundle, err := o.gather(ctx, req, history)
	if err != nil {
		return nil, err
	}

	resp := &ChatResponse{
		ConversationID: req.ConversationID,
		MessageID:      uuid.New().String(),
		MemoriesUsed:   bundle.memories,
		Metadata: map[string]interface{}{
			"intent":     string(bundle.analysis.Intent),
			"confidence": bundle.analysis.Confidence,
			"sentiment":  string(bundle.analysis.Sentiment),
			"domain":     string(bundle.analysis.Domain),
		},
	}
	if bundle.variant != "" {
		resp.Metadata["variant"] = bundle.variant
	}

	content, modelUsed, tokens, talentsFound := o.route(ctx, req, turns, bundle, resp.Metadata)
	resp.Response = content
	resp.ModelUsed = modelUsed
	resp.TokensUsed = tokens
	resp.ResponseTimeMS = float64(time.Since(start).Microseconds()) / 1000

	if ctx.Err() != nil {
		// client went away; skip the turn writeback but still record the
		// outcome, and keep the memory work when a response was produced
		if content != "" {
			go o.afterResponse(req, bundle.analysis)
		}
		o.finish(req, bundle, resp, talentsFound)
		return nil, apperrors.Wrap(ctx.Err(), apperrors.KindTimeout, "request cancelled")
	}

	o.writeback(ctx, req, bundle.analysis, content)
	o.finish(req, bundle, resp, talentsFound)
	return resp, nil
}

// ChatStream runs the pipeline with a streaming response. Ordering is
// strict: content chunks in order, then exactly one done frame.
func (o *Orchestrator) ChatStream(ctx context.Context, req ChatRequest) (<-chan StreamEvent, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, apperrors.New(apperrors.KindValidation, "message is required")
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.New().String()
	}

	turns, err := o.stm.Get(ctx, req.ConversationID, contextTurns)
	if err != nil {
		return nil, err
	}
	history := historyEntities(turns)
	bundle, err := o.gather(ctx, req, history)
	if err != nil {
		return nil, err
	}

	events := make(chan StreamEvent, 8)
	go func() {
		defer close(events)
		start := time.Now()

		metadata := map[string]interface{}{
			"conversation_id": req.ConversationID,
			"intent":          string(bundle.analysis.Intent),
			"confidence":      bundle.analysis.Confidence,
		}

		var full strings.Builder
		var tokens int
		modelUsed := "pipeline"

		if bundle.analysis.Intent == nlp.IntentGeneralInquiry || !o.routable(bundle.analysis.Intent) {
			chunks, err := o.streamCompletion(ctx, req, turns, bundle.analysis)
			if err != nil {
				events <- StreamEvent{Type: StreamError, Error: err.Error()}
				return
			}
			for chunk := range chunks {
				if chunk.Err != nil {
					events <- StreamEvent{Type: StreamError, Error: chunk.Err.Error()}
					return
				}
				if chunk.Done {
					tokens = chunk.Usage.TotalTokens
					break
				}
				full.WriteString(chunk.Content)
				events <- StreamEvent{Type: StreamChunk, Content: chunk.Content}
			}
		} else {
			// routed intents produce their answer in one piece
			content, model, t, found := o.route(ctx, req, turns, bundle, metadata)
			modelUsed, tokens = model, t
			metadata["talents_found"] = found
			full.WriteString(content)
			events <- StreamEvent{Type: StreamChunk, Content: content}
		}

		metadata["model_used"] = modelUsed
		metadata["tokens_used"] = tokens
		metadata["response_time_ms"] = float64(time.Since(start).Microseconds()) / 1000

		if ctx.Err() == nil {
			o.writeback(ctx, req, bundle.analysis, full.String())
		} else if full.Len() > 0 {
			go o.afterResponse(req, bundle.analysis)
		}
		events <- StreamEvent{Type: StreamDone, Metadata: metadata}
	}()
	return events, nil
}

// gather fans out context retrieval: intent analysis, LTM similarity
// and experiment assignment run concurrently and join here
func (o *Orchestrator) gather(ctx context.Context, req ChatRequest, history []nlp.Entity) (*contextBundle, error) {
	bundle := &contextBundle{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		analysis, err := o.analyzer.Analyze(gctx, req.Message, history)
		if err != nil {
			return err
		}
		bundle.analysis = analysis
		return nil
	})

	if req.InjectMemories && o.embedder != nil && o.episodic != nil {
		g.Go(func() error {
			vec, err := o.embedder.Embed(gctx, req.Message)
			if err != nil {
				return nil // degraded, not fatal
			}
			memories, err := o.episodic.Similar(gctx, vec, ltmTopK)
			if err != nil {
				return nil
			}
			for _, mem := range memories {
				if content, ok := mem.Payload["content"].(string); ok {
					bundle.memories = append(bundle.memories, content)
				}
			}
			return nil
		})
	}

	if o.experiments != nil && req.UserID != "" {
		g.Go(func() error {
			variant, err := o.experiments.Assign(req.UserID, rankingExperiment)
			if err == nil {
				bundle.variant = variant
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return bundle, nil
}

func (o *Orchestrator) routable(intent nlp.Intent) bool {
	switch intent {
	case nlp.IntentSearchTalent, nlp.IntentRecommendation:
		return o.searcher != nil
	case nlp.IntentAnalyzeScript:
		return true
	case nlp.IntentScheduleAudition, nlp.IntentCheckAvailability:
		return o.scheduler != nil
	default:
		return false
	}
}

// route dispatches by intent and returns (content, model, tokens,
// talents found)
func (o *Orchestrator) route(ctx context.Context, req ChatRequest, turns []models.Turn, bundle *contextBundle, metadata map[string]interface{}) (string, string, int, int) {
	analysis := bundle.analysis

	switch analysis.Intent {
	case nlp.IntentSearchTalent, nlp.IntentRecommendation:
		if o.searcher != nil {
			return o.routeSearch(ctx, req, analysis, bundle.variant, metadata)
		}
	case nlp.IntentAnalyzeScript:
		report, err := AnalyzeScript(req.Message, true, true)
		if err == nil && len(report.Characters) > 0 {
			metadata["characters"] = len(report.Characters)
			return report.Render(), "script-pipeline", 0, 0
		}
	case nlp.IntentScheduleAudition, nlp.IntentCheckAvailability:
		if o.scheduler != nil {
			return o.routeScheduling(ctx, analysis, metadata)
		}
	}
	return o.routeCompletion(ctx, req, turns, bundle, metadata)
}

func (o *Orchestrator) routeSearch(ctx context.Context, req ChatRequest, analysis *nlp.Analysis, variant string, metadata map[string]interface{}) (string, string, int, int) {
	criteria := criteriaFromEntities(analysis.Entities)
	result, err := o.searcher.Search(ctx, search.Request{
		Query:    req.Message,
		Criteria: criteria,
		K:        defaultSearchK,
	})
	if err != nil {
		metadata["degraded"] = true
		o.logger.Warn("search route failed", map[string]interface{}{"error": err.Error()})
		content, model, tokens, _ := o.routeCompletion(ctx, req, nil, &contextBundle{analysis: analysis}, metadata)
		return content, model, tokens, 0
	}
	if len(result.Degraded) > 0 {
		metadata["degraded_signals"] = result.Degraded
	}

	results := result.Results
	if o.ranker != nil && variant != "control" && variant != "" {
		ranked := o.ranker.Rank(ctx, results, ranking.Preferences{}, ranking.ProjectContext{})
		metadata["reranked"] = true
		return renderRanked(ranked), "search-pipeline", 0, len(ranked)
	}
	return renderResults(results), "search-pipeline", 0, len(results)
}

func (o *Orchestrator) routeScheduling(ctx context.Context, analysis *nlp.Analysis, metadata map[string]interface{}) (string, string, int, int) {
	name := analysis.EntityValue(nlp.EntityName)
	window := analysis.EntityValue(nlp.EntityDate)
	if name == "" {
		return "Who should I schedule, and for when?", "scheduler", 0, 0
	}

	if analysis.Intent == nlp.IntentCheckAvailability {
		status, err := o.scheduler.CheckAvailability(ctx, name, search.DateRange{})
		if err != nil {
			metadata["degraded"] = true
			return fmt.Sprintf("I could not reach the scheduling system to check %s's availability. Please try again shortly.", name), "scheduler", 0, 0
		}
		return fmt.Sprintf("%s is currently %s for %s.", name, status, orDefault(window, "the requested window")), "scheduler", 0, 0
	}

	confirmation, err := o.scheduler.Schedule(ctx, name, window)
	if err != nil {
		metadata["degraded"] = true
		return fmt.Sprintf("I could not book the audition with %s. Please try again shortly.", name), "scheduler", 0, 0
	}
	return confirmation, "scheduler", 0, 0
}

func (o *Orchestrator) routeCompletion(ctx context.Context, req ChatRequest, turns []models.Turn, bundle *contextBundle, metadata map[string]interface{}) (string, string, int, int) {
	analysis := bundle.analysis
	creq := completion.Request{
		SystemPrompt: o.systemPrompt(analysis, bundle.memories),
		Turns:        turns,
		Message:      req.Message,
		Model:        req.ModelPreference,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}

	cctx, cancel := context.WithTimeout(ctx, completionDeadline)
	defer cancel()
	resp, err := o.provider.Complete(cctx, creq)
	if err != nil {
		o.logger.Warn("completion provider failed, using fallback", map[string]interface{}{
			"error": err.Error(),
			"kind":  string(apperrors.KindOf(err)),
		})
		o.metrics.IncrementCounter("completion_fallbacks_total", 1)
		metadata["degraded"] = true
		resp, err = o.fallback.Complete(ctx, creq)
		if err != nil {
			return "I could not produce a response right now. Please try again.", "none", 0, 0
		}
	}

	o.usage.Add(resp.Model, resp.Usage)
	return resp.Content, resp.Model, resp.Usage.TotalTokens, 0
}

func (o *Orchestrator) streamCompletion(ctx context.Context, req ChatRequest, turns []models.Turn, analysis *nlp.Analysis) (<-chan completion.Chunk, error) {
	creq := completion.Request{
		SystemPrompt: o.systemPrompt(analysis, nil),
		Turns:        turns,
		Message:      req.Message,
		Model:        req.ModelPreference,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
	}
	chunks, err := o.provider.Stream(ctx, creq)
	if err != nil {
		o.metrics.IncrementCounter("completion_fallbacks_total", 1)
		return o.fallback.Stream(ctx, creq)
	}
	return chunks, nil
}

func (o *Orchestrator) systemPrompt(analysis *nlp.Analysis, memories []string) string {
	prompt := completion.SystemPrompt(analysis.Intent, analysis.Domain)
	if len(memories) > 0 {
		prompt += "\n\nRelevant context from earlier conversations:\n- " + strings.Join(memories, "\n- ")
	}
	return prompt
}

// writeback appends the user and assistant turns with importance
// derived from intent confidence
func (o *Orchestrator) writeback(ctx context.Context, req ChatRequest, analysis *nlp.Analysis, response string) {
	importance := clamp(analysis.Confidence, importanceFloor, importanceCeiling)
	now := time.Now()

	userTurn := models.Turn{
		Role:       models.RoleUser,
		Content:    req.Message,
		Timestamp:  now,
		Importance: importance,
		Metadata:   map[string]interface{}{"entities": analysis.Entities, "intent": string(analysis.Intent)},
	}
	if err := o.stm.Append(ctx, req.ConversationID, userTurn); err != nil {
		o.logger.Warn("user turn writeback failed", map[string]interface{}{"error": err.Error()})
	}
	assistantTurn := models.Turn{
		Role:       models.RoleAssistant,
		Content:    response,
		Timestamp:  now,
		Importance: importance,
	}
	if err := o.stm.Append(ctx, req.ConversationID, assistantTurn); err != nil {
		o.logger.Warn("assistant turn writeback failed", map[string]interface{}{"error": err.Error()})
	}

	// fire-and-forget memory work; request latency never waits on it
	go o.afterResponse(req, analysis)
}

func (o *Orchestrator) afterResponse(req ChatRequest, analysis *nlp.Analysis) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if analysis.Confidence >= episodicThreshold && o.episodic != nil {
		mem := &memory.EpisodicMemory{
			Owner:      req.ConversationID,
			EventType:  "conversation_turn",
			Importance: analysis.Confidence,
			Valence:    valenceFromSentiment(analysis.Sentiment),
			Payload: map[string]interface{}{
				"content": req.Message,
				"intent":  string(analysis.Intent),
			},
		}
		if o.embedder != nil {
			if vec, err := o.embedder.Embed(ctx, req.Message); err == nil {
				mem.Embedding = vec
			}
		}
		if err := o.episodic.Store(ctx, mem); err != nil {
			o.logger.Warn("episodic writeback failed", map[string]interface{}{"error": err.Error()})
		}
	}

	if o.consolidator != nil && o.stm.Len(req.ConversationID) >= o.stmCapacity {
		if _, err := o.consolidator.ConsolidateSession(ctx, req.ConversationID); err != nil {
			o.logger.Warn("immediate consolidation failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

func (o *Orchestrator) finish(req ChatRequest, bundle *contextBundle, resp *ChatResponse, talentsFound int) {
	o.metrics.RecordHistogram("chat_response_ms", resp.ResponseTimeMS, map[string]string{
		"intent": string(bundle.analysis.Intent),
	})
	if o.experiments == nil || bundle.variant == "" {
		return
	}
	if err := o.experiments.Record(experiment.Result{
		UserID:         req.UserID,
		SessionID:      req.ConversationID,
		Experiment:     rankingExperiment,
		Variant:        bundle.variant,
		ResponseTimeMS: resp.ResponseTimeMS,
		AccuracyScore:  bundle.analysis.Confidence,
		TalentsFound:   talentsFound,
	}); err != nil {
		o.logger.Warn("experiment record failed", map[string]interface{}{"error": err.Error()})
	}
}

func historyEntities(turns []models.Turn) []nlp.Entity {
	var out []nlp.Entity
	for _, turn := range turns {
		if turn.Metadata == nil {
			continue
		}
		if ents, ok := turn.Metadata["entities"].([]nlp.Entity); ok {
			out = append(out, ents...)
		}
	}
	return out
}

func renderResults(results []search.RankedResult) string {
	if len(results) == 0 {
		return "I could not find any matching talent. Try loosening the criteria."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("I found %d matching performers:\n", len(results)))
	for _, r := range results {
		name, _ := r.Metadata["name"].(string)
		b.WriteString(fmt.Sprintf("%d. %s (match %.0f%%)", r.Rank, orDefault(name, r.ID), r.CompositeScore*100))
		if r.Explanation != "" {
			b.WriteString(" - " + r.Explanation)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderRanked(ranked []ranking.Ranked) string {
	if len(ranked) == 0 {
		return "I could not find any matching talent. Try loosening the criteria."
	}
	var b strings.Builder
	b.WriteString(fmt.Sprintf("I found %d matching performers:\n", len(ranked)))
	for i, r := range ranked {
		name, _ := r.Metadata["name"].(string)
		b.WriteString(fmt.Sprintf("%d. %s (score %.0f%%)", i+1, orDefault(name, r.ID), r.FinalScore*100))
		if r.Explanation != "" {
			b.WriteString(" - " + r.Explanation)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func valenceFromSentiment(s nlp.Sentiment) float64 {
	switch s {
	case nlp.SentimentPositive:
		return 0.8
	case nlp.SentimentNegative:
		return 0.2
	default:
		return 0.5
	}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
