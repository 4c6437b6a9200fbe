package memory

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/castmesh/castmesh/pkg/embedding"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/nlp"
	"github.com/castmesh/castmesh/pkg/observability"
)

const (
	defaultConsolidationPeriod = 30 * time.Minute
	defaultConsolidationCutoff = 0.6
	sessionConcurrency         = 5

	semanticExtractionFloor = 0.7
	miningMinSupport        = 3
	miningSuccessFloor      = 0.7
	compressionClusterMin   = 3
)

// ConsolidatorConfig tunes the consolidation engine
type ConsolidatorConfig struct {
	Period             time.Duration
	Cutoff             float64
	PruneRetention     float64
	PruneImportanceMax float64
	CompressionCosine  float64
}

func (c *ConsolidatorConfig) withDefaults() {
	if c.Period <= 0 {
		c.Period = defaultConsolidationPeriod
	}
	if c.Cutoff <= 0 {
		c.Cutoff = defaultConsolidationCutoff
	}
	if c.PruneRetention <= 0 {
		c.PruneRetention = 0.1
	}
	if c.PruneImportanceMax <= 0 {
		c.PruneImportanceMax = 0.5
	}
	if c.CompressionCosine <= 0 {
		c.CompressionCosine = 0.85
	}
}

// AutomationSuggestion proposes automating a mined workflow pattern
type AutomationSuggestion struct {
	Sequence    []string      `json:"sequence"`
	Support     int           `json:"support"`
	SuccessRate float64       `json:"success_rate"`
	AvgDuration time.Duration `json:"avg_duration"`
}

// Consolidator periodically promotes short-term turns into the
// long-term stores, extracts semantic relationships, mines procedural
// patterns, prunes faded memories and compresses near-duplicates.
// A tick that finds the previous one still running is skipped.
type Consolidator struct {
	stm        *ShortTermMemory
	episodic   EpisodicStore
	graph      *Graph
	procedural *ProceduralStore
	embedder   *embedding.Service
	cfg        ConsolidatorConfig
	logger     observability.Logger
	metrics    observability.MetricsClient

	busy        atomic.Bool
	skipped     atomic.Int64
	suggestions atomic.Pointer[[]AutomationSuggestion]
}

// NewConsolidator wires the engine; embedder may be nil, in which case
// promoted memories carry no context embedding and compression is a no-op
func NewConsolidator(stm *ShortTermMemory, episodic EpisodicStore, graph *Graph, procedural *ProceduralStore, embedder *embedding.Service, cfg ConsolidatorConfig, logger observability.Logger, metrics observability.MetricsClient) *Consolidator {
	cfg.withDefaults()
	return &Consolidator{
		stm:        stm,
		episodic:   episodic,
		graph:      graph,
		procedural: procedural,
		embedder:   embedder,
		cfg:        cfg,
		logger:     logger,
		metrics:    metrics,
	}
}

// Run ticks until the context is cancelled
func (c *Consolidator) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Tick(ctx)
		}
	}
}

// SkippedTicks reports how many ticks were dropped because the previous
// one was still running
func (c *Consolidator) SkippedTicks() int64 { return c.skipped.Load() }

// Suggestions returns the automation suggestions from the last tick
func (c *Consolidator) Suggestions() []AutomationSuggestion {
	p := c.suggestions.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Tick runs one full consolidation pass. Safe to call directly; returns
// false if a pass was already in flight.
func (c *Consolidator) Tick(ctx context.Context) bool {
	if !c.busy.CompareAndSwap(false, true) {
		c.skipped.Add(1)
		c.metrics.IncrementCounter("consolidation_ticks_skipped_total", 1)
		return false
	}
	defer c.busy.Store(false)

	start := time.Now()
	promoted := c.promoteSessions(ctx)
	c.extractSemantic(ctx)
	c.mineProcedural()
	c.prune(ctx)
	c.compress(ctx)

	c.metrics.RecordHistogram("consolidation_tick_seconds", time.Since(start).Seconds(), nil)
	c.logger.Info("consolidation tick complete", map[string]interface{}{
		"promoted": promoted,
		"took":     time.Since(start).String(),
	})
	return true
}

// ConsolidateSession promotes one session immediately, outside the tick
// cycle. Used when a session hits capacity.
func (c *Consolidator) ConsolidateSession(ctx context.Context, sessionID string) (int, error) {
	turns, err := c.stm.Consolidate(ctx, sessionID, c.cfg.Cutoff)
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, turn := range turns {
		if err := c.promoteTurn(ctx, sessionID, turn); err != nil {
			c.logger.Warn("turn promotion failed", map[string]interface{}{
				"session_id": sessionID,
				"error":      err.Error(),
			})
			continue
		}
		promoted++
	}
	c.metrics.IncrementCounter("consolidation_promoted_total", float64(promoted))
	return promoted, nil
}

func (c *Consolidator) promoteSessions(ctx context.Context) int {
	var total atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sessionConcurrency)
	for _, sid := range c.stm.Sessions() {
		sid := sid
		g.Go(func() error {
			n, err := c.ConsolidateSession(gctx, sid)
			if err != nil {
				c.logger.Warn("session consolidation failed", map[string]interface{}{
					"session_id": sid,
					"error":      err.Error(),
				})
				return nil
			}
			total.Add(int64(n))
			return nil
		})
	}
	_ = g.Wait()
	return int(total.Load())
}

func (c *Consolidator) promoteTurn(ctx context.Context, sessionID string, turn models.Turn) error {
	mem := &EpisodicMemory{
		Owner:      sessionID,
		EventType:  "conversation_turn",
		Importance: turn.Importance,
		Valence:    valenceOf(turn.Content),
		Payload: map[string]interface{}{
			"role":    string(turn.Role),
			"content": turn.Content,
		},
		CreatedAt: turn.Timestamp,
	}
	if c.embedder != nil {
		if vec, err := c.embedder.Embed(ctx, turn.Content); err == nil {
			mem.Embedding = vec
		}
	}
	return c.episodic.Store(ctx, mem)
}

// extractSemantic walks recent high-importance memories and grows the
// semantic graph from their extracted entities
func (c *Consolidator) extractSemantic(ctx context.Context) {
	recent, err := c.episodic.Recent(ctx, semanticExtractionFloor, 100)
	if err != nil {
		c.logger.Warn("semantic extraction scan failed", map[string]interface{}{"error": err.Error()})
		return
	}

	for _, mem := range recent {
		content, _ := mem.Payload["content"].(string)
		if content == "" {
			continue
		}
		userNode := "user:" + mem.Owner
		if err := c.graph.UpsertNode(GraphNode{ID: userNode, Type: NodeUser}); err != nil {
			continue
		}
		for _, ent := range nlp.ExtractEntities(content, nil) {
			var nodeType, predicate string
			switch ent.Type {
			case nlp.EntitySkill:
				nodeType, predicate = NodeSkill, PredPrefers
			case nlp.EntityLocation:
				nodeType, predicate = NodeLocation, PredPrefers
			case nlp.EntityProjectType:
				nodeType, predicate = NodeGenre, PredPrefers
			case nlp.EntityName:
				nodeType, predicate = NodeActor, PredWorkedWith
			default:
				continue
			}
			objNode := fmt.Sprintf("%s:%s", nodeType, ent.Value)
			if err := c.graph.UpsertNode(GraphNode{ID: objNode, Type: nodeType}); err != nil {
				continue
			}
			_ = c.graph.UpsertEdge(GraphEdge{
				Subject:    userNode,
				Predicate:  predicate,
				Object:     objNode,
				Confidence: ent.Confidence * mem.Importance,
			})
		}
	}
}

func (c *Consolidator) mineProcedural() {
	patterns := c.procedural.MinePatterns(miningMinSupport)
	var suggestions []AutomationSuggestion
	for _, p := range patterns {
		if p.SuccessRate >= miningSuccessFloor && len(p.Sequence) > 1 {
			suggestions = append(suggestions, AutomationSuggestion(p))
		}
	}
	c.suggestions.Store(&suggestions)
	c.metrics.RecordGauge("consolidation_automation_suggestions", float64(len(suggestions)), nil)
}

func (c *Consolidator) prune(ctx context.Context) {
	n, err := c.episodic.Prune(ctx, c.cfg.PruneRetention, c.cfg.PruneImportanceMax)
	if err != nil {
		c.logger.Warn("prune failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if n > 0 {
		c.metrics.IncrementCounter("consolidation_pruned_total", float64(n))
	}
}

// compress clusters episodic memories by embedding similarity and
// replaces each large cluster with its highest-importance member,
// annotated with the ids it absorbed
func (c *Consolidator) compress(ctx context.Context) {
	all, err := c.episodic.Recent(ctx, 0, 1000)
	if err != nil {
		c.logger.Warn("compression scan failed", map[string]interface{}{"error": err.Error()})
		return
	}

	assigned := make(map[string]bool, len(all))
	for i := 0; i < len(all); i++ {
		if assigned[all[i].ID] || len(all[i].Embedding) == 0 {
			continue
		}
		cluster := []*EpisodicMemory{all[i]}
		for j := i + 1; j < len(all); j++ {
			if assigned[all[j].ID] || len(all[j].Embedding) != len(all[i].Embedding) {
				continue
			}
			if embedding.CosineSimilarity(all[i].Embedding, all[j].Embedding) >= c.cfg.CompressionCosine {
				cluster = append(cluster, all[j])
			}
		}
		if len(cluster) <= compressionClusterMin {
			continue
		}

		rep := cluster[0]
		for _, m := range cluster[1:] {
			if m.Importance > rep.Importance {
				rep = m
			}
		}
		var merged []string
		for _, m := range cluster {
			assigned[m.ID] = true
			if m.ID != rep.ID {
				merged = append(merged, m.ID)
			}
		}
		if rep.Payload == nil {
			rep.Payload = map[string]interface{}{}
		}
		rep.Payload["merged_ids"] = merged
		if err := c.episodic.Update(ctx, rep); err != nil {
			continue
		}
		if err := c.episodic.Delete(ctx, merged); err != nil {
			c.logger.Warn("compression delete failed", map[string]interface{}{"error": err.Error()})
			continue
		}
		c.metrics.IncrementCounter("consolidation_compressed_total", float64(len(merged)))
	}
}

// valenceOf maps utterance sentiment onto the [0,1] emotional scale
func valenceOf(content string) float64 {
	switch nlp.ClassifySentiment(content) {
	case nlp.SentimentPositive:
		return 0.8
	case nlp.SentimentNegative:
		return 0.2
	default:
		return 0.5
	}
}
