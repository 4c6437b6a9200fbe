// Package completion abstracts the chat completion provider used by the
// conversation orchestrator, with an HTTP implementation and a
// deterministic local fallback.
package completion

import (
	"context"
	"sync"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/models"
)

// Request is one completion call
type Request struct {
	SystemPrompt string
	Turns        []models.Turn
	Message      string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// Usage is the token accounting for one call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a full completion
type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Chunk is one streaming fragment. Done is set on the terminal chunk,
// which carries the final usage.
type Chunk struct {
	Content string
	Done    bool
	Usage   Usage
	Err     error
}

// Provider generates assistant responses
type Provider interface {
	Complete(ctx context.Context, req Request) (*Response, error)
	// Stream emits content chunks in order, ending with a Done chunk.
	// The channel is closed after the terminal chunk.
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

func validateRequest(req Request) error {
	if req.Message == "" {
		return apperrors.New(apperrors.KindValidation, "message is required")
	}
	return nil
}

// UsageTracker accumulates token usage per model for the usage report
type UsageTracker struct {
	mu     sync.Mutex
	byModel map[string]*ModelUsage
}

// ModelUsage is the accumulated spend for one model
type ModelUsage struct {
	Requests         int     `json:"requests"`
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// costPerThousandTokens is a flat blended estimate; billing-grade
// numbers come from the provider's invoice
const costPerThousandTokens = 0.002

func NewUsageTracker() *UsageTracker {
	return &UsageTracker{byModel: make(map[string]*ModelUsage)}
}

// Add records usage from one completed call
func (t *UsageTracker) Add(model string, usage Usage) {
	if model == "" {
		model = "unknown"
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	u := t.byModel[model]
	if u == nil {
		u = &ModelUsage{}
		t.byModel[model] = u
	}
	u.Requests++
	u.PromptTokens += usage.PromptTokens
	u.CompletionTokens += usage.CompletionTokens
	u.TotalTokens += usage.TotalTokens
	u.EstimatedCostUSD += float64(usage.TotalTokens) / 1000 * costPerThousandTokens
}

// Report returns a copy of the per-model accumulators
func (t *UsageTracker) Report() map[string]ModelUsage {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]ModelUsage, len(t.byModel))
	for model, u := range t.byModel {
		out[model] = *u
	}
	return out
}
