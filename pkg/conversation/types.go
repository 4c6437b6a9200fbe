// Package conversation orchestrates the chat pipeline: intent analysis,
// memory-backed context assembly, routing to search, script analysis or
// the completion provider, and memory writeback.
package conversation

import (
	"context"

	"github.com/castmesh/castmesh/pkg/nlp"
	"github.com/castmesh/castmesh/pkg/search"
)

// ChatRequest is one user message entering the pipeline
type ChatRequest struct {
	Message         string  `json:"message"`
	ConversationID  string  `json:"conversation_id,omitempty"`
	UserID          string  `json:"user_id,omitempty"`
	ModelPreference string  `json:"model_preference,omitempty"`
	Temperature     float64 `json:"temperature,omitempty"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
	InjectMemories  bool    `json:"inject_memories,omitempty"`
}

// ChatResponse is the assembled assistant reply
type ChatResponse struct {
	Response       string                 `json:"response"`
	ConversationID string                 `json:"conversation_id"`
	MessageID      string                 `json:"message_id"`
	ModelUsed      string                 `json:"model_used"`
	TokensUsed     int                    `json:"tokens_used"`
	ResponseTimeMS float64                `json:"response_time_ms"`
	MemoriesUsed   []string               `json:"memories_used,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// StreamEventType tags streaming frames
type StreamEventType string

const (
	StreamChunk StreamEventType = "chunk"
	StreamDone  StreamEventType = "done"
	StreamError StreamEventType = "error"
)

// StreamEvent is one frame of a streaming chat response. Ordering
// within a stream is strict; Done is always the final frame and carries
// the response metadata.
type StreamEvent struct {
	Type     StreamEventType        `json:"type"`
	Content  string                 `json:"content,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Error    string                 `json:"error,omitempty"`
}

// Scheduler is the external audition scheduling interface. The engine
// only delegates; booking systems live outside this service.
type Scheduler interface {
	Schedule(ctx context.Context, talentName, window string) (confirmation string, err error)
	CheckAvailability(ctx context.Context, talentName string, window search.DateRange) (search.AvailabilityStatus, error)
}

// contextBundle is the joined fan-out result feeding response assembly
type contextBundle struct {
	analysis *nlp.Analysis
	memories []string
	variant  string
}
