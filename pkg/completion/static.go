package completion

import (
	"context"
	"fmt"
	"strings"
)

// StaticProvider produces deterministic template responses. It backs
// tests and serves as the last-resort fallback when the remote provider
// is unavailable, so chat always returns a body.
type StaticProvider struct {
	ModelName string
}

func NewStaticProvider() *StaticProvider {
	return &StaticProvider{ModelName: "static-fallback"}
}

func (p *StaticProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	content := p.render(req)
	return &Response{
		Content: content,
		Model:   p.ModelName,
		Usage: Usage{
			PromptTokens:     estimateTokens(req.SystemPrompt) + estimateTokens(req.Message),
			CompletionTokens: estimateTokens(content),
			TotalTokens:      estimateTokens(req.SystemPrompt) + estimateTokens(req.Message) + estimateTokens(content),
		},
	}, nil
}

func (p *StaticProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	resp, err := p.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		for _, word := range strings.Fields(resp.Content) {
			select {
			case out <- Chunk{Content: word + " "}:
			case <-ctx.Done():
				out <- Chunk{Err: ctx.Err()}
				return
			}
		}
		out <- Chunk{Done: true, Usage: resp.Usage}
	}()
	return out, nil
}

func (p *StaticProvider) render(req Request) string {
	if req.SystemPrompt != "" {
		return fmt.Sprintf("I can help with that. You asked: %q. Let me know if you want me to refine the request.", req.Message)
	}
	return fmt.Sprintf("You asked: %q.", req.Message)
}

// estimateTokens approximates tokens as words; close enough for the
// usage report when the static provider is serving
func estimateTokens(text string) int {
	return len(strings.Fields(text))
}
