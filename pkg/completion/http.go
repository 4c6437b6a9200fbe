package completion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/models"
	"github.com/castmesh/castmesh/pkg/observability"
)

// HTTPProviderConfig configures the remote completion provider
type HTTPProviderConfig struct {
	Endpoint    string
	APIKey      string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	MaxRetries  int
}

// HTTPProvider calls an OpenAI-compatible chat completions endpoint.
// Same failure posture as the embedding provider: a circuit breaker
// fails fast when the backend is down so chat degrades to the static
// fallback instead of hanging requests.
type HTTPProvider struct {
	cfg     HTTPProviderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

func NewHTTPProvider(cfg HTTPProviderConfig, logger observability.Logger) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, apperrors.New(apperrors.KindValidation, "completion endpoint is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "completion-provider",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("completion breaker state change", map[string]interface{}{
				"from": from.String(),
				"to":   to.String(),
			})
		},
	})

	return &HTTPProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		breaker: breaker,
		logger:  logger,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type chatStreamEvent struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

func (p *HTTPProvider) buildRequest(req Request, stream bool) chatRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = p.cfg.Temperature
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = p.cfg.MaxTokens
	}

	messages := make([]chatMessage, 0, len(req.Turns)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, turn := range req.Turns {
		role := string(turn.Role)
		if turn.Role == models.RoleSystem {
			role = "system"
		}
		messages = append(messages, chatMessage{Role: role, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Message})

	return chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: temperature,
		MaxTokens:   maxTokens,
		Stream:      stream,
	}
}

func (p *HTTPProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.call(ctx, p.buildRequest(req, false))
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apperrors.Wrap(err, apperrors.KindProviderUnavailable, "completion provider circuit open")
	}
	if err != nil {
		return nil, err
	}
	return result.(*Response), nil
}

func (p *HTTPProvider) call(ctx context.Context, chatReq chatRequest) (*Response, error) {
	body, err := json.Marshal(chatReq)
	if err != nil {
		return nil, err
	}

	var out *Response
	operation := func() error {
		resp, err := p.post(ctx, body)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if err := checkStatus(resp); err != nil {
			return err
		}

		var parsed chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode completion response: %w", err))
		}
		if len(parsed.Choices) == 0 {
			return backoff.Permanent(apperrors.New(apperrors.KindProviderUnavailable, "completion provider returned no choices"))
		}
		out = &Response{
			Content: parsed.Choices[0].Message.Content,
			Model:   parsed.Model,
			Usage: Usage{
				PromptTokens:     parsed.Usage.PromptTokens,
				CompletionTokens: parsed.Usage.CompletionTokens,
				TotalTokens:      parsed.Usage.TotalTokens,
			},
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if apperrors.KindOf(err) != apperrors.KindInternal {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.KindProviderUnavailable, "completion provider unreachable")
	}
	return out, nil
}

// Stream opens a server-sent-events completion and forwards deltas.
// Streaming calls are not retried; a mid-stream failure surfaces as an
// error chunk.
func (p *HTTPProvider) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	body, err := json.Marshal(p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	resp, err := p.post(ctx, body)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindProviderUnavailable, "completion provider unreachable")
	}
	if err := checkStatus(resp); err != nil {
		_ = resp.Body.Close()
		return nil, apperrors.Wrap(err, apperrors.KindProviderUnavailable, "completion stream rejected")
	}

	out := make(chan Chunk, 8)
	go func() {
		defer close(out)
		defer func() { _ = resp.Body.Close() }()

		var usage Usage
		scanner := bufio.NewScanner(resp.Body)
		scanner.Buffer(make([]byte, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if !strings.HasPrefix(line, "data:") {
				continue
			}
			payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if payload == "[DONE]" {
				break
			}

			var event chatStreamEvent
			if err := json.Unmarshal([]byte(payload), &event); err != nil {
				out <- Chunk{Err: fmt.Errorf("corrupt stream event: %w", err)}
				return
			}
			if event.Usage != nil {
				usage = Usage{
					PromptTokens:     event.Usage.PromptTokens,
					CompletionTokens: event.Usage.CompletionTokens,
					TotalTokens:      event.Usage.TotalTokens,
				}
			}
			for _, choice := range event.Choices {
				if choice.Delta.Content == "" {
					continue
				}
				select {
				case out <- Chunk{Content: choice.Delta.Content}:
				case <-ctx.Done():
					out <- Chunk{Err: ctx.Err()}
					return
				}
			}
		}
		if err := scanner.Err(); err != nil {
			out <- Chunk{Err: err}
			return
		}
		out <- Chunk{Done: true, Usage: usage}
	}()
	return out, nil
}

func (p *HTTPProvider) post(ctx context.Context, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}
	return p.client.Do(req)
}

func checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("completion provider returned %d", resp.StatusCode)
	default:
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return backoff.Permanent(apperrors.Newf(apperrors.KindProviderUnavailable,
			"completion provider returned %d: %s", resp.StatusCode, string(data)))
	}
}
