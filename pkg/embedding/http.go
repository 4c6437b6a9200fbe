package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/observability"
)

// HTTPProviderConfig configures the remote embedding provider
type HTTPProviderConfig struct {
	Endpoint   string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

// HTTPProvider calls an OpenAI-compatible embeddings endpoint. A circuit
// breaker trips after consecutive failures so a dead provider fails fast
// and the caller can degrade to keyword-only search.
type HTTPProvider struct {
	cfg     HTTPProviderConfig
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	logger  observability.Logger
}

// NewHTTPProvider creates a provider for the configured endpoint
func NewHTTPProvider(cfg HTTPProviderConfig, logger observability.Logger) (*HTTPProvider, error) {
	if cfg.Endpoint == "" {
		return nil, apperrors.New(apperrors.KindValidation, "embedding endpoint is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "embedding dimensions must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "embedding-provider",
		MaxRequests: 2,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("embedding breaker state change", map[string]interface{}{
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

func (p *HTTPProvider) Dimensions() int { return p.cfg.Dimensions }

func (p *HTTPProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

type embeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

func (p *HTTPProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}

	result, err := p.breaker.Execute(func() (interface{}, error) {
		return p.call(ctx, texts)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return nil, apperrors.Wrap(err, apperrors.KindProviderUnavailable, "embedding provider circuit open")
	}
	if err != nil {
		return nil, err
	}
	return result.([][]float32), nil
}

func (p *HTTPProvider) call(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}

	var vecs [][]float32
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			// transient; retry with backoff
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("embedding provider returned %d", resp.StatusCode)
		default:
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(apperrors.Newf(apperrors.KindProviderUnavailable,
				"embedding provider returned %d: %s", resp.StatusCode, string(data)))
		}

		var parsed embeddingResponse
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode embedding response: %w", err))
		}
		if len(parsed.Data) != len(texts) {
			return backoff.Permanent(apperrors.Newf(apperrors.KindProviderUnavailable,
				"embedding provider returned %d vectors for %d texts", len(parsed.Data), len(texts)))
		}

		vecs = make([][]float32, len(texts))
		for _, d := range parsed.Data {
			if d.Index < 0 || d.Index >= len(vecs) {
				return backoff.Permanent(apperrors.Newf(apperrors.KindProviderUnavailable,
					"embedding provider returned out-of-range index %d", d.Index))
			}
			if len(d.Embedding) != p.cfg.Dimensions {
				return backoff.Permanent(apperrors.Newf(apperrors.KindProviderUnavailable,
					"embedding provider returned %d dimensions, want %d", len(d.Embedding), p.cfg.Dimensions))
			}
			vecs[d.Index] = d.Embedding
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(p.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if apperrors.KindOf(err) != apperrors.KindInternal {
			return nil, err
		}
		return nil, apperrors.Wrap(err, apperrors.KindProviderUnavailable, "embedding provider unreachable")
	}
	return vecs, nil
}
