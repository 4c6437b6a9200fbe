package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/castmesh/castmesh/pkg/apperrors"
	"github.com/castmesh/castmesh/pkg/observability"
)

// RemoteIndexConfig configures the managed vector back-end
type RemoteIndexConfig struct {
	BaseURL    string
	APIKey     string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

// RemoteIndex talks to a managed vector store over HTTP. The wire shapes
// mirror Entry and Match so either side can evolve metadata freely.
type RemoteIndex struct {
	cfg    RemoteIndexConfig
	client *http.Client
	logger observability.Logger
}

// NewRemoteIndex creates a client for the configured base URL
func NewRemoteIndex(cfg RemoteIndexConfig, logger observability.Logger) (*RemoteIndex, error) {
	if cfg.BaseURL == "" {
		return nil, apperrors.New(apperrors.KindValidation, "remote index base url is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, apperrors.New(apperrors.KindValidation, "remote index dimensions must be positive")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &RemoteIndex{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}, nil
}

func (idx *RemoteIndex) Upsert(ctx context.Context, entry Entry) error {
	return idx.UpsertBatch(ctx, []Entry{entry})
}

func (idx *RemoteIndex) UpsertBatch(ctx context.Context, entries []Entry) error {
	for _, e := range entries {
		if err := validateEntry(e, idx.cfg.Dimensions); err != nil {
			return err
		}
	}
	return idx.do(ctx, http.MethodPost, "/vectors", map[string]interface{}{"entries": entries}, nil)
}

func (idx *RemoteIndex) Fetch(ctx context.Context, id string) (Entry, error) {
	var entry Entry
	err := idx.do(ctx, http.MethodGet, "/vectors/"+id, nil, &entry)
	return entry, err
}

func (idx *RemoteIndex) Delete(ctx context.Context, id string) error {
	err := idx.do(ctx, http.MethodDelete, "/vectors/"+id, nil, nil)
	if apperrors.Is(err, apperrors.KindNotFound) {
		return nil
	}
	return err
}

func (idx *RemoteIndex) Search(ctx context.Context, query []float32, k int, filters []Filter) ([]Match, error) {
	if err := validateQuery(query, k, idx.cfg.Dimensions); err != nil {
		return nil, err
	}
	var resp struct {
		Matches []Match `json:"matches"`
	}
	body := map[string]interface{}{"vector": query, "k": k}
	if len(filters) > 0 {
		body["filters"] = filters
	}
	if err := idx.do(ctx, http.MethodPost, "/search", body, &resp); err != nil {
		return nil, err
	}
	return resp.Matches, nil
}

func (idx *RemoteIndex) Len(ctx context.Context) (int, error) {
	var resp struct {
		Count int `json:"count"`
	}
	if err := idx.do(ctx, http.MethodGet, "/stats", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

func (idx *RemoteIndex) Close() error { return nil }

func (idx *RemoteIndex) do(ctx context.Context, method, path string, body, out interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return err
		}
	}

	operation := func() error {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, idx.cfg.BaseURL+path, reader)
		if err != nil {
			return backoff.Permanent(err)
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		if idx.cfg.APIKey != "" {
			req.Header.Set("Authorization", "Bearer "+idx.cfg.APIKey)
		}

		resp, err := idx.client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
		case resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(apperrors.Newf(apperrors.KindNotFound, "remote index: %s %s not found", method, path))
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			return fmt.Errorf("remote index returned %d", resp.StatusCode)
		default:
			data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			return backoff.Permanent(apperrors.Newf(apperrors.KindProviderUnavailable,
				"remote index returned %d: %s", resp.StatusCode, string(data)))
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return backoff.Permanent(fmt.Errorf("failed to decode remote index response: %w", err))
			}
		}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(idx.cfg.MaxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if apperrors.KindOf(err) != apperrors.KindInternal {
			return err
		}
		return apperrors.Wrap(err, apperrors.KindProviderUnavailable, "remote index unreachable")
	}
	return nil
}
