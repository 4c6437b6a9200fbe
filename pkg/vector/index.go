// Package vector provides the vector index behind semantic search.
// Three back-ends implement the same Index contract: a local HNSW graph
// with snapshot persistence, a brute-force flat index for small corpora
// and tests, and a remote HTTP index for managed deployments.
package vector

import (
	"context"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

// Entry is a stored vector with its filterable metadata
type Entry struct {
	ID       string                 `json:"id"`
	Vector   []float32              `json:"vector"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Match is a search hit. Score is cosine similarity in [-1, 1];
// higher is closer.
type Match struct {
	ID       string                 `json:"id"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Index is the contract every vector back-end satisfies
type Index interface {
	// Upsert inserts or replaces the entry
	Upsert(ctx context.Context, entry Entry) error
	// UpsertBatch applies entries in order; the first failure aborts
	UpsertBatch(ctx context.Context, entries []Entry) error
	// Fetch returns the stored entry, or KindNotFound
	Fetch(ctx context.Context, id string) (Entry, error)
	// Delete removes the entry; deleting an absent id is not an error
	Delete(ctx context.Context, id string) error
	// Search returns up to k matches ordered by descending score,
	// restricted to entries satisfying every filter
	Search(ctx context.Context, query []float32, k int, filters []Filter) ([]Match, error)
	// Len reports the number of live entries
	Len(ctx context.Context) (int, error)
	// Close flushes state and releases resources
	Close() error
}

func validateEntry(entry Entry, dims int) error {
	if entry.ID == "" {
		return apperrors.New(apperrors.KindValidation, "entry id is required")
	}
	if len(entry.Vector) != dims {
		return apperrors.Newf(apperrors.KindValidation, "entry %s has %d dimensions, index wants %d", entry.ID, len(entry.Vector), dims)
	}
	return nil
}

func validateQuery(query []float32, k, dims int) error {
	if k <= 0 {
		return apperrors.New(apperrors.KindValidation, "k must be positive")
	}
	if len(query) != dims {
		return apperrors.Newf(apperrors.KindValidation, "query has %d dimensions, index wants %d", len(query), dims)
	}
	return nil
}
