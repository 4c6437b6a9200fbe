// Package embedding turns text into fixed-dimension unit-norm vectors.
// A Provider is the raw model behind the Service, which adds caching,
// batching and normalisation on top.
package embedding

import (
	"context"
	"math"

	"github.com/castmesh/castmesh/pkg/apperrors"
)

// Provider is the contract every embedding back-end satisfies
type Provider interface {
	// Embed returns the vector for a single text
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input text, in order
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the fixed output dimension
	Dimensions() int
}

// Normalize scales v to unit L2 norm in place and returns it.
// The zero vector is returned unchanged.
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	inv := 1.0 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}

// CosineSimilarity computes the cosine of the angle between a and b.
// Mismatched dimensions yield 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func validateTexts(texts []string) error {
	if len(texts) == 0 {
		return apperrors.New(apperrors.KindValidation, "no texts to embed")
	}
	for i, t := range texts {
		if t == "" {
			return apperrors.Newf(apperrors.KindValidation, "empty text at position %d", i)
		}
	}
	return nil
}
