package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"
)

// LocalProvider is a deterministic in-process embedder used in development
// and tests. It hashes token n-grams into a fixed-dimension vector; the
// same text always maps to the same unit-norm vector, and texts sharing
// vocabulary land near each other.
type LocalProvider struct {
	dims int
}

// NewLocalProvider creates a local provider with the given dimension
func NewLocalProvider(dims int) *LocalProvider {
	if dims <= 0 {
		dims = 384
	}
	return &LocalProvider{dims: dims}
}

func (p *LocalProvider) Dimensions() int { return p.dims }

func (p *LocalProvider) Embed(_ context.Context, text string) ([]float32, error) {
	if err := validateTexts([]string{text}); err != nil {
		return nil, err
	}
	return p.embedOne(text), nil
}

func (p *LocalProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if err := validateTexts(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = p.embedOne(t)
	}
	return out, nil
}

func (p *LocalProvider) embedOne(text string) []float32 {
	vec := make([]float32, p.dims)
	tokens := strings.Fields(strings.ToLower(text))
	for _, tok := range tokens {
		p.addFeature(vec, tok, 1.0)
		// character trigrams give partial-word overlap some signal
		for i := 0; i+3 <= len(tok); i++ {
			p.addFeature(vec, tok[i:i+3], 0.25)
		}
	}
	return Normalize(vec)
}

func (p *LocalProvider) addFeature(vec []float32, feature string, weight float32) {
	sum := sha256.Sum256([]byte(feature))
	idx := int(binary.LittleEndian.Uint32(sum[:4])) % p.dims
	if idx < 0 {
		idx += p.dims
	}
	sign := float32(1)
	if sum[4]&1 == 1 {
		sign = -1
	}
	vec[idx] += sign * weight
}
