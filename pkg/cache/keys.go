package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// View prefixes. Short so Redis keys stay compact.
const (
	ViewEmbedding     = "emb"
	ViewModelResponse = "mresp"
	ViewConversation  = "conv"
	ViewVectorSearch  = "vsearch"
)

// Key builds the canonical cache key for a view and raw input:
// "<view>:sha256(normalised input)".
func Key(view, input string) string {
	sum := sha256.Sum256([]byte(normalize(input)))
	return view + ":" + hex.EncodeToString(sum[:])
}

// normalize lowercases and collapses whitespace so trivially different
// inputs share a cache slot
func normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}
