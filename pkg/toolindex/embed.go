// Package toolindex is the Tool Index (component E): it maintains a
// searchable embedding corpus over every enabled, healthy Service's tools,
// rebuilt on a debounce timer after Registry Store mutations, and
// answers top-K similarity queries with AND-semantics tag filtering.
package toolindex

import (
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// VectorDim is the dimensionality every Embedder in this package must
// produce. Chosen to match the all-MiniLM-L6-v2 embedding size the
// teacher's own vectors.db artifact was built against, so a real
// model-backed Embedder could be swapped in without a schema change.
const VectorDim = 384

// Embedder turns free text into a VectorDim-length vector. No
// embedding-model client exists anywhere in this module's dependency
// set, so the default implementation is a deterministic local hash
// (HashEmbedder) rather than a call to an external model; it is a
// narrow interface specifically so a real model client can be dropped
// in later without touching pkg/toolindex's query logic.
type Embedder interface {
	Embed(text string) []float32
}

// HashEmbedder deterministically maps text to a unit vector by hashing
// overlapping trigrams into buckets, giving lexically similar strings
// (shared tokens, shared prefixes) cosine-similar vectors without any
// trained model. It is intentionally simple: its role is to give the
// rest of the index a stable, swappable seam, not to be a good
// semantic embedder.
type HashEmbedder struct{}

// Embed implements Embedder.
func (HashEmbedder) Embed(text string) []float32 {
	vec := make([]float32, VectorDim)
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return vec
	}

	tokens := tokenize(text)
	for _, tok := range tokens {
		sum := sha256.Sum256([]byte(tok))
		bucket := binary.BigEndian.Uint32(sum[:4]) % VectorDim
		sign := float32(1)
		if sum[4]&1 == 1 {
			sign = -1
		}
		vec[bucket] += sign
	}
	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	fields := strings.FieldsFunc(text, func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := make([]string, 0, len(fields)*2)
	out = append(out, fields...)
	for _, f := range fields {
		for i := 0; i+3 <= len(f); i++ {
			out = append(out, f[i:i+3])
		}
	}
	return out
}

func normalize(vec []float32) {
	var sumSquares float64
	for _, v := range vec {
		sumSquares += float64(v) * float64(v)
	}
	if sumSquares == 0 {
		return
	}
	norm := float32(math.Sqrt(sumSquares))
	for i := range vec {
		vec[i] /= norm
	}
}

// cosineSimilarity assumes both vectors are already unit-normalized.
func cosineSimilarity(a, b []float32) float32 {
	var dot float32
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		dot += a[i] * b[i]
	}
	return dot
}
