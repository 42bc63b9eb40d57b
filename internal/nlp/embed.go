package nlp

import (
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/pkg/vecx"
)

// bigramWeight is the contribution of adjacent-token features relative
// to single tokens.
const bigramWeight = 0.5

// bigramSep joins token pairs into one hash key; it cannot occur in a
// token because tokenization strips non-letter/digit runes.
const bigramSep = "\x1f"

// Embedder maps text onto a fixed 384-dim space with the feature
// hashing trick: FNV-1a picks the bucket, the hash's top bit picks the
// sign, and the result is L2-normalized. The computation is pure
// integer and float arithmetic in token order, so identical text
// produces a bit-identical vector on every call and on every process.
type Embedder struct {
	dim int
}

// NewEmbedder returns an embedder producing domain.EmbeddingDim vectors.
func NewEmbedder() *Embedder {
	return &Embedder{dim: domain.EmbeddingDim}
}

// Dim returns the embedding dimensionality.
func (e *Embedder) Dim() int { return e.dim }

// Embed encodes text. Empty or non-lexical input yields the zero vector.
func (e *Embedder) Embed(text string) []float32 {
	vec := make([]float32, e.dim)
	tokens := embedTokens(text)
	if len(tokens) == 0 {
		return vec
	}
	for _, tok := range tokens {
		e.add(vec, tok, 1)
	}
	for i := 0; i+1 < len(tokens); i++ {
		e.add(vec, tokens[i]+bigramSep+tokens[i+1], bigramWeight)
	}
	return vecx.Normalize(vec)
}

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[idx] += weight
}

// embedTokens lowercases and splits text into letter/digit runs.
func embedTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
