package nlp

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldnotes-io/tipline/internal/domain"
	"github.com/fieldnotes-io/tipline/pkg/vecx"
)

func TestEmbed_Dimension(t *testing.T) {
	t.Parallel()
	e := NewEmbedder()
	v := e.Embed("avoid the tourist traps near the tower")
	require.Len(t, v, domain.EmbeddingDim)
	assert.InDelta(t, 1.0, vecx.Norm(v), 1e-6, "embedding should be unit length")
}

func TestEmbed_Deterministic(t *testing.T) {
	t.Parallel()
	e := NewEmbedder()
	text := "book tickets in advance for the museum"
	a := e.Embed(text)
	b := e.Embed(text)
	// bit-identical, not merely close
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("embedding differs at %d: %v vs %v", i, a[i], b[i])
		}
	}
	c := NewEmbedder().Embed(text)
	for i := range a {
		if a[i] != c[i] {
			t.Fatalf("fresh embedder differs at %d", i)
		}
	}
}

func TestEmbed_SimilarTextsScoreHigh(t *testing.T) {
	t.Parallel()
	e := NewEmbedder()
	a := e.Embed("avoid the tourist restaurants near the tower")
	b := e.Embed("avoid the restaurants tourist near the tower")
	assert.GreaterOrEqual(t, vecx.Cosine(a, b), 0.85)

	c := e.Embed("the beach is beautiful at sunrise")
	assert.Less(t, vecx.Cosine(a, c), 0.5)
}

func TestEmbed_ExactDuplicateIsUnitCosine(t *testing.T) {
	t.Parallel()
	e := NewEmbedder()
	a := e.Embed("free walking tour every morning")
	b := e.Embed("free walking tour every morning")
	assert.InDelta(t, 1.0, vecx.Cosine(a, b), 1e-9)
}

func TestEmbed_EmptyYieldsZeroVector(t *testing.T) {
	t.Parallel()
	e := NewEmbedder()
	v := e.Embed("   …   ")
	require.Len(t, v, domain.EmbeddingDim)
	if vecx.Norm(v) != 0 {
		t.Fatalf("expected zero vector, norm=%v", vecx.Norm(v))
	}
}

func TestEmbed_NoNaN(t *testing.T) {
	t.Parallel()
	e := NewEmbedder()
	v := e.Embed("a")
	for i, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			t.Fatalf("non-finite value at %d: %v", i, x)
		}
	}
}
