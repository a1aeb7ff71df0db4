package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStaticEmbedder_Deterministic(t *testing.T) {
	// Given: a static embedder
	e := NewStaticEmbedder()
	ctx := context.Background()

	// When: the same narrative is embedded twice
	a, err := e.Embed(ctx, "Shri Krishna Gaushala has registration number GSA-4314, district Hisar.")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "Shri Krishna Gaushala has registration number GSA-4314, district Hisar.")
	require.NoError(t, err)

	// Then: vectors are identical and unit length
	assert.Equal(t, a, b)
	assert.Len(t, a, StaticDimensions)
	assert.InDelta(t, 1.0, vectorMagnitude(a), 1e-5)
}

func TestStaticEmbedder_EmptyInputIsZeroVector(t *testing.T) {
	e := NewStaticEmbedder()

	vec, err := e.Embed(context.Background(), "   ")

	require.NoError(t, err)
	assert.Len(t, vec, StaticDimensions)
	assert.Zero(t, vectorMagnitude(vec))
}

func TestStaticEmbedder_RelatedTextsAreCloser(t *testing.T) {
	// Given: a query and two narratives, one about the queried district
	e := NewStaticEmbedder()
	ctx := context.Background()
	query, err := e.Embed(ctx, "gaushalas in Hisar district")
	require.NoError(t, err)
	related, err := e.Embed(ctx, "Gopal Gaushala is located in Balsamand village in Hisar district.")
	require.NoError(t, err)
	unrelated, err := e.Embed(ctx, "Contact person for Nandi Seva Sadan is Ramesh Kumar, phone number 9876543210.")
	require.NoError(t, err)

	// Then: the related narrative scores higher
	assert.Greater(t, cosineSimilarity(query, related), cosineSimilarity(query, unrelated))
}

func TestStaticEmbedder_StopWordsIgnored(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()

	a, err := e.Embed(ctx, "the gaushala of Hisar")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "gaushala Hisar")
	require.NoError(t, err)

	// Trigrams of "the" and "of" still differ, but the token buckets match.
	assert.Greater(t, cosineSimilarity(a, b), 0.8)
}

func TestStaticEmbedder_BatchMatchesSingle(t *testing.T) {
	e := NewStaticEmbedder()
	ctx := context.Background()
	texts := []string{"Hisar", "Sirsa gaushala", ""}

	batch, err := e.EmbedBatch(ctx, texts)
	require.NoError(t, err)
	require.Len(t, batch, len(texts))

	for i, text := range texts {
		single, err := e.Embed(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, single, batch[i], "text %d", i)
	}
}

func TestStaticEmbedder_Closed(t *testing.T) {
	e := NewStaticEmbedder()
	require.NoError(t, e.Close())

	_, err := e.Embed(context.Background(), "Hisar")

	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}

func TestExtractNgrams(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"short", "ab", []string{}},
		{"exact", "abc", []string{"abc"}},
		{"sliding", "hisar", []string{"his", "isa", "sar"}},
		{"multibyte", "गौशाला", []string{"गौश", "ौशा", "शाल", "ाला"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, extractNgrams(tt.text, 3))
		})
	}
}
