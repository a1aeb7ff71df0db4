package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lexicalBackends() []string {
	return []string{LexicalBackendBleve, LexicalBackendSQLite}
}

func newTestLexical(t *testing.T, backend string) LexicalIndex {
	t.Helper()
	idx, err := NewLexicalIndex(backend, DefaultLexicalConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func sampleUnits() []*TextUnit {
	return []*TextUnit{
		{ID: "1:identity", RecordID: 1, Facet: FacetIdentity, RegCode: 14,
			Body: "Shanti Gaushala, registration GSA-14, village Rampur, district Ambala."},
		{ID: "1:contact", RecordID: 1, Facet: FacetContact, RegCode: 14,
			Body: "Contact for Shanti Gaushala (GSA-14, Ambala district): Ramesh, phone 9876543210."},
		{ID: "2:identity", RecordID: 2, Facet: FacetIdentity, RegCode: 4314,
			Body: "Krishna Gaushala, registration GSA-4314, district Ambala."},
		{ID: "3:identity", RecordID: 3, Facet: FacetIdentity, RegCode: 7,
			Body: "Gopal Gaushala, registration GSA-7, village Barwala, district Hisar."},
	}
}

func TestLexicalIndex_RanksExactTermsFirst(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend, func(t *testing.T) {
			// Given: an index over four units
			idx := newTestLexical(t, backend)
			require.NoError(t, idx.Index(context.Background(), sampleUnits()))
			assert.Equal(t, 4, idx.Count())

			// When: searching for a rare term
			results, err := idx.Search(context.Background(), "Hisar", 10)

			// Then: only the unit containing it matches
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "3:identity", results[0].ID)
			assert.Greater(t, results[0].Score, 0.0)
		})
	}
}

func TestLexicalIndex_AnyTermMatches(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend, func(t *testing.T) {
			idx := newTestLexical(t, backend)
			require.NoError(t, idx.Index(context.Background(), sampleUnits()))

			// When: the query mixes a matching and an unknown term
			results, err := idx.Search(context.Background(), "who is the contact for Ramesh zzzz", 10)

			// Then: the contact unit ranks first
			require.NoError(t, err)
			require.NotEmpty(t, results)
			assert.Equal(t, "1:contact", results[0].ID)
		})
	}
}

func TestLexicalIndex_LeadingZerosMatch(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend, func(t *testing.T) {
			idx := newTestLexical(t, backend)
			require.NoError(t, idx.Index(context.Background(), sampleUnits()))

			results, err := idx.Search(context.Background(), "0007", 10)

			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "3:identity", results[0].ID)
		})
	}
}

func TestLexicalIndex_RespectsK(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend, func(t *testing.T) {
			idx := newTestLexical(t, backend)
			require.NoError(t, idx.Index(context.Background(), sampleUnits()))

			results, err := idx.Search(context.Background(), "gaushala", 2)

			require.NoError(t, err)
			assert.Len(t, results, 2)
		})
	}
}

func TestLexicalIndex_Deterministic(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend, func(t *testing.T) {
			idx := newTestLexical(t, backend)
			require.NoError(t, idx.Index(context.Background(), sampleUnits()))

			first, err := idx.Search(context.Background(), "gaushala ambala", 10)
			require.NoError(t, err)
			second, err := idx.Search(context.Background(), "gaushala ambala", 10)
			require.NoError(t, err)

			assert.Equal(t, first, second)
		})
	}
}

func TestLexicalIndex_EmptyCorpusAndQuery(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend, func(t *testing.T) {
			// Given: an index with nothing in it
			idx := newTestLexical(t, backend)
			require.NoError(t, idx.Index(context.Background(), nil))

			// Then: every query returns empty
			results, err := idx.Search(context.Background(), "gaushala", 5)
			require.NoError(t, err)
			assert.Empty(t, results)

			// And: empty and stop-word-only queries return empty
			require.NoError(t, idx.Index(context.Background(), sampleUnits()))
			results, err = idx.Search(context.Background(), "   ", 5)
			require.NoError(t, err)
			assert.Empty(t, results)
			results, err = idx.Search(context.Background(), "who is the", 5)
			require.NoError(t, err)
			assert.Empty(t, results)
		})
	}
}

func TestLexicalIndex_ClosedIndexErrors(t *testing.T) {
	for _, backend := range lexicalBackends() {
		t.Run(backend, func(t *testing.T) {
			idx, err := NewLexicalIndex(backend, DefaultLexicalConfig())
			require.NoError(t, err)
			require.NoError(t, idx.Close())

			_, err = idx.Search(context.Background(), "gaushala", 5)
			assert.Error(t, err)
			assert.NoError(t, idx.Close())
		})
	}
}

func TestNewLexicalIndex_UnknownBackend(t *testing.T) {
	_, err := NewLexicalIndex("lucene", DefaultLexicalConfig())
	assert.ErrorContains(t, err, "unknown lexical backend")
}
