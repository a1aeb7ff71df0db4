// Package store holds the indexable text units and the two search
// structures built over them: a lexical (keyword) index and an HNSW
// vector store, plus the on-disk bundle that persists both.
package store

import (
	"context"
	"fmt"
)

// Facet names the aspect of a record a text unit describes.
type Facet string

const (
	FacetIdentity Facet = "identity"
	FacetLocation Facet = "location"
	FacetContact  Facet = "contact"
)

// NoRegCode marks a text unit whose record has no numeric registration code.
const NoRegCode = -1

// TextUnit is the searchable unit indexed by both the lexical and the
// semantic store. Every unit carries enough metadata to recover its record
// without consulting either index.
type TextUnit struct {
	// ID is "<record id>:<facet>", unique within a build.
	ID string
	// RecordID is the originating record's row identifier.
	RecordID int
	Facet    Facet
	// Body is the text that gets indexed.
	Body string
	// FullInfo is the display payload shown when any facet matches.
	FullInfo string
	// RegCode is the integer registration code or NoRegCode.
	RegCode int
}

// HasRegCode reports whether the unit carries a numeric registration code.
func (u *TextUnit) HasRegCode() bool {
	return u.RegCode != NoRegCode
}

// LexicalResult is one keyword search hit.
type LexicalResult struct {
	ID    string
	Score float64
}

// LexicalIndex scores text units against a query by term overlap.
// Results are ordered by score descending, then ID ascending.
type LexicalIndex interface {
	// Index adds units to the index. An empty slice is valid.
	Index(ctx context.Context, units []*TextUnit) error

	// Search returns up to k hits. An empty or all-stop-word query yields
	// no hits.
	Search(ctx context.Context, query string, k int) ([]*LexicalResult, error)

	// Count returns the number of indexed units.
	Count() int

	Close() error
}

// LexicalConfig configures lexical indexing.
type LexicalConfig struct {
	// StopWords are dropped at index and query time.
	StopWords []string
}

// DefaultLexicalConfig returns the English stop word configuration.
func DefaultLexicalConfig() LexicalConfig {
	return LexicalConfig{StopWords: DefaultStopWords}
}

// VectorResult is one nearest-neighbour hit.
type VectorResult struct {
	ID       string
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the HNSW store.
type VectorStoreConfig struct {
	Dimensions int

	// Metric is "cos" or "l2".
	Metric string

	// M is the maximum number of neighbours per node.
	M int

	// EfSearch is the candidate list size during search.
	EfSearch int

	// Seed drives level generation so a build is reproducible.
	Seed int64
}

// DefaultVectorStoreConfig returns the standard configuration.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions: dimensions,
		Metric:     "cos",
		M:          16,
		EfSearch:   64,
		Seed:       42,
	}
}

// VectorStore stores embeddings for nearest-neighbour search.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	AllIDs() []string
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch is returned when a vector has the wrong length.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Got)
}
