// Package search implements the retrieval engine: an identifier fast path,
// a lexical + semantic candidate union, cross-encoder re-ranking and the
// threshold, dedup and fallback policy applied to the re-ranked list.
package search

import (
	"errors"
	"time"

	"github.com/Aman-CERP/tablerag/internal/record"
	"github.com/Aman-CERP/tablerag/internal/store"
)

var errRerankerClosed = errors.New("reranker is closed")

// State is the engine lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateBuilding
	StateLoading
	StateReady
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateBuilding:
		return "building"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	default:
		return "uninitialized"
	}
}

// Mode tells how a result was produced.
type Mode string

const (
	// ModeExact is an identifier fast-path hit.
	ModeExact Mode = "exact"
	// ModeRanked holds candidates that cleared the relevance threshold.
	ModeRanked Mode = "ranked"
	// ModeFallback holds the best candidates when none cleared the threshold.
	ModeFallback Mode = "fallback"
	// ModeEmpty means there was nothing to return.
	ModeEmpty Mode = "empty"
)

// Hit is one selected record.
type Hit struct {
	UnitID   string      `json:"unit_id"`
	RecordID int         `json:"record_id"`
	Facet    store.Facet `json:"facet"`
	// Score is the re-ranker score; zero for exact matches.
	Score    float64 `json:"score"`
	FullInfo string  `json:"full_info"`
}

// Result is the structured outcome of a search.
type Result struct {
	Query string `json:"query"`
	Mode  Mode   `json:"mode"`
	Hits  []Hit  `json:"hits"`
	// Candidates is the size of the deduplicated hybrid union.
	Candidates int `json:"candidates"`
}

// EngineConfig configures retrieval.
type EngineConfig struct {
	// LexicalK and SemanticK bound the candidates taken from each index (default: 30).
	LexicalK  int
	SemanticK int

	// MaxResults caps ranked results (default: 5).
	MaxResults int

	// FallbackCount is the number of under-threshold records returned when
	// nothing clears Threshold (1 or 2, default: 1).
	FallbackCount int

	// Threshold is the exclusive re-ranker score cut-off.
	Threshold float64

	// IdentifierPrefix is the registration prefix (default: GSA).
	IdentifierPrefix string

	// EmbedBatchSize is the number of narratives embedded per call (default: 32).
	EmbedBatchSize int
}

// DefaultConfig returns defaults calibrated for the lexical reranker.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		LexicalK:         30,
		SemanticK:        30,
		MaxResults:       5,
		FallbackCount:    1,
		Threshold:        DefaultThreshold(RerankerLexical),
		IdentifierPrefix: record.DefaultPrefix,
		EmbedBatchSize:   32,
	}
}

// Stats counts sub-index and scorer invocations since the engine was created.
type Stats struct {
	Searches        int64 `json:"searches"`
	FastPathHits    int64 `json:"fast_path_hits"`
	LexicalQueries  int64 `json:"lexical_queries"`
	SemanticQueries int64 `json:"semantic_queries"`
	RerankCalls     int64 `json:"rerank_calls"`
}

// Info describes the index the engine currently serves.
type Info struct {
	State          State     `json:"-"`
	StateName      string    `json:"state"`
	BuildID        string    `json:"build_id,omitempty"`
	Units          int       `json:"units"`
	Records        int       `json:"records"`
	EmbedderModel  string    `json:"embedder_model,omitempty"`
	Dimensions     int       `json:"dimensions,omitempty"`
	LexicalBackend string    `json:"lexical_backend,omitempty"`
	Reranker       string    `json:"reranker,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitzero"`
}

// ProgressFunc receives build progress. Stage is one of "normalize",
// "embed" or "index"; done counts up to total.
type ProgressFunc func(stage string, done, total int)
