package search

import (
	"context"
	"sync"

	"github.com/Aman-CERP/tablerag/internal/store"
)

// Reranker provider names.
const (
	RerankerLexical = "lexical"
	RerankerONNX    = "onnx"
	RerankerHTTP    = "http"
)

// Reranker scores (query, document) pairs with a single relevance scale.
// Scores are unbounded and only comparable within one reranker; larger is
// more relevant. The output is order-preserving: scores[i] belongs to
// docs[i].
type Reranker interface {
	// Score returns one score per document in input order.
	Score(ctx context.Context, query string, docs []string) ([]float64, error)

	// Name identifies the scorer for logs and status output.
	Name() string

	// Close releases resources
	Close() error
}

// DefaultThreshold returns the relevance cut-off calibrated for a provider.
// The ONNX value matches the logit scale of ms-marco-MiniLM-L-6-v2.
func DefaultThreshold(provider string) float64 {
	switch provider {
	case RerankerONNX:
		return -4.0
	default:
		return 0.0
	}
}

// lexicalScoreSpan maps full query coverage to +5 and none to -5.
const lexicalScoreSpan = 10.0

// LexicalReranker scores a document by the share of distinct query terms
// it contains. It needs no model files and is the offline default.
type LexicalReranker struct {
	stopWords map[string]struct{}

	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*LexicalReranker)(nil)

// NewLexicalReranker creates a coverage scorer using the default stop words.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{stopWords: store.BuildStopWordMap(store.DefaultStopWords)}
}

// Score implements Reranker.
func (r *LexicalReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errRerankerClosed
	}

	terms := uniqueTerms(store.Tokenize(query, r.stopWords))
	scores := make([]float64, len(docs))
	for i, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		scores[i] = -lexicalScoreSpan / 2
		if len(terms) == 0 {
			continue
		}

		present := make(map[string]struct{})
		for _, t := range store.Tokenize(doc, r.stopWords) {
			present[t] = struct{}{}
		}
		matched := 0
		for _, t := range terms {
			if _, ok := present[t]; ok {
				matched++
			}
		}
		scores[i] = float64(matched)/float64(len(terms))*lexicalScoreSpan - lexicalScoreSpan/2
	}
	return scores, nil
}

// Name implements Reranker.
func (r *LexicalReranker) Name() string {
	return RerankerLexical
}

// Close implements Reranker.
func (r *LexicalReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func uniqueTerms(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := tokens[:0:0]
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}
