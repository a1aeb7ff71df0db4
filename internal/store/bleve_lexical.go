package store

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
)

const (
	// RecordTokenizerName is the registered name of the term splitter.
	RecordTokenizerName = "record_tokenizer"

	// RecordStopFilterName is the registered name of the stop word filter.
	RecordStopFilterName = "record_stop"

	// RecordAnalyzerName is the analyzer combining both.
	RecordAnalyzerName = "record_analyzer"
)

func init() {
	_ = registry.RegisterTokenizer(RecordTokenizerName, recordTokenizerConstructor)
	_ = registry.RegisterTokenFilter(RecordStopFilterName, recordStopFilterConstructor)
}

// BleveLexicalIndex is an in-memory Bleve index over text unit bodies.
type BleveLexicalIndex struct {
	mu     sync.RWMutex
	index  bleve.Index
	config LexicalConfig
	closed bool
}

// bleveDocument is the document structure for Bleve indexing.
type bleveDocument struct {
	Content string `json:"content"`
}

// NewBleveLexicalIndex creates an empty in-memory index.
func NewBleveLexicalIndex(config LexicalConfig) (*BleveLexicalIndex, error) {
	indexMapping, err := createIndexMapping(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create index mapping: %w", err)
	}

	idx, err := bleve.NewMemOnly(indexMapping)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	return &BleveLexicalIndex{index: idx, config: config}, nil
}

func createIndexMapping(config LexicalConfig) (*mapping.IndexMappingImpl, error) {
	indexMapping := bleve.NewIndexMapping()

	err := indexMapping.AddCustomTokenFilter(RecordStopFilterName+"_cfg", map[string]interface{}{
		"type":       RecordStopFilterName,
		"stop_words": config.StopWords,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add stop filter: %w", err)
	}

	err = indexMapping.AddCustomAnalyzer(RecordAnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     RecordTokenizerName,
		"token_filters": []string{RecordStopFilterName + "_cfg"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add custom analyzer: %w", err)
	}

	indexMapping.DefaultAnalyzer = RecordAnalyzerName
	return indexMapping, nil
}

// Index adds units to the index in one batch.
func (b *BleveLexicalIndex) Index(ctx context.Context, units []*TextUnit) error {
	if len(units) == 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("index is closed")
	}

	batch := b.index.NewBatch()
	for _, u := range units {
		if err := batch.Index(u.ID, bleveDocument{Content: u.Body}); err != nil {
			return fmt.Errorf("failed to index unit %s: %w", u.ID, err)
		}
	}

	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("failed to execute batch: %w", err)
	}
	return nil
}

// Search returns up to k units ranked by TF-IDF score. Ties break on ID so
// results are deterministic.
func (b *BleveLexicalIndex) Search(ctx context.Context, query string, k int) ([]*LexicalResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("index is closed")
	}
	if strings.TrimSpace(query) == "" || k <= 0 {
		return []*LexicalResult{}, nil
	}

	matchQuery := bleve.NewMatchQuery(query)
	matchQuery.SetField("content")

	req := bleve.NewSearchRequest(matchQuery)
	req.Size = k
	req.SortBy([]string{"-_score", "_id"})

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("search failed: %w", err)
	}

	results := make([]*LexicalResult, 0, len(result.Hits))
	for _, hit := range result.Hits {
		results = append(results, &LexicalResult{ID: hit.ID, Score: hit.Score})
	}
	return results, nil
}

// Count returns the number of indexed units.
func (b *BleveLexicalIndex) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return 0
	}
	n, _ := b.index.DocCount()
	return int(n)
}

// Close releases the index.
func (b *BleveLexicalIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}

var _ LexicalIndex = (*BleveLexicalIndex)(nil)

func recordTokenizerConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.Tokenizer, error) {
	return &bleveRecordTokenizer{}, nil
}

// bleveRecordTokenizer adapts SplitTerms to Bleve.
type bleveRecordTokenizer struct{}

// Tokenize implements analysis.Tokenizer.
func (t *bleveRecordTokenizer) Tokenize(input []byte) analysis.TokenStream {
	terms := SplitTerms(string(input))
	result := make(analysis.TokenStream, 0, len(terms))
	for i, term := range terms {
		result = append(result, &analysis.Token{
			Term:     []byte(term.Text),
			Start:    term.Start,
			End:      term.End,
			Position: i + 1,
			Type:     analysis.AlphaNumeric,
		})
	}
	return result
}

func recordStopFilterConstructor(config map[string]interface{}, cache *registry.Cache) (analysis.TokenFilter, error) {
	words := DefaultStopWords
	if raw, ok := config["stop_words"].([]string); ok {
		words = raw
	} else if raw, ok := config["stop_words"].([]interface{}); ok {
		words = make([]string, 0, len(raw))
		for _, w := range raw {
			if s, ok := w.(string); ok {
				words = append(words, s)
			}
		}
	}
	return &bleveStopFilter{stopWords: BuildStopWordMap(words)}, nil
}

// bleveStopFilter implements analysis.TokenFilter for stop words.
type bleveStopFilter struct {
	stopWords map[string]struct{}
}

// Filter implements analysis.TokenFilter.
func (f *bleveStopFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	result := make(analysis.TokenStream, 0, len(input))
	for _, token := range input {
		if _, isStop := f.stopWords[string(token.Term)]; !isStop {
			result = append(result, token)
		}
	}
	return result
}
