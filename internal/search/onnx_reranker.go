package search

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sugarme/tokenizer"
	ort "github.com/yalue/onnxruntime_go"

	"github.com/Aman-CERP/tablerag/internal/embed"
)

// DefaultCrossEncoder names the model whose logit scale DefaultThreshold assumes.
const DefaultCrossEncoder = "ms-marco-MiniLM-L-6-v2"

// ONNXRerankerConfig configures a local cross-encoder session.
type ONNXRerankerConfig struct {
	ModelPath     string
	TokenizerPath string
	// LibraryPath is the onnxruntime shared library (empty = platform default).
	LibraryPath string
	Model       string
	MaxSeqLen   int
	BatchSize   int
}

// ONNXReranker runs a BERT cross-encoder over (query, document) pairs and
// returns the raw relevance logit of each pair.
type ONNXReranker struct {
	cfg     ONNXRerankerConfig
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession

	tkMu   sync.Mutex
	mu     sync.RWMutex
	closed bool
}

var _ Reranker = (*ONNXReranker)(nil)

// NewONNXReranker loads the tokenizer and opens an inference session.
func NewONNXReranker(cfg ONNXRerankerConfig) (*ONNXReranker, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultCrossEncoder
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = 512
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = embed.DefaultBatchSize
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("cross-encoder model %s: %w", cfg.ModelPath, err)
	}

	tk, err := embed.LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	if err := embed.AcquireRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, embed.BERTInputNames, []string{"logits"}, nil)
	if err != nil {
		_ = embed.ReleaseRuntime()
		return nil, fmt.Errorf("open cross-encoder session: %w", err)
	}

	return &ONNXReranker{cfg: cfg, tk: tk, session: session}, nil
}

// Score implements Reranker.
func (r *ONNXReranker) Score(ctx context.Context, query string, docs []string) ([]float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return nil, errRerankerClosed
	}

	scores := make([]float64, 0, len(docs))
	for start := 0; start < len(docs); start += r.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+r.cfg.BatchSize, len(docs))
		batch, err := r.scoreBatch(query, docs[start:end])
		if err != nil {
			return nil, fmt.Errorf("score pairs %d-%d: %w", start, end, err)
		}
		scores = append(scores, batch...)
	}
	return scores, nil
}

func (r *ONNXReranker) scoreBatch(query string, docs []string) ([]float64, error) {
	queries := make([]string, len(docs))
	for i := range queries {
		queries[i] = query
	}

	r.tkMu.Lock()
	batch, err := embed.EncodeBatch(r.tk, queries, docs, r.cfg.MaxSeqLen)
	r.tkMu.Unlock()
	if err != nil {
		return nil, err
	}

	inputs, err := batch.Inputs()
	if err != nil {
		return nil, err
	}
	defer embed.DestroyValues(inputs)

	logits, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch.Size), 1))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer func() { _ = logits.Destroy() }()

	if err := r.session.Run(inputs, []ort.Value{logits}); err != nil {
		return nil, fmt.Errorf("run cross-encoder: %w", err)
	}

	data := logits.GetData()
	out := make([]float64, batch.Size)
	for i := range out {
		out[i] = float64(data[i])
	}
	return out, nil
}

// Name implements Reranker.
func (r *ONNXReranker) Name() string {
	return RerankerONNX + ":" + r.cfg.Model
}

// Close destroys the session and releases the runtime reference.
func (r *ONNXReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.session.Destroy()
	if rerr := embed.ReleaseRuntime(); err == nil {
		err = rerr
	}
	return err
}
