package embed

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/sugarme/tokenizer"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNXConfig configures a local sentence-transformer session.
type ONNXConfig struct {
	// ModelPath points at the exported model.onnx.
	ModelPath string

	// TokenizerPath points at the matching tokenizer.json.
	TokenizerPath string

	// LibraryPath is the onnxruntime shared library (empty = platform default).
	LibraryPath string

	// Model is recorded as the model name (default: all-MiniLM-L6-v2).
	Model string

	// Dimensions of the hidden state (default: 384).
	Dimensions int

	MaxSeqLen int
	BatchSize int
}

// ONNXEmbedder runs a MiniLM-style encoder through ONNX Runtime and
// mean-pools the last hidden state over the attention mask.
type ONNXEmbedder struct {
	cfg     ONNXConfig
	tk      *tokenizer.Tokenizer
	session *ort.DynamicAdvancedSession

	// Sessions are safe for concurrent Run, the tokenizer is not.
	tkMu   sync.Mutex
	mu     sync.RWMutex
	closed bool
}

var _ Embedder = (*ONNXEmbedder)(nil)

// NewONNXEmbedder loads the tokenizer and opens an inference session.
func NewONNXEmbedder(cfg ONNXConfig) (*ONNXEmbedder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultONNXModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultDimensions
	}
	if cfg.MaxSeqLen <= 0 {
		cfg.MaxSeqLen = DefaultMaxSeqLen
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if _, err := os.Stat(cfg.ModelPath); err != nil {
		return nil, fmt.Errorf("embedding model %s: %w", cfg.ModelPath, err)
	}

	tk, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, err
	}

	if err := AcquireRuntime(cfg.LibraryPath); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath, BERTInputNames, []string{"last_hidden_state"}, nil)
	if err != nil {
		_ = ReleaseRuntime()
		return nil, fmt.Errorf("open embedding session: %w", err)
	}

	return &ONNXEmbedder{cfg: cfg, tk: tk, session: session}, nil
}

// Embed generates embedding for a single text.
func (e *ONNXEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch runs the encoder over texts in BatchSize chunks.
func (e *ONNXEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, fmt.Errorf("embedder is closed")
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += e.cfg.BatchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+e.cfg.BatchSize, len(texts))
		vecs, err := e.runBatch(texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embed batch %d-%d: %w", start, end, err)
		}
		results = append(results, vecs...)
	}
	return results, nil
}

func (e *ONNXEmbedder) runBatch(texts []string) ([][]float32, error) {
	e.tkMu.Lock()
	batch, err := EncodeBatch(e.tk, texts, nil, e.cfg.MaxSeqLen)
	e.tkMu.Unlock()
	if err != nil {
		return nil, err
	}

	inputs, err := batch.Inputs()
	if err != nil {
		return nil, err
	}
	defer DestroyValues(inputs)

	hidden, err := ort.NewEmptyTensor[float32](ort.NewShape(int64(batch.Size), int64(batch.SeqLen), int64(e.cfg.Dimensions)))
	if err != nil {
		return nil, fmt.Errorf("create output tensor: %w", err)
	}
	defer func() { _ = hidden.Destroy() }()

	if err := e.session.Run(inputs, []ort.Value{hidden}); err != nil {
		return nil, fmt.Errorf("run embedding session: %w", err)
	}

	return meanPool(hidden.GetData(), batch.Mask, batch.Size, batch.SeqLen, e.cfg.Dimensions), nil
}

// meanPool averages token states whose mask is set and L2-normalises the result.
func meanPool(hidden []float32, mask []int64, size, seqLen, dims int) [][]float32 {
	out := make([][]float32, size)
	for b := 0; b < size; b++ {
		vec := make([]float32, dims)
		var count float32
		for t := 0; t < seqLen; t++ {
			if mask[b*seqLen+t] == 0 {
				continue
			}
			count++
			base := (b*seqLen + t) * dims
			for d := 0; d < dims; d++ {
				vec[d] += hidden[base+d]
			}
		}
		if count > 0 {
			for d := range vec {
				vec[d] /= count
			}
		}
		out[b] = normalizeVector(vec)
	}
	return out
}

// Dimensions returns the embedding dimension
func (e *ONNXEmbedder) Dimensions() int {
	return e.cfg.Dimensions
}

// ModelName returns the model identifier
func (e *ONNXEmbedder) ModelName() string {
	return "onnx:" + e.cfg.Model
}

// Available reports whether the session is open.
func (e *ONNXEmbedder) Available(_ context.Context) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

// Close destroys the session and releases the runtime reference.
func (e *ONNXEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true

	err := e.session.Destroy()
	if rerr := ReleaseRuntime(); err == nil {
		err = rerr
	}
	return err
}
