package embed

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/sugarme/tokenizer"
	"github.com/sugarme/tokenizer/pretrained"
	ort "github.com/yalue/onnxruntime_go"
)

// ONNX Runtime is a process-wide environment; every session holds a reference.
var (
	ortMu   sync.Mutex
	ortRefs int
)

// DefaultONNXLibrary returns the conventional shared library name for the host OS.
func DefaultONNXLibrary() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}

// AcquireRuntime initialises the ONNX Runtime environment on first use.
// Each successful call must be paired with ReleaseRuntime.
func AcquireRuntime(libraryPath string) error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ortRefs == 0 && !ort.IsInitialized() {
		if libraryPath == "" {
			libraryPath = DefaultONNXLibrary()
		}
		ort.SetSharedLibraryPath(libraryPath)
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("initialize onnxruntime from %s: %w", libraryPath, err)
		}
	}
	ortRefs++
	return nil
}

// ReleaseRuntime drops a reference and destroys the environment with the last one.
func ReleaseRuntime() error {
	ortMu.Lock()
	defer ortMu.Unlock()

	if ortRefs == 0 {
		return nil
	}
	ortRefs--
	if ortRefs == 0 && ort.IsInitialized() {
		return ort.DestroyEnvironment()
	}
	return nil
}

// LoadTokenizer reads a HuggingFace tokenizer.json.
func LoadTokenizer(path string) (*tokenizer.Tokenizer, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("tokenizer %s: %w", path, err)
	}
	tk, err := pretrained.FromFile(path)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer %s: %w", path, err)
	}
	return tk, nil
}

// TokenBatch is a right-padded batch of BERT-style inputs in row-major order.
type TokenBatch struct {
	IDs     []int64
	Mask    []int64
	TypeIDs []int64
	Size    int
	SeqLen  int
}

// EncodeBatch tokenizes texts, or (texts[i], pairs[i]) when pairs is non-nil,
// truncating each sequence to maxLen while keeping its final separator.
func EncodeBatch(tk *tokenizer.Tokenizer, texts, pairs []string, maxLen int) (*TokenBatch, error) {
	if pairs != nil && len(pairs) != len(texts) {
		return nil, fmt.Errorf("encode batch: %d texts but %d pairs", len(texts), len(pairs))
	}
	if maxLen <= 1 {
		maxLen = DefaultMaxSeqLen
	}

	type row struct{ ids, types []int }
	rows := make([]row, len(texts))
	seqLen := 1
	for i, text := range texts {
		var (
			en  *tokenizer.Encoding
			err error
		)
		if pairs != nil {
			en, err = tk.EncodePair(text, pairs[i], true)
		} else {
			en, err = tk.EncodeSingle(text, true)
		}
		if err != nil {
			return nil, fmt.Errorf("encode text %d: %w", i, err)
		}

		ids, types := en.GetIds(), en.GetTypeIds()
		if len(ids) > maxLen {
			last := ids[len(ids)-1]
			lastType := types[len(types)-1]
			ids = append(ids[:maxLen-1:maxLen-1], last)
			types = append(types[:maxLen-1:maxLen-1], lastType)
		}
		rows[i] = row{ids: ids, types: types}
		seqLen = max(seqLen, len(ids))
	}

	b := &TokenBatch{
		IDs:     make([]int64, len(texts)*seqLen),
		Mask:    make([]int64, len(texts)*seqLen),
		TypeIDs: make([]int64, len(texts)*seqLen),
		Size:    len(texts),
		SeqLen:  seqLen,
	}
	for i, r := range rows {
		off := i * seqLen
		for j, id := range r.ids {
			b.IDs[off+j] = int64(id)
			b.Mask[off+j] = 1
			if j < len(r.types) {
				b.TypeIDs[off+j] = int64(r.types[j])
			}
		}
	}
	return b, nil
}

// Inputs wraps the batch as input_ids, attention_mask and token_type_ids tensors.
// The caller destroys the returned values.
func (b *TokenBatch) Inputs() ([]ort.Value, error) {
	shape := ort.NewShape(int64(b.Size), int64(b.SeqLen))
	values := make([]ort.Value, 0, 3)
	for _, data := range [][]int64{b.IDs, b.Mask, b.TypeIDs} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			DestroyValues(values)
			return nil, fmt.Errorf("create input tensor: %w", err)
		}
		values = append(values, t)
	}
	return values, nil
}

// BERTInputNames are the input names of sentence-transformers ONNX exports.
var BERTInputNames = []string{"input_ids", "attention_mask", "token_type_ids"}

// DestroyValues releases tensors created by Inputs.
func DestroyValues(values []ort.Value) {
	for _, v := range values {
		if v != nil {
			_ = v.Destroy()
		}
	}
}
