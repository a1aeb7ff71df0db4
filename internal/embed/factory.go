package embed

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProviderType represents an embedding provider
type ProviderType string

const (
	// ProviderStatic uses hash-based embeddings (offline default, no model files)
	ProviderStatic ProviderType = "static"

	// ProviderONNX runs a local sentence-transformer through ONNX Runtime
	ProviderONNX ProviderType = "onnx"

	// ProviderOllama uses the Ollama API for embeddings
	ProviderOllama ProviderType = "ollama"
)

// Options selects and configures an embedder. It mirrors the embeddings
// section of the configuration file.
type Options struct {
	Provider      ProviderType
	Model         string
	ModelPath     string
	TokenizerPath string
	LibraryPath   string
	OllamaHost    string
	Dimensions    int
	MaxSeqLen     int
	BatchSize     int
	Timeout       time.Duration

	// CacheSize bounds the LRU of computed vectors; negative disables it.
	CacheSize int
}

// NewEmbedder creates the embedder named by opts.Provider. There is no
// silent fallback: an unavailable provider is an error, because a bundle
// built with one model cannot be searched with another.
func NewEmbedder(ctx context.Context, opts Options) (Embedder, error) {
	var (
		embedder Embedder
		err      error
	)

	switch opts.Provider {
	case ProviderStatic, "":
		embedder = NewStaticEmbedder()

	case ProviderONNX:
		embedder, err = NewONNXEmbedder(ONNXConfig{
			ModelPath:     opts.ModelPath,
			TokenizerPath: opts.TokenizerPath,
			LibraryPath:   opts.LibraryPath,
			Model:         opts.Model,
			Dimensions:    opts.Dimensions,
			MaxSeqLen:     opts.MaxSeqLen,
			BatchSize:     opts.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("onnx embedder unavailable: %w\n\nTo fix:\n  1. Set embeddings.model_path and embeddings.tokenizer_path\n  2. Or use the offline embedder: TABLERAG_EMBEDDER=static", err)
		}

	case ProviderOllama:
		embedder, err = NewOllamaEmbedder(ctx, OllamaConfig{
			Host:       opts.OllamaHost,
			Model:      opts.Model,
			Dimensions: opts.Dimensions,
			BatchSize:  opts.BatchSize,
			Timeout:    opts.Timeout,
		})
		if err != nil {
			return nil, fmt.Errorf("ollama unavailable: %w\n\nTo fix:\n  1. Start Ollama: ollama serve\n  2. Or use the offline embedder: TABLERAG_EMBEDDER=static", err)
		}

	default:
		return nil, fmt.Errorf("unknown embedding provider %q (valid: %s)", opts.Provider, strings.Join(ValidProviders(), ", "))
	}

	slog.Debug("embedder_created",
		slog.String("provider", string(opts.Provider)),
		slog.String("model", embedder.ModelName()),
		slog.Int("dimensions", embedder.Dimensions()))

	if opts.CacheSize < 0 {
		return embedder, nil
	}
	return NewCachedEmbedder(embedder, opts.CacheSize), nil
}

// ParseProvider converts a string to ProviderType
func ParseProvider(s string) ProviderType {
	return ProviderType(strings.ToLower(strings.TrimSpace(s)))
}

// String returns the string representation of ProviderType
func (p ProviderType) String() string {
	return string(p)
}

// ValidProviders returns all valid provider names
func ValidProviders() []string {
	return []string{
		string(ProviderStatic),
		string(ProviderONNX),
		string(ProviderOllama),
	}
}

// IsValidProvider checks if a provider name is valid
func IsValidProvider(s string) bool {
	lower := strings.ToLower(s)
	for _, p := range ValidProviders() {
		if lower == p {
			return true
		}
	}
	return false
}
