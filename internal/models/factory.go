package models

import (
	"context"
	"fmt"
	"strings"

	"github.com/Aman-CERP/tablerag/internal/config"
	"github.com/Aman-CERP/tablerag/internal/embed"
	"github.com/Aman-CERP/tablerag/internal/search"
)

// DefaultEmbedder builds the embedder named by the embeddings section.
func DefaultEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	timeout, err := cfg.EmbedTimeout()
	if err != nil {
		return nil, err
	}
	e := cfg.Embeddings
	return embed.NewEmbedder(ctx, embed.Options{
		Provider:      embed.ParseProvider(e.Provider),
		Model:         e.Model,
		ModelPath:     e.ModelPath,
		TokenizerPath: e.TokenizerPath,
		LibraryPath:   cfg.Runtime.ONNXLibrary,
		OllamaHost:    e.OllamaHost,
		Dimensions:    e.Dimensions,
		MaxSeqLen:     e.MaxSeqLen,
		BatchSize:     e.BatchSize,
		Timeout:       timeout,
		CacheSize:     e.CacheSize,
	})
}

// DefaultReranker builds the re-ranker named by the reranker section.
func DefaultReranker(ctx context.Context, cfg *config.Config) (search.Reranker, error) {
	r := cfg.Reranker
	switch strings.ToLower(r.Provider) {
	case search.RerankerLexical, "":
		return search.NewLexicalReranker(), nil

	case search.RerankerONNX:
		rr, err := search.NewONNXReranker(search.ONNXRerankerConfig{
			ModelPath:     r.ModelPath,
			TokenizerPath: r.TokenizerPath,
			LibraryPath:   cfg.Runtime.ONNXLibrary,
			Model:         r.Model,
			MaxSeqLen:     r.MaxSeqLen,
			BatchSize:     cfg.Embeddings.BatchSize,
		})
		if err != nil {
			return nil, fmt.Errorf("onnx reranker unavailable: %w\n\nTo fix:\n  1. Set reranker.model_path and reranker.tokenizer_path\n  2. Or use the built-in scorer: TABLERAG_RERANKER=lexical", err)
		}
		return rr, nil

	case search.RerankerHTTP:
		rr, err := search.NewHTTPReranker(ctx, search.HTTPRerankerConfig{
			Endpoint: r.Endpoint,
			Model:    r.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("http reranker unavailable: %w", err)
		}
		return rr, nil

	default:
		return nil, fmt.Errorf("unknown reranker provider %q (want lexical, onnx or http)", r.Provider)
	}
}
