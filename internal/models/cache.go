// Package models owns the process-wide embedding model and re-ranker.
// Both are loaded once on first use and shared by every engine the
// process creates; a load failure is remembered and returned to every
// later caller.
package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/Aman-CERP/tablerag/internal/config"
	"github.com/Aman-CERP/tablerag/internal/embed"
	"github.com/Aman-CERP/tablerag/internal/search"
)

// EmbedderFactory creates the embedder for a configuration.
type EmbedderFactory func(ctx context.Context, cfg *config.Config) (embed.Embedder, error)

// RerankerFactory creates the re-ranker for a configuration.
type RerankerFactory func(ctx context.Context, cfg *config.Config) (search.Reranker, error)

// Option configures a Cache.
type Option func(*Cache)

// WithEmbedderFactory replaces the embedder constructor.
func WithEmbedderFactory(f EmbedderFactory) Option {
	return func(c *Cache) { c.newEmbedder = f }
}

// WithRerankerFactory replaces the re-ranker constructor.
func WithRerankerFactory(f RerankerFactory) Option {
	return func(c *Cache) { c.newReranker = f }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) {
		if l != nil {
			c.logger = l
		}
	}
}

// Cache lazily constructs and then shares the heavy models.
type Cache struct {
	cfg         *config.Config
	newEmbedder EmbedderFactory
	newReranker RerankerFactory
	logger      *slog.Logger

	embedOnce  sync.Once
	embedder   embed.Embedder
	embedErr   error
	rerankOnce sync.Once
	reranker   search.Reranker
	rerankErr  error
	closeOnce  sync.Once
	closeErr   error
	mu         sync.Mutex
	closed     bool
}

// NewCache creates an empty cache for cfg. Nothing is loaded until the
// first Embedder or Reranker call.
func NewCache(cfg *config.Config, opts ...Option) *Cache {
	c := &Cache{
		cfg:         cfg,
		newEmbedder: DefaultEmbedder,
		newReranker: DefaultReranker,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Embedder returns the shared embedder, loading it on first use.
func (c *Cache) Embedder(ctx context.Context) (embed.Embedder, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.embedOnce.Do(func() {
		start := time.Now()
		c.embedder, c.embedErr = c.newEmbedder(ctx, c.cfg)
		if c.embedErr != nil {
			c.logger.Error("embedder_load_failed",
				slog.String("provider", c.cfg.Embeddings.Provider),
				slog.String("error", c.embedErr.Error()))
			return
		}
		c.logger.Info("embedder_loaded",
			slog.String("model", c.embedder.ModelName()),
			slog.Int("dimensions", c.embedder.Dimensions()),
			slog.Duration("duration", time.Since(start)))
	})
	return c.embedder, c.embedErr
}

// Reranker returns the shared re-ranker, loading it on first use.
func (c *Cache) Reranker(ctx context.Context) (search.Reranker, error) {
	if err := c.checkOpen(); err != nil {
		return nil, err
	}
	c.rerankOnce.Do(func() {
		start := time.Now()
		c.reranker, c.rerankErr = c.newReranker(ctx, c.cfg)
		if c.rerankErr != nil {
			c.logger.Error("reranker_load_failed",
				slog.String("provider", c.cfg.Reranker.Provider),
				slog.String("error", c.rerankErr.Error()))
			return
		}
		c.logger.Info("reranker_loaded",
			slog.String("reranker", c.reranker.Name()),
			slog.Duration("duration", time.Since(start)))
	})
	return c.reranker, c.rerankErr
}

// NewEngine resolves both models and creates an Uninitialized engine
// configured from the cache's configuration.
func (c *Cache) NewEngine(ctx context.Context, opts ...search.EngineOption) (*search.Engine, error) {
	embedder, err := c.Embedder(ctx)
	if err != nil {
		return nil, err
	}
	reranker, err := c.Reranker(ctx)
	if err != nil {
		return nil, err
	}
	opts = append([]search.EngineOption{
		search.WithLogger(c.logger),
		search.WithLexicalBackend(c.cfg.Index.LexicalBackend),
	}, opts...)
	return search.NewEngine(embedder, reranker, EngineConfig(c.cfg), opts...)
}

// Close releases both models. Later calls return an error.
func (c *Cache) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()

		// Block until any in-flight load finishes so its result is released.
		c.embedOnce.Do(func() {})
		c.rerankOnce.Do(func() {})

		var errs []string
		if c.embedder != nil {
			if err := c.embedder.Close(); err != nil {
				errs = append(errs, "embedder: "+err.Error())
			}
		}
		if c.reranker != nil {
			if err := c.reranker.Close(); err != nil {
				errs = append(errs, "reranker: "+err.Error())
			}
		}
		if len(errs) > 0 {
			c.closeErr = fmt.Errorf("close models: %s", strings.Join(errs, "; "))
		}
	})
	return c.closeErr
}

func (c *Cache) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("model cache is closed")
	}
	return nil
}

// EngineConfig maps the retrieval and reranker sections onto engine
// settings. An unset threshold takes the reranker provider's default.
func EngineConfig(cfg *config.Config) search.EngineConfig {
	ec := search.DefaultConfig()
	ec.LexicalK = cfg.Retrieval.LexicalK
	ec.SemanticK = cfg.Retrieval.SemanticK
	ec.MaxResults = cfg.Retrieval.MaxResults
	ec.FallbackCount = cfg.Retrieval.FallbackCount
	ec.IdentifierPrefix = cfg.Retrieval.IdentifierPrefix
	if cfg.Embeddings.BatchSize > 0 {
		ec.EmbedBatchSize = cfg.Embeddings.BatchSize
	}
	ec.Threshold = search.DefaultThreshold(strings.ToLower(cfg.Reranker.Provider))
	if cfg.Reranker.Threshold != nil {
		ec.Threshold = *cfg.Reranker.Threshold
	}
	return ec
}
