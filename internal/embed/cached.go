package embed

import (
	"context"
	"fmt"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultEmbeddingCacheSize covers a registry of a few hundred records
// (three facet narratives each) plus recent queries.
const DefaultEmbeddingCacheSize = 1000

// CachedEmbedder keeps recent vectors in an LRU keyed by model and text.
// Rebuilds over an unchanged registry and repeated queries skip the model.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheStats counts lookups served from and missed by the cache.
type CacheStats struct {
	Hits   int64 `json:"hits"`
	Misses int64 `json:"misses"`
	Size   int   `json:"size"`
}

// NewCachedEmbedder wraps inner. A non-positive size uses
// DefaultEmbeddingCacheSize.
func NewCachedEmbedder(inner Embedder, size int) *CachedEmbedder {
	if size <= 0 {
		size = DefaultEmbeddingCacheSize
	}
	cache, _ := lru.New[string, []float32](size)
	return &CachedEmbedder{inner: inner, cache: cache}
}

// key scopes text to the model so a swapped model never serves stale vectors.
func (c *CachedEmbedder) key(text string) string {
	return c.inner.ModelName() + "\x00" + text
}

func (c *CachedEmbedder) lookup(text string) ([]float32, bool) {
	vec, ok := c.cache.Get(c.key(text))
	if ok {
		c.hits.Add(1)
	} else {
		c.misses.Add(1)
	}
	return vec, ok
}

// Embed implements Embedder.
func (c *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if vec, ok := c.lookup(text); ok {
		return vec, nil
	}
	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(c.key(text), vec)
	return vec, nil
}

// EmbedBatch implements Embedder. Only texts missing from the cache reach
// the inner embedder, and duplicates within the batch are sent once.
func (c *CachedEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	pending := make(map[string][]int)
	var misses []string

	for i, text := range texts {
		if idx, seen := pending[text]; seen {
			pending[text] = append(idx, i)
			continue
		}
		if vec, ok := c.lookup(text); ok {
			out[i] = vec
			continue
		}
		pending[text] = []int{i}
		misses = append(misses, text)
	}
	if len(misses) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(misses) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(misses))
	}
	for j, text := range misses {
		c.cache.Add(c.key(text), vecs[j])
		for _, i := range pending[text] {
			out[i] = vecs[j]
		}
	}
	return out, nil
}

// Stats reports cache effectiveness.
func (c *CachedEmbedder) Stats() CacheStats {
	return CacheStats{Hits: c.hits.Load(), Misses: c.misses.Load(), Size: c.cache.Len()}
}

// Len reports the number of cached vectors.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }

// Inner returns the wrapped embedder.
func (c *CachedEmbedder) Inner() Embedder { return c.inner }

func (c *CachedEmbedder) Dimensions() int { return c.inner.Dimensions() }
func (c *CachedEmbedder) ModelName() string { return c.inner.ModelName() }
func (c *CachedEmbedder) Available(ctx context.Context) bool { return c.inner.Available(ctx) }
func (c *CachedEmbedder) Close() error { return c.inner.Close() }
