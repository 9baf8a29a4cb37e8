package embeddings

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
)

// CachedProvider wraps a Provider with an in-memory cache keyed by
// (text hash, model). Since the contract guarantees deterministic
// embeddings for a fixed (text, model), cached vectors never go stale;
// a model-version bump changes every key, which is the invalidation
// rule.
type CachedProvider struct {
	provider Provider

	mu    sync.RWMutex
	cache map[string][]float32
}

// NewCachedProvider wraps a provider with an embedding cache.
func NewCachedProvider(provider Provider) *CachedProvider {
	return &CachedProvider{
		provider: provider,
		cache:    make(map[string][]float32),
	}
}

// Dimension returns the wrapped provider's embedding dimension.
func (c *CachedProvider) Dimension() int {
	return c.provider.Dimension()
}

// Model returns the wrapped provider's model identifier.
func (c *CachedProvider) Model() string {
	return c.provider.Model()
}

// Len returns the number of cached embeddings.
func (c *CachedProvider) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// EmbedQuery returns a cached embedding or generates and caches one.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.key(text)

	c.mu.RLock()
	cached, ok := c.cache[key]
	c.mu.RUnlock()
	if ok {
		return cached, nil
	}

	vector, err := c.provider.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.cache[key] = vector
	c.mu.Unlock()

	return vector, nil
}

// EmbedDocuments embeds texts, calling the underlying provider only for
// cache misses. Results are returned in input order.
func (c *CachedProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}

	result := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	c.mu.RLock()
	for i, text := range texts {
		if cached, ok := c.cache[c.key(text)]; ok {
			result[i] = cached
		} else {
			missing = append(missing, text)
			missingIdx = append(missingIdx, i)
		}
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return result, nil
	}

	vectors, err := c.provider.EmbedDocuments(ctx, missing)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for i, vec := range vectors {
		result[missingIdx[i]] = vec
		c.cache[c.key(missing[i])] = vec
	}
	c.mu.Unlock()

	return result, nil
}

// key builds the cache key from the text hash and model version.
func (c *CachedProvider) key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%x", c.provider.Model(), sum)
}
