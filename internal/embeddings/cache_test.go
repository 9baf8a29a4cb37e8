package embeddings

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingProvider is a deterministic fake that counts provider calls.
type countingProvider struct {
	model string
	calls atomic.Int32
	texts atomic.Int32
}

func (p *countingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	p.texts.Add(int32(len(texts)))
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = fakeVector(text)
	}
	return vectors, nil
}

func (p *countingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	p.texts.Add(1)
	return fakeVector(text), nil
}

func (p *countingProvider) Dimension() int { return 3 }
func (p *countingProvider) Model() string  { return p.model }

// fakeVector derives a stable vector from the text so assertions can
// check per-text identity.
func fakeVector(text string) []float32 {
	var sum float32
	for _, r := range text {
		sum += float32(r)
	}
	return []float32{sum, float32(len(text)), 1}
}

func TestCachedProviderEmbedQuery(t *testing.T) {
	inner := &countingProvider{model: "m1"}
	cached := NewCachedProvider(inner)

	v1, err := cached.EmbedQuery(t.Context(), "hello")
	require.NoError(t, err)
	v2, err := cached.EmbedQuery(t.Context(), "hello")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, cached.Len())
}

func TestCachedProviderBatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingProvider{model: "m1"}
	cached := NewCachedProvider(inner)

	_, err := cached.EmbedQuery(t.Context(), "b")
	require.NoError(t, err)

	vecs, err := cached.EmbedDocuments(t.Context(), []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)

	// Order preserved, only a and c went to the provider.
	assert.Equal(t, fakeVector("a"), vecs[0])
	assert.Equal(t, fakeVector("b"), vecs[1])
	assert.Equal(t, fakeVector("c"), vecs[2])
	assert.Equal(t, int32(3), inner.texts.Load())
	assert.Equal(t, 3, cached.Len())
}

func TestCachedProviderAllHits(t *testing.T) {
	inner := &countingProvider{model: "m1"}
	cached := NewCachedProvider(inner)

	_, err := cached.EmbedDocuments(t.Context(), []string{"a", "b"})
	require.NoError(t, err)
	callsAfterFirst := inner.calls.Load()

	_, err = cached.EmbedDocuments(t.Context(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, callsAfterFirst, inner.calls.Load())
}

func TestCachedProviderKeyIncludesModel(t *testing.T) {
	p1 := NewCachedProvider(&countingProvider{model: "m1"})
	p2 := NewCachedProvider(&countingProvider{model: "m2"})

	k1 := p1.key("same text")
	k2 := p2.key("same text")
	assert.NotEqual(t, k1, k2, "a model bump must invalidate cache keys")
}

func TestCachedProviderConcurrentAccess(t *testing.T) {
	inner := &countingProvider{model: "m1"}
	cached := NewCachedProvider(inner)

	done := make(chan error, 20)
	for i := 0; i < 20; i++ {
		go func(i int) {
			_, err := cached.EmbedQuery(context.Background(), fmt.Sprintf("text-%d", i%5))
			done <- err
		}(i)
	}
	for i := 0; i < 20; i++ {
		require.NoError(t, <-done)
	}
	assert.Equal(t, 5, cached.Len())
}
