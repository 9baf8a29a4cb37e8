package discovery

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/catalog"
	"github.com/fyrsmithlabs/insightd/internal/clustering"
	"github.com/fyrsmithlabs/insightd/internal/embeddings"
	"github.com/fyrsmithlabs/insightd/internal/novelty"
	"github.com/fyrsmithlabs/insightd/internal/vecmath"
)

// fakeCatalog is an in-memory CandidateCatalog for engine tests.
type fakeCatalog struct {
	mu         sync.Mutex
	candidates map[string]*catalog.Candidate
	evidence   map[string][]*catalog.Evidence
	failScope  string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		candidates: make(map[string]*catalog.Candidate),
		evidence:   make(map[string][]*catalog.Evidence),
	}
}

func (f *fakeCatalog) add(c *catalog.Candidate, sourceTypes ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candidates[c.ID] = c
	for i, sourceType := range sourceTypes {
		f.evidence[c.ID] = append(f.evidence[c.ID], &catalog.Evidence{
			ID:              fmt.Sprintf("%s-ev-%d", c.ID, i),
			CandidateID:     c.ID,
			SourceType:      sourceType,
			SourceReference: fmt.Sprintf("%s-ref-%d", c.ID, i),
		})
	}
}

func (f *fakeCatalog) List(ctx context.Context, scope string, filter catalog.ListFilter) ([]*catalog.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if scope == f.failScope && f.failScope != "" {
		return nil, fmt.Errorf("store unavailable")
	}

	var result []*catalog.Candidate
	for _, c := range f.candidates {
		if c.Scope != scope {
			continue
		}
		if filter.NonRejected && c.Status == catalog.StatusRejected {
			continue
		}
		if filter.MissingEmbedding && len(c.Embedding) > 0 {
			continue
		}
		result = append(result, c)
	}
	return result, nil
}

func (f *fakeCatalog) ListEvidence(ctx context.Context, candidateID string) ([]*catalog.Evidence, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.evidence[candidateID], nil
}

func (f *fakeCatalog) SetEmbedding(ctx context.Context, candidateID string, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	c, ok := f.candidates[candidateID]
	if !ok {
		return catalog.ErrNotFound
	}
	c.Embedding = vector
	return nil
}

// batchEmbedder maps texts to fixture vectors, failing configured texts.
type batchEmbedder struct {
	mu       sync.Mutex
	vectors  map[string][]float32
	failures map[string]bool
	batches  int
}

func (e *batchEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches++

	result := make([][]float32, len(texts))
	for i, text := range texts {
		if e.failures[text] {
			return nil, fmt.Errorf("%w: throttled", embeddings.ErrProviderFailed)
		}
		vector, ok := e.vectors[text]
		if !ok {
			return nil, fmt.Errorf("no fixture vector for %q", text)
		}
		result[i] = vector
	}
	return result, nil
}

func (e *batchEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *batchEmbedder) Dimension() int { return 8 }
func (e *batchEmbedder) Model() string  { return "batch" }

func newTestEngine(t *testing.T, cat CandidateCatalog, embedder Embedder, store PatternStore, config Config) (*Engine, *novelty.Registry) {
	t.Helper()

	clusterer, err := clustering.NewEngine(clustering.DefaultConfig(), nil)
	require.NoError(t, err)

	provider := &batchEmbedder{vectors: map[string][]float32{}}
	registry, err := novelty.NewRegistry(provider, nil)
	require.NoError(t, err)

	engine, err := NewEngine(cat, embedder, clusterer, registry, store, config, nil)
	require.NoError(t, err)
	return engine, registry
}

func tightVector(i int) []float32 {
	v := make([]float32, 8)
	v[0] = 1
	v[1] = float32(i) * 0.01
	return vecmath.Normalize(v)
}

func axisVector(axis int) []float32 {
	v := make([]float32, 8)
	v[axis] = 1
	return v
}

func embeddedCandidate(id, scope string, vector []float32) *catalog.Candidate {
	return &catalog.Candidate{
		ID:            id,
		Scope:         scope,
		CandidateType: "insight",
		Name:          id,
		ClaimText:     id,
		Status:        catalog.StatusCandidate,
		Embedding:     vector,
	}
}

// seedDensePopulation adds 8 mutually similar candidates plus 4
// scattered ones, all with embeddings.
func seedDensePopulation(cat *fakeCatalog, scope string) {
	for i := 0; i < 8; i++ {
		source := "arxiv"
		if i%2 == 1 {
			source = "reddit"
		}
		cat.add(embeddedCandidate(fmt.Sprintf("dense-%d", i), scope, tightVector(i)), source)
	}
	for i := 0; i < 4; i++ {
		cat.add(embeddedCandidate(fmt.Sprintf("scatter-%d", i), scope, axisVector(3+i)), "rss")
	}
}

func TestDiscoverDenseCluster(t *testing.T) {
	cat := newFakeCatalog()
	seedDensePopulation(cat, "s1")
	store := NewMemoryPatternStore()
	engine, _ := newTestEngine(t, cat, &batchEmbedder{vectors: map[string][]float32{}}, store, DefaultConfig())

	patterns, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	pattern := patterns[0]
	require.Len(t, pattern.CandidateIDs, 8)
	for _, id := range pattern.CandidateIDs {
		assert.Contains(t, id, "dense-")
	}
	assert.Equal(t, StatusDiscovered, pattern.Status)
	assert.Equal(t, "s1", pattern.Scope)
	assert.NotEmpty(t, pattern.CentroidEmbedding)
	assert.Greater(t, pattern.ConfidenceScore, 0.0)
	assert.LessOrEqual(t, pattern.ConfidenceScore, 1.0)

	// Empty approved set: maximally novel.
	assert.Equal(t, 1.0, pattern.NoveltyScore)

	// 4 arxiv + 4 reddit members, one evidence record each.
	assert.Equal(t, map[string]int{"arxiv": 4, "reddit": 4}, pattern.SourceBreakdown)

	stored, err := store.List(t.Context(), "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestDiscoverMinimumPopulationGate(t *testing.T) {
	cat := newFakeCatalog()
	for i := 0; i < 9; i++ {
		cat.add(embeddedCandidate(fmt.Sprintf("c-%d", i), "s1", tightVector(i)), "arxiv")
	}
	store := NewMemoryPatternStore()
	engine, _ := newTestEngine(t, cat, &batchEmbedder{vectors: map[string][]float32{}}, store, DefaultConfig())

	patterns, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)
	assert.Empty(t, patterns)

	stored, err := store.List(t.Context(), "s1")
	require.NoError(t, err)
	assert.Empty(t, stored)
}

func TestDiscoverIdempotentRerun(t *testing.T) {
	cat := newFakeCatalog()
	seedDensePopulation(cat, "s1")
	store := NewMemoryPatternStore()
	engine, _ := newTestEngine(t, cat, &batchEmbedder{vectors: map[string][]float32{}}, store, DefaultConfig())

	first, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID, "re-run updates in place, no duplicate pattern")

	stored, err := store.List(t.Context(), "s1")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestDiscoverDismissedSuppression(t *testing.T) {
	cat := newFakeCatalog()
	seedDensePopulation(cat, "s1")
	store := NewMemoryPatternStore()
	engine, _ := newTestEngine(t, cat, &batchEmbedder{vectors: map[string][]float32{}}, store, DefaultConfig())

	first, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	_, err = store.UpdateStatus(t.Context(), first[0].ID,
		[]PatternStatus{StatusDiscovered, StatusReviewed}, StatusDismissed, "")
	require.NoError(t, err)

	// The same cluster must not resurface as a fresh pattern.
	second, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)
	assert.Empty(t, second)

	stored, err := store.List(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, StatusDismissed, stored[0].Status)
}

func TestDiscoverBackfillsMissingEmbeddings(t *testing.T) {
	cat := newFakeCatalog()
	embedder := &batchEmbedder{vectors: map[string][]float32{}}

	// Dense group ingested degraded: no embeddings yet, but the texts
	// have fixture vectors.
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("dense-%d", i)
		cat.add(embeddedCandidate(id, "s1", nil), "arxiv")
		embedder.vectors[id] = tightVector(i)
	}
	for i := 0; i < 4; i++ {
		cat.add(embeddedCandidate(fmt.Sprintf("scatter-%d", i), "s1", axisVector(3+i)), "rss")
	}

	store := NewMemoryPatternStore()
	engine, _ := newTestEngine(t, cat, embedder, store, DefaultConfig())

	patterns, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Len(t, patterns[0].CandidateIDs, 8)

	// Every candidate now has a cached embedding.
	missing, err := cat.List(t.Context(), "s1", catalog.ListFilter{MissingEmbedding: true})
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestDiscoverBackfillBatchFailureIsIncremental(t *testing.T) {
	cat := newFakeCatalog()
	embedder := &batchEmbedder{
		vectors:  map[string][]float32{},
		failures: map[string]bool{},
	}

	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("c-%d", i)
		cat.add(embeddedCandidate(id, "s1", nil), "arxiv")
		embedder.vectors[id] = tightVector(i)
	}
	// One poisoned text fails its whole batch.
	embedder.failures["c-7"] = true

	config := DefaultConfig()
	config.BatchSize = 2
	store := NewMemoryPatternStore()
	engine, _ := newTestEngine(t, cat, embedder, store, config)

	_, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)

	// Only the failed batch (2 candidates) is still missing; embeddings
	// persisted from earlier batches survive.
	missing, err := cat.List(t.Context(), "s1", catalog.ListFilter{MissingEmbedding: true})
	require.NoError(t, err)
	assert.Len(t, missing, 2)
}

func TestDiscoverNoveltyAgainstApprovedSet(t *testing.T) {
	cat := newFakeCatalog()
	seedDensePopulation(cat, "s1")
	store := NewMemoryPatternStore()
	engine, registry := newTestEngine(t, cat, &batchEmbedder{vectors: map[string][]float32{}}, store, DefaultConfig())

	// Approved entity sitting on the dense group's centroid.
	require.NoError(t, registry.Add("approved-1", "", tightVector(3)))

	patterns, err := engine.Discover(t.Context(), "s1")
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	assert.Less(t, patterns[0].NoveltyScore, 0.05)
	assert.Equal(t, "approved-1", patterns[0].NearestApprovedID)
}

func TestDiscoverScopeBusy(t *testing.T) {
	cat := newFakeCatalog()
	store := NewMemoryPatternStore()
	engine, _ := newTestEngine(t, cat, &batchEmbedder{vectors: map[string][]float32{}}, store, DefaultConfig())

	require.True(t, engine.acquire("s1"))
	defer engine.release("s1")

	_, err := engine.Discover(t.Context(), "s1")
	assert.ErrorIs(t, err, ErrScopeBusy)

	// Other scopes are unaffected.
	_, err = engine.Discover(t.Context(), "s2")
	assert.NoError(t, err)
}

func TestDiscoverValidation(t *testing.T) {
	cat := newFakeCatalog()
	engine, _ := newTestEngine(t, cat, &batchEmbedder{vectors: map[string][]float32{}}, NewMemoryPatternStore(), DefaultConfig())

	_, err := engine.Discover(t.Context(), "")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfidenceScoreMonotonicity(t *testing.T) {
	// Increasing member count never decreases the score.
	previous := 0.0
	for n := 1; n <= 50; n++ {
		score := confidenceScore(n, 0.9)
		assert.GreaterOrEqual(t, score, previous)
		assert.Greater(t, score, 0.0)
		assert.LessOrEqual(t, score, 1.0)
		previous = score
	}

	// Increasing average similarity never decreases the score.
	previous = 0.0
	for sim := 0.0; sim <= 1.0; sim += 0.05 {
		score := confidenceScore(10, sim)
		assert.GreaterOrEqual(t, score, previous)
		previous = score
	}
}

func TestOverlapRatio(t *testing.T) {
	a := []string{"a", "b", "c", "d"}

	assert.Equal(t, 1.0, overlapRatio(a, []string{"a", "b", "c", "d"}))
	assert.InDelta(t, 3.0/5.0, overlapRatio(a, []string{"a", "b", "c", "e"}), 1e-9)
	assert.Equal(t, 0.0, overlapRatio(a, []string{"x", "y"}))
	assert.Equal(t, 0.0, overlapRatio(nil, a))
}

func TestSchedulerRunOnceIsolatesScopeFailures(t *testing.T) {
	cat := newFakeCatalog()
	cat.failScope = "bad"
	seedDensePopulation(cat, "good")

	store := NewMemoryPatternStore()
	engine, _ := newTestEngine(t, cat, &batchEmbedder{vectors: map[string][]float32{}}, store, DefaultConfig())

	scheduler, err := NewScheduler(engine, func(ctx context.Context) ([]string, error) {
		return []string{"bad", "good"}, nil
	}, 1, nil)
	require.NoError(t, err)

	scheduler.RunOnce(t.Context())

	// The failing scope did not prevent the healthy one from producing
	// its pattern.
	stored, err := store.List(t.Context(), "good")
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}
