package promotion

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/insightd/internal/discovery"
	"github.com/fyrsmithlabs/insightd/internal/embeddings"
	"github.com/fyrsmithlabs/insightd/internal/novelty"
)

func seedPattern(t *testing.T, store discovery.PatternStore, status discovery.PatternStatus) *discovery.Pattern {
	t.Helper()

	pattern, err := discovery.NewPattern("s1", []string{"c-1", "c-2"})
	require.NoError(t, err)
	pattern.CentroidEmbedding = []float32{1, 0}
	require.NoError(t, store.Insert(t.Context(), pattern))

	if status != discovery.StatusDiscovered {
		_, err = store.UpdateStatus(t.Context(), pattern.ID,
			[]discovery.PatternStatus{discovery.StatusDiscovered, discovery.StatusReviewed},
			status, "")
		require.NoError(t, err)
	}
	return pattern
}

func staticBuilder(targetID string) TargetBuilder {
	return func(ctx context.Context, pattern *discovery.Pattern) (string, error) {
		return targetID, nil
	}
}

func TestPromotePattern(t *testing.T) {
	store := discovery.NewMemoryPatternStore()
	workflow, err := NewWorkflow(store, nil)
	require.NoError(t, err)

	tests := []struct {
		name   string
		status discovery.PatternStatus
	}{
		{"from discovered", discovery.StatusDiscovered},
		{"from reviewed", discovery.StatusReviewed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pattern := seedPattern(t, store, tt.status)

			targetID, err := workflow.PromotePattern(t.Context(), pattern.ID, staticBuilder("entity-1"))
			require.NoError(t, err)
			assert.Equal(t, "entity-1", targetID)

			promoted, err := store.Get(t.Context(), pattern.ID)
			require.NoError(t, err)
			assert.Equal(t, discovery.StatusPromoted, promoted.Status)
			assert.Equal(t, "entity-1", promoted.PromotedReference)
		})
	}
}

func TestPromoteDismissedPattern(t *testing.T) {
	store := discovery.NewMemoryPatternStore()
	workflow, err := NewWorkflow(store, nil)
	require.NoError(t, err)

	pattern := seedPattern(t, store, discovery.StatusDismissed)

	var builderCalled bool
	_, err = workflow.PromotePattern(t.Context(), pattern.ID,
		func(ctx context.Context, p *discovery.Pattern) (string, error) {
			builderCalled = true
			return "entity-1", nil
		})
	assert.ErrorIs(t, err, discovery.ErrInvalidState)
	assert.False(t, builderCalled, "builder must not run for an invalid transition")

	unchanged, err := store.Get(t.Context(), pattern.ID)
	require.NoError(t, err)
	assert.Equal(t, discovery.StatusDismissed, unchanged.Status)
	assert.Empty(t, unchanged.PromotedReference)
}

func TestPromotePatternBuilderFailure(t *testing.T) {
	store := discovery.NewMemoryPatternStore()
	workflow, err := NewWorkflow(store, nil)
	require.NoError(t, err)

	pattern := seedPattern(t, store, discovery.StatusDiscovered)

	_, err = workflow.PromotePattern(t.Context(), pattern.ID,
		func(ctx context.Context, p *discovery.Pattern) (string, error) {
			return "", fmt.Errorf("entity creation failed")
		})
	require.Error(t, err)

	// A builder failure leaves the pattern untouched.
	unchanged, err := store.Get(t.Context(), pattern.ID)
	require.NoError(t, err)
	assert.Equal(t, discovery.StatusDiscovered, unchanged.Status)

	_, err = workflow.PromotePattern(t.Context(), pattern.ID, staticBuilder(""))
	assert.ErrorIs(t, err, discovery.ErrValidation)

	_, err = workflow.PromotePattern(t.Context(), pattern.ID, nil)
	assert.ErrorIs(t, err, discovery.ErrValidation)

	_, err = workflow.PromotePattern(t.Context(), "missing", staticBuilder("entity-1"))
	assert.ErrorIs(t, err, discovery.ErrNotFound)
}

func TestDismissPattern(t *testing.T) {
	store := discovery.NewMemoryPatternStore()
	workflow, err := NewWorkflow(store, nil)
	require.NoError(t, err)

	pattern := seedPattern(t, store, discovery.StatusDiscovered)

	dismissed, err := workflow.DismissPattern(t.Context(), pattern.ID)
	require.NoError(t, err)
	assert.Equal(t, discovery.StatusDismissed, dismissed.Status)

	// Terminal: no further transitions.
	_, err = workflow.DismissPattern(t.Context(), pattern.ID)
	assert.ErrorIs(t, err, discovery.ErrInvalidState)
	_, err = workflow.PromotePattern(t.Context(), pattern.ID, staticBuilder("entity-1"))
	assert.ErrorIs(t, err, discovery.ErrInvalidState)
}

func TestMarkReviewed(t *testing.T) {
	store := discovery.NewMemoryPatternStore()
	workflow, err := NewWorkflow(store, nil)
	require.NoError(t, err)

	pattern := seedPattern(t, store, discovery.StatusDiscovered)

	reviewed, err := workflow.MarkReviewed(t.Context(), pattern.ID)
	require.NoError(t, err)
	assert.Equal(t, discovery.StatusReviewed, reviewed.Status)

	_, err = workflow.MarkReviewed(t.Context(), pattern.ID)
	assert.ErrorIs(t, err, discovery.ErrInvalidState)
}

// failingProvider never returns an embedding; the registry target
// builder only registers precomputed centroids, so it never calls it.
type failingProvider struct{}

func (failingProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("%w: unavailable", embeddings.ErrProviderFailed)
}

func (failingProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, fmt.Errorf("%w: unavailable", embeddings.ErrProviderFailed)
}

func (failingProvider) Dimension() int { return 2 }
func (failingProvider) Model() string  { return "none" }

func TestRegistryTargetBuilder(t *testing.T) {
	registry, err := novelty.NewRegistry(failingProvider{}, nil)
	require.NoError(t, err)

	store := discovery.NewMemoryPatternStore()
	workflow, err := NewWorkflow(store, nil)
	require.NoError(t, err)

	pattern := seedPattern(t, store, discovery.StatusDiscovered)

	targetID, err := workflow.PromotePattern(t.Context(), pattern.ID, RegistryTargetBuilder(registry))
	require.NoError(t, err)
	assert.NotEmpty(t, targetID)
	assert.Equal(t, 1, registry.Len())

	// The promoted centroid now scores as a duplicate of itself.
	score, err := registry.ScoreAgainst(t.Context(), []float32{1, 0})
	require.NoError(t, err)
	assert.Equal(t, targetID, score.NearestApprovedID)
	assert.InDelta(t, 0.0, score.Novelty, 1e-6)
}
