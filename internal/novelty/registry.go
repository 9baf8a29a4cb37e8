package novelty

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/embeddings"
)

var (
	// ErrDuplicateEntity indicates an approved entity id already exists.
	ErrDuplicateEntity = errors.New("approved entity already exists")
)

// Entity is one approved entity tracked by the registry.
type Entity struct {
	ID        string
	Text      string
	Embedding []float32
}

// Registry holds the approved-entity set for novelty scoring.
// Embeddings are computed lazily on first snapshot for entities added
// without a vector and cached afterward. Safe for concurrent use.
type Registry struct {
	provider embeddings.Provider
	logger   *zap.Logger

	mu       sync.Mutex
	entities map[string]*Entity
}

// NewRegistry creates an approved-entity registry.
func NewRegistry(provider embeddings.Provider, logger *zap.Logger) (*Registry, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		provider: provider,
		logger:   logger,
		entities: make(map[string]*Entity),
	}, nil
}

// Add registers an approved entity. embedding may be nil; it is computed
// lazily on the next snapshot.
func (r *Registry) Add(id, text string, embedding []float32) error {
	if id == "" {
		return fmt.Errorf("approved entity id cannot be empty")
	}
	if text == "" && len(embedding) == 0 {
		return fmt.Errorf("approved entity %q needs text or an embedding", id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entities[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntity, id)
	}
	r.entities[id] = &Entity{ID: id, Text: text, Embedding: embedding}
	return nil
}

// Len returns the number of approved entities.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entities)
}

// Snapshot returns the approved set with embeddings, computing and
// caching any that are missing. Entities whose embedding cannot be
// computed are skipped with a warning rather than failing the snapshot.
func (r *Registry) Snapshot(ctx context.Context) ([]ApprovedEmbedding, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]ApprovedEmbedding, 0, len(r.entities))
	for _, entity := range r.entities {
		if len(entity.Embedding) == 0 {
			vector, err := r.provider.EmbedQuery(ctx, entity.Text)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				r.logger.Warn("skipping approved entity without embedding",
					zap.String("entity_id", entity.ID),
					zap.Error(err))
				continue
			}
			entity.Embedding = vector
		}
		snapshot = append(snapshot, ApprovedEmbedding{ID: entity.ID, Embedding: entity.Embedding})
	}

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].ID < snapshot[j].ID })
	return snapshot, nil
}

// ScoreAgainst scores a centroid against the current approved set.
func (r *Registry) ScoreAgainst(ctx context.Context, centroid []float32) (Score, error) {
	approved, err := r.Snapshot(ctx)
	if err != nil {
		return Score{}, err
	}
	return ScoreCentroid(centroid, approved)
}
