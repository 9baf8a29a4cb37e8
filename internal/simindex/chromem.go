package simindex

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ChromemConfig holds configuration for the chromem-go backed index.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means
	// in-memory only.
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool
}

// ChromemIndex implements Index on top of chromem-go, an embeddable
// pure-Go vector database with gob-file persistence. One chromem
// collection is kept per (scope, candidate type) partition. All
// embeddings are precomputed by the caller; the collection's embedding
// func is never used.
type ChromemIndex struct {
	db     *chromem.DB
	logger *zap.Logger
}

// NewChromemIndex creates a chromem-backed index.
func NewChromemIndex(cfg ChromemConfig, logger *zap.Logger) (*ChromemIndex, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	var err error
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("opening chromem db at %s: %w", cfg.Path, err)
		}
	}

	return &ChromemIndex{db: db, logger: logger}, nil
}

// rejectEmbeddingFunc guards against accidental text-embedding calls:
// every document added to the index carries a precomputed vector.
func rejectEmbeddingFunc(ctx context.Context, text string) ([]float32, error) {
	return nil, errors.New("index stores precomputed embeddings only")
}

// collectionName builds a chromem collection name for a partition.
func collectionName(scope, candidateType string) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			default:
				return '_'
			}
		}, s)
	}
	return fmt.Sprintf("%s__%s", sanitize(scope), sanitize(candidateType))
}

func (idx *ChromemIndex) collection(scope, candidateType string) (*chromem.Collection, error) {
	name := collectionName(scope, candidateType)
	col, err := idx.db.GetOrCreateCollection(name, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("getting collection %s: %w", name, err)
	}
	return col, nil
}

// Add inserts or replaces an entry in the partition's collection.
func (idx *ChromemIndex) Add(ctx context.Context, scope, candidateType, id string, vector []float32) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	col, err := idx.collection(scope, candidateType)
	if err != nil {
		return err
	}

	if err := col.AddDocument(ctx, chromem.Document{
		ID:        id,
		Embedding: vector,
		// chromem requires non-empty content; the id is enough since
		// candidate text lives in the catalog.
		Content: id,
	}); err != nil {
		return fmt.Errorf("adding document %s: %w", id, err)
	}
	return nil
}

// Remove deletes an entry from the partition's collection.
func (idx *ChromemIndex) Remove(ctx context.Context, scope, candidateType, id string) error {
	col, err := idx.collection(scope, candidateType)
	if err != nil {
		return err
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	return nil
}

// FindNearest queries the partition's collection by embedding.
func (idx *ChromemIndex) FindNearest(ctx context.Context, scope, candidateType string, vector []float32, k int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if k <= 0 {
		return []Match{}, nil
	}

	col, err := idx.collection(scope, candidateType)
	if err != nil {
		return nil, err
	}

	// chromem rejects queries asking for more results than stored docs.
	count := col.Count()
	if count == 0 {
		return []Match{}, nil
	}
	if k > count {
		k = count
	}

	results, err := col.QueryEmbedding(ctx, vector, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	matches := make([]Match, 0, len(results))
	for _, result := range results {
		matches = append(matches, Match{
			ID:         result.ID,
			Similarity: float64(result.Similarity),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})

	return matches, nil
}

// Close is a no-op: chromem persists writes as they happen.
func (idx *ChromemIndex) Close() error {
	return nil
}
