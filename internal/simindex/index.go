// Package simindex provides nearest-candidate lookup by cosine
// similarity, partitioned by (scope, candidate type).
//
// Two backends implement the Index interface: an in-memory linear scan
// (the default; exact, and fast enough for per-scope populations in the
// low thousands) and an embedded chromem-go store for persistence across
// restarts.
package simindex

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/insightd/internal/vecmath"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyVector indicates a nil or empty embedding.
	ErrEmptyVector = errors.New("embedding vector cannot be empty")

	// ErrEmptyID indicates a missing entry id.
	ErrEmptyID = errors.New("entry id cannot be empty")
)

// Match is a nearest-neighbor result.
type Match struct {
	// ID is the candidate id.
	ID string

	// Similarity is the cosine similarity to the query vector.
	Similarity float64
}

// Index is the interface for similarity lookup within a partition.
//
// Partitions are keyed by (scope, candidate type); lookups never cross
// partitions. Insertion is incremental: no rebuild is required.
type Index interface {
	// Add inserts or replaces an entry in the partition.
	Add(ctx context.Context, scope, candidateType, id string, vector []float32) error

	// Remove deletes an entry from the partition. Removing an unknown id
	// is a no-op.
	Remove(ctx context.Context, scope, candidateType, id string) error

	// FindNearest returns up to k entries ordered by descending
	// similarity to the query vector. Ties are broken by id so results
	// are deterministic.
	FindNearest(ctx context.Context, scope, candidateType string, vector []float32, k int) ([]Match, error)

	// Close releases backend resources.
	Close() error
}

type partitionKey struct {
	scope         string
	candidateType string
}

// LinearIndex is an in-memory exact-similarity index using linear scan.
type LinearIndex struct {
	mu         sync.RWMutex
	partitions map[partitionKey]map[string][]float32
}

// NewLinearIndex creates an empty in-memory index.
func NewLinearIndex() *LinearIndex {
	return &LinearIndex{
		partitions: make(map[partitionKey]map[string][]float32),
	}
}

// Add inserts or replaces an entry.
func (idx *LinearIndex) Add(ctx context.Context, scope, candidateType, id string, vector []float32) error {
	if id == "" {
		return ErrEmptyID
	}
	if len(vector) == 0 {
		return ErrEmptyVector
	}

	key := partitionKey{scope: scope, candidateType: candidateType}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	partition, ok := idx.partitions[key]
	if !ok {
		partition = make(map[string][]float32)
		idx.partitions[key] = partition
	}
	partition[id] = vector
	return nil
}

// Remove deletes an entry.
func (idx *LinearIndex) Remove(ctx context.Context, scope, candidateType, id string) error {
	key := partitionKey{scope: scope, candidateType: candidateType}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	if partition, ok := idx.partitions[key]; ok {
		delete(partition, id)
	}
	return nil
}

// FindNearest scans the partition and returns the k most similar entries.
func (idx *LinearIndex) FindNearest(ctx context.Context, scope, candidateType string, vector []float32, k int) ([]Match, error) {
	if len(vector) == 0 {
		return nil, ErrEmptyVector
	}
	if k <= 0 {
		return []Match{}, nil
	}

	key := partitionKey{scope: scope, candidateType: candidateType}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	partition := idx.partitions[key]
	matches := make([]Match, 0, len(partition))
	for id, entry := range partition {
		matches = append(matches, Match{
			ID:         id,
			Similarity: vecmath.CosineSimilarity(vector, entry),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].ID < matches[j].ID
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Close is a no-op for the in-memory index.
func (idx *LinearIndex) Close() error {
	return nil
}
