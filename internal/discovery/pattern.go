// Package discovery runs the periodic batch job that turns a scope's
// candidate population into DiscoveredPatterns: it backfills missing
// embeddings, clusters the population, and scores each cluster for
// confidence and novelty.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates the pattern id does not exist.
	ErrNotFound = errors.New("pattern not found")

	// ErrInvalidState indicates a status transition is not allowed from
	// the pattern's current status.
	ErrInvalidState = errors.New("invalid pattern state transition")

	// ErrValidation indicates malformed pattern input.
	ErrValidation = errors.New("pattern validation failed")

	// ErrScopeBusy indicates a discovery run is already in progress for
	// the scope.
	ErrScopeBusy = errors.New("discovery already in progress for scope")
)

// PatternStatus is the review lifecycle state of a pattern.
type PatternStatus string

const (
	StatusDiscovered PatternStatus = "discovered"
	StatusReviewed   PatternStatus = "reviewed"
	StatusPromoted   PatternStatus = "promoted"
	StatusDismissed  PatternStatus = "dismissed"
)

// Pattern is a cluster of candidates representing a recurring theme
// that is not yet an approved entity.
type Pattern struct {
	ID                string
	Scope             string
	CandidateIDs      []string
	CentroidEmbedding []float32
	ClusterRadius     float64
	ConfidenceScore   float64
	NoveltyScore      float64
	NearestApprovedID string
	SourceBreakdown   map[string]int
	Status            PatternStatus
	PromotedReference string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// NewPattern creates a discovered pattern. CandidateIDs are stored
// sorted so member-set comparisons are order-independent.
func NewPattern(scope string, candidateIDs []string) (*Pattern, error) {
	if scope == "" {
		return nil, fmt.Errorf("%w: scope cannot be empty", ErrValidation)
	}
	if len(candidateIDs) == 0 {
		return nil, fmt.Errorf("%w: pattern needs at least one member", ErrValidation)
	}

	members := append([]string(nil), candidateIDs...)
	sort.Strings(members)

	now := time.Now().UTC()
	return &Pattern{
		ID:           uuid.NewString(),
		Scope:        scope,
		CandidateIDs: members,
		Status:       StatusDiscovered,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// PatternStore persists discovered patterns.
type PatternStore interface {
	// Insert stores a new pattern.
	Insert(ctx context.Context, pattern *Pattern) error

	// Get returns a pattern by id.
	Get(ctx context.Context, id string) (*Pattern, error)

	// Update replaces the stored pattern with the same id.
	Update(ctx context.Context, pattern *Pattern) error

	// List returns the scope's patterns, optionally filtered by status.
	// An empty status list means all statuses.
	List(ctx context.Context, scope string, statuses ...PatternStatus) ([]*Pattern, error)

	// UpdateStatus transitions a pattern when its current status is one
	// of the allowed values, returning the updated pattern.
	UpdateStatus(ctx context.Context, id string, allowedFrom []PatternStatus, to PatternStatus, promotedReference string) (*Pattern, error)
}

// MemoryPatternStore is an in-process PatternStore.
type MemoryPatternStore struct {
	mu       sync.RWMutex
	patterns map[string]*Pattern
}

// NewMemoryPatternStore creates an empty in-memory pattern store.
func NewMemoryPatternStore() *MemoryPatternStore {
	return &MemoryPatternStore{patterns: make(map[string]*Pattern)}
}

func (s *MemoryPatternStore) Insert(ctx context.Context, pattern *Pattern) error {
	if pattern == nil || pattern.ID == "" {
		return fmt.Errorf("%w: pattern id cannot be empty", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.patterns[pattern.ID]; exists {
		return fmt.Errorf("%w: duplicate pattern id %s", ErrValidation, pattern.ID)
	}
	s.patterns[pattern.ID] = clonePattern(pattern)
	return nil
}

func (s *MemoryPatternStore) Get(ctx context.Context, id string) (*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pattern, ok := s.patterns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return clonePattern(pattern), nil
}

func (s *MemoryPatternStore) Update(ctx context.Context, pattern *Pattern) error {
	if pattern == nil || pattern.ID == "" {
		return fmt.Errorf("%w: pattern id cannot be empty", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.patterns[pattern.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, pattern.ID)
	}
	updated := clonePattern(pattern)
	updated.UpdatedAt = time.Now().UTC()
	s.patterns[pattern.ID] = updated
	return nil
}

func (s *MemoryPatternStore) List(ctx context.Context, scope string, statuses ...PatternStatus) ([]*Pattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Pattern
	for _, pattern := range s.patterns {
		if pattern.Scope != scope {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, pattern.Status) {
			continue
		}
		result = append(result, clonePattern(pattern))
	}

	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *MemoryPatternStore) UpdateStatus(ctx context.Context, id string, allowedFrom []PatternStatus, to PatternStatus, promotedReference string) (*Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern, ok := s.patterns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !containsStatus(allowedFrom, pattern.Status) {
		return nil, fmt.Errorf("%w: cannot transition pattern %s from %s to %s",
			ErrInvalidState, id, pattern.Status, to)
	}

	pattern.Status = to
	if promotedReference != "" {
		pattern.PromotedReference = promotedReference
	}
	pattern.UpdatedAt = time.Now().UTC()
	return clonePattern(pattern), nil
}

func containsStatus(statuses []PatternStatus, status PatternStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func clonePattern(p *Pattern) *Pattern {
	clone := *p
	clone.CandidateIDs = append([]string(nil), p.CandidateIDs...)
	clone.CentroidEmbedding = append([]float32(nil), p.CentroidEmbedding...)
	if p.SourceBreakdown != nil {
		clone.SourceBreakdown = make(map[string]int, len(p.SourceBreakdown))
		for k, v := range p.SourceBreakdown {
			clone.SourceBreakdown[k] = v
		}
	}
	return &clone
}
