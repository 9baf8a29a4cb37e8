package catalog

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store is the persistence seam for candidates and evidence.
//
// The mutation methods are atomic: frequency and confidence updates
// happen inside the store's critical section, never as a caller-side
// read-modify-write. MemoryStore is the reference implementation; a
// database-backed store would satisfy the same contract with a
// uniqueness constraint plus transactions.
type Store interface {
	// InsertCandidate persists a new candidate with its first evidence
	// record. Returns ErrConflict if the candidate id already exists.
	InsertCandidate(ctx context.Context, candidate *Candidate, first *Evidence) error

	// GetCandidate returns a candidate by id.
	GetCandidate(ctx context.Context, id string) (*Candidate, error)

	// ListCandidates returns candidates in a scope matching the filter.
	// Order is not significant.
	ListCandidates(ctx context.Context, scope string, filter ListFilter) ([]*Candidate, error)

	// AppendEvidence attaches evidence to its candidate, incrementing the
	// frequency score and recomputing the confidence tier atomically.
	// Idempotent on (candidate, source reference): a duplicate returns
	// the existing evidence with created=false and no increment.
	AppendEvidence(ctx context.Context, evidence *Evidence) (*Evidence, bool, error)

	// ListEvidence returns a candidate's evidence in insertion order.
	ListEvidence(ctx context.Context, candidateID string) ([]*Evidence, error)

	// Merge reassigns all of the loser's evidence to the winner, sets the
	// winner's frequency to the sum, and deletes the loser. Fails with
	// ErrInvalidState when candidate types differ.
	Merge(ctx context.Context, winnerID, loserID string) (*Candidate, error)

	// UpdateStatus transitions a candidate from the expected status to a
	// new one, failing with ErrInvalidState on a mismatch.
	UpdateStatus(ctx context.Context, id string, from, to Status, promotedRef string) (*Candidate, error)

	// SetEmbedding caches the candidate's claim embedding.
	SetEmbedding(ctx context.Context, id string, vector []float32) error

	// Scopes returns every scope with at least one candidate, sorted.
	Scopes(ctx context.Context) ([]string, error)
}

// MemoryStore is the in-memory arena implementation of Store.
//
// Candidates and evidence live in id-keyed tables with evidence holding
// a foreign key to exactly one candidate, so merge reduces to a bulk
// foreign-key rewrite plus delete.
type MemoryStore struct {
	tiers TierThresholds

	mu          sync.RWMutex
	candidates  map[string]*Candidate
	evidence    map[string]*Evidence
	byCandidate map[string][]string // candidate id -> evidence ids, insertion order
}

// NewMemoryStore creates an empty in-memory store with the given
// confidence tier thresholds.
func NewMemoryStore(tiers TierThresholds) *MemoryStore {
	return &MemoryStore{
		tiers:       tiers,
		candidates:  make(map[string]*Candidate),
		evidence:    make(map[string]*Evidence),
		byCandidate: make(map[string][]string),
	}
}

// InsertCandidate persists a new candidate with its first evidence.
func (s *MemoryStore) InsertCandidate(ctx context.Context, candidate *Candidate, first *Evidence) error {
	if candidate == nil || first == nil {
		return fmt.Errorf("%w: candidate and first evidence are required", ErrValidation)
	}
	if first.CandidateID != candidate.ID {
		return fmt.Errorf("%w: evidence does not reference the candidate", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidates[candidate.ID]; exists {
		return fmt.Errorf("%w: candidate %s already exists", ErrConflict, candidate.ID)
	}

	stored := cloneCandidate(candidate)
	stored.FrequencyScore = 1
	stored.Confidence = s.tiers.TierFor(1)

	s.candidates[stored.ID] = stored
	s.evidence[first.ID] = cloneEvidence(first)
	s.byCandidate[stored.ID] = []string{first.ID}

	candidate.FrequencyScore = stored.FrequencyScore
	candidate.Confidence = stored.Confidence
	return nil
}

// GetCandidate returns a copy of the candidate.
func (s *MemoryStore) GetCandidate(ctx context.Context, id string) (*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidate, ok := s.candidates[id]
	if !ok {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	return cloneCandidate(candidate), nil
}

// ListCandidates returns candidates in a scope matching the filter.
func (s *MemoryStore) ListCandidates(ctx context.Context, scope string, filter ListFilter) ([]*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*Candidate
	for _, candidate := range s.candidates {
		if candidate.Scope != scope {
			continue
		}
		if filter.Status != "" && candidate.Status != filter.Status {
			continue
		}
		if filter.NonRejected && candidate.Status == StatusRejected {
			continue
		}
		if filter.Confidence != "" && candidate.Confidence != filter.Confidence {
			continue
		}
		if filter.MissingEmbedding && len(candidate.Embedding) > 0 {
			continue
		}
		if filter.SourceType != "" && !s.hasSourceLocked(candidate.ID, filter.SourceType) {
			continue
		}
		result = append(result, cloneCandidate(candidate))
	}
	return result, nil
}

// Scopes returns every scope with at least one candidate, sorted.
func (s *MemoryStore) Scopes(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, candidate := range s.candidates {
		seen[candidate.Scope] = struct{}{}
	}

	scopes := make([]string, 0, len(seen))
	for scope := range seen {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes, nil
}

// hasSourceLocked reports whether a candidate has evidence from the
// given source type. Callers must hold at least a read lock.
func (s *MemoryStore) hasSourceLocked(candidateID, sourceType string) bool {
	for _, evidenceID := range s.byCandidate[candidateID] {
		if ev, ok := s.evidence[evidenceID]; ok && ev.SourceType == sourceType {
			return true
		}
	}
	return false
}

// AppendEvidence attaches evidence to its candidate.
func (s *MemoryStore) AppendEvidence(ctx context.Context, evidence *Evidence) (*Evidence, bool, error) {
	if evidence == nil || evidence.CandidateID == "" {
		return nil, false, fmt.Errorf("%w: evidence with candidate id is required", ErrValidation)
	}
	if evidence.SourceReference == "" {
		return nil, false, fmt.Errorf("%w: evidence source reference cannot be empty", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidate, ok := s.candidates[evidence.CandidateID]
	if !ok {
		return nil, false, fmt.Errorf("%w: candidate %s", ErrNotFound, evidence.CandidateID)
	}

	// Idempotency: exact source-reference duplication returns the
	// existing evidence without incrementing frequency.
	for _, evidenceID := range s.byCandidate[candidate.ID] {
		if existing := s.evidence[evidenceID]; existing.SourceReference == evidence.SourceReference {
			return cloneEvidence(existing), false, nil
		}
	}

	stored := cloneEvidence(evidence)
	s.evidence[stored.ID] = stored
	s.byCandidate[candidate.ID] = append(s.byCandidate[candidate.ID], stored.ID)

	candidate.FrequencyScore = len(s.byCandidate[candidate.ID])
	candidate.Confidence = s.tiers.TierFor(candidate.FrequencyScore)
	candidate.UpdatedAt = time.Now()

	return cloneEvidence(stored), true, nil
}

// ListEvidence returns a candidate's evidence in insertion order.
func (s *MemoryStore) ListEvidence(ctx context.Context, candidateID string) ([]*Evidence, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.candidates[candidateID]; !ok {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, candidateID)
	}

	ids := s.byCandidate[candidateID]
	result := make([]*Evidence, 0, len(ids))
	for _, id := range ids {
		result = append(result, cloneEvidence(s.evidence[id]))
	}
	return result, nil
}

// Merge reassigns the loser's evidence to the winner and deletes the
// loser.
func (s *MemoryStore) Merge(ctx context.Context, winnerID, loserID string) (*Candidate, error) {
	if winnerID == loserID {
		return nil, fmt.Errorf("%w: cannot merge a candidate into itself", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	winner, ok := s.candidates[winnerID]
	if !ok {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, winnerID)
	}
	loser, ok := s.candidates[loserID]
	if !ok {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, loserID)
	}
	if winner.CandidateType != loser.CandidateType {
		return nil, fmt.Errorf("%w: cannot merge %s candidate into %s candidate",
			ErrInvalidState, loser.CandidateType, winner.CandidateType)
	}

	// Bulk foreign-key rewrite.
	for _, evidenceID := range s.byCandidate[loserID] {
		s.evidence[evidenceID].CandidateID = winnerID
	}
	s.byCandidate[winnerID] = append(s.byCandidate[winnerID], s.byCandidate[loserID]...)
	delete(s.byCandidate, loserID)
	delete(s.candidates, loserID)

	winner.FrequencyScore = len(s.byCandidate[winnerID])
	winner.Confidence = s.tiers.TierFor(winner.FrequencyScore)
	winner.UpdatedAt = time.Now()

	return cloneCandidate(winner), nil
}

// UpdateStatus transitions a candidate between lifecycle states.
func (s *MemoryStore) UpdateStatus(ctx context.Context, id string, from, to Status, promotedRef string) (*Candidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidate, ok := s.candidates[id]
	if !ok {
		return nil, fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}
	if candidate.Status != from {
		return nil, fmt.Errorf("%w: candidate %s is %s, expected %s",
			ErrInvalidState, id, candidate.Status, from)
	}

	candidate.Status = to
	if promotedRef != "" {
		candidate.PromotedReference = promotedRef
	}
	candidate.UpdatedAt = time.Now()

	return cloneCandidate(candidate), nil
}

// SetEmbedding caches the candidate's claim embedding. Filling the
// embedding cache is not a content mutation, so UpdatedAt is untouched.
func (s *MemoryStore) SetEmbedding(ctx context.Context, id string, vector []float32) error {
	if len(vector) == 0 {
		return fmt.Errorf("%w: embedding vector cannot be empty", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidate, ok := s.candidates[id]
	if !ok {
		return fmt.Errorf("%w: candidate %s", ErrNotFound, id)
	}

	candidate.Embedding = append([]float32(nil), vector...)
	return nil
}

func cloneCandidate(c *Candidate) *Candidate {
	clone := *c
	if c.Embedding != nil {
		clone.Embedding = append([]float32(nil), c.Embedding...)
	}
	return &clone
}

func cloneEvidence(e *Evidence) *Evidence {
	clone := *e
	if e.LLMConfidence != nil {
		v := *e.LLMConfidence
		clone.LLMConfidence = &v
	}
	if e.EngagementScore != nil {
		v := *e.EngagementScore
		clone.EngagementScore = &v
	}
	return &clone
}
