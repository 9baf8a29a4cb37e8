package catalog

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/embeddings"
	"github.com/fyrsmithlabs/insightd/internal/simindex"
)

const (
	// DefaultDedupThreshold is the minimum cosine similarity for a signal
	// to count as evidence for an existing candidate. Empirically chosen;
	// tunable via configuration.
	DefaultDedupThreshold = 0.92

	// dedupSearchK bounds how many nearest candidates are considered when
	// breaking ties among matches above the threshold.
	dedupSearchK = 5
)

// Service owns the find-or-create dedup decision and all candidate
// mutations.
//
// Extraction adapters ingest concurrently into the same scope. The
// critical section is the similarity check plus the create/append in
// Ingest: it is serialized per (scope, candidate type) with a scoped
// lock so two concurrent near-duplicate signals cannot both create a
// candidate.
type Service struct {
	store     Store
	index     simindex.Index
	provider  embeddings.Provider
	threshold float64
	logger    *zap.Logger
	metrics   *Metrics

	mu    sync.Mutex
	locks map[partitionKey]*sync.Mutex
}

type partitionKey struct {
	scope         string
	candidateType string
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithDedupThreshold overrides the default dedup similarity threshold.
func WithDedupThreshold(threshold float64) ServiceOption {
	return func(s *Service) {
		s.threshold = threshold
	}
}

// NewService creates a candidate catalog service.
func NewService(store Store, index simindex.Index, provider embeddings.Provider, logger *zap.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if index == nil {
		return nil, fmt.Errorf("index cannot be nil")
	}
	if provider == nil {
		return nil, fmt.Errorf("embedding provider cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Service{
		store:     store,
		index:     index,
		provider:  provider,
		threshold: DefaultDedupThreshold,
		logger:    logger,
		metrics:   NewMetrics(logger),
		locks:     make(map[partitionKey]*sync.Mutex),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s, nil
}

// partitionLock returns the mutex serializing ingest for a partition.
func (s *Service) partitionLock(scope, candidateType string) *sync.Mutex {
	key := partitionKey{scope: scope, candidateType: candidateType}

	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[key] = lock
	}
	return lock
}

// Ingest matches a signal against existing candidates and either appends
// evidence to the best match or creates a new candidate seeded with the
// signal.
//
// threshold <= 0 selects the service default. When the embedding
// provider fails after retries, ingest degrades to creating an
// embedding-less candidate instead of failing; discovery backfills the
// embedding later.
//
// The returned bool is true when a new candidate was created.
func (s *Service) Ingest(ctx context.Context, signal Signal, scope, candidateType string, threshold float64) (*Candidate, bool, error) {
	if err := signal.Validate(); err != nil {
		return nil, false, err
	}
	if scope == "" {
		return nil, false, fmt.Errorf("%w: scope cannot be empty", ErrValidation)
	}
	if candidateType == "" {
		return nil, false, fmt.Errorf("%w: candidate type cannot be empty", ErrValidation)
	}
	if threshold <= 0 {
		threshold = s.threshold
	}

	// Embedding happens outside the partition lock: it is pure and may
	// block on the provider.
	vector, err := s.provider.EmbedQuery(ctx, signal.Text)
	degraded := false
	if err != nil {
		if errors.Is(err, embeddings.ErrProviderFailed) {
			degraded = true
			vector = nil
			s.logger.Warn("embedding provider unavailable, ingest degraded to create-new",
				zap.String("scope", scope),
				zap.String("source_type", signal.SourceType),
				zap.Error(err))
		} else {
			return nil, false, fmt.Errorf("embedding signal: %w", err)
		}
	}

	lock := s.partitionLock(scope, candidateType)
	lock.Lock()
	defer lock.Unlock()

	if !degraded {
		match, similarity, err := s.bestMatch(ctx, scope, candidateType, vector, threshold)
		if err != nil {
			return nil, false, err
		}
		if match != nil {
			evidence, err := NewEvidence(match.ID, signal)
			if err != nil {
				return nil, false, err
			}
			if _, _, err := s.store.AppendEvidence(ctx, evidence); err != nil {
				return nil, false, fmt.Errorf("appending evidence: %w", err)
			}

			updated, err := s.store.GetCandidate(ctx, match.ID)
			if err != nil {
				return nil, false, fmt.Errorf("reloading candidate: %w", err)
			}

			s.metrics.RecordIngest(ctx, scope, "deduplicated")
			s.logger.Debug("signal deduplicated into existing candidate",
				zap.String("candidate_id", match.ID),
				zap.Float64("similarity", similarity),
				zap.Int("frequency", updated.FrequencyScore))
			return updated, false, nil
		}
	}

	candidate, err := NewCandidate(scope, candidateType, signal.Text)
	if err != nil {
		return nil, false, err
	}
	candidate.Embedding = vector

	evidence, err := NewEvidence(candidate.ID, signal)
	if err != nil {
		return nil, false, err
	}

	if err := s.store.InsertCandidate(ctx, candidate, evidence); err != nil {
		return nil, false, fmt.Errorf("creating candidate: %w", err)
	}

	if !degraded {
		if err := s.index.Add(ctx, scope, candidateType, candidate.ID, vector); err != nil {
			return nil, false, fmt.Errorf("indexing candidate: %w", err)
		}
		s.metrics.RecordIngest(ctx, scope, "created")
	} else {
		s.metrics.RecordIngest(ctx, scope, "degraded")
	}

	s.logger.Info("candidate created",
		zap.String("candidate_id", candidate.ID),
		zap.String("scope", scope),
		zap.String("candidate_type", candidateType),
		zap.Bool("degraded", degraded))

	return candidate, true, nil
}

// bestMatch returns the non-rejected candidate most similar to the
// vector, or nil when nothing reaches the threshold. Ties on similarity
// are broken by the most recently updated candidate.
func (s *Service) bestMatch(ctx context.Context, scope, candidateType string, vector []float32, threshold float64) (*Candidate, float64, error) {
	matches, err := s.index.FindNearest(ctx, scope, candidateType, vector, dedupSearchK)
	if err != nil {
		return nil, 0, fmt.Errorf("similarity lookup: %w", err)
	}

	var best *Candidate
	var bestSimilarity float64
	for _, match := range matches {
		if match.Similarity < threshold {
			break // matches are ordered by descending similarity
		}
		if best != nil && match.Similarity < bestSimilarity {
			break
		}

		candidate, err := s.store.GetCandidate(ctx, match.ID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				// Stale index entry, e.g. a merge loser. Skip.
				continue
			}
			return nil, 0, err
		}
		if candidate.Status == StatusRejected {
			continue
		}

		if best == nil || candidate.UpdatedAt.After(best.UpdatedAt) {
			best = candidate
			bestSimilarity = match.Similarity
		}
	}

	return best, bestSimilarity, nil
}

// AddEvidence attaches evidence to a candidate. Idempotent on exact
// source-reference duplication: the existing record is returned and the
// frequency score does not change.
func (s *Service) AddEvidence(ctx context.Context, candidateID string, signal Signal) (*Evidence, bool, error) {
	if candidateID == "" {
		return nil, false, fmt.Errorf("%w: candidate id cannot be empty", ErrValidation)
	}

	evidence, err := NewEvidence(candidateID, signal)
	if err != nil {
		return nil, false, err
	}

	stored, created, err := s.store.AppendEvidence(ctx, evidence)
	if err != nil {
		return nil, false, err
	}

	if created {
		s.logger.Debug("evidence appended",
			zap.String("candidate_id", candidateID),
			zap.String("source_type", signal.SourceType))
	}
	return stored, created, nil
}

// Merge reassigns all of the loser's evidence to the winner and deletes
// the loser. This is the only operation that destroys a candidate.
func (s *Service) Merge(ctx context.Context, winnerID, loserID string) (*Candidate, error) {
	loser, err := s.store.GetCandidate(ctx, loserID)
	if err != nil {
		return nil, err
	}

	winner, err := s.store.Merge(ctx, winnerID, loserID)
	if err != nil {
		return nil, err
	}

	if err := s.index.Remove(ctx, loser.Scope, loser.CandidateType, loserID); err != nil {
		s.logger.Warn("failed to remove merged candidate from index",
			zap.String("candidate_id", loserID),
			zap.Error(err))
	}

	s.logger.Info("candidates merged",
		zap.String("winner_id", winnerID),
		zap.String("loser_id", loserID),
		zap.Int("frequency", winner.FrequencyScore))

	return winner, nil
}

// Promote marks a candidate as approved, recording the approved-entity
// id it was promoted to. Fails unless the current status is candidate.
func (s *Service) Promote(ctx context.Context, candidateID, targetID string) (*Candidate, error) {
	if targetID == "" {
		return nil, fmt.Errorf("%w: target id cannot be empty", ErrValidation)
	}

	candidate, err := s.store.UpdateStatus(ctx, candidateID, StatusCandidate, StatusApproved, targetID)
	if err != nil {
		return nil, err
	}

	s.logger.Info("candidate promoted",
		zap.String("candidate_id", candidateID),
		zap.String("target_id", targetID))
	return candidate, nil
}

// Reject marks a candidate as rejected (terminal) and drops it from the
// similarity index so it is excluded from future dedup matching and
// clustering input.
func (s *Service) Reject(ctx context.Context, candidateID string) (*Candidate, error) {
	candidate, err := s.store.UpdateStatus(ctx, candidateID, StatusCandidate, StatusRejected, "")
	if err != nil {
		return nil, err
	}

	if err := s.index.Remove(ctx, candidate.Scope, candidate.CandidateType, candidateID); err != nil {
		s.logger.Warn("failed to remove rejected candidate from index",
			zap.String("candidate_id", candidateID),
			zap.Error(err))
	}

	s.logger.Info("candidate rejected", zap.String("candidate_id", candidateID))
	return candidate, nil
}

// Get returns a candidate by id.
func (s *Service) Get(ctx context.Context, candidateID string) (*Candidate, error) {
	return s.store.GetCandidate(ctx, candidateID)
}

// List returns candidates in a scope matching the filter. Order is not
// significant; callers sort as needed.
func (s *Service) List(ctx context.Context, scope string, filter ListFilter) ([]*Candidate, error) {
	if scope == "" {
		return nil, fmt.Errorf("%w: scope cannot be empty", ErrValidation)
	}
	return s.store.ListCandidates(ctx, scope, filter)
}

// ListEvidence returns a candidate's evidence in insertion order.
func (s *Service) ListEvidence(ctx context.Context, candidateID string) ([]*Evidence, error) {
	return s.store.ListEvidence(ctx, candidateID)
}

// Scopes returns every scope with at least one candidate.
func (s *Service) Scopes(ctx context.Context) ([]string, error) {
	return s.store.Scopes(ctx)
}

// SetEmbedding caches a backfilled claim embedding and indexes the
// candidate for dedup matching. Used by discovery when embedding-less
// candidates from degraded ingest are backfilled.
func (s *Service) SetEmbedding(ctx context.Context, candidateID string, vector []float32) error {
	candidate, err := s.store.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}

	if err := s.store.SetEmbedding(ctx, candidateID, vector); err != nil {
		return err
	}

	if candidate.Status != StatusRejected {
		if err := s.index.Add(ctx, candidate.Scope, candidate.CandidateType, candidateID, vector); err != nil {
			return fmt.Errorf("indexing candidate: %w", err)
		}
	}
	return nil
}
