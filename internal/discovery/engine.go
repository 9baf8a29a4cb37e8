package discovery

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/catalog"
	"github.com/fyrsmithlabs/insightd/internal/clustering"
	"github.com/fyrsmithlabs/insightd/internal/novelty"
)

const (
	// DefaultBatchSize is the embedding backfill batch size.
	DefaultBatchSize = 100

	// DefaultOverlapThreshold is the member-set overlap ratio at which a
	// new cluster replaces (or is suppressed by) an existing pattern.
	DefaultOverlapThreshold = 0.70
)

// CandidateCatalog is the slice of the candidate catalog discovery
// needs: population snapshots, evidence for source breakdowns, and
// embedding backfill.
type CandidateCatalog interface {
	List(ctx context.Context, scope string, filter catalog.ListFilter) ([]*catalog.Candidate, error)
	ListEvidence(ctx context.Context, candidateID string) ([]*catalog.Evidence, error)
	SetEmbedding(ctx context.Context, candidateID string, vector []float32) error
}

// Embedder is the batch embedding surface used for backfill.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds discovery parameters.
type Config struct {
	BatchSize        int
	OverlapThreshold float64
}

// DefaultConfig returns the default discovery parameters.
func DefaultConfig() Config {
	return Config{
		BatchSize:        DefaultBatchSize,
		OverlapThreshold: DefaultOverlapThreshold,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be positive, got %d", c.BatchSize)
	}
	if c.OverlapThreshold <= 0 || c.OverlapThreshold > 1 {
		return fmt.Errorf("overlap threshold must be in (0, 1], got %g", c.OverlapThreshold)
	}
	return nil
}

// Engine orchestrates one discovery run per scope.
type Engine struct {
	catalog   CandidateCatalog
	embedder  Embedder
	clusterer *clustering.Engine
	approved  *novelty.Registry
	patterns  PatternStore
	config    Config
	logger    *zap.Logger
	metrics   *Metrics

	mu         sync.Mutex
	inProgress map[string]bool
}

// NewEngine creates a discovery engine.
func NewEngine(
	candidates CandidateCatalog,
	embedder Embedder,
	clusterer *clustering.Engine,
	approved *novelty.Registry,
	patterns PatternStore,
	config Config,
	logger *zap.Logger,
) (*Engine, error) {
	if candidates == nil {
		return nil, fmt.Errorf("candidate catalog cannot be nil")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder cannot be nil")
	}
	if clusterer == nil {
		return nil, fmt.Errorf("clustering engine cannot be nil")
	}
	if approved == nil {
		return nil, fmt.Errorf("approved registry cannot be nil")
	}
	if patterns == nil {
		return nil, fmt.Errorf("pattern store cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discovery config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		catalog:    candidates,
		embedder:   embedder,
		clusterer:  clusterer,
		approved:   approved,
		patterns:   patterns,
		config:     config,
		logger:     logger,
		metrics:    NewMetrics(logger),
		inProgress: make(map[string]bool),
	}, nil
}

// Discover runs one discovery pass for a scope: backfills missing
// embeddings, clusters the non-rejected population, scores each cluster,
// and persists one pattern per cluster. Re-running with no new
// candidates is idempotent: existing patterns are updated in place, not
// duplicated. Overlapping triggers for the same scope are rejected with
// ErrScopeBusy.
func (e *Engine) Discover(ctx context.Context, scope string) ([]*Pattern, error) {
	if scope == "" {
		return nil, fmt.Errorf("%w: scope cannot be empty", ErrValidation)
	}

	if !e.acquire(scope) {
		return nil, fmt.Errorf("%w: %s", ErrScopeBusy, scope)
	}
	defer e.release(scope)

	if err := e.backfillEmbeddings(ctx, scope); err != nil {
		return nil, err
	}

	population, err := e.catalog.List(ctx, scope, catalog.ListFilter{NonRejected: true})
	if err != nil {
		return nil, fmt.Errorf("loading population: %w", err)
	}

	points := make([]clustering.Point, 0, len(population))
	byID := make(map[string]*catalog.Candidate, len(population))
	for _, candidate := range population {
		byID[candidate.ID] = candidate
		if len(candidate.Embedding) == 0 {
			continue
		}
		points = append(points, clustering.Point{ID: candidate.ID, Embedding: candidate.Embedding})
	}

	clusters := e.clusterer.DiscoverClusters(points)
	if len(clusters) == 0 {
		e.logger.Debug("no clusters discovered",
			zap.String("scope", scope),
			zap.Int("population", len(points)))
		return nil, nil
	}

	existing, err := e.patterns.List(ctx, scope, StatusDiscovered, StatusReviewed, StatusDismissed)
	if err != nil {
		return nil, fmt.Errorf("loading existing patterns: %w", err)
	}

	var results []*Pattern
	for _, cluster := range clusters {
		pattern, err := e.persistCluster(ctx, scope, cluster, byID, existing)
		if err != nil {
			return nil, err
		}
		if pattern != nil {
			results = append(results, pattern)
		}
	}

	e.metrics.RecordRun(ctx, scope, len(results))
	e.logger.Info("discovery run complete",
		zap.String("scope", scope),
		zap.Int("population", len(points)),
		zap.Int("clusters", len(clusters)),
		zap.Int("patterns", len(results)))
	return results, nil
}

func (e *Engine) acquire(scope string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inProgress[scope] {
		return false
	}
	e.inProgress[scope] = true
	return true
}

func (e *Engine) release(scope string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inProgress, scope)
}

// backfillEmbeddings embeds every non-rejected candidate lacking a
// cached vector. Progress is incremental per candidate: a failed batch
// is logged and skipped without discarding embeddings already persisted
// from earlier batches.
func (e *Engine) backfillEmbeddings(ctx context.Context, scope string) error {
	missing, err := e.catalog.List(ctx, scope, catalog.ListFilter{
		NonRejected:      true,
		MissingEmbedding: true,
	})
	if err != nil {
		return fmt.Errorf("listing candidates for backfill: %w", err)
	}
	if len(missing) == 0 {
		return nil
	}

	var backfilled int
	for start := 0; start < len(missing); start += e.config.BatchSize {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		end := start + e.config.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		texts := make([]string, len(batch))
		for i, candidate := range batch {
			texts[i] = candidate.ClaimText
		}

		vectors, err := e.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			e.logger.Warn("embedding backfill batch failed, skipping",
				zap.String("scope", scope),
				zap.Int("batch_start", start),
				zap.Int("batch_size", len(batch)),
				zap.Error(err))
			continue
		}

		for i, candidate := range batch {
			if err := e.catalog.SetEmbedding(ctx, candidate.ID, vectors[i]); err != nil {
				e.logger.Warn("persisting backfilled embedding failed",
					zap.String("candidate_id", candidate.ID),
					zap.Error(err))
				continue
			}
			backfilled++
		}
	}

	if backfilled > 0 {
		e.metrics.RecordBackfill(ctx, scope, backfilled)
		e.logger.Info("embedding backfill complete",
			zap.String("scope", scope),
			zap.Int("backfilled", backfilled),
			zap.Int("missing", len(missing)))
	}
	return nil
}

// persistCluster scores one cluster and persists it. Returns nil when
// the cluster is suppressed by an overlapping dismissed pattern.
func (e *Engine) persistCluster(ctx context.Context, scope string, cluster clustering.Cluster, byID map[string]*catalog.Candidate, existing []*Pattern) (*Pattern, error) {
	embeddings := make([][]float32, 0, len(cluster.MemberIDs))
	for _, id := range cluster.MemberIDs {
		if candidate, ok := byID[id]; ok {
			embeddings = append(embeddings, candidate.Embedding)
		}
	}
	confidence := confidenceScore(len(cluster.MemberIDs), clustering.AvgPairwiseSimilarity(embeddings))

	score, err := e.approved.ScoreAgainst(ctx, cluster.Centroid)
	if err != nil {
		return nil, fmt.Errorf("scoring cluster novelty: %w", err)
	}

	breakdown, err := e.sourceBreakdown(ctx, cluster.MemberIDs)
	if err != nil {
		return nil, err
	}

	match := bestOverlap(cluster.MemberIDs, existing, e.config.OverlapThreshold)
	if match != nil && match.Status == StatusDismissed {
		e.logger.Debug("cluster suppressed by dismissed pattern",
			zap.String("scope", scope),
			zap.String("pattern_id", match.ID),
			zap.Int("members", len(cluster.MemberIDs)))
		return nil, nil
	}

	if match != nil {
		match.CandidateIDs = cluster.MemberIDs
		match.CentroidEmbedding = cluster.Centroid
		match.ClusterRadius = cluster.Radius
		match.ConfidenceScore = confidence
		match.NoveltyScore = score.Novelty
		match.NearestApprovedID = score.NearestApprovedID
		match.SourceBreakdown = breakdown
		if err := e.patterns.Update(ctx, match); err != nil {
			return nil, fmt.Errorf("updating pattern: %w", err)
		}
		return match, nil
	}

	pattern, err := NewPattern(scope, cluster.MemberIDs)
	if err != nil {
		return nil, err
	}
	pattern.CentroidEmbedding = cluster.Centroid
	pattern.ClusterRadius = cluster.Radius
	pattern.ConfidenceScore = confidence
	pattern.NoveltyScore = score.Novelty
	pattern.NearestApprovedID = score.NearestApprovedID
	pattern.SourceBreakdown = breakdown

	if err := e.patterns.Insert(ctx, pattern); err != nil {
		return nil, fmt.Errorf("inserting pattern: %w", err)
	}
	return pattern, nil
}

// sourceBreakdown counts evidence records by source type across members.
func (e *Engine) sourceBreakdown(ctx context.Context, memberIDs []string) (map[string]int, error) {
	breakdown := make(map[string]int)
	for _, id := range memberIDs {
		evidence, err := e.catalog.ListEvidence(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("listing evidence for %s: %w", id, err)
		}
		for _, ev := range evidence {
			breakdown[ev.SourceType]++
		}
	}
	return breakdown, nil
}

// confidenceScore is monotonically increasing in member count and in
// average pairwise similarity, bounded in (0, 1).
func confidenceScore(memberCount int, avgSimilarity float64) float64 {
	if avgSimilarity < 0 {
		avgSimilarity = 0
	}
	if avgSimilarity > 1 {
		avgSimilarity = 1
	}
	sizeScore := float64(memberCount) / float64(memberCount+4)
	return sizeScore * (0.5 + 0.5*avgSimilarity)
}

// bestOverlap returns the existing pattern with the highest member-set
// overlap at or above the threshold, or nil. Overlap is the Jaccard
// ratio of the two member sets.
func bestOverlap(memberIDs []string, existing []*Pattern, threshold float64) *Pattern {
	var best *Pattern
	var bestRatio float64

	for _, pattern := range existing {
		ratio := overlapRatio(memberIDs, pattern.CandidateIDs)
		if ratio >= threshold && ratio > bestRatio {
			best = pattern
			bestRatio = ratio
		}
	}
	return best
}

func overlapRatio(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}

	var intersection int
	for _, id := range b {
		if _, ok := set[id]; ok {
			intersection++
		}
	}

	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
