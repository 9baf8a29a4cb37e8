// Package promotion moves discovered patterns through review: promoting
// them into approved entities or dismissing them.
package promotion

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/discovery"
	"github.com/fyrsmithlabs/insightd/internal/novelty"
)

// TargetBuilder produces a new approved-entity id for a promoted
// pattern. The callback is external to the workflow and treated as
// opaque; it typically creates the entity elsewhere in the system.
type TargetBuilder func(ctx context.Context, pattern *discovery.Pattern) (string, error)

// Workflow owns pattern status transitions.
type Workflow struct {
	patterns discovery.PatternStore
	logger   *zap.Logger
}

// NewWorkflow creates a promotion workflow.
func NewWorkflow(patterns discovery.PatternStore, logger *zap.Logger) (*Workflow, error) {
	if patterns == nil {
		return nil, fmt.Errorf("pattern store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{patterns: patterns, logger: logger}, nil
}

// promotable are the statuses a pattern may be promoted or dismissed
// from.
var promotable = []discovery.PatternStatus{
	discovery.StatusDiscovered,
	discovery.StatusReviewed,
}

// PromotePattern invokes the target builder and marks the pattern
// promoted, returning the new approved-entity id. Fails with
// ErrInvalidState unless the pattern is discovered or reviewed.
//
// Promoting a pattern does not change its member candidates' status;
// members stay candidates unless separately promoted or rejected.
func (w *Workflow) PromotePattern(ctx context.Context, patternID string, builder TargetBuilder) (string, error) {
	if builder == nil {
		return "", fmt.Errorf("%w: target builder cannot be nil", discovery.ErrValidation)
	}

	pattern, err := w.patterns.Get(ctx, patternID)
	if err != nil {
		return "", err
	}
	if !isPromotable(pattern.Status) {
		return "", fmt.Errorf("%w: cannot promote pattern %s from %s",
			discovery.ErrInvalidState, patternID, pattern.Status)
	}

	targetID, err := builder(ctx, pattern)
	if err != nil {
		return "", fmt.Errorf("building promotion target: %w", err)
	}
	if targetID == "" {
		return "", fmt.Errorf("%w: target builder returned an empty id", discovery.ErrValidation)
	}

	if _, err := w.patterns.UpdateStatus(ctx, patternID, promotable, discovery.StatusPromoted, targetID); err != nil {
		return "", err
	}

	w.logger.Info("pattern promoted",
		zap.String("pattern_id", patternID),
		zap.String("target_id", targetID),
		zap.Int("members", len(pattern.CandidateIDs)))
	return targetID, nil
}

// DismissPattern marks a pattern dismissed. Terminal: dismissed
// patterns leave active review lists but still suppress re-discovery of
// the same member set.
func (w *Workflow) DismissPattern(ctx context.Context, patternID string) (*discovery.Pattern, error) {
	pattern, err := w.patterns.UpdateStatus(ctx, patternID, promotable, discovery.StatusDismissed, "")
	if err != nil {
		return nil, err
	}

	w.logger.Info("pattern dismissed", zap.String("pattern_id", patternID))
	return pattern, nil
}

// MarkReviewed records that a reviewer looked at a discovered pattern
// without deciding yet.
func (w *Workflow) MarkReviewed(ctx context.Context, patternID string) (*discovery.Pattern, error) {
	pattern, err := w.patterns.UpdateStatus(ctx, patternID,
		[]discovery.PatternStatus{discovery.StatusDiscovered}, discovery.StatusReviewed, "")
	if err != nil {
		return nil, err
	}

	w.logger.Info("pattern marked reviewed", zap.String("pattern_id", patternID))
	return pattern, nil
}

func isPromotable(status discovery.PatternStatus) bool {
	for _, s := range promotable {
		if s == status {
			return true
		}
	}
	return false
}

// RegistryTargetBuilder returns the default target builder: it mints an
// approved-entity id and registers the pattern's centroid with the
// novelty registry so subsequent discovery runs score against it.
func RegistryTargetBuilder(registry *novelty.Registry) TargetBuilder {
	return func(ctx context.Context, pattern *discovery.Pattern) (string, error) {
		targetID := uuid.NewString()
		if err := registry.Add(targetID, "", pattern.CentroidEmbedding); err != nil {
			return "", fmt.Errorf("registering approved entity: %w", err)
		}
		return targetID, nil
	}
}
