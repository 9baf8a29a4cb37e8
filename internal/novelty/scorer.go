// Package novelty scores cluster centroids against the approved-entity
// embedding set. A high score means the cluster represents a theme the
// approved set does not cover yet.
package novelty

import (
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/insightd/internal/vecmath"
)

var (
	// ErrEmptyCentroid indicates a nil or empty centroid vector.
	ErrEmptyCentroid = errors.New("centroid cannot be empty")
)

// Interpretation band boundaries on similarity to the nearest approved
// entity. Callers use these to classify a score; the scorer itself does
// not enforce them.
const (
	// DuplicateBand: similarity at or above this means the cluster
	// duplicates an approved entity.
	DuplicateBand = 0.85

	// RelatedBand: similarity in [RelatedBand, DuplicateBand) means the
	// cluster is related to an approved entity; below it is novel.
	RelatedBand = 0.70
)

// ApprovedEmbedding is one approved entity's cached vector.
type ApprovedEmbedding struct {
	ID        string
	Embedding []float32
}

// Score is the result of comparing a centroid to the approved set.
type Score struct {
	// Novelty is 1 - max cosine similarity to the approved set, or 1.0
	// when the approved set is empty.
	Novelty float64

	// NearestApprovedID is the approved entity with the highest
	// similarity, empty when the approved set is empty.
	NearestApprovedID string
}

// Bands holds the similarity thresholds used to interpret a score.
type Bands struct {
	// Duplicate is the minimum similarity for the "duplicate" band.
	Duplicate float64

	// Related is the minimum similarity for the "related" band.
	Related float64
}

// DefaultBands returns the standard interpretation thresholds.
func DefaultBands() Bands {
	return Bands{Duplicate: DuplicateBand, Related: RelatedBand}
}

// Classify maps a score onto "duplicate", "related", or "novel" by the
// similarity to the nearest approved entity.
func (b Bands) Classify(s Score) string {
	similarity := 1 - s.Novelty
	switch {
	case s.NearestApprovedID != "" && similarity >= b.Duplicate:
		return "duplicate"
	case s.NearestApprovedID != "" && similarity >= b.Related:
		return "related"
	default:
		return "novel"
	}
}

// Band classifies the score using the default bands.
func (s Score) Band() string {
	return DefaultBands().Classify(s)
}

// ScoreCentroid compares a centroid to the approved set. Pure function:
// the approved set is passed as plain data. Approved entries without an
// embedding are skipped.
func ScoreCentroid(centroid []float32, approved []ApprovedEmbedding) (Score, error) {
	if len(centroid) == 0 {
		return Score{}, fmt.Errorf("scoring centroid: %w", ErrEmptyCentroid)
	}

	best := Score{Novelty: 1.0}
	var found bool
	var bestSimilarity float64

	for _, entry := range approved {
		if len(entry.Embedding) == 0 {
			continue
		}
		similarity := vecmath.CosineSimilarity(centroid, entry.Embedding)
		if !found || similarity > bestSimilarity {
			found = true
			bestSimilarity = similarity
			best.NearestApprovedID = entry.ID
		}
	}

	if found {
		best.Novelty = 1 - bestSimilarity
		if best.Novelty < 0 {
			best.Novelty = 0
		}
		if best.Novelty > 1 {
			best.Novelty = 1
		}
	}
	return best, nil
}
