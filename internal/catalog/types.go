// Package catalog maintains the deduplicated, evidence-backed catalog of
// insight candidates.
//
// Signals flow in from extraction adapters, are matched against existing
// candidates by embedding similarity, and either append evidence to a
// match or seed a new candidate. Candidates accumulate evidence until a
// reviewer promotes or rejects them.
package catalog

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Common errors for catalog operations.
var (
	// ErrNotFound is returned when a candidate or evidence id does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed signals or evidence.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidState is returned for status-transition violations, such
	// as promoting a rejected candidate or merging across candidate types.
	ErrInvalidState = errors.New("invalid state transition")

	// ErrConflict is returned when the persistence layer detects a
	// concurrent find-or-create race. Callers retry the ingest, which
	// then appends evidence to the committed candidate.
	ErrConflict = errors.New("concurrent modification conflict")
)

// Status is the lifecycle state of a candidate.
type Status string

const (
	// StatusCandidate is the initial state: awaiting review.
	StatusCandidate Status = "candidate"

	// StatusApproved is terminal: promoted to an approved entity.
	StatusApproved Status = "approved"

	// StatusRejected is terminal: excluded from dedup matching and
	// clustering input.
	StatusRejected Status = "rejected"
)

// Confidence is the evidence-derived confidence tier of a candidate.
type Confidence string

const (
	ConfidenceLow    Confidence = "LOW"
	ConfidenceMedium Confidence = "MEDIUM"
	ConfidenceHigh   Confidence = "HIGH"
)

// TierThresholds maps evidence counts to confidence tiers. The tier is a
// deterministic, monotonically increasing function of the frequency
// score. The default cut points (2, 5) are empirically chosen and
// tunable via configuration.
type TierThresholds struct {
	// Medium is the minimum evidence count for MEDIUM confidence.
	Medium int

	// High is the minimum evidence count for HIGH confidence.
	High int
}

// DefaultTierThresholds returns the default confidence cut points.
func DefaultTierThresholds() TierThresholds {
	return TierThresholds{Medium: 2, High: 5}
}

// TierFor returns the confidence tier for an evidence count.
func (t TierThresholds) TierFor(frequency int) Confidence {
	switch {
	case t.High > 0 && frequency >= t.High:
		return ConfidenceHigh
	case t.Medium > 0 && frequency >= t.Medium:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// Signal is the atomic unit of input: one normalized text excerpt with
// provenance, produced by an extraction adapter and consumed once.
type Signal struct {
	// Text is the normalized signal text.
	Text string

	// SourceType identifies the originating source (arxiv, github, ...).
	SourceType string

	// EvidenceType classifies how the signal was obtained.
	EvidenceType string

	// Provenance is a stable reference to the source record (URL, id).
	// Re-ingesting the same provenance for the same candidate is
	// idempotent.
	Provenance string

	// EngagementMetric is an optional source-side popularity measure.
	EngagementMetric *float64

	// ExtractorConfidence is the optional confidence the extractor
	// assigned to this signal.
	ExtractorConfidence *float64
}

// Validate checks the signal for required fields.
func (s Signal) Validate() error {
	if s.Text == "" {
		return fmt.Errorf("%w: signal text cannot be empty", ErrValidation)
	}
	if s.SourceType == "" {
		return fmt.Errorf("%w: signal source type cannot be empty", ErrValidation)
	}
	if s.Provenance == "" {
		return fmt.Errorf("%w: signal provenance cannot be empty", ErrValidation)
	}
	return nil
}

// Candidate is a deduplicated, evidence-backed insight awaiting
// promotion.
//
// Invariants maintained by the store:
//   - FrequencyScore equals the count of attached evidence and is
//     non-decreasing except on merge.
//   - Confidence is derived from FrequencyScore via TierThresholds.
type Candidate struct {
	// ID is the unique candidate identifier (UUID).
	ID string `json:"id"`

	// Scope is the partition (e.g. per-product) this candidate belongs
	// to. Dedup and clustering never cross scopes.
	Scope string `json:"scope"`

	// CandidateType classifies the candidate (e.g. insight, persona).
	// Dedup matching is restricted to candidates of the same type.
	CandidateType string `json:"candidate_type"`

	// Name is a short display name derived from the claim text.
	Name string `json:"name"`

	// ClaimText is the full claim this candidate asserts.
	ClaimText string `json:"claim_text"`

	// Status is the lifecycle state.
	Status Status `json:"status"`

	// FrequencyScore is the number of attached evidence records.
	FrequencyScore int `json:"frequency_score"`

	// Confidence is the tier derived from FrequencyScore.
	Confidence Confidence `json:"confidence"`

	// Embedding is the cached embedding of ClaimText. Nil when the
	// provider was unavailable at ingest; discovery backfills it.
	Embedding []float32 `json:"embedding,omitempty"`

	// PromotedReference is the approved-entity id this candidate was
	// promoted to, set on promotion.
	PromotedReference string `json:"promoted_reference,omitempty"`

	// CreatedAt is when the candidate was created.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is when the candidate was last modified.
	UpdatedAt time.Time `json:"updated_at"`
}

// NewCandidate creates a candidate in the initial state.
func NewCandidate(scope, candidateType, claimText string) (*Candidate, error) {
	if scope == "" {
		return nil, fmt.Errorf("%w: scope cannot be empty", ErrValidation)
	}
	if candidateType == "" {
		return nil, fmt.Errorf("%w: candidate type cannot be empty", ErrValidation)
	}
	if claimText == "" {
		return nil, fmt.Errorf("%w: claim text cannot be empty", ErrValidation)
	}

	now := time.Now()
	return &Candidate{
		ID:            uuid.New().String(),
		Scope:         scope,
		CandidateType: candidateType,
		Name:          deriveName(claimText),
		ClaimText:     claimText,
		Status:        StatusCandidate,
		Confidence:    ConfidenceLow,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// deriveName truncates the claim text into a short display name.
func deriveName(claimText string) string {
	const maxNameLen = 80
	runes := []rune(claimText)
	if len(runes) <= maxNameLen {
		return claimText
	}
	return string(runes[:maxNameLen-3]) + "..."
}

// Evidence is one provenance record supporting a candidate. Evidence is
// exclusively owned by one candidate and deleted with it.
type Evidence struct {
	// ID is the unique evidence identifier (UUID).
	ID string `json:"id"`

	// CandidateID is the owning candidate.
	CandidateID string `json:"candidate_id"`

	// EvidenceType classifies how the evidence was obtained.
	EvidenceType string `json:"evidence_type"`

	// SourceType identifies the originating source.
	SourceType string `json:"source_type"`

	// SourceReference is the stable provenance reference. Appending
	// evidence with a duplicate reference to the same candidate is
	// idempotent.
	SourceReference string `json:"source_reference"`

	// RawText is the original signal text.
	RawText string `json:"raw_text"`

	// LLMConfidence is the optional extractor confidence.
	LLMConfidence *float64 `json:"llm_confidence,omitempty"`

	// EngagementScore is the optional source-side engagement metric.
	EngagementScore *float64 `json:"engagement_score,omitempty"`

	// CreatedAt is when the evidence was recorded.
	CreatedAt time.Time `json:"created_at"`
}

// NewEvidence creates an evidence record from a signal.
func NewEvidence(candidateID string, signal Signal) (*Evidence, error) {
	if candidateID == "" {
		return nil, fmt.Errorf("%w: candidate id cannot be empty", ErrValidation)
	}
	if err := signal.Validate(); err != nil {
		return nil, err
	}

	evidenceType := signal.EvidenceType
	if evidenceType == "" {
		evidenceType = "extracted"
	}

	return &Evidence{
		ID:              uuid.New().String(),
		CandidateID:     candidateID,
		EvidenceType:    evidenceType,
		SourceType:      signal.SourceType,
		SourceReference: signal.Provenance,
		RawText:         signal.Text,
		LLMConfidence:   signal.ExtractorConfidence,
		EngagementScore: signal.EngagementMetric,
		CreatedAt:       time.Now(),
	}, nil
}

// ListFilter narrows List results. Zero values match everything.
type ListFilter struct {
	// Status filters by lifecycle state.
	Status Status

	// SourceType keeps candidates with at least one evidence record from
	// this source.
	SourceType string

	// Confidence filters by confidence tier.
	Confidence Confidence

	// MissingEmbedding keeps only candidates without a cached embedding.
	MissingEmbedding bool

	// NonRejected keeps candidates whose status is not rejected.
	NonRejected bool
}
