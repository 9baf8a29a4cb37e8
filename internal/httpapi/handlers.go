package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/catalog"
	"github.com/fyrsmithlabs/insightd/internal/discovery"
	"github.com/fyrsmithlabs/insightd/internal/novelty"
)

// IngestRequest is the request body for POST /api/v1/signals. Each item
// carries a source-specific payload normalized by the matching adapter.
type IngestRequest struct {
	Scope         string       `json:"scope"`
	CandidateType string       `json:"candidate_type"`
	Threshold     float64      `json:"threshold,omitempty"`
	Signals       []IngestItem `json:"signals"`
}

// IngestItem is one raw signal in an ingest batch.
type IngestItem struct {
	SourceType string          `json:"source_type"`
	Payload    json.RawMessage `json:"payload"`
}

// IngestResult reports the outcome for one batch item. Malformed items
// are skipped with an error message; they never fail the batch.
type IngestResult struct {
	CandidateID string `json:"candidate_id,omitempty"`
	Created     bool   `json:"created,omitempty"`
	Error       string `json:"error,omitempty"`
}

// IngestResponse is the response body for POST /api/v1/signals.
type IngestResponse struct {
	Results []IngestResult `json:"results"`
}

func (s *Server) handleIngestSignals(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if req.Scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope field is required")
	}
	if req.CandidateType == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "candidate_type field is required")
	}
	if len(req.Signals) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "signals field is required")
	}

	results := make([]IngestResult, 0, len(req.Signals))
	for _, item := range req.Signals {
		signal, err := s.extraction.Normalize(item.SourceType, item.Payload)
		if err != nil {
			s.logger.Warn("skipping malformed signal",
				zap.String("source_type", item.SourceType),
				zap.Error(err))
			results = append(results, IngestResult{Error: err.Error()})
			continue
		}

		candidate, created, err := s.catalog.Ingest(c.Request().Context(), signal, req.Scope, req.CandidateType, req.Threshold)
		if err != nil {
			s.logger.Warn("signal ingest failed",
				zap.String("source_type", item.SourceType),
				zap.Error(err))
			results = append(results, IngestResult{Error: err.Error()})
			continue
		}

		results = append(results, IngestResult{CandidateID: candidate.ID, Created: created})
	}

	return c.JSON(http.StatusOK, IngestResponse{Results: results})
}

func (s *Server) handleListCandidates(c echo.Context) error {
	scope := c.QueryParam("scope")
	if scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope query parameter is required")
	}

	filter := catalog.ListFilter{
		Status:     catalog.Status(c.QueryParam("status")),
		SourceType: c.QueryParam("source_type"),
		Confidence: catalog.Confidence(c.QueryParam("confidence")),
	}

	candidates, err := s.catalog.List(c.Request().Context(), scope, filter)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, candidates)
}

func (s *Server) handleGetCandidate(c echo.Context) error {
	candidate, err := s.catalog.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, candidate)
}

func (s *Server) handleListEvidence(c echo.Context) error {
	evidence, err := s.catalog.ListEvidence(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, evidence)
}

// PromoteCandidateRequest is the request body for candidate promotion.
type PromoteCandidateRequest struct {
	TargetID string `json:"target_id"`
}

func (s *Server) handlePromoteCandidate(c echo.Context) error {
	var req PromoteCandidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	candidate, err := s.catalog.Promote(c.Request().Context(), c.Param("id"), req.TargetID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, candidate)
}

func (s *Server) handleRejectCandidate(c echo.Context) error {
	candidate, err := s.catalog.Reject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, candidate)
}

// MergeRequest is the request body for POST /api/v1/candidates/merge.
type MergeRequest struct {
	WinnerID string `json:"winner_id"`
	LoserID  string `json:"loser_id"`
}

func (s *Server) handleMergeCandidates(c echo.Context) error {
	var req MergeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.WinnerID == "" || req.LoserID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "winner_id and loser_id fields are required")
	}

	winner, err := s.catalog.Merge(c.Request().Context(), req.WinnerID, req.LoserID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, winner)
}

// PatternResponse is the JSON shape of a discovered pattern.
type PatternResponse struct {
	ID                string         `json:"id"`
	Scope             string         `json:"scope"`
	CandidateIDs      []string       `json:"candidate_ids"`
	ClusterRadius     float64        `json:"cluster_radius"`
	ConfidenceScore   float64        `json:"confidence_score"`
	NoveltyScore      float64        `json:"novelty_score"`
	NoveltyBand       string         `json:"novelty_band"`
	NearestApprovedID string         `json:"nearest_approved_id,omitempty"`
	SourceBreakdown   map[string]int `json:"source_breakdown,omitempty"`
	Status            string         `json:"status"`
	PromotedReference string         `json:"promoted_reference,omitempty"`
	CreatedAt         string         `json:"created_at"`
}

func (s *Server) toPatternResponse(pattern *discovery.Pattern) PatternResponse {
	band := s.config.Bands.Classify(novelty.Score{
		Novelty:           pattern.NoveltyScore,
		NearestApprovedID: pattern.NearestApprovedID,
	})
	return PatternResponse{
		ID:                pattern.ID,
		Scope:             pattern.Scope,
		CandidateIDs:      pattern.CandidateIDs,
		ClusterRadius:     pattern.ClusterRadius,
		ConfidenceScore:   pattern.ConfidenceScore,
		NoveltyScore:      pattern.NoveltyScore,
		NoveltyBand:       band,
		NearestApprovedID: pattern.NearestApprovedID,
		SourceBreakdown:   pattern.SourceBreakdown,
		Status:            string(pattern.Status),
		PromotedReference: pattern.PromotedReference,
		CreatedAt:         pattern.CreatedAt.Format(time.RFC3339),
	}
}

func (s *Server) handleListPatterns(c echo.Context) error {
	scope := c.QueryParam("scope")
	if scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope query parameter is required")
	}

	var statuses []discovery.PatternStatus
	if status := c.QueryParam("status"); status != "" {
		statuses = append(statuses, discovery.PatternStatus(status))
	}

	patterns, err := s.patterns.List(c.Request().Context(), scope, statuses...)
	if err != nil {
		return httpError(err)
	}

	response := make([]PatternResponse, len(patterns))
	for i, pattern := range patterns {
		response[i] = s.toPatternResponse(pattern)
	}
	return c.JSON(http.StatusOK, response)
}

func (s *Server) handleGetPattern(c echo.Context) error {
	pattern, err := s.patterns.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s.toPatternResponse(pattern))
}

// PromotePatternResponse is the response body for pattern promotion.
type PromotePatternResponse struct {
	TargetID string `json:"target_id"`
}

func (s *Server) handlePromotePattern(c echo.Context) error {
	targetID, err := s.workflow.PromotePattern(c.Request().Context(), c.Param("id"), s.builder)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, PromotePatternResponse{TargetID: targetID})
}

func (s *Server) handleDismissPattern(c echo.Context) error {
	pattern, err := s.workflow.DismissPattern(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s.toPatternResponse(pattern))
}

func (s *Server) handleReviewPattern(c echo.Context) error {
	pattern, err := s.workflow.MarkReviewed(c.Request().Context(), c.Param("id"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, s.toPatternResponse(pattern))
}

// DiscoverRequest is the request body for POST /api/v1/discover.
type DiscoverRequest struct {
	Scope string `json:"scope"`
}

// DiscoverResponse is the response body for POST /api/v1/discover.
type DiscoverResponse struct {
	Patterns []PatternResponse `json:"patterns"`
}

func (s *Server) handleDiscover(c echo.Context) error {
	var req DiscoverRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Scope == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "scope field is required")
	}

	patterns, err := s.engine.Discover(c.Request().Context(), req.Scope)
	if err != nil {
		return httpError(err)
	}

	response := DiscoverResponse{Patterns: make([]PatternResponse, len(patterns))}
	for i, pattern := range patterns {
		response.Patterns[i] = s.toPatternResponse(pattern)
	}
	return c.JSON(http.StatusOK, response)
}
