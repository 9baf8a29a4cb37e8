// Package httpapi exposes the signal ingest and review surface over
// HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/catalog"
	"github.com/fyrsmithlabs/insightd/internal/discovery"
	"github.com/fyrsmithlabs/insightd/internal/extraction"
	"github.com/fyrsmithlabs/insightd/internal/novelty"
	"github.com/fyrsmithlabs/insightd/internal/promotion"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int

	// Bands interprets pattern novelty scores in API responses. Zero
	// value means the default bands.
	Bands novelty.Bands
}

// Server provides the HTTP endpoints for insightd.
type Server struct {
	echo       *echo.Echo
	catalog    *catalog.Service
	extraction *extraction.Registry
	engine     *discovery.Engine
	patterns   discovery.PatternStore
	workflow   *promotion.Workflow
	builder    promotion.TargetBuilder
	logger     *zap.Logger
	config     *Config
}

// NewServer creates the HTTP server and registers its routes.
func NewServer(
	catalogService *catalog.Service,
	extractionRegistry *extraction.Registry,
	engine *discovery.Engine,
	patterns discovery.PatternStore,
	workflow *promotion.Workflow,
	builder promotion.TargetBuilder,
	logger *zap.Logger,
	cfg *Config,
) (*Server, error) {
	if catalogService == nil {
		return nil, fmt.Errorf("catalog service cannot be nil")
	}
	if extractionRegistry == nil {
		return nil, fmt.Errorf("extraction registry cannot be nil")
	}
	if engine == nil {
		return nil, fmt.Errorf("discovery engine cannot be nil")
	}
	if patterns == nil {
		return nil, fmt.Errorf("pattern store cannot be nil")
	}
	if workflow == nil {
		return nil, fmt.Errorf("promotion workflow cannot be nil")
	}
	if builder == nil {
		return nil, fmt.Errorf("target builder cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9180,
		}
	}
	if cfg.Bands == (novelty.Bands{}) {
		cfg.Bands = novelty.DefaultBands()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:       e,
		catalog:    catalogService,
		extraction: extractionRegistry,
		engine:     engine,
		patterns:   patterns,
		workflow:   workflow,
		builder:    builder,
		logger:     logger,
		config:     cfg,
	}

	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/signals", s.handleIngestSignals)

	v1.GET("/candidates", s.handleListCandidates)
	v1.GET("/candidates/:id", s.handleGetCandidate)
	v1.GET("/candidates/:id/evidence", s.handleListEvidence)
	v1.POST("/candidates/:id/promote", s.handlePromoteCandidate)
	v1.POST("/candidates/:id/reject", s.handleRejectCandidate)
	v1.POST("/candidates/merge", s.handleMergeCandidates)

	v1.GET("/patterns", s.handleListPatterns)
	v1.GET("/patterns/:id", s.handleGetPattern)
	v1.POST("/patterns/:id/promote", s.handlePromotePattern)
	v1.POST("/patterns/:id/dismiss", s.handleDismissPattern)
	v1.POST("/patterns/:id/review", s.handleReviewPattern)

	v1.POST("/discover", s.handleDiscover)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	switch {
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, discovery.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, catalog.ErrValidation), errors.Is(err, discovery.ErrValidation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, catalog.ErrInvalidState), errors.Is(err, discovery.ErrInvalidState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, discovery.ErrScopeBusy):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
