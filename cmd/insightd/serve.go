package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/insightd/internal/catalog"
	"github.com/fyrsmithlabs/insightd/internal/clustering"
	"github.com/fyrsmithlabs/insightd/internal/config"
	"github.com/fyrsmithlabs/insightd/internal/discovery"
	"github.com/fyrsmithlabs/insightd/internal/embeddings"
	"github.com/fyrsmithlabs/insightd/internal/extraction"
	"github.com/fyrsmithlabs/insightd/internal/httpapi"
	"github.com/fyrsmithlabs/insightd/internal/logging"
	"github.com/fyrsmithlabs/insightd/internal/novelty"
	"github.com/fyrsmithlabs/insightd/internal/promotion"
	"github.com/fyrsmithlabs/insightd/internal/simindex"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the insightd daemon",
	Long: `Start the HTTP server and the periodic pattern discovery scheduler.

Configuration is loaded from defaults, then the optional --config YAML
file, then INSIGHTD_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

// runServe wires the full service graph and blocks until a shutdown
// signal arrives.
func runServe(parent context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer logging.Sync(logger)

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Embedding provider with an in-process cache in front.
	embedService, err := embeddings.NewService(embeddings.Config{
		BaseURL:           cfg.Embeddings.BaseURL,
		Model:             cfg.Embeddings.Model,
		Dimension:         cfg.Embeddings.Dimension,
		MaxRetries:        cfg.Embeddings.MaxRetries,
		RequestsPerSecond: cfg.Embeddings.RequestsPerSecond,
		Timeout:           cfg.Embeddings.Timeout.Duration(),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating embedding service: %w", err)
	}
	provider := embeddings.NewCachedProvider(embedService)

	index, err := simindex.New(simindex.Config{
		Backend: cfg.Index.Backend,
		Path:    cfg.Index.Path,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating similarity index: %w", err)
	}
	defer func() {
		if err := index.Close(); err != nil {
			logger.Warn("closing similarity index", zap.Error(err))
		}
	}()

	store := catalog.NewMemoryStore(catalog.TierThresholds{
		Medium: cfg.Confidence.MediumThreshold,
		High:   cfg.Confidence.HighThreshold,
	})
	catalogService, err := catalog.NewService(store, index, provider, logger,
		catalog.WithDedupThreshold(cfg.Dedup.Threshold))
	if err != nil {
		return fmt.Errorf("creating catalog service: %w", err)
	}

	clusterer, err := clustering.NewEngine(clustering.Config{
		Eps:           cfg.Clustering.Eps,
		MinSamples:    cfg.Clustering.MinSamples,
		MinPopulation: cfg.Clustering.MinPopulation,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating clustering engine: %w", err)
	}

	registry, err := novelty.NewRegistry(provider, logger)
	if err != nil {
		return fmt.Errorf("creating approved-entity registry: %w", err)
	}

	patterns := discovery.NewMemoryPatternStore()
	engine, err := discovery.NewEngine(catalogService, provider, clusterer, registry, patterns,
		discovery.Config{
			BatchSize:        cfg.Discovery.BatchSize,
			OverlapThreshold: cfg.Discovery.OverlapThreshold,
		}, logger)
	if err != nil {
		return fmt.Errorf("creating discovery engine: %w", err)
	}

	scheduler, err := discovery.NewScheduler(engine, catalogService.Scopes,
		cfg.Discovery.Interval.Duration(), logger)
	if err != nil {
		return fmt.Errorf("creating discovery scheduler: %w", err)
	}

	workflow, err := promotion.NewWorkflow(patterns, logger)
	if err != nil {
		return fmt.Errorf("creating promotion workflow: %w", err)
	}

	server, err := httpapi.NewServer(catalogService, extraction.NewRegistry(), engine, patterns,
		workflow, promotion.RegistryTargetBuilder(registry), logger, &httpapi.Config{
			Host: cfg.Server.Host,
			Port: cfg.Server.Port,
			Bands: novelty.Bands{
				Duplicate: cfg.Novelty.DuplicateSimilarity,
				Related:   cfg.Novelty.RelatedSimilarity,
			},
		})
	if err != nil {
		return fmt.Errorf("creating http server: %w", err)
	}

	schedulerDone := make(chan struct{})
	go func() {
		defer close(schedulerDone)
		_ = scheduler.Run(ctx)
	}()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start()
	}()

	logger.Info("insightd started",
		zap.String("version", version),
		zap.String("index_backend", cfg.Index.Backend),
		zap.Duration("discovery_interval", cfg.Discovery.Interval.Duration()))

	select {
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", zap.Error(err))
	}
	<-schedulerDone

	logger.Info("insightd stopped")
	return nil
}
