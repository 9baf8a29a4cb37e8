package catalog

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/insightd/internal/catalog"

// Metrics holds ingest-path metrics.
type Metrics struct {
	meter  metric.Meter
	logger *zap.Logger
	ingest metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for the catalog.
func NewMetrics(logger *zap.Logger) *Metrics {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Metrics{
		meter:  otel.Meter(instrumentationName),
		logger: logger,
	}
	m.init()
	return m
}

func (m *Metrics) init() {
	var err error

	m.ingest, err = m.meter.Int64Counter(
		"insightd.catalog.ingest_total",
		metric.WithDescription("Total ingested signals by scope and result (created, deduplicated, degraded). degraded means the embedding provider was unavailable and a candidate was created without a vector."),
		metric.WithUnit("{signal}"),
	)
	if err != nil {
		m.logger.Warn("failed to create ingest counter", zap.Error(err))
	}
}

// RecordIngest records one ingest outcome.
func (m *Metrics) RecordIngest(ctx context.Context, scope, result string) {
	if m.ingest == nil {
		return
	}
	m.ingest.Add(ctx, 1, metric.WithAttributes(
		attribute.String("scope", scope),
		attribute.String("result", result),
	))
}
