package discovery

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/insightd/internal/discovery"

// Metrics holds discovery-run metrics.
type Metrics struct {
	meter      metric.Meter
	logger     *zap.Logger
	runs       metric.Int64Counter
	patterns   metric.Int64Counter
	backfilled metric.Int64Counter
}

// NewMetrics creates a new Metrics instance for discovery.
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

	m.runs, err = m.meter.Int64Counter(
		"insightd.discovery.runs_total",
		metric.WithDescription("Completed discovery runs by scope"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		m.logger.Warn("failed to create runs counter", zap.Error(err))
	}

	m.patterns, err = m.meter.Int64Counter(
		"insightd.discovery.patterns_total",
		metric.WithDescription("Patterns created or updated by discovery runs"),
		metric.WithUnit("{pattern}"),
	)
	if err != nil {
		m.logger.Warn("failed to create patterns counter", zap.Error(err))
	}

	m.backfilled, err = m.meter.Int64Counter(
		"insightd.discovery.embeddings_backfilled_total",
		metric.WithDescription("Candidate embeddings backfilled during discovery"),
		metric.WithUnit("{embedding}"),
	)
	if err != nil {
		m.logger.Warn("failed to create backfill counter", zap.Error(err))
	}
}

// RecordRun records one completed discovery run.
func (m *Metrics) RecordRun(ctx context.Context, scope string, patterns int) {
	attrs := metric.WithAttributes(attribute.String("scope", scope))
	if m.runs != nil {
		m.runs.Add(ctx, 1, attrs)
	}
	if m.patterns != nil && patterns > 0 {
		m.patterns.Add(ctx, int64(patterns), attrs)
	}
}

// RecordBackfill records backfilled embeddings.
func (m *Metrics) RecordBackfill(ctx context.Context, scope string, count int) {
	if m.backfilled == nil || count <= 0 {
		return
	}
	m.backfilled.Add(ctx, int64(count), metric.WithAttributes(attribute.String("scope", scope)))
}
