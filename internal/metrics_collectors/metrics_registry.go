package metrics_collectors

import (
	"context"

	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/rs/zerolog"
)

// MetricsRegistry holds the collectors in registration order.
type MetricsRegistry struct {
	collectors []MetricCollector
	logger     zerolog.Logger
}

// NewMetricsRegistry creates a new MetricsRegistry instance.
func NewMetricsRegistry(logger zerolog.Logger) *MetricsRegistry {
	return &MetricsRegistry{logger: logger}
}

// Register adds a collector. A collector with the same name replaces the
// earlier one.
func (r *MetricsRegistry) Register(collector MetricCollector) {
	for i, c := range r.collectors {
		if c.Name() == collector.Name() {
			r.collectors[i] = collector
			return
		}
	}
	r.collectors = append(r.collectors, collector)
}

// GetCollectors returns all the metric collectors registered in the registry.
func (r *MetricsRegistry) GetCollectors() []MetricCollector {
	return r.collectors
}

// CollectAll runs every collector in order. A failing collector is logged and
// skipped so the rest of the report is still produced.
func (r *MetricsRegistry) CollectAll(ctx context.Context, stats *models.EngineStats) {
	for _, c := range r.collectors {
		if err := c.Collect(ctx, stats); err != nil {
			r.logger.Warn().Err(err).Str("collector", c.Name()).Msg("Failed to collect metrics")
		}
	}
}
