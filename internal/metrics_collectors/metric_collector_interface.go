package metrics_collectors

import (
	"context"

	"github.com/benmeehan/crowdsense/internal/models"
)

// MetricCollector fills one part of an engine stats report.
type MetricCollector interface {
	Name() string                                                 // Name of the collector (e.g., "engine", "process")
	Collect(ctx context.Context, stats *models.EngineStats) error // Collect the metric data into stats
}
