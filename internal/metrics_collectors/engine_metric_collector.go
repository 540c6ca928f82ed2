package metrics_collectors

import (
	"context"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/internal/catalog"
	"github.com/benmeehan/crowdsense/internal/models"
)

// DeviceTracker reports how many devices the rate limiter remembers.
type DeviceTracker interface {
	Tracked() int
}

// WindowReporter reports per-window bucket and cell counts.
type WindowReporter interface {
	Stats() []aggregator.WindowStats
}

// CatalogReader exposes the active catalog snapshot.
type CatalogReader interface {
	Current() *catalog.Snapshot
}

// EngineMetricCollector reports the in-memory state of the engine.
type EngineMetricCollector struct {
	Limiter    DeviceTracker
	Aggregator WindowReporter
	Catalog    CatalogReader
}

func (e *EngineMetricCollector) Name() string {
	return "engine"
}

func (e *EngineMetricCollector) Collect(_ context.Context, stats *models.EngineStats) error {
	stats.TrackedDevices = e.Limiter.Tracked()

	stats.Windows = make(map[string]models.WindowStats)
	for _, w := range e.Aggregator.Stats() {
		stats.Windows[w.Window] = models.WindowStats{Buckets: w.Buckets, LiveCells: w.LiveCells}
	}

	snap := e.Catalog.Current()
	stats.CatalogGeneration = snap.Generation
	if snap.Version != nil {
		stats.CatalogVersion = snap.Version.String()
	}
	return nil
}
