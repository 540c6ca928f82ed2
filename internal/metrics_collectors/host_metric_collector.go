package metrics_collectors

import (
	"context"
	"fmt"

	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// HostMetricCollector collects CPU and virtual memory usage of the host.
type HostMetricCollector struct{}

func (h *HostMetricCollector) Name() string {
	return "host"
}

func (h *HostMetricCollector) Collect(ctx context.Context, stats *models.EngineStats) error {
	cpuPercentages, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return fmt.Errorf("failed to get CPU usage: %w", err)
	}
	if len(cpuPercentages) == 0 {
		return fmt.Errorf("CPU usage data is empty")
	}

	memStats, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return fmt.Errorf("failed to retrieve memory statistics: %w", err)
	}

	stats.Host = &models.HostMetrics{
		CPUUsage:    cpuPercentages[0],
		MemoryUsage: memStats.UsedPercent,
	}
	return nil
}
