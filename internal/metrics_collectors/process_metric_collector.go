package metrics_collectors

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/benmeehan/crowdsense/internal/models"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/process"
)

// ProcessMetricCollector collects CPU and memory usage of the running engine.
type ProcessMetricCollector struct {
	Logger zerolog.Logger

	proc *process.Process
}

func (p *ProcessMetricCollector) Name() string {
	return "process"
}

func (p *ProcessMetricCollector) Collect(ctx context.Context, stats *models.EngineStats) error {
	if p.proc == nil {
		proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
		if err != nil {
			return fmt.Errorf("failed to open own process: %w", err)
		}
		p.proc = proc
	}

	metrics := &models.ProcessMetrics{Goroutines: runtime.NumGoroutine()}

	if cpuPercent, err := p.proc.CPUPercentWithContext(ctx); err == nil {
		metrics.CPUUsage = &cpuPercent
	} else {
		p.Logger.Warn().Err(err).Msg("Failed to get CPU usage")
	}

	if memPercent, err := p.proc.MemoryPercentWithContext(ctx); err == nil {
		memory := float64(memPercent)
		metrics.Memory = &memory
	} else {
		p.Logger.Warn().Err(err).Msg("Failed to get memory usage")
	}

	if memInfo, err := p.proc.MemoryInfoWithContext(ctx); err == nil {
		rss := memInfo.RSS
		metrics.RSSBytes = &rss
	} else {
		p.Logger.Warn().Err(err).Msg("Failed to get memory information")
	}

	stats.Process = metrics
	return nil
}
