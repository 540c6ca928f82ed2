package models

import "time"

// EngineStats is the periodic status report published by the stats service.
type EngineStats struct {
	Timestamp         time.Time              `json:"timestamp"`
	Instance          string                 `json:"instance"`
	CatalogGeneration uint64                 `json:"catalog_generation"`
	CatalogVersion    string                 `json:"catalog_version,omitempty"`
	TrackedDevices    int                    `json:"tracked_devices"`
	Windows           map[string]WindowStats `json:"windows"`
	Process           *ProcessMetrics        `json:"process,omitempty"`
	Host              *HostMetrics           `json:"host,omitempty"`
}

// WindowStats describes one aggregation window. Cell counts include cells
// below the visibility threshold, so this report is for operators only.
type WindowStats struct {
	Buckets   int `json:"buckets"`
	LiveCells int `json:"live_cells"`
}

// ProcessMetrics contains resource usage of the engine process
type ProcessMetrics struct {
	CPUUsage   *float64 `json:"cpu_usage,omitempty"`
	Memory     *float64 `json:"memory,omitempty"`
	RSSBytes   *uint64  `json:"rss_bytes,omitempty"`
	Goroutines int      `json:"goroutines"`
}

// HostMetrics holds host level usage percentages.
type HostMetrics struct {
	CPUUsage    float64 `json:"cpu_usage"`
	MemoryUsage float64 `json:"memory_usage"`
}
