package heatmap

import (
	"fmt"
	"time"

	"github.com/benmeehan/crowdsense/internal/aggregator"
	"github.com/benmeehan/crowdsense/internal/geo"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCenterCacheSize bounds the memoised cell centers.
const DefaultCenterCacheSize = 4096

// Cell is a visible heatmap cell.
type Cell struct {
	CellID      string    `json:"cellId"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Response is the heatmap for one bucket of one window.
type Response struct {
	Window      string    `json:"window"`
	WindowStart time.Time `json:"windowStart"`
	WindowEnd   time.Time `json:"windowEnd"`
	Cells       []Cell    `json:"cells"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// Source is the part of the aggregator the reader depends on.
type Source interface {
	Snapshot(window string, now time.Time) (aggregator.Snapshot, error)
	SnapshotPrevious(window string, now time.Time) (aggregator.Snapshot, error)
}

// Reader turns aggregator snapshots into heatmap responses. It only ever sees
// cells at or above the visibility threshold.
type Reader struct {
	source  Source
	centers *lru.Cache[string, geo.Coordinate]
	now     func() time.Time
}

// NewReader creates a Reader with a center cache of the given size.
func NewReader(source Source, cacheSize int) (*Reader, error) {
	if cacheSize <= 0 {
		cacheSize = DefaultCenterCacheSize
	}
	cache, err := lru.New[string, geo.Coordinate](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create cell center cache: %w", err)
	}
	return &Reader{source: source, centers: cache, now: time.Now}, nil
}

// WithClock replaces the clock. Used by tests.
func (r *Reader) WithClock(now func() time.Time) *Reader {
	r.now = now
	return r
}

// Read returns the heatmap for the current bucket of window.
func (r *Reader) Read(window string) (Response, error) {
	now := r.now()
	snap, err := r.source.Snapshot(window, now)
	if err != nil {
		return Response{}, err
	}
	return r.render(snap, now)
}

// ReadPrevious returns the heatmap for the bucket before the current one.
func (r *Reader) ReadPrevious(window string) (Response, error) {
	now := r.now()
	snap, err := r.source.SnapshotPrevious(window, now)
	if err != nil {
		return Response{}, err
	}
	return r.render(snap, now)
}

func (r *Reader) render(snap aggregator.Snapshot, now time.Time) (Response, error) {
	resp := Response{
		Window:      snap.Window,
		WindowStart: snap.WindowStart,
		WindowEnd:   snap.WindowEnd,
		Cells:       make([]Cell, 0, len(snap.Cells)),
		GeneratedAt: now,
	}
	for _, c := range snap.Cells {
		center, err := r.center(c.CellID)
		if err != nil {
			return Response{}, err
		}
		resp.Cells = append(resp.Cells, Cell{
			CellID:      c.CellID,
			Lat:         center.Latitude,
			Lng:         center.Longitude,
			Count:       c.Count,
			LastUpdated: c.LastUpdated,
		})
	}
	return resp, nil
}

func (r *Reader) center(cellID string) (geo.Coordinate, error) {
	if c, ok := r.centers.Get(cellID); ok {
		return c, nil
	}
	c, err := geo.DecodeCenter(cellID)
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("failed to decode cell %s: %w", cellID, err)
	}
	r.centers.Add(cellID, c)
	return c, nil
}
