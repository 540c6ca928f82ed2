package aggregator

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnknownWindow is returned when a snapshot is requested for a window that
// is not configured.
var ErrUnknownWindow = errors.New("unknown window")

const (
	// DefaultMinDevicesPerCell is the k-anonymity threshold.
	DefaultMinDevicesPerCell = 3
	// DefaultRetain keeps the current bucket and the one before it.
	DefaultRetain = 2
)

// Config configures an Aggregator.
type Config struct {
	MinDevicesPerCell int
	Retain            int
	Windows           []WindowSpec
	Location          *time.Location
}

// GeoCell is a visible cell in a snapshot.
type GeoCell struct {
	CellID      string
	WindowStart time.Time
	Count       int
	LastUpdated time.Time
}

// Snapshot is the visible content of one bucket.
type Snapshot struct {
	Window      string
	WindowStart time.Time
	WindowEnd   time.Time
	Cells       []GeoCell
}

// WindowStats carries live counts for metrics. LiveCells includes cells below
// the visibility threshold and must not be exposed to API clients.
type WindowStats struct {
	Window    string
	Buckets   int
	LiveCells int
}

// Aggregator counts distinct devices per geohash cell per time bucket.
type Aggregator struct {
	minDevices int
	windows    map[string]*window
	order      []string
}

// NewAggregator validates cfg and builds an Aggregator. Zero values fall back to
// the defaults.
func NewAggregator(cfg Config) (*Aggregator, error) {
	if cfg.MinDevicesPerCell <= 0 {
		cfg.MinDevicesPerCell = DefaultMinDevicesPerCell
	}
	if cfg.Retain <= 0 {
		cfg.Retain = DefaultRetain
	}
	if len(cfg.Windows) == 0 {
		cfg.Windows = DefaultWindows()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	a := &Aggregator{
		minDevices: cfg.MinDevicesPerCell,
		windows:    make(map[string]*window, len(cfg.Windows)),
	}
	for _, spec := range cfg.Windows {
		if spec.Name == "" {
			return nil, errors.New("window name must not be empty")
		}
		if _, exists := a.windows[spec.Name]; exists {
			return nil, fmt.Errorf("duplicate window %q", spec.Name)
		}
		if !spec.Calendar && spec.Length <= 0 {
			return nil, fmt.Errorf("window %q must have a positive length", spec.Name)
		}
		if !spec.Calendar && spec.Length > 24*time.Hour {
			return nil, fmt.Errorf("window %q is longer than a day; use a calendar window", spec.Name)
		}
		a.windows[spec.Name] = newWindow(spec, cfg.Retain, cfg.Location)
		a.order = append(a.order, spec.Name)
	}
	return a, nil
}

// Windows returns the configured window names in configuration order.
func (a *Aggregator) Windows() []string {
	out := make([]string, len(a.order))
	copy(out, a.order)
	return out
}

// MinDevicesPerCell returns the visibility threshold.
func (a *Aggregator) MinDevicesPerCell() int {
	return a.minDevices
}

// Record adds token to cellID in every window. Recording the same token twice
// in a bucket has no further effect. Windows roll over on now, the server
// time; ts only selects among retained buckets and is clamped to now when it
// lies in the future. It reports false when ts is older than every retained
// bucket of every window.
func (a *Aggregator) Record(cellID, token string, ts, now time.Time) bool {
	recorded := false
	for _, name := range a.order {
		if a.windows[name].record(cellID, token, ts, now) {
			recorded = true
		}
	}
	return recorded
}

// Snapshot returns the visible cells of the current bucket of the named window.
func (a *Aggregator) Snapshot(name string, now time.Time) (Snapshot, error) {
	w, ok := a.windows[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownWindow, name)
	}
	return a.snapshot(name, w.load(now).current()), nil
}

// SnapshotPrevious returns the visible cells of the bucket preceding the current
// one. The result is empty when that bucket saw no traffic or is not retained.
func (a *Aggregator) SnapshotPrevious(name string, now time.Time) (Snapshot, error) {
	w, ok := a.windows[name]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %q", ErrUnknownWindow, name)
	}
	g := w.load(now)
	start := w.previousStart(g.current().start)
	if b := g.startingAt(start); b != nil && w.retain > 1 {
		return a.snapshot(name, b), nil
	}
	return Snapshot{Window: name, WindowStart: start, WindowEnd: g.current().start, Cells: []GeoCell{}}, nil
}

func (a *Aggregator) snapshot(name string, b *bucket) Snapshot {
	cells := make([]GeoCell, 0)
	for item := range b.cells.IterBuffered() {
		count, lastUpdated := item.Val.read()
		if count < a.minDevices {
			continue
		}
		cells = append(cells, GeoCell{
			CellID:      item.Key,
			WindowStart: b.start,
			Count:       count,
			LastUpdated: lastUpdated,
		})
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].CellID < cells[j].CellID })
	return Snapshot{Window: name, WindowStart: b.start, WindowEnd: b.end, Cells: cells}
}

// Expire rolls every window forward to now so idle windows drop expired
// buckets. It returns the number of windows that rolled over.
func (a *Aggregator) Expire(now time.Time) int {
	rolled := 0
	for _, name := range a.order {
		w := a.windows[name]
		g := w.gen.Load()
		if g != nil && now.Before(g.current().end) {
			continue
		}
		w.advance(now)
		rolled++
	}
	return rolled
}

// Stats reports live bucket and cell counts per window.
func (a *Aggregator) Stats() []WindowStats {
	stats := make([]WindowStats, 0, len(a.order))
	for _, name := range a.order {
		ws := WindowStats{Window: name}
		if g := a.windows[name].gen.Load(); g != nil {
			ws.Buckets = len(g.buckets)
			ws.LiveCells = g.current().cells.Count()
		}
		stats = append(stats, ws)
	}
	return stats
}
