package aggregator

import (
	"sync"
	"sync/atomic"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Window names understood by the heatmap API.
const (
	Window15Min = "15min"
	Window1Hr   = "1hr"
	WindowToday = "today"
)

// WindowSpec describes one aggregation window. Calendar windows span a local
// calendar day and ignore Length.
type WindowSpec struct {
	Name     string        `yaml:"name" validate:"required"`
	Length   time.Duration `yaml:"length"`
	Calendar bool          `yaml:"calendar"`
}

// DefaultWindows returns the 15min, 1hr and today windows.
func DefaultWindows() []WindowSpec {
	return []WindowSpec{
		{Name: Window15Min, Length: 15 * time.Minute},
		{Name: Window1Hr, Length: time.Hour},
		{Name: WindowToday, Calendar: true},
	}
}

// cell is the set of device digests seen in one geohash cell during one bucket.
type cell struct {
	mu          sync.Mutex
	devices     map[string]struct{}
	lastUpdated time.Time
}

func (c *cell) add(token string, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices[token] = struct{}{}
	if ts.After(c.lastUpdated) {
		c.lastUpdated = ts
	}
}

func (c *cell) read() (int, time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.devices), c.lastUpdated
}

// bucket holds the cells of a single [start, end) interval.
type bucket struct {
	start time.Time
	end   time.Time
	cells cmap.ConcurrentMap[string, *cell]
}

func newBucket(start, end time.Time) *bucket {
	return &bucket{start: start, end: end, cells: cmap.New[*cell]()}
}

func (b *bucket) contains(ts time.Time) bool {
	return !ts.Before(b.start) && ts.Before(b.end)
}

func (b *bucket) record(cellID, token string, ts time.Time) {
	c := b.cells.Upsert(cellID, nil, func(exist bool, inMap, _ *cell) *cell {
		if exist {
			return inMap
		}
		return &cell{devices: make(map[string]struct{}, 4)}
	})
	c.add(token, ts)
}

// generation is an immutable list of retained buckets, newest first.
// Rollover never mutates a published generation; it builds a new one.
type generation struct {
	buckets []*bucket
}

func (g *generation) current() *bucket {
	return g.buckets[0]
}

func (g *generation) find(ts time.Time) *bucket {
	for _, b := range g.buckets {
		if b.contains(ts) {
			return b
		}
	}
	return nil
}

func (g *generation) startingAt(start time.Time) *bucket {
	for _, b := range g.buckets {
		if b.start.Equal(start) {
			return b
		}
	}
	return nil
}

// window owns the buckets of one WindowSpec.
type window struct {
	spec   WindowSpec
	retain int
	loc    *time.Location

	gen    atomic.Pointer[generation]
	rollMu sync.Mutex // serializes rollovers only
}

func newWindow(spec WindowSpec, retain int, loc *time.Location) *window {
	return &window{spec: spec, retain: retain, loc: loc}
}

// bounds returns the bucket interval containing ts. Buckets are aligned to local
// midnight and never straddle it.
func (w *window) bounds(ts time.Time) (time.Time, time.Time) {
	local := ts.In(w.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, w.loc)
	nextMidnight := midnight.AddDate(0, 0, 1)
	if w.spec.Calendar {
		return midnight, nextMidnight
	}
	elapsed := local.Sub(midnight)
	start := midnight.Add(elapsed - elapsed%w.spec.Length)
	end := start.Add(w.spec.Length)
	if end.After(nextMidnight) {
		end = nextMidnight
	}
	return start, end
}

// previousStart returns the start of the bucket immediately before the one
// starting at start.
func (w *window) previousStart(start time.Time) time.Time {
	prev, _ := w.bounds(start.Add(-time.Nanosecond))
	return prev
}

// horizon is the earliest bucket start still retained once start is current.
func (w *window) horizon(start time.Time) time.Time {
	h := start
	for i := 1; i < w.retain; i++ {
		h = w.previousStart(h)
	}
	return h
}

// advance publishes a generation whose current bucket covers ts. Buckets older
// than the horizon are dropped along with their device sets.
func (w *window) advance(ts time.Time) {
	w.rollMu.Lock()
	defer w.rollMu.Unlock()

	old := w.gen.Load()
	if old != nil && ts.Before(old.current().end) {
		return
	}

	start, end := w.bounds(ts)
	horizon := w.horizon(start)
	next := &generation{buckets: make([]*bucket, 0, w.retain)}
	next.buckets = append(next.buckets, newBucket(start, end))
	if old != nil {
		for _, b := range old.buckets {
			if len(next.buckets) == w.retain {
				break
			}
			if !b.start.Before(horizon) {
				next.buckets = append(next.buckets, b)
			}
		}
	}
	w.gen.Store(next)
}

// load returns the generation whose current bucket covers now, rolling over
// first when needed.
func (w *window) load(now time.Time) *generation {
	for {
		g := w.gen.Load()
		if g != nil && now.Before(g.current().end) {
			return g
		}
		w.advance(now)
	}
}

// record adds token to cellID in the bucket that covers ts, after rolling the
// window to now. It reports false when ts is older than every retained bucket.
func (w *window) record(cellID, token string, ts, now time.Time) bool {
	if ts.After(now) {
		ts = now
	}
	b := w.load(now).find(ts)
	if b == nil {
		if b = w.insert(ts); b == nil {
			return false
		}
	}
	b.record(cellID, token, ts)
	return true
}

// insert publishes a generation with an empty bucket for a retained slot that
// has not seen traffic yet. It returns nil when ts is beyond the horizon.
func (w *window) insert(ts time.Time) *bucket {
	w.rollMu.Lock()
	defer w.rollMu.Unlock()

	old := w.gen.Load()
	if b := old.find(ts); b != nil {
		return b
	}
	start, end := w.bounds(ts)
	if start.Before(w.horizon(old.current().start)) {
		return nil
	}

	b := newBucket(start, end)
	next := &generation{buckets: make([]*bucket, 0, len(old.buckets)+1)}
	for _, existing := range old.buckets {
		if b != nil && existing.start.Before(start) {
			next.buckets = append(next.buckets, b)
			b = nil
		}
		next.buckets = append(next.buckets, existing)
	}
	if b != nil {
		next.buckets = append(next.buckets, b)
	}
	w.gen.Store(next)
	return next.find(ts)
}
