package ratelimit

import (
	"sync"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

const (
	// DefaultMaxPings is the number of accepted pings allowed per window.
	DefaultMaxPings = 60
	// DefaultWindow is the trailing window the limit applies to.
	DefaultWindow = time.Hour
	// DefaultInactivityTTL is how long an idle device is remembered.
	DefaultInactivityTTL = 2 * time.Hour
)

// Config holds the limiter tuning knobs.
type Config struct {
	MaxPings      int
	Window        time.Duration
	InactivityTTL time.Duration
}

// Limiter bounds accepted pings per device token over a trailing window.
// It keeps a log of accepted timestamps per device, so the bound holds for every
// window position and not just for aligned ones.
type Limiter struct {
	maxPings      int
	window        time.Duration
	inactivityTTL time.Duration
	devices       cmap.ConcurrentMap[string, *deviceLog]
}

// deviceLog is a ring buffer of accepted timestamps guarded by its own mutex.
type deviceLog struct {
	mu       sync.Mutex
	stamps   []time.Time
	head     int // index of the oldest stamp
	size     int
	lastSeen time.Time
	evicted  bool
}

// NewLimiter creates a Limiter; zero values in cfg fall back to the defaults.
func NewLimiter(cfg Config) *Limiter {
	if cfg.MaxPings <= 0 {
		cfg.MaxPings = DefaultMaxPings
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.InactivityTTL <= 0 {
		cfg.InactivityTTL = DefaultInactivityTTL
	}
	return &Limiter{
		maxPings:      cfg.MaxPings,
		window:        cfg.Window,
		inactivityTTL: cfg.InactivityTTL,
		devices:       cmap.New[*deviceLog](),
	}
}

// Allow reports whether a ping from token at now is within the limit and, if so,
// records it. Rejected pings are not recorded.
func (l *Limiter) Allow(token string, now time.Time) bool {
	for {
		d := l.devices.Upsert(token, nil, func(exist bool, inMap, _ *deviceLog) *deviceLog {
			if exist {
				return inMap
			}
			return &deviceLog{stamps: make([]time.Time, l.maxPings)}
		})

		d.mu.Lock()
		if d.evicted {
			// Lost a race with Evict; the entry is gone from the map, start over.
			d.mu.Unlock()
			continue
		}
		allowed := d.allow(now, l.window)
		d.mu.Unlock()
		return allowed
	}
}

func (d *deviceLog) allow(now time.Time, window time.Duration) bool {
	if now.After(d.lastSeen) {
		d.lastSeen = now
	}
	for d.size > 0 && now.Sub(d.stamps[d.head]) >= window {
		d.head = (d.head + 1) % len(d.stamps)
		d.size--
	}
	if d.size >= len(d.stamps) {
		return false
	}
	d.stamps[(d.head+d.size)%len(d.stamps)] = now
	d.size++
	return true
}

// Evict forgets devices that have not been seen for the inactivity TTL and
// returns how many were removed.
func (l *Limiter) Evict(now time.Time) int {
	cutoff := now.Add(-l.inactivityTTL)
	removed := 0
	for _, token := range l.devices.Keys() {
		ok := l.devices.RemoveCb(token, func(_ string, d *deviceLog, exists bool) bool {
			if !exists {
				return false
			}
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.lastSeen.After(cutoff) {
				return false
			}
			d.evicted = true
			return true
		})
		if ok {
			removed++
		}
	}
	return removed
}

// Tracked returns the number of devices currently remembered.
func (l *Limiter) Tracked() int {
	return l.devices.Count()
}
