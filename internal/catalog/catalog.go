package catalog

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/benmeehan/crowdsense/internal/geofence"
	"github.com/benmeehan/crowdsense/internal/proximity"
	"github.com/benmeehan/crowdsense/internal/utils"
)

var (
	// ErrStaleVersion is returned when a document is older than the active catalog.
	ErrStaleVersion = errors.New("catalog version is older than the active catalog")
	// ErrInvalidCatalog wraps every validation failure of a catalog document.
	ErrInvalidCatalog = errors.New("invalid catalog")
)

// Document is the wire form of a catalog as stored in files or Redis.
type Document struct {
	Version   string               `json:"version" yaml:"version"`
	Bounds    *geo.Bounds          `json:"bounds,omitempty" yaml:"bounds,omitempty"`
	Zones     []geofence.Zone      `json:"zones" yaml:"zones"`
	Locations []proximity.Location `json:"locations" yaml:"locations"`
}

// Validate checks every zone and location and rejects duplicate ids.
func (d Document) Validate() error {
	if _, err := semver.NewVersion(d.Version); err != nil {
		return fmt.Errorf("%w: version %q: %v", ErrInvalidCatalog, d.Version, err)
	}
	if d.Bounds != nil && (d.Bounds.North < d.Bounds.South || d.Bounds.East < d.Bounds.West) {
		return fmt.Errorf("%w: bounds are inverted", ErrInvalidCatalog)
	}

	zoneIDs := make([]string, 0, len(d.Zones))
	for _, z := range d.Zones {
		if err := z.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
		}
		zoneIDs = append(zoneIDs, z.ID)
	}
	if len(utils.SliceToSet(zoneIDs)) != len(zoneIDs) {
		return fmt.Errorf("%w: duplicate zone id", ErrInvalidCatalog)
	}

	locationIDs := make([]string, 0, len(d.Locations))
	for _, l := range d.Locations {
		if l.ID == "" {
			return fmt.Errorf("%w: location id must not be empty", ErrInvalidCatalog)
		}
		if !l.Kind.Valid() {
			return fmt.Errorf("%w: location %s: unknown kind %q", ErrInvalidCatalog, l.ID, l.Kind)
		}
		if err := l.Coordinate.Validate(); err != nil {
			return fmt.Errorf("%w: location %s: %v", ErrInvalidCatalog, l.ID, err)
		}
		locationIDs = append(locationIDs, l.ID)
	}
	if len(utils.SliceToSet(locationIDs)) != len(locationIDs) {
		return fmt.Errorf("%w: duplicate location id", ErrInvalidCatalog)
	}
	return nil
}

// Snapshot is an immutable, validated catalog. Callers must not modify the
// slices it exposes.
type Snapshot struct {
	Generation uint64
	Version    *semver.Version
	Source     string
	LoadedAt   time.Time
	Bounds     *geo.Bounds
	Zones      []geofence.Zone
	Locations  []proximity.Location
}

// InBounds reports whether c lies inside the campus bounds. A catalog without
// bounds accepts every coordinate.
func (s *Snapshot) InBounds(c geo.Coordinate) bool {
	if s.Bounds == nil {
		return true
	}
	return s.Bounds.Contains(c)
}

// Store holds the active catalog snapshot. Readers never block; Apply swaps in
// a new snapshot atomically.
type Store struct {
	current atomic.Pointer[Snapshot]
	applyMu sync.Mutex
}

// NewStore returns a Store holding an empty generation 0 catalog.
func NewStore() *Store {
	s := &Store{}
	s.current.Store(&Snapshot{})
	return s
}

// Current returns the active snapshot.
func (s *Store) Current() *Snapshot {
	return s.current.Load()
}

// Apply validates doc and, if its version is newer than the active one,
// publishes it as the next generation. Applying the active version again is a
// no-op that returns the active snapshot. Older versions fail with
// ErrStaleVersion.
func (s *Store) Apply(doc Document, source string, now time.Time) (*Snapshot, error) {
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	version := semver.MustParse(doc.Version)

	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	active := s.current.Load()
	if active.Version != nil {
		switch version.Compare(active.Version) {
		case -1:
			return nil, fmt.Errorf("%w: %s < %s", ErrStaleVersion, version, active.Version)
		case 0:
			return active, nil
		}
	}

	zones := make([]geofence.Zone, len(doc.Zones))
	for i, z := range doc.Zones {
		zones[i] = z.Prepared()
	}
	locations := make([]proximity.Location, len(doc.Locations))
	copy(locations, doc.Locations)

	var bounds *geo.Bounds
	if doc.Bounds != nil {
		b := *doc.Bounds
		bounds = &b
	}

	next := &Snapshot{
		Generation: active.Generation + 1,
		Version:    version,
		Source:     source,
		LoadedAt:   now,
		Bounds:     bounds,
		Zones:      zones,
		Locations:  locations,
	}
	s.current.Store(next)
	return next, nil
}
