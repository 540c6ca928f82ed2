package geofence

import (
	"errors"
	"fmt"

	"github.com/benmeehan/crowdsense/internal/geo"
)

// Kind is the geometry of a zone.
type Kind string

const (
	KindPolygon Kind = "polygon"
	KindCircle  Kind = "circle"
)

// Severity ranks how urgent a breach of the zone is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities from low (1) to high (3). Unknown severities rank 0.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	}
	return 0
}

// Zone is an administrator defined restricted area.
type Zone struct {
	ID           string           `json:"id" yaml:"id"`
	Name         string           `json:"name" yaml:"name"`
	Kind         Kind             `json:"kind" yaml:"kind"`
	Vertices     []geo.Coordinate `json:"vertices,omitempty" yaml:"vertices,omitempty"`
	Center       geo.Coordinate   `json:"center,omitempty" yaml:"center,omitempty"`
	RadiusMeters float64          `json:"radiusMeters,omitempty" yaml:"radius_meters,omitempty"`
	Severity     Severity         `json:"severity" yaml:"severity"`
	Description  string           `json:"description,omitempty" yaml:"description,omitempty"`

	bounds   geo.Bounds
	hasBound bool
}

// Validate checks that the zone is well formed.
func (z Zone) Validate() error {
	if z.ID == "" {
		return errors.New("zone id must not be empty")
	}
	switch z.Kind {
	case KindPolygon:
		if len(z.Vertices) < 3 {
			return fmt.Errorf("zone %s: polygon needs at least 3 vertices, got %d", z.ID, len(z.Vertices))
		}
		for i, v := range z.Vertices {
			if err := v.Validate(); err != nil {
				return fmt.Errorf("zone %s: vertex %d: %w", z.ID, i, err)
			}
		}
	case KindCircle:
		if err := z.Center.Validate(); err != nil {
			return fmt.Errorf("zone %s: center: %w", z.ID, err)
		}
		if !(z.RadiusMeters > 0) {
			return fmt.Errorf("zone %s: radius must be positive, got %v", z.ID, z.RadiusMeters)
		}
	default:
		return fmt.Errorf("zone %s: unknown kind %q", z.ID, z.Kind)
	}
	if z.Severity.Rank() == 0 {
		return fmt.Errorf("zone %s: unknown severity %q", z.ID, z.Severity)
	}
	return nil
}

// Prepared returns a copy of z with its bounding box precomputed. Catalog
// loaders call this once so Contains does not rebuild the box per ping.
func (z Zone) Prepared() Zone {
	if z.Kind == KindPolygon {
		z.bounds = geo.BoundsOf(z.Vertices)
		z.hasBound = true
	}
	return z
}

// Contains reports whether c lies inside the zone. Polygons use the even-odd
// rule and must not self-intersect; circles include their boundary.
func (z Zone) Contains(c geo.Coordinate) bool {
	switch z.Kind {
	case KindCircle:
		return geo.Distance(z.Center, c) <= z.RadiusMeters
	case KindPolygon:
		b := z.bounds
		if !z.hasBound {
			b = geo.BoundsOf(z.Vertices)
		}
		if !b.Contains(c) {
			return false
		}
		return geo.PointInPolygon(c, z.Vertices)
	}
	return false
}
