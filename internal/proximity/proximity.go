package proximity

import (
	"math"

	"github.com/benmeehan/crowdsense/internal/geo"
)

// Kind is the type of emergency resource.
type Kind string

const (
	KindMedical  Kind = "medical"
	KindSecurity Kind = "security"
	KindExit     Kind = "exit"
)

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindMedical, KindSecurity, KindExit:
		return true
	}
	return false
}

// WalkingSpeedKmh is the pace used for straight line walking estimates.
const WalkingSpeedKmh = 5.0

// Location is an emergency resource such as a first aid room or an exit.
type Location struct {
	ID         string         `json:"id" yaml:"id"`
	Name       string         `json:"name" yaml:"name"`
	Coordinate geo.Coordinate `json:"coordinate" yaml:"coordinate"`
	Kind       Kind           `json:"kind" yaml:"kind"`
	Priority   int            `json:"priority" yaml:"priority"`
}

// Result is the nearest location and its distance.
type Result struct {
	Location       Location `json:"location"`
	DistanceMeters float64  `json:"distanceMeters"`
}

// Nearest scans locations and returns the closest one to c. Ties keep the first
// location seen. It reports false only when locations is empty.
func Nearest(c geo.Coordinate, locations []Location) (Result, bool) {
	return nearest(c, locations, func(Location) bool { return true })
}

// NearestOfKind is Nearest restricted to locations of the given kind.
func NearestOfKind(c geo.Coordinate, locations []Location, kind Kind) (Result, bool) {
	return nearest(c, locations, func(l Location) bool { return l.Kind == kind })
}

func nearest(c geo.Coordinate, locations []Location, keep func(Location) bool) (Result, bool) {
	var best Result
	found := false
	for _, l := range locations {
		if !keep(l) {
			continue
		}
		d := geo.Distance(c, l.Coordinate)
		if !found || d < best.DistanceMeters {
			best = Result{Location: l, DistanceMeters: d}
			found = true
		}
	}
	return best, found
}

// WalkingMinutes estimates the walking time for a straight line distance,
// rounded to the nearest minute.
func WalkingMinutes(distanceMeters float64) int {
	if distanceMeters <= 0 {
		return 0
	}
	metersPerMinute := WalkingSpeedKmh * 1000 / 60
	return int(math.Round(distanceMeters / metersPerMinute))
}
