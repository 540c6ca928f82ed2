package geofence

import (
	"sort"

	"github.com/benmeehan/crowdsense/internal/geo"
)

// Evaluate returns the first zone, in catalog order, that contains c. An empty
// catalog never matches.
func Evaluate(c geo.Coordinate, zones []Zone) (Zone, bool) {
	for _, z := range zones {
		if z.Contains(c) {
			return z, true
		}
	}
	return Zone{}, false
}

// EvaluateAll returns every zone that contains c, in catalog order.
func EvaluateAll(c geo.Coordinate, zones []Zone) []Zone {
	var matches []Zone
	for _, z := range zones {
		if z.Contains(c) {
			matches = append(matches, z)
		}
	}
	return matches
}

// SortBySeverity returns a copy of zones ordered from high to low severity.
// Zones of equal severity keep their catalog order, so Evaluate over the result
// yields the most severe match.
func SortBySeverity(zones []Zone) []Zone {
	out := make([]Zone, len(zones))
	copy(out, zones)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Severity.Rank() > out[j].Severity.Rank()
	})
	return out
}
