package geo

// Bounds is an axis-aligned latitude/longitude rectangle.
type Bounds struct {
	North float64 `json:"north" yaml:"north"`
	South float64 `json:"south" yaml:"south"`
	East  float64 `json:"east" yaml:"east"`
	West  float64 `json:"west" yaml:"west"`
}

// Contains reports whether c lies inside or on the edge of b.
func (b Bounds) Contains(c Coordinate) bool {
	return c.Latitude >= b.South && c.Latitude <= b.North &&
		c.Longitude >= b.West && c.Longitude <= b.East
}

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() Coordinate {
	return Coordinate{
		Latitude:  (b.North + b.South) / 2,
		Longitude: (b.East + b.West) / 2,
	}
}

// BoundsOf returns the bounding box of the given vertices.
func BoundsOf(vertices []Coordinate) Bounds {
	if len(vertices) == 0 {
		return Bounds{}
	}
	b := Bounds{North: -90, South: 90, East: -180, West: 180}
	for _, v := range vertices {
		if v.Latitude > b.North {
			b.North = v.Latitude
		}
		if v.Latitude < b.South {
			b.South = v.Latitude
		}
		if v.Longitude > b.East {
			b.East = v.Longitude
		}
		if v.Longitude < b.West {
			b.West = v.Longitude
		}
	}
	return b
}

// PointInPolygon applies the even-odd ray casting rule to the ordered vertex ring.
// The ring must describe a simple polygon; the closing edge is implicit.
// Results for self-intersecting rings are undefined.
func PointInPolygon(pt Coordinate, ring []Coordinate) bool {
	n := len(ring)
	if n < 3 {
		return false
	}
	x, y := pt.Longitude, pt.Latitude
	inside := false
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		xi, yi := ring[i].Longitude, ring[i].Latitude
		xj, yj := ring[j].Longitude, ring[j].Latitude
		// (yi > y) != (yj > y) guarantees yj != yi, so the division is safe.
		if (yi > y) != (yj > y) && x < (xj-xi)*(y-yi)/(yj-yi)+xi {
			inside = !inside
		}
	}
	return inside
}
