package geofence

import (
	"testing"

	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var campus = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}

func circle(id string, radius float64, sev Severity) Zone {
	return Zone{ID: id, Name: id, Kind: KindCircle, Center: campus, RadiusMeters: radius, Severity: sev}
}

func unitSquare(id string) Zone {
	return Zone{
		ID:       id,
		Name:     id,
		Kind:     KindPolygon,
		Vertices: []geo.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 0, Longitude: 1}, {Latitude: 1, Longitude: 1}, {Latitude: 1, Longitude: 0}},
		Severity: SeverityMedium,
	}
}

func TestEvaluate_Circle(t *testing.T) {
	zones := []Zone{circle("lab", 100, SeverityHigh)}

	z, ok := Evaluate(geo.OffsetNorth(campus, 50), zones)
	assert.True(t, ok)
	assert.Equal(t, "lab", z.ID)

	_, ok = Evaluate(geo.OffsetNorth(campus, 150), zones)
	assert.False(t, ok)
}

func TestEvaluate_CircleBoundaryIsInside(t *testing.T) {
	edge := geo.OffsetNorth(campus, 100)
	z := circle("lab", geo.Distance(campus, edge), SeverityHigh)
	assert.True(t, z.Contains(edge))
}

func TestEvaluate_Polygon(t *testing.T) {
	zones := []Zone{unitSquare("square").Prepared()}

	_, ok := Evaluate(geo.Coordinate{Latitude: 0.5, Longitude: 0.5}, zones)
	assert.True(t, ok)

	_, ok = Evaluate(geo.Coordinate{Latitude: 2, Longitude: 2}, zones)
	assert.False(t, ok)
}

func TestEvaluate_UnpreparedPolygon(t *testing.T) {
	assert.True(t, unitSquare("square").Contains(geo.Coordinate{Latitude: 0.25, Longitude: 0.75}))
}

func TestEvaluate_FirstMatchInCatalogOrder(t *testing.T) {
	zones := []Zone{
		circle("outer", 500, SeverityLow),
		circle("inner", 50, SeverityHigh),
	}

	z, ok := Evaluate(campus, zones)
	require.True(t, ok)
	assert.Equal(t, "outer", z.ID)

	z, ok = Evaluate(campus, SortBySeverity(zones))
	require.True(t, ok)
	assert.Equal(t, "inner", z.ID)
}

func TestEvaluate_EmptyCatalog(t *testing.T) {
	_, ok := Evaluate(campus, nil)
	assert.False(t, ok)
	assert.Empty(t, EvaluateAll(campus, nil))
}

func TestEvaluateAll(t *testing.T) {
	zones := []Zone{
		circle("outer", 500, SeverityLow),
		unitSquare("far"),
		circle("inner", 50, SeverityHigh),
	}
	matches := EvaluateAll(campus, zones)
	require.Len(t, matches, 2)
	assert.Equal(t, "outer", matches[0].ID)
	assert.Equal(t, "inner", matches[1].ID)
}

func TestSortBySeverity_StableAndCopy(t *testing.T) {
	zones := []Zone{
		circle("a", 1, SeverityLow),
		circle("b", 1, SeverityHigh),
		circle("c", 1, SeverityMedium),
		circle("d", 1, SeverityHigh),
	}
	sorted := SortBySeverity(zones)

	ids := make([]string, 0, len(sorted))
	for _, z := range sorted {
		ids = append(ids, z.ID)
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids)
	assert.Equal(t, "a", zones[0].ID)
}

func TestZone_Validate(t *testing.T) {
	cases := []struct {
		name string
		zone Zone
		ok   bool
	}{
		{"circle", circle("c", 10, SeverityLow), true},
		{"polygon", unitSquare("p"), true},
		{"missing id", circle("", 10, SeverityLow), false},
		{"zero radius", circle("c", 0, SeverityLow), false},
		{"bad severity", circle("c", 10, "extreme"), false},
		{"bad kind", Zone{ID: "x", Kind: "line", Severity: SeverityLow}, false},
		{"two vertices", Zone{ID: "x", Kind: KindPolygon, Vertices: []geo.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 1, Longitude: 1}}, Severity: SeverityLow}, false},
		{"bad vertex", Zone{ID: "x", Kind: KindPolygon, Vertices: []geo.Coordinate{{Latitude: 0, Longitude: 0}, {Latitude: 1, Longitude: 1}, {Latitude: 95, Longitude: 0}}, Severity: SeverityLow}, false},
		{"bad center", Zone{ID: "x", Kind: KindCircle, Center: geo.Coordinate{Latitude: 0, Longitude: 200}, RadiusMeters: 5, Severity: SeverityLow}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.zone.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
