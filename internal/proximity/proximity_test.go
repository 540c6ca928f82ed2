package proximity

import (
	"testing"

	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var origin = geo.Coordinate{Latitude: 12.9716, Longitude: 77.5946}

func TestNearest_PicksCloser(t *testing.T) {
	locations := []Location{
		{ID: "far", Kind: KindExit, Coordinate: geo.OffsetNorth(origin, 1200)},
		{ID: "near", Kind: KindMedical, Coordinate: geo.OffsetNorth(origin, -500)},
	}

	res, ok := Nearest(origin, locations)
	require.True(t, ok)
	assert.Equal(t, "near", res.Location.ID)
	assert.InDelta(t, 500, res.DistanceMeters, 1)
}

func TestNearest_EmptyCatalog(t *testing.T) {
	_, ok := Nearest(origin, nil)
	assert.False(t, ok)
}

func TestNearest_TieKeepsFirst(t *testing.T) {
	p := geo.OffsetNorth(origin, 300)
	locations := []Location{
		{ID: "first", Coordinate: p},
		{ID: "second", Coordinate: p},
	}

	res, ok := Nearest(origin, locations)
	require.True(t, ok)
	assert.Equal(t, "first", res.Location.ID)
}

func TestNearestOfKind(t *testing.T) {
	locations := []Location{
		{ID: "exit", Kind: KindExit, Coordinate: geo.OffsetNorth(origin, 100)},
		{ID: "clinic", Kind: KindMedical, Coordinate: geo.OffsetNorth(origin, 900)},
	}

	res, ok := NearestOfKind(origin, locations, KindMedical)
	require.True(t, ok)
	assert.Equal(t, "clinic", res.Location.ID)

	_, ok = NearestOfKind(origin, locations, KindSecurity)
	assert.False(t, ok)
}

func TestWalkingMinutes(t *testing.T) {
	assert.Equal(t, 0, WalkingMinutes(0))
	assert.Equal(t, 0, WalkingMinutes(-10))
	assert.Equal(t, 12, WalkingMinutes(1000))
	assert.Equal(t, 6, WalkingMinutes(500))
	assert.Equal(t, 60, WalkingMinutes(5000))
}

func TestKind_Valid(t *testing.T) {
	assert.True(t, KindMedical.Valid())
	assert.True(t, KindExit.Valid())
	assert.False(t, Kind("pharmacy").Valid())
}
