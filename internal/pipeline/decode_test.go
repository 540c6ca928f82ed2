package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePing_JSON(t *testing.T) {
	ping, err := DecodePing([]byte(`{"deviceToken":"abc","coordinate":{"latitude":12.9716,"longitude":77.5946},"timestamp":"2026-03-02T09:00:00Z"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", ping.DeviceToken)
	assert.Equal(t, 12.9716, ping.Coordinate.Latitude)
	assert.Equal(t, time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC), ping.Timestamp)
}

func TestDecodePing_Malformed(t *testing.T) {
	_, err := DecodePing([]byte(`{"deviceToken":`))
	assert.ErrorIs(t, err, ErrInvalidPing)
}

func TestDecodePing_NMEAGGA(t *testing.T) {
	ping, err := DecodePing([]byte(`{"deviceToken":"abc","nmea":"$GPGGA,172814.0,3723.46587704,N,12202.26957864,W,2,6,1.2,18.893,M,-25.669,M,2.0,0031*4F"}`))
	require.NoError(t, err)
	assert.InDelta(t, 37.391098, ping.Coordinate.Latitude, 1e-5)
	assert.InDelta(t, -122.037826, ping.Coordinate.Longitude, 1e-5)
	assert.Empty(t, ping.NMEA)
}

func TestCoordinateFromNMEA_RMC(t *testing.T) {
	c, err := CoordinateFromNMEA("$GPRMC,220516,A,5133.82,N,00042.24,W,173.8,231.8,130694,004.2,W*70")
	require.NoError(t, err)
	assert.InDelta(t, 51.563667, c.Latitude, 1e-5)
	assert.InDelta(t, -0.704, c.Longitude, 1e-5)
}

func TestCoordinateFromNMEA_Invalid(t *testing.T) {
	_, err := CoordinateFromNMEA("$GPGGA,garbage")
	assert.ErrorIs(t, err, ErrInvalidPing)
}
