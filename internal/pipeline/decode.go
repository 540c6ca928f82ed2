package pipeline

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/adrianmo/go-nmea"
	"github.com/benmeehan/crowdsense/internal/geo"
	"github.com/benmeehan/crowdsense/internal/models"
)

// DecodePing parses a JSON ping. When the payload carries an NMEA sentence its
// fix replaces the coordinate.
func DecodePing(data []byte) (models.Ping, error) {
	var ping models.Ping
	if err := json.Unmarshal(data, &ping); err != nil {
		return models.Ping{}, fmt.Errorf("%w: %v", ErrInvalidPing, err)
	}
	if ping.NMEA == "" {
		return ping, nil
	}
	c, err := CoordinateFromNMEA(ping.NMEA)
	if err != nil {
		return models.Ping{}, err
	}
	ping.Coordinate = c
	ping.NMEA = ""
	return ping, nil
}

// CoordinateFromNMEA extracts the position from a GGA or RMC sentence. Sentences
// without a valid fix are rejected.
func CoordinateFromNMEA(raw string) (geo.Coordinate, error) {
	sentence, err := nmea.Parse(strings.TrimSpace(raw))
	if err != nil {
		return geo.Coordinate{}, fmt.Errorf("%w: nmea: %v", ErrInvalidPing, err)
	}
	switch s := sentence.(type) {
	case nmea.GGA:
		if s.FixQuality == nmea.Invalid {
			return geo.Coordinate{}, fmt.Errorf("%w: nmea: GGA has no fix", ErrInvalidPing)
		}
		return geo.NewCoordinate(s.Latitude, s.Longitude)
	case nmea.RMC:
		if s.Validity != nmea.ValidRMC {
			return geo.Coordinate{}, fmt.Errorf("%w: nmea: RMC fix is not valid", ErrInvalidPing)
		}
		return geo.NewCoordinate(s.Latitude, s.Longitude)
	}
	return geo.Coordinate{}, fmt.Errorf("%w: nmea: unsupported sentence %s", ErrInvalidPing, sentence.DataType())
}
