package models

import (
	"time"

	"github.com/benmeehan/crowdsense/internal/geo"
)

// Ping is an anonymous location report sent by a device. DeviceToken is an
// opaque, app-rotated token and is never persisted.
type Ping struct {
	DeviceToken string         `json:"deviceToken" validate:"required,max=256"`
	Coordinate  geo.Coordinate `json:"coordinate"`
	Timestamp   time.Time      `json:"timestamp"`
	Accuracy    float64        `json:"accuracy,omitempty" validate:"gte=0"`
	// NMEA optionally carries a raw GGA or RMC sentence from the device GPS in
	// place of Coordinate.
	NMEA string `json:"nmea,omitempty"`
}
