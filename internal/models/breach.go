package models

import (
	"time"

	"github.com/benmeehan/crowdsense/internal/geo"
)

// BreachEvent is emitted when a ping falls inside a restricted zone. It carries
// no device identity; EventID lets consumers drop duplicate deliveries.
type BreachEvent struct {
	EventID     string         `json:"eventId"`
	ZoneID      string         `json:"zoneId"`
	ZoneName    string         `json:"zoneName"`
	Severity    string         `json:"severity"`
	Description string         `json:"description,omitempty"`
	Coordinate  geo.Coordinate `json:"coordinate"`
	OccurredAt  time.Time      `json:"occurredAt"`
}
