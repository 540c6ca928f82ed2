package location

// Location represents the geographical coordinates of a device
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64
	// NMEA is the raw sentence the fix was read from, when it came from a GPS sensor.
	NMEA string
}
