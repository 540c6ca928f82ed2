package location

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

// maxSentences bounds how many lines are read while waiting for a fix.
const maxSentences = 64

// ErrNoFix is returned when the sensor produced no sentence with a valid fix.
var ErrNoFix = errors.New("no valid GPS data found")

// DeviceSensorProvider is responsible for retrieving location data from a GPS device connected via serial port.
type DeviceSensorProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication

	mu     sync.Mutex
	serial io.ReadCloser
}

// NewDeviceSensorProvider creates a new instance of DeviceSensorProvider with the specified port and baud rate.
func NewDeviceSensorProvider(port string, baudRate int) *DeviceSensorProvider {
	return &DeviceSensorProvider{
		port:     port,
		baudRate: baudRate,
	}
}

// GetLocation reads GPS data from the device and returns the device's location.
// The port is opened on first use and kept open until Close.
func (d *DeviceSensorProvider) GetLocation(ctx context.Context) (Location, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.serial == nil {
		s, err := serial.OpenPort(&serial.Config{Name: d.port, Baud: d.baudRate, ReadTimeout: 2 * time.Second})
		if err != nil {
			return Location{}, fmt.Errorf("failed to open GPS port %s: %w", d.port, err)
		}
		d.serial = s
	}

	loc, err := ReadFix(ctx, d.serial)
	if err != nil && !errors.Is(err, ErrNoFix) {
		// Reopen on the next call.
		d.serial.Close()
		d.serial = nil
	}
	return loc, err
}

// Close releases the serial port.
func (d *DeviceSensorProvider) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.serial == nil {
		return nil
	}
	err := d.serial.Close()
	d.serial = nil
	return err
}

// ReadFix scans NMEA sentences from r until it finds a GGA or RMC sentence
// with a valid fix. Sentences from any talker (GP, GN, GL) are accepted.
func ReadFix(ctx context.Context, r io.Reader) (Location, error) {
	scanner := bufio.NewScanner(r)
	for i := 0; i < maxSentences && scanner.Scan(); i++ {
		if err := ctx.Err(); err != nil {
			return Location{}, err
		}
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			continue
		}

		switch s := sentence.(type) {
		case nmea.GGA:
			if s.FixQuality == nmea.Invalid {
				continue
			}
			return Location{
				Latitude:  s.Latitude,
				Longitude: s.Longitude,
				Accuracy:  s.HDOP, // Use HDOP as a proxy for accuracy
				NMEA:      line,
			}, nil
		case nmea.RMC:
			if s.Validity != nmea.ValidRMC {
				continue
			}
			return Location{Latitude: s.Latitude, Longitude: s.Longitude, NMEA: line}, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return Location{}, err
	}
	return Location{}, ErrNoFix
}
