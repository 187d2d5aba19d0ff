package location

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/adrianmo/go-nmea"
	"github.com/tarm/serial"
)

// knotsToMetresPerSecond converts NMEA RMC speed over ground.
const knotsToMetresPerSecond = 0.514444

// maxSentences bounds how much serial output is read while waiting for a fix.
const maxSentences = 200

// DeviceSensorProvider is responsible for retrieving location data from a GPS device connected via serial port.
type DeviceSensorProvider struct {
	port     string // Serial port to which the GPS device is connected
	baudRate int    // Baud rate for the serial communication
	open     func(*serial.Config) (io.ReadCloser, error)
}

// NewDeviceSensorProvider creates a new instance of DeviceSensorProvider with the specified port and baud rate.
func NewDeviceSensorProvider(port string, baudRate int) *DeviceSensorProvider {
	return &DeviceSensorProvider{
		port:     port,
		baudRate: baudRate,
		open: func(c *serial.Config) (io.ReadCloser, error) {
			return serial.OpenPort(c)
		},
	}
}

// GetLocation reads NMEA output until a GGA fix arrives. Altitude comes from GGA and
// speed from the most recent valid RMC sentence, when one precedes the fix.
func (d *DeviceSensorProvider) GetLocation(ctx context.Context) (Location, error) {
	s, err := d.open(&serial.Config{Name: d.port, Baud: d.baudRate})
	if err != nil {
		return Location{}, err
	}
	defer s.Close()

	// Closing the port unblocks a pending read when ctx ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-done:
		}
	}()

	loc, err := readFix(s, maxSentences)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return Location{}, ctxErr
	}
	return loc, err
}

// Close releases provider resources. The serial port is only held during GetLocation.
func (d *DeviceSensorProvider) Close() error {
	return nil
}

func readFix(r io.Reader, limit int) (Location, error) {
	var speed *float64

	scanner := bufio.NewScanner(r)
	for i := 0; i < limit && scanner.Scan(); i++ {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "$") {
			continue
		}
		sentence, err := nmea.Parse(line)
		if err != nil {
			continue // partial lines are common right after the port opens
		}

		switch s := sentence.(type) {
		case nmea.RMC:
			if s.Validity == nmea.ValidRMC {
				v := s.Speed * knotsToMetresPerSecond
				speed = &v
			}
		case nmea.GGA:
			if s.FixQuality == nmea.Invalid {
				continue
			}
			altitude := s.Altitude
			return Location{
				Latitude:  s.Latitude,
				Longitude: s.Longitude,
				Accuracy:  s.HDOP, // HDOP as a proxy for accuracy
				Altitude:  &altitude,
				Speed:     speed,
			}, nil
		}
	}

	if err := scanner.Err(); err != nil {
		return Location{}, err
	}
	return Location{}, errors.New("no valid GPS data found")
}
