package location

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
	"googlemaps.github.io/maps"
)

const (
	rmcValid   = "$GPRMC,123519,A,4807.038,N,01131.000,E,022.4,084.4,230394,003.1,W*6A"
	ggaFix     = "$GPGGA,123519,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*47"
	ggaNoFix   = "$GPGGA,123520,,,,,0,00,,,M,,M,,*61"
	gnggaFix   = "$GNGGA,123521,4807.038,N,01131.000,E,1,08,0.9,545.4,M,46.9,M,,*52"
	garbageRow = "$GPGGA,12351"
)

func TestReadFix_GGAWithPrecedingRMC(t *testing.T) {
	input := strings.Join([]string{garbageRow, rmcValid, ggaNoFix, ggaFix}, "\r\n")

	loc, err := readFix(strings.NewReader(input), maxSentences)

	require.NoError(t, err)
	assert.InDelta(t, 48.1173, loc.Latitude, 0.0001)
	assert.InDelta(t, 11.5167, loc.Longitude, 0.0001)
	assert.InDelta(t, 0.9, loc.Accuracy, 0.0001)
	require.NotNil(t, loc.Altitude)
	assert.InDelta(t, 545.4, *loc.Altitude, 0.0001)
	require.NotNil(t, loc.Speed)
	assert.InDelta(t, 22.4*knotsToMetresPerSecond, *loc.Speed, 0.0001)
}

func TestReadFix_MultiConstellationTalker(t *testing.T) {
	loc, err := readFix(strings.NewReader(gnggaFix+"\n"), maxSentences)

	require.NoError(t, err)
	assert.Nil(t, loc.Speed)
	assert.InDelta(t, 48.1173, loc.Latitude, 0.0001)
}

func TestReadFix_NoFix(t *testing.T) {
	_, err := readFix(strings.NewReader(ggaNoFix+"\n"+ggaNoFix+"\n"), maxSentences)
	assert.Error(t, err)
}

type nopPort struct{ io.Reader }

func (nopPort) Close() error { return nil }

func TestDeviceSensorProvider_GetLocation(t *testing.T) {
	p := NewDeviceSensorProvider("/dev/ttyFAKE", 9600)
	p.open = func(c *serial.Config) (io.ReadCloser, error) {
		assert.Equal(t, "/dev/ttyFAKE", c.Name)
		assert.Equal(t, 9600, c.Baud)
		return nopPort{strings.NewReader(ggaFix + "\n")}, nil
	}

	loc, err := p.GetLocation(context.Background())

	require.NoError(t, err)
	assert.InDelta(t, 48.1173, loc.Latitude, 0.0001)
	assert.NoError(t, p.Close())
}

func TestDeviceSensorProvider_OpenFailure(t *testing.T) {
	p := NewDeviceSensorProvider("/dev/ttyFAKE", 9600)
	p.open = func(*serial.Config) (io.ReadCloser, error) { return nil, errors.New("no such device") }

	_, err := p.GetLocation(context.Background())
	assert.Error(t, err)
}

func TestGoogleGeolocationProvider_GetLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "geolocate")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"location":{"lat":51.5,"lng":-0.12},"accuracy":25}`))
	}))
	defer srv.Close()

	p, err := NewGoogleGeolocationProvider("test-key", maps.WithBaseURL(srv.URL))
	require.NoError(t, err)
	p.scanWiFi = func(context.Context) ([]maps.WiFiAccessPoint, error) { return nil, errors.New("nmcli not found") }
	p.scanCells = func(context.Context, int) ([]maps.CellTower, error) { return nil, errors.New("mmcli not found") }

	loc, err := p.GetLocation(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 51.5, loc.Latitude)
	assert.Equal(t, -0.12, loc.Longitude)
	assert.Equal(t, 25.0, loc.Accuracy)
	assert.Nil(t, loc.Altitude)
}

func TestParseNmcliWiFi(t *testing.T) {
	output := `AA\:BB\:CC\:DD\:EE\:FF:72
00\:14\:22\:01\:23\:45:40
not-a-mac:10
AA\:BB\:CC\:DD\:EE\:F0:weak
`
	aps, err := parseNmcliWiFi(output)

	require.NoError(t, err)
	require.Len(t, aps, 2)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", aps[0].MACAddress)
	assert.Equal(t, 72.0, aps[0].SignalStrength)
	assert.Equal(t, "00:14:22:01:23:45", aps[1].MACAddress)
}

func TestParseMmcliCell(t *testing.T) {
	output := `modem.location.3gpp.mcc : 262
modem.location.3gpp.mnc : 01
modem.location.3gpp.lac : 0000
modem.location.3gpp.tac : 00A1B2
modem.location.3gpp.cid : 01A2B3C4
modem.location.gps.nmea : --
`
	towers, err := parseMmcliCell(output)

	require.NoError(t, err)
	require.Len(t, towers, 1)
	assert.Equal(t, 262, towers[0].MobileCountryCode)
	assert.Equal(t, 1, towers[0].MobileNetworkCode)
	assert.Equal(t, 0xA1B2, towers[0].LocationAreaCode)
	assert.Equal(t, 0x01A2B3C4, towers[0].CellID)
}

func TestParseMmcliCell_Incomplete(t *testing.T) {
	_, err := parseMmcliCell("modem.location.3gpp.mcc : --\n")
	assert.Error(t, err)
}

func TestIsValidMAC(t *testing.T) {
	assert.True(t, isValidMAC("FF:FF:FF:FF:FF:FF"))
	assert.False(t, isValidMAC("FF:FF:FF:FF:FF"))
	assert.False(t, isValidMAC("GG:FF:FF:FF:FF:FF"))
}
