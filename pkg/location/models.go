package location

// Location represents a position fix reported by a provider.
type Location struct {
	Latitude  float64
	Longitude float64
	Accuracy  float64  // Metres, or HDOP for GPS fixes
	Altitude  *float64 // Metres above mean sea level, nil when unknown
	Speed     *float64 // Metres per second, nil when unknown
}
