package models

// LocationSample represents a single GPS observation produced by the device.
type LocationSample struct {
	Latitude  float64  `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude float64  `json:"longitude" validate:"gte=-180,lte=180"`
	Altitude  *float64 `json:"altitude"`
	Speed     *float64 `json:"speed"`
	Timestamp int64    `json:"timestamp" validate:"gt=0"` // Epoch milliseconds; 0 means unset
	DeviceID  string   `json:"deviceId" validate:"required"`
}

// LocationRecord is a LocationSample as stored and echoed back by the backend.
type LocationRecord struct {
	ID int64 `json:"id"`
	LocationSample
	CreatedAt int64 `json:"createdAt"` // Epoch milliseconds, server clock
}

// CachedLocation is a LocationSample mirrored into the local read cache.
type CachedLocation struct {
	LocationSample
	SavedAt int64 `json:"savedAt"`
}

// DeleteFilter selects records with a timestamp strictly older than OlderThan.
type DeleteFilter struct {
	OlderThan int64 `json:"olderThan" validate:"gte=0"`
}
