package location

import (
	"encoding/json"
	"time"
)

// Record is one accepted upload batch. The payload is kept verbatim; the
// surrounding fields are what the server observed when it arrived.
type Record struct {
	ID         string
	ReceivedAt time.Time
	RemoteIP   string
	UserAgent  string
	DeviceID   string
	Locations  int
	Payload    json.RawMessage
}

// Fix is the most recent position extracted from a device's uploads.
type Fix struct {
	DeviceID   string
	Latitude   float64
	Longitude  float64
	Altitude   float64
	Speed      float64
	RecordedAt time.Time
	ReceivedAt time.Time
}

// Stats aggregates archive counters for the operator API.
type Stats struct {
	Batches    int64
	Locations  int64
	Devices    int64
	LastUpload time.Time
}
