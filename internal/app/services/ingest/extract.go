package ingest

import (
	"time"

	"github.com/tidwall/gjson"

	"github.com/overland-tools/overlandd/internal/app/domain/location"
)

// batchSummary is what the pipeline derives from an opaque payload: the
// payload itself is journaled verbatim, these fields feed the secondary sinks.
type batchSummary struct {
	deviceID string
	count    int
	fixes    []location.Fix
}

// summarize walks the Overland GeoJSON shape without binding the payload to a
// schema. A locations value that is not an array yields an empty summary; the
// batch is still journaled verbatim.
func summarize(payload []byte, receivedAt time.Time) batchSummary {
	var out batchSummary

	locs := gjson.GetBytes(payload, "locations")
	if !locs.IsArray() {
		return out
	}

	best := make(map[string]location.Fix)
	locs.ForEach(func(_, loc gjson.Result) bool {
		out.count++

		deviceID := loc.Get("properties.device_id").String()
		if deviceID != "" && out.deviceID == "" {
			out.deviceID = deviceID
		}

		fix, ok := fixFrom(loc, deviceID, receivedAt)
		if !ok {
			return true
		}
		if cur, seen := best[deviceID]; !seen || !fix.RecordedAt.Before(cur.RecordedAt) {
			best[deviceID] = fix
		}
		return true
	})

	for _, fix := range best {
		out.fixes = append(out.fixes, fix)
	}
	return out
}

// fixFrom extracts one fix from a GeoJSON feature. Coordinates follow the
// GeoJSON order: longitude first, then latitude, then optional altitude.
func fixFrom(loc gjson.Result, deviceID string, receivedAt time.Time) (location.Fix, bool) {
	if deviceID == "" {
		return location.Fix{}, false
	}
	coords := loc.Get("geometry.coordinates").Array()
	if len(coords) < 2 {
		return location.Fix{}, false
	}

	fix := location.Fix{
		DeviceID:   deviceID,
		Longitude:  coords[0].Float(),
		Latitude:   coords[1].Float(),
		ReceivedAt: receivedAt,
	}
	if len(coords) > 2 {
		fix.Altitude = coords[2].Float()
	} else if alt := loc.Get("properties.altitude"); alt.Exists() {
		fix.Altitude = alt.Float()
	}
	if speed := loc.Get("properties.speed"); speed.Exists() && speed.Float() >= 0 {
		fix.Speed = speed.Float()
	}
	if ts := loc.Get("properties.timestamp").String(); ts != "" {
		if parsed, err := time.Parse(time.RFC3339, ts); err == nil {
			fix.RecordedAt = parsed.UTC()
		}
	}
	return fix, true
}
