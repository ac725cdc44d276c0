// Package keys defines the Redis key formats shared by the telemetry,
// hazard-zone, and alert stores.
package keys

import (
	"fmt"
	"strings"
)

func sanitize(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))
	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			out = '_'
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == ':' || r == '_' || r == '-':
			out = r
		default:
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// Reading keys a single sensor observation by sensor id and epoch-second timestamp.
func Reading(sensorID string, ts int64) string {
	return fmt.Sprintf("reading:%s:%d", sanitize(sensorID), ts)
}

// ReadingLatest keys the most recent observation for a sensor, used for
// window queries without a full scan.
func ReadingLatest(sensorID string) string {
	return fmt.Sprintf("reading:latest:%s", sanitize(sensorID))
}

// ReadingSensorIndex is a sorted-set key of a sensor's reading timestamps,
// scored by timestamp, used to page a sensor's window.
func ReadingSensorIndex(sensorID string) string {
	return fmt.Sprintf("idx:reading:%s", sanitize(sensorID))
}

// ReadingGeohashIndex is a sorted-set key of sensor ids observed within a
// geohash cell at the given precision, scored by last-seen timestamp.
func ReadingGeohashIndex(precision int, geohash string) string {
	return fmt.Sprintf("idx:geohash:%d:%s", precision, sanitize(geohash))
}

// ReadingAllSensorsIndex is a sorted-set key of every sensor id that has
// ever reported, scored by last-seen timestamp. DetectRun uses it to page
// the set of sensors active within the detection window without needing
// to know sensor ids ahead of time.
func ReadingAllSensorsIndex() string {
	return "idx:reading:all-sensors"
}

func Zone(zoneID string) string {
	return fmt.Sprintf("zone:%s", sanitize(zoneID))
}

// ZoneGeohashIndex keys the JSON-encoded list of zone ids whose geohash prefix matches,
// used by the hazard-zone index's nearest/within-radius queries.
func ZoneGeohashIndex(precision int, geohash string) string {
	return fmt.Sprintf("idx:zone:%d:%s", precision, sanitize(geohash))
}

func Alert(alertID string) string {
	return fmt.Sprintf("alert:%s", sanitize(alertID))
}

// AlertDedup keys the dedup gate for a detection target: "CLUSTER:<id>" or
// "SENSOR:<id>" as defined by the alert manager's dedup-key rule.
func AlertDedup(dedupKey string) string {
	return fmt.Sprintf("alert:dedup:%s", sanitize(dedupKey))
}

// AlertActiveIndex is a sorted-set key of active alert ids scored by
// updated-at, scanned by the expiry sweep.
func AlertActiveIndex() string {
	return "idx:alert:active"
}
