// Package telemetry implements the reading validator and hazard-zone
// enricher that sit between the ingest HTTP endpoint and the telemetry
// store.
package telemetry

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/openlews/openlews/internal/apperr"
	"github.com/openlews/openlews/internal/model"
)

var errInvalidTimestamp = errors.New("timestamp must be epoch seconds or an ISO-8601 string")

const minSensorIDLen = 3

// Epoch bounds from spec §3: 2020-01-01T00:00:00Z .. 2038-01-19T03:14:07Z.
const (
	minTimestampEpoch int64 = 1577836800
	maxTimestampEpoch int64 = 2147483647
)

// RawReading is the wire shape accepted from the ingest endpoint: the same
// fields as model.Reading, but Timestamp may be either a numeric epoch or
// an ISO-8601 string, normalised to int64 seconds by Validate.
type RawReading struct {
	SensorID          string
	Timestamp         any
	Latitude          float64
	Longitude         float64
	Geohash           string
	MoisturePercent   float64
	TiltXDegrees      float64
	TiltYDegrees      float64
	TiltRateMMHr      float64
	PorePressureKPa   float64
	VibrationCount    float64
	VibrationBaseline *float64
	SafetyFactor      float64
	Rainfall24hMM     *float64
	BatteryPercent    float64
	TemperatureC      float64
}

// Validate checks shape/range/timestamp rules and, on success, returns a
// model.Reading with Timestamp normalised to epoch seconds.
func Validate(r RawReading) (model.Reading, *apperr.ValidationFailure) {
	sensorID := strings.TrimSpace(r.SensorID)
	if sensorID == "" {
		return model.Reading{}, apperr.NewValidationFailure(apperr.MissingField, "sensor_id", "sensor_id is required")
	}
	if len(sensorID) < minSensorIDLen {
		return model.Reading{}, apperr.NewValidationFailure(apperr.ShortIdentifier, "sensor_id", "sensor_id must be at least 3 characters")
	}

	ts, err := normalizeTimestamp(r.Timestamp)
	if err != nil {
		return model.Reading{}, apperr.NewValidationFailure(apperr.InvalidTimestamp, "timestamp", err.Error())
	}
	if ts < minTimestampEpoch || ts > maxTimestampEpoch {
		return model.Reading{}, apperr.NewValidationFailure(apperr.InvalidTimestamp, "timestamp", "must fall within [2020-01-01, 2038-01-19]")
	}

	if r.Latitude < -90 || r.Latitude > 90 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "latitude", "out of range: must be in [-90, 90]")
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "longitude", "out of range: must be in [-180, 180]")
	}
	geohash := strings.TrimSpace(r.Geohash)
	if geohash != "" && len(geohash) < 4 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.ShortIdentifier, "geohash", "geohash must be at least 4 characters")
	}
	if r.MoisturePercent < 0 || r.MoisturePercent > 100 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "moisture_percent", "out of range: must be in [0, 100]")
	}
	if r.TiltXDegrees < -30 || r.TiltXDegrees > 30 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "tilt_x_degrees", "out of range: must be in [-30, 30]")
	}
	if r.TiltYDegrees < -30 || r.TiltYDegrees > 30 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "tilt_y_degrees", "out of range: must be in [-30, 30]")
	}
	if r.TiltRateMMHr < 0 || r.TiltRateMMHr > 50 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "tilt_rate_mm_hr", "out of range: must be in [0, 50]")
	}
	if r.PorePressureKPa < -100 || r.PorePressureKPa > 50 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "pore_pressure_kpa", "out of range: must be in [-100, 50]")
	}
	if r.VibrationCount < 0 || r.VibrationCount > 1000 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "vibration_count", "out of range: must be in [0, 1000]")
	}
	if r.VibrationBaseline != nil && *r.VibrationBaseline < 0 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "vibration_baseline", "out of range: must be non-negative")
	}
	if r.SafetyFactor < 0 || r.SafetyFactor > 10 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "safety_factor", "out of range: must be in [0, 10]")
	}
	if r.Rainfall24hMM != nil && *r.Rainfall24hMM < 0 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "rainfall_24h_mm", "out of range: must be non-negative")
	}
	if r.BatteryPercent < 0 || r.BatteryPercent > 100 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "battery_percent", "out of range: must be in [0, 100]")
	}
	if r.TemperatureC < -10 || r.TemperatureC > 50 {
		return model.Reading{}, apperr.NewValidationFailure(apperr.OutOfRange, "temperature_c", "out of range: must be in [-10, 50]")
	}

	return model.Reading{
		SensorID:          sensorID,
		Timestamp:         ts,
		Latitude:          r.Latitude,
		Longitude:         r.Longitude,
		Geohash:           geohash,
		MoisturePercent:   r.MoisturePercent,
		TiltXDegrees:      r.TiltXDegrees,
		TiltYDegrees:      r.TiltYDegrees,
		TiltRateMMHr:      r.TiltRateMMHr,
		PorePressureKPa:   r.PorePressureKPa,
		VibrationCount:    r.VibrationCount,
		VibrationBaseline: r.VibrationBaseline,
		SafetyFactor:      r.SafetyFactor,
		Rainfall24hMM:     r.Rainfall24hMM,
		BatteryPercent:    r.BatteryPercent,
		TemperatureC:      r.TemperatureC,
	}, nil
}

func normalizeTimestamp(v any) (int64, error) {
	switch t := v.(type) {
	case nil:
		return 0, errInvalidTimestamp
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case float64:
		return int64(t), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, errInvalidTimestamp
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts.Unix(), nil
		}
		if ts, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
			return ts.Unix(), nil
		}
		return 0, errInvalidTimestamp
	default:
		return 0, errInvalidTimestamp
	}
}
