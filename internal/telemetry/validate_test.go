package telemetry

import (
	"errors"
	"strings"
	"testing"

	"github.com/openlews/openlews/internal/apperr"
)

func validReading() RawReading {
	return RawReading{
		SensorID:        "sensor-001",
		Timestamp:       int64(1700000000),
		Latitude:        6.9271,
		Longitude:       79.8612,
		MoisturePercent: 40,
		TiltRateMMHr:    1,
		VibrationCount:  2,
		SafetyFactor:    1.5,
		BatteryPercent:  90,
	}
}

func TestValidate_HappyPath(t *testing.T) {
	r, verr := Validate(validReading())
	if verr != nil {
		t.Fatalf("unexpected validation error: %v", verr)
	}
	if r.SensorID != "sensor-001" || r.Timestamp != 1700000000 {
		t.Fatalf("unexpected reading: %+v", r)
	}
}

func TestValidate_MissingSensorID(t *testing.T) {
	r := validReading()
	r.SensorID = ""
	_, verr := Validate(r)
	if verr == nil || verr.Kind != apperr.MissingField {
		t.Fatalf("expected MissingField, got %+v", verr)
	}
	if !errors.Is(verr, apperr.ValidationError) {
		t.Fatalf("expected errors.Is(verr, ValidationError) to hold")
	}
}

func TestValidate_ShortSensorID(t *testing.T) {
	r := validReading()
	r.SensorID = "ab"
	_, verr := Validate(r)
	if verr == nil || verr.Kind != apperr.ShortIdentifier {
		t.Fatalf("expected ShortIdentifier, got %+v", verr)
	}
}

func TestValidate_OutOfRangeLatitude(t *testing.T) {
	r := validReading()
	r.Latitude = 91
	_, verr := Validate(r)
	if verr == nil || verr.Kind != apperr.OutOfRange || verr.Field != "latitude" {
		t.Fatalf("expected OutOfRange on latitude, got %+v", verr)
	}
}

func TestValidate_TimestampAcceptsISO8601(t *testing.T) {
	r := validReading()
	r.Timestamp = "2023-11-14T22:13:20Z"
	got, verr := Validate(r)
	if verr != nil {
		t.Fatalf("unexpected validation error: %v", verr)
	}
	if got.Timestamp != 1700000000 {
		t.Fatalf("Timestamp = %d, want 1700000000", got.Timestamp)
	}
}

func TestValidate_InvalidTimestamp(t *testing.T) {
	r := validReading()
	r.Timestamp = "not-a-date"
	_, verr := Validate(r)
	if verr == nil || verr.Kind != apperr.InvalidTimestamp {
		t.Fatalf("expected InvalidTimestamp, got %+v", verr)
	}
}

func TestValidate_TimestampOutOfEpochBounds(t *testing.T) {
	r := validReading()
	r.Timestamp = int64(1000000000) // before 2020-01-01
	_, verr := Validate(r)
	if verr == nil || verr.Kind != apperr.InvalidTimestamp {
		t.Fatalf("expected InvalidTimestamp for pre-2020 epoch, got %+v", verr)
	}
}

func TestValidate_OutOfRangeMoisture(t *testing.T) {
	r := validReading()
	r.MoisturePercent = 105
	_, verr := Validate(r)
	if verr == nil || verr.Kind != apperr.OutOfRange {
		t.Fatalf("expected OutOfRange, got %+v", verr)
	}
	if !errors.Is(verr, apperr.ValidationError) {
		t.Fatalf("expected errors.Is(verr, ValidationError) to hold")
	}
	if !strings.Contains(verr.Error(), "out of range") {
		t.Fatalf("expected message to mention 'out of range', got %q", verr.Error())
	}
}

func TestValidate_ShortGeohashRejected(t *testing.T) {
	r := validReading()
	r.Geohash = "abc"
	_, verr := Validate(r)
	if verr == nil || verr.Kind != apperr.ShortIdentifier || verr.Field != "geohash" {
		t.Fatalf("expected ShortIdentifier on geohash, got %+v", verr)
	}
}

func TestValidate_GeohashCarriedThrough(t *testing.T) {
	r := validReading()
	r.Geohash = "tc1xyz"
	got, verr := Validate(r)
	if verr != nil {
		t.Fatalf("unexpected validation error: %v", verr)
	}
	if got.Geohash != "tc1xyz" {
		t.Fatalf("Geohash = %q, want tc1xyz", got.Geohash)
	}
}
