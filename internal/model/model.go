// Package model defines the domain types shared across the ingest and
// detection pipelines.
package model

import "time"

// HazardLevel is a total order over hazard-zone severity.
type HazardLevel int

const (
	HazardUnknown HazardLevel = iota
	HazardLow
	HazardModerate
	HazardHigh
	HazardVeryHigh
)

func (h HazardLevel) String() string {
	switch h {
	case HazardLow:
		return "Low"
	case HazardModerate:
		return "Moderate"
	case HazardHigh:
		return "High"
	case HazardVeryHigh:
		return "VeryHigh"
	default:
		return "Unknown"
	}
}

// ParseHazardLevel maps a label back to its ordinal; unknown labels become HazardUnknown.
func ParseHazardLevel(s string) HazardLevel {
	switch s {
	case "Low":
		return HazardLow
	case "Moderate":
		return HazardModerate
	case "High":
		return HazardHigh
	case "VeryHigh":
		return HazardVeryHigh
	default:
		return HazardUnknown
	}
}

// RiskLevel is the operator-facing ordinal, distinct from the [0,1] composite score.
type RiskLevel int

const (
	RiskYellow RiskLevel = iota
	RiskOrange
	RiskRed
)

func (r RiskLevel) String() string {
	switch r {
	case RiskOrange:
		return "Orange"
	case RiskRed:
		return "Red"
	default:
		return "Yellow"
	}
}

// ParseRiskLevel maps a label to its ordinal. Unrecognized labels fall back to Yellow.
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "Orange":
		return RiskOrange
	case "Red":
		return RiskRed
	default:
		return RiskYellow
	}
}

// AlertStatus is the alert lifecycle state.
type AlertStatus string

const (
	AlertActive       AlertStatus = "active"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertExpired      AlertStatus = "expired"
)

// TimeToFailure buckets the LLM's estimate of lead time before failure.
type TimeToFailure string

const (
	TTFHours   TimeToFailure = "hours"
	TTFDays    TimeToFailure = "days"
	TTFUnknown TimeToFailure = "unknown"
)

// DetectionType distinguishes a multi-sensor cluster alert from a lone-sensor alert.
type DetectionType string

const (
	DetectionCluster    DetectionType = "cluster"
	DetectionIndividual DetectionType = "individual"
)

// BoundingBox is an inclusive lat/lon rectangle.
type BoundingBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Contains is an inclusive point-in-bbox test.
func (b BoundingBox) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Reading is a single sensor observation. Readings are immutable once stored.
type Reading struct {
	SensorID string `json:"sensor_id"`
	// Timestamp is epoch seconds, normalized by the validator from either
	// a numeric or ISO-8601 input.
	Timestamp int64   `json:"timestamp"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Geohash   string  `json:"geohash"`

	MoisturePercent   float64  `json:"moisture_percent"`
	TiltXDegrees      float64  `json:"tilt_x_degrees"`
	TiltYDegrees      float64  `json:"tilt_y_degrees"`
	TiltRateMMHr      float64  `json:"tilt_rate_mm_hr"`
	PorePressureKPa   float64  `json:"pore_pressure_kpa"`
	VibrationCount    float64  `json:"vibration_count"`
	VibrationBaseline *float64 `json:"vibration_baseline,omitempty"`
	SafetyFactor      float64  `json:"safety_factor"`
	Rainfall24hMM     *float64 `json:"rainfall_24h_mm,omitempty"`
	BatteryPercent    float64  `json:"battery_percent"`
	TemperatureC      float64  `json:"temperature_c"`

	ZoneRef  *HazardZone `json:"zone_ref,omitempty"`
	Enriched bool        `json:"enriched"`

	IngestedAt int64 `json:"ingested_at"`
	Expiry     int64 `json:"expiry"`
}

// HazardZone is a hazard polygon's projection into index form. Zones are
// created by an external loader; the core only reads them.
type HazardZone struct {
	ZoneID      string      `json:"zone_id"`
	HazardLevel HazardLevel `json:"hazard_level"`
	CentroidLat float64     `json:"centroid_lat"`
	CentroidLon float64     `json:"centroid_lon"`
	Geohash4    string      `json:"geohash4"`
	Geohash6    string      `json:"geohash6"`
	BoundingBox BoundingBox `json:"bounding_box"`

	District    string `json:"district,omitempty"`
	DSDivision  string `json:"ds_division,omitempty"`
	GNDivision  string `json:"gn_division,omitempty"`
	SoilType    string `json:"soil_type"`
	LandUse     string `json:"land_use,omitempty"`
	LandslideType string `json:"landslide_type,omitempty"`
	AreaSqm     float64 `json:"area_sqm"`
	Version     int     `json:"version"`
}

// SensorAnalysis is ephemeral output of a single detection run.
type SensorAnalysis struct {
	SensorID            string
	Reading             Reading
	BaseRisk            float64
	SpatialCorrelation  float64
	CompositeRisk       float64
	NeighbourIDs        []string
	ZoneContext         *HazardZone
	CriticalMoisturePct float64
}

// Cluster is an ephemeral group of spatially correlated high-risk sensors.
type Cluster struct {
	MemberIDs       []string
	CentroidLat     float64
	CentroidLon     float64
	AvgCompositeRisk float64
	MaxCompositeRisk float64
}

// EscalationEntry records one risk-level or confidence transition for an alert.
type EscalationEntry struct {
	Timestamp time.Time `json:"ts"`
	FromLevel RiskLevel `json:"from_level"`
	ToLevel   RiskLevel `json:"to_level"`
	Reason    string    `json:"reason"`
}

// ResolvedLocation is the best-effort human-readable location of an alert.
type ResolvedLocation struct {
	Label   string `json:"label"`
	Address string `json:"address,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Alert is a durable, escalatable notification of elevated landslide risk.
type Alert struct {
	AlertID   string      `json:"alert_id"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Status    AlertStatus `json:"status"`

	RiskLevel  RiskLevel `json:"risk_level"`
	Confidence float64   `json:"confidence"`

	LLMReasoning       string        `json:"llm_reasoning"`
	TriggerFactors     []string      `json:"trigger_factors"`
	RecommendedAction  string        `json:"recommended_action"`
	TimeToFailure      TimeToFailure `json:"time_to_failure"`
	Narrative          string        `json:"narrative,omitempty"`
	DetectionType      DetectionType `json:"detection_type"`
	SensorsAffected    []string      `json:"sensors_affected"`
	CenterLat          float64       `json:"center_lat"`
	CenterLon          float64       `json:"center_lon"`
	ResolvedLocation   *ResolvedLocation `json:"resolved_location,omitempty"`
	ZoneSnapshot       *HazardZone       `json:"zone_snapshot,omitempty"`
	EscalationHistory  []EscalationEntry `json:"escalation_history"`

	Expiry int64 `json:"expiry"`
}
